package inventory

import (
	"context"

	"github.com/google/uuid"
)

// Drift is one station whose cached counters disagree with the bike records
// they project. The audit reports drift; it never rewrites counters.
type Drift struct {
	StationID        uuid.UUID `db:"station_id"`
	StationName      string    `db:"station_name"`
	CountedStandard  int       `db:"counted_standard"`
	CountedElectric  int       `db:"counted_electric"`
	RecordedStandard int       `db:"recorded_standard"`
	RecordedElectric int       `db:"recorded_electric"`
}

// Audit recomputes per-station availability from the bikes table and returns
// every station where the stored counters have drifted.
func (s *Store) Audit(ctx context.Context) ([]Drift, error) {
	var drift []Drift
	err := s.db.SelectContext(ctx, &drift, auditQuery)
	return drift, err
}

const auditQuery = `
SELECT s.id   AS station_id,
       s.name AS station_name,
       COUNT(b.id) FILTER (WHERE b.type = 'standard') AS counted_standard,
       COUNT(b.id) FILTER (WHERE b.type = 'electric') AS counted_electric,
       s.available_standard_bikes AS recorded_standard,
       s.available_electric_bikes AS recorded_electric
FROM stations s
LEFT JOIN bikes b ON b.station_id = s.id AND b.status = 'available'
GROUP BY s.id, s.name, s.available_standard_bikes, s.available_electric_bikes
HAVING COUNT(b.id) FILTER (WHERE b.type = 'standard') <> s.available_standard_bikes
    OR COUNT(b.id) FILTER (WHERE b.type = 'electric') <> s.available_electric_bikes
`
