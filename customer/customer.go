package customer

import (
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SubscriptionPlan is the customer's tariff tier. It is parsed once when the
// record is scanned out of the database; everything downstream works with the
// enum, never with the raw string.
type SubscriptionPlan int

const (
	PlanStandard SubscriptionPlan = iota
	PlanPremium
)

func (p SubscriptionPlan) String() string {
	return [...]string{"standard", "premium"}[p]
}

func (p SubscriptionPlan) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *SubscriptionPlan) Scan(i any) error {
	switch v := i.(type) {
	case string:
		switch v {
		case "standard":
			*p = PlanStandard
			return nil
		case "premium":
			*p = PlanPremium
			return nil
		}
	}
	panic("invalid scan type")
}

type Customer struct {
	ID        uuid.UUID
	Auth0ID   string           `db:"auth0_id"`
	StripeID  sql.NullString   `db:"stripe_id"`
	Email     sql.NullString   `db:"email"`
	Name      sql.NullString   `db:"name"`
	Plan      SubscriptionPlan `db:"plan"`
	CreatedAt time.Time        `db:"created_at"`
}
