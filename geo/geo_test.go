package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceIdenticalPoints(t *testing.T) {
	assert.Zero(t, Distance(53.3498, -6.2603, 53.3498, -6.2603))
}

func TestDistanceSymmetric(t *testing.T) {
	ab := Distance(53.3498, -6.2603, 51.5074, -0.1278)
	ba := Distance(51.5074, -0.1278, 53.3498, -6.2603)
	assert.Equal(t, ab, ba)
}

func TestDistanceKnownValue(t *testing.T) {
	// Dublin city centre to London, roughly 464 km as the crow flies.
	d := Distance(53.3498, -6.2603, 51.5074, -0.1278)
	assert.InDelta(t, 464000, d, 2000)
}

func TestDistanceShortHop(t *testing.T) {
	// Two docks a few hundred metres apart should come out in that range.
	d := Distance(53.3498, -6.2603, 53.3522, -6.2588)
	assert.Greater(t, d, 200.0)
	assert.Less(t, d, 400.0)
}
