package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectorsWithoutPanicking(t *testing.T) {
	r := New()
	r.QueueDepth.Set(3)
	r.DeadLetterCount.Set(1)
	r.PendingVectorDeletes.Set(0)
	r.RequestsTotal.WithLabelValues("/health", "GET", "200").Inc()
	r.RequestDuration.WithLabelValues("/health", "GET", "200").Observe(0.01)
	r.RollupsTotal.WithLabelValues("daily").Add(2)

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
