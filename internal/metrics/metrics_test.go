package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAreLabelled(t *testing.T) {
	before := testutil.ToFloat64(WebhookEvents.WithLabelValues("card", "succeeded"))
	WebhookEvents.WithLabelValues("card", "succeeded").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(WebhookEvents.WithLabelValues("card", "succeeded")))

	SweepDuration.WithLabelValues("events").Observe(0.2)
	assert.Equal(t, 1, testutil.CollectAndCount(SweepDuration))
}
