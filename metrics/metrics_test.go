package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, HTTPRequests)
	assert.NotNil(t, HTTPRequestDuration)
	assert.NotNil(t, PanicsRecovered)
	assert.NotNil(t, AntiforgeryRejections)
	assert.NotNil(t, OutboundRequests)
	assert.NotNil(t, FeedPolls)
	assert.NotNil(t, LiveClients)
}

func TestCounterIncrements(t *testing.T) {
	before := testutil.ToFloat64(FeedPolls.WithLabelValues("ok"))
	FeedPolls.WithLabelValues("ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(FeedPolls.WithLabelValues("ok")))
}
