package utils

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := NewMetricsCollector(reg)

	mc.IncrementRequests("GET", "/api/chat/conversations", 200)
	mc.IncrementRequests("POST", "/api/chat/send", 404)
	mc.MessageSent("channel")
	mc.MessageSent("channel")
	mc.FanoutDelivered("new_message", 2)
	mc.FanoutDelivered("new_message", 0)
	mc.SessionOpened()
	mc.SessionOpened()
	mc.SessionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.requests.WithLabelValues("POST", "/api/chat/send", "4xx")))
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.messagesSent.WithLabelValues("channel")))
	assert.Equal(t, 2.0, testutil.ToFloat64(mc.fanoutDelivered.WithLabelValues("new_message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.activeSessions))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetricsCollectorWithoutRegistry(t *testing.T) {
	mc := NewMetricsCollector(nil)
	assert.NotPanics(t, func() {
		mc.TypingSignal()
		mc.IncrementErrors(ErrInvalidInput)
	})
}
