package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAreExported(t *testing.T) {
	before := testutil.ToFloat64(MessagesDropped.WithLabelValues(DropQueueFull))
	MessagesDropped.WithLabelValues(DropQueueFull).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(MessagesDropped.WithLabelValues(DropQueueFull)))

	ConnectionsTotal.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "lifestream_mqtt_connections_total")
	assert.Contains(t, string(body), `lifestream_mqtt_messages_dropped_total{reason="queue_full"}`)
}
