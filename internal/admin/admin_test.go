package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/connection"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/dispatcher"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/session"
)

type stubLink struct{ id string }

func (l stubLink) ConnID() string { return l.id }
func (l stubLink) Close() error   { return nil }

func newTestServer(t *testing.T) (*Server, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(session.Options{})
	s := NewServer(registry, dispatcher.New(registry), connection.NewConnectionManager())
	return s, registry
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, registry := newTestServer(t)
	registry.Connect("c1", true, stubLink{id: "x"})

	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Sessions)
	assert.Equal(t, 0, body.Connections)
	assert.NotEmpty(t, body.Started)
}

func TestListAndGetClients(t *testing.T) {
	s, registry := newTestServer(t)
	link := stubLink{id: "x"}
	registry.Connect("b", false, link)
	registry.Connect("a", true, stubLink{id: "y"})
	_, err := registry.Subscribe("b", link, "sensors/#", 1)
	require.NoError(t, err)

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/clients/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Clients []session.Info `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Clients, 2)
	assert.Equal(t, "a", list.Clients[0].ClientID)
	assert.Equal(t, "b", list.Clients[1].ClientID)

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/clients/b", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info session.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.False(t, info.CleanSession)
	assert.Equal(t, map[string]byte{"sensors/#": 1}, info.Subscriptions)

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/clients/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var apiErr Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, ErrCodeNotFound, apiErr.Code)
}

func TestDeleteClient(t *testing.T) {
	s, registry := newTestServer(t)
	registry.Connect("c1", false, stubLink{id: "x"})

	rec := do(t, s.Handler(), http.MethodDelete, "/api/v1/clients/c1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := registry.Get("c1")
	assert.False(t, ok)

	rec = do(t, s.Handler(), http.MethodDelete, "/api/v1/clients/c1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublish(t *testing.T) {
	s, registry := newTestServer(t)
	link := stubLink{id: "x"}
	registry.Connect("sub", false, link)
	_, err := registry.Subscribe("sub", link, "a/+", 1)
	require.NoError(t, err)

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/publish", `{"topic":"a/b","payload":"hi","qos":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp PublishResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Delivered)
	assert.Equal(t, 1, registry.Stats().Queued)

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats session.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, 1, stats.Subscriptions)
}

func TestPublishRejectsInvalidInput(t *testing.T) {
	s, _ := newTestServer(t)
	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"topic":`, ErrCodeBadRequest},
		{"wildcard topic", `{"topic":"a/#","payload":"x"}`, ErrCodeValidation},
		{"empty topic", `{"topic":"","payload":"x"}`, ErrCodeValidation},
		{"qos 2", `{"topic":"a","payload":"x","qos":2}`, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s.Handler(), http.MethodPost, "/api/v1/publish", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var apiErr Error
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}
}

func TestConnectionsAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/connections", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"connections":[]}`, rec.Body.String())

	rec = do(t, s.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lifestream_mqtt_connections_total")
}

func TestServeAndShutdown(t *testing.T) {
	s, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Invoke(ctx))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
}
