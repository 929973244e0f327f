package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/dispatcher"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/session"
)

type stubLink struct{ id string }

func (l stubLink) ConnID() string { return l.id }
func (l stubLink) Close() error   { return nil }

func setupAdmin(t *testing.T) (*AdminClient, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry(session.Options{})
	lis := bufconn.Listen(1024 * 1024)
	s := NewServer(NewService(registry, dispatcher.New(registry)))
	go func() {
		if err := s.Serve(lis); err != nil {
			t.Logf("server stopped: %v", err)
		}
	}()
	t.Cleanup(func() { s.Stop() })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewAdminClient(conn), registry
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestListClients(t *testing.T) {
	client, registry := setupAdmin(t)
	link := stubLink{id: "x"}
	registry.Connect("device-2", false, link)
	registry.Connect("device-1", true, stubLink{id: "y"})
	_, err := registry.Subscribe("device-2", link, "control/#", 1)
	require.NoError(t, err)

	resp, err := client.ListClients(testContext(t), &ListClientsRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Clients, 2)
	assert.Equal(t, "device-1", resp.Clients[0].ClientID)
	assert.True(t, resp.Clients[0].CleanSession)
	assert.Equal(t, "device-2", resp.Clients[1].ClientID)
	assert.Equal(t, map[string]byte{"control/#": 1}, resp.Clients[1].Subscriptions)
}

func TestPublishDelivers(t *testing.T) {
	client, registry := setupAdmin(t)
	link := stubLink{id: "x"}
	registry.Connect("device", false, link)
	_, err := registry.Subscribe("device", link, "control/switch", 0)
	require.NoError(t, err)

	resp, err := client.Publish(testContext(t), &PublishRequest{Topic: "control/switch", Payload: []byte("ON"), QoS: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.Delivered)

	sess, ok := registry.Get("device")
	require.True(t, ok)
	out, ok := sess.Next(link)
	require.True(t, ok)
	assert.Equal(t, []byte("ON"), out.Message.Payload)
	assert.EqualValues(t, 0, out.QoS)
	assert.Equal(t, "rpc", out.Message.Sender)
}

func TestPublishInvalidArgument(t *testing.T) {
	client, _ := setupAdmin(t)

	_, err := client.Publish(testContext(t), &PublishRequest{Topic: "a/+", Payload: []byte("x")})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Publish(testContext(t), &PublishRequest{Topic: "a", QoS: 2})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestDisconnectClient(t *testing.T) {
	client, registry := setupAdmin(t)
	registry.Connect("device", false, stubLink{id: "x"})

	resp, err := client.DisconnectClient(testContext(t), &DisconnectClientRequest{ClientID: "device"})
	require.NoError(t, err)
	assert.True(t, resp.Status)
	_, ok := registry.Get("device")
	assert.False(t, ok)

	_, err = client.DisconnectClient(testContext(t), &DisconnectClientRequest{ClientID: "device"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.DisconnectClient(testContext(t), &DisconnectClientRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
