package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s *Session, link Link) []*Outbound {
	t.Helper()
	var out []*Outbound
	for {
		next, ok := s.Next(link)
		if !ok {
			return out
		}
		out = append(out, next)
	}
}

func TestSessionQoS1PendingAck(t *testing.T) {
	r := NewRegistry(Options{})
	link := newFakeLink("c1")
	s, _ := r.Connect("client", true, link)

	require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 1, "one"), QoS: 1}))
	out, ok := s.Next(link)
	require.True(t, ok)
	assert.NotZero(t, out.PacketID)
	assert.EqualValues(t, 1, out.QoS)
	assert.False(t, out.Dup)
	assert.Equal(t, 1, s.Info().Inflight)

	pending, ok := s.Ack(out.PacketID)
	require.True(t, ok)
	assert.Equal(t, "one", string(pending.Message.Payload))
	assert.Equal(t, "client", pending.ClientID)
	assert.Equal(t, 0, s.Info().Inflight)

	_, ok = s.Ack(out.PacketID)
	assert.False(t, ok, "duplicate acknowledgement must be ignored")
	_, ok = s.Ack(4242)
	assert.False(t, ok)
}

func TestSessionQoS0HasNoPacketID(t *testing.T) {
	r := NewRegistry(Options{})
	link := newFakeLink("c1")
	s, _ := r.Connect("client", true, link)

	require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 0, "zero")}))
	out, ok := s.Next(link)
	require.True(t, ok)
	assert.Zero(t, out.PacketID)
	assert.Equal(t, 0, s.Info().Inflight)
}

func TestSessionPacketIDsUniqueWhileOutstanding(t *testing.T) {
	r := NewRegistry(Options{})
	link := newFakeLink("c1")
	s, _ := r.Connect("client", true, link)

	for i := 0; i < 100; i++ {
		require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 1, "m"), QoS: 1}))
	}
	seen := make(map[uint16]bool)
	for _, out := range drain(t, s, link) {
		assert.False(t, seen[out.PacketID])
		seen[out.PacketID] = true
	}
	assert.Len(t, seen, 100)
}

func TestSessionOfflineQueueFlushedInOrder(t *testing.T) {
	r := NewRegistry(Options{})
	first := newFakeLink("c1")
	s, _ := r.Connect("client", false, first)
	r.Disconnect("client", first, true)

	for _, payload := range []string{"1", "2", "3", "4"} {
		qos := byte(len(payload) % 2)
		require.NoError(t, s.Enqueue(Delivery{Message: msg("a", qos, payload), QoS: qos}))
	}
	_, ok := s.Next(first)
	assert.False(t, ok, "a detached connection must not drain the queue")

	second := newFakeLink("c2")
	resumed, present := r.Connect("client", false, second)
	require.True(t, present)

	select {
	case <-resumed.Wake(second):
	default:
		t.Fatal("resumed session with queued messages must wake its writer")
	}

	var payloads []string
	for _, out := range drain(t, resumed, second) {
		payloads = append(payloads, string(out.Message.Payload))
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, payloads)
}

func TestSessionInflightWindow(t *testing.T) {
	r := NewRegistry(Options{MaxInflight: 2})
	link := newFakeLink("c1")
	s, _ := r.Connect("client", true, link)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 1, "m"), QoS: 1}))
	}
	out := drain(t, s, link)
	require.Len(t, out, 2)
	assert.Equal(t, 1, s.Info().Queued)

	_, ok := s.Ack(out[0].PacketID)
	require.True(t, ok)
	assert.Len(t, drain(t, s, link), 1)
}

func TestSessionQueueFullEvictsOldestQoS0(t *testing.T) {
	r := NewRegistry(Options{MaxQueued: 3})
	link := newFakeLink("c1")
	s, _ := r.Connect("client", true, link)

	require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 1, "q1-a"), QoS: 1}))
	require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 0, "q0-b")}))
	require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 0, "q0-c")}))
	require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 0, "q0-d")}))

	var payloads []string
	for _, out := range drain(t, s, link) {
		payloads = append(payloads, string(out.Message.Payload))
	}
	assert.Equal(t, []string{"q1-a", "q0-c", "q0-d"}, payloads)
}

func TestSessionQueueFullOfQoS1(t *testing.T) {
	r := NewRegistry(Options{MaxQueued: 2, QueueBlockTimeout: 20 * time.Millisecond})
	link := newFakeLink("c1")
	s, _ := r.Connect("client", true, link)

	require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 1, "1"), QoS: 1}))
	require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 1, "2"), QoS: 1}))

	assert.ErrorIs(t, s.Enqueue(Delivery{Message: msg("a", 0, "dropped")}), ErrQueueOverflow)

	started := time.Now()
	assert.ErrorIs(t, s.Enqueue(Delivery{Message: msg("a", 1, "blocked"), QoS: 1}), ErrQueueOverflow)
	assert.GreaterOrEqual(t, time.Since(started), 20*time.Millisecond)
}

func TestSessionBlockedPublisherResumesWhenWriterDrains(t *testing.T) {
	r := NewRegistry(Options{MaxQueued: 1, QueueBlockTimeout: 5 * time.Second})
	link := newFakeLink("c1")
	s, _ := r.Connect("client", true, link)

	require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 1, "1"), QoS: 1}))

	done := make(chan error, 1)
	go func() {
		done <- s.Enqueue(Delivery{Message: msg("a", 1, "2"), QoS: 1})
	}()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.spaceWaiters == 1
	}, time.Second, time.Millisecond)

	first, ok := s.Next(link)
	require.True(t, ok)
	assert.Equal(t, "1", string(first.Message.Payload))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked publisher was not released")
	}
	second, ok := s.Next(link)
	require.True(t, ok)
	assert.Equal(t, "2", string(second.Message.Payload))
}

func TestSessionOfflineQueueDropsOldest(t *testing.T) {
	r := NewRegistry(Options{MaxQueued: 2, QueueBlockTimeout: time.Second})
	link := newFakeLink("c1")
	s, _ := r.Connect("client", false, link)
	r.Disconnect("client", link, false)

	for _, payload := range []string{"1", "2", "3"} {
		require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 1, payload), QoS: 1}))
	}

	next := newFakeLink("c2")
	_, _ = r.Connect("client", false, next)
	var payloads []string
	for _, out := range drain(t, s, next) {
		payloads = append(payloads, string(out.Message.Payload))
	}
	assert.Equal(t, []string{"2", "3"}, payloads)
}

func TestSessionRetransmitsOnResume(t *testing.T) {
	r := NewRegistry(Options{})
	first := newFakeLink("c1")
	s, _ := r.Connect("client", false, first)

	require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 1, "m"), QoS: 1}))
	out, ok := s.Next(first)
	require.True(t, ok)

	retries, _ := s.DueRetries(first, time.Now())
	assert.Empty(t, retries, "timed retransmission is disabled")

	r.Disconnect("client", first, true)
	assert.Equal(t, 1, s.Info().Inflight, "pending acknowledgements survive for persistent sessions")

	second := newFakeLink("c2")
	_, _ = r.Connect("client", false, second)
	retries, expired := s.DueRetries(second, time.Now())
	assert.Empty(t, expired)
	require.Len(t, retries, 1)
	assert.Equal(t, out.PacketID, retries[0].PacketID)
	assert.True(t, retries[0].Dup)

	retries, _ = s.DueRetries(second, time.Now())
	assert.Empty(t, retries)
}

func TestSessionTimedRetransmission(t *testing.T) {
	r := NewRegistry(Options{RetryInterval: time.Second, RetryMaxInterval: 4 * time.Second, MaxRetries: 2})
	link := newFakeLink("c1")
	s, _ := r.Connect("client", true, link)

	require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 1, "m"), QoS: 1}))
	_, ok := s.Next(link)
	require.True(t, ok)

	now := time.Now()
	retries, _ := s.DueRetries(link, now)
	assert.Empty(t, retries)

	now = now.Add(1100 * time.Millisecond)
	retries, _ = s.DueRetries(link, now)
	require.Len(t, retries, 1)
	assert.True(t, retries[0].Dup)

	// The second delay doubles.
	retries, _ = s.DueRetries(link, now.Add(1500*time.Millisecond))
	assert.Empty(t, retries)
	now = now.Add(2100 * time.Millisecond)
	retries, _ = s.DueRetries(link, now)
	require.Len(t, retries, 1)

	now = now.Add(5 * time.Second)
	retries, expired := s.DueRetries(link, now)
	assert.Empty(t, retries)
	require.Len(t, expired, 1)
	assert.Equal(t, 0, s.Info().Inflight)
}

func TestSessionWakeOnlyForOwner(t *testing.T) {
	r := NewRegistry(Options{})
	link := newFakeLink("c1")
	s, _ := r.Connect("client", true, link)

	assert.Nil(t, s.Wake(newFakeLink("other")))
	wake := s.Wake(link)
	require.NotNil(t, wake)

	require.NoError(t, s.Enqueue(Delivery{Message: msg("a", 0, "m")}))
	select {
	case <-wake:
	default:
		t.Fatal("enqueue must wake the writer")
	}
}
