package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/metrics"
)

var (
	ErrNoSession     = errors.New("session does not exist")
	ErrQueueOverflow = errors.New("outbound queue is full")
	ErrNotOwner      = errors.New("connection no longer owns the session")
)

// Link is the connection currently attached to a session.
type Link interface {
	ConnID() string
	Close() error
}

// Options bound the per-session queues and drive the QoS 1 retransmission schedule.
type Options struct {
	// MaxQueued bounds the outbound queue; 0 means 1024.
	MaxQueued int
	// MaxInflight bounds outstanding QoS 1 deliveries; 0 means no bound besides packet identifiers.
	MaxInflight int
	// QueueBlockTimeout is how long a QoS 1 publisher may wait for queue space; 0 never blocks.
	QueueBlockTimeout time.Duration
	// RetryInterval is the first retransmission delay; 0 disables timed retransmission.
	RetryInterval    time.Duration
	RetryMaxInterval time.Duration
	// MaxRetries caps retransmissions of one delivery; 0 means unlimited.
	MaxRetries int
}

func (o Options) withDefaults() Options {
	if o.MaxQueued <= 0 {
		o.MaxQueued = 1024
	}
	if o.RetryMaxInterval < o.RetryInterval {
		o.RetryMaxInterval = o.RetryInterval
	}
	return o
}

type Session struct {
	mu            sync.Mutex
	clientID      string
	clean         bool
	purged        bool
	subscriptions map[string]byte
	queue         []Delivery
	inflight      map[uint16]*PendingAck
	ids           *PacketIDManager
	link          Link
	wake          chan struct{}
	space         chan struct{}
	spaceWaiters  int
	seq           uint64
	opts          Options
	retry         *backoff.Backoff
	createdAt     time.Time
	disconnected  time.Time
}

func newSession(clientID string, clean bool, opts Options) *Session {
	return &Session{
		clientID:      clientID,
		clean:         clean,
		subscriptions: make(map[string]byte),
		inflight:      make(map[uint16]*PendingAck),
		ids:           NewPacketIDManager(),
		space:         make(chan struct{}),
		opts:          opts,
		retry: &backoff.Backoff{
			Min:    opts.RetryInterval,
			Max:    opts.RetryMaxInterval,
			Factor: 2,
		},
		createdAt: time.Now(),
	}
}

func (s *Session) ClientID() string {
	return s.clientID
}

func (s *Session) CleanSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clean
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link != nil
}

// Owns reports whether link is the connection currently attached to the session.
func (s *Session) Owns(link Link) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return link != nil && s.link == link
}

// Wake returns the channel signalled whenever the writer of link has work to do, or nil
// when link does not own the session.
func (s *Session) Wake(link Link) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if link == nil || s.link != link {
		return nil
	}
	return s.wake
}

// Subscriptions returns a snapshot of filter to granted QoS.
func (s *Session) Subscriptions() map[string]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[string]byte, len(s.subscriptions))
	for filter, qos := range s.subscriptions {
		snapshot[filter] = qos
	}
	return snapshot
}

// Enqueue appends a delivery to the outbound queue. When the queue is full the oldest QoS 0
// delivery is evicted; failing that, a QoS 0 newcomer is dropped, an offline session drops its
// oldest delivery, and a QoS 1 publisher to an online session waits up to QueueBlockTimeout.
func (s *Session) Enqueue(d Delivery) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		s.mu.Lock()
		if s.purged {
			s.mu.Unlock()
			return ErrNoSession
		}

		if len(s.queue) >= s.opts.MaxQueued && !s.evictOldestQoS0Locked() {
			switch {
			case d.QoS == 0:
				s.mu.Unlock()
				metrics.MessagesDropped.WithLabelValues(metrics.DropQueueFull).Inc()
				return ErrQueueOverflow
			case s.link == nil:
				dropped := s.queue[0]
				s.queue[0] = Delivery{}
				s.queue = s.queue[1:]
				metrics.MessagesDropped.WithLabelValues(metrics.DropQueueFull).Inc()
				logger.WarnF("[%s] Offline queue full, dropped oldest message on %s", s.clientID, dropped.Message.Topic)
			default:
				if s.opts.QueueBlockTimeout <= 0 {
					s.mu.Unlock()
					metrics.MessagesDropped.WithLabelValues(metrics.DropQueueFull).Inc()
					return ErrQueueOverflow
				}
				space := s.space
				s.spaceWaiters++
				s.mu.Unlock()

				if timer == nil {
					timer = time.NewTimer(s.opts.QueueBlockTimeout)
				}
				select {
				case <-space:
				case <-timer.C:
					s.mu.Lock()
					s.spaceWaiters--
					s.mu.Unlock()
					metrics.MessagesDropped.WithLabelValues(metrics.DropQueueFull).Inc()
					return ErrQueueOverflow
				}
				s.mu.Lock()
				s.spaceWaiters--
				s.mu.Unlock()
				continue
			}
		}

		s.queue = append(s.queue, d)
		s.signalLocked()
		s.mu.Unlock()
		return nil
	}
}

func (s *Session) evictOldestQoS0Locked() bool {
	for i, queued := range s.queue {
		if queued.QoS == 0 {
			copy(s.queue[i:], s.queue[i+1:])
			s.queue[len(s.queue)-1] = Delivery{}
			s.queue = s.queue[:len(s.queue)-1]
			metrics.MessagesDropped.WithLabelValues(metrics.DropQueueFull).Inc()
			logger.DebugF("[%s] Queue full, dropped oldest QoS 0 message on %s", s.clientID, queued.Message.Topic)
			return true
		}
	}
	return false
}

func (s *Session) signalLocked() {
	if s.wake == nil {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) notifySpaceLocked() {
	if s.spaceWaiters == 0 {
		return
	}
	close(s.space)
	s.space = make(chan struct{})
}

// Next pops the head of the outbound queue for the writer of link. A QoS 1 delivery gets a
// fresh packet identifier and becomes a PendingAck. It returns false when the queue is empty,
// the in-flight window is full, or link no longer owns the session.
func (s *Session) Next(link Link) (*Outbound, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link == nil || s.link != link || len(s.queue) == 0 {
		return nil, false
	}

	head := s.queue[0]
	out := &Outbound{Message: head.Message, QoS: head.QoS}

	if head.QoS > 0 {
		if s.opts.MaxInflight > 0 && len(s.inflight) >= s.opts.MaxInflight {
			return nil, false
		}
		id, err := s.ids.NextID()
		if err != nil {
			return nil, false
		}
		s.seq++
		pending := &PendingAck{
			PacketID: id,
			ClientID: s.clientID,
			Message:  head.Message,
			Attempts: 1,
			seq:      s.seq,
		}
		s.scheduleRetryLocked(pending, time.Now())
		s.inflight[id] = pending
		out.PacketID = id
	}

	s.queue[0] = Delivery{}
	s.queue = s.queue[1:]
	s.notifySpaceLocked()
	return out, true
}

func (s *Session) scheduleRetryLocked(pending *PendingAck, now time.Time) {
	if s.opts.RetryInterval <= 0 {
		pending.nextRetry = 0
		return
	}
	delay := s.retry.ForAttempt(float64(pending.Attempts - 1))
	pending.nextRetry = now.Add(delay).UnixNano()
}

// Ack completes the pending acknowledgement for packetID. Duplicate or unknown
// acknowledgements return false and change nothing.
func (s *Session) Ack(packetID uint16) (*PendingAck, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.inflight[packetID]
	if !ok {
		return nil, false
	}
	delete(s.inflight, packetID)
	s.ids.ReleaseID(packetID)
	s.signalLocked()
	return pending, true
}

// DueRetries returns the pending acknowledgements of link that must be re-sent now, oldest
// first, with DUP set. Deliveries that used up MaxRetries are dropped and returned as expired.
func (s *Session) DueRetries(link Link, now time.Time) ([]*Outbound, []*PendingAck) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link == nil || s.link != link || len(s.inflight) == 0 {
		return nil, nil
	}

	due := make([]*PendingAck, 0)
	for _, pending := range s.inflight {
		if pending.resend || (pending.nextRetry != 0 && pending.nextRetry <= now.UnixNano()) {
			due = append(due, pending)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })

	var out []*Outbound
	var expired []*PendingAck
	for _, pending := range due {
		if !pending.resend && s.opts.MaxRetries > 0 && pending.Attempts > s.opts.MaxRetries {
			delete(s.inflight, pending.PacketID)
			s.ids.ReleaseID(pending.PacketID)
			expired = append(expired, pending)
			continue
		}
		pending.resend = false
		pending.Attempts++
		s.scheduleRetryLocked(pending, now)
		out = append(out, &Outbound{
			PacketID: pending.PacketID,
			Message:  pending.Message,
			QoS:      1,
			Dup:      true,
		})
	}
	if len(expired) > 0 {
		s.signalLocked()
	}
	return out, expired
}

// attachLocked binds a new connection. Outstanding deliveries are marked for immediate
// retransmission and the writer is woken if anything is waiting.
func (s *Session) attachLocked(link Link) {
	s.link = link
	s.wake = make(chan struct{}, 1)
	s.disconnected = time.Time{}
	for _, pending := range s.inflight {
		pending.resend = true
	}
	if len(s.queue) > 0 || len(s.inflight) > 0 {
		s.wake <- struct{}{}
	}
}

func (s *Session) detachLocked() Link {
	link := s.link
	s.link = nil
	s.wake = nil
	s.disconnected = time.Now()
	s.notifySpaceLocked()
	return link
}

// purgeLocked discards all state; later operations on the session are no-ops.
func (s *Session) purgeLocked() {
	s.purged = true
	s.subscriptions = make(map[string]byte)
	s.queue = nil
	s.inflight = make(map[uint16]*PendingAck)
	s.ids.Reset()
	s.notifySpaceLocked()
}

// Info is a point-in-time view of a session for the admin interfaces.
type Info struct {
	ClientID       string          `json:"client_id"`
	Connected      bool            `json:"connected"`
	ConnID         string          `json:"conn_id,omitempty"`
	CleanSession   bool            `json:"clean_session"`
	Subscriptions  map[string]byte `json:"subscriptions"`
	Queued         int             `json:"queued"`
	Inflight       int             `json:"inflight"`
	CreatedAt      time.Time       `json:"created_at"`
	DisconnectedAt *time.Time      `json:"disconnected_at,omitempty"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ClientID:      s.clientID,
		Connected:     s.link != nil,
		CleanSession:  s.clean,
		Subscriptions: make(map[string]byte, len(s.subscriptions)),
		Queued:        len(s.queue),
		Inflight:      len(s.inflight),
		CreatedAt:     s.createdAt,
	}
	if s.link != nil {
		info.ConnID = s.link.ConnID()
	}
	if !s.disconnected.IsZero() {
		at := s.disconnected
		info.DisconnectedAt = &at
	}
	for filter, qos := range s.subscriptions {
		info.Subscriptions[filter] = qos
	}
	return info
}
