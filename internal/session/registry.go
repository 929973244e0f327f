package session

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/topic"
)

const (
	matchCacheSize = 4096
	matchCacheTTL  = 5 * time.Minute
)

// Target is one session in the delivery set of a topic with the highest QoS granted by any
// of its matching subscriptions.
type Target struct {
	Session *Session
	QoS     byte
}

// Registry maps client identifiers to sessions. Lock order is registry before session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     Options

	cacheMu    sync.Mutex
	cache      *expirable.LRU[string, []Target]
	generation uint64
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts.withDefaults(),
		cache:    expirable.NewLRU[string, []Target](matchCacheSize, nil, matchCacheTTL),
	}
}

// Connect registers link as the owner of clientID's session. An existing connection for the
// same identifier is closed. The previous session state is reused only when both the old and
// the new connection asked for a persistent session; the returned flag reports that.
func (r *Registry) Connect(clientID string, clean bool, link Link) (*Session, bool) {
	r.mu.Lock()

	var kicked Link
	var s *Session
	present := false

	if old, ok := r.sessions[clientID]; ok {
		old.mu.Lock()
		kicked = old.detachLocked()
		if clean || old.clean {
			old.purgeLocked()
		} else {
			old.attachLocked(link)
			s = old
			present = true
		}
		old.mu.Unlock()
	}

	if s == nil {
		s = newSession(clientID, clean, r.opts)
		s.mu.Lock()
		s.attachLocked(link)
		s.mu.Unlock()
		r.sessions[clientID] = s
	}
	r.mu.Unlock()

	r.invalidate()

	if kicked != nil && kicked != link {
		metrics.SessionTakeovers.Inc()
		logger.InfoF("[%s] Session taken over, closing connection %s", clientID, kicked.ConnID())
		if err := kicked.Close(); err != nil {
			logger.DebugF("[%s] Closing replaced connection: %v", clientID, err)
		}
	}
	return s, present
}

// Disconnect detaches link from clientID's session. Clean sessions are purged together with
// their subscriptions and pending acknowledgements. Calls from a connection that was already
// replaced by a takeover change nothing. It reports whether the session was purged.
func (r *Registry) Disconnect(clientID string, link Link, abnormal bool) bool {
	r.mu.Lock()
	s, ok := r.sessions[clientID]
	if !ok {
		r.mu.Unlock()
		return false
	}

	s.mu.Lock()
	if link == nil || s.link != link {
		s.mu.Unlock()
		r.mu.Unlock()
		return false
	}
	s.detachLocked()
	purge := s.clean
	if purge {
		s.purgeLocked()
		delete(r.sessions, clientID)
	}
	s.mu.Unlock()
	r.mu.Unlock()

	if purge {
		r.invalidate()
	}
	if abnormal {
		logger.InfoF("[%s] Connection %s lost, session purged: %t", clientID, link.ConnID(), purge)
	} else {
		logger.DebugF("[%s] Connection %s disconnected, session purged: %t", clientID, link.ConnID(), purge)
	}
	return purge
}

func (r *Registry) owned(clientID string, link Link) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[clientID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNoSession
	}
	if !s.Owns(link) {
		return nil, ErrNotOwner
	}
	return s, nil
}

// Subscribe adds or replaces a subscription and returns the granted QoS, which never
// exceeds 1.
func (r *Registry) Subscribe(clientID string, link Link, filter string, qos byte) (byte, error) {
	if err := topic.ValidateFilter(filter); err != nil {
		return 0, err
	}
	s, err := r.owned(clientID, link)
	if err != nil {
		return 0, err
	}

	granted := min(qos, 1)
	s.mu.Lock()
	if s.purged {
		s.mu.Unlock()
		return 0, ErrNoSession
	}
	s.subscriptions[filter] = granted
	s.mu.Unlock()

	r.invalidate()
	return granted, nil
}

// Unsubscribe removes a subscription. Removing an absent filter is not an error.
func (r *Registry) Unsubscribe(clientID string, link Link, filter string) error {
	s, err := r.owned(clientID, link)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, existed := s.subscriptions[filter]
	delete(s.subscriptions, filter)
	s.mu.Unlock()

	if existed {
		r.invalidate()
	}
	return nil
}

// SessionsMatching returns every session with at least one subscription matching topicName.
// Each session appears once with the maximum QoS among its matching subscriptions.
func (r *Registry) SessionsMatching(topicName string) []Target {
	r.cacheMu.Lock()
	if targets, ok := r.cache.Get(topicName); ok {
		r.cacheMu.Unlock()
		return targets
	}
	generation := r.generation
	r.cacheMu.Unlock()

	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	targets := make([]Target, 0)
	for _, s := range snapshot {
		best, matched := byte(0), false
		for filter, qos := range s.Subscriptions() {
			if topic.Matches(filter, topicName) && (!matched || qos > best) {
				best, matched = qos, true
			}
		}
		if matched {
			targets = append(targets, Target{Session: s, QoS: best})
		}
	}

	r.cacheMu.Lock()
	if r.generation == generation {
		r.cache.Add(topicName, targets)
	}
	r.cacheMu.Unlock()
	return targets
}

func (r *Registry) invalidate() {
	r.cacheMu.Lock()
	r.generation++
	r.cache.Purge()
	r.cacheMu.Unlock()
}

func (r *Registry) Get(clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[clientID]
	return s, ok
}

// Purge removes a session regardless of its clean-session flag and closes its connection.
func (r *Registry) Purge(clientID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[clientID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	s.mu.Lock()
	link := s.detachLocked()
	s.purgeLocked()
	s.mu.Unlock()
	delete(r.sessions, clientID)
	r.mu.Unlock()

	r.invalidate()
	if link != nil {
		if err := link.Close(); err != nil {
			logger.DebugF("[%s] Closing purged connection: %v", clientID, err)
		}
	}
	return true
}

// ExpireOffline purges retained sessions that have been disconnected for longer than maxAge.
func (r *Registry) ExpireOffline(maxAge time.Duration, now time.Time) []string {
	if maxAge <= 0 {
		return nil
	}

	r.mu.Lock()
	expired := make([]string, 0)
	for clientID, s := range r.sessions {
		s.mu.Lock()
		if s.link == nil && !s.disconnected.IsZero() && now.Sub(s.disconnected) > maxAge {
			s.purgeLocked()
			delete(r.sessions, clientID)
			expired = append(expired, clientID)
		}
		s.mu.Unlock()
	}
	r.mu.Unlock()

	if len(expired) > 0 {
		r.invalidate()
	}
	sort.Strings(expired)
	return expired
}

// List returns the state of every session sorted by client identifier.
func (r *Registry) List() []Info {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(snapshot))
	for _, s := range snapshot {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ClientID < infos[j].ClientID })
	return infos
}

type Stats struct {
	Sessions      int `json:"sessions"`
	Connected     int `json:"connected"`
	Subscriptions int `json:"subscriptions"`
	Queued        int `json:"queued"`
	Inflight      int `json:"inflight"`
}

func (r *Registry) Stats() Stats {
	var stats Stats
	for _, info := range r.List() {
		stats.Sessions++
		if info.Connected {
			stats.Connected++
		}
		stats.Subscriptions += len(info.Subscriptions)
		stats.Queued += info.Queued
		stats.Inflight += info.Inflight
	}
	return stats
}
