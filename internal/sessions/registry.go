// Package sessions keeps one authorization broker per client session.
package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/prefeitura-rio/app-medrec/internal/broker"
	"github.com/prefeitura-rio/app-medrec/internal/logging"
	"github.com/prefeitura-rio/app-medrec/internal/observability"
	"go.uber.org/zap"
)

// MaxSessionIDLength bounds the session identifiers accepted from clients
const MaxSessionIDLength = 128

// ErrInvalidSessionID is returned for an empty or malformed session ID
var ErrInvalidSessionID = errors.New("invalid session id")

// Factory builds the broker of a new session
type Factory func(sessionID string) *broker.Broker

type session struct {
	broker   *broker.Broker
	lastSeen time.Time
}

// Registry maps session IDs to brokers. Sessions idle for longer than the
// idle TTL are evicted and their open challenge discarded.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	factory  Factory
	idleTTL  time.Duration
	logger   *logging.SafeLogger
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRegistry creates an empty registry
func NewRegistry(factory Factory, idleTTL time.Duration, logger *logging.SafeLogger) *Registry {
	return &Registry{
		sessions: make(map[string]*session),
		factory:  factory,
		idleTTL:  idleTTL,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// ValidSessionID reports whether id may be used as a session key
func ValidSessionID(id string) bool {
	if id == "" || len(id) > MaxSessionIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// Get returns the broker of sessionID, creating it on first use
func (r *Registry) Get(sessionID string) (*broker.Broker, error) {
	if !ValidSessionID(sessionID) {
		return nil, ErrInvalidSessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = &session{broker: r.factory(sessionID)}
		r.sessions[sessionID] = s
		observability.ActiveSessions.Set(float64(len(r.sessions)))
		r.logger.Debug("session created", zap.String("session_id", sessionID))
	}
	s.lastSeen = r.now()
	return s.broker, nil
}

// Remove closes and forgets a session
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
		observability.ActiveSessions.Set(float64(len(r.sessions)))
	}
	r.mu.Unlock()

	if ok {
		s.broker.Close()
	}
	return ok
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CleanupIdle evicts every session not used within the idle TTL and returns
// how many were evicted.
func (r *Registry) CleanupIdle() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var evicted []*session
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, s)
			r.logger.Debug("evicting idle session",
				zap.String("session_id", id),
				zap.Time("last_seen", s.lastSeen))
		}
	}
	observability.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	for _, s := range evicted {
		s.broker.Close()
	}
	if len(evicted) > 0 {
		r.logger.Info("idle sessions evicted", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

// StartCleanup runs CleanupIdle every interval until Stop
func (r *Registry) StartCleanup(interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.CleanupIdle()
			}
		}
	}()
}

// Stop ends the cleanup loop and closes every session
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()

	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*session)
	observability.ActiveSessions.Set(0)
	r.mu.Unlock()

	for _, s := range all {
		s.broker.Close()
	}
}
