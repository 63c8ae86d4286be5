package broker

import (
	"context"
	"sync"

	"github.com/prefeitura-rio/app-medrec/internal/models"
)

// ResumeHandler carries out a suspended intent once its challenge succeeds.
// The returned value is exposed to the caller as the authorization result.
type ResumeHandler func(ctx context.Context, intent models.Intent, identity models.VerifiedIdentity) (any, error)

// PendingActionQueue holds at most one intent and its resume handler.
// Enrolling replaces the previous entry (last caller wins).
type PendingActionQueue struct {
	mu    sync.Mutex
	entry *pendingAction
}

type pendingAction struct {
	intent  models.Intent
	handler ResumeHandler
}

// NewPendingActionQueue creates an empty queue
func NewPendingActionQueue() *PendingActionQueue {
	return &PendingActionQueue{}
}

// Enroll stores intent and handler, silently dropping any previous entry.
// It reports whether an entry was replaced.
func (q *PendingActionQueue) Enroll(intent models.Intent, handler ResumeHandler) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	replaced := q.entry != nil
	q.entry = &pendingAction{intent: intent, handler: handler}
	return replaced
}

// Resolution is what a resume handler produced
type Resolution struct {
	Result any
	Err    error
}

// Resolve invokes the enrolled handler exactly once and empties the slot.
// With nothing enrolled it does nothing and reports false.
func (q *PendingActionQueue) Resolve(ctx context.Context, identity models.VerifiedIdentity) (Resolution, bool) {
	q.mu.Lock()
	entry := q.entry
	q.entry = nil
	q.mu.Unlock()

	if entry == nil {
		return Resolution{}, false
	}
	result, err := entry.handler(ctx, entry.intent, identity)
	return Resolution{Result: result, Err: err}, true
}

// Discard empties the slot without invoking the handler and reports whether
// anything was enrolled.
func (q *PendingActionQueue) Discard() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	discarded := q.entry != nil
	q.entry = nil
	return discarded
}

// pending returns the enrolled intent, if any
func (q *PendingActionQueue) pending() (models.Intent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.entry == nil {
		return models.Intent{}, false
	}
	return q.entry.intent, true
}
