package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prefeitura-rio/app-medrec/internal/logging"
	"github.com/prefeitura-rio/app-medrec/internal/models"
	"github.com/prefeitura-rio/app-medrec/internal/observability"
	"go.uber.org/zap"
)

// Outcome is the broker-level result of a challenge
type Outcome string

const (
	OutcomePending    Outcome = "PENDING"
	OutcomeAuthorized Outcome = "AUTHORIZED"
	OutcomeDenied     Outcome = "DENIED"
	OutcomeDiscarded  Outcome = "DISCARDED"
)

// Reasons attached to terminal events
const (
	ReasonVerified     = "verified"
	ReasonRoleMismatch = "role_mismatch"
	ReasonCancelled    = "cancelled"
	ReasonReplaced     = "replaced"
	ReasonClosed       = "closed"
)

const (
	DefaultResendCooldown     = 60 * time.Second
	DefaultCountryCallingCode = "225"
)

// ErrNilHandler is returned when an intent is enrolled without a handler
var ErrNilHandler = errors.New("resume handler is required")

// Event describes a challenge reaching a terminal outcome
type Event struct {
	SessionID   string
	ChallengeID string
	Intent      models.Intent
	Outcome     Outcome
	Reason      string
	PhoneNumber string
	Identity    *models.VerifiedIdentity
	ResumeErr   error
	At          time.Time
}

// Config holds the broker settings. OnOutcome is called with the broker
// lock held; it must not block or call back into the broker.
type Config struct {
	SessionID          string
	ResendCooldown     time.Duration
	DefaultCountryCode string
	OnOutcome          func(Event)
}

// Snapshot is the caller-facing view of the current challenge
type Snapshot struct {
	ChallengeID              string             `json:"challenge_id"`
	Kind                     models.IntentKind  `json:"kind"`
	SubjectID                string             `json:"subject_id"`
	Step                     Step               `json:"step"`
	Outcome                  Outcome            `json:"outcome"`
	PhoneNumber              string             `json:"phone_number"`
	PhoneDisplay             string             `json:"phone_display,omitempty"`
	AttemptCode              [CodeLength]string `json:"attempt_code"`
	Focus                    int                `json:"focus"`
	CooldownRemainingSeconds int                `json:"cooldown_remaining_seconds"`
	CanResend                bool               `json:"can_resend"`
	InFlight                 bool               `json:"in_flight"`
	LastError                *ChallengeError    `json:"last_error,omitempty"`
	Result                   any                `json:"result,omitempty"`
	ResumeError              string             `json:"resume_error,omitempty"`
}

// Broker is the single entry point for step-up authorization. It holds at
// most one challenge and one pending intent. Every channel call is tagged
// with the generation it started in; a response arriving after the challenge
// was replaced, cancelled or sent back to phone entry is dropped.
type Broker struct {
	channel OtpChannel
	cfg     Config
	queue   *PendingActionQueue

	mu        sync.Mutex
	current   *challenge
	outcome   Outcome
	result    any
	resumeErr error
	gen       uint64

	cooldownRun  uint64
	stopCooldown func()

	newID     func() string
	newTicker func(time.Duration) (<-chan time.Time, func())
}

// NewBroker creates an idle broker
func NewBroker(channel OtpChannel, cfg Config) *Broker {
	if cfg.ResendCooldown < time.Second {
		cfg.ResendCooldown = DefaultResendCooldown
	}
	if cfg.DefaultCountryCode == "" {
		cfg.DefaultCountryCode = DefaultCountryCallingCode
	}
	return &Broker{
		channel: channel,
		cfg:     cfg,
		queue:   NewPendingActionQueue(),
		newID:   uuid.NewString,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

func (b *Broker) logger() *logging.SafeLogger {
	l := observability.Logger().With(zap.String("component", "authorization_broker"))
	if b.cfg.SessionID != "" {
		l = l.With(zap.String("session_id", b.cfg.SessionID))
	}
	if b.current != nil {
		l = l.With(zap.String("challenge_id", b.current.id))
	}
	return l
}

// RequestAuthorization suspends intent and opens a fresh challenge, seeded
// with seedPhone when known. An open challenge is discarded and its intent
// dropped without running its handler.
func (b *Broker) RequestAuthorization(intent models.Intent, handler ResumeHandler, seedPhone string) (Snapshot, error) {
	if handler == nil {
		return Snapshot{}, ErrNilHandler
	}
	if err := intent.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("invalid intent: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopCooldownLocked()
	b.gen++

	if b.current != nil && b.outcome == OutcomePending {
		b.emitLocked(OutcomeDiscarded, ReasonReplaced)
	}
	if b.queue.Enroll(intent, handler) {
		observability.IntentReplacements.Inc()
	}

	cooldownSecs := int(b.cfg.ResendCooldown / time.Second)
	b.current = newChallenge(b.newID(), intent, seedPhone, cooldownSecs, b.cfg.DefaultCountryCode)
	b.outcome = OutcomePending
	b.result = nil
	b.resumeErr = nil

	observability.ChallengesOpened.WithLabelValues(string(intent.Kind)).Inc()
	b.logger().Info("authorization challenge opened",
		zap.String("kind", string(intent.Kind)),
		zap.String("subject_id", intent.SubjectID),
		zap.Bool("phone_seeded", seedPhone != ""))

	return b.snapshotLocked(), nil
}

// Snapshot returns the state of the current challenge
func (b *Broker) Snapshot() (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return Snapshot{}, ErrNoChallenge
	}
	return b.snapshotLocked(), nil
}

// SubmitPhone replaces the phone number while in phone entry
func (b *Broker) SubmitPhone(phoneNumber string) (Snapshot, error) {
	return b.mutate(func(c *challenge) error { return c.setPhone(phoneNumber) })
}

// SubmitDigit edits a single code slot
func (b *Broker) SubmitDigit(index int, value string) (Snapshot, error) {
	return b.mutate(func(c *challenge) error { return c.setDigit(index, value) })
}

// SubmitPaste fills the code slots from pasted text
func (b *Broker) SubmitPaste(text string) (Snapshot, error) {
	return b.mutate(func(c *challenge) error { return c.paste(text) })
}

// Back returns to phone entry, abandoning the issued code and any call in
// flight.
func (b *Broker) Back() (Snapshot, error) {
	return b.mutate(func(c *challenge) error {
		if err := c.back(); err != nil {
			return err
		}
		b.gen++
		b.stopCooldownLocked()
		return nil
	})
}

func (b *Broker) mutate(fn func(c *challenge) error) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.openLocked()
	if err != nil {
		return b.snapshotLocked(), err
	}
	err = fn(c)
	return b.snapshotLocked(), err
}

// Send asks the channel to deliver a code to the entered phone number. An
// invalid number is rejected without calling the channel.
func (b *Broker) Send(ctx context.Context) (Snapshot, error) {
	return b.send(ctx, "send", (*challenge).beginSend, (*challenge).completeSend)
}

// Resend requests a new code once the cooldown has run out. The step does
// not change.
func (b *Broker) Resend(ctx context.Context) (Snapshot, error) {
	return b.send(ctx, "resend", (*challenge).beginResend, (*challenge).completeResend)
}

func (b *Broker) send(
	ctx context.Context,
	op string,
	begin func(*challenge) (string, error),
	complete func(*challenge, string, error) error,
) (Snapshot, error) {
	b.mu.Lock()
	c, err := b.openLocked()
	if err != nil {
		defer b.mu.Unlock()
		return b.snapshotLocked(), err
	}
	phone, err := begin(c)
	if err != nil {
		if errors.Is(err, ErrInvalidPhone) {
			observability.OTPSends.WithLabelValues("invalid_phone").Inc()
		}
		defer b.mu.Unlock()
		return b.snapshotLocked(), err
	}
	gen := b.gen
	b.mu.Unlock()

	token, sendErr := b.channel.SendCode(ctx, phone)

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isCurrentLocked(c, gen) {
		b.logger().Debug("dropping stale send response", zap.String("operation", op))
		return b.snapshotLocked(), nil
	}
	return b.finishSendLocked(c, complete(c, token, sendErr), op)
}

func (b *Broker) finishSendLocked(c *challenge, err error, op string) (Snapshot, error) {
	if err != nil {
		observability.OTPSends.WithLabelValues("failure").Inc()
		b.logger().Warn("otp send failed",
			zap.String("operation", op),
			zap.String("phone", observability.MaskPhone(c.phoneNumber())),
			zap.String("reason", err.Error()))
		return b.snapshotLocked(), err
	}
	observability.OTPSends.WithLabelValues("success").Inc()
	b.startCooldownLocked(c)
	b.logger().Info("otp sent",
		zap.String("operation", op),
		zap.String("phone", observability.MaskPhone(c.phoneNumber())))
	return b.snapshotLocked(), nil
}

// Verify submits the entered code. On success the verified identity must
// hold the role the intent requires; only then is the intent resumed. The
// resume handler runs with the broker lock held.
func (b *Broker) Verify(ctx context.Context) (Snapshot, error) {
	b.mu.Lock()
	c, err := b.openLocked()
	if err != nil {
		defer b.mu.Unlock()
		return b.snapshotLocked(), err
	}
	phone, code, err := c.beginVerify()
	if err != nil {
		if errors.Is(err, ErrIncompleteCode) {
			observability.OTPVerifications.WithLabelValues("incomplete").Inc()
		}
		defer b.mu.Unlock()
		return b.snapshotLocked(), err
	}
	gen := b.gen
	b.mu.Unlock()

	identity, verifyErr := b.channel.VerifyCode(ctx, phone, code)

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isCurrentLocked(c, gen) {
		b.logger().Debug("dropping stale verify response")
		return b.snapshotLocked(), nil
	}

	if err := c.completeVerify(identity, verifyErr); err != nil {
		observability.OTPVerifications.WithLabelValues("failure").Inc()
		b.logger().Info("otp verification failed",
			zap.String("phone", observability.MaskPhone(phone)),
			zap.String("reason", err.Error()))
		return b.snapshotLocked(), err
	}
	observability.OTPVerifications.WithLabelValues("success").Inc()
	b.stopCooldownLocked()
	b.gen++

	required, roleErr := models.RequiredRole(c.intent.Kind)
	if roleErr != nil || identity.Role != required {
		c.deny()
		b.outcome = OutcomeDenied
		b.queue.Discard()
		b.logger().Warn("verified identity may not unlock intent",
			zap.String("kind", string(c.intent.Kind)),
			zap.String("role", string(identity.Role)),
			zap.String("required_role", string(required)))
		b.emitLocked(OutcomeDenied, ReasonRoleMismatch)
		return b.snapshotLocked(), ErrAccessDenied
	}

	b.outcome = OutcomeAuthorized
	if res, ok := b.queue.Resolve(ctx, identity); ok {
		b.result = res.Result
		b.resumeErr = res.Err
		if res.Err != nil {
			b.logger().Warn("resume handler failed",
				zap.String("kind", string(c.intent.Kind)),
				zap.Error(res.Err))
		}
	}
	b.emitLocked(OutcomeAuthorized, ReasonVerified)
	return b.snapshotLocked(), nil
}

// Cancel discards the open challenge and its intent. It is accepted at every
// step and is a no-op once the challenge was authorized or discarded. A
// denied challenge is torn down to discarded.
func (b *Broker) Cancel() (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return Snapshot{}, ErrNoChallenge
	}
	switch b.outcome {
	case OutcomePending:
		b.discardLocked(ReasonCancelled)
	case OutcomeDenied:
		b.outcome = OutcomeDiscarded
		b.emitLocked(OutcomeDiscarded, ReasonCancelled)
	}
	return b.snapshotLocked(), nil
}

// Close discards any open challenge and stops its timer. The broker stays
// usable.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != nil && b.outcome == OutcomePending {
		b.discardLocked(ReasonClosed)
	}
	b.stopCooldownLocked()
}

func (b *Broker) discardLocked(reason string) {
	b.stopCooldownLocked()
	b.gen++
	b.queue.Discard()
	b.current.inFlight = false
	b.outcome = OutcomeDiscarded
	b.logger().Info("authorization challenge discarded", zap.String("reason", reason))
	b.emitLocked(OutcomeDiscarded, reason)
}

func (b *Broker) openLocked() (*challenge, error) {
	if b.current == nil {
		return nil, ErrNoChallenge
	}
	if b.outcome != OutcomePending {
		return nil, ErrChallengeClosed
	}
	return b.current, nil
}

func (b *Broker) isCurrentLocked(c *challenge, gen uint64) bool {
	return b.current == c && b.gen == gen && b.outcome == OutcomePending
}

func (b *Broker) emitLocked(outcome Outcome, reason string) {
	observability.AuthorizationOutcomes.WithLabelValues(strings.ToLower(string(outcome))).Inc()
	if b.cfg.OnOutcome == nil {
		return
	}
	c := b.current
	b.cfg.OnOutcome(Event{
		SessionID:   b.cfg.SessionID,
		ChallengeID: c.id,
		Intent:      c.intent,
		Outcome:     outcome,
		Reason:      reason,
		PhoneNumber: c.phoneNumber(),
		Identity:    c.identity,
		ResumeErr:   b.resumeErr,
		At:          time.Now(),
	})
}

// startCooldownLocked runs the one-second resend countdown for c. Only the
// latest run may tick; stopping bumps the run counter so a tick already
// waiting on the lock is ignored.
func (b *Broker) startCooldownLocked(c *challenge) {
	b.stopCooldownLocked()
	run := b.cooldownRun

	ticks, stopTicker := b.newTicker(time.Second)
	done := make(chan struct{})
	var once sync.Once
	halt := func() {
		once.Do(func() {
			close(done)
			stopTicker()
		})
	}
	b.stopCooldown = halt

	go func() {
		defer halt()
		for {
			select {
			case <-done:
				return
			case <-ticks:
				b.mu.Lock()
				if b.cooldownRun != run || b.current != c {
					b.mu.Unlock()
					return
				}
				remaining := c.tick()
				b.mu.Unlock()
				if remaining == 0 {
					return
				}
			}
		}
	}()
}

func (b *Broker) stopCooldownLocked() {
	b.cooldownRun++
	if b.stopCooldown != nil {
		b.stopCooldown()
		b.stopCooldown = nil
	}
}

func (b *Broker) snapshotLocked() Snapshot {
	c := b.current
	if c == nil {
		return Snapshot{}
	}
	s := Snapshot{
		ChallengeID:              c.id,
		Kind:                     c.intent.Kind,
		SubjectID:                c.intent.SubjectID,
		Step:                     c.step,
		Outcome:                  b.outcome,
		PhoneNumber:              c.phoneNumber(),
		PhoneDisplay:             c.phoneDisplay(),
		AttemptCode:              c.attemptCode,
		Focus:                    c.focus,
		CooldownRemainingSeconds: c.cooldown,
		CanResend:                b.outcome == OutcomePending && c.step == StepCodeEntry && c.cooldown == 0 && !c.inFlight,
		InFlight:                 c.inFlight,
		LastError:                c.lastError,
		Result:                   b.result,
	}
	if b.resumeErr != nil {
		s.ResumeError = b.resumeErr.Error()
	}
	return s
}
