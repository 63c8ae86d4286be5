package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prefeitura-rio/app-medrec/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu        sync.Mutex
	sendErr   error
	verifyErr error
	identity  models.VerifiedIdentity
	sent      []string
	verified  []string
	gate      chan struct{}
	started   chan struct{}
}

func (f *fakeChannel) enter() (chan struct{}, chan struct{}) {
	return f.gate, f.started
}

func (f *fakeChannel) SendCode(ctx context.Context, phoneNumber string) (string, error) {
	f.mu.Lock()
	f.sent = append(f.sent, phoneNumber)
	n := len(f.sent)
	err := f.sendErr
	gate, started := f.enter()
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("token-%d", n), nil
}

func (f *fakeChannel) VerifyCode(ctx context.Context, phoneNumber, code string) (models.VerifiedIdentity, error) {
	f.mu.Lock()
	f.verified = append(f.verified, code)
	err := f.verifyErr
	identity := f.identity
	gate, started := f.enter()
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return models.VerifiedIdentity{}, err
	}
	return identity, nil
}

func (f *fakeChannel) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChannel) verifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.verified)
}

func (f *fakeChannel) block() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.started = make(chan struct{}, 1)
	return f.gate
}

func (f *fakeChannel) set(fn func(f *fakeChannel)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type manualTicker struct {
	mu    sync.Mutex
	chans []chan time.Time
}

func (m *manualTicker) new(time.Duration) (<-chan time.Time, func()) {
	ch := make(chan time.Time, 128)
	m.mu.Lock()
	m.chans = append(m.chans, ch)
	m.mu.Unlock()
	return ch, func() {}
}

func (m *manualTicker) tick(n int) {
	m.mu.Lock()
	ch := m.chans[len(m.chans)-1]
	m.mu.Unlock()
	for i := 0; i < n; i++ {
		ch <- time.Now()
	}
}

type resumeCall struct {
	intent   models.Intent
	identity models.VerifiedIdentity
}

type resumeRecorder struct {
	mu     sync.Mutex
	calls  []resumeCall
	result any
	err    error
}

func (r *resumeRecorder) handle(ctx context.Context, intent models.Intent, identity models.VerifiedIdentity) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, resumeCall{intent: intent, identity: identity})
	return r.result, r.err
}

func (r *resumeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) record(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) all() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

type harness struct {
	broker  *Broker
	channel *fakeChannel
	ticker  *manualTicker
	events  *eventLog
}

func newHarness(t *testing.T, cooldown time.Duration) *harness {
	t.Helper()
	h := &harness{
		channel: &fakeChannel{identity: models.VerifiedIdentity{ID: "p1", Role: models.RolePatient, Name: "Awa Kone"}},
		ticker:  &manualTicker{},
		events:  &eventLog{},
	}
	h.broker = NewBroker(h.channel, Config{
		SessionID:          "session-1",
		ResendCooldown:     cooldown,
		DefaultCountryCode: "225",
		OnOutcome:          h.events.record,
	})
	h.broker.newTicker = h.ticker.new
	t.Cleanup(h.broker.Close)
	return h
}

func viewIntent() models.Intent {
	return models.Intent{Kind: models.IntentViewRecord, SubjectID: "p1"}
}

// toCodeEntry opens a challenge and sends a code to a valid number
func (h *harness) toCodeEntry(t *testing.T, rec *resumeRecorder) {
	t.Helper()
	_, err := h.broker.RequestAuthorization(viewIntent(), rec.handle, "")
	require.NoError(t, err)
	_, err = h.broker.SubmitPhone("0708091011")
	require.NoError(t, err)
	snap, err := h.broker.Send(context.Background())
	require.NoError(t, err)
	require.Equal(t, StepCodeEntry, snap.Step)
}

func (h *harness) enterCode(t *testing.T, code string) {
	t.Helper()
	for i, r := range code {
		_, err := h.broker.SubmitDigit(i, string(r))
		require.NoError(t, err)
	}
}

func TestScenarioA_PatientUnlocksIntent(t *testing.T) {
	h := newHarness(t, time.Minute)
	rec := &resumeRecorder{result: map[string]string{"patient": "p1"}}

	h.toCodeEntry(t, rec)
	assert.Equal(t, []string{"2250708091011"}, h.channel.sent)

	h.enterCode(t, "1234")
	snap, err := h.broker.Verify(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StepResolved, snap.Step)
	assert.Equal(t, OutcomeAuthorized, snap.Outcome)
	assert.Nil(t, snap.LastError)
	assert.Equal(t, map[string]string{"patient": "p1"}, snap.Result)
	assert.Equal(t, []string{"1234"}, h.channel.verified)

	require.Equal(t, 1, rec.count())
	assert.Equal(t, viewIntent(), rec.calls[0].intent)
	assert.Equal(t, h.channel.identity, rec.calls[0].identity)

	_, err = h.broker.Verify(context.Background())
	assert.ErrorIs(t, err, ErrChallengeClosed)
	assert.Equal(t, 1, rec.count())

	_, pending := h.broker.queue.pending()
	assert.False(t, pending)

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeAuthorized, events[0].Outcome)
	assert.Equal(t, "session-1", events[0].SessionID)
	assert.Equal(t, snap.ChallengeID, events[0].ChallengeID)
}

func TestScenarioB_RoleMismatchDeniesAccess(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.channel.identity = models.VerifiedIdentity{ID: "d1", Role: models.RoleDoctor}
	rec := &resumeRecorder{}

	h.toCodeEntry(t, rec)
	h.enterCode(t, "1234")
	snap, err := h.broker.Verify(context.Background())

	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.Equal(t, OutcomeDenied, snap.Outcome)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, CodeAccessDenied, snap.LastError.Code)
	assert.Equal(t, 0, rec.count())

	_, pending := h.broker.queue.pending()
	assert.False(t, pending)

	// Frozen: nothing but cancel is accepted
	_, err = h.broker.SubmitDigit(0, "1")
	assert.ErrorIs(t, err, ErrChallengeClosed)
	_, err = h.broker.Verify(context.Background())
	assert.ErrorIs(t, err, ErrChallengeClosed)
	_, err = h.broker.Back()
	assert.ErrorIs(t, err, ErrChallengeClosed)

	snap, err = h.broker.Cancel()
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, snap.Outcome)
	assert.Equal(t, 0, rec.count())

	events := h.events.all()
	require.Len(t, events, 2)
	assert.Equal(t, OutcomeDenied, events[0].Outcome)
	assert.Equal(t, ReasonRoleMismatch, events[0].Reason)
	assert.Equal(t, OutcomeDiscarded, events[1].Outcome)
	assert.Equal(t, ReasonCancelled, events[1].Reason)

	// Tearing down twice records nothing more
	_, err = h.broker.Cancel()
	require.NoError(t, err)
	assert.Len(t, h.events.all(), 2)
}

func TestScenarioC_IncorrectCodeClearsSlots(t *testing.T) {
	h := newHarness(t, time.Minute)
	rec := &resumeRecorder{}
	h.toCodeEntry(t, rec)

	h.channel.set(func(f *fakeChannel) { f.verifyErr = errors.New("401 from otp service") })
	h.enterCode(t, "9999")
	snap, err := h.broker.Verify(context.Background())

	assert.ErrorIs(t, err, ErrIncorrectCode)
	assert.Equal(t, StepCodeEntry, snap.Step)
	assert.Equal(t, [CodeLength]string{"", "", "", ""}, snap.AttemptCode)
	assert.Equal(t, 0, snap.Focus)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, CodeIncorrectCode, snap.LastError.Code)
	assert.Equal(t, ErrIncorrectCode.Message, snap.LastError.Message)
	assert.Equal(t, OutcomePending, snap.Outcome)
	assert.Equal(t, 0, rec.count())

	// Retry is unlimited and user driven
	h.channel.set(func(f *fakeChannel) { f.verifyErr = nil })
	_, err = h.broker.SubmitPaste("1234")
	require.NoError(t, err)
	snap, err = h.broker.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthorized, snap.Outcome)
	assert.Equal(t, 1, rec.count())
}

func TestIncorrectCode_ChannelMessageSurfacedVerbatim(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.toCodeEntry(t, &resumeRecorder{})

	h.channel.set(func(f *fakeChannel) { f.verifyErr = &ChannelError{Message: "code expired"} })
	_, err := h.broker.SubmitPaste("9999")
	require.NoError(t, err)
	snap, err := h.broker.Verify(context.Background())

	assert.ErrorIs(t, err, ErrIncorrectCode)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, "code expired", snap.LastError.Message)
}

func TestScenarioD_CancelInPhoneEntry(t *testing.T) {
	h := newHarness(t, time.Minute)
	rec := &resumeRecorder{}

	_, err := h.broker.RequestAuthorization(viewIntent(), rec.handle, "0708091011")
	require.NoError(t, err)

	snap, err := h.broker.Cancel()
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, snap.Outcome)
	assert.Equal(t, StepPhoneEntry, snap.Step)

	_, pending := h.broker.queue.pending()
	assert.False(t, pending)

	// A late resolution is a no-op
	_, resolved := h.broker.queue.Resolve(context.Background(), h.channel.identity)
	assert.False(t, resolved)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, h.channel.sendCount())

	// Cancelling again is harmless
	snap, err = h.broker.Cancel()
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, snap.Outcome)

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, ReasonCancelled, events[0].Reason)
}

func TestSend_ShortPhoneNeverReachesChannel(t *testing.T) {
	inputs := []string{"", "070809101", "07 08 09", "+225 0708", "phone", "+", "123456789"}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			h := newHarness(t, time.Minute)
			_, err := h.broker.RequestAuthorization(viewIntent(), (&resumeRecorder{}).handle, "")
			require.NoError(t, err)
			_, err = h.broker.SubmitPhone(input)
			require.NoError(t, err)

			snap, err := h.broker.Send(context.Background())
			assert.ErrorIs(t, err, ErrInvalidPhone)
			assert.True(t, IsRejection(err))
			assert.Equal(t, StepPhoneEntry, snap.Step)
			require.NotNil(t, snap.LastError)
			assert.Equal(t, CodeInvalidPhone, snap.LastError.Code)
			assert.Equal(t, 0, h.channel.sendCount())
		})
	}
}

func TestSend_Failure(t *testing.T) {
	t.Run("generic message", func(t *testing.T) {
		h := newHarness(t, time.Minute)
		h.channel.sendErr = errors.New("connection refused")
		_, err := h.broker.RequestAuthorization(viewIntent(), (&resumeRecorder{}).handle, "0708091011")
		require.NoError(t, err)

		snap, err := h.broker.Send(context.Background())
		assert.ErrorIs(t, err, ErrSendFailed)
		assert.False(t, IsRejection(err))
		assert.Equal(t, StepPhoneEntry, snap.Step)
		require.NotNil(t, snap.LastError)
		assert.Equal(t, ErrSendFailed.Message, snap.LastError.Message)
		assert.False(t, snap.InFlight)
	})

	t.Run("channel message", func(t *testing.T) {
		h := newHarness(t, time.Minute)
		h.channel.sendErr = &ChannelError{Message: "number is not registered"}
		_, err := h.broker.RequestAuthorization(viewIntent(), (&resumeRecorder{}).handle, "0708091011")
		require.NoError(t, err)

		snap, err := h.broker.Send(context.Background())
		assert.ErrorIs(t, err, ErrSendFailed)
		require.NotNil(t, snap.LastError)
		assert.Equal(t, "number is not registered", snap.LastError.Message)
	})
}

func TestVerify_IncompleteCodeNeverReachesChannel(t *testing.T) {
	for filled := 0; filled < CodeLength; filled++ {
		t.Run(fmt.Sprintf("%d digits", filled), func(t *testing.T) {
			h := newHarness(t, time.Minute)
			h.toCodeEntry(t, &resumeRecorder{})
			h.enterCode(t, "1234"[:filled])

			snap, err := h.broker.Verify(context.Background())
			assert.ErrorIs(t, err, ErrIncompleteCode)
			assert.True(t, IsRejection(err))
			assert.Equal(t, StepCodeEntry, snap.Step)
			require.NotNil(t, snap.LastError)
			assert.Equal(t, CodeIncompleteCode, snap.LastError.Code)
			assert.Equal(t, 0, h.channel.verifyCount())
		})
	}
}

func TestCancel_EveryStepEmptiesQueue(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness, rec *resumeRecorder)
		step  Step
	}{
		{
			name: "phone entry",
			setup: func(t *testing.T, h *harness, rec *resumeRecorder) {
				_, err := h.broker.RequestAuthorization(viewIntent(), rec.handle, "")
				require.NoError(t, err)
			},
			step: StepPhoneEntry,
		},
		{
			name: "code entry",
			setup: func(t *testing.T, h *harness, rec *resumeRecorder) {
				h.toCodeEntry(t, rec)
				h.enterCode(t, "12")
			},
			step: StepCodeEntry,
		},
		{
			name: "resolved and denied",
			setup: func(t *testing.T, h *harness, rec *resumeRecorder) {
				h.channel.identity.Role = models.RoleAdmin
				h.toCodeEntry(t, rec)
				h.enterCode(t, "1234")
				_, err := h.broker.Verify(context.Background())
				require.ErrorIs(t, err, ErrAccessDenied)
			},
			step: StepResolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, time.Minute)
			rec := &resumeRecorder{}
			tt.setup(t, h, rec)

			snap, err := h.broker.Cancel()
			require.NoError(t, err)
			assert.Equal(t, tt.step, snap.Step)
			assert.Equal(t, OutcomeDiscarded, snap.Outcome)

			_, pending := h.broker.queue.pending()
			assert.False(t, pending)

			_, resolved := h.broker.queue.Resolve(context.Background(), h.channel.identity)
			assert.False(t, resolved)
			assert.Equal(t, 0, rec.count())

			_, err = h.broker.Verify(context.Background())
			assert.ErrorIs(t, err, ErrChallengeClosed)
		})
	}
}

func TestCancel_AfterAuthorizationIsNoop(t *testing.T) {
	h := newHarness(t, time.Minute)
	rec := &resumeRecorder{}
	h.toCodeEntry(t, rec)
	h.enterCode(t, "1234")
	_, err := h.broker.Verify(context.Background())
	require.NoError(t, err)

	snap, err := h.broker.Cancel()
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthorized, snap.Outcome)
	assert.Equal(t, 1, rec.count())
	assert.Len(t, h.events.all(), 1)
}

func TestRequestAuthorization_LastCallerWins(t *testing.T) {
	h := newHarness(t, time.Minute)
	first := &resumeRecorder{}
	second := &resumeRecorder{}

	_, err := h.broker.RequestAuthorization(viewIntent(), first.handle, "0708091011")
	require.NoError(t, err)
	_, err = h.broker.Send(context.Background())
	require.NoError(t, err)

	editIntent := models.Intent{
		Kind:      models.IntentEditRecord,
		SubjectID: "p1",
		Payload:   models.RecordPatch{Patch: models.PatientPatch{Address: strPtr("Rue 12, Cocody")}},
	}
	snap, err := h.broker.RequestAuthorization(editIntent, second.handle, "")
	require.NoError(t, err)
	assert.Equal(t, models.IntentEditRecord, snap.Kind)
	assert.Equal(t, StepPhoneEntry, snap.Step)
	assert.Equal(t, OutcomePending, snap.Outcome)

	_, err = h.broker.SubmitPhone("+225 07 08 09 10 11")
	require.NoError(t, err)
	_, err = h.broker.Send(context.Background())
	require.NoError(t, err)
	_, err = h.broker.SubmitPaste("1234")
	require.NoError(t, err)
	_, err = h.broker.Verify(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, first.count())
	require.Equal(t, 1, second.count())
	assert.Equal(t, editIntent, second.calls[0].intent)

	events := h.events.all()
	require.Len(t, events, 2)
	assert.Equal(t, OutcomeDiscarded, events[0].Outcome)
	assert.Equal(t, ReasonReplaced, events[0].Reason)
	assert.Equal(t, OutcomeAuthorized, events[1].Outcome)
}

func TestRequestAuthorization_Validation(t *testing.T) {
	h := newHarness(t, time.Minute)

	_, err := h.broker.RequestAuthorization(viewIntent(), nil, "")
	assert.ErrorIs(t, err, ErrNilHandler)

	_, err = h.broker.RequestAuthorization(models.Intent{Kind: models.IntentViewRecord}, (&resumeRecorder{}).handle, "")
	assert.ErrorIs(t, err, models.ErrMissingSubject)

	_, err = h.broker.Snapshot()
	assert.ErrorIs(t, err, ErrNoChallenge)
	_, err = h.broker.Cancel()
	assert.ErrorIs(t, err, ErrNoChallenge)
	_, err = h.broker.Send(context.Background())
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestRequestAuthorization_SeedsPhone(t *testing.T) {
	h := newHarness(t, time.Minute)

	snap, err := h.broker.RequestAuthorization(viewIntent(), (&resumeRecorder{}).handle, "0708091011")
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ChallengeID)
	assert.Equal(t, "0708091011", snap.PhoneNumber)
	assert.Contains(t, snap.PhoneDisplay, "+225")
	assert.Equal(t, StepPhoneEntry, snap.Step)

	snap, err = h.broker.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2250708091011", snap.PhoneNumber)
	assert.Equal(t, 60, snap.CooldownRemainingSeconds)
}

func TestResumeHandlerError_IsReported(t *testing.T) {
	h := newHarness(t, time.Minute)
	rec := &resumeRecorder{err: models.ErrSubjectMismatch}
	h.toCodeEntry(t, rec)
	h.enterCode(t, "1234")

	snap, err := h.broker.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthorized, snap.Outcome)
	assert.Equal(t, models.ErrSubjectMismatch.Error(), snap.ResumeError)

	events := h.events.all()
	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].ResumeErr, models.ErrSubjectMismatch)
}

func TestCooldown_TicksDownAndGatesResend(t *testing.T) {
	h := newHarness(t, 3*time.Second)
	h.toCodeEntry(t, &resumeRecorder{})

	snap, err := h.broker.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 3, snap.CooldownRemainingSeconds)
	assert.False(t, snap.CanResend)

	_, err = h.broker.Resend(context.Background())
	assert.ErrorIs(t, err, ErrCooldownActive)
	assert.Equal(t, 1, h.channel.sendCount())

	h.ticker.tick(1)
	assert.Eventually(t, func() bool { return h.cooldown(t) == 2 }, time.Second, 5*time.Millisecond)

	// Extra ticks never push the counter below zero
	h.ticker.tick(5)
	assert.Eventually(t, func() bool { return h.cooldown(t) == 0 }, time.Second, 5*time.Millisecond)

	snap, err = h.broker.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.CanResend)
	assert.Equal(t, StepCodeEntry, snap.Step)

	snap, err = h.broker.Resend(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, h.channel.sendCount())
	assert.Equal(t, 3, snap.CooldownRemainingSeconds)
	assert.Equal(t, StepCodeEntry, snap.Step)

	h.ticker.tick(1)
	assert.Eventually(t, func() bool { return h.cooldown(t) == 2 }, time.Second, 5*time.Millisecond)
}

func (h *harness) cooldown(t *testing.T) int {
	snap, err := h.broker.Snapshot()
	require.NoError(t, err)
	return snap.CooldownRemainingSeconds
}

func TestResend_FailureKeepsStep(t *testing.T) {
	h := newHarness(t, time.Second)
	h.toCodeEntry(t, &resumeRecorder{})
	h.ticker.tick(1)
	assert.Eventually(t, func() bool { return h.cooldown(t) == 0 }, time.Second, 5*time.Millisecond)

	h.channel.set(func(f *fakeChannel) { f.sendErr = errors.New("timeout") })
	snap, err := h.broker.Resend(context.Background())
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, StepCodeEntry, snap.Step)
	assert.Equal(t, 0, snap.CooldownRemainingSeconds)
	assert.True(t, snap.CanResend)
}

func TestBack_RequiresFreshSend(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.toCodeEntry(t, &resumeRecorder{})
	h.enterCode(t, "12")

	snap, err := h.broker.Back()
	require.NoError(t, err)
	assert.Equal(t, StepPhoneEntry, snap.Step)
	assert.Equal(t, [CodeLength]string{}, snap.AttemptCode)
	assert.Equal(t, 0, snap.CooldownRemainingSeconds)
	assert.Nil(t, snap.LastError)

	_, err = h.broker.Verify(context.Background())
	assert.ErrorIs(t, err, ErrWrongStep)
	_, err = h.broker.Back()
	assert.ErrorIs(t, err, ErrWrongStep)

	_, err = h.broker.SubmitPhone("0102030405")
	require.NoError(t, err)
	snap, err = h.broker.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepCodeEntry, snap.Step)
	assert.Equal(t, []string{"2250708091011", "2250102030405"}, h.channel.sent)
}

func TestBack_ResubmittingShownNumberSendsToSameNumber(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.toCodeEntry(t, &resumeRecorder{})

	snap, err := h.broker.Back()
	require.NoError(t, err)
	assert.Equal(t, "0708091011", snap.PhoneNumber, "phone entry shows what was typed")

	sent, err := h.broker.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2250708091011", sent.PhoneNumber)

	_, err = h.broker.Back()
	require.NoError(t, err)
	_, err = h.broker.SubmitPhone(sent.PhoneNumber)
	require.NoError(t, err)
	snap, err = h.broker.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepCodeEntry, snap.Step)
	assert.Equal(t, []string{"2250708091011", "2250708091011", "2250708091011"}, h.channel.sent)
}

func TestStaleVerifyAfterCancelIsDropped(t *testing.T) {
	h := newHarness(t, time.Minute)
	rec := &resumeRecorder{}
	h.toCodeEntry(t, rec)
	h.enterCode(t, "1234")

	gate := h.channel.block()
	done := make(chan Snapshot, 1)
	go func() {
		snap, _ := h.broker.Verify(context.Background())
		done <- snap
	}()
	<-h.channel.started

	snap, err := h.broker.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.InFlight)

	_, err = h.broker.Verify(context.Background())
	assert.ErrorIs(t, err, ErrRequestInFlight)

	_, err = h.broker.Cancel()
	require.NoError(t, err)
	close(gate)

	late := <-done
	assert.Equal(t, OutcomeDiscarded, late.Outcome)
	assert.Equal(t, 0, rec.count())

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeDiscarded, events[0].Outcome)
}

func TestStaleVerifyAfterBackIsDropped(t *testing.T) {
	h := newHarness(t, time.Minute)
	rec := &resumeRecorder{}
	h.toCodeEntry(t, rec)
	h.enterCode(t, "1234")

	gate := h.channel.block()
	done := make(chan Snapshot, 1)
	go func() {
		snap, _ := h.broker.Verify(context.Background())
		done <- snap
	}()
	<-h.channel.started

	_, err := h.broker.Back()
	require.NoError(t, err)
	close(gate)

	late := <-done
	assert.Equal(t, StepPhoneEntry, late.Step)
	assert.Equal(t, OutcomePending, late.Outcome)
	assert.Equal(t, 0, rec.count())
}

func TestStaleSendAfterReplacementIsDropped(t *testing.T) {
	h := newHarness(t, time.Minute)
	_, err := h.broker.RequestAuthorization(viewIntent(), (&resumeRecorder{}).handle, "0708091011")
	require.NoError(t, err)

	gate := h.channel.block()
	done := make(chan error, 1)
	go func() {
		_, err := h.broker.Send(context.Background())
		done <- err
	}()
	<-h.channel.started

	fresh, err := h.broker.RequestAuthorization(viewIntent(), (&resumeRecorder{}).handle, "")
	require.NoError(t, err)
	close(gate)
	require.NoError(t, <-done)

	snap, err := h.broker.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, fresh.ChallengeID, snap.ChallengeID)
	assert.Equal(t, StepPhoneEntry, snap.Step)
	assert.False(t, snap.InFlight)
}

func TestDigitEntry(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.toCodeEntry(t, &resumeRecorder{})

	snap, err := h.broker.SubmitDigit(0, "7")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Focus)

	for _, bad := range []string{"a", "12", " ", "٣"} {
		_, err = h.broker.SubmitDigit(1, bad)
		assert.ErrorIs(t, err, ErrInvalidDigit, bad)
	}
	_, err = h.broker.SubmitDigit(CodeLength, "1")
	assert.ErrorIs(t, err, ErrInvalidDigit)
	_, err = h.broker.SubmitDigit(-1, "1")
	assert.ErrorIs(t, err, ErrInvalidDigit)

	snap, err = h.broker.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, [CodeLength]string{"7", "", "", ""}, snap.AttemptCode)
	assert.Nil(t, snap.LastError)

	// Backspace on an empty slot moves back without clearing
	snap, err = h.broker.SubmitDigit(1, "")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Focus)
	assert.Equal(t, "7", snap.AttemptCode[0])

	// Backspace on a filled slot clears it in place
	snap, err = h.broker.SubmitDigit(0, "")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Focus)
	assert.Equal(t, "", snap.AttemptCode[0])

	// Focus stays on the last slot
	h.enterCode(t, "1234")
	snap, err = h.broker.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, CodeLength-1, snap.Focus)
}

func TestPaste(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		want      [CodeLength]string
		wantFocus int
		wantErr   error
	}{
		{name: "exact", text: "1234", want: [CodeLength]string{"1", "2", "3", "4"}, wantFocus: 3},
		{name: "separators stripped", text: " 12-3 4 ", want: [CodeLength]string{"1", "2", "3", "4"}, wantFocus: 3},
		{name: "truncated", text: "123456", want: [CodeLength]string{"1", "2", "3", "4"}, wantFocus: 3},
		{name: "partial", text: "code: 9", want: [CodeLength]string{"9", "", "", ""}, wantFocus: 1},
		{name: "no digits", text: "abcd", want: [CodeLength]string{"5", "", "", ""}, wantFocus: 1, wantErr: ErrInvalidDigit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, time.Minute)
			h.toCodeEntry(t, &resumeRecorder{})
			_, err := h.broker.SubmitDigit(0, "5")
			require.NoError(t, err)

			snap, err := h.broker.SubmitPaste(tt.text)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, snap.AttemptCode)
			assert.Equal(t, tt.wantFocus, snap.Focus)
		})
	}
}

func TestOperationsOutsideTheirStep(t *testing.T) {
	h := newHarness(t, time.Minute)
	_, err := h.broker.RequestAuthorization(viewIntent(), (&resumeRecorder{}).handle, "")
	require.NoError(t, err)

	_, err = h.broker.SubmitDigit(0, "1")
	assert.ErrorIs(t, err, ErrWrongStep)
	_, err = h.broker.SubmitPaste("1234")
	assert.ErrorIs(t, err, ErrWrongStep)
	_, err = h.broker.Resend(context.Background())
	assert.ErrorIs(t, err, ErrWrongStep)

	h.toCodeEntry(t, &resumeRecorder{})
	_, err = h.broker.SubmitPhone("0102030405")
	assert.ErrorIs(t, err, ErrWrongStep)
	_, err = h.broker.Send(context.Background())
	assert.ErrorIs(t, err, ErrWrongStep)
	assert.True(t, IsRejection(err))
}

func TestClose_DiscardsOpenChallenge(t *testing.T) {
	h := newHarness(t, time.Minute)
	rec := &resumeRecorder{}
	h.toCodeEntry(t, rec)

	h.broker.Close()

	snap, err := h.broker.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, snap.Outcome)
	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, ReasonClosed, events[0].Reason)

	// Closing twice emits nothing more
	h.broker.Close()
	assert.Len(t, h.events.all(), 1)
}

func strPtr(s string) *string { return &s }
