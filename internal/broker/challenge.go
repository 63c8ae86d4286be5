package broker

import (
	"errors"

	"github.com/prefeitura-rio/app-medrec/internal/models"
	"github.com/prefeitura-rio/app-medrec/internal/utils"
)

// Step is the position of a challenge in the phone → code sequence
type Step string

const (
	StepPhoneEntry Step = "PHONE_ENTRY"
	StepCodeEntry  Step = "CODE_ENTRY"
	StepResolved   Step = "RESOLVED"
)

// CodeLength is the number of digits in a one-time code
const CodeLength = 4

// challenge is one run of the verification sequence. It validates input and
// moves between steps; it never talks to the channel. Channel calls are split
// into a begin half, which validates and marks the challenge busy, and a
// complete half, which applies the response.
type challenge struct {
	id     string
	intent models.Intent

	step         Step
	phoneInput   string
	phone        *utils.PhoneComponents
	codeToken    string
	attemptCode  [CodeLength]string
	focus        int
	cooldown     int
	lastError    *ChallengeError
	identity     *models.VerifiedIdentity
	inFlight     bool
	cooldownSecs int
	countryCode  string
}

func newChallenge(id string, intent models.Intent, seedPhone string, cooldownSecs int, countryCode string) *challenge {
	return &challenge{
		id:           id,
		intent:       intent,
		step:         StepPhoneEntry,
		phoneInput:   seedPhone,
		cooldownSecs: cooldownSecs,
		countryCode:  countryCode,
	}
}

func (c *challenge) requireStep(step Step) error {
	if c.step == StepResolved {
		return ErrChallengeClosed
	}
	if c.step != step {
		return ErrWrongStep
	}
	return nil
}

// setPhone replaces the phone number typed so far
func (c *challenge) setPhone(input string) error {
	if err := c.requireStep(StepPhoneEntry); err != nil {
		return err
	}
	if c.inFlight {
		return ErrRequestInFlight
	}
	c.phoneInput = input
	c.phone = nil
	c.lastError = nil
	return nil
}

// beginSend validates the phone number and returns the normalized digits to
// send the code to. An invalid number never reaches the channel.
func (c *challenge) beginSend() (string, error) {
	if err := c.requireStep(StepPhoneEntry); err != nil {
		return "", err
	}
	if c.inFlight {
		return "", ErrRequestInFlight
	}
	phone, err := utils.NormalizePhoneNumber(c.phoneInput, c.countryCode)
	if err != nil {
		c.lastError = ErrInvalidPhone
		return "", ErrInvalidPhone
	}
	c.phone = phone
	c.inFlight = true
	return phone.Full, nil
}

func (c *challenge) completeSend(token string, err error) error {
	c.inFlight = false
	if err != nil {
		c.lastError = channelFailure(ErrSendFailed, err)
		return c.lastError
	}
	c.step = StepCodeEntry
	c.codeToken = token
	c.clearCode()
	c.cooldown = c.cooldownSecs
	c.lastError = nil
	return nil
}

// setDigit edits one code slot. A digit moves focus forward; an empty value
// clears the slot, and clearing an already empty slot moves focus back.
func (c *challenge) setDigit(index int, value string) error {
	if err := c.requireStep(StepCodeEntry); err != nil {
		return err
	}
	if index < 0 || index >= CodeLength {
		return ErrInvalidDigit
	}

	if value == "" {
		if c.attemptCode[index] == "" && index > 0 {
			c.focus = index - 1
			return nil
		}
		c.attemptCode[index] = ""
		c.focus = index
		return nil
	}

	if len(value) != 1 || value[0] < '0' || value[0] > '9' {
		return ErrInvalidDigit
	}
	c.attemptCode[index] = value
	c.focus = min(index+1, CodeLength-1)
	return nil
}

// paste fills the slots from arbitrary text, keeping only the first four
// digits. Text without any digit is rejected and leaves the slots alone.
func (c *challenge) paste(text string) error {
	if err := c.requireStep(StepCodeEntry); err != nil {
		return err
	}
	digits := utils.OnlyDigits(text)
	if digits == "" {
		return ErrInvalidDigit
	}
	if len(digits) > CodeLength {
		digits = digits[:CodeLength]
	}
	c.clearCode()
	for i := 0; i < len(digits); i++ {
		c.attemptCode[i] = string(digits[i])
	}
	c.focus = min(len(digits), CodeLength-1)
	return nil
}

func (c *challenge) code() (string, bool) {
	code := ""
	for _, d := range c.attemptCode {
		if d == "" {
			return "", false
		}
		code += d
	}
	return code, true
}

// beginVerify returns the phone and the complete code to verify
func (c *challenge) beginVerify() (string, string, error) {
	if err := c.requireStep(StepCodeEntry); err != nil {
		return "", "", err
	}
	if c.inFlight {
		return "", "", ErrRequestInFlight
	}
	code, ok := c.code()
	if !ok {
		c.lastError = ErrIncompleteCode
		return "", "", ErrIncompleteCode
	}
	c.inFlight = true
	return c.phone.Full, code, nil
}

// completeVerify applies a verification response. A rejected code clears
// every slot and refocuses the first one.
func (c *challenge) completeVerify(identity models.VerifiedIdentity, err error) error {
	c.inFlight = false
	if err != nil {
		c.clearCode()
		c.lastError = channelFailure(ErrIncorrectCode, err)
		return c.lastError
	}
	c.step = StepResolved
	c.identity = &identity
	c.cooldown = 0
	c.lastError = nil
	return nil
}

func (c *challenge) beginResend() (string, error) {
	if err := c.requireStep(StepCodeEntry); err != nil {
		return "", err
	}
	if c.inFlight {
		return "", ErrRequestInFlight
	}
	if c.cooldown > 0 {
		return "", ErrCooldownActive
	}
	c.inFlight = true
	return c.phone.Full, nil
}

func (c *challenge) completeResend(token string, err error) error {
	c.inFlight = false
	if err != nil {
		c.lastError = channelFailure(ErrSendFailed, err)
		return c.lastError
	}
	c.codeToken = token
	c.cooldown = c.cooldownSecs
	c.lastError = nil
	return nil
}

// back returns to phone entry. The issued code is forgotten, so a new send
// is required. Any call in flight is abandoned.
func (c *challenge) back() error {
	if err := c.requireStep(StepCodeEntry); err != nil {
		return err
	}
	c.step = StepPhoneEntry
	c.phone = nil
	c.codeToken = ""
	c.clearCode()
	c.cooldown = 0
	c.lastError = nil
	c.inFlight = false
	return nil
}

// deny closes a verified challenge whose identity may not unlock the intent
func (c *challenge) deny() {
	c.step = StepResolved
	c.lastError = ErrAccessDenied
}

// tick advances the resend cooldown by one second and returns what is left
func (c *challenge) tick() int {
	if c.step == StepCodeEntry && c.cooldown > 0 {
		c.cooldown--
	}
	return c.cooldown
}

func (c *challenge) clearCode() {
	c.attemptCode = [CodeLength]string{}
	c.focus = 0
}

// phoneNumber is the normalized number once known, else the raw input
func (c *challenge) phoneNumber() string {
	if c.phone != nil {
		return c.phone.Full
	}
	return c.phoneInput
}

func (c *challenge) phoneDisplay() string {
	if c.phone != nil {
		return c.phone.Display
	}
	if p, err := utils.NormalizePhoneNumber(c.phoneInput, c.countryCode); err == nil {
		return p.Display
	}
	return ""
}

// IsRejection reports whether err is a local rejection of the caller's
// input or of an operation the challenge cannot perform right now. Channel
// outcomes (send failure, incorrect code, access denial) are not rejections.
func IsRejection(err error) bool {
	var ce *ChallengeError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case CodeSendFailed, CodeIncorrectCode, CodeAccessDenied:
		return false
	}
	return true
}
