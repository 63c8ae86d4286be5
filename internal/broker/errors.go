package broker

import (
	"errors"
	"strings"
)

// ErrorCode identifies a broker error in API responses
type ErrorCode string

const (
	CodeInvalidPhone    ErrorCode = "INVALID_PHONE"
	CodeSendFailed      ErrorCode = "SEND_FAILED"
	CodeIncompleteCode  ErrorCode = "INCOMPLETE_CODE"
	CodeIncorrectCode   ErrorCode = "INCORRECT_CODE"
	CodeAccessDenied    ErrorCode = "ACCESS_DENIED"
	CodeInvalidDigit    ErrorCode = "INVALID_DIGIT"
	CodeCooldownActive  ErrorCode = "COOLDOWN_ACTIVE"
	CodeWrongStep       ErrorCode = "WRONG_STEP"
	CodeChallengeClosed ErrorCode = "CHALLENGE_CLOSED"
	CodeNoChallenge     ErrorCode = "NO_CHALLENGE"
	CodeRequestInFlight ErrorCode = "REQUEST_IN_FLIGHT"
)

// ChallengeError is the error type returned by every broker operation and
// stored as a challenge's last error. Two ChallengeErrors match with
// errors.Is when their codes are equal.
type ChallengeError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *ChallengeError) Error() string {
	return e.Message
}

func (e *ChallengeError) Is(target error) bool {
	t, ok := target.(*ChallengeError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is checks
var (
	ErrInvalidPhone    = &ChallengeError{Code: CodeInvalidPhone, Message: "phone number must contain at least 10 digits"}
	ErrSendFailed      = &ChallengeError{Code: CodeSendFailed, Message: "could not send the verification code, please try again"}
	ErrIncompleteCode  = &ChallengeError{Code: CodeIncompleteCode, Message: "enter all 4 digits of the code"}
	ErrIncorrectCode   = &ChallengeError{Code: CodeIncorrectCode, Message: "incorrect code"}
	ErrAccessDenied    = &ChallengeError{Code: CodeAccessDenied, Message: "this account is not allowed to access this record"}
	ErrInvalidDigit    = &ChallengeError{Code: CodeInvalidDigit, Message: "code slots accept a single digit"}
	ErrCooldownActive  = &ChallengeError{Code: CodeCooldownActive, Message: "wait before requesting a new code"}
	ErrWrongStep       = &ChallengeError{Code: CodeWrongStep, Message: "operation not available at this step"}
	ErrChallengeClosed = &ChallengeError{Code: CodeChallengeClosed, Message: "challenge is closed"}
	ErrNoChallenge     = &ChallengeError{Code: CodeNoChallenge, Message: "no authorization challenge is open"}
	ErrRequestInFlight = &ChallengeError{Code: CodeRequestInFlight, Message: "a request for this challenge is already in progress"}
)

// channelFailure builds the error stored after a rejected channel call,
// keeping the service's own message when it gave one.
func channelFailure(base *ChallengeError, err error) *ChallengeError {
	var chErr *ChannelError
	if errors.As(err, &chErr) && strings.TrimSpace(chErr.Message) != "" {
		return &ChallengeError{Code: base.Code, Message: chErr.Message}
	}
	return base
}
