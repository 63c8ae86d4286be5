package broker

import (
	"context"

	"github.com/prefeitura-rio/app-medrec/internal/models"
)

// OtpChannel sends one-time codes out of band and verifies them.
// phoneNumber is always a country-code-prefixed digit string.
type OtpChannel interface {
	// SendCode dispatches a code and returns an opaque handle for it
	SendCode(ctx context.Context, phoneNumber string) (string, error)
	VerifyCode(ctx context.Context, phoneNumber, code string) (models.VerifiedIdentity, error)
}

// ChannelError carries a user-facing message from the OTP service. The
// broker surfaces Message verbatim; any other error gets a generic message.
type ChannelError struct {
	Message string
	Err     error
}

func (e *ChannelError) Error() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
