package models

import "github.com/golang-jwt/jwt/v5"

// IdentityClaims is the payload of the identity token the OTP service issues
// after a successful verification. The subject is the account identifier.
type IdentityClaims struct {
	Role        Role   `json:"role"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts the claims into a VerifiedIdentity
func (c IdentityClaims) Identity() VerifiedIdentity {
	return VerifiedIdentity{
		ID:          c.Subject,
		Role:        c.Role,
		Name:        c.Name,
		PhoneNumber: c.PhoneNumber,
	}
}
