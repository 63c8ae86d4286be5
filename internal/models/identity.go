package models

// Role discriminates the kind of account a verified phone belongs to
type Role string

const (
	RolePatient Role = "PATIENT"
	RoleDoctor  Role = "DOCTOR"
	RoleAdmin   Role = "ADMIN"
)

// VerifiedIdentity is returned by the OTP service after a successful code
// verification. The broker only inspects Role.
type VerifiedIdentity struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}
