package models

import "errors"

// Error constants for intents
var (
	ErrUnknownIntentKind   = errors.New("unknown intent kind")
	ErrMissingSubject      = errors.New("intent subject is required")
	ErrPayloadMismatch     = errors.New("payload does not match intent kind")
	ErrEmptyPatch          = errors.New("edit intent carries no changes")
	ErrInvalidDraft        = errors.New("draft must carry exactly one of consultation or prescription")
	ErrInvalidSubRecordRef = errors.New("invalid sub-record reference")
)

// Error constants for record operations
var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrConsultationNotFound = errors.New("consultation not found")
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrSubjectMismatch      = errors.New("verified identity does not own this record")
	ErrInvalidConsultation  = errors.New("consultation requires a doctor and a reason")
	ErrInvalidPrescription  = errors.New("prescription requires a doctor and at least one medication")
)
