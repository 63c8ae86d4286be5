package models

import "encoding/json"

// AuthorizationRequest opens a step-up challenge for an intent
type AuthorizationRequest struct {
	Kind        string          `json:"kind" binding:"required"`
	SubjectID   string          `json:"subject_id" binding:"required"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	PhoneNumber string          `json:"phone_number,omitempty"`
}

// PhoneRequest sets the phone number of the open challenge
type PhoneRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
}

// DigitRequest edits one code slot. An empty value is a backspace.
type DigitRequest struct {
	Value string `json:"value"`
}

// PasteRequest fills the code slots from pasted text
type PasteRequest struct {
	Text string `json:"text" binding:"required"`
}
