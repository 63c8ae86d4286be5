package models

import (
	"encoding/json"
	"fmt"
)

// IntentKind tags the sensitive operation a caller wants performed once the
// step-up challenge succeeds. The set is closed.
type IntentKind string

const (
	IntentViewRecord          IntentKind = "VIEW_RECORD"
	IntentEditRecord          IntentKind = "EDIT_RECORD"
	IntentDeleteRecord        IntentKind = "DELETE_RECORD"
	IntentCreateSubRecord     IntentKind = "CREATE_SUB_RECORD"
	IntentViewSubRecordDetail IntentKind = "VIEW_SUB_RECORD_DETAIL"
)

// IntentKinds lists every defined kind
var IntentKinds = []IntentKind{
	IntentViewRecord,
	IntentEditRecord,
	IntentDeleteRecord,
	IntentCreateSubRecord,
	IntentViewSubRecordDetail,
}

// ParseIntentKind validates a kind received from a client
func ParseIntentKind(s string) (IntentKind, error) {
	for _, k := range IntentKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownIntentKind, s)
}

// RequiredRole returns the identity role a verified caller must hold to
// unlock an intent of the given kind.
func RequiredRole(kind IntentKind) (Role, error) {
	switch kind {
	case IntentViewRecord, IntentEditRecord, IntentDeleteRecord,
		IntentCreateSubRecord, IntentViewSubRecordDetail:
		return RolePatient, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownIntentKind, kind)
	}
}

// Intent is a suspended request waiting for step-up authorization
type Intent struct {
	Kind      IntentKind    `json:"kind"`
	SubjectID string        `json:"subject_id"`
	Payload   IntentPayload `json:"payload,omitempty"`
}

// IntentPayload is the closed set of data an intent may carry to its
// resume handler. Implementations live in this package only.
type IntentPayload interface {
	intentPayload()
}

// RecordPayload carries a patient record the caller already fetched
type RecordPayload struct {
	Patient Patient `json:"patient"`
}

// RecordPatch carries the fields an EditRecord intent will change
type RecordPatch struct {
	Patch PatientPatch `json:"patch"`
}

// SubRecordDraft carries a new consultation or prescription
type SubRecordDraft struct {
	Consultation *ConsultationInput `json:"consultation,omitempty"`
	Prescription *PrescriptionInput `json:"prescription,omitempty"`
}

// SubRecordRef points at an existing consultation or prescription
type SubRecordRef struct {
	Type SubRecordType `json:"type"`
	ID   string        `json:"id"`
}

func (RecordPayload) intentPayload()  {}
func (RecordPatch) intentPayload()    {}
func (SubRecordDraft) intentPayload() {}
func (SubRecordRef) intentPayload()   {}

// Validate checks that the payload variant matches the kind
func (i Intent) Validate() error {
	if i.SubjectID == "" {
		return ErrMissingSubject
	}
	switch i.Kind {
	case IntentViewRecord, IntentDeleteRecord:
		switch i.Payload.(type) {
		case nil, RecordPayload:
			return nil
		}
	case IntentEditRecord:
		if p, ok := i.Payload.(RecordPatch); ok {
			if p.Patch.IsEmpty() {
				return ErrEmptyPatch
			}
			return nil
		}
	case IntentCreateSubRecord:
		if d, ok := i.Payload.(SubRecordDraft); ok {
			if (d.Consultation == nil) == (d.Prescription == nil) {
				return ErrInvalidDraft
			}
			return nil
		}
	case IntentViewSubRecordDetail:
		if r, ok := i.Payload.(SubRecordRef); ok {
			if r.ID == "" || !r.Type.Valid() {
				return ErrInvalidSubRecordRef
			}
			return nil
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownIntentKind, i.Kind)
	}
	return fmt.Errorf("%w: %T for %s", ErrPayloadMismatch, i.Payload, i.Kind)
}

// DecodeIntentPayload decodes the raw JSON payload of a request into the
// variant expected for kind. An empty payload yields nil.
func DecodeIntentPayload(kind IntentKind, raw json.RawMessage) (IntentPayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var (
		payload IntentPayload
		err     error
	)
	switch kind {
	case IntentViewRecord, IntentDeleteRecord:
		var p RecordPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case IntentEditRecord:
		var p RecordPatch
		err = json.Unmarshal(raw, &p)
		payload = p
	case IntentCreateSubRecord:
		var p SubRecordDraft
		err = json.Unmarshal(raw, &p)
		payload = p
	case IntentViewSubRecordDetail:
		var p SubRecordRef
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntentKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid payload for %s: %w", kind, err)
	}
	return payload, nil
}
