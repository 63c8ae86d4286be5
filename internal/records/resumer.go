package records

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prefeitura-rio/app-medrec/internal/broker"
	"github.com/prefeitura-rio/app-medrec/internal/logging"
	"github.com/prefeitura-rio/app-medrec/internal/models"
	"github.com/prefeitura-rio/app-medrec/internal/observability"
	"github.com/prefeitura-rio/app-medrec/internal/utils"
	"go.uber.org/zap"
)

// Resumer performs the record operation an intent was suspended on, once
// the broker has authorized it.
type Resumer struct {
	repo   Repository
	logger *logging.SafeLogger
	now    func() time.Time
}

// NewResumer creates a Resumer over repo
func NewResumer(repo Repository, logger *logging.SafeLogger) *Resumer {
	return &Resumer{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HandlerFor returns the resume handler to enroll with an intent of kind
func (r *Resumer) HandlerFor(kind models.IntentKind) (broker.ResumeHandler, error) {
	if _, err := models.ParseIntentKind(string(kind)); err != nil {
		return nil, err
	}
	return r.Resume, nil
}

// Resume runs intent for the verified identity. The identity must be the
// patient the intent is about.
func (r *Resumer) Resume(ctx context.Context, intent models.Intent, identity models.VerifiedIdentity) (any, error) {
	ctx, span, done := utils.TraceOperation(ctx, "records.resume", map[string]interface{}{
		"intent.kind":       string(intent.Kind),
		"intent.subject_id": intent.SubjectID,
	})
	defer done()

	logger := r.logger.With(
		zap.String("intent_kind", string(intent.Kind)),
		zap.String("subject_id", intent.SubjectID),
	)

	if identity.ID != intent.SubjectID {
		observability.ResumeResults.WithLabelValues(string(intent.Kind), "subject_mismatch").Inc()
		logger.Warn("verified identity does not match intent subject",
			zap.String("identity_id", identity.ID))
		utils.RecordErrorInSpan(span, models.ErrSubjectMismatch, nil)
		return nil, models.ErrSubjectMismatch
	}

	result, err := r.dispatch(ctx, intent)
	if err != nil {
		observability.ResumeResults.WithLabelValues(string(intent.Kind), "error").Inc()
		utils.RecordErrorInSpan(span, err, nil)
		logger.Warn("resumed intent failed", zap.Error(err))
		return nil, err
	}

	observability.ResumeResults.WithLabelValues(string(intent.Kind), "success").Inc()
	logger.Info("resumed intent completed")
	return result, nil
}

func (r *Resumer) dispatch(ctx context.Context, intent models.Intent) (any, error) {
	switch intent.Kind {
	case models.IntentViewRecord:
		if p, ok := intent.Payload.(models.RecordPayload); ok && p.Patient.ID == intent.SubjectID {
			return &p.Patient, nil
		}
		return r.repo.GetPatientRecord(ctx, intent.SubjectID)

	case models.IntentEditRecord:
		p, ok := intent.Payload.(models.RecordPatch)
		if !ok {
			return nil, payloadMismatch(intent)
		}
		return r.repo.UpdatePatient(ctx, intent.SubjectID, p.Patch)

	case models.IntentDeleteRecord:
		return r.repo.DeletePatient(ctx, intent.SubjectID)

	case models.IntentCreateSubRecord:
		d, ok := intent.Payload.(models.SubRecordDraft)
		if !ok {
			return nil, payloadMismatch(intent)
		}
		return r.createSubRecord(ctx, intent.SubjectID, d)

	case models.IntentViewSubRecordDetail:
		ref, ok := intent.Payload.(models.SubRecordRef)
		if !ok {
			return nil, payloadMismatch(intent)
		}
		return r.subRecordDetail(ctx, intent.SubjectID, ref)

	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownIntentKind, intent.Kind)
	}
}

func (r *Resumer) createSubRecord(ctx context.Context, patientID string, draft models.SubRecordDraft) (any, error) {
	if _, err := r.repo.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}

	switch {
	case draft.Consultation != nil:
		in := draft.Consultation
		if strings.TrimSpace(in.DoctorID) == "" || strings.TrimSpace(in.Reason) == "" {
			return nil, models.ErrInvalidConsultation
		}
		if _, err := r.repo.GetDoctor(ctx, in.DoctorID); err != nil {
			return nil, err
		}
		consultation := &models.Consultation{
			PatientID: patientID,
			DoctorID:  in.DoctorID,
			Date:      r.now(),
			Reason:    strings.TrimSpace(in.Reason),
			Diagnosis: in.Diagnosis,
			Notes:     in.Notes,
		}
		if in.Date != nil {
			consultation.Date = in.Date.UTC()
		}
		if err := r.repo.CreateConsultation(ctx, consultation); err != nil {
			return nil, err
		}
		return consultation, nil

	case draft.Prescription != nil:
		in := draft.Prescription
		if strings.TrimSpace(in.DoctorID) == "" || len(in.Medications) == 0 {
			return nil, models.ErrInvalidPrescription
		}
		if _, err := r.repo.GetDoctor(ctx, in.DoctorID); err != nil {
			return nil, err
		}
		if in.ConsultationID != "" {
			c, err := r.repo.GetConsultation(ctx, in.ConsultationID)
			if err != nil {
				return nil, err
			}
			if c.PatientID != patientID {
				return nil, models.ErrConsultationNotFound
			}
		}
		prescription := &models.Prescription{
			PatientID:      patientID,
			DoctorID:       in.DoctorID,
			ConsultationID: in.ConsultationID,
			Medications:    append([]models.Medication(nil), in.Medications...),
			IssuedAt:       r.now(),
			Instructions:   in.Instructions,
		}
		if err := r.repo.CreatePrescription(ctx, prescription); err != nil {
			return nil, err
		}
		return prescription, nil
	}
	return nil, models.ErrInvalidDraft
}

// subRecordDetail loads a consultation or prescription. One that belongs to
// another patient is reported as not found.
func (r *Resumer) subRecordDetail(ctx context.Context, patientID string, ref models.SubRecordRef) (any, error) {
	switch ref.Type {
	case models.SubRecordConsultation:
		c, err := r.repo.GetConsultation(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if c.PatientID != patientID {
			return nil, models.ErrConsultationNotFound
		}
		return c, nil
	case models.SubRecordPrescription:
		rx, err := r.repo.GetPrescription(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if rx.PatientID != patientID {
			return nil, models.ErrPrescriptionNotFound
		}
		return rx, nil
	}
	return nil, models.ErrInvalidSubRecordRef
}

func payloadMismatch(intent models.Intent) error {
	return fmt.Errorf("%w: %T for %s", models.ErrPayloadMismatch, intent.Payload, intent.Kind)
}
