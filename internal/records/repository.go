// Package records stores patients and their consultations and
// prescriptions, and runs the record operations unlocked by a step-up
// authorization.
package records

import (
	"context"

	"github.com/prefeitura-rio/app-medrec/internal/config"
	"github.com/prefeitura-rio/app-medrec/internal/models"
)

// Repository is the medical records store
type Repository interface {
	GetPatient(ctx context.Context, id string) (*models.Patient, error)
	GetPatientRecord(ctx context.Context, id string) (*models.PatientRecord, error)
	UpdatePatient(ctx context.Context, id string, patch models.PatientPatch) (*models.Patient, error)
	DeletePatient(ctx context.Context, id string) (*DeleteSummary, error)
	GetDoctor(ctx context.Context, id string) (*models.Doctor, error)
	CreateConsultation(ctx context.Context, consultation *models.Consultation) error
	CreatePrescription(ctx context.Context, prescription *models.Prescription) error
	GetConsultation(ctx context.Context, id string) (*models.Consultation, error)
	GetPrescription(ctx context.Context, id string) (*models.Prescription, error)
	UpsertPatients(ctx context.Context, patients []models.Patient) (int, error)
	UpsertDoctors(ctx context.Context, doctors []models.Doctor) (int, error)
}

// DeleteSummary reports what a patient deletion removed
type DeleteSummary struct {
	PatientID     string `json:"patient_id"`
	Consultations int64  `json:"consultations_deleted"`
	Prescriptions int64  `json:"prescriptions_deleted"`
}

// Collections names the MongoDB collections backing the repository
type Collections struct {
	Patients      string
	Doctors       string
	Consultations string
	Prescriptions string
}

// CollectionsFromConfig reads the collection names from the app config
func CollectionsFromConfig(cfg *config.Config) Collections {
	return Collections{
		Patients:      cfg.PatientCollection,
		Doctors:       cfg.DoctorCollection,
		Consultations: cfg.ConsultationCollection,
		Prescriptions: cfg.PrescriptionCollection,
	}
}

// DefaultCollections are the collection names used when none are configured
var DefaultCollections = Collections{
	Patients:      "patients",
	Doctors:       "doctors",
	Consultations: "consultations",
	Prescriptions: "prescriptions",
}
