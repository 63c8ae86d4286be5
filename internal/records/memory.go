package records

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prefeitura-rio/app-medrec/internal/models"
)

// MemoryRepository keeps records in process memory. It backs demo mode and
// tests.
type MemoryRepository struct {
	mu            sync.RWMutex
	patients      map[string]models.Patient
	doctors       map[string]models.Doctor
	consultations map[string]models.Consultation
	prescriptions map[string]models.Prescription
	now           func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:      make(map[string]models.Patient),
		doctors:       make(map[string]models.Doctor),
		consultations: make(map[string]models.Consultation),
		prescriptions: make(map[string]models.Prescription),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) GetPatient(_ context.Context, id string) (*models.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, models.ErrPatientNotFound
	}
	return clonePatient(p), nil
}

func (r *MemoryRepository) GetPatientRecord(_ context.Context, id string) (*models.PatientRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, models.ErrPatientNotFound
	}

	record := &models.PatientRecord{
		Patient:       *clonePatient(p),
		Consultations: []models.Consultation{},
		Prescriptions: []models.Prescription{},
	}
	for _, c := range r.consultations {
		if c.PatientID == id {
			record.Consultations = append(record.Consultations, c)
		}
	}
	for _, rx := range r.prescriptions {
		if rx.PatientID == id {
			record.Prescriptions = append(record.Prescriptions, clonePrescription(rx))
		}
	}
	sort.Slice(record.Consultations, func(i, j int) bool {
		return record.Consultations[i].Date.After(record.Consultations[j].Date)
	})
	sort.Slice(record.Prescriptions, func(i, j int) bool {
		return record.Prescriptions[i].IssuedAt.After(record.Prescriptions[j].IssuedAt)
	})
	return record, nil
}

func (r *MemoryRepository) UpdatePatient(_ context.Context, id string, patch models.PatientPatch) (*models.Patient, error) {
	if patch.IsEmpty() {
		return nil, models.ErrEmptyPatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, models.ErrPatientNotFound
	}
	patch.Apply(&p)
	p.UpdatedAt = r.now()
	r.patients[id] = p
	return clonePatient(p), nil
}

func (r *MemoryRepository) DeletePatient(_ context.Context, id string) (*DeleteSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.patients[id]; !ok {
		return nil, models.ErrPatientNotFound
	}
	delete(r.patients, id)

	summary := &DeleteSummary{PatientID: id}
	for cid, c := range r.consultations {
		if c.PatientID == id {
			delete(r.consultations, cid)
			summary.Consultations++
		}
	}
	for pid, rx := range r.prescriptions {
		if rx.PatientID == id {
			delete(r.prescriptions, pid)
			summary.Prescriptions++
		}
	}
	return summary, nil
}

func (r *MemoryRepository) GetDoctor(_ context.Context, id string) (*models.Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, models.ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) CreateConsultation(_ context.Context, consultation *models.Consultation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if consultation.ID == "" {
		consultation.ID = uuid.NewString()
	}
	consultation.CreatedAt = r.now()
	r.consultations[consultation.ID] = *consultation
	return nil
}

func (r *MemoryRepository) CreatePrescription(_ context.Context, prescription *models.Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prescription.ID == "" {
		prescription.ID = uuid.NewString()
	}
	if prescription.IssuedAt.IsZero() {
		prescription.IssuedAt = r.now()
	}
	r.prescriptions[prescription.ID] = clonePrescription(*prescription)
	return nil
}

func (r *MemoryRepository) GetConsultation(_ context.Context, id string) (*models.Consultation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.consultations[id]
	if !ok {
		return nil, models.ErrConsultationNotFound
	}
	return &c, nil
}

func (r *MemoryRepository) GetPrescription(_ context.Context, id string) (*models.Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rx, ok := r.prescriptions[id]
	if !ok {
		return nil, models.ErrPrescriptionNotFound
	}
	out := clonePrescription(rx)
	return &out, nil
}

func (r *MemoryRepository) UpsertPatients(_ context.Context, patients []models.Patient) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, p := range patients {
		if existing, ok := r.patients[p.ID]; ok && p.CreatedAt.IsZero() {
			p.CreatedAt = existing.CreatedAt
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		r.patients[p.ID] = *clonePatient(p)
	}
	return len(patients), nil
}

func (r *MemoryRepository) UpsertDoctors(_ context.Context, doctors []models.Doctor) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, d := range doctors {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		r.doctors[d.ID] = d
	}
	return len(doctors), nil
}

func clonePatient(p models.Patient) *models.Patient {
	if p.Allergies != nil {
		p.Allergies = append([]string(nil), p.Allergies...)
	}
	return &p
}

func clonePrescription(rx models.Prescription) models.Prescription {
	if rx.Medications != nil {
		rx.Medications = append([]models.Medication(nil), rx.Medications...)
	}
	return rx
}
