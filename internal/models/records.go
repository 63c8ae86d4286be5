package models

import (
	"strings"
	"time"
)

// Patient is a medical record subject
type Patient struct {
	ID          string     `bson:"_id" json:"id"`
	FirstName   string     `bson:"first_name" json:"first_name"`
	LastName    string     `bson:"last_name" json:"last_name"`
	BirthDate   *time.Time `bson:"birth_date,omitempty" json:"birth_date,omitempty"`
	Gender      string     `bson:"gender,omitempty" json:"gender,omitempty"`
	PhoneNumber string     `bson:"phone_number,omitempty" json:"phone_number,omitempty"`
	Email       string     `bson:"email,omitempty" json:"email,omitempty"`
	Address     string     `bson:"address,omitempty" json:"address,omitempty"`
	BloodType   string     `bson:"blood_type,omitempty" json:"blood_type,omitempty"`
	Allergies   []string   `bson:"allergies,omitempty" json:"allergies,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
}

// PatientPatch lists the editable patient fields; nil means unchanged
type PatientPatch struct {
	FirstName   *string   `json:"first_name,omitempty"`
	LastName    *string   `json:"last_name,omitempty"`
	PhoneNumber *string   `json:"phone_number,omitempty"`
	Email       *string   `json:"email,omitempty"`
	Address     *string   `json:"address,omitempty"`
	BloodType   *string   `json:"blood_type,omitempty"`
	Allergies   *[]string `json:"allergies,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p PatientPatch) IsEmpty() bool {
	return p.FirstName == nil && p.LastName == nil && p.PhoneNumber == nil &&
		p.Email == nil && p.Address == nil && p.BloodType == nil && p.Allergies == nil
}

// Apply copies the set fields onto patient
func (p PatientPatch) Apply(patient *Patient) {
	if p.FirstName != nil {
		patient.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		patient.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.PhoneNumber != nil {
		patient.PhoneNumber = *p.PhoneNumber
	}
	if p.Email != nil {
		patient.Email = strings.TrimSpace(*p.Email)
	}
	if p.Address != nil {
		patient.Address = *p.Address
	}
	if p.BloodType != nil {
		patient.BloodType = *p.BloodType
	}
	if p.Allergies != nil {
		patient.Allergies = append([]string(nil), (*p.Allergies)...)
	}
}

// Doctor is a practitioner referenced by consultations and prescriptions
type Doctor struct {
	ID          string    `bson:"_id" json:"id"`
	FirstName   string    `bson:"first_name" json:"first_name"`
	LastName    string    `bson:"last_name" json:"last_name"`
	Specialty   string    `bson:"specialty" json:"specialty"`
	PhoneNumber string    `bson:"phone_number,omitempty" json:"phone_number,omitempty"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// SubRecordType distinguishes the records nested under a patient
type SubRecordType string

const (
	SubRecordConsultation SubRecordType = "consultation"
	SubRecordPrescription SubRecordType = "prescription"
)

// Valid reports whether t is a known sub-record type
func (t SubRecordType) Valid() bool {
	return t == SubRecordConsultation || t == SubRecordPrescription
}

// Consultation is a visit of a patient to a doctor
type Consultation struct {
	ID        string    `bson:"_id" json:"id"`
	PatientID string    `bson:"patient_id" json:"patient_id"`
	DoctorID  string    `bson:"doctor_id" json:"doctor_id"`
	Date      time.Time `bson:"date" json:"date"`
	Reason    string    `bson:"reason" json:"reason"`
	Diagnosis string    `bson:"diagnosis,omitempty" json:"diagnosis,omitempty"`
	Notes     string    `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// ConsultationInput is the client-supplied part of a new consultation
type ConsultationInput struct {
	DoctorID  string     `json:"doctor_id"`
	Date      *time.Time `json:"date,omitempty"`
	Reason    string     `json:"reason"`
	Diagnosis string     `json:"diagnosis,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// Medication is one line of a prescription
type Medication struct {
	Name     string `bson:"name" json:"name"`
	Dosage   string `bson:"dosage" json:"dosage"`
	Duration string `bson:"duration,omitempty" json:"duration,omitempty"`
}

// Prescription is a set of medications issued to a patient
type Prescription struct {
	ID             string       `bson:"_id" json:"id"`
	PatientID      string       `bson:"patient_id" json:"patient_id"`
	DoctorID       string       `bson:"doctor_id" json:"doctor_id"`
	ConsultationID string       `bson:"consultation_id,omitempty" json:"consultation_id,omitempty"`
	Medications    []Medication `bson:"medications" json:"medications"`
	IssuedAt       time.Time    `bson:"issued_at" json:"issued_at"`
	Instructions   string       `bson:"instructions,omitempty" json:"instructions,omitempty"`
}

// PrescriptionInput is the client-supplied part of a new prescription
type PrescriptionInput struct {
	DoctorID       string       `json:"doctor_id"`
	ConsultationID string       `json:"consultation_id,omitempty"`
	Medications    []Medication `json:"medications"`
	Instructions   string       `json:"instructions,omitempty"`
}

// PatientRecord is a patient together with its nested records
type PatientRecord struct {
	Patient       Patient        `json:"patient"`
	Consultations []Consultation `json:"consultations"`
	Prescriptions []Prescription `json:"prescriptions"`
}
