package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prefeitura-rio/app-medrec/internal/logging"
	"github.com/prefeitura-rio/app-medrec/internal/models"
	"github.com/prefeitura-rio/app-medrec/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoRepository is the MongoDB backed Repository
type MongoRepository struct {
	database *mongo.Database
	cols     Collections
	logger   *logging.SafeLogger
	now      func() time.Time
}

var _ Repository = (*MongoRepository)(nil)

// NewMongoRepository creates a repository over database
func NewMongoRepository(database *mongo.Database, cols Collections, logger *logging.SafeLogger) *MongoRepository {
	return &MongoRepository{
		database: database,
		cols:     cols,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetPatient retrieves a patient by ID
func (r *MongoRepository) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	ctx, span, done := utils.TraceDatabaseOperation(ctx, "find_one", r.cols.Patients)
	defer done()

	var patient models.Patient
	err := r.database.Collection(r.cols.Patients).FindOne(ctx, bson.M{"_id": id}).Decode(&patient)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrPatientNotFound
		}
		utils.RecordErrorInSpan(span, err, map[string]interface{}{"patient_id": id})
		return nil, fmt.Errorf("failed to find patient: %w", err)
	}
	return &patient, nil
}

// GetPatientRecord retrieves a patient with its consultations, most recent
// first, and prescriptions.
func (r *MongoRepository) GetPatientRecord(ctx context.Context, id string) (*models.PatientRecord, error) {
	patient, err := r.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}

	record := &models.PatientRecord{
		Patient:       *patient,
		Consultations: []models.Consultation{},
		Prescriptions: []models.Prescription{},
	}

	if err := r.findByPatient(ctx, r.cols.Consultations, id, "date", &record.Consultations); err != nil {
		return nil, fmt.Errorf("failed to find consultations: %w", err)
	}
	if err := r.findByPatient(ctx, r.cols.Prescriptions, id, "issued_at", &record.Prescriptions); err != nil {
		return nil, fmt.Errorf("failed to find prescriptions: %w", err)
	}
	return record, nil
}

func (r *MongoRepository) findByPatient(ctx context.Context, collection, patientID, sortField string, out interface{}) error {
	ctx, span, done := utils.TraceDatabaseOperation(ctx, "find", collection)
	defer done()

	opts := options.Find().SetSort(bson.D{{Key: sortField, Value: -1}})
	cursor, err := r.database.Collection(collection).Find(ctx, bson.M{"patient_id": patientID}, opts)
	if err != nil {
		utils.RecordErrorInSpan(span, err, nil)
		return err
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, out); err != nil {
		utils.RecordErrorInSpan(span, err, nil)
		return err
	}
	return nil
}

// UpdatePatient applies patch and returns the updated patient
func (r *MongoRepository) UpdatePatient(ctx context.Context, id string, patch models.PatientPatch) (*models.Patient, error) {
	ctx, span, done := utils.TraceDatabaseOperation(ctx, "find_one_and_update", r.cols.Patients)
	defer done()

	if patch.IsEmpty() {
		return nil, models.ErrEmptyPatch
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	update := bson.M{"$set": patchSet(patch, r.now())}

	var patient models.Patient
	err := r.database.Collection(r.cols.Patients).FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&patient)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrPatientNotFound
		}
		utils.RecordErrorInSpan(span, err, map[string]interface{}{"patient_id": id})
		return nil, fmt.Errorf("failed to update patient: %w", err)
	}

	r.logger.Debug("patient updated", zap.String("patient_id", id))
	return &patient, nil
}

// patchSet builds the $set document for patch with the same normalization
// PatientPatch.Apply performs.
func patchSet(patch models.PatientPatch, now time.Time) bson.M {
	var applied models.Patient
	patch.Apply(&applied)

	set := bson.M{"updated_at": now}
	if patch.FirstName != nil {
		set["first_name"] = applied.FirstName
	}
	if patch.LastName != nil {
		set["last_name"] = applied.LastName
	}
	if patch.PhoneNumber != nil {
		set["phone_number"] = applied.PhoneNumber
	}
	if patch.Email != nil {
		set["email"] = applied.Email
	}
	if patch.Address != nil {
		set["address"] = applied.Address
	}
	if patch.BloodType != nil {
		set["blood_type"] = applied.BloodType
	}
	if patch.Allergies != nil {
		set["allergies"] = applied.Allergies
	}
	return set
}

// DeletePatient removes a patient and every consultation and prescription
// that belongs to it.
func (r *MongoRepository) DeletePatient(ctx context.Context, id string) (*DeleteSummary, error) {
	ctx, span, done := utils.TraceDatabaseOperation(ctx, "delete", r.cols.Patients)
	defer done()

	res, err := r.database.Collection(r.cols.Patients).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		utils.RecordErrorInSpan(span, err, map[string]interface{}{"patient_id": id})
		return nil, fmt.Errorf("failed to delete patient: %w", err)
	}
	if res.DeletedCount == 0 {
		return nil, models.ErrPatientNotFound
	}

	summary := &DeleteSummary{PatientID: id}

	consultations, err := r.database.Collection(r.cols.Consultations).DeleteMany(ctx, bson.M{"patient_id": id})
	if err != nil {
		utils.RecordErrorInSpan(span, err, nil)
		return nil, fmt.Errorf("failed to delete consultations: %w", err)
	}
	summary.Consultations = consultations.DeletedCount

	prescriptions, err := r.database.Collection(r.cols.Prescriptions).DeleteMany(ctx, bson.M{"patient_id": id})
	if err != nil {
		utils.RecordErrorInSpan(span, err, nil)
		return nil, fmt.Errorf("failed to delete prescriptions: %w", err)
	}
	summary.Prescriptions = prescriptions.DeletedCount

	r.logger.Info("patient deleted",
		zap.String("patient_id", id),
		zap.Int64("consultations", summary.Consultations),
		zap.Int64("prescriptions", summary.Prescriptions))
	return summary, nil
}

// GetDoctor retrieves a doctor by ID
func (r *MongoRepository) GetDoctor(ctx context.Context, id string) (*models.Doctor, error) {
	ctx, span, done := utils.TraceDatabaseOperation(ctx, "find_one", r.cols.Doctors)
	defer done()

	var doctor models.Doctor
	err := r.database.Collection(r.cols.Doctors).FindOne(ctx, bson.M{"_id": id}).Decode(&doctor)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrDoctorNotFound
		}
		utils.RecordErrorInSpan(span, err, nil)
		return nil, fmt.Errorf("failed to find doctor: %w", err)
	}
	return &doctor, nil
}

// CreateConsultation inserts consultation, assigning its ID and creation time
func (r *MongoRepository) CreateConsultation(ctx context.Context, consultation *models.Consultation) error {
	ctx, span, done := utils.TraceDatabaseOperation(ctx, "insert", r.cols.Consultations)
	defer done()

	if consultation.ID == "" {
		consultation.ID = uuid.NewString()
	}
	consultation.CreatedAt = r.now()

	if _, err := r.database.Collection(r.cols.Consultations).InsertOne(ctx, consultation); err != nil {
		utils.RecordErrorInSpan(span, err, nil)
		return fmt.Errorf("failed to insert consultation: %w", err)
	}
	return nil
}

// CreatePrescription inserts prescription, assigning its ID and issue time
func (r *MongoRepository) CreatePrescription(ctx context.Context, prescription *models.Prescription) error {
	ctx, span, done := utils.TraceDatabaseOperation(ctx, "insert", r.cols.Prescriptions)
	defer done()

	if prescription.ID == "" {
		prescription.ID = uuid.NewString()
	}
	if prescription.IssuedAt.IsZero() {
		prescription.IssuedAt = r.now()
	}

	if _, err := r.database.Collection(r.cols.Prescriptions).InsertOne(ctx, prescription); err != nil {
		utils.RecordErrorInSpan(span, err, nil)
		return fmt.Errorf("failed to insert prescription: %w", err)
	}
	return nil
}

// GetConsultation retrieves a consultation by ID
func (r *MongoRepository) GetConsultation(ctx context.Context, id string) (*models.Consultation, error) {
	ctx, span, done := utils.TraceDatabaseOperation(ctx, "find_one", r.cols.Consultations)
	defer done()

	var consultation models.Consultation
	err := r.database.Collection(r.cols.Consultations).FindOne(ctx, bson.M{"_id": id}).Decode(&consultation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrConsultationNotFound
		}
		utils.RecordErrorInSpan(span, err, nil)
		return nil, fmt.Errorf("failed to find consultation: %w", err)
	}
	return &consultation, nil
}

// GetPrescription retrieves a prescription by ID
func (r *MongoRepository) GetPrescription(ctx context.Context, id string) (*models.Prescription, error) {
	ctx, span, done := utils.TraceDatabaseOperation(ctx, "find_one", r.cols.Prescriptions)
	defer done()

	var prescription models.Prescription
	err := r.database.Collection(r.cols.Prescriptions).FindOne(ctx, bson.M{"_id": id}).Decode(&prescription)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrPrescriptionNotFound
		}
		utils.RecordErrorInSpan(span, err, nil)
		return nil, fmt.Errorf("failed to find prescription: %w", err)
	}
	return &prescription, nil
}

// UpsertPatients replaces or inserts patients by ID in a single bulk write
func (r *MongoRepository) UpsertPatients(ctx context.Context, patients []models.Patient) (int, error) {
	if len(patients) == 0 {
		return 0, nil
	}
	now := r.now()
	writes := make([]mongo.WriteModel, 0, len(patients))
	for i := range patients {
		p := patients[i]
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": p.ID}).
			SetReplacement(p).
			SetUpsert(true))
	}
	return r.bulkUpsert(ctx, r.cols.Patients, writes)
}

// UpsertDoctors replaces or inserts doctors by ID in a single bulk write
func (r *MongoRepository) UpsertDoctors(ctx context.Context, doctors []models.Doctor) (int, error) {
	if len(doctors) == 0 {
		return 0, nil
	}
	now := r.now()
	writes := make([]mongo.WriteModel, 0, len(doctors))
	for i := range doctors {
		d := doctors[i]
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": d.ID}).
			SetReplacement(d).
			SetUpsert(true))
	}
	return r.bulkUpsert(ctx, r.cols.Doctors, writes)
}

func (r *MongoRepository) bulkUpsert(ctx context.Context, collection string, writes []mongo.WriteModel) (int, error) {
	ctx, span, done := utils.TraceDatabaseOperation(ctx, "bulk_write", collection)
	defer done()
	utils.AddSpanAttribute(span, "db.batch_size", len(writes))

	opts := options.BulkWrite().SetOrdered(false)
	res, err := r.database.Collection(collection).BulkWrite(ctx, writes, opts)
	if err != nil {
		utils.RecordErrorInSpan(span, err, nil)
		return 0, fmt.Errorf("failed to upsert %s: %w", collection, err)
	}
	return int(res.MatchedCount + res.UpsertedCount), nil
}
