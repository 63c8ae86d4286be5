package records

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prefeitura-rio/app-medrec/internal/logging"
	"github.com/prefeitura-rio/app-medrec/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// setupMongo starts a MongoDB container. It only runs when
// MEDREC_INTEGRATION is set since it needs a Docker daemon.
func setupMongo(t *testing.T) *mongo.Database {
	t.Helper()
	if os.Getenv("MEDREC_INTEGRATION") == "" {
		t.Skip("set MEDREC_INTEGRATION=1 to run MongoDB integration tests")
	}

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7.0")
	require.NoError(t, err, "Failed to start MongoDB container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get MongoDB connection string")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err, "Failed to connect to MongoDB")
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	require.NoError(t, client.Ping(ctx, nil))
	return client.Database("medrec_test")
}

func TestMongoRepository_Integration(t *testing.T) {
	db := setupMongo(t)
	repo := NewMongoRepository(db, DefaultCollections, &logging.SafeLogger{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	loader := NewFixtureLoader(repo, &logging.SafeLogger{})
	result, err := loader.LoadFile(ctx, "testdata/fixture.json")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Patients)

	t.Run("get and update patient", func(t *testing.T) {
		p, err := repo.GetPatient(ctx, "pat-1")
		require.NoError(t, err)
		assert.Equal(t, "Yao", p.FirstName)

		updated, err := repo.UpdatePatient(ctx, "pat-1", models.PatientPatch{LastName: strPtr(" N'Guessan ")})
		require.NoError(t, err)
		assert.Equal(t, "N'Guessan", updated.LastName)
		assert.Equal(t, "A+", updated.BloodType)

		_, err = repo.UpdatePatient(ctx, "ghost", models.PatientPatch{LastName: strPtr("x")})
		assert.ErrorIs(t, err, models.ErrPatientNotFound)
	})

	t.Run("sub-records and cascade delete", func(t *testing.T) {
		r := NewResumer(repo, &logging.SafeLogger{})
		identity := models.VerifiedIdentity{ID: "pat-2", Role: models.RolePatient}

		created, err := r.Resume(ctx, models.Intent{
			Kind:      models.IntentCreateSubRecord,
			SubjectID: "pat-2",
			Payload:   models.SubRecordDraft{Consultation: &models.ConsultationInput{DoctorID: "doc-2", Reason: "check-up"}},
		}, identity)
		require.NoError(t, err)
		consultation := created.(*models.Consultation)

		got, err := repo.GetConsultation(ctx, consultation.ID)
		require.NoError(t, err)
		assert.Equal(t, "check-up", got.Reason)

		require.NoError(t, repo.CreatePrescription(ctx, &models.Prescription{
			PatientID:      "pat-2",
			DoctorID:       "doc-2",
			ConsultationID: consultation.ID,
			Medications:    []models.Medication{{Name: "Vitamin D", Dosage: "1000IU"}},
		}))

		record, err := repo.GetPatientRecord(ctx, "pat-2")
		require.NoError(t, err)
		assert.Len(t, record.Consultations, 1)
		assert.Len(t, record.Prescriptions, 1)

		summary, err := repo.DeletePatient(ctx, "pat-2")
		require.NoError(t, err)
		assert.Equal(t, int64(1), summary.Consultations)
		assert.Equal(t, int64(1), summary.Prescriptions)

		_, err = repo.GetConsultation(ctx, consultation.ID)
		assert.ErrorIs(t, err, models.ErrConsultationNotFound)
		_, err = repo.DeletePatient(ctx, "pat-2")
		assert.ErrorIs(t, err, models.ErrPatientNotFound)
	})
}
