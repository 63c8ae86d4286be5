package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prefeitura-rio/app-medrec/internal/logging"
	"github.com/prefeitura-rio/app-medrec/internal/models"
	"go.uber.org/zap"
)

// ErrInvalidFixture is returned for a fixture file that cannot be loaded
var ErrInvalidFixture = errors.New("invalid fixture")

// Fixture is the content of a seed file
type Fixture struct {
	Patients []models.Patient `json:"patients"`
	Doctors  []models.Doctor  `json:"doctors"`
}

// LoadResult counts what a fixture load wrote
type LoadResult struct {
	Patients int `json:"patients"`
	Doctors  int `json:"doctors"`
}

// FixtureLoader seeds a repository from fixture files
type FixtureLoader struct {
	repo   Repository
	logger *logging.SafeLogger
}

// NewFixtureLoader creates a loader writing into repo
func NewFixtureLoader(repo Repository, logger *logging.SafeLogger) *FixtureLoader {
	return &FixtureLoader{repo: repo, logger: logger}
}

// LoadFile reads the fixture at path and upserts its content
func (l *FixtureLoader) LoadFile(ctx context.Context, path string) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()

	result, err := l.Load(ctx, f)
	if err != nil {
		return nil, err
	}
	l.logger.Info("fixture loaded",
		zap.String("path", path),
		zap.Int("patients", result.Patients),
		zap.Int("doctors", result.Doctors))
	return result, nil
}

// Load decodes a fixture from r and upserts its content. Doctors are written
// first so patients never reference a missing practitioner.
func (l *FixtureLoader) Load(ctx context.Context, r io.Reader) (*LoadResult, error) {
	fixture, err := ReadFixture(r)
	if err != nil {
		return nil, err
	}

	doctors, err := l.repo.UpsertDoctors(ctx, fixture.Doctors)
	if err != nil {
		return nil, err
	}
	patients, err := l.repo.UpsertPatients(ctx, fixture.Patients)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Patients: patients, Doctors: doctors}, nil
}

// ReadFixture decodes and validates a fixture. Every entity needs an ID and
// IDs may not repeat within a kind.
func ReadFixture(r io.Reader) (*Fixture, error) {
	var fixture Fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fixture); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}

	seen := make(map[string]bool, len(fixture.Patients))
	for i, p := range fixture.Patients {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: patient %d has no id", ErrInvalidFixture, i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("%w: duplicate patient id %q", ErrInvalidFixture, p.ID)
		}
		seen[p.ID] = true
	}

	seen = make(map[string]bool, len(fixture.Doctors))
	for i, d := range fixture.Doctors {
		if d.ID == "" {
			return nil, fmt.Errorf("%w: doctor %d has no id", ErrInvalidFixture, i)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("%w: duplicate doctor id %q", ErrInvalidFixture, d.ID)
		}
		seen[d.ID] = true
	}
	return &fixture, nil
}
