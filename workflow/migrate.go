package workflow

import (
	"fmt"
	"log/slog"
)

// DefaultMigrationBatchSize caps records processed per invocation when the
// caller does not choose a batch size.
const DefaultMigrationBatchSize = 100

// MigrationResult reports one invocation of a migration step. Callers
// re-invoke until Remaining is 0.
type MigrationResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// MigrationStep is one idempotent backfill job: Candidates lists record
// ids that do not yet satisfy the target condition, Transform migrates a
// single record. Records already satisfying the condition never appear as
// candidates, which is what makes re-invocation safe.
type MigrationStep struct {
	Name       string
	BatchSize  int
	Candidates func() ([]string, error)
	Transform  func(id string) error
}

// Run processes up to BatchSize candidates. Per-record errors are logged
// and skipped; a bad record never aborts the batch.
func (s *MigrationStep) Run(logger *slog.Logger) (MigrationResult, error) {
	batch := s.BatchSize
	if batch <= 0 {
		batch = DefaultMigrationBatchSize
	}

	ids, err := s.Candidates()
	if err != nil {
		return MigrationResult{}, fmt.Errorf("migration %s: failed to list candidates: %w", s.Name, err)
	}

	var result MigrationResult
	for i, id := range ids {
		if i >= batch {
			break
		}
		if err := s.Transform(id); err != nil {
			logger.Warn("Migration record failed, skipping",
				"migration", s.Name, "record", id, "error", err)
			result.Failed++
			continue
		}
		result.Processed++
	}

	// Failed records remain candidates for the next invocation.
	result.Remaining = len(ids) - result.Processed
	if result.Remaining < 0 {
		result.Remaining = 0
	}

	logger.Info("Migration step complete",
		"migration", s.Name,
		"processed", result.Processed,
		"failed", result.Failed,
		"remaining", result.Remaining)
	return result, nil
}
