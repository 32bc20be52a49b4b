package store

import (
	"fmt"

	"github.com/pavelanni/evaluator/internal/model"
)

// ExportAllRuns loads every archived run, oldest first.
func (s *Store) ExportAllRuns() ([]model.RunRecord, error) {
	runs, err := s.ListRuns()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	records := make([]model.RunRecord, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		rec, err := s.GetRun(runs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("get run %d: %w", runs[i].ID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
