package store

import (
	"fmt"

	"github.com/lingora/lingora/internal/model"
)

// ExportAllSessions builds export-ready results from all session records,
// joined with their passage titles.
func (s *Store) ExportAllSessions() ([]model.SessionResult, error) {
	records, err := s.ListSessionRecords()
	if err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}

	titles := make(map[string]string)
	var results []model.SessionResult
	for _, rec := range records {
		title, ok := titles[rec.PassageID]
		if !ok {
			p, err := s.GetPassage(rec.PassageID)
			if err != nil && err != ErrPassageNotFound {
				return nil, fmt.Errorf("get passage %s: %w", rec.PassageID, err)
			}
			title = p.Title
			titles[rec.PassageID] = title
		}

		results = append(results, model.SessionResult{
			SessionRecord: rec,
			PassageTitle:  title,
		})
	}
	return results, nil
}
