package model

import "time"

// PracticeExport is the top-level JSON structure for session record export.
type PracticeExport struct {
	ExportedAt time.Time       `json:"exported_at"`
	Count      int             `json:"count"`
	Sessions   []SessionResult `json:"sessions"`
}

// SessionResult holds one graded session for export, with the passage title
// denormalized for readability.
type SessionResult struct {
	SessionRecord
	PassageTitle string `json:"passageTitle"`
}
