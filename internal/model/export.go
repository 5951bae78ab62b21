package model

import "time"

// ReviewExport is the top-level JSON structure for reviewed-question export.
type ReviewExport struct {
	ExportedAt time.Time      `json:"exported_at"`
	Subject    string         `json:"subject,omitempty"`
	Count      int            `json:"count"`
	Results    []ReviewResult `json:"results"`
}

// ReviewResult holds one finalized question for export.
type ReviewResult struct {
	ID            string       `json:"id"`
	Subject       string       `json:"subject"`
	Question      string       `json:"question"`
	CorrectAnswer string       `json:"correct_answer"`
	SourceID      string       `json:"source_id,omitempty"`
	RowIndex      *int         `json:"row_index,omitempty"`
	Verdict       Verdict      `json:"verdict,omitempty"`
	Confidence    *float64     `json:"confidence,omitempty"`
	Explanation   string       `json:"explanation,omitempty"`
	ReviewStatus  ReviewStatus `json:"review_status"`
	ReviewedBy    string       `json:"reviewed_by"`
	ReviewedAt    *time.Time   `json:"reviewed_at,omitempty"`
	HumanNote     string       `json:"human_note,omitempty"`
}
