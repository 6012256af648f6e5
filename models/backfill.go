package models

import "time"

// BackfillRequest describes one backfill invocation. From and To are
// inclusive.
type BackfillRequest struct {
	From    time.Time  `json:"from"`
	To      time.Time  `json:"to"`
	Source  SourceKind `json:"source"`
	Tickers []string   `json:"coins,omitempty"`
	Force   bool       `json:"force"`
}

// BackfillResult classifies every period of a request exactly once.
type BackfillResult struct {
	RunID        string   `json:"run_id"`
	Succeeded    []string `json:"dates_ok"`
	Failed       []string `json:"dates_err"`
	Skipped      []string `json:"dates_skipped"`
	TotalOK      int      `json:"total_ok"`
	TotalErr     int      `json:"total_err"`
	TotalSkipped int      `json:"total_skipped"`
	// RowsInserted counts CSV rows for daily sources and book levels for
	// hourly sources, summed over fully loaded periods only.
	RowsInserted int      `json:"rows_inserted"`
}

// NewBackfillResult returns an empty result whose lists marshal as [] rather
// than null.
func NewBackfillResult(runID string) *BackfillResult {
	return &BackfillResult{
		RunID:     runID,
		Succeeded: []string{},
		Failed:    []string{},
		Skipped:   []string{},
	}
}

func (r *BackfillResult) RecordSucceeded(period string, rows int) {
	r.Succeeded = append(r.Succeeded, period)
	r.TotalOK++
	r.RowsInserted += rows
}

// RecordFailed stores the already formatted "<period>: <error>" message.
// Rows that made it into the store before the failure are still counted.
func (r *BackfillResult) RecordFailed(message string, rows int) {
	r.Failed = append(r.Failed, message)
	r.TotalErr++
	r.RowsInserted += rows
}

func (r *BackfillResult) RecordSkipped(period string) {
	r.Skipped = append(r.Skipped, period)
	r.TotalSkipped++
}
