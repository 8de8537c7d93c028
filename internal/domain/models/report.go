package models

import "time"

// AssetOutcome classifies what one per-asset sync did.
type AssetOutcome string

const (
	OutcomeUpdated AssetOutcome = "updated"
	OutcomeFresh   AssetOutcome = "fresh"
	OutcomeEmpty   AssetOutcome = "empty"
	OutcomeFailed  AssetOutcome = "failed"
)

// SyncReport summarizes one pass over every stored asset.
type SyncReport struct {
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	NewAssets    int               `json:"new_assets"`
	Total        int               `json:"total"`
	Updated      int               `json:"updated"`
	Fresh        int               `json:"fresh"`
	Empty        int               `json:"empty"`
	Failed       int               `json:"failed"`
	BarsAppended int               `json:"bars_appended"`
	Failures     map[string]string `json:"failures,omitempty"`
}

// NewSyncReport starts an empty report.
func NewSyncReport(now time.Time) *SyncReport {
	return &SyncReport{StartedAt: now, Failures: make(map[string]string)}
}

// Record accounts one asset outcome.
func (r *SyncReport) Record(symbol string, outcome AssetOutcome, appended int, err error) {
	r.Total++
	switch outcome {
	case OutcomeUpdated:
		r.Updated++
		r.BarsAppended += appended
	case OutcomeFresh:
		r.Fresh++
	case OutcomeEmpty:
		r.Empty++
	case OutcomeFailed:
		r.Failed++
		if err != nil {
			r.Failures[symbol] = err.Error()
		}
	}
}

// Duration is the wall time the pass took.
func (r *SyncReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
