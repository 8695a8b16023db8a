package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/polyhistory/internal/pipeline"
)

// RunStatus remembers the outcome of the latest run. Record has the shape of
// a pipeline.RunHook.
type RunStatus struct {
	mode string

	mu          sync.RWMutex
	last        *runView
	lastSuccess time.Time
	runs        int
}

type entityView struct {
	Fetched    int    `json:"fetched"`
	Pages      int    `json:"pages"`
	Duplicates int    `json:"duplicates"`
	Inserted   int    `json:"inserted"`
	Truncated  bool   `json:"truncated"`
	Reason     string `json:"reason,omitempty"`
}

type runView struct {
	RunID      string     `json:"run_id"`
	FetchDate  string     `json:"fetch_date,omitempty"`
	Skipped    bool       `json:"skipped"`
	Error      string     `json:"error,omitempty"`
	FinishedAt time.Time  `json:"finished_at"`
	DurationMS int64      `json:"duration_ms"`
	Events     entityView `json:"events"`
	Markets    entityView `json:"markets"`
}

// NewRunStatus creates a RunStatus for the given operating mode.
func NewRunStatus(mode string) *RunStatus {
	return &RunStatus{mode: mode}
}

// Record stores the outcome of a run.
func (s *RunStatus) Record(_ context.Context, report pipeline.RunReport, err error) {
	v := &runView{
		RunID:      report.RunID,
		Skipped:    report.Skipped,
		FinishedAt: time.Now().UTC(),
		DurationMS: report.Duration.Milliseconds(),
		Events:     entityView(report.Events),
		Markets:    entityView(report.Markets),
	}
	if !report.FetchDate.IsZero() {
		v.FetchDate = report.FetchDate.Format("2006-01-02")
	}
	if err != nil {
		v.Error = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = v
	s.runs++
	if err == nil && !report.Skipped {
		s.lastSuccess = v.FinishedAt
	}
}

// GetStatus responds with the mode and the latest run.
// GET /status
func (s *RunStatus) GetStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	body := map[string]any{
		"mode":     s.mode,
		"runs":     s.runs,
		"last_run": s.last,
	}
	if !s.lastSuccess.IsZero() {
		body["last_success"] = s.lastSuccess.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}
