package processing

import (
	"time"

	"github.com/zombor/receipt-pipeline/internal/parsing"
)

// Status is the single source of truth for a client polling task progress.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether moving to the given status is legal. The
// machine is monotonic: pending -> started -> completed|error. A terminal
// record never transitions again; redelivered tasks reprocess and converge
// through a full result upsert instead.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusStarted
	case StatusStarted:
		return to == StatusCompleted || to == StatusError
	default:
		return false
	}
}

// Result is the durable record for one processed receipt, keyed by task ID.
// Fields, tags and summary are written once, at task completion; failed
// tasks carry only a status and failure description.
type Result struct {
	TaskID    string                  `json:"task_id"`
	Fields    parsing.FinancialFields `json:"fields"`
	RawText   string                  `json:"raw_text"`
	Tags      []string                `json:"tags"`
	Summary   *string                 `json:"summary,omitempty"`
	Status    Status                  `json:"status"`
	Error     string                  `json:"error,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}
