package engine

import (
	"time"

	"sigworker/internal/analysis"
	"sigworker/internal/risk"
	"sigworker/internal/signal"
)

type Status string

const (
	StatusSubmitted       Status = "submitted"
	StatusDryRun          Status = "dry_run"
	StatusNoSignal        Status = "no_signal"
	StatusVetoed          Status = "vetoed"
	StatusSkipped         Status = "skipped"
	StatusError           Status = "error"
	StatusExecutionFailed Status = "execution_failed"
	StatusTimedOut        Status = "timed_out"
)

// Outcome is the terminal result for one symbol in one cycle.
type Outcome struct {
	Symbol        string            `json:"symbol"`
	Status        Status            `json:"status"`
	VetoReason    risk.Reason       `json:"veto_reason,omitempty"`
	ErrorKind     string            `json:"error_kind,omitempty"`
	Error         string            `json:"error,omitempty"`
	Retryable     bool              `json:"retryable,omitempty"`
	Verdict       *analysis.Verdict `json:"verdict,omitempty"`
	Signal        *signal.Signal    `json:"signal,omitempty"`
	Reservation   *risk.Reservation `json:"reservation,omitempty"`
	OrderID       string            `json:"order_id,omitempty"`
	ClientOrderID string            `json:"client_order_id,omitempty"`
	Duration      time.Duration     `json:"duration"`
	Err           error             `json:"-"`
}

func (o *Outcome) fail(status Status, kind string, err error) Outcome {
	o.Status = status
	o.ErrorKind = kind
	o.Err = err
	if err != nil {
		o.Error = err.Error()
	}
	return *o
}

// CycleResult lists one outcome per configured symbol, in configuration order.
type CycleResult struct {
	CycleID    string    `json:"cycle_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
}

func (r CycleResult) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Counts tallies outcomes by status.
func (r CycleResult) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// Held returns the reservations still held after the cycle, i.e. submitted or dry-run admissions.
func (r CycleResult) Held() []risk.Reservation {
	var out []risk.Reservation
	for _, o := range r.Outcomes {
		if o.Reservation != nil && (o.Status == StatusSubmitted || o.Status == StatusDryRun) {
			out = append(out, *o.Reservation)
		}
	}
	return out
}
