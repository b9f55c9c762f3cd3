package engine

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sigworker/internal/analysis"
)

// Decision is one NDJSON line in the decisions log, one per symbol per cycle.
type Decision struct {
	RunID         string             `json:"run_id"`
	CycleID       string             `json:"cycle_id"`
	Timestamp     time.Time          `json:"timestamp"`
	Symbol        string             `json:"symbol"`
	Result        Status             `json:"result"`
	Direction     analysis.Direction `json:"direction,omitempty"`
	Confidence    float64            `json:"confidence,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Entry         float64            `json:"entry,omitempty"`
	Stop          float64            `json:"stop,omitempty"`
	Target        float64            `json:"target,omitempty"`
	Size          float64            `json:"size,omitempty"`
	RejectReason  string             `json:"reject_reason,omitempty"`
	ErrorKind     string             `json:"error_kind,omitempty"`
	Retryable     bool               `json:"retryable,omitempty"`
	ReservationID string             `json:"reservation_id,omitempty"`
	OrderID       string             `json:"order_id,omitempty"`
	ClientOrderID string             `json:"client_order_id,omitempty"`
	DurationMs    int64              `json:"duration_ms"`
}

func newDecision(runID, cycleID string, o Outcome) Decision {
	d := Decision{
		RunID:         runID,
		CycleID:       cycleID,
		Timestamp:     time.Now().UTC(),
		Symbol:        o.Symbol,
		Result:        o.Status,
		ErrorKind:     o.ErrorKind,
		Retryable:     o.Retryable,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		DurationMs:    o.Duration.Milliseconds(),
	}
	if o.Verdict != nil {
		d.Direction = o.Verdict.Direction
		d.Confidence = o.Verdict.Confidence
		d.Reason = o.Verdict.Reason
	}
	if o.Signal != nil {
		d.Entry, d.Stop, d.Target, d.Size = o.Signal.Entry, o.Signal.Stop, o.Signal.Target, o.Signal.Size
	}
	if o.Reservation != nil {
		d.ReservationID = o.Reservation.ID
	}
	switch {
	case o.VetoReason != "":
		d.RejectReason = string(o.VetoReason)
	case o.Error != "":
		d.RejectReason = o.Error
	}
	return d
}

type DecisionLogger struct {
	runID  string
	file   *os.File
	writer *bufio.Writer
	log    zerolog.Logger
	mu     sync.Mutex
}

func NewDecisionLogger(path string, runID string, log zerolog.Logger) (*DecisionLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DecisionLogger{
		runID:  runID,
		file:   file,
		writer: bufio.NewWriter(file),
		log:    log.With().Str("component", "decisions").Logger(),
	}, nil
}

func (d *DecisionLogger) RunID() string {
	return d.runID
}

func (d *DecisionLogger) Append(decision Decision) {
	d.mu.Lock()
	defer d.mu.Unlock()
	payload, err := json.Marshal(decision)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to marshal decision")
		return
	}
	if _, err := d.writer.Write(append(payload, '\n')); err != nil {
		d.log.Error().Err(err).Msg("failed to write decision")
		return
	}
	if err := d.writer.Flush(); err != nil {
		d.log.Error().Err(err).Msg("failed to flush decision log")
	}
}

func (d *DecisionLogger) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writer.Flush(); err != nil {
		_ = d.file.Close()
		return err
	}
	return d.file.Close()
}
