package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sigworker/internal/analysis"
	"sigworker/internal/signal"
)

type Reason string

const (
	ReasonCapacityExceeded    Reason = "capacity_exceeded"
	ReasonInvalidRiskDistance Reason = "invalid_risk_distance"
)

// VetoError is a deliberate policy rejection, not a failure.
type VetoError struct {
	Reason Reason
	Detail string
}

func (e *VetoError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// VetoReason reports the veto reason carried by err, if any.
func VetoReason(err error) (Reason, bool) {
	var veto *VetoError
	if errors.As(err, &veto) {
		return veto.Reason, true
	}
	return "", false
}

type Limits struct {
	RiskPerTrade  float64
	MaxPositions  int
	AccountBudget float64
	MaxNotional   float64
}

func (l Limits) validate() error {
	if !(l.RiskPerTrade > 0 && l.RiskPerTrade <= 1) {
		return fmt.Errorf("risk_per_trade must be in (0,1], got %v", l.RiskPerTrade)
	}
	if l.MaxPositions < 1 {
		return fmt.Errorf("max_positions must be >= 1, got %d", l.MaxPositions)
	}
	if !(l.AccountBudget > 0) {
		return fmt.Errorf("account_budget must be > 0, got %v", l.AccountBudget)
	}
	if l.MaxNotional < 0 {
		return fmt.Errorf("max_notional must be >= 0, got %v", l.MaxNotional)
	}
	return nil
}

// Reservation is capacity held for an admitted position until Release.
type Reservation struct {
	ID         string             `json:"id"`
	Symbol     string             `json:"symbol"`
	Direction  analysis.Direction `json:"direction"`
	Size       float64            `json:"size"`
	ReservedAt time.Time          `json:"reserved_at"`
}

type AdmittedOrder struct {
	Reservation   Reservation
	Signal        signal.Signal
	ClientOrderID string
}

type Stats struct {
	Open         int `json:"open"`
	MaxPositions int `json:"max_positions"`
}

// Gate owns the shared position count. Every read and write of it happens inside a single
// critical section per Admit or Release call.
type Gate struct {
	limits Limits
	log    zerolog.Logger
	now    func() time.Time

	mu           sync.Mutex
	reservations map[string]Reservation
}

func NewGate(limits Limits, log zerolog.Logger) (*Gate, error) {
	if err := limits.validate(); err != nil {
		return nil, err
	}
	return &Gate{
		limits:       limits,
		log:          log.With().Str("component", "risk").Logger(),
		now:          time.Now,
		reservations: make(map[string]Reservation, limits.MaxPositions),
	}, nil
}

// Admit sizes sig and reserves one position slot, or returns a *VetoError.
func (g *Gate) Admit(sig signal.Signal) (AdmittedOrder, error) {
	distance := sig.StopDistance()
	size := g.limits.AccountBudget * g.limits.RiskPerTrade / distance
	if g.limits.MaxNotional > 0 && sig.Entry > 0 {
		size = math.Min(size, g.limits.MaxNotional/sig.Entry)
	}

	g.mu.Lock()
	open := len(g.reservations)
	// Sizing depends only on the signal, so a bad stop is reported as such even on a full book.
	if distance == 0 || !(size > 0) || math.IsInf(size, 0) {
		g.mu.Unlock()
		g.log.Info().Str("symbol", sig.Symbol).Str("reason", string(ReasonInvalidRiskDistance)).
			Float64("entry", sig.Entry).Float64("stop", sig.Stop).Msg("risk rejected")
		return AdmittedOrder{}, &VetoError{Reason: ReasonInvalidRiskDistance, Detail: fmt.Sprintf("entry=%v stop=%v", sig.Entry, sig.Stop)}
	}
	if open >= g.limits.MaxPositions {
		g.mu.Unlock()
		g.log.Info().Str("symbol", sig.Symbol).Str("reason", string(ReasonCapacityExceeded)).
			Int("open", open).Int("max", g.limits.MaxPositions).Msg("risk rejected")
		return AdmittedOrder{}, &VetoError{Reason: ReasonCapacityExceeded, Detail: fmt.Sprintf("open=%d max=%d", open, g.limits.MaxPositions)}
	}
	res := Reservation{
		ID:         uuid.NewString(),
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		Size:       size,
		ReservedAt: g.now().UTC(),
	}
	g.reservations[res.ID] = res
	open++
	g.mu.Unlock()

	sig.Size = size
	g.log.Info().Str("symbol", sig.Symbol).Str("direction", string(sig.Direction)).Float64("size", size).
		Str("reservation", res.ID).Int("open", open).Msg("risk approved")
	return AdmittedOrder{Reservation: res, Signal: sig}, nil
}

// Release frees the slot held by reservation id. It reports false for unknown or already released ids.
func (g *Gate) Release(id string) bool {
	g.mu.Lock()
	res, ok := g.reservations[id]
	if ok {
		delete(g.reservations, id)
	}
	open := len(g.reservations)
	g.mu.Unlock()

	if ok {
		g.log.Info().Str("symbol", res.Symbol).Str("reservation", id).Int("open", open).Msg("reservation released")
	}
	return ok
}

func (g *Gate) Open() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.reservations)
}

func (g *Gate) Stats() Stats {
	return Stats{Open: g.Open(), MaxPositions: g.limits.MaxPositions}
}

// Reservations returns a copy of the held reservations, oldest first.
func (g *Gate) Reservations() []Reservation {
	g.mu.Lock()
	out := make([]Reservation, 0, len(g.reservations))
	for _, r := range g.reservations {
		out = append(out, r)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReservedAt.Equal(out[j].ReservedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReservedAt.Before(out[j].ReservedAt)
	})
	return out
}
