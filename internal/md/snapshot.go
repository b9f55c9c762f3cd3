package md

import (
	"errors"
	"time"
)

var (
	// ErrDataUnavailable is the parent of every gateway failure. Symbols that hit it are skipped for the cycle.
	ErrDataUnavailable = errors.New("market data unavailable")
	ErrRateLimited     = dataError("rate_limited")
	ErrNotFound        = dataError("not_found")
	ErrNetwork         = dataError("network")
)

type gatewayError struct{ code string }

func dataError(code string) error { return &gatewayError{code: code} }

func (e *gatewayError) Error() string { return e.code }

func (e *gatewayError) Is(target error) bool { return target == ErrDataUnavailable }

// Code returns the reason code carried by a gateway error, or "" if err is not one.
func Code(err error) string {
	var ge *gatewayError
	if errors.As(err, &ge) {
		return ge.code
	}
	return ""
}

type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Snapshot is the price history for one symbol, oldest bar first.
type Snapshot struct {
	Symbol    string
	FetchedAt time.Time
	Bars      []Bar
}

func (s *Snapshot) Closes() []float64 {
	closes := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		closes[i] = b.Close
	}
	return closes
}

func (s *Snapshot) Last() (Bar, bool) {
	if s == nil || len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}
