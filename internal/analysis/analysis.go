// Package analysis turns a market snapshot into a directional verdict.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"sigworker/internal/md"
)

type Direction string

const (
	None  Direction = "none"
	Long  Direction = "long"
	Short Direction = "short"
)

// ErrMalformedSnapshot marks input the pipeline cannot reason about at all.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

const ReasonInsufficientData = "insufficient_data"

type Metrics struct {
	LastClose  float64 `json:"last_close"`
	FastSMA    float64 `json:"fast_sma,omitempty"`
	SlowSMA    float64 `json:"slow_sma,omitempty"`
	Trend      float64 `json:"trend"`
	Momentum   float64 `json:"momentum"`
	Support    float64 `json:"support,omitempty"`
	Resistance float64 `json:"resistance,omitempty"`
	ATR        float64 `json:"atr"`
}

type Verdict struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	Metrics    Metrics   `json:"metrics"`
}

// Analyzer must be pure with respect to process state: it reads only the snapshot.
type Analyzer interface {
	Analyze(symbol string, snapshot *md.Snapshot) (Verdict, error)
}

const (
	KindTrend         = "trend"
	KindMeanReversion = "mean_reversion"
)

// ByName builds one of the shipped analyzers. The mean reversion bands use the slow window.
func ByName(kind string, fast, slow, momentum, atr int) (Analyzer, error) {
	switch kind {
	case "", KindTrend:
		return NewTrendAnalyzer(fast, slow, momentum, atr), nil
	case KindMeanReversion:
		return NewMeanReversion(slow, atr), nil
	}
	return nil, fmt.Errorf("unknown analyzer %q", kind)
}

func noSignal(symbol, reason string, m Metrics) Verdict {
	return Verdict{Symbol: symbol, Direction: None, Reason: reason, Metrics: m}
}

func checkSnapshot(symbol string, snapshot *md.Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("%w: nil snapshot for %s", ErrMalformedSnapshot, symbol)
	}
	if snapshot.Symbol != symbol {
		return fmt.Errorf("%w: snapshot for %q analysed as %q", ErrMalformedSnapshot, snapshot.Symbol, symbol)
	}
	for i, b := range snapshot.Bars {
		if !(b.Close > 0) || !(b.High > 0) || !(b.Low > 0) || math.IsInf(b.Close, 0) {
			return fmt.Errorf("%w: non-positive price in bar %d", ErrMalformedSnapshot, i)
		}
		if b.High < b.Low {
			return fmt.Errorf("%w: high below low in bar %d", ErrMalformedSnapshot, i)
		}
		if i > 0 && !b.Timestamp.After(snapshot.Bars[i-1].Timestamp) {
			return fmt.Errorf("%w: bars out of order at %d", ErrMalformedSnapshot, i)
		}
	}
	return nil
}

// averageTrueRange is the mean true range over the trailing window bars.
func averageTrueRange(bars []md.Bar, window int) float64 {
	if window <= 0 || len(bars) < window+1 {
		return 0
	}
	sum := 0.0
	for i := len(bars) - window; i < len(bars); i++ {
		prev := bars[i-1].Close
		tr := math.Max(bars[i].High-bars[i].Low, math.Max(math.Abs(bars[i].High-prev), math.Abs(bars[i].Low-prev)))
		sum += tr
	}
	return sum / float64(window)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
