package analysis

import (
	"math"

	"sigworker/internal/md"
)

// TrendAnalyzer follows fast/slow moving-average alignment confirmed by momentum.
type TrendAnalyzer struct {
	FastWindow     int
	SlowWindow     int
	MomentumWindow int
	ATRWindow      int
	// Trend and momentum magnitudes at which each contributes full confidence.
	TrendScale    float64
	MomentumScale float64
}

func NewTrendAnalyzer(fast, slow, momentum, atr int) TrendAnalyzer {
	return TrendAnalyzer{
		FastWindow:     fast,
		SlowWindow:     slow,
		MomentumWindow: momentum,
		ATRWindow:      atr,
		TrendScale:     0.01,
		MomentumScale:  0.02,
	}
}

func (a TrendAnalyzer) required() int {
	n := a.SlowWindow
	if a.MomentumWindow+1 > n {
		n = a.MomentumWindow + 1
	}
	if a.ATRWindow+1 > n {
		n = a.ATRWindow + 1
	}
	return n
}

func (a TrendAnalyzer) Analyze(symbol string, snapshot *md.Snapshot) (Verdict, error) {
	if err := checkSnapshot(symbol, snapshot); err != nil {
		return Verdict{}, err
	}
	bars := snapshot.Bars
	last, ok := snapshot.Last()
	if !ok || len(bars) < a.required() {
		return noSignal(symbol, ReasonInsufficientData, Metrics{LastClose: last.Close}), nil
	}

	closes := md.RingBufferOf(a.SlowWindow, snapshot.Closes())
	fast, _ := closes.SMA(a.FastWindow)
	slow, _ := closes.SMA(a.SlowWindow)

	lows := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	for i, b := range bars {
		lows[i], highs[i] = b.Low, b.High
	}
	support, _, _ := md.RingBufferOf(a.SlowWindow, lows).Extremes(a.SlowWindow)
	_, resistance, _ := md.RingBufferOf(a.SlowWindow, highs).Extremes(a.SlowWindow)

	past := bars[len(bars)-1-a.MomentumWindow].Close
	m := Metrics{
		LastClose:  last.Close,
		FastSMA:    fast,
		SlowSMA:    slow,
		Trend:      (fast - slow) / slow,
		Momentum:   (last.Close - past) / past,
		Support:    support,
		Resistance: resistance,
		ATR:        averageTrueRange(bars, a.ATRWindow),
	}

	var dir Direction
	switch {
	case m.Trend > 0 && m.Momentum > 0 && last.Close > slow:
		dir = Long
	case m.Trend < 0 && m.Momentum < 0 && last.Close < slow:
		dir = Short
	default:
		return noSignal(symbol, "mixed_signals", m), nil
	}

	confidence := 0.5*clamp01(math.Abs(m.Trend)/a.TrendScale) + 0.5*clamp01(math.Abs(m.Momentum)/a.MomentumScale)
	reason := "uptrend"
	if dir == Short {
		reason = "downtrend"
	}
	return Verdict{Symbol: symbol, Direction: dir, Confidence: confidence, Reason: reason, Metrics: m}, nil
}
