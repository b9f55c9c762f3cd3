package analysis

import (
	"math"

	"sigworker/internal/md"
)

// MeanReversion fades moves outside a band around the SMA: long below the lower band, short above the upper.
type MeanReversion struct {
	Window    int
	ATRWindow int
	BandPct   float64 // e.g. 0.015 for 1.5% bands
}

func NewMeanReversion(window, atrWindow int) MeanReversion {
	return MeanReversion{
		Window:    window,
		ATRWindow: atrWindow,
		BandPct:   0.015,
	}
}

func (m MeanReversion) Analyze(symbol string, snapshot *md.Snapshot) (Verdict, error) {
	if err := checkSnapshot(symbol, snapshot); err != nil {
		return Verdict{}, err
	}
	last, ok := snapshot.Last()
	if !ok || len(snapshot.Bars) < max(m.Window, m.ATRWindow+1) {
		return noSignal(symbol, ReasonInsufficientData, Metrics{LastClose: last.Close}), nil
	}

	sma, _ := md.RingBufferOf(m.Window, snapshot.Closes()).SMA(m.Window)
	deviation := (last.Close - sma) / sma
	metrics := Metrics{
		LastClose:  last.Close,
		SlowSMA:    sma,
		Trend:      deviation,
		Support:    sma * (1 - m.BandPct),
		Resistance: sma * (1 + m.BandPct),
		ATR:        averageTrueRange(snapshot.Bars, m.ATRWindow),
	}
	if math.Abs(deviation) <= m.BandPct {
		return noSignal(symbol, "within_bands", metrics), nil
	}

	v := Verdict{
		Symbol:     symbol,
		Confidence: clamp01(math.Abs(deviation) / (2 * m.BandPct)),
		Metrics:    metrics,
	}
	if deviation < 0 {
		v.Direction, v.Reason = Long, "price_below_lower_band"
	} else {
		v.Direction, v.Reason = Short, "price_above_upper_band"
	}
	return v, nil
}
