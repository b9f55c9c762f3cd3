package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigworker/internal/md"
)

func series(symbol string, closes ...float64) *md.Snapshot {
	start := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	bars := make([]md.Bar, len(closes))
	for i, c := range closes {
		bars[i] = md.Bar{Timestamp: start.Add(time.Duration(i) * time.Minute), Open: c, High: c + 0.5, Low: c - 0.5, Close: c}
	}
	return &md.Snapshot{Symbol: symbol, Bars: bars}
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestTrendAnalyzerLongOnUptrend(t *testing.T) {
	a := NewTrendAnalyzer(5, 20, 10, 14)
	v, err := a.Analyze("AAPL", series("AAPL", ramp(30, 100, 1)...))
	require.NoError(t, err)

	assert.Equal(t, Long, v.Direction)
	assert.Equal(t, "uptrend", v.Reason)
	assert.InDelta(t, 1.0, v.Confidence, 1e-9)
	assert.Equal(t, 129.0, v.Metrics.LastClose)
	assert.Greater(t, v.Metrics.FastSMA, v.Metrics.SlowSMA)
	assert.InDelta(t, 1.5, v.Metrics.ATR, 1e-9)
	assert.Equal(t, 109.5, v.Metrics.Support)
	assert.Equal(t, 129.5, v.Metrics.Resistance)
}

func TestTrendAnalyzerShortOnDowntrend(t *testing.T) {
	a := NewTrendAnalyzer(5, 20, 10, 14)
	v, err := a.Analyze("MSFT", series("MSFT", ramp(30, 200, -1)...))
	require.NoError(t, err)

	assert.Equal(t, Short, v.Direction)
	assert.Less(t, v.Metrics.Momentum, 0.0)
}

func TestTrendAnalyzerFlatMarketHasNoDirection(t *testing.T) {
	a := NewTrendAnalyzer(5, 20, 10, 14)
	v, err := a.Analyze("FLAT", series("FLAT", ramp(30, 50, 0)...))
	require.NoError(t, err)

	assert.Equal(t, None, v.Direction)
	assert.Equal(t, "mixed_signals", v.Reason)
	assert.Zero(t, v.Confidence)
}

func TestTrendAnalyzerInsufficientDataIsNotAnError(t *testing.T) {
	a := NewTrendAnalyzer(5, 20, 10, 14)
	v, err := a.Analyze("AAPL", series("AAPL", ramp(8, 100, 1)...))
	require.NoError(t, err)
	assert.Equal(t, None, v.Direction)
	assert.Equal(t, ReasonInsufficientData, v.Reason)

	v, err = a.Analyze("AAPL", &md.Snapshot{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, ReasonInsufficientData, v.Reason)
}

func TestAnalyzersRejectMalformedSnapshots(t *testing.T) {
	outOfOrder := series("AAPL", ramp(25, 100, 1)...)
	outOfOrder.Bars[3].Timestamp = outOfOrder.Bars[2].Timestamp

	negative := series("AAPL", ramp(25, 100, 1)...)
	negative.Bars[10].Close = -1

	cases := map[string]*md.Snapshot{
		"nil":             nil,
		"symbol mismatch": series("MSFT", ramp(25, 100, 1)...),
		"out of order":    outOfOrder,
		"negative close":  negative,
	}
	analyzers := map[string]Analyzer{
		"trend":          NewTrendAnalyzer(5, 20, 10, 14),
		"mean reversion": NewMeanReversion(20, 14),
	}
	for aname, a := range analyzers {
		for name, snap := range cases {
			t.Run(aname+"/"+name, func(t *testing.T) {
				_, err := a.Analyze("AAPL", snap)
				assert.ErrorIs(t, err, ErrMalformedSnapshot)
			})
		}
	}
}

func TestMeanReversionBands(t *testing.T) {
	a := NewMeanReversion(20, 14)

	dip := append(ramp(24, 100, 0), 95)
	v, err := a.Analyze("AAPL", series("AAPL", dip...))
	require.NoError(t, err)
	assert.Equal(t, Long, v.Direction)
	assert.Equal(t, "price_below_lower_band", v.Reason)
	assert.Greater(t, v.Confidence, 0.5)

	spike := append(ramp(24, 100, 0), 105)
	v, err = a.Analyze("AAPL", series("AAPL", spike...))
	require.NoError(t, err)
	assert.Equal(t, Short, v.Direction)

	v, err = a.Analyze("AAPL", series("AAPL", ramp(25, 100, 0)...))
	require.NoError(t, err)
	assert.Equal(t, None, v.Direction)
	assert.Equal(t, "within_bands", v.Reason)
}

func TestByName(t *testing.T) {
	a, err := ByName(KindTrend, 5, 20, 10, 14)
	require.NoError(t, err)
	assert.IsType(t, TrendAnalyzer{}, a)

	a, err = ByName(KindMeanReversion, 5, 20, 10, 14)
	require.NoError(t, err)
	assert.Equal(t, NewMeanReversion(20, 14), a)

	_, err = ByName("llm", 5, 20, 10, 14)
	assert.Error(t, err)
}
