package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigworker/internal/analysis"
)

func verdict(dir analysis.Direction, confidence, close, atr float64) analysis.Verdict {
	return analysis.Verdict{
		Symbol:     "AAPL",
		Direction:  dir,
		Confidence: confidence,
		Reason:     "test",
		Metrics:    analysis.Metrics{LastClose: close, ATR: atr},
	}
}

func TestBuildLongUsesRewardRatio(t *testing.T) {
	b := NewBuilder(0.5, 2, 1)
	sig, ok := b.Build(verdict(analysis.Long, 0.8, 100, 2))
	require.True(t, ok)

	assert.Equal(t, "AAPL", sig.Symbol)
	assert.Equal(t, 100.0, sig.Entry)
	assert.Equal(t, 98.0, sig.Stop)
	assert.Equal(t, 104.0, sig.Target)
	assert.Equal(t, 2.0, sig.StopDistance())
	assert.Zero(t, sig.Size)
}

func TestBuildShortMirrorsStopAndTarget(t *testing.T) {
	b := NewBuilder(0.5, 3, 1.5)
	sig, ok := b.Build(verdict(analysis.Short, 0.9, 50, 2))
	require.True(t, ok)

	assert.Equal(t, 53.0, sig.Stop)
	assert.Equal(t, 41.0, sig.Target)
	assert.Equal(t, 3.0, sig.StopDistance())
}

func TestBuildEmitsNothing(t *testing.T) {
	b := NewBuilder(0.5, 2, 1.5)

	_, ok := b.Build(verdict(analysis.None, 1, 100, 2))
	assert.False(t, ok, "none direction")

	_, ok = b.Build(verdict(analysis.Long, 0.49, 100, 2))
	assert.False(t, ok, "below confidence threshold")

	_, ok = b.Build(verdict(analysis.Long, 0.5, 100, 2))
	assert.True(t, ok, "threshold is inclusive")
}

func TestBuildZeroATRCollapsesStopOntoEntry(t *testing.T) {
	sig, ok := NewBuilder(0, 2, 1.5).Build(verdict(analysis.Long, 1, 100, 0))
	require.True(t, ok)
	assert.Equal(t, sig.Entry, sig.Stop)
}

func TestNewBuilderDefaults(t *testing.T) {
	b := NewBuilder(0.3, 0, 0)
	assert.Equal(t, 2.0, b.RewardRatio)
	assert.Equal(t, 1.5, b.StopATRMultiple)
}
