// Package signal converts analysis verdicts into candidate orders.
package signal

import (
	"sigworker/internal/analysis"
)

// Signal is a candidate order. Size stays zero until the risk gate admits it.
type Signal struct {
	Symbol     string             `json:"symbol"`
	Direction  analysis.Direction `json:"direction"`
	Entry      float64            `json:"entry"`
	Stop       float64            `json:"stop"`
	Target     float64            `json:"target"`
	Size       float64            `json:"size"`
	Confidence float64            `json:"confidence"`
	Reason     string             `json:"reason"`
}

// StopDistance is |entry - stop|.
func (s Signal) StopDistance() float64 {
	if s.Entry > s.Stop {
		return s.Entry - s.Stop
	}
	return s.Stop - s.Entry
}

// Builder applies a confidence threshold and a fixed risk:reward policy.
type Builder struct {
	MinConfidence   float64
	RewardRatio     float64 // target distance = RewardRatio x stop distance
	StopATRMultiple float64 // stop distance = StopATRMultiple x ATR
}

func NewBuilder(minConfidence, rewardRatio, stopATRMultiple float64) Builder {
	if rewardRatio <= 0 {
		rewardRatio = 2
	}
	if stopATRMultiple <= 0 {
		stopATRMultiple = 1.5
	}
	return Builder{
		MinConfidence:   minConfidence,
		RewardRatio:     rewardRatio,
		StopATRMultiple: stopATRMultiple,
	}
}

// Build returns false when the verdict carries no direction or too little confidence.
func (b Builder) Build(v analysis.Verdict) (Signal, bool) {
	if v.Direction != analysis.Long && v.Direction != analysis.Short {
		return Signal{}, false
	}
	if v.Confidence < b.MinConfidence {
		return Signal{}, false
	}

	entry := v.Metrics.LastClose
	distance := v.Metrics.ATR * b.StopATRMultiple
	sig := Signal{
		Symbol:     v.Symbol,
		Direction:  v.Direction,
		Entry:      entry,
		Confidence: v.Confidence,
		Reason:     v.Reason,
	}
	if v.Direction == analysis.Long {
		sig.Stop = entry - distance
		sig.Target = entry + b.RewardRatio*distance
	} else {
		sig.Stop = entry + distance
		sig.Target = entry - b.RewardRatio*distance
	}
	return sig, true
}
