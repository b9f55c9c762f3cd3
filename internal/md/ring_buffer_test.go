package md

import "testing"

func TestRingBufferSMA(t *testing.T) {
	buffer := NewRingBuffer(5)
	values := []float64{1, 2, 3, 4, 5}
	for _, v := range values {
		buffer.Add(v)
	}

	sma, err := buffer.SMA(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := (3.0 + 4.0 + 5.0) / 3.0
	if sma != expected {
		t.Fatalf("expected SMA %.2f, got %.2f", expected, sma)
	}
}

func TestRingBufferSMAInsufficientData(t *testing.T) {
	buffer := NewRingBuffer(5)
	buffer.Add(1)

	if _, err := buffer.SMA(3); err == nil {
		t.Fatalf("expected error for insufficient data")
	}
}

func TestRingBufferWrapsAndKeepsOrder(t *testing.T) {
	buffer := RingBufferOf(3, []float64{1, 2, 3, 4, 5})
	got := buffer.Values()
	want := []float64{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRingBufferExtremes(t *testing.T) {
	buffer := RingBufferOf(6, []float64{4, 9, 1, 7, 3, 5})
	lo, hi, err := buffer.Extremes(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lo != 1 || hi != 7 {
		t.Fatalf("expected lo=1 hi=7, got lo=%v hi=%v", lo, hi)
	}
	if _, _, err := buffer.Extremes(7); err == nil {
		t.Fatalf("expected error for window beyond data")
	}
}
