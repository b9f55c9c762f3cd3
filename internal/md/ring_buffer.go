package md

import (
	"errors"
	"math"
)

type RingBuffer struct {
	values []float64
	size   int
	index  int
	filled bool
}

func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		values: make([]float64, size),
		size:   size,
	}
}

// RingBufferOf loads the trailing size values of series into a new buffer.
func RingBufferOf(size int, series []float64) *RingBuffer {
	r := NewRingBuffer(size)
	for _, v := range series {
		r.Add(v)
	}
	return r
}

func (r *RingBuffer) Add(value float64) {
	r.values[r.index] = value
	r.index = (r.index + 1) % r.size
	if r.index == 0 {
		r.filled = true
	}
}

func (r *RingBuffer) Len() int {
	if r.filled {
		return r.size
	}
	return r.index
}

func (r *RingBuffer) Values() []float64 {
	length := r.Len()
	result := make([]float64, 0, length)
	if length == 0 {
		return result
	}
	if r.filled {
		result = append(result, r.values[r.index:]...)
	}
	result = append(result, r.values[:r.index]...)
	return result
}

func (r *RingBuffer) tail(window int) ([]float64, error) {
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}
	values := r.Values()
	if len(values) < window {
		return nil, errors.New("not enough data for window")
	}
	return values[len(values)-window:], nil
}

func (r *RingBuffer) SMA(window int) (float64, error) {
	values, err := r.tail(window)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(window), nil
}

// Extremes returns the lowest and highest value over the trailing window.
func (r *RingBuffer) Extremes(window int) (lo, hi float64, err error) {
	values, err := r.tail(window)
	if err != nil {
		return 0, 0, err
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, nil
}
