// Package sim produces synthetic force readings when no radio is available.
package sim

import (
	"math"
	"math/rand/v2"
	"sync"
)

// Default walk parameters
const (
	DefaultStart     = 500.0
	DefaultStep      = 50.0
	DefaultSingleMax = 1000.0
	DefaultDualMax   = 1500.0
)

// Walk is a bounded random walk: each step moves by U(-Step, +Step) and is
// clamped to [0, Max]. Values are rounded to one decimal place.
type Walk struct {
	mu    sync.Mutex
	value float64
	step  float64
	max   float64
	rng   *rand.Rand
}

// NewWalk creates a walk starting at start. A nil rng uses a randomly seeded source.
func NewWalk(start, step, max float64, rng *rand.Rand) *Walk {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if max < 0 {
		max = 0
	}
	return &Walk{
		value: clamp(start, 0, max),
		step:  math.Abs(step),
		max:   max,
		rng:   rng,
	}
}

// Fork returns an independent generator seeded from rng, so walks built from
// one seed never share generator state. A nil rng forks from the global source.
func Fork(rng *rand.Rand) *rand.Rand {
	if rng == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64()))
}

// Next advances the walk and returns the new value
func (w *Walk) Next() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	delta := (w.rng.Float64()*2 - 1) * w.step
	w.value = round1(clamp(w.value+delta, 0, w.max))
	return w.value
}

// Current returns the last value without advancing
func (w *Walk) Current() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// Max returns the upper bound of the walk
func (w *Walk) Max() float64 {
	return w.max
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
