// Package grading turns a peak force into the kicking drill's accuracy and letter grade.
package grading

import (
	"math"

	"github.com/ctc/forcemon/pkg/config"
)

// Grader scores forces against one tuning of the accuracy curve
type Grader struct {
	cfg config.GradingConfig
}

// New returns a Grader for cfg; a non-positive exponent is treated as linear
func New(cfg config.GradingConfig) *Grader {
	if cfg.Exponent <= 0 {
		cfg.Exponent = 1
	}
	return &Grader{cfg: cfg}
}

// Accuracy is 100 * min(1, force/threshold)^exponent, in [0, 100]
func (g *Grader) Accuracy(force float64) float64 {
	if g.cfg.Threshold <= 0 || math.IsNaN(force) || force <= 0 {
		return 0
	}
	ratio := math.Min(1, force/g.cfg.Threshold)
	return 100 * math.Pow(ratio, g.cfg.Exponent)
}

// Letter maps an accuracy to A, B, C, D or F
func (g *Grader) Letter(accuracy float64) string {
	switch {
	case accuracy >= g.cfg.CutoffA:
		return "A"
	case accuracy >= g.cfg.CutoffB:
		return "B"
	case accuracy >= g.cfg.CutoffC:
		return "C"
	case accuracy >= g.cfg.CutoffD:
		return "D"
	default:
		return "F"
	}
}

// Score returns both the accuracy and its letter
func (g *Grader) Score(force float64) (float64, string) {
	acc := g.Accuracy(force)
	return acc, g.Letter(acc)
}
