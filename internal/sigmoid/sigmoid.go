// Package sigmoid evaluates the logistic function at training precision.
//
// Ported from koan's sigmoid.h: sigma(x) is computed as tanh(x/2)/2 + 1/2 so
// that the extremes saturate cleanly to 0 and 1 instead of overflowing. The
// Fast table gives an O(1) lookup on the training hot path; Exact is used
// only for numerical gradient checking, where table quantization would mask
// the thing being tested.
package sigmoid

import (
	"math"

	"github.com/alexandres/koanvec/internal/numeric"
)

// MinInLoss clamps sigma from below before taking its log, so loss terms
// never see log(0). It is the smallest nonzero entry the Fast table can
// produce.
const MinInLoss = 3.40641e-4

const (
	tableFactor = 64 // samples per unit
	tableWindow = 8  // units covered on each side of zero
)

// Table is a precomputed lookup approximation of sigma(x) over
// [-tableWindow, +tableWindow], used on the training hot path.
type Table[F numeric.Float] struct {
	entries []F
}

// NewTable builds the fixed-size sigmoid lookup table.
func NewTable[F numeric.Float]() *Table[F] {
	n := tableFactor*tableWindow*2 + 1
	entries := make([]F, n)
	for i := range entries {
		x := (float64(i) - tableFactor*tableWindow) / tableFactor
		entries[i] = F(math.Tanh(x*0.5)*0.5 + 0.5)
	}
	entries[0] = 0
	entries[len(entries)-1] = 1
	return &Table[F]{entries: entries}
}

// Eval returns the table-approximated sigma(x), clamping x to the table's
// window before indexing.
func (t *Table[F]) Eval(x F) F {
	lo, hi := F(-tableWindow), F(tableWindow)
	if x < lo {
		x = lo
	} else if x > hi {
		x = hi
	}
	idx := int(float64(x)*tableFactor + tableFactor*tableWindow)
	if idx < 0 {
		idx = 0
	} else if idx >= len(t.entries) {
		idx = len(t.entries) - 1
	}
	return t.entries[idx]
}

// Exact evaluates sigma(x) directly via tanh, with no table quantization.
// Used on the gradient-check path, where the analytic and numerical
// gradients must agree to floating-point precision.
func Exact[F numeric.Float](x F) F {
	return F(math.Tanh(float64(x)*0.5)*0.5 + 0.5)
}
