// Package alias implements Vose's alias method for O(1) sampling from a
// fixed categorical distribution.
//
// Ported from koan's sample.h AliasSampler. One Sampler is owned per worker
// thread, each with its own PRNG seeded deterministically so that training
// is reproducible for a fixed thread count.
package alias

import (
	"fmt"
	"math/rand"
)

const probSumTolerance = 1e-4

// Sampler draws indices in [0, n) in O(1) time according to a fixed
// probability vector, via Vose's alias method.
type Sampler struct {
	prob  []float64
	alias []int
	rng   *rand.Rand
}

// New builds an alias table for probs. probs must be non-negative and sum
// to 1 within probSumTolerance; otherwise New returns an error instead of
// constructing a sampler over garbage input.
func New(probs []float64, seed int64) (*Sampler, error) {
	n := len(probs)
	if n == 0 {
		return nil, fmt.Errorf("alias: empty probability vector")
	}

	var sum float64
	for _, p := range probs {
		if p < 0 {
			return nil, fmt.Errorf("alias: negative probability %v", p)
		}
		sum += p
	}
	if sum < 1-probSumTolerance || sum > 1+probSumTolerance {
		return nil, fmt.Errorf("alias: probabilities sum to %v, want 1±%v", sum, probSumTolerance)
	}

	prob := make([]float64, n)
	aliasIdx := make([]int, n)

	scaled := make([]float64, n)
	for i, p := range probs {
		scaled[i] = p * float64(n)
	}

	small := make([]int, 0, n)
	large := make([]int, 0, n)
	for i, s := range scaled {
		if s < 1.0 {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}

	for len(small) > 0 && len(large) > 0 {
		l := small[len(small)-1]
		small = small[:len(small)-1]
		g := large[len(large)-1]
		large = large[:len(large)-1]

		prob[l] = scaled[l]
		aliasIdx[l] = g
		scaled[g] = (scaled[g] + scaled[l]) - 1
		if scaled[g] < 1.0 {
			small = append(small, g)
		} else {
			large = append(large, g)
		}
	}

	for _, g := range large {
		prob[g] = 1.0
	}
	for _, l := range small {
		prob[l] = 1.0
	}

	return &Sampler{
		prob:  prob,
		alias: aliasIdx,
		rng:   rand.New(rand.NewSource(seed)),
	}, nil
}

// Sample draws one index in [0, len(probs)) according to the distribution
// the Sampler was built from.
func (s *Sampler) Sample() int {
	bucket := s.rng.Intn(len(s.prob))
	r := s.rng.Float64()
	if r <= s.prob[bucket] {
		return bucket
	}
	return s.alias[bucket]
}

// NumClasses returns n, the size of the distribution.
func (s *Sampler) NumClasses() int {
	return len(s.prob)
}
