package alias

import (
	"math"
	"testing"
)

func uniform(n int) []float64 {
	p := make([]float64, n)
	for i := range p {
		p[i] = 1.0 / float64(n)
	}
	return p
}

func TestSamplerFaithfulness(t *testing.T) {
	cases := map[string][]float64{
		"uniform-2":  uniform(2),
		"uniform-10": uniform(10),
		"uniform-50": uniform(50),
		"skewed-2":   {0.1, 0.9},
		"skewed-10":  {0.02, 0.02, 0.02, 0.02, 0.02, 0.1, 0.2, 0.2, 0.2, 0.2},
	}

	const draws = 10_000_000

	for name, probs := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := New(probs, 42)
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			counts := make([]int, len(probs))
			for i := 0; i < draws; i++ {
				counts[s.Sample()]++
			}

			for i, p := range probs {
				if p == 0 {
					continue
				}
				empirical := float64(counts[i]) / float64(draws)
				rel := math.Abs(empirical-p) / p
				if rel > 0.01 {
					t.Errorf("bucket %d: target %v, empirical %v, relative error %v > 1%%", i, p, empirical, rel)
				}
			}
		})
	}
}

func TestSamplerRejectsInvalidInput(t *testing.T) {
	cases := map[string][]float64{
		"sums-too-low":  {0.1, 0.1},
		"sums-too-high": {0.6, 0.6},
		"negative":      {-0.1, 1.1},
		"empty":         {},
	}
	for name, probs := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(probs, 1); err == nil {
				t.Errorf("New(%v): expected error, got none", probs)
			}
		})
	}
}

func TestSamplerDeterministicPerSeed(t *testing.T) {
	probs := []float64{0.25, 0.25, 0.25, 0.25}
	a, err := New(probs, 7)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(probs, 7)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 1000; i++ {
		if a.Sample() != b.Sample() {
			t.Fatalf("samplers with identical seed diverged at draw %d", i)
		}
	}
}
