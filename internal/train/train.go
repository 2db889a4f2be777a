// Package train drives the epoch loop: pulling batches from a reader,
// fanning each batch's sentences out across worker threads via the
// parallel package, and scheduling the learning rate across the run.
//
// Grounded on koan.cpp's main(): the epoch/batch/global_i bookkeeping,
// the linear learning-rate schedule, and the per-epoch retention-ratio
// report are ported directly; progress/counter display is generalized
// into the logging package instead of a terminal progress bar library.
package train

import (
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/alexandres/koanvec/internal/numeric"
	"github.com/alexandres/koanvec/internal/parallel"
	"github.com/alexandres/koanvec/internal/reader"
	"github.com/alexandres/koanvec/internal/trainer"
)

// shuffleSeed matches koan.cpp's std::mt19937 g(12345), the single
// generator used to shuffle sentence order within a batch across the
// entire run (not reseeded per epoch or per batch).
const shuffleSeed = 12345

// Config are the run-level training parameters layered on top of
// trainer.Params, kept as a separate record per the original design: one
// struct names "how the math works" (trainer.Params), the other names
// "how the run is scheduled" (Config).
type Config struct {
	Epochs int
	CBOW   bool

	InitLR float64
	MinLR  float64

	// StartLRScheduleEpoch/MaxLRScheduleEpochs let the schedule pretend
	// training starts partway through a longer run, e.g. when resuming.
	StartLRScheduleEpoch int
	MaxLRScheduleEpochs  int

	// TotalSentences enables LR scheduling when known in advance (e.g.
	// from a prior vocab build). Zero disables
	// scheduling: every sentence trains at InitLR.
	TotalSentences uint64

	Shuffle     bool
	Partitioned bool
	Threads     int
}

// EpochStats summarizes one epoch's pass over the corpus.
type EpochStats struct {
	Sentences         uint64
	TokensTrained     uint64 // tokens that survived subsampling
	TokensTotal       uint64 // tokens seen before subsampling
	FinalLR           float64
}

// RetentionRatio returns the fraction of tokens that survived
// subsampling this epoch, matching koan.cpp's "% of tokens were retained
// while filtering" report.
func (s EpochStats) RetentionRatio() float64 {
	if s.TokensTotal == 0 {
		return 0
	}
	return float64(s.TokensTrained) / float64(s.TokensTotal)
}

// lrAt computes the linearly scheduled learning rate at global sentence
// position pos within an epoch-0-indexed run, per gensim's base_any2vec
// schedule (ported verbatim from koan.cpp's inline lr_sched computation).
func lrAt(cfg Config, epoch int, pos uint64) float64 {
	if cfg.TotalSentences == 0 {
		return cfg.InitLR
	}
	sched := float64(epoch+cfg.StartLRScheduleEpoch)/float64(cfg.MaxLRScheduleEpochs) +
		(float64(pos)/float64(cfg.TotalSentences))/float64(cfg.MaxLRScheduleEpochs)
	return cfg.InitLR - (cfg.InitLR-cfg.MinLR)*sched
}

// Run executes cfg.Epochs passes over rdr, training tr on each batch of
// sentences rdr yields. onEpochDone, if non-nil, is called after each
// epoch with that epoch's stats (used by the CLI to report progress).
func Run[F numeric.Float](tr *trainer.Trainer[F], rdr reader.Reader, cfg Config, onEpochDone func(epoch int, stats EpochStats)) error {
	shuffleRNG := rand.New(rand.NewSource(shuffleSeed))

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		var sents, tokensTrained, tokensTotal atomic.Uint64
		var lastLR atomic.Uint64 // bits of the last-observed float64 lr
		var globalI uint64

		for {
			batch, ok, err := rdr.GetNext()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if len(batch) == 0 {
				continue
			}

			perm := make([]int, len(batch))
			for i := range perm {
				perm[i] = i
			}
			if cfg.Shuffle {
				shuffleRNG.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
			}

			strategy := parallel.Atomic
			if cfg.Partitioned {
				strategy = parallel.Partitioned
			}

			batchStart := globalI
			parallel.Run(len(batch), cfg.Threads, strategy, func(tid, i int) {
				s := batch[perm[i]]
				lr := lrAt(cfg, epoch, batchStart+uint64(i))
				storeFloat(&lastLR, lr)

				remaining := tr.TrainSentence(s.Words, tid, F(lr), cfg.CBOW)
				sents.Add(1)
				tokensTrained.Add(uint64(remaining))
				tokensTotal.Add(uint64(s.Len()))
			})

			globalI += uint64(len(batch))
		}

		stats := EpochStats{
			Sentences:     sents.Load(),
			TokensTrained: tokensTrained.Load(),
			TokensTotal:   tokensTotal.Load(),
			FinalLR:       loadFloat(&lastLR),
		}
		if onEpochDone != nil {
			onEpochDone(epoch, stats)
		}
	}
	return nil
}

func storeFloat(a *atomic.Uint64, f float64) {
	a.Store(math.Float64bits(f))
}

func loadFloat(a *atomic.Uint64) float64 {
	return math.Float64frombits(a.Load())
}
