package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alexandres/koanvec/internal/embedding"
	"github.com/alexandres/koanvec/internal/reader"
	"github.com/alexandres/koanvec/internal/train"
	"github.com/alexandres/koanvec/internal/trainer"
	"github.com/alexandres/koanvec/internal/vocab"
)

var (
	trainCorpusPaths       []string
	trainDim               int
	trainCtxs              int
	trainNegatives         int
	trainInitLR            float64
	trainMinLR             float64
	trainMinCount          uint64
	trainDiscard           bool
	trainCBOW              bool
	trainUseBadUpdate      bool
	trainDownsampleTh      float64
	trainNSExponent        float64
	trainEpochs            int
	trainVocabSize         int
	trainVocabLoadPath     string
	trainTotalSentences    uint64
	trainThreads           int
	trainBufferSize        int
	trainOutputPath        string
	trainPretrainedPath    string
	trainContinueVocab     string
	trainReadMode          string
	trainShuffle           bool
	trainPartitioned       bool
	trainStartLRSchedEpoch int
	trainMaxLRSchedEpochs  int
	trainNoProgress        bool
	trainEnforceMaxLineLen bool
	trainPretrainedStore   string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train CBOW or Skip-Gram word embeddings by negative sampling",
	RunE:  runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.StringSliceVarP(&trainCorpusPaths, "corpus", "f", nil, "Paths to training files")
	f.IntVarP(&trainDim, "dim", "d", 200, "Word vector dimension")
	f.IntVarP(&trainCtxs, "context-size", "c", 5, "One-sided context size, excluding the center word")
	f.IntVarP(&trainNegatives, "negatives", "n", 5, "Number of negative samples per positive sample")
	f.Float64VarP(&trainInitLR, "learning-rate", "l", 0.025, "(Starting) learning rate; 0.075 recommended for --cbow")
	f.Float64VarP(&trainMinLR, "min-learning-rate", "m", 1e-4, "Minimum (ending) learning rate")
	f.Uint64VarP(&trainMinCount, "min-count", "k", 1, "Drop tokens occurring fewer than this many times")
	f.BoolVarP(&trainDiscard, "discard", "i", true, "If true, discard rare words instead of mapping them to UNK")
	f.BoolVarP(&trainCBOW, "cbow", "b", false, "If true, train with the CBOW objective instead of Skip-Gram")
	f.BoolVarP(&trainUseBadUpdate, "use-bad-update", "u", false, "If true, reproduce the non-normalized CBOW context gradient")
	f.Float64VarP(&trainDownsampleTh, "downsample-threshold", "o", 1e-3, "Subsampling threshold for frequent words")
	f.Float64VarP(&trainNSExponent, "ns-exponent", "x", 0.75, "Exponent for the negative sampling distribution")
	f.IntVarP(&trainEpochs, "epochs", "e", 1, "Training epochs")
	f.IntVarP(&trainVocabSize, "vocab-size", "V", 0, "Cap vocabulary to top n words instead of all (0 = unlimited)")
	f.StringVarP(&trainVocabLoadPath, "vocab", "a", "", "Load vocabulary from file instead of building it from the corpus")
	f.Uint64VarP(&trainTotalSentences, "total-sentences", "I", 0, "Total sentence count, for LR scheduling when --vocab is used")
	f.IntVarP(&trainThreads, "threads", "t", 1, "Number of worker threads")
	f.IntVarP(&trainBufferSize, "buffer-size", "B", 500_000, "Sentence buffer size for the streaming corpus reader")
	f.StringVarP(&trainOutputPath, "output", "p", "", "Path embeddings are saved to")
	f.StringVarP(&trainPretrainedPath, "pretrained-path", "r", "", "Continue training from an existing embedding table")
	f.StringVarP(&trainContinueVocab, "continue-vocab", "v", "union", "Which vocabulary to use when continuing training: old|new|union")
	f.StringVar(&trainReadMode, "read-mode", "auto", "How to read corpus files: text|gzip|auto")
	f.BoolVarP(&trainShuffle, "shuffle-sentences", "s", false, "Shuffle sentences within a batch before dispatching to worker threads")
	f.BoolVarP(&trainPartitioned, "partitioned", "L", false, "Use contiguous per-thread partitioning instead of atomic work-stealing")
	f.IntVarP(&trainStartLRSchedEpoch, "start-lr-schedule-epoch", "S", 0, "Schedule the learning rate as if training started at epoch n")
	f.IntVarP(&trainMaxLRSchedEpochs, "max-lr-schedule-epochs", "E", 0, "Schedule the learning rate as if training will last n epochs (0 = start-lr-schedule-epoch + epochs)")
	f.BoolVarP(&trainNoProgress, "no-progress", "P", false, "Suppress per-epoch progress logging")
	f.BoolVar(&trainEnforceMaxLineLen, "enforce-max-line-length", false, "Error instead of silently truncating overlong corpus lines")
	f.StringVar(&trainPretrainedStore, "pretrained-store", "map", "Backing store for pretrained vectors during overlay: map|leveldb")

	trainCmd.MarkFlagRequired("corpus")
}

func validateTrainFlags() error {
	if trainEpochs <= 0 {
		return fmt.Errorf("--epochs must be positive, got %d", trainEpochs)
	}
	if trainMaxLRSchedEpochs != 0 && trainMaxLRSchedEpochs < trainEpochs {
		return fmt.Errorf("--max-lr-schedule-epochs (%d) must be 0 or >= --epochs (%d)", trainMaxLRSchedEpochs, trainEpochs)
	}
	if trainMaxLRSchedEpochs == 0 {
		trainMaxLRSchedEpochs = trainStartLRSchedEpoch + trainEpochs
	}
	if trainStartLRSchedEpoch >= trainMaxLRSchedEpochs {
		return fmt.Errorf("--start-lr-schedule-epoch (%d) must be less than --max-lr-schedule-epochs (%d)", trainStartLRSchedEpoch, trainMaxLRSchedEpochs)
	}
	if trainVocabLoadPath != "" {
		if trainMinCount != 1 {
			return fmt.Errorf("--min-count must not be passed when --vocab is used")
		}
		if trainVocabSize != 0 {
			return fmt.Errorf("--vocab-size must not be passed when --vocab is used")
		}
	}
	if trainTotalSentences > 0 && trainVocabLoadPath == "" {
		return fmt.Errorf("--total-sentences must not be passed unless --vocab is used")
	}
	if trainNSExponent < 0 || trainNSExponent > 1 {
		return fmt.Errorf("--ns-exponent must be in [0, 1], got %v", trainNSExponent)
	}
	if trainContinueVocab != "old" && trainContinueVocab != "new" && trainContinueVocab != "union" {
		return fmt.Errorf("--continue-vocab must be one of old|new|union, got %q", trainContinueVocab)
	}
	if trainPretrainedStore != "map" && trainPretrainedStore != "leveldb" {
		return fmt.Errorf("--pretrained-store must be one of map|leveldb, got %q", trainPretrainedStore)
	}
	if trainDim <= 0 || trainCtxs <= 0 || trainThreads <= 0 || trainBufferSize <= 0 {
		return fmt.Errorf("--dim, --context-size, --threads, and --buffer-size must all be positive")
	}
	if trainOutputPath == "" {
		trainOutputPath = "embeddings.txt"
	}
	return nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	if err := validateTrainFlags(); err != nil {
		return err
	}
	if trainNoProgress {
		log.SetLevel("warn")
	}

	readMode := reader.ReadMode(trainReadMode)

	var pretrained map[string][]float64
	dim := trainDim
	if trainPretrainedPath != "" {
		p, pdim, err := embedding.LoadPretrained(trainPretrainedPath)
		if err != nil {
			return err
		}
		pretrained = p
		dim = pdim
		log.Infof("loaded %d pretrained vectors (dim=%d)", len(pretrained), dim)
	}

	var v *vocab.Vocabulary
	totalSentences := trainTotalSentences

	if trainVocabLoadPath != "" {
		loaded, err := vocab.Load(trainVocabLoadPath)
		if err != nil {
			return err
		}
		v = loaded
		if totalSentences > 0 {
			log.Infof("total training sentences: %d", totalSentences)
		}
	} else {
		log.Infof("building vocab from %d corpus file(s)", len(trainCorpusPaths))
		counts := make(map[string]uint64)
		var lines uint64
		err := reader.ReadAllLines(trainCorpusPaths, readMode, trainEnforceMaxLineLen, func(line string) error {
			for _, w := range vocab.SplitLine(line) {
				counts[w]++
			}
			lines++
			return nil
		})
		if err != nil {
			return fmt.Errorf("building vocab: %w", err)
		}
		totalSentences = lines

		built, err := vocab.BuildFromCounts(counts, vocab.BuildConfig{
			MinCount:      trainMinCount,
			MaxVocabSize:  trainVocabSize,
			Discard:       trainDiscard,
			Pretrained:    pretrained,
			ContinueVocab: trainContinueVocab,
		})
		if err != nil {
			return fmt.Errorf("building vocab: %w", err)
		}
		v = built

		vocabPath := trainOutputPath + ".vocab"
		if err := v.Save(vocabPath); err != nil {
			return err
		}
		log.Infof("wrote %d-token vocabulary to %s", v.Size(), vocabPath)
	}

	readWholeData := totalSentences > 0 && uint64(trainBufferSize) > totalSentences
	if readWholeData {
		log.Warnf("buffer size is larger than the total number of sentences -- loading entire corpus into memory once instead of streaming")
	}
	if totalSentences == 0 {
		log.Warnf("total number of sentences is unknown: learning-rate scheduling is disabled (pass --total-sentences with --vocab to enable)")
	}

	filterProbs := vocab.FilterProbs(v.Freqs, trainDownsampleTh)
	negProbs, err := vocab.NegProbs(v.Freqs, trainNSExponent)
	if err != nil {
		return err
	}

	table := embedding.NewRandom[float32](v.Size(), dim)
	ctx := embedding.NewZeros[float32](v.Size(), dim)

	if len(pretrained) > 0 {
		if trainPretrainedStore == "leveldb" {
			dbDir := filepath.Join(filepath.Dir(trainOutputPath), ".koanvec-pretrained")
			store, err := embedding.NewLevelDBStore(dbDir, pretrained, dim)
			if err != nil {
				return err
			}
			pretrained = nil // release the in-memory copy once the store owns it
			if err := embedding.ApplyPretrainedStore(table, v, store); err != nil {
				store.Close()
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}
		} else {
			if err := embedding.ApplyPretrained(table, v, pretrained); err != nil {
				return err
			}
		}
	}

	tr, err := trainer.New[float32](trainer.Params{
		Dim:          dim,
		Ctxs:         trainCtxs,
		Negatives:    trainNegatives,
		Threads:      trainThreads,
		UseBadUpdate: trainUseBadUpdate,
	}, table, ctx, filterProbs, negProbs, trainer.Fast)
	if err != nil {
		return err
	}

	var rdr reader.Reader
	if readWholeData {
		rdr = reader.NewOnceReader(trainCorpusPaths, readMode, v, trainEnforceMaxLineLen)
	} else {
		asyncRdr, err := reader.NewAsyncReader(trainCorpusPaths, readMode, v, trainBufferSize, trainEnforceMaxLineLen)
		if err != nil {
			return err
		}
		defer asyncRdr.Close()
		rdr = asyncRdr
	}

	cfg := train.Config{
		Epochs:               trainEpochs,
		CBOW:                 trainCBOW,
		InitLR:               trainInitLR,
		MinLR:                trainMinLR,
		StartLRScheduleEpoch: trainStartLRSchedEpoch,
		MaxLRScheduleEpochs:  trainMaxLRSchedEpochs,
		TotalSentences:       totalSentences,
		Shuffle:              trainShuffle,
		Partitioned:          trainPartitioned,
		Threads:              trainThreads,
	}

	err = train.Run[float32](tr, rdr, cfg, func(epoch int, stats train.EpochStats) {
		log.Infof("epoch %d: %d sentences, %d/%d tokens retained (%.2f%%), final lr %.6f",
			epoch, stats.Sentences, stats.TokensTrained, stats.TokensTotal, 100*stats.RetentionRatio(), stats.FinalLR)
	})
	if err != nil {
		return fmt.Errorf("training: %w", err)
	}

	log.Infof("saving embeddings to %s", trainOutputPath)
	return embedding.Save(table, v, trainOutputPath)
}
