package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexandres/koanvec/internal/embedding"
	"github.com/alexandres/koanvec/internal/reader"
	"github.com/alexandres/koanvec/internal/vocab"
)

var (
	vocabCorpusPaths         []string
	vocabOutPath             string
	vocabMinCount            uint64
	vocabMaxSize             int
	vocabDiscard             bool
	vocabReadMode            string
	vocabEnforceMaxLineLen   bool
	vocabPretrainedPath      string
	vocabContinueVocab       string
)

var vocabCmd = &cobra.Command{
	Use:   "vocab",
	Short: "Build a vocabulary file from a corpus",
	Long: `Scans one or more corpus files, counts token frequencies, applies
min-count pruning and an optional size cap, and writes a vocabulary file
usable by "koanvec train --vocab".`,
	RunE: runVocab,
}

func init() {
	vocabCmd.Flags().StringSliceVarP(&vocabCorpusPaths, "corpus", "f", nil, "Paths to training files")
	vocabCmd.Flags().StringVarP(&vocabOutPath, "vocab-out", "o", "", "Path to write the vocabulary file to")
	vocabCmd.Flags().Uint64VarP(&vocabMinCount, "min-count", "k", 1, "Drop tokens occurring fewer than this many times")
	vocabCmd.Flags().IntVarP(&vocabMaxSize, "vocab-size", "V", 0, "Cap the vocabulary to the top n most frequent tokens (0 = unlimited)")
	vocabCmd.Flags().BoolVarP(&vocabDiscard, "discard", "i", true, "If true, discard rare words instead of mapping them to UNK")
	vocabCmd.Flags().StringVar(&vocabReadMode, "read-mode", "auto", "How to read corpus files: text|gzip|auto")
	vocabCmd.Flags().BoolVar(&vocabEnforceMaxLineLen, "enforce-max-line-length", false, "Error instead of silently truncating overlong lines")
	vocabCmd.Flags().StringVarP(&vocabPretrainedPath, "pretrained-path", "r", "", "Pretrained embedding file whose vocabulary should be merged in")
	vocabCmd.Flags().StringVarP(&vocabContinueVocab, "continue-vocab", "v", "union", "Which vocabulary to keep when merging with --pretrained-path: old|new|union")

	vocabCmd.MarkFlagRequired("corpus")
	vocabCmd.MarkFlagRequired("vocab-out")
}

func runVocab(cmd *cobra.Command, args []string) error {
	if vocabContinueVocab != "old" && vocabContinueVocab != "new" && vocabContinueVocab != "union" {
		return fmt.Errorf("--continue-vocab must be one of old|new|union, got %q", vocabContinueVocab)
	}

	var pretrained map[string][]float64
	if vocabPretrainedPath != "" {
		p, _, err := embedding.LoadPretrained(vocabPretrainedPath)
		if err != nil {
			return err
		}
		pretrained = p
	}

	log.Infof("building vocab from %d corpus file(s)", len(vocabCorpusPaths))
	counts := make(map[string]uint64)
	var lines uint64
	err := reader.ReadAllLines(vocabCorpusPaths, reader.ReadMode(vocabReadMode), vocabEnforceMaxLineLen, func(line string) error {
		for _, w := range vocab.SplitLine(line) {
			counts[w]++
		}
		lines++
		return nil
	})
	if err != nil {
		return fmt.Errorf("building vocab: %w", err)
	}
	log.Infof("scanned %d lines", lines)

	v, err := vocab.BuildFromCounts(counts, vocab.BuildConfig{
		MinCount:      vocabMinCount,
		MaxVocabSize:  vocabMaxSize,
		Discard:       vocabDiscard,
		Pretrained:    pretrained,
		ContinueVocab: vocabContinueVocab,
	})
	if err != nil {
		return fmt.Errorf("building vocab: %w", err)
	}

	if err := v.Save(vocabOutPath); err != nil {
		return err
	}
	log.Infof("wrote %d-token vocabulary to %s", v.Size(), vocabOutPath)
	return nil
}
