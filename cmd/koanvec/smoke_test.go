package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/alexandres/koanvec/internal/embedding"
	"github.com/alexandres/koanvec/internal/reader"
	"github.com/alexandres/koanvec/internal/train"
	"github.com/alexandres/koanvec/internal/trainer"
	"github.com/alexandres/koanvec/internal/vocab"
)

// runTrainingPipeline exercises the same sequence runTrain does, without
// going through cobra flag parsing, so it can be called twice with an
// identical config to check reproducibility.
func runTrainingPipeline(t *testing.T, corpusPath, outPath string, threads int, cbow bool) {
	t.Helper()

	counts := make(map[string]uint64)
	var lines uint64
	err := reader.ReadAllLines([]string{corpusPath}, reader.ReadModeAuto, false, func(line string) error {
		for _, w := range vocab.SplitLine(line) {
			counts[w]++
		}
		lines++
		return nil
	})
	if err != nil {
		t.Fatalf("ReadAllLines: %v", err)
	}

	v, err := vocab.BuildFromCounts(counts, vocab.BuildConfig{MinCount: 1, Discard: true})
	if err != nil {
		t.Fatalf("BuildFromCounts: %v", err)
	}

	filterProbs := vocab.FilterProbs(v.Freqs, 1e-3)
	negProbs, err := vocab.NegProbs(v.Freqs, 0.75)
	if err != nil {
		t.Fatalf("NegProbs: %v", err)
	}

	const dim = 16
	table := embedding.NewRandom[float32](v.Size(), dim)
	ctx := embedding.NewZeros[float32](v.Size(), dim)

	tr, err := trainer.New[float32](trainer.Params{
		Dim:       dim,
		Ctxs:      3,
		Negatives: 5,
		Threads:   threads,
	}, table, ctx, filterProbs, negProbs, trainer.Fast)
	if err != nil {
		t.Fatalf("trainer.New: %v", err)
	}

	rdr := reader.NewOnceReader([]string{corpusPath}, reader.ReadModeAuto, v, false)

	cfg := train.Config{
		Epochs:              2,
		CBOW:                cbow,
		InitLR:              0.025,
		MinLR:               0.0001,
		StartLRScheduleEpoch: 0,
		MaxLRScheduleEpochs:  2,
		TotalSentences:       lines,
		Threads:              threads,
	}
	if err := train.Run[float32](tr, rdr, cfg, nil); err != nil {
		t.Fatalf("train.Run: %v", err)
	}

	if err := embedding.Save(table, v, outPath); err != nil {
		t.Fatalf("embedding.Save: %v", err)
	}
}

func TestEndToEndTrainingIsReproducible(t *testing.T) {
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, "corpus.txt")
	corpus := "the quick brown fox jumps over the lazy dog\n" +
		"the dog barks at the fox in the yard\n" +
		"quick foxes jump over lazy dogs every day\n"
	if err := os.WriteFile(corpusPath, []byte(corpus), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	outA := filepath.Join(dir, "a.vec")
	outB := filepath.Join(dir, "b.vec")

	runTrainingPipeline(t, corpusPath, outA, 1, true)
	runTrainingPipeline(t, corpusPath, outB, 1, true)

	a, err := os.ReadFile(outA)
	if err != nil {
		t.Fatalf("ReadFile a: %v", err)
	}
	b, err := os.ReadFile(outB)
	if err != nil {
		t.Fatalf("ReadFile b: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("two single-threaded runs over the same corpus/config produced different output")
	}
	if len(a) == 0 {
		t.Errorf("output embedding file is empty")
	}
}

func TestEndToEndTrainingProducesValidVectorsForBothObjectives(t *testing.T) {
	dir := t.TempDir()
	corpusPath := filepath.Join(dir, "corpus.txt")
	corpus := "alpha beta gamma delta epsilon\n" +
		"beta gamma delta epsilon alpha\n" +
		"gamma delta epsilon alpha beta\n"
	if err := os.WriteFile(corpusPath, []byte(corpus), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	for _, cbow := range []bool{true, false} {
		out := filepath.Join(dir, "out.vec")
		runTrainingPipeline(t, corpusPath, out, 2, cbow)

		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if len(data) == 0 {
			t.Errorf("cbow=%v: output embedding file is empty", cbow)
		}
	}
}
