// Package vocab builds, loads, and saves the training vocabulary, and
// derives the subsampling and negative-sampling probability vectors from
// its frequency counts.
//
// Grounded on koan.cpp's build_vocab/load_vocab_file/save_vocab_file and
// alexandres-lexvec/vocab.go's frequency-sort-and-cut vocabulary builder.
package vocab

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// UnkToken is the sentinel inserted at id 0 when unknown words are mapped
// instead of discarded.
const UnkToken = "___UNK___"

// Vocabulary is an ordered, immutable-after-build set of tokens with
// forward (string->id) and reverse (id->string) lookup, plus the raw
// frequency each token was observed with.
type Vocabulary struct {
	Index   *IndexMap
	Freqs   []uint64 // Freqs[id] is the raw occurrence count of token id
	Discard bool     // true: drop OOV tokens; false: OOV tokens map to UnkID()
}

// Size returns the number of tokens in the vocabulary.
func (v *Vocabulary) Size() int {
	return v.Index.Len()
}

// Lookup resolves a token to its id.
func (v *Vocabulary) Lookup(token string) (int, bool) {
	return v.Index.Lookup(token)
}

// UnkID returns the id of the UNK sentinel. Valid only when !Discard.
func (v *Vocabulary) UnkID() int {
	return 0
}

// Resolve maps a raw token to a vocabulary id according to the Discard
// policy, returning ok=false if the token should be dropped.
func (v *Vocabulary) Resolve(token string) (id int, ok bool) {
	if id, found := v.Index.Lookup(token); found {
		return id, true
	}
	if v.Discard {
		return 0, false
	}
	return v.UnkID(), true
}

// TotalCount sums every token's frequency.
func (v *Vocabulary) TotalCount() uint64 {
	var total uint64
	for _, f := range v.Freqs {
		total += f
	}
	return total
}

// splitSpace splits s on single ASCII space characters, skipping runs of
// consecutive spaces (no empty tokens are produced), matching koan's
// util.h split().
func splitSpace(s string) []string {
	var out []string
	start := -1
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// SplitLine exposes splitSpace for use by the reader package, so line
// tokenization stays consistent between vocab building and training.
func SplitLine(s string) []string {
	return splitSpace(s)
}

// BuildConfig parameterizes vocabulary construction from a raw corpus.
type BuildConfig struct {
	MinCount     uint64 // drop tokens with fewer occurrences than this
	MaxVocabSize int    // 0 means unlimited
	Discard      bool   // true: drop OOV at train time; false: reserve UNK at id 0
	Pretrained   map[string][]float64
	ContinueVocab string // "old" | "new" | "union", meaningful only with Pretrained
}

// BuildFromCounts constructs a Vocabulary from a word->count map, applying
// min-count pruning, optional continuation with a pretrained vocabulary,
// descending-frequency ordering, and an optional size cap. It mirrors
// koan.cpp's main(): pretrained words absent from the corpus are assumed to
// occur min_count times so they survive pruning.
func BuildFromCounts(counts map[string]uint64, cfg BuildConfig) (*Vocabulary, error) {
	freqs := make(map[string]uint64, len(counts))
	for w, c := range counts {
		freqs[w] = c
	}

	continueVocab := cfg.ContinueVocab
	if continueVocab == "" {
		continueVocab = "union"
	}

	if len(cfg.Pretrained) > 0 && (continueVocab == "old" || continueVocab == "union") {
		for w := range cfg.Pretrained {
			if _, ok := freqs[w]; !ok {
				freqs[w] = cfg.MinCount
			}
		}
	}

	var ordered []string
	if len(cfg.Pretrained) > 0 && continueVocab == "old" {
		for w := range cfg.Pretrained {
			if freqs[w] >= cfg.MinCount {
				ordered = append(ordered, w)
			}
		}
	} else {
		for w, c := range freqs {
			if c >= cfg.MinCount {
				ordered = append(ordered, w)
			}
		}
	}

	sort.Slice(ordered, func(i, j int) bool {
		if freqs[ordered[i]] != freqs[ordered[j]] {
			return freqs[ordered[i]] > freqs[ordered[j]]
		}
		return ordered[i] < ordered[j] // stable, deterministic tiebreak
	})

	if !cfg.Discard {
		ordered = append([]string{UnkToken}, ordered...)
		freqs[UnkToken] = 0
	}

	if cfg.MaxVocabSize > 0 && cfg.MaxVocabSize < len(ordered) {
		ordered = ordered[:cfg.MaxVocabSize]
	}

	idx := NewIndexMap()
	vfreqs := make([]uint64, 0, len(ordered))
	for _, w := range ordered {
		idx.Insert(w)
		vfreqs = append(vfreqs, freqs[w])
	}

	return &Vocabulary{Index: idx, Freqs: vfreqs, Discard: cfg.Discard}, nil
}

// CountTokens scans raw lines, splitting each on spaces as SplitLine does,
// and returns raw occurrence counts, plus the number of lines observed.
func CountTokens(lines func(yield func(line string) bool)) (map[string]uint64, uint64) {
	counts := make(map[string]uint64)
	var nLines uint64
	lines(func(line string) bool {
		for _, w := range splitSpace(line) {
			counts[w]++
		}
		nLines++
		return true
	})
	return counts, nLines
}

// Save writes the vocabulary file: "<token> <count>" per line in
// descending-frequency order, UNK (if present) first.
func (v *Vocabulary) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vocab: creating %q: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for id, tok := range v.Index.Keys() {
		if _, err := fmt.Fprintf(w, "%s %d\n", tok, v.Freqs[id]); err != nil {
			return fmt.Errorf("vocab: writing %q: %w", path, err)
		}
	}
	return w.Flush()
}

// Load reads a vocabulary file written by Save (or a compatible external
// tool): "<token> <count>" per line, descending frequency order, with an
// optional leading UnkToken line switching the vocabulary into
// "map-to-UNK" mode instead of "discard unknowns" mode.
func Load(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: opening %q: %w", path, err)
	}
	defer f.Close()

	idx := NewIndexMap()
	var freqs []uint64
	var last uint64 = math.MaxUint64
	discard := true

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, " ")
		if len(fields) != 2 {
			return nil, fmt.Errorf("vocab: %q line %d: expected 2 columns, got %d", path, lineNo, len(fields))
		}
		tok := fields[0]
		count, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("vocab: %q line %d: bad count %q: %w", path, lineNo, fields[1], err)
		}
		if tok == UnkToken {
			if idx.Len() != 0 {
				return nil, fmt.Errorf("vocab: %q: %s must be the first line", path, UnkToken)
			}
			discard = false
		} else {
			if count > last {
				return nil, fmt.Errorf("vocab: %q line %d: not in descending frequency order", path, lineNo)
			}
			last = count
		}
		idx.Insert(tok)
		freqs = append(freqs, count)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("vocab: reading %q: %w", path, err)
	}

	return &Vocabulary{Index: idx, Freqs: freqs, Discard: discard}, nil
}

// FilterProbs computes, for each vocabulary id, the probability of
// discarding that token at each occurrence (subsampling of frequent
// words). threshold is the downsample_threshold parameter (default 1e-3).
//
// filter_probs[w] = 1 - sqrt(t/r_w) - t/r_w, where r_w = f_w/T. Values <= 0
// mean "never discard". A zero-frequency token (e.g. an unseen UNK) is
// defined to never be discarded rather than dividing by zero.
func FilterProbs(freqs []uint64, threshold float64) []float64 {
	var total uint64
	for _, f := range freqs {
		total += f
	}
	probs := make([]float64, len(freqs))
	if total == 0 {
		return probs
	}
	for i, f := range freqs {
		if f == 0 {
			probs[i] = 0
			continue
		}
		r := float64(f) / float64(total)
		p := 1 - math.Sqrt(threshold/r) - threshold/r
		if p < 0 {
			p = 0
		}
		probs[i] = p
	}
	return probs
}

// NegProbs computes the negative-sampling distribution over the
// vocabulary: neg_probs[w] proportional to f_w^exponent, normalized to
// sum to 1.
func NegProbs(freqs []uint64, exponent float64) ([]float64, error) {
	probs := make([]float64, len(freqs))
	var total float64
	for i, f := range freqs {
		p := math.Pow(float64(f), exponent)
		probs[i] = p
		total += p
	}
	if total == 0 {
		return nil, fmt.Errorf("vocab: negative-sampling distribution has zero mass (empty vocabulary or all-zero frequencies)")
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs, nil
}
