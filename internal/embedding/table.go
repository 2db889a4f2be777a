// Package embedding holds the dense word-embedding tables the trainer
// mutates in place, plus loading pretrained vectors and writing the
// trained result back out.
//
// Grounded on koan's def.h (Table = std::vector<Vector>) and koan.cpp's
// embedding initialization / load_pretrained_embeddings / output loop.
package embedding

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/alexandres/koanvec/internal/numeric"
	"github.com/alexandres/koanvec/internal/vocab"
)

// initSeed matches koan.cpp's fixed embedding-initialization seed, so a
// freshly built table is reproducible run to run for a given vocabulary
// and dimension.
const initSeed = 123457

// Table is a dense, row-major set of vocab-sized embeddings, one row per
// vocabulary id.
type Table[F numeric.Float] struct {
	dim  int
	rows [][]F
}

// NewRandom allocates a table of size rows by dim columns, each entry
// drawn uniformly from [-0.5/dim, 0.5/dim), matching koan.cpp's
// initialization of syn0/syn1.
func NewRandom[F numeric.Float](size, dim int) *Table[F] {
	t := &Table[F]{dim: dim, rows: make([][]F, size)}
	rng := rand.New(rand.NewSource(initSeed))
	bound := 0.5 / float64(dim)
	for i := range t.rows {
		row := make([]F, dim)
		for j := range row {
			row[j] = F((rng.Float64()*2 - 1) * bound)
		}
		t.rows[i] = row
	}
	return t
}

// NewZeros allocates a table of size rows by dim columns, all zero.
func NewZeros[F numeric.Float](size, dim int) *Table[F] {
	t := &Table[F]{dim: dim, rows: make([][]F, size)}
	for i := range t.rows {
		t.rows[i] = make([]F, dim)
	}
	return t
}

// Dim returns the embedding dimensionality.
func (t *Table[F]) Dim() int { return t.dim }

// Size returns the number of rows (vocabulary size).
func (t *Table[F]) Size() int { return len(t.rows) }

// Row returns the mutable embedding for vocabulary id i. Callers on the
// training hot path mutate this slice directly and concurrently, by
// design: see the trainer package for the Hogwild-style update contract.
func (t *Table[F]) Row(i int) []F { return t.rows[i] }

// SetRow overwrites row i in place, copying src. len(src) must equal Dim().
func (t *Table[F]) SetRow(i int, src []F) {
	copy(t.rows[i], src)
}

// LoadPretrained parses a "<token> <f1> .. <fD>" file into a token->vector
// map, rejecting dimension mismatches and duplicate tokens, matching
// koan.cpp's load_pretrained_embeddings.
func LoadPretrained(path string) (map[string][]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("embedding: opening %q: %w", path, err)
	}
	defer f.Close()

	out := make(map[string][]float64)
	dim := -1

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
		if len(fields) < 2 {
			return nil, 0, fmt.Errorf("embedding: %q line %d: too few columns", path, lineNo)
		}
		tok := fields[0]
		vals := fields[1:]
		if dim == -1 {
			dim = len(vals)
		} else if len(vals) != dim {
			return nil, 0, fmt.Errorf("embedding: %q line %d: dimension %d, want %d", path, lineNo, len(vals), dim)
		}
		if _, dup := out[tok]; dup {
			return nil, 0, fmt.Errorf("embedding: %q line %d: duplicate token %q", path, lineNo, tok)
		}
		vec := make([]float64, dim)
		for i, s := range vals {
			x, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, 0, fmt.Errorf("embedding: %q line %d: bad value %q: %w", path, lineNo, s, err)
			}
			vec[i] = x
		}
		out[tok] = vec
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("embedding: reading %q: %w", path, err)
	}
	return out, dim, nil
}

// ApplyPretrained overlays pretrained vectors onto table t for every
// vocabulary token present in pretrained, leaving tokens absent from
// pretrained at their existing (randomly initialized) value.
func ApplyPretrained[F numeric.Float](t *Table[F], v *vocab.Vocabulary, pretrained map[string][]float64) error {
	for tok, vec := range pretrained {
		id, ok := v.Lookup(tok)
		if !ok {
			continue
		}
		if len(vec) != t.Dim() {
			return fmt.Errorf("embedding: pretrained vector for %q has dimension %d, want %d", tok, len(vec), t.Dim())
		}
		row := t.Row(id)
		for i, x := range vec {
			row[i] = F(x)
		}
	}
	return nil
}

// Save writes one "<token> <f1> .. <fD>" line per vocabulary entry, in
// vocabulary order, matching koan.cpp's output loop.
func Save[F numeric.Float](t *Table[F], v *vocab.Vocabulary, path string) error {
	if t.Size() != v.Size() {
		return fmt.Errorf("embedding: table has %d rows, vocabulary has %d entries", t.Size(), v.Size())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("embedding: creating %q: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var sb strings.Builder
	for id, tok := range v.Index.Keys() {
		sb.Reset()
		sb.WriteString(tok)
		for _, x := range t.Row(id) {
			sb.WriteByte(' ')
			sb.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 64))
		}
		sb.WriteByte('\n')
		if _, err := w.WriteString(sb.String()); err != nil {
			return fmt.Errorf("embedding: writing %q: %w", path, err)
		}
	}
	return w.Flush()
}
