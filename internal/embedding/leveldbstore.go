package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbopt "github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/alexandres/koanvec/internal/numeric"
	"github.com/alexandres/koanvec/internal/vocab"
)

// PretrainedStore holds a pretrained embedding table keyed by token. It is
// the interface ApplyPretrainedStore overlays onto a Table; an in-memory
// map satisfies it trivially via MapPretrainedStore, while LevelDBStore
// backs it with an on-disk KV store, built from such a map.
//
// Grounded on alexandres-lexvec/storage.go's LevelDBStore, there used to
// back an out-of-core co-occurrence matrix; here it backs an out-of-core
// pretrained-embedding table instead.
type PretrainedStore interface {
	Lookup(token string) ([]float64, bool, error)
	Close() error
}

// MapPretrainedStore adapts an in-memory token->vector map to
// PretrainedStore.
type MapPretrainedStore map[string][]float64

func (m MapPretrainedStore) Lookup(token string) ([]float64, bool, error) {
	v, ok := m[token]
	return v, ok, nil
}

func (m MapPretrainedStore) Close() error { return nil }

// LevelDBStore is a PretrainedStore backed by an on-disk LevelDB database,
// keyed by token, values encoded as little-endian float64 vectors.
type LevelDBStore struct {
	dbPath string
	db     *leveldb.DB
	dim    int
}

// NewLevelDBStore builds a fresh LevelDB database at dbPath (removing any
// existing contents) and copies every entry of pretrained into it, so the
// caller can drop the map and overlay the vectors from disk. The vectors
// must already be held in the pretrained map when the store is built.
func NewLevelDBStore(dbPath string, pretrained map[string][]float64, dim int) (*LevelDBStore, error) {
	_ = os.RemoveAll(dbPath)

	opts := leveldbopt.Options{
		NoSync:      true,
		Compression: leveldbopt.NoCompression,
	}
	db, err := leveldb.OpenFile(dbPath, &opts)
	if err != nil {
		return nil, fmt.Errorf("embedding: opening leveldb store %q: %w", dbPath, err)
	}

	store := &LevelDBStore{dbPath: dbPath, db: db, dim: dim}
	for tok, vec := range pretrained {
		if len(vec) != dim {
			db.Close()
			return nil, fmt.Errorf("embedding: leveldb store: %q has dimension %d, want %d", tok, len(vec), dim)
		}
		if err := db.Put([]byte(tok), encodeVector(vec), nil); err != nil {
			db.Close()
			return nil, fmt.Errorf("embedding: leveldb store: writing %q: %w", tok, err)
		}
	}
	return store, nil
}

func (s *LevelDBStore) Lookup(token string) ([]float64, bool, error) {
	val, err := s.db.Get([]byte(token), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedding: leveldb store: reading %q: %w", token, err)
	}
	return decodeVector(val, s.dim), true, nil
}

// Close closes the underlying database and removes its files, since the
// store only exists for the duration of one training run.
func (s *LevelDBStore) Close() error {
	err := s.db.Close()
	_ = os.RemoveAll(s.dbPath)
	return err
}

func encodeVector(vec []float64) []byte {
	buf := make([]byte, 8*len(vec))
	for i, x := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(buf []byte, dim int) []float64 {
	vec := make([]float64, dim)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// ApplyPretrainedStore overlays vectors from store onto table t for every
// vocabulary token the store has a vector for.
func ApplyPretrainedStore[F numeric.Float](t *Table[F], v *vocab.Vocabulary, store PretrainedStore) error {
	for id := 0; id < v.Size(); id++ {
		tok, _ := v.Index.ReverseLookup(id)
		vec, ok, err := store.Lookup(tok)
		if err != nil {
			return err
		}
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
