// Package reader streams sentences out of one or more corpus files,
// overlapping file I/O and tokenization with the caller's consumption of
// the previous batch.
//
// Grounded on koan's reader.h: TrainFileHandler/TextFileHandler/
// GzipFileHandler become the fileHandler interface below; Reader/
// OnceReader/AsyncReader keep their exact get_next() batching semantics,
// including AsyncReader's reached_eofs_prev_ bookkeeping.
package reader

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alexandres/koanvec/internal/corpus"
	"github.com/alexandres/koanvec/internal/vocab"
)

// MaxLineLength mirrors corpus.MaxLineLength: lines longer than this are
// either truncated or rejected, depending on EnforceMaxLineLength.
const MaxLineLength = corpus.MaxLineLength

// fileHandler abstracts over plain-text and gzip-compressed corpus files.
type fileHandler interface {
	// readLine returns the next line (without its trailing newline) and
	// true, or ok=false at EOF. A non-nil error means something other
	// than a clean EOF went wrong.
	readLine() (line string, ok bool, err error)
	close() error
}

type textFileHandler struct {
	f  *os.File
	sc *bufio.Scanner
}

func newTextFileHandler(fname string) (*textFileHandler, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("reader: opening %q: %w", fname, err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), MaxLineLength+1)
	return &textFileHandler{f: f, sc: sc}, nil
}

func (h *textFileHandler) readLine() (string, bool, error) {
	if !h.sc.Scan() {
		return "", false, h.sc.Err()
	}
	return h.sc.Text(), true, nil
}

func (h *textFileHandler) close() error { return h.f.Close() }

type gzipFileHandler struct {
	f  *os.File
	gz *gzip.Reader
	sc *bufio.Scanner
}

func newGzipFileHandler(fname string) (*gzipFileHandler, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("reader: opening %q: %w", fname, err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reader: opening gzip stream %q: %w", fname, err)
	}
	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 64*1024), MaxLineLength+1)
	return &gzipFileHandler{f: f, gz: gz, sc: sc}, nil
}

func (h *gzipFileHandler) readLine() (string, bool, error) {
	if !h.sc.Scan() {
		if err := h.sc.Err(); err != nil && err != io.EOF {
			return "", false, err
		}
		return "", false, nil
	}
	return h.sc.Text(), true, nil
}

func (h *gzipFileHandler) close() error {
	gzErr := h.gz.Close()
	fErr := h.f.Close()
	if gzErr != nil {
		return gzErr
	}
	return fErr
}

// ReadMode selects how corpus files are opened.
type ReadMode string

const (
	ReadModeAuto  ReadMode = "auto"
	ReadModeText  ReadMode = "text"
	ReadModeGzip  ReadMode = "gzip"
)

func openFileHandler(fname string, mode ReadMode) (fileHandler, error) {
	isGzipExt := strings.HasSuffix(fname, ".gz")
	if mode == ReadModeGzip || (mode == ReadModeAuto && isGzipExt) {
		return newGzipFileHandler(fname)
	}
	return newTextFileHandler(fname)
}

// ReadAllLines streams every line of every file in fnames, in order, to f.
// It is the single-pass counterpart to OnceReader/AsyncReader's
// sentence-batching, used by vocabulary building where only raw lines
// (not yet vocabulary-resolved sentences) are needed.
func ReadAllLines(fnames []string, mode ReadMode, enforceMaxLineLength bool, f func(line string) error) error {
	for _, fname := range fnames {
		h, err := openFileHandler(fname, mode)
		if err != nil {
			return err
		}
		for {
			line, ok, err := h.readLine()
			if err != nil {
				h.close()
				return err
			}
			if !ok {
				break
			}
			if len(line) > MaxLineLength {
				if enforceMaxLineLength {
					h.close()
					return fmt.Errorf("reader: %s: line exceeds %d bytes", fname, MaxLineLength)
				}
				line = line[:MaxLineLength]
			}
			if err := f(line); err != nil {
				h.close()
				return err
			}
		}
		if err := h.close(); err != nil {
			return err
		}
	}
	return nil
}

// Reader yields batches of parsed sentences from a set of corpus files.
type Reader interface {
	// GetNext populates batch with the next group of sentences. It
	// returns ok=false exactly once per full pass over all files, to
	// signal an epoch boundary to the caller, mirroring
	// std::getline(ifstream, line)'s end-of-stream behavior.
	GetNext() (batch []corpus.Sentence, ok bool, err error)
	Close() error
}

func parseLine(line string, enforceMaxLen bool, v *vocab.Vocabulary) (corpus.Sentence, error) {
	if len(line) > MaxLineLength {
		if enforceMaxLen {
			return corpus.Sentence{}, fmt.Errorf("reader: line exceeds %d bytes", MaxLineLength)
		}
		line = line[:MaxLineLength]
	}
	return corpus.ParseLine(line, v), nil
}

// OnceReader loads every file into memory on its first call to GetNext and
// thereafter returns the same in-memory sentences, alternating ok between
// true and false on each call (matching koan's "fake_reached_eof_" toggle,
// which exists so a caller that always checks GetNext's return value sees
// one epoch boundary per pass even though nothing is re-read from disk).
type OnceReader struct {
	fnames   []string
	mode     ReadMode
	vocab    *vocab.Vocabulary
	enforce  bool

	sentences []corpus.Sentence
	read      bool
	toggle    bool
}

// NewOnceReader returns a Reader suitable for corpora that comfortably fit
// in memory.
func NewOnceReader(fnames []string, mode ReadMode, v *vocab.Vocabulary, enforceMaxLineLength bool) *OnceReader {
	return &OnceReader{fnames: fnames, mode: mode, vocab: v, enforce: enforceMaxLineLength}
}

func (r *OnceReader) GetNext() ([]corpus.Sentence, bool, error) {
	if !r.read {
		for _, fname := range r.fnames {
			h, err := openFileHandler(fname, r.mode)
			if err != nil {
				return nil, false, err
			}
			for {
				line, ok, err := h.readLine()
				if err != nil {
					h.close()
					return nil, false, err
				}
				if !ok {
					break
				}
				s, err := parseLine(line, r.enforce, r.vocab)
				if err != nil {
					h.close()
					return nil, false, fmt.Errorf("reader: %s: %w", fname, err)
				}
				r.sentences = append(r.sentences, s)
			}
			if err := h.close(); err != nil {
				return nil, false, err
			}
		}
		r.read = true
	}
	r.toggle = !r.toggle
	return r.sentences, r.toggle, nil
}

func (r *OnceReader) Close() error { return nil }

// readResult carries one background-read outcome across the prefetch
// goroutine boundary.
type readResult struct {
	batch        []corpus.Sentence
	reachedEofs  bool
	err          error
}

// AsyncReader streams batches of bufferSize sentences, prefetching the
// next batch on a background goroutine while the caller trains on the
// previous one. Used when the corpus does not fit comfortably in memory.
type AsyncReader struct {
	fnames  []string
	mode    ReadMode
	vocab   *vocab.Vocabulary
	enforce bool
	bufSize int

	handler  fileHandler
	pathIdx  int

	pending chan readResult

	reachedEofsPrev bool
}

// NewAsyncReader opens the first file and starts prefetching immediately.
func NewAsyncReader(fnames []string, mode ReadMode, v *vocab.Vocabulary, bufferSize int, enforceMaxLineLength bool) (*AsyncReader, error) {
	if len(fnames) == 0 {
		return nil, fmt.Errorf("reader: no input files given")
	}
	h, err := openFileHandler(fnames[0], mode)
	if err != nil {
		return nil, err
	}
	r := &AsyncReader{
		fnames:  fnames,
		mode:    mode,
		vocab:   v,
		enforce: enforceMaxLineLength,
		bufSize: bufferSize,
		handler: h,
		pathIdx: 0,
	}
	r.startReader()
	return r, nil
}

// startReader launches the background goroutine that fills the next
// batch, mirroring AsyncReader::start_reader's thread.
func (r *AsyncReader) startReader() {
	r.pending = make(chan readResult, 1)
	go func() {
		var res readResult
		res.batch = make([]corpus.Sentence, 0, r.bufSize)
		for len(res.batch) < r.bufSize {
			line, ok, err := r.handler.readLine()
			if err != nil {
				res.err = err
				break
			}
			if !ok {
				if cerr := r.handler.close(); cerr != nil && res.err == nil {
					res.err = cerr
				}
				r.pathIdx = (r.pathIdx + 1) % len(r.fnames)
				if r.pathIdx == 0 {
					res.reachedEofs = true
				}
				h, err := openFileHandler(r.fnames[r.pathIdx], r.mode)
				if err != nil {
					res.err = err
				}
				r.handler = h
				break
			}
			s, err := parseLine(line, r.enforce, r.vocab)
			if err != nil {
				res.err = err
				break
			}
			res.batch = append(res.batch, s)
		}
		r.pending <- res
	}()
}

func (r *AsyncReader) GetNext() ([]corpus.Sentence, bool, error) {
	if r.reachedEofsPrev {
		r.reachedEofsPrev = false
		return nil, false, nil
	}

	res := <-r.pending
	if res.err != nil {
		return nil, false, res.err
	}

	r.reachedEofsPrev = res.reachedEofs
	batch := res.batch

	r.startReader()

	return batch, true, nil
}

func (r *AsyncReader) Close() error {
	if r.handler != nil {
		return r.handler.close()
	}
	return nil
}
