// Package corpus turns raw corpus lines into vocabulary-resolved
// sentences, the unit the trainer consumes.
//
// Grounded on koan.cpp's parse_line and util.h's split(), reworked around
// vocab.Vocabulary's Resolve/Discard policy.
package corpus

import "github.com/alexandres/koanvec/internal/vocab"

// MaxLineLength caps the number of bytes a single corpus line may occupy
// before the reader either truncates it or rejects it outright, matching
// koan.cpp's MAX_STRING-derived line guard.
const MaxLineLength = 1_000_000

// Sentence is one line of the corpus resolved to vocabulary ids. Tokens
// absent from the vocabulary are either dropped or mapped to the UNK id,
// per the vocabulary's Discard policy.
type Sentence struct {
	Words []int
}

// Len returns the number of resolved tokens in the sentence.
func (s Sentence) Len() int {
	return len(s.Words)
}

// ParseLine tokenizes line on ASCII spaces (vocab.SplitLine) and resolves each token against
// vocabulary v, producing a Sentence. Unknown tokens are dropped or mapped
// to UNK according to v.Discard.
func ParseLine(line string, v *vocab.Vocabulary) Sentence {
	tokens := vocab.SplitLine(line)
	words := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		if id, ok := v.Resolve(tok); ok {
			words = append(words, id)
		}
	}
	return Sentence{Words: words}
}
