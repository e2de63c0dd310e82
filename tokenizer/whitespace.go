package tokenizer

import (
	"strings"

	errs "github.com/sweetpotato0/chai-tokenizer/errors"
)

var (
	_ Tokenizer = Whitespace{}
	_ Splitter  = Whitespace{}
)

// Whitespace is the degraded tokenizer used for models without a real vocabulary.
// Words are split on runs of whitespace and numbered from 0 on every call, so
// the ids are positions, not vocabulary entries.
type Whitespace struct{}

func (Whitespace) Encode(text string) ([]int, error) {
	words := strings.Fields(text)
	ids := make([]int, len(words))
	for i := range words {
		ids[i] = i
	}
	return ids, nil
}

// Decode is not possible for positional ids.
func (Whitespace) Decode([]int) (string, error) {
	return "", errs.ErrDecodeUnsupported
}

func (Whitespace) Precise() bool { return false }

// Split returns every word paired with its position.
func (Whitespace) Split(text string) []Token {
	words := strings.Fields(text)
	tokens := make([]Token, len(words))
	for i, w := range words {
		tokens[i] = Token{Text: w, ID: i}
	}
	return tokens
}
