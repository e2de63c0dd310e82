package tiktoken

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	errs "github.com/sweetpotato0/chai-tokenizer/errors"
	"github.com/sweetpotato0/chai-tokenizer/tokenizer"
)

var loaderOnce sync.Once

// UseOfflineLoader makes tiktoken read BPE ranks embedded in the binary
// instead of downloading them on first use.
func UseOfflineLoader() {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
}

var _ tokenizer.Tokenizer = (*Tokenizer)(nil)

// Tokenizer is bound to the encoding of a single model.
type Tokenizer struct {
	model string
	enc   *tiktoken.Tiktoken
}

// NewTiktokenTokenizer resolves the encoding for a model name, falling back to
// treating name as an encoding name (e.g. "cl100k_base").
func NewTiktokenTokenizer(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		// try by name
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("%w: no tiktoken encoding for %q", errs.ErrUnsupportedModel, name)
		}
	}
	return &Tokenizer{model: name, enc: enc}, nil
}

// Factory adapts NewTiktokenTokenizer to tokenizer.Factory.
func Factory(model string) (tokenizer.Tokenizer, error) {
	return NewTiktokenTokenizer(model)
}

// Encode rejects text containing special tokens such as <|endoftext|>.
func (t *Tokenizer) Encode(text string) (ids []int, err error) {
	defer func() {
		if r := recover(); r != nil {
			ids = nil
			err = fmt.Errorf("%w: %s: %v", errs.ErrProviderFailure, t.model, r)
		}
	}()
	return t.enc.Encode(text, nil, []string{"all"}), nil
}

func (t *Tokenizer) Decode(ids []int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %s: %v", errs.ErrProviderFailure, t.model, r)
		}
	}()
	return t.enc.Decode(ids), nil
}

func (t *Tokenizer) Precise() bool { return true }

// Model returns the model the tokenizer was built for.
func (t *Tokenizer) Model() string { return t.model }

// CountTokens returns the number of tokens in text, or 0 when encoding fails.
func (t *Tokenizer) CountTokens(text string) int {
	ids, err := t.Encode(text)
	if err != nil {
		return 0
	}
	return len(ids)
}
