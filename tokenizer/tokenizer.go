// Package tokenizer defines the encode/decode capability the engine consumes
// and resolves it per model.
package tokenizer

// Token pairs an id with the text fragment it decodes to.
type Token struct {
	Text string `json:"text"`
	ID   int    `json:"id"`
}

// Tokenizer converts text to ids and back for one model.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	// Precise reports whether ids come from a real vocabulary.
	// Degraded tokenizers return positional ids and cannot decode.
	Precise() bool
}

// Provider resolves the tokenizer for a model id. Resolve never fails:
// models without a real tokenizer get a degraded one.
type Provider interface {
	Resolve(model string) Tokenizer
}

// Splitter is implemented by tokenizers that produce their display
// fragments directly instead of decoding ids one at a time.
type Splitter interface {
	Split(text string) []Token
}

// Tokens encodes text and pairs every id with its decoded fragment, in encode order.
func Tokens(tok Tokenizer, text string) ([]Token, error) {
	if s, ok := tok.(Splitter); ok {
		return s.Split(text), nil
	}

	ids, err := tok.Encode(text)
	if err != nil {
		return nil, err
	}

	tokens := make([]Token, 0, len(ids))
	for _, id := range ids {
		frag, err := tok.Decode([]int{id})
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, Token{Text: frag, ID: id})
	}
	return tokens, nil
}
