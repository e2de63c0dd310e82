package tiktoken

import (
	"errors"
	"strings"
	"testing"

	errs "github.com/sweetpotato0/chai-tokenizer/errors"
	"github.com/sweetpotato0/chai-tokenizer/tokenizer"
)

func newTestTokenizer(t *testing.T, model string) *Tokenizer {
	t.Helper()
	UseOfflineLoader()
	tok, err := NewTiktokenTokenizer(model)
	if err != nil {
		t.Fatalf("NewTiktokenTokenizer(%q): %v", model, err)
	}
	return tok
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tok := newTestTokenizer(t, "gpt-3.5-turbo")

	for _, text := range []string{"Hi there", "hello world, 123!", "  spaced\tout\n"} {
		ids, err := tok.Encode(text)
		if err != nil {
			t.Fatalf("encode %q: %v", text, err)
		}
		if len(ids) == 0 {
			t.Fatalf("expected ids for %q", text)
		}
		back, err := tok.Decode(ids)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if back != text {
			t.Errorf("round trip mismatch: %q != %q", back, text)
		}
	}
}

func TestFragmentsConcatenate(t *testing.T) {
	tok := newTestTokenizer(t, "gpt-4")

	toks, err := tokenizer.Tokens(tok, "Tokenize me, please.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sb strings.Builder
	for _, tk := range toks {
		sb.WriteString(tk.Text)
	}
	if sb.String() != "Tokenize me, please." {
		t.Errorf("fragments do not reassemble input: %q", sb.String())
	}
}

func TestSpecialTokenIsProviderFailure(t *testing.T) {
	tok := newTestTokenizer(t, "gpt-4")

	_, err := tok.Encode("before <|endoftext|> after")
	if !errors.Is(err, errs.ErrProviderFailure) {
		t.Errorf("expected ErrProviderFailure, got %v", err)
	}
}

func TestUnknownModel(t *testing.T) {
	UseOfflineLoader()
	if _, err := NewTiktokenTokenizer("gpt-does-not-exist"); !errors.Is(err, errs.ErrUnsupportedModel) {
		t.Errorf("expected ErrUnsupportedModel, got %v", err)
	}
}

func TestEncodingNameFallback(t *testing.T) {
	tok := newTestTokenizer(t, "cl100k_base")
	if tok.CountTokens("hello") == 0 {
		t.Error("expected tokens from encoding name")
	}
	if tok.Model() != "cl100k_base" || !tok.Precise() {
		t.Errorf("unexpected tokenizer state: %q %v", tok.Model(), tok.Precise())
	}
}
