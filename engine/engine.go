// Package engine derives the displayable result set from settled input,
// the active model and the active mode.
package engine

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	errs "github.com/sweetpotato0/chai-tokenizer/errors"
	"github.com/sweetpotato0/chai-tokenizer/tokenizer"
)

// Mode selects the direction of the transformation.
type Mode string

const (
	Encode Mode = "encode"
	Decode Mode = "decode"
)

// ParseMode converts user input to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Encode:
		return Encode, nil
	case Decode:
		return Decode, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", errs.ErrInvalidInput, s)
}

// DisplayMode selects how a token sequence is presented.
type DisplayMode string

const (
	Badges   DisplayMode = "badges"
	Numbered DisplayMode = "numbered"
)

// ParseDisplayMode converts user input to a DisplayMode.
func ParseDisplayMode(s string) (DisplayMode, error) {
	switch DisplayMode(strings.ToLower(strings.TrimSpace(s))) {
	case Badges:
		return Badges, nil
	case Numbered:
		return Numbered, nil
	}
	return "", fmt.Errorf("%w: unknown display mode %q", errs.ErrInvalidInput, s)
}

// Input is the triple a result set is derived from.
type Input struct {
	Text  string
	Model string
	Mode  Mode
}

// Result is the atomic output of one computation. It is never modified
// after Compute returns.
type Result struct {
	Mode  Mode   `json:"mode"`
	Model string `json:"model"`
	// Tokens is set in encode mode.
	Tokens []tokenizer.Token `json:"tokens,omitempty"`
	// IDs holds the parsed ids in decode mode.
	IDs     []int  `json:"ids,omitempty"`
	Decoded string `json:"decoded,omitempty"`
	// Degraded is true when the model has no real tokenizer.
	Degraded bool `json:"degraded"`
}

// Empty reports whether there is nothing to show or export.
func (r Result) Empty() bool {
	if r.Mode == Decode {
		return r.Decoded == ""
	}
	return len(r.Tokens) == 0
}

// Count returns the number of tokens, or of decoded ids in decode mode.
func (r Result) Count() int {
	if r.Mode == Decode {
		if r.Decoded == "" {
			return 0
		}
		return len(r.IDs)
	}
	return len(r.Tokens)
}

// Unique returns the number of distinct ids.
func (r Result) Unique() int {
	seen := make(map[int]struct{})
	if r.Mode == Decode {
		if r.Decoded == "" {
			return 0
		}
		for _, id := range r.IDs {
			seen[id] = struct{}{}
		}
		return len(seen)
	}
	for _, t := range r.Tokens {
		seen[t.ID] = struct{}{}
	}
	return len(seen)
}

// Compute derives the result set for in. It never panics: a failing
// tokenizer yields an empty result and the error, which is meant for logs
// only. Blank input returns an empty result without touching the provider.
func Compute(p tokenizer.Provider, in Input) (res Result, err error) {
	empty := Result{Mode: in.Mode, Model: in.Model}
	if strings.TrimSpace(in.Text) == "" {
		return empty, nil
	}

	defer func() {
		if r := recover(); r != nil {
			res = empty
			err = fmt.Errorf("%w: %v", errs.ErrProviderFailure, r)
		}
	}()

	tok := p.Resolve(in.Model)
	empty.Degraded = !tok.Precise()

	switch in.Mode {
	case Decode:
		ids := ParseIDs(in.Text)
		if len(ids) == 0 || !tok.Precise() {
			return empty, nil
		}
		text, err := tok.Decode(ids)
		if err != nil {
			return empty, err
		}
		return Result{Mode: Decode, Model: in.Model, IDs: ids, Decoded: text}, nil

	case Encode:
		tokens, err := tokenizer.Tokens(tok, in.Text)
		if err != nil {
			return empty, err
		}
		return Result{Mode: Encode, Model: in.Model, Tokens: tokens, Degraded: empty.Degraded}, nil
	}
	return empty, fmt.Errorf("%w: unknown mode %q", errs.ErrInvalidInput, in.Mode)
}

// ParseIDs splits s on runs of whitespace and commas and keeps every piece
// that parses as a non-negative integer, in order. Anything else is dropped.
func ParseIDs(s string) []int {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	})
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil || id < 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
