// Package export turns a result set into text for the clipboard.
package export

import (
	"strconv"
	"strings"

	"github.com/sweetpotato0/chai-tokenizer/engine"
)

// Format returns the text written to the clipboard. Encode results export
// one id per line in every display mode, so the output can be pasted back
// in decode mode; decode results export the decoded string verbatim.
// An empty result formats to "".
func Format(r engine.Result, _ engine.DisplayMode) string {
	if r.Empty() {
		return ""
	}
	if r.Mode == engine.Decode {
		return r.Decoded
	}

	var sb strings.Builder
	for i, t := range r.Tokens {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strconv.Itoa(t.ID))
	}
	return sb.String()
}

// Annotated renders fragments next to their ids, one token per line:
// "text → id" for badges ("n: text → id" with indices) and "n. text → id"
// when numbered. Decode results render verbatim.
func Annotated(r engine.Result, display engine.DisplayMode, showIndices bool) string {
	if r.Empty() {
		return ""
	}
	if r.Mode == engine.Decode {
		return r.Decoded
	}

	var sb strings.Builder
	for i, t := range r.Tokens {
		if i > 0 {
			sb.WriteByte('\n')
		}
		n := strconv.Itoa(i + 1)
		switch {
		case display == engine.Numbered:
			sb.WriteString(n + ". ")
		case showIndices:
			sb.WriteString(n + ": ")
		}
		sb.WriteString(t.Text)
		sb.WriteString(" → ")
		sb.WriteString(strconv.Itoa(t.ID))
	}
	return sb.String()
}
