// Package catalog holds the fixed list of selectable models.
package catalog

import "strings"

// Model describes one selectable model.
type Model struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// FamilyGPT is the only family backed by a real tokenizer.
const FamilyGPT = "gpt"

// Default is the model selected when nothing else is configured.
const Default = "gpt-3.5-turbo"

var models = []Model{
	{Label: "GPT-3.5 Turbo", Value: "gpt-3.5-turbo"},
	{Label: "GPT-4", Value: "gpt-4"},
	{Label: "Claude 3 (Anthropic)", Value: "claude-3"},
	{Label: "LLaMA 2", Value: "llama-2"},
	{Label: "Mistral 7B", Value: "mistral-7b"},
}

var families = []string{FamilyGPT}

// Models returns a copy of the catalog in display order.
func Models() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// Lookup finds a catalog entry by identifier.
func Lookup(value string) (Model, bool) {
	for _, m := range models {
		if m.Value == value {
			return m, true
		}
	}
	return Model{}, false
}

// Family returns the recognised family prefix of a model id, or "" if none matches.
func Family(model string) string {
	for _, f := range families {
		if strings.HasPrefix(model, f) {
			return f
		}
	}
	return ""
}

// Families returns the recognised family prefixes.
func Families() []string {
	out := make([]string, len(families))
	copy(out, families)
	return out
}
