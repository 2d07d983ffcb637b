package llm

import "strings"

var tagNeutralizer = strings.NewReplacer("<", "[", ">", "]")

// NeutralizeTags swaps angle brackets for square ones so markup a model echoes
// back cannot be rendered by the chat client as HTML.
func NeutralizeTags(s string) string {
	return tagNeutralizer.Replace(s)
}
