package search

import (
	"strings"

	"github.com/poiesic/kbsync/core"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stop words to filter out when checking for verbatim matches
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "i": true, "my": true, "me": true, "how": true,
	"what": true, "when": true, "feel": true,
}

var fold = cases.Fold()

// tokenizeAndFilter splits text into case-folded words without punctuation
// or stop words.
func tokenizeAndFilter(text string) []string {
	words := strings.Fields(fold.String(text))
	filtered := make([]string, 0, len(words))
	for _, word := range words {
		cleaned := strings.Trim(word, ".,!?;:'\"-()[]{}")
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}
	return filtered
}

// containsAllQueryWords checks if all filtered query words appear in the document.
func containsAllQueryWords(document, query string) bool {
	queryWords := tokenizeAndFilter(query)
	if len(queryWords) == 0 {
		return false
	}

	docWords := tokenizeAndFilter(document)
	docWordSet := make(map[string]bool, len(docWords))
	for _, word := range docWords {
		docWordSet[word] = true
	}
	for _, qWord := range queryWords {
		if !docWordSet[qWord] {
			return false
		}
	}
	return true
}

// title renders a kind for display, e.g. "Feedback Prompt".
func title(kind core.Kind) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(kind), "_", " "))
}
