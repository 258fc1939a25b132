// Package search runs lexical term searches against an indexed document and
// extracts a few surrounding lines of context for each hit.
package search

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fabfab/docpilot/config"
	"github.com/fabfab/docpilot/document"
)

// Match is one lexical hit with its surrounding context.
type Match struct {
	Page    int
	Text    string
	Context string
	Length  int
}

// Executor resolves term occurrences to page-scoped context snippets.
type Executor struct {
	index *document.PageIndex
	cfg   config.SearchConfig
}

func NewExecutor(index *document.PageIndex, cfg config.SearchConfig) *Executor {
	return &Executor{index: index, cfg: cfg}
}

// Search finds all occurrences of term across the document. An empty term or
// an unbuilt index yields an empty result, never an error. Matches are never
// merged across pages.
func (e *Executor) Search(term string, caseSensitive, wholeWords bool) []Match {
	term = strings.TrimSpace(term)
	if term == "" || !e.index.Ready() {
		return nil
	}

	hits := e.index.Hits(term, caseSensitive)
	if len(hits) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		text, ok := e.index.Text(hit.Page)
		if !ok {
			continue
		}
		if wholeWords && !isWholeWord(text, hit.Offset, hit.Length) {
			continue
		}

		matches = append(matches, Match{
			Page:    hit.Page,
			Text:    text[hit.Offset : hit.Offset+hit.Length],
			Context: contextWindow(text, hit.Offset, hit.Length, e.cfg.ContextLines),
			Length:  hit.Length,
		})
	}
	return matches
}

// isWholeWord checks that both boundary characters around the hit, when
// present, are non-alphanumeric.
func isWholeWord(text string, offset, length int) bool {
	if offset > 0 {
		before, _ := utf8.DecodeLastRuneInString(text[:offset])
		if unicode.IsLetter(before) || unicode.IsDigit(before) {
			return false
		}
	}
	if end := offset + length; end < len(text) {
		after, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(after) || unicode.IsDigit(after) {
			return false
		}
	}
	return true
}

// contextWindow slices out the match line plus radius newline-delimited lines
// on each side, trimmed of surrounding whitespace.
func contextWindow(text string, offset, length, radius int) string {
	if radius < 0 {
		radius = 0
	}

	start := offset
	for line := 0; line <= radius; line++ {
		idx := strings.LastIndexByte(text[:start], '\n')
		if idx < 0 {
			start = 0
			break
		}
		start = idx
	}
	if start > 0 {
		start++ // skip the newline itself
	}

	end := offset + length
	for line := 0; line <= radius; line++ {
		idx := strings.IndexByte(text[end:], '\n')
		if idx < 0 {
			end = len(text)
			break
		}
		end += idx + 1
	}
	if end > len(text) {
		end = len(text)
	}

	return strings.TrimSpace(text[start:end])
}
