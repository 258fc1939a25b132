package retrieval

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fabfab/docpilot/config"
	"github.com/fabfab/docpilot/document"
	"github.com/fabfab/docpilot/search"
)

const (
	maxSnippetsPerPage = 4
	maxSnippetChars    = 700
)

// Assemble builds the bounded context block from page-grouped matches.
// Pages are ranked by descending match count, ties broken by ascending page
// number, and emitted until the character budget runs out; the final page's
// contribution is cut to fit the budget exactly. snippetsOnly suppresses
// full-page text even when the configuration enables it.
func Assemble(grouped map[int][]search.Match, index *document.PageIndex, cfg config.ContextConfig, snippetsOnly bool) (string, []int) {
	if len(grouped) == 0 {
		return "", nil
	}

	pages := make([]int, 0, len(grouped))
	for page := range grouped {
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool {
		if len(grouped[pages[i]]) != len(grouped[pages[j]]) {
			return len(grouped[pages[i]]) > len(grouped[pages[j]])
		}
		return pages[i] < pages[j]
	})

	if cfg.MaxPages > 0 && len(pages) > cfg.MaxPages {
		pages = pages[:cfg.MaxPages]
	}

	var sb strings.Builder
	var used []int
	for _, page := range pages {
		remaining := cfg.MaxChars - sb.Len()
		if remaining <= 0 {
			break
		}

		block := pageBlock(page, grouped[page], index, cfg, snippetsOnly)
		if block == "" {
			continue
		}
		block = truncateToRuneBoundary(block, remaining)
		if strings.TrimSpace(block) == "" {
			break
		}

		sb.WriteString(block)
		used = append(used, page)

		if sb.Len() >= cfg.MaxChars {
			break
		}
	}

	context := sb.String()
	if strings.TrimSpace(context) == "" {
		return "", nil
	}
	return context, used
}

func pageBlock(page int, matches []search.Match, index *document.PageIndex, cfg config.ContextConfig, snippetsOnly bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- Page %d (%d matches) ---\n", page, len(matches))

	if cfg.IncludeFullPages && !snippetsOnly {
		if text, ok := index.Text(page); ok {
			sb.WriteString(text)
			sb.WriteString("\n\n")
			return sb.String()
		}
	}

	seen := make(map[string]struct{}, len(matches))
	emitted := 0
	for _, m := range matches {
		if emitted >= maxSnippetsPerPage {
			break
		}
		snippet := clampSnippet(m.Context)
		if snippet == "" {
			continue
		}
		if _, dup := seen[snippet]; dup {
			continue
		}
		seen[snippet] = struct{}{}
		sb.WriteString(snippet)
		sb.WriteString("\n")
		emitted++
	}

	if emitted == 0 {
		return ""
	}
	sb.WriteString("\n")
	return sb.String()
}

func clampSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxSnippetChars {
		s = truncateToRuneBoundary(s, maxSnippetChars-3) + "..."
	}
	return s
}

// truncateToRuneBoundary cuts s to at most max bytes, backing off so the cut
// never splits a multi-byte rune.
func truncateToRuneBoundary(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
