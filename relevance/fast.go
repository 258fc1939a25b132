// Package relevance filters pooled search matches down to the snippets worth
// spending context budget on. Two interchangeable strategies exist: a local
// deterministic scorer (fast mode) and a remote binary classifier with
// bounded concurrency (quality mode).
package relevance

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/fabfab/docpilot/search"
)

// Filter narrows candidate matches for one question.
type Filter interface {
	Filter(ctx context.Context, question string, matches []search.Match) []search.Match
}

const (
	fastTopN            = 12
	substringBoost      = 0.5
	lengthPenaltyWeight = 0.15
	lengthPenaltyScale  = 1200
	canonicalMaxLen     = 160
)

var fastTokenRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// FastFilter scores snippets locally with no remote calls. Scoring is
// deterministic: identical inputs always produce identical rank order.
type FastFilter struct{}

func NewFastFilter() *FastFilter {
	return &FastFilter{}
}

func (f *FastFilter) Filter(_ context.Context, question string, matches []search.Match) []search.Match {
	if len(matches) == 0 {
		return nil
	}

	type scored struct {
		match search.Match
		score float64
	}

	ranked := make([]scored, 0, len(matches))
	for _, m := range matches {
		ranked = append(ranked, scored{match: m, score: Score(question, m.Context)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].match.Page != ranked[j].match.Page {
			return ranked[i].match.Page < ranked[j].match.Page
		}
		return len(ranked[i].match.Context) < len(ranked[j].match.Context)
	})

	if len(ranked) > fastTopN {
		ranked = ranked[:fastTopN]
	}

	seen := make(map[string]struct{}, len(ranked))
	result := make([]search.Match, 0, len(ranked))
	for _, r := range ranked {
		key := canonical(r.match.Context)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, r.match)
	}
	return result
}

// Score computes the deterministic relevance score for one snippet:
// token overlap with the question, a boost when the snippet contains the
// whole question verbatim, and a penalty growing with snippet length.
func Score(question, snippet string) float64 {
	score := tokenOverlapRatio(question, snippet)

	q := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(question, "?")))
	if q != "" && strings.Contains(strings.ToLower(snippet), q) {
		score += substringBoost
	}

	penalty := float64(len(snippet)) / lengthPenaltyScale
	if penalty > 1 {
		penalty = 1
	}
	return score - penalty*lengthPenaltyWeight
}

func tokenOverlapRatio(question, snippet string) float64 {
	qTokens := fastTokenRe.FindAllString(strings.ToLower(question), -1)
	if len(qTokens) == 0 {
		return 0
	}

	sTokens := make(map[string]struct{})
	for _, tok := range fastTokenRe.FindAllString(strings.ToLower(snippet), -1) {
		sTokens[tok] = struct{}{}
	}

	overlap := 0
	for _, tok := range qTokens {
		if _, ok := sTokens[tok]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(qTokens))
}

// canonical folds a snippet for duplicate detection: lower-cased, whitespace
// collapsed, truncated.
func canonical(snippet string) string {
	folded := strings.Join(strings.Fields(strings.ToLower(snippet)), " ")
	if len(folded) > canonicalMaxLen {
		folded = folded[:canonicalMaxLen]
	}
	return folded
}
