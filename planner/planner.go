// Package planner turns a natural-language question into an ordered keyword
// plan used to drive lexical search. Deterministic extraction runs first and
// stays at the front of the plan; remote keyword expansion broadens it.
package planner

import (
	"context"
	"log"
	"regexp"
	"strings"
	"sync"

	"github.com/fabfab/docpilot/llm"
)

// Level selects how broad the remote keyword prompt is. Escalation walks
// from LevelInitial to LevelBroadest when earlier plans find nothing.
type Level int

const (
	LevelInitial Level = iota
	LevelBroader
	LevelBroadest
)

const maxFallbackTokens = 6

var (
	structuralRe = regexp.MustCompile(`(?i)\b(chapter|section|figure|table|appendix)\s+([0-9]+(?:\.[0-9]+)*|[A-Za-z])\b`)
	leadingRe    = regexp.MustCompile(`(?i)^(what\s+is|what\s+are|what\s+does|who\s+is|where\s+is|tell\s+me\s+about|explain|describe|define)\s+`)
	tokenRe      = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

type Planner struct {
	llm    llm.Client
	opts   llm.Options
	logger *log.Logger

	mu    sync.Mutex
	cache map[string][]string
}

func NewPlanner(client llm.Client, opts llm.Options, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.Default()
	}
	return &Planner{
		llm:    client,
		opts:   opts,
		logger: logger,
		cache:  make(map[string][]string),
	}
}

// Plan produces the keyword plan for question at the given broadening level.
// Remote failures degrade to the deterministic terms; Plan never errors.
// Successful initial-level plans are cached by exact question text.
func (p *Planner) Plan(ctx context.Context, question string, level Level) []string {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil
	}

	if level == LevelInitial {
		p.mu.Lock()
		cached, ok := p.cache[question]
		p.mu.Unlock()
		if ok {
			return append([]string(nil), cached...)
		}
	}

	remote := p.remoteKeywords(ctx, question, level)
	plan := mergePlan(question, deterministicTerms(question), remote)

	if level == LevelInitial && len(remote) > 0 {
		p.mu.Lock()
		p.cache[question] = append([]string(nil), plan...)
		p.mu.Unlock()
	}
	return plan
}

// PlanLocal builds a plan from deterministic extraction and stop-word-filtered
// question tokens only, with no remote call. Last-resort fallback when every
// remote-assisted attempt found nothing.
func (p *Planner) PlanLocal(question string) []string {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil
	}
	terms := deterministicTerms(question)
	terms = append(terms, question)
	terms = append(terms, questionTokens(question, maxFallbackTokens)...)
	return dedupe(terms)
}

// ClearCache drops all memoized plans. Called on document reset.
func (p *Planner) ClearCache() {
	p.mu.Lock()
	p.cache = make(map[string][]string)
	p.mu.Unlock()
}

func (p *Planner) remoteKeywords(ctx context.Context, question string, level Level) []string {
	if p.llm == nil {
		return nil
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: keywordPrompt(level)},
		{Role: llm.RoleUser, Content: question},
	}

	reply, err := p.llm.Generate(ctx, messages, p.opts)
	if err != nil {
		p.logger.Printf("keyword planner: remote call failed, using local terms: %v", err)
		return nil
	}

	keywords, err := parseKeywordArray(reply)
	if err != nil {
		p.logger.Printf("keyword planner: unparsable reply, using local terms: %v", err)
		return nil
	}
	return keywords
}

func keywordPrompt(level Level) string {
	switch level {
	case LevelBroader:
		return "The previous search found nothing. Extract 6-12 broader search terms for the question, including synonyms and common abbreviations. Respond with a JSON array of strings and nothing else."
	case LevelBroadest:
		return "Searches keep coming up empty. Extract 8-16 very broad, mostly single-word search terms loosely related to the question. Respond with a JSON array of strings and nothing else."
	default:
		return "Extract 2-5 search keywords that are most likely to appear verbatim in a document answering the question. Respond with a JSON array of strings and nothing else."
	}
}

// deterministicTerms extracts structural references ("chapter 3",
// "section 2.1", ...) and a de-interrogated compact form of the question.
func deterministicTerms(question string) []string {
	var terms []string
	for _, m := range structuralRe.FindAllString(question, -1) {
		terms = append(terms, strings.TrimSpace(m))
	}

	compact := strings.TrimSpace(strings.TrimSuffix(question, "?"))
	compact = leadingRe.ReplaceAllString(compact, "")
	compact = strings.TrimSpace(strings.TrimSuffix(compact, "?"))
	if compact != "" && !strings.EqualFold(compact, question) {
		terms = append(terms, compact)
	}
	return terms
}

// mergePlan orders deterministic terms first, remote keywords second and the
// raw question last, de-duplicated. A single-term plan gets up to six
// stop-word-filtered question tokens appended as a safety net.
func mergePlan(question string, deterministic, remote []string) []string {
	merged := make([]string, 0, len(deterministic)+len(remote)+1)
	merged = append(merged, deterministic...)
	merged = append(merged, remote...)
	merged = append(merged, question)
	merged = dedupe(merged)

	if len(merged) == 1 {
		merged = dedupe(append(merged, questionTokens(question, maxFallbackTokens)...))
	}
	return merged
}

// questionTokens returns up to max lower-cased question tokens with stop
// words and very short tokens removed.
func questionTokens(question string, max int) []string {
	var tokens []string
	for _, tok := range tokenRe.FindAllString(strings.ToLower(question), -1) {
		if len(tok) < 3 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
		if len(tokens) >= max {
			break
		}
	}
	return tokens
}

func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	result := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		key := strings.ToLower(term)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, term)
	}
	return result
}
