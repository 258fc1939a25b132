// Package retrieval orchestrates the question-to-context pipeline: keyword
// planning with escalation, lexical search, relevance filtering and bounded
// context assembly, with a short-lived per-question cache.
package retrieval

import (
	"context"
	"log"
	"time"

	"github.com/fabfab/docpilot/config"
	"github.com/fabfab/docpilot/document"
	"github.com/fabfab/docpilot/planner"
	"github.com/fabfab/docpilot/relevance"
	"github.com/fabfab/docpilot/search"
)

// Result is the final retrieval output for one question.
type Result struct {
	Context   string
	Pages     []int
	CreatedAt time.Time
}

// Empty reports whether retrieval produced no usable context.
func (r Result) Empty() bool {
	return r.Context == "" && len(r.Pages) == 0
}

type Engine struct {
	planner   *planner.Planner
	executor  *search.Executor
	filter    relevance.Filter
	decisions *relevance.DecisionCache
	index     *document.PageIndex
	cfg       config.Config
	logger    *log.Logger

	cache *contextCache
	now   func() time.Time
}

func NewEngine(
	pl *planner.Planner,
	executor *search.Executor,
	filter relevance.Filter,
	decisions *relevance.DecisionCache,
	index *document.PageIndex,
	cfg config.Config,
	logger *log.Logger,
) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		planner:   pl,
		executor:  executor,
		filter:    filter,
		decisions: decisions,
		index:     index,
		cfg:       cfg,
		logger:    logger,
		cache:     newContextCache(),
		now:       time.Now,
	}
}

// Retrieve resolves a question into a bounded context block and the pages it
// came from. Zero matches across every keyword attempt is not an error; it
// yields an empty Result.
func (e *Engine) Retrieve(ctx context.Context, question string) (Result, error) {
	if cached, ok := e.cache.get(question, e.now()); ok {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	matches := e.collectMatches(ctx, question)
	if len(matches) == 0 {
		return Result{CreatedAt: e.now()}, nil
	}

	kept := e.filter.Filter(ctx, question, matches)
	if len(kept) == 0 {
		return Result{CreatedAt: e.now()}, nil
	}

	grouped := make(map[int][]search.Match)
	for _, m := range kept {
		grouped[m.Page] = append(grouped[m.Page], m)
	}

	contextBlock, pages := Assemble(grouped, e.index, e.cfg.Context, false)
	result := Result{Context: contextBlock, Pages: pages, CreatedAt: e.now()}

	if !result.Empty() {
		e.cache.put(question, result)
	}
	return result, nil
}

// collectMatches runs the escalating keyword attempts. Each attempt re-plans
// with a broader prompt even when the previous plan was non-empty but produced
// zero hits. When all remote-assisted attempts find nothing it falls back to a
// purely local plan.
func (e *Engine) collectMatches(ctx context.Context, question string) []search.Match {
	levels := []planner.Level{planner.LevelInitial, planner.LevelBroader, planner.LevelBroadest}
	for attempt, level := range levels {
		if ctx.Err() != nil {
			return nil
		}
		terms := e.planner.Plan(ctx, question, level)
		if matches := e.searchTerms(terms); len(matches) > 0 {
			return matches
		}
		e.logger.Printf("retrieval: keyword attempt %d found no matches, escalating", attempt+1)
	}

	return e.searchTerms(e.planner.PlanLocal(question))
}

func (e *Engine) searchTerms(terms []string) []search.Match {
	var pooled []search.Match
	for _, term := range terms {
		pooled = append(pooled, e.executor.Search(term, e.cfg.Search.CaseSensitive, e.cfg.Search.WholeWords)...)
	}
	return pooled
}

// Reset clears the document-scoped caches after a reload. The decision cache
// clear is fire-and-forget.
func (e *Engine) Reset() {
	e.cache.clear()
	e.planner.ClearCache()
	if e.decisions != nil {
		e.decisions.ClearAsync()
	}
}
