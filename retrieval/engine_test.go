package retrieval

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/fabfab/docpilot/config"
	"github.com/fabfab/docpilot/llm"
	"github.com/fabfab/docpilot/planner"
	"github.com/fabfab/docpilot/relevance"
	"github.com/fabfab/docpilot/search"
)

type scriptedLLM struct {
	replies []string
	err     error
	calls   int
}

func (s *scriptedLLM) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "[]", nil
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newEngine(client llm.Client, filter relevance.Filter, idx pages, cfg config.Config) *Engine {
	index := buildIndex(idx)
	executor := search.NewExecutor(index, cfg.Search)
	pl := planner.NewPlanner(client, llm.Options{}, discard())
	decisions := relevance.NewDecisionCache()
	if filter == nil {
		filter = relevance.NewFastFilter()
	}
	return NewEngine(pl, executor, filter, decisions, index, cfg, discard())
}

func TestRetrieveMitochondriaScenario(t *testing.T) {
	client := &scriptedLLM{replies: []string{`["mitochondria"]`}}
	cfg := config.Default()
	cfg.Context.FastMode = true

	engine := newEngine(client, nil, pages{
		1: "an introduction page",
		3: "Biology notes.\nThe mitochondria is the powerhouse of the cell.\nMore notes.",
	}, cfg)

	result, err := engine.Retrieve(context.Background(), "what is the mitochondria")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Context, "powerhouse of the cell") {
		t.Fatalf("context should contain the matching snippet, got %q", result.Context)
	}
	if len(result.Pages) != 1 || result.Pages[0] != 3 {
		t.Fatalf("expected pages [3], got %v", result.Pages)
	}
}

func TestRetrieveEmptyDocument(t *testing.T) {
	client := &scriptedLLM{err: errors.New("endpoint unreachable")}
	cfg := config.Default()
	cfg.Context.FastMode = true

	engine := newEngine(client, nil, pages{}, cfg)

	result, err := engine.Retrieve(context.Background(), "anything at all?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Empty() {
		t.Fatalf("empty document should yield an empty result, got %+v", result)
	}
}

func TestRetrieveEscalatesKeywordPlans(t *testing.T) {
	// The first two plans find nothing; the broadest attempt lands a hit.
	client := &scriptedLLM{replies: []string{`["zzzz"]`, `["qqqq"]`, `["mitochondria"]`}}
	cfg := config.Default()
	cfg.Context.FastMode = true

	engine := newEngine(client, nil, pages{
		2: "The mitochondria is the powerhouse of the cell.",
	}, cfg)

	result, err := engine.Retrieve(context.Background(), "explain ATP synthesis?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 escalating keyword calls, got %d", client.calls)
	}
	if result.Empty() {
		t.Fatal("broadest plan should have found the page")
	}
	if len(result.Pages) != 1 || result.Pages[0] != 2 {
		t.Fatalf("expected pages [2], got %v", result.Pages)
	}
}

func TestRetrieveAllAttemptsEmptyFallsBackLocally(t *testing.T) {
	client := &scriptedLLM{replies: []string{`["zzzz"]`}}
	cfg := config.Default()
	cfg.Context.FastMode = true

	engine := newEngine(client, nil, pages{1: "nothing relevant lives here"}, cfg)

	result, err := engine.Retrieve(context.Background(), "quantum chromodynamics?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Empty() {
		t.Fatalf("no attempt should match, got %+v", result)
	}
}

func TestRetrieveQualityModeFailsOpen(t *testing.T) {
	client := &scriptedLLM{err: errors.New("http 500")}
	cfg := config.Default()

	filter := relevance.NewLLMFilter(client, llm.Options{}, relevance.NewDecisionCache(), cfg.Context.MinRelevantSnippets, discard())
	engine := newEngine(client, filter, pages{
		3: "The mitochondria is the powerhouse of the cell.",
	}, cfg)

	result, err := engine.Retrieve(context.Background(), "what is the mitochondria?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Empty() {
		t.Fatal("fail-open classification should keep lexical matches")
	}
	if len(result.Pages) != 1 || result.Pages[0] != 3 {
		t.Fatalf("expected pages [3], got %v", result.Pages)
	}
}

func TestRetrieveContextCacheTTL(t *testing.T) {
	client := &scriptedLLM{replies: []string{`["mitochondria"]`}}
	cfg := config.Default()
	cfg.Context.FastMode = true

	engine := newEngine(client, nil, pages{
		3: "The mitochondria is the powerhouse of the cell.",
	}, cfg)

	base := time.Now()
	engine.now = func() time.Time { return base }

	first, err := engine.Retrieve(context.Background(), "What Is The Mitochondria")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Empty() {
		t.Fatal("expected a result to cache")
	}

	// Pull the document out from under the cache; a hit must still return
	// the original result verbatim.
	engine.index.Clear()

	engine.now = func() time.Time { return base.Add(9 * time.Minute) }
	cached, err := engine.Retrieve(context.Background(), "what is the   mitochondria")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cached.Context != first.Context {
		t.Fatal("normalized question should hit the cache within the TTL")
	}

	engine.now = func() time.Time { return base.Add(11 * time.Minute) }
	expired, err := engine.Retrieve(context.Background(), "what is the mitochondria")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expired.Context == first.Context {
		t.Fatal("expired entry should be recomputed, not reused")
	}
}

func TestResetClearsDocumentScopedCaches(t *testing.T) {
	client := &scriptedLLM{replies: []string{`["mitochondria"]`, `["mitochondria"]`}}
	cfg := config.Default()
	cfg.Context.FastMode = true

	engine := newEngine(client, nil, pages{
		3: "The mitochondria is the powerhouse of the cell.",
	}, cfg)

	if _, err := engine.Retrieve(context.Background(), "what is the mitochondria"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	callsBefore := client.calls

	engine.Reset()

	if _, err := engine.Retrieve(context.Background(), "what is the mitochondria"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.calls == callsBefore {
		t.Fatal("reset should force a fresh keyword plan")
	}
}
