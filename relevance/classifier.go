package relevance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/fabfab/docpilot/llm"
	"github.com/fabfab/docpilot/search"
)

// maxInFlight bounds concurrent classification calls against the generation
// endpoint.
const maxInFlight = 3

const classifierPrompt = `You judge whether a document snippet helps answer a question. Respond with a single JSON object {"relevant": true} or {"relevant": false} and nothing else.`

// LLMFilter asks the generation endpoint to accept or reject each snippet.
// Decisions are memoized; failures count as relevant (fail open). Once
// minAccepted snippets are accepted no further batches start, so the result
// is best-effort rather than exhaustive.
type LLMFilter struct {
	llm         llm.Client
	opts        llm.Options
	cache       *DecisionCache
	minAccepted int
	logger      *log.Logger
}

func NewLLMFilter(client llm.Client, opts llm.Options, cache *DecisionCache, minAccepted int, logger *log.Logger) *LLMFilter {
	if cache == nil {
		cache = NewDecisionCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &LLMFilter{
		llm:         client,
		opts:        opts,
		cache:       cache,
		minAccepted: minAccepted,
		logger:      logger,
	}
}

func (f *LLMFilter) Filter(ctx context.Context, question string, matches []search.Match) []search.Match {
	if len(matches) == 0 {
		return nil
	}

	ordered := orderByPage(matches)
	accepted := make([]search.Match, 0, len(ordered))

	for start := 0; start < len(ordered); start += maxInFlight {
		if f.minAccepted > 0 && len(accepted) >= f.minAccepted {
			break
		}

		end := start + maxInFlight
		if end > len(ordered) {
			end = len(ordered)
		}
		batch := ordered[start:end]

		verdicts := make([]bool, len(batch))
		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				verdicts[i] = f.classify(ctx, question, batch[i].Context)
			}(i)
		}
		wg.Wait()

		for i, ok := range verdicts {
			if ok {
				accepted = append(accepted, batch[i])
			}
		}
	}
	return accepted
}

// classify resolves one (question, snippet) decision, consulting the shared
// cache first. Any remote or parse failure is treated as relevant.
func (f *LLMFilter) classify(ctx context.Context, question, snippet string) bool {
	key := Key(question, snippet)
	if decision, ok := f.cache.Get(key); ok {
		return decision
	}

	decision := true
	reply, err := f.llm.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: classifierPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Question: %s\n\nSnippet:\n%s", question, snippet)},
	}, f.opts)
	if err != nil {
		f.logger.Printf("relevance: classification failed, assuming relevant: %v", err)
	} else if parsed, parseErr := parseDecision(reply); parseErr != nil {
		f.logger.Printf("relevance: unparsable verdict %q, assuming relevant: %v", reply, parseErr)
	} else {
		decision = parsed
	}

	f.cache.Put(key, decision)
	return decision
}

// parseDecision reads a verdict leniently: booleans, 0/1 numbers and
// yes/no style strings are all accepted.
func parseDecision(reply string) (bool, error) {
	reply = strings.TrimSpace(reply)
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return false, fmt.Errorf("no JSON object in reply")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(reply[start:end+1]), &payload); err != nil {
		return false, fmt.Errorf("decode verdict: %w", err)
	}

	value, ok := payload["relevant"]
	if !ok {
		return false, fmt.Errorf("verdict has no relevant field")
	}

	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0":
			return false, nil
		}
		return false, fmt.Errorf("unrecognized verdict string %q", v)
	default:
		return false, fmt.Errorf("unrecognized verdict type %T", value)
	}
}

// orderByPage groups matches by page and flattens back to a stable
// (page, original order) sequence.
func orderByPage(matches []search.Match) []search.Match {
	grouped := make(map[int][]search.Match)
	pages := make([]int, 0)
	for _, m := range matches {
		if _, ok := grouped[m.Page]; !ok {
			pages = append(pages, m.Page)
		}
		grouped[m.Page] = append(grouped[m.Page], m)
	}
	sort.Ints(pages)

	ordered := make([]search.Match, 0, len(matches))
	for _, page := range pages {
		ordered = append(ordered, grouped[page]...)
	}
	return ordered
}
