package retrieval

import (
	"strings"
	"sync"
	"time"
)

// contextTTL bounds how long an assembled context is reused for the same
// normalized question.
const contextTTL = 10 * time.Minute

type contextCache struct {
	mu      sync.Mutex
	entries map[string]Result
}

func newContextCache() *contextCache {
	return &contextCache{entries: make(map[string]Result)}
}

// get returns a cached result younger than the TTL at time now.
func (c *contextCache) get(question string, now time.Time) (Result, bool) {
	key := normalizeQuestion(question)

	c.mu.Lock()
	defer c.mu.Unlock()

	result, ok := c.entries[key]
	if !ok {
		return Result{}, false
	}
	if now.Sub(result.CreatedAt) > contextTTL {
		delete(c.entries, key)
		return Result{}, false
	}
	return result, true
}

func (c *contextCache) put(question string, result Result) {
	key := normalizeQuestion(question)
	c.mu.Lock()
	c.entries[key] = result
	c.mu.Unlock()
}

func (c *contextCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]Result)
	c.mu.Unlock()
}

func normalizeQuestion(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}
