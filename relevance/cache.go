package relevance

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// DecisionCache memoizes classifier verdicts per (question, snippet) pair.
// It is shared across concurrent classification calls.
type DecisionCache struct {
	mu        sync.RWMutex
	decisions map[string]bool
}

func NewDecisionCache() *DecisionCache {
	return &DecisionCache{decisions: make(map[string]bool)}
}

// Key derives the stable memoization key for a question/snippet pair.
func Key(question, snippet string) string {
	sum := sha256.Sum256([]byte(question + "\x00" + snippet))
	return hex.EncodeToString(sum[:])
}

func (c *DecisionCache) Get(key string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	decision, ok := c.decisions[key]
	return decision, ok
}

func (c *DecisionCache) Put(key string, decision bool) {
	c.mu.Lock()
	c.decisions[key] = decision
	c.mu.Unlock()
}

func (c *DecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.decisions)
}

// ClearAsync schedules a best-effort cache reset and returns immediately.
func (c *DecisionCache) ClearAsync() {
	go func() {
		c.mu.Lock()
		c.decisions = make(map[string]bool)
		c.mu.Unlock()
	}()
}
