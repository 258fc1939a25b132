package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseKeywordArray extracts a JSON string array from a model reply. Replies
// wrapped in fenced code blocks or surrounded by prose are tolerated; the
// first bracketed array found wins.
func parseKeywordArray(reply string) ([]string, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, fmt.Errorf("empty reply")
	}

	reply = stripCodeFence(reply)

	start := strings.IndexByte(reply, '[')
	end := strings.LastIndexByte(reply, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in reply")
	}

	var raw []any
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode keyword array: %w", err)
	}

	keywords := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s != "" {
			keywords = append(keywords, s)
		}
	}
	return keywords, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// Drop a language tag like ```json.
		if firstLine := strings.TrimSpace(s[:idx]); !strings.Contains(firstLine, "[") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
