package planner

var stopwords = func() map[string]struct{} {
	words := []string{
		"the", "and", "are", "was", "were", "been", "being", "this", "that",
		"these", "those", "from", "over", "under", "again", "further", "than",
		"such", "into", "about", "between", "through", "during", "before",
		"after", "above", "below", "out", "off", "own", "same", "too", "very",
		"can", "will", "just", "should", "now", "what", "which", "who", "whom",
		"how", "why", "where", "when", "does", "did", "has", "have", "had",
		"tell", "explain", "describe", "please", "mean", "means",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
