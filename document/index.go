package document

import (
	"context"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Hit is one lexical occurrence of a term inside an indexed page.
type Hit struct {
	Page   int
	Offset int
	Length int
}

// PageIndex maps page numbers to extracted page text. A build replaces the
// whole mapping atomically; readers never observe a partially built index.
type PageIndex struct {
	mu    sync.RWMutex
	pages map[int]string
	count int
	ready bool
}

func NewPageIndex() *PageIndex {
	return &PageIndex{}
}

// Build runs one extraction pass over the provider and swaps the result in.
// Pages with no extractable text are left out; lookups on them return absent.
func (x *PageIndex) Build(ctx context.Context, provider Provider) {
	count := provider.PageCount()
	pages := make(map[int]string, count)

	for page := 1; page <= count; page++ {
		if ctx.Err() != nil {
			return
		}
		if text, ok := provider.PageText(page); ok {
			pages[page] = text
		}
	}

	x.mu.Lock()
	x.pages = pages
	x.count = count
	x.ready = true
	x.mu.Unlock()
}

// BuildAsync runs Build off the caller's goroutine. The returned channel is
// closed when indexing finishes; this is the "text indexed" readiness signal.
func (x *PageIndex) BuildAsync(ctx context.Context, provider Provider) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		x.Build(ctx, provider)
	}()
	return done
}

// Text returns the indexed text for a page, absent if the page was not
// indexed or the index is not built.
func (x *PageIndex) Text(page int) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	text, ok := x.pages[page]
	return text, ok
}

func (x *PageIndex) PageCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.count
}

func (x *PageIndex) Ready() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ready
}

// Clear drops the index. The next Build replaces it wholesale.
func (x *PageIndex) Clear() {
	x.mu.Lock()
	x.pages = nil
	x.count = 0
	x.ready = false
	x.mu.Unlock()
}

// Hits scans every indexed page for occurrences of term, in page order.
// Offsets and lengths always refer to the original page bytes: case folding
// can change byte length ('İ' grows, the Kelvin sign shrinks), so
// case-insensitive matching walks the original text rune by rune instead of
// searching a folded copy.
func (x *PageIndex) Hits(term string, caseSensitive bool) []Hit {
	if term == "" {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if !x.ready {
		return nil
	}

	var hits []Hit
	for page := 1; page <= x.count; page++ {
		text, ok := x.pages[page]
		if !ok {
			continue
		}

		if caseSensitive {
			offset := 0
			for {
				idx := strings.Index(text[offset:], term)
				if idx < 0 {
					break
				}
				start := offset + idx
				hits = append(hits, Hit{Page: page, Offset: start, Length: len(term)})
				offset = start + len(term)
			}
			continue
		}

		for i := 0; i < len(text); {
			if n := foldPrefixLen(text[i:], term); n > 0 {
				hits = append(hits, Hit{Page: page, Offset: i, Length: n})
				i += n
				continue
			}
			_, size := utf8.DecodeRuneInString(text[i:])
			i += size
		}
	}
	return hits
}

// foldPrefixLen returns the byte length of a case-insensitive match of term
// at the start of text, or 0 when text does not start with term.
func foldPrefixLen(text, term string) int {
	n := 0
	for len(term) > 0 {
		if n >= len(text) {
			return 0
		}
		tr, tsz := utf8.DecodeRuneInString(term)
		xr, xsz := utf8.DecodeRuneInString(text[n:])
		if !runesEqualFold(xr, tr) {
			return 0
		}
		n += xsz
		term = term[tsz:]
	}
	return n
}

// runesEqualFold reports whether two runes are equal under simple Unicode
// case folding, the same relation strings.EqualFold uses.
func runesEqualFold(a, b rune) bool {
	if a == b {
		return true
	}
	for r := unicode.SimpleFold(a); r != a; r = unicode.SimpleFold(r) {
		if r == b {
			return true
		}
	}
	return false
}
