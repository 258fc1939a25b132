package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fabfab/docpilot/config"
)

type fakeProvider struct {
	pages []string
}

func (p *fakeProvider) PageCount() int { return len(p.pages) }

func (p *fakeProvider) PageText(page int) (string, bool) {
	if page < 1 || page > len(p.pages) {
		return "", false
	}
	return p.pages[page-1], true
}

// newTestServer wires a fast-mode server against a stubbed model endpoint and
// indexes the given pages synchronously.
func newTestServer(t *testing.T, modelURL string, pages []string) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.LLM.OllamaHost = modelURL
	cfg.Context.FastMode = true

	s, err := New(cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	s.index.Build(context.Background(), &fakeProvider{pages: pages})
	return s
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "http://localhost:1", nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message != "ok" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestAskAnswersFromDocument(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"Photosynthesis happens in the chloroplast."},"done":true}`)
	}))
	defer model.Close()

	s := newTestServer(t, model.URL, []string{
		"Introduction to cell biology.",
		"Photosynthesis converts light energy into chemical energy inside the chloroplast.",
	})

	body := bytes.NewBufferString(`{"question":"where does photosynthesis happen?"}`)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ask", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.Answer, "chloroplast") {
		t.Errorf("unexpected answer: %q", resp.Answer)
	}
	if len(resp.Pages) != 1 || resp.Pages[0] != 2 {
		t.Errorf("unexpected pages: %v", resp.Pages)
	}
}

func TestAskStreamEmitsNDJSON(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"The chloroplast"}}`)
		fmt.Fprintln(w, `{"message":{"content":" hosts photosynthesis."}}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true}`)
	}))
	defer model.Close()

	s := newTestServer(t, model.URL, []string{
		"Photosynthesis converts light energy inside the chloroplast.",
	})

	body := bytes.NewBufferString(`{"question":"where does photosynthesis happen?"}`)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ask/stream", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("unexpected content type: %s", ct)
	}

	var content strings.Builder
	var final *streamChunk
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var chunk streamChunk
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			t.Fatalf("decode chunk %q: %v", scanner.Text(), err)
		}
		if chunk.Done {
			c := chunk
			final = &c
			break
		}
		content.WriteString(chunk.Content)
	}
	if final == nil {
		t.Fatal("stream never emitted a done chunk")
	}
	if final.Error != "" {
		t.Fatalf("unexpected stream error: %s", final.Error)
	}
	if content.String() != "The chloroplast hosts photosynthesis." {
		t.Errorf("unexpected streamed content: %q", content.String())
	}
	if len(final.Pages) != 1 || final.Pages[0] != 1 {
		t.Errorf("unexpected pages: %v", final.Pages)
	}
}

func TestAskRejectsBadRequests(t *testing.T) {
	s := newTestServer(t, "http://localhost:1", nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ask", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET should be rejected, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ask", bytes.NewBufferString(`{"question":""}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty question should be rejected, got %d", rec.Code)
	}
}

func TestLoadRejectsMissingPath(t *testing.T) {
	s := newTestServer(t, "http://localhost:1", nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/load", bytes.NewBufferString(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing path should be rejected, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/load", bytes.NewBufferString(`{"path":"/does/not/exist.pdf"}`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unreadable document should be rejected, got %d", rec.Code)
	}
}

func TestHistoryAccumulatesAcrossAsks(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"answer"},"done":true}`)
	}))
	defer model.Close()

	s := newTestServer(t, model.URL, []string{"Photosynthesis in the chloroplast."})

	for i := 0; i < 2; i++ {
		body := bytes.NewBufferString(`{"question":"photosynthesis?"}`)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ask", body))
		if rec.Code != http.StatusOK {
			t.Fatalf("ask %d failed with %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	if got := len(s.snapshotHistory()); got != 4 {
		t.Fatalf("expected 4 history messages after two turns, got %d", got)
	}
}
