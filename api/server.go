// Package api exposes the document QA pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/fabfab/docpilot/chat"
	"github.com/fabfab/docpilot/config"
	"github.com/fabfab/docpilot/document"
	"github.com/fabfab/docpilot/llm"
	"github.com/fabfab/docpilot/planner"
	"github.com/fabfab/docpilot/relevance"
	"github.com/fabfab/docpilot/retrieval"
	"github.com/fabfab/docpilot/search"
)

// Server serves the HTTP API over one loaded document at a time.
type Server struct {
	cfg     config.Config
	logger  *log.Logger
	handler http.Handler

	index   *document.PageIndex
	engine  *retrieval.Engine
	service *chat.Service

	mu       sync.Mutex
	provider *document.PDFProvider
	history  []chat.Message
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type loadRequest struct {
	Path string `json:"path"`
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer  string `json:"answer"`
	Pages   []int  `json:"pages"`
	Context string `json:"context,omitempty"`
}

type streamChunk struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Pages   []int  `json:"pages,omitempty"`
	Error   string `json:"error,omitempty"`
}

// New wires the full pipeline behind an HTTP handler using the provided
// configuration.
func New(cfg config.Config, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}

	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	index := document.NewPageIndex()
	executor := search.NewExecutor(index, cfg.Search)
	pl := planner.NewPlanner(client, llm.FromConfig(cfg.LLM.KeywordOptions), logger)

	decisions := relevance.NewDecisionCache()
	var filter relevance.Filter
	if cfg.Context.FastMode {
		filter = relevance.NewFastFilter()
	} else {
		filter = relevance.NewLLMFilter(client, llm.FromConfig(cfg.LLM.RelevanceOptions), decisions, cfg.Context.MinRelevantSnippets, logger)
	}

	engine := retrieval.NewEngine(pl, executor, filter, decisions, index, cfg, logger)

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		index:   index,
		engine:  engine,
		service: chat.NewService(engine, client, cfg, logger),
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/load", s.handleLoad)
	mux.HandleFunc("/v1/ask", s.handleAsk)
	mux.HandleFunc("/v1/ask/stream", s.handleAskStream)
	return mux
}

// Load opens a PDF, resets document-scoped caches and kicks off indexing in
// the background. The previous document, if any, is closed.
func (s *Server) Load(path string) error {
	provider, err := document.OpenPDF(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	previous := s.provider
	s.provider = provider
	s.history = nil
	s.mu.Unlock()

	if previous != nil {
		if closeErr := previous.Close(); closeErr != nil {
			s.logger.Printf("close previous document: %v", closeErr)
		}
	}

	s.index.Clear()
	s.engine.Reset()
	s.index.BuildAsync(context.Background(), provider)

	s.logger.Printf("loaded %s (%d pages), indexing in background", path, provider.PageCount())
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	if err := s.Load(req.Path); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "indexing started"})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	question, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}

	history := s.snapshotHistory()
	userMsg, assistant, err := s.service.Ask(r.Context(), question, history, nil)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.appendHistory(userMsg, assistant)

	writeJSON(w, http.StatusOK, askResponse{Answer: assistant.Content, Pages: assistant.Pages, Context: userMsg.Context})
}

// handleAskStream answers over a newline-delimited JSON stream: content
// fragments as they arrive, then a terminal done object with the source pages.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	question, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")

	enc := json.NewEncoder(w)
	emit := func(chunk streamChunk) {
		if err := enc.Encode(chunk); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}

	history := s.snapshotHistory()
	userMsg, assistant, err := s.service.Ask(r.Context(), question, history, func(text string) {
		emit(streamChunk{Content: text})
	})
	if err != nil {
		emit(streamChunk{Done: true, Error: err.Error()})
		return
	}
	s.appendHistory(userMsg, assistant)

	emit(streamChunk{Done: true, Pages: assistant.Pages})
}

func (s *Server) decodeAsk(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", false
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return "", false
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return "", false
	}
	return req.Question, true
}

func (s *Server) snapshotHistory() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Message(nil), s.history...)
}

func (s *Server) appendHistory(turns ...chat.Message) {
	s.mu.Lock()
	s.history = append(s.history, turns...)
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
