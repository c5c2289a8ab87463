// Package api exposes the HTTP surface: health, ingestion triggers, the chat
// turn endpoint, message analysis, reconciliation, and index clearing.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/falabr/ouvidoria-agent/chat"
	"github.com/falabr/ouvidoria-agent/config"
	"github.com/falabr/ouvidoria-agent/ingestion"
	"github.com/falabr/ouvidoria-agent/scraper"
	"github.com/falabr/ouvidoria-agent/vectorstore"
)

// Deps holds the long-lived services the server routes to. They are wired once
// in main; the chat service in particular keeps per-session state and must not
// be rebuilt per request.
type Deps struct {
	Chat    *chat.Service
	Ingest  *ingestion.Service
	Store   vectorstore.Store
	Scraper *scraper.Scraper
}

// Server exposes HTTP handlers for the assistant workflows.
type Server struct {
	cfg     config.Config
	deps    Deps
	logger  *log.Logger
	handler http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Message string `json:"message"`
	Indexed int    `json:"indexed"`
}

type ingestRequest struct {
	Dir     string          `json:"dir"`
	Sources []sourceRequest `json:"sources"`
	Force   bool            `json:"force"`
}

type sourceRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type ingestResponse struct {
	Message string `json:"message"`
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Kind       string              `json:"kind"`
	Message    string              `json:"message"`
	Confidence float64             `json:"confidence"`
	Sources    []chatSource        `json:"sources,omitempty"`
	Suggestion *chat.Suggestion    `json:"suggestion,omitempty"`
	Analysis   chat.Classification `json:"analysis"`
}

type chatSource struct {
	Document   string   `json:"document"`
	Breadcrumb string   `json:"breadcrumb"`
	Snippet    string   `json:"snippet"`
	Score      float64  `json:"score"`
	Sections   int      `json:"sections,omitempty"`
	Topics     []string `json:"topics,omitempty"`
	URL        string   `json:"url,omitempty"`
}

type analyzeRequest struct {
	Message string `json:"message"`
}

type analyzeResponse struct {
	Analysis   chat.Classification `json:"analysis"`
	Suggestion *chat.Suggestion    `json:"suggestion,omitempty"`
}

type reconcileRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type reconcileResponse struct {
	Pruned int `json:"pruned"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

// New constructs a Server over pre-wired dependencies.
func New(cfg config.Config, deps Deps, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{cfg: cfg, deps: deps, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/ingest", s.handleIngest)
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("/v1/reconcile", s.handleReconcile)
	mux.HandleFunc("/v1/clear", s.handleClear)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	resp := healthResponse{Message: "ok"}
	if s.deps.Store != nil {
		if count, err := s.deps.Store.Count(r.Context()); err == nil {
			resp.Indexed = count
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	opts := ingestion.Options{
		ChunkSize:    s.cfg.ChunkSize,
		ChunkOverlap: s.cfg.ChunkOverlap,
		Blacklist:    s.cfg.TopicBlacklist,
		ForceRebuild: req.Force,
	}
	ctx := r.Context()

	if len(req.Sources) > 0 {
		sources := make([]scraper.Source, len(req.Sources))
		for i, src := range req.Sources {
			if strings.TrimSpace(src.URL) == "" {
				s.writeError(w, http.StatusBadRequest, fmt.Errorf("source %d: url is required", i))
				return
			}
			sources[i] = scraper.Source{Name: src.Name, URL: src.URL}
		}
		if err := s.deps.Ingest.IngestSources(ctx, s.deps.Scraper, sources, opts); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("ingestion failed: %w", err))
			return
		}
		s.writeJSON(w, http.StatusOK, ingestResponse{Message: "ingestion complete"})
		return
	}

	dir := strings.TrimSpace(req.Dir)
	if dir == "" {
		dir = s.cfg.DataDir
	}
	if err := s.deps.Ingest.IngestDirectory(ctx, dir, opts); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("ingestion failed: %w", err))
		return
	}
	s.writeJSON(w, http.StatusOK, ingestResponse{Message: "ingestion complete"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("message is required"))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("session_id is required"))
		return
	}

	reply, err := s.deps.Chat.HandleTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("chat failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, transformReply(reply))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req analyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("message is required"))
		return
	}

	cls, suggestion, err := s.deps.Chat.Analyze(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("analysis failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, analyzeResponse{Analysis: cls, Suggestion: suggestion})
}

// handleReconcile re-scrapes one wiki and prunes index records whose section
// no longer exists. This is the manual removal path; ordinary ingestion never
// deletes sections that merely disappeared.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req reconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("url is required"))
		return
	}

	ctx := r.Context()
	doc, err := s.deps.Scraper.Scrape(ctx, scraper.Source{Name: req.Name, URL: req.URL})
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("scrape source: %w", err))
		return
	}

	pruned, err := s.deps.Ingest.Reconcile(ctx, doc, s.cfg.TopicBlacklist)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("reconcile failed: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, reconcileResponse{Pruned: pruned})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req clearRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if !req.Confirm {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("confirm must be true to clear the index"))
		return
	}

	if err := s.deps.Store.Drop(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("clear index: %w", err))
		return
	}
	s.logger.Println("knowledge index cleared")
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "index cleared"})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func transformReply(reply chat.Reply) chatResponse {
	resp := chatResponse{
		Kind:       reply.Kind,
		Message:    reply.Message,
		Confidence: reply.Confidence,
		Suggestion: reply.Suggestion,
		Analysis:   reply.Classification,
	}
	if len(reply.Sources) == 0 {
		return resp
	}

	sources := make([]chatSource, len(reply.Sources))
	for i, src := range reply.Sources {
		sources[i] = chatSource{
			Document:   src.Document,
			Breadcrumb: src.Breadcrumb,
			Snippet:    src.Snippet,
			Score:      src.Score,
			Sections:   src.Insight.SectionCount,
			Topics:     append([]string(nil), src.Insight.Topics...),
			URL:        src.Insight.URL,
		}
	}
	resp.Sources = sources
	return resp
}
