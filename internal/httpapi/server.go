// Package httpapi exposes retrieval over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"afpbot/internal/answer"
	"afpbot/internal/config"
	"afpbot/internal/domain"
	"afpbot/internal/logger"
)

// Retriever is the query side the API depends on.
type Retriever interface {
	Kind() config.StoreKind
	Ready() bool
	IsAvailable() bool
	SimilaritySearch(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

// Options tunes request handling.
type Options struct {
	TopK           int
	RequestTimeout time.Duration
}

// Server serves the query API.
type Server struct {
	retriever Retriever
	opts      Options
	log       *slog.Logger
}

type rootResponse struct {
	Message     string `json:"message"`
	VectorStore string `json:"vector_store"`
	Status      string `json:"status"`
}

type queryRequest struct {
	Question string `json:"question"`
}

type queryResponse struct {
	Answer      string `json:"answer"`
	Question    string `json:"question"`
	Source      string `json:"source"`
	VectorStore string `json:"vector_store"`
}

type searchResponse struct {
	Results     []string `json:"results"`
	VectorStore string   `json:"vector_store"`
}

type healthResponse struct {
	Status               string `json:"status"`
	VectorStore          string `json:"vector_store"`
	VectorStoreAvailable bool   `json:"vector_store_available"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// NewServer builds a server. Zero options fall back to k=3 and a 30s timeout.
func NewServer(r Retriever, opts Options, log *slog.Logger) *Server {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Server{retriever: r, opts: opts, log: log}
}

// Handler returns the routed handler wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /afp-query", s.handleQuery)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.logRequests(cors(mux))
}

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("http server listening", "addr", addr, "store", string(s.retriever.Kind()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) kind() string { return string(s.retriever.Kind()) }

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		Message:     "Servidor AFP Chatbot Perú funcionando correctamente",
		VectorStore: s.kind(),
		Status:      "ok",
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()
	results, err := s.retriever.SimilaritySearch(ctx, req.Question, s.opts.TopK)
	if err != nil {
		s.writeRetrievalError(w, err)
		return
	}

	a, err := answer.Build(results, s.retriever.Kind())
	if err != nil {
		s.log.Error("build answer", "err", err)
		writeError(w, http.StatusInternalServerError, "Error al procesar la consulta")
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Answer:      a.Text,
		Question:    req.Question,
		Source:      a.Source,
		VectorStore: s.kind(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if strings.TrimSpace(query) == "" {
		writeError(w, http.StatusBadRequest, "query parameter is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()
	results, err := s.retriever.SimilaritySearch(ctx, query, 1)
	if err != nil {
		s.writeRetrievalError(w, err)
		return
	}

	out := searchResponse{Results: make([]string, 0, len(results)), VectorStore: s.kind()}
	for _, res := range results {
		out.Results = append(out.Results, res.Chunk.Content)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "unhealthy"
	if s.retriever.Ready() {
		status = "healthy"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:               status,
		VectorStore:          s.kind(),
		VectorStoreAvailable: s.retriever.IsAvailable(),
	})
}

func (s *Server) writeRetrievalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf(
			"Vectorstore no disponible. Verifica tu configuración de %s y ejecuta primero 'afpbot ingest'", s.kind()))
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("retrieval failed", "store", s.kind(), "err", err)
		writeError(w, http.StatusInternalServerError, "Error al procesar la consulta")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
