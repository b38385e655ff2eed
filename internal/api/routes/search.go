package routes

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	openai "github.com/sashabaranov/go-openai"

	"github.com/arborist-dev/arborist/internal/config"
	"github.com/arborist-dev/arborist/internal/engine"
	"github.com/arborist-dev/arborist/internal/search"
)

func SearchRoutes(pool *pgxpool.Pool, cfg *config.Config, oaiClient *openai.Client) chi.Router {
	r := chi.NewRouter()

	searchIdx := search.New(pool, cfg, nil, oaiClient)

	r.Post("/semantic", semanticSearch(pool, oaiClient))
	r.Post("/structural", structuralSearch(searchIdx))
	r.Post("/resolve", resolveSearch(pool, searchIdx, oaiClient))

	return r
}

func semanticSearch(pool *pgxpool.Pool, oaiClient *openai.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string   `json:"query"`
			ProjectID string   `json:"projectId"`
			Limit     int      `json:"limit"`
			Kinds     []string `json:"kinds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Query == "" {
			writeError(w, http.StatusBadRequest, "query is required")
			return
		}
		if req.ProjectID == "" {
			writeError(w, http.StatusBadRequest, "projectId is required")
			return
		}
		if oaiClient == nil {
			writeError(w, http.StatusServiceUnavailable, "OpenAI API key not configured")
			return
		}

		results, err := engine.SemanticSearch(r.Context(), pool, oaiClient, req.Query, req.ProjectID, req.Limit, req.Kinds)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, results)
	}
}

// structuralSearch runs the BM25 half of the hybrid index (no embedding call
// required), giving callers a fast lexical/identifier search over symbol
// names, qualified names, docstrings, and source.
func structuralSearch(searchIdx *search.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string   `json:"query"`
			ProjectID string   `json:"projectId"`
			Limit     int      `json:"limit"`
			Kinds     []string `json:"kinds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Query == "" {
			writeError(w, http.StatusBadRequest, "query is required")
			return
		}
		if req.ProjectID == "" {
			writeError(w, http.StatusBadRequest, "projectId is required")
			return
		}

		hits, err := searchIdx.Search(r.Context(), req.ProjectID, req.Query, nil, search.ModeFulltextOnly, req.Limit, req.Kinds)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, hits)
	}
}

// resolveSearch exposes the unified from/to/topic query resolver: it accepts
// exact (symbol[+filePath]) or fuzzy (query) endpoints and returns the
// traversed subgraph, per spec.md §4.9.
func resolveSearch(pool *pgxpool.Pool, searchIdx *search.Index, oaiClient *openai.Client) http.HandlerFunc {
	type endpointReq struct {
		Symbol   string `json:"symbol"`
		FilePath string `json:"filePath"`
		Query    string `json:"query"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProjectID string       `json:"projectId"`
			From      *endpointReq `json:"from"`
			To        *endpointReq `json:"to"`
			Topic     string       `json:"topic"`
			MaxNodes  int          `json:"maxNodes"`
			Kinds     []string     `json:"kinds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ProjectID == "" {
			writeError(w, http.StatusBadRequest, "projectId is required")
			return
		}
		if req.From == nil && req.To == nil && req.Topic == "" {
			writeError(w, http.StatusBadRequest, "at least one of from, to, or topic is required")
			return
		}

		input := engine.ResolveInput{
			Topic:    req.Topic,
			MaxNodes: req.MaxNodes,
			Kinds:    req.Kinds,
		}
		if req.From != nil {
			input.From = &engine.Endpoint{Symbol: req.From.Symbol, FilePath: req.From.FilePath, Query: req.From.Query}
		}
		if req.To != nil {
			input.To = &engine.Endpoint{Symbol: req.To.Symbol, FilePath: req.To.FilePath, Query: req.To.Query}
		}

		result, err := engine.Resolve(r.Context(), pool, searchIdx, oaiClient, req.ProjectID, input)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}
