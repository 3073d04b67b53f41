package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/chorus/internal/config"
	"github.com/ent0n29/chorus/internal/keys"
	"github.com/ent0n29/chorus/internal/memory"
	"github.com/ent0n29/chorus/internal/observability"
)

const memoryInspectLimit = 50

// Server exposes the operational surface of one bot process: health,
// metrics, memory inspection, and credential/model administration.
type Server struct {
	cfg      config.Config
	store    memory.Store
	keyStore keys.Store
	metrics  *observability.Metrics
}

func New(cfg config.Config, store memory.Store, keyStore keys.Store, metrics *observability.Metrics) *Server {
	return &Server{cfg: cfg, store: store, keyStore: keyStore, metrics: metrics}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/scopes", s.handleListScopes)
	r.Get("/v1/memory", s.handleGetMemory)
	r.Get("/v1/model", s.handleGetModel)
	r.Put("/v1/model", s.handleSetModel)
	r.Delete("/v1/model", s.handleClearModel)
	r.Post("/v1/keys/{provider}", s.handleAddKeys)
	r.Get("/v1/keys/{provider}", s.handleKeyStats)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"bot":    s.cfg.BotKey,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"bot":    s.cfg.BotKey,
	})
}

func (s *Server) handleListScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := s.store.ListScopes(r.Context(), s.cfg.BotKey)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"bot":    s.cfg.BotKey,
		"count":  len(scopes),
		"scopes": scopes,
	})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	scope := memory.Scope{BotKey: s.cfg.BotKey}
	var err error
	if scope.GuildID, err = queryInt64(r, "guild_id"); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if scope.ChannelID, err = queryInt64(r, "channel_id"); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if scope.UserID, err = queryInt64(r, "user_id"); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if scope.ChannelID == 0 || scope.UserID == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "channel_id and user_id are required")
		return
	}

	mem, err := s.store.GetMemory(r.Context(), scope, memoryInspectLimit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if mem == nil {
		respondError(w, http.StatusNotFound, "scope_not_found", "no memory for scope "+scope.Key())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"scope":          scope.Key(),
		"summary":        mem.Summary,
		"recent_count":   mem.RecentCount,
		"cutoff_turn_id": mem.CutoffTurnID,
		"recent_turns":   mem.RecentTurns,
		"updated_at":     mem.UpdatedAt,
	})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	override, err := s.keyStore.ModelOverride(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	effective := s.cfg.GenerationModel
	if override != "" {
		effective = override
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"default":  s.cfg.GenerationModel,
		"override": override,
		"model":    effective,
	})
}

type setModelRequest struct {
	Model     string `json:"model"`
	UpdatedBy string `json:"updated_by"`
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var req setModelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "model is required")
		return
	}
	if err := s.keyStore.SetModelOverride(r.Context(), req.Model, req.UpdatedBy, "httpapi"); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"model": strings.TrimSpace(req.Model)})
}

func (s *Server) handleClearModel(w http.ResponseWriter, r *http.Request) {
	if err := s.keyStore.ClearModelOverride(r.Context(), "", "httpapi"); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"model": s.cfg.GenerationModel})
}

type addKeysRequest struct {
	Keys    []string `json:"keys"`
	AddedBy string   `json:"added_by"`
}

func (s *Server) handleAddKeys(w http.ResponseWriter, r *http.Request) {
	prov, ok := keyProvider(chi.URLParam(r, "provider"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_provider", "provider must be generation or speech")
		return
	}
	var req addKeysRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Keys) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "keys is required")
		return
	}
	stats, err := s.keyStore.AddKeys(r.Context(), prov, req.Keys, req.AddedBy, "httpapi")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleKeyStats(w http.ResponseWriter, r *http.Request) {
	prov, ok := keyProvider(chi.URLParam(r, "provider"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_provider", "provider must be generation or speech")
		return
	}
	list, err := s.keyStore.ListKeys(r.Context(), prov)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	masked := make([]string, 0, len(list))
	for _, k := range list {
		masked = append(masked, keys.Mask(k))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"provider": prov,
		"count":    len(list),
		"keys":     masked,
	})
}

func keyProvider(raw string) (keys.Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(keys.ProviderGeneration):
		return keys.ProviderGeneration, true
	case string(keys.ProviderSpeech):
		return keys.ProviderSpeech, true
	default:
		return "", false
	}
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
