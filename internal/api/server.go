package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"ecowatch/internal/alerts"
	"ecowatch/internal/config"
	"ecowatch/internal/metrics"
	"ecowatch/internal/model"
	"ecowatch/internal/pipeline"
	"ecowatch/internal/storage"
)

// IdentityFunc resolves the authenticated submitter for a request. The
// service never authenticates; this is the seam where the session provider
// plugs in.
type IdentityFunc func(r *http.Request) (string, bool)

// TokenIdentity resolves identities from the bearer-token table in config.
func TokenIdentity(cfg *config.Manager) IdentityFunc {
	return func(r *http.Request) (string, bool) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return "", false
		}
		identity, ok := cfg.Get().API.AuthTokens[token]
		return identity, ok
	}
}

type Server struct {
	cfg      *config.Manager
	pipeline *pipeline.Pipeline
	store    storage.Store
	events   *alerts.Store
	metrics  *metrics.Metrics
	identity IdentityFunc
	logger   *slog.Logger
	version  string
}

func NewServer(cfg *config.Manager, pl *pipeline.Pipeline, store storage.Store, events *alerts.Store, m *metrics.Metrics, identity IdentityFunc, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:      cfg,
		pipeline: pl,
		store:    store,
		events:   events,
		metrics:  m,
		identity: identity,
		logger:   logger,
		version:  version,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/uploads", s.handleUpload)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/concerns", s.handleConcerns)
	mux.HandleFunc("/observations", s.handleObservations)
	mux.HandleFunc("/score", s.handleScore)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/config/auth_tokens", s.handleAuthTokens)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func Start(ctx context.Context, s *Server) *http.Server {
	addr := s.cfg.Get().API.Addr
	if s.logger != nil {
		s.logger.Info("api server starting", "addr", addr)
	}
	httpServer := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity, ok := s.identity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "authentication required"})
		return
	}
	var sub model.Submission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	res, err := s.pipeline.Process(r.Context(), identity, sub)
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		// Classifier, resolver and store failures all surface the same
		// way; the detail stays in the logs, not in the response.
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "data uploaded",
		"id":      res.ObservationID,
		"concern": res.Concern,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		s.events.Clear()
		writeJSON(w, http.StatusOK, map[string]any{"message": "alerts cleared"})
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []alerts.Entry
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.events.Since(ts)
	} else {
		list = s.events.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

type concernsRequest struct {
	Concerns []string `json:"concerns"`
}

func (s *Server) handleConcerns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		// With a concern key, list its subscribers: the lookup a fan-out
		// dispatcher runs for each published event. Identities are not
		// public, so the caller must authenticate.
		if key := r.URL.Query().Get("concern"); key != "" {
			if _, ok := s.identity(r); !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "authentication required"})
				return
			}
			if !model.ValidCategory(key) {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown concern category: " + key})
				return
			}
			subscribers, err := s.store.Subscribers(r.Context(), model.ConcernCategory(key))
			if err != nil {
				if s.logger != nil {
					s.logger.Error("subscriber lookup failed", "concern", key, "err", err)
				}
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"concern":     key,
				"subscribers": subscribers,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"categories": model.Categories(),
			"labels":     model.MatcherLabels(),
		})
	case http.MethodPut:
		identity, ok := s.identity(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "authentication required"})
			return
		}
		var req concernsRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
			return
		}
		concerns := make([]model.ConcernCategory, 0, len(req.Concerns))
		for _, key := range req.Concerns {
			if !model.ValidCategory(key) {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown concern category: " + key})
				return
			}
			concerns = append(concerns, model.ConcernCategory(key))
		}
		if err := s.store.SetSubscriptions(r.Context(), identity, concerns); err != nil {
			if s.logger != nil {
				s.logger.Error("set subscriptions failed", "source", identity, "err", err)
			}
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "concerns updated"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity, ok := s.identity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "authentication required"})
		return
	}
	points, err := s.store.GetScore(r.Context(), identity)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("score lookup failed", "source", identity, "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": identity,
		"points":   points,
	})
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.identity(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "authentication required"})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	list, err := s.store.ListObservations(r.Context(), limit)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("observation list failed", "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"observations": list,
		"count":        len(list),
	})
}

// handleAuthTokens is the admin seam the session provider drives: it swaps
// the live bearer-token table and persists it when the config has a backing
// file. Token values stay write-only; reads expose identities alone.
func (s *Server) handleAuthTokens(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tokens := s.cfg.Get().API.AuthTokens
		identities := make([]string, 0, len(tokens))
		for _, identity := range tokens {
			identities = append(identities, identity)
		}
		sort.Strings(identities)
		writeJSON(w, http.StatusOK, map[string]any{
			"identities": identities,
			"count":      len(identities),
		})
	case http.MethodPut:
		var tokens map[string]string
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 256<<10)).Decode(&tokens); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
			return
		}
		updated := *s.cfg.Get()
		updated.API.AuthTokens = tokens
		if err := s.cfg.Update(&updated); err != nil {
			if s.logger != nil {
				s.logger.Error("auth token update failed", "err", err)
			}
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "auth tokens updated"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type statusResponse struct {
	Status     string `json:"status"`
	Time       string `json:"time"`
	Version    string `json:"version"`
	ConfigPath string `json:"config_path"`
	Classifier string `json:"classifier_endpoint"`
	Storage    string `json:"storage_driver"`
	Kafka      bool   `json:"kafka_enabled"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Classifier: cfg.Classifier.Endpoint,
		Storage:    cfg.Storage.Driver,
		Kafka:      cfg.Publisher.Kafka.Enabled,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
