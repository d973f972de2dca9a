package server

import (
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/persistence"
	"PredictLedger/internal/projection"
	"PredictLedger/internal/query"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server is the HTTP + WebSocket read API for the ledger. All queries are
// served from projection tables; admin injection routes feed the same event
// channel as NATS ingestion.
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

// ServerDeps holds all dependencies needed by the HTTP handlers.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	AdminService  *ingestion.AdminIngestService
	SnapshotMgr   *persistence.SnapshotManager
	PriceHistory  *projection.PriceHistoryProjection
	HealthChecker *observability.HealthChecker
	Hub           *Hub
}

// NewServer creates the HTTP server with all routes registered.
func NewServer(addr string, deps *ServerDeps, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	h := &handlers{deps: deps, logger: logger}

	// Health endpoints (no logging middleware noise).
	if deps.HealthChecker != nil {
		mux.HandleFunc("GET /healthz", deps.HealthChecker.LivenessHandler)
		mux.HandleFunc("GET /readyz", deps.HealthChecker.ReadinessHandler)
	}

	// Market endpoints.
	mux.HandleFunc("GET /api/markets", h.listMarkets)
	mux.HandleFunc("GET /api/markets/{id}", h.getMarket)
	mux.HandleFunc("GET /api/markets/{id}/balances", h.getMarketBalances)
	mux.HandleFunc("GET /api/markets/{id}/positions", h.getMarketPositions)
	mux.HandleFunc("GET /api/markets/{id}/prices", h.getMarketPrices)

	// Event log page for indexers catching up out of band.
	mux.HandleFunc("GET /api/events", h.getEvents)

	// User endpoints.
	mux.HandleFunc("GET /api/users/{id}/balance", h.getUserBalance)
	mux.HandleFunc("GET /api/users/{id}/positions", h.getUserPositions)
	mux.HandleFunc("GET /api/users/{id}/journals", h.getUserJournals)

	// Treasury.
	mux.HandleFunc("GET /api/treasury/{asset}", h.getTreasury)

	// Admin endpoints.
	mux.HandleFunc("POST /api/admin/pause", h.adminPause)
	mux.HandleFunc("POST /api/admin/resolve", h.adminResolve)
	mux.HandleFunc("POST /api/admin/cancel", h.adminCancel)
	mux.HandleFunc("POST /api/admin/projections/rebuild", h.adminRebuildProjections)
	mux.HandleFunc("GET /api/admin/integrity", h.adminVerifyIntegrity)
	mux.HandleFunc("GET /api/admin/eventlog", h.adminEventLogInfo)

	// WebSocket event feed.
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	handler := loggingMiddleware(logger)(mux)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start begins listening for HTTP requests (blocking). Shuts down
// gracefully when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func loggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

// --- handlers ---

type handlers struct {
	deps   *ServerDeps
	logger zerolog.Logger
}

func (h *handlers) listMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var state, category, after *string
	if v := q.Get("state"); v != "" {
		state = &v
	}
	if v := q.Get("category"); v != "" {
		category = &v
	}
	if v := q.Get("after"); v != "" {
		after = &v
	}

	limit := parseLimit(q.Get("limit"), 50, 200)

	markets, err := h.deps.QueryService.ListMarkets(r.Context(), state, category, limit, after)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list markets failed")
		h.logger.Error().Err(err).Msg("list markets")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": markets})
}

func (h *handlers) getMarket(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")
	if _, err := uuid.Parse(marketID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	market, err := h.deps.QueryService.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get market failed")
		h.logger.Error().Err(err).Str("market_id", marketID).Msg("get market")
		return
	}
	if market == nil {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}

	writeJSON(w, http.StatusOK, market)
}

func (h *handlers) getMarketBalances(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")
	if _, err := uuid.Parse(marketID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	asset := r.URL.Query().Get("asset")
	if asset == "" {
		asset = "USDC"
	}

	balances, err := h.deps.QueryService.GetMarketBalances(r.Context(), marketID, asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get market balances failed")
		h.logger.Error().Err(err).Str("market_id", marketID).Msg("get market balances")
		return
	}

	writeJSON(w, http.StatusOK, balances)
}

func (h *handlers) getMarketPositions(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")
	if _, err := uuid.Parse(marketID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	positions, err := h.deps.QueryService.GetMarketPositions(r.Context(), marketID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get market positions failed")
		h.logger.Error().Err(err).Str("market_id", marketID).Msg("get market positions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

type eventPageEntry struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	MarketID       *string         `json:"market_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func (h *handlers) getEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var from int64
	if v := q.Get("from_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid from_sequence")
			return
		}
		from = n
	}
	limit := parseLimit(q.Get("limit"), 100, 1000)

	rows, err := h.deps.SnapshotMgr.LoadEventsFrom(r.Context(), from, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load events failed")
		h.logger.Error().Err(err).Msg("load events")
		return
	}

	entries := make([]eventPageEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, eventPageEntry{
			Sequence:       row.Sequence,
			EventType:      row.EventType,
			IdempotencyKey: row.IdempotencyKey,
			MarketID:       row.MarketID,
			Payload:        json.RawMessage(row.Payload),
			StateHash:      fmt.Sprintf("%x", row.StateHash),
			PrevHash:       fmt.Sprintf("%x", row.PrevHash),
			Timestamp:      row.Timestamp,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

func (h *handlers) getMarketPrices(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")
	if _, err := uuid.Parse(marketID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	if h.deps.PriceHistory == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"prices": []interface{}{}})
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"), 100, 1000)
	points := h.deps.PriceHistory.QueryByMarket(marketID, limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"prices": points})
}

func (h *handlers) getUserBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	asset := r.URL.Query().Get("asset")
	if asset == "" {
		asset = "USDC"
	}

	balance, err := h.deps.QueryService.GetBalance(r.Context(), userID, asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get balance failed")
		h.logger.Error().Err(err).Str("user_id", userID.String()).Msg("get balance")
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

func (h *handlers) getUserPositions(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	positions, err := h.deps.QueryService.GetPositions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get positions failed")
		h.logger.Error().Err(err).Str("user_id", userID.String()).Msg("get positions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (h *handlers) getUserJournals(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), 100, 500)

	var afterSeq *int64
	if v := q.Get("before_sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before_sequence")
			return
		}
		afterSeq = &seq
	}

	entries, err := h.deps.QueryService.GetJournalHistory(r.Context(), userID, limit, afterSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get journals failed")
		h.logger.Error().Err(err).Str("user_id", userID.String()).Msg("get journals")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
}

func (h *handlers) getTreasury(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")

	treasury, err := h.deps.QueryService.GetTreasury(r.Context(), asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get treasury failed")
		h.logger.Error().Err(err).Str("asset", asset).Msg("get treasury")
		return
	}

	writeJSON(w, http.StatusOK, treasury)
}

// --- admin handlers ---

type pauseRequest struct {
	Signer   string  `json:"signer"`
	MarketID *string `json:"market_id,omitempty"`
	Pause    bool    `json:"pause"`
}

func (h *handlers) adminPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	signer, err := uuid.Parse(req.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signer")
		return
	}

	var marketID *uuid.UUID
	if req.MarketID != nil {
		mid, err := uuid.Parse(*req.MarketID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid market_id")
			return
		}
		marketID = &mid
	}

	if err := h.deps.AdminService.InjectEmergencyPause(r.Context(), signer, marketID, req.Pause); err != nil {
		writeError(w, http.StatusServiceUnavailable, "injection failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

type resolveRequest struct {
	Signer         string `json:"signer"`
	MarketID       string `json:"market_id"`
	Outcome        string `json:"outcome"` // "yes" or "no"
	ResolutionData string `json:"resolution_data,omitempty"`
}

func (h *handlers) adminResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	signer, err := uuid.Parse(req.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signer")
		return
	}
	marketID, err := uuid.Parse(req.MarketID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market_id")
		return
	}

	var outcome bool
	switch req.Outcome {
	case "yes":
		outcome = true
	case "no":
		outcome = false
	default:
		writeError(w, http.StatusBadRequest, "outcome must be yes or no")
		return
	}

	if err := h.deps.AdminService.InjectResolveMarket(r.Context(), signer, marketID, outcome, req.ResolutionData); err != nil {
		writeError(w, http.StatusServiceUnavailable, "injection failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

type cancelRequest struct {
	Signer   string `json:"signer"`
	MarketID string `json:"market_id"`
	Reason   string `json:"reason"`
}

func (h *handlers) adminCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	signer, err := uuid.Parse(req.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signer")
		return
	}
	marketID, err := uuid.Parse(req.MarketID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market_id")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	if err := h.deps.AdminService.InjectCancelMarket(r.Context(), signer, marketID, req.Reason); err != nil {
		writeError(w, http.StatusServiceUnavailable, "injection failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

func (h *handlers) adminRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), h.deps.DB); err != nil {
		writeError(w, http.StatusInternalServerError, "rebuild failed")
		h.logger.Error().Err(err).Msg("rebuild projections")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
}

func (h *handlers) adminVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verify failed")
		h.logger.Error().Err(err).Msg("verify integrity")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) adminEventLogInfo(w http.ResponseWriter, r *http.Request) {
	latestSeq, err := h.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "event log info failed")
		h.logger.Error().Err(err).Msg("event log info")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"last_sequence": latestSeq})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseLimit(s string, def, max int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
