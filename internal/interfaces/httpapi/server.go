package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/imthegoodboy/Paylink/internal/application"
	"github.com/imthegoodboy/Paylink/internal/config"
	"github.com/imthegoodboy/Paylink/internal/domain"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerView is the read surface the API serves, plus the cursor ops
// behind the reindex endpoint.
type LedgerView interface {
	ListBySlug(ctx context.Context, slug string, limit int) ([]domain.Payment, error)
	Summarize(ctx context.Context, slug string, now time.Time) (domain.SlugSummary, error)
	AccountBySlug(ctx context.Context, slug string) (domain.Account, bool, error)
	LastProcessedBlock(ctx context.Context) (uint64, bool, error)
	SetLastProcessedBlock(ctx context.Context, block uint64) error
	ClearLastProcessedBlock(ctx context.Context) error
	Ping(ctx context.Context) error
}

type RPCStatus interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Server struct {
	cfg       config.Config
	store     LedgerView
	rpc       RPCStatus
	metrics   *Metrics
	buildInfo BuildInfo
}

func NewServer(cfg config.Config, store LedgerView, rpc RPCStatus, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if store == nil || rpc == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{cfg: cfg, store: store, rpc: rpc, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/payments/{slug}", s.instrument("/payments/{slug}", s.handlePayments)).Methods(http.MethodGet)
	router.HandleFunc("/payments/{slug}/summary", s.instrument("/payments/{slug}/summary", s.handleSummary)).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{slug}", s.instrument("/accounts/{slug}", s.handleAccount)).Methods(http.MethodGet)
	router.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	router.HandleFunc("/reindex", s.handleReindex).Methods(http.MethodPost)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return router
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(s.metrics.httpLatency.WithLabelValues(r.Method, route))
		defer timer.ObserveDuration()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		s.metrics.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(recorder.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db not ready")
		return
	}
	if _, err := s.rpc.LatestBlockNumber(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type paymentResponse struct {
	TxHash     string `json:"tx_hash"`
	Payer      string `json:"payer"`
	Receiver   string `json:"receiver"`
	Token      string `json:"token"`
	Amount     string `json:"amount"`
	Slug       string `json:"slug"`
	Memo       string `json:"memo"`
	OccurredAt uint64 `json:"occurred_at"`
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	payments, err := s.store.ListBySlug(r.Context(), slug, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	response := make([]paymentResponse, 0, len(payments))
	for _, payment := range payments {
		response = append(response, paymentResponse{
			TxHash:     payment.TxHash,
			Payer:      payment.Payer,
			Receiver:   payment.Receiver,
			Token:      payment.Token,
			Amount:     payment.Amount,
			Slug:       payment.Slug,
			Memo:       payment.Memo,
			OccurredAt: payment.OccurredAt,
		})
	}
	respondJSON(w, http.StatusOK, response)
}

type windowResponse struct {
	Count  int    `json:"count"`
	Amount string `json:"amount"`
}

type summaryResponse struct {
	Slug        string         `json:"slug"`
	TotalCount  int            `json:"total_count"`
	TotalAmount string         `json:"total_amount"`
	Last7d      windowResponse `json:"last_7d"`
	Last30d     windowResponse `json:"last_30d"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]

	summary, err := s.store.Summarize(r.Context(), slug, time.Now().UTC())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "summary failed")
		return
	}
	respondJSON(w, http.StatusOK, summaryResponse{
		Slug:        slug,
		TotalCount:  summary.TotalCount,
		TotalAmount: summary.TotalAmount.String(),
		Last7d:      windowResponse{Count: summary.Last7d.Count, Amount: summary.Last7d.Amount.String()},
		Last30d:     windowResponse{Count: summary.Last30d.Count, Amount: summary.Last30d.Amount.String()},
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]

	account, ok, err := s.store.AccountBySlug(r.Context(), slug)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "unknown slug")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"slug":           account.Slug,
		"wallet_address": account.WalletAddress,
		"display_name":   account.DisplayName,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	last, ok, err := s.store.LastProcessedBlock(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "state read failed")
		return
	}
	response := map[string]any{
		"last_processed_block": last,
		"has_state":            ok,
		"config": map[string]any{
			"rpc_url":         s.cfg.RPCURL,
			"store_driver":    s.cfg.StoreDriver,
			"http_addr":       s.cfg.HTTPAddr,
			"gateway_address": s.cfg.GatewayAddress,
			"topic0":          s.cfg.Topic0,
			"chain_id":        s.cfg.ChainID,
			"start_block":     s.cfg.StartBlock,
			"confirmations":   s.cfg.Confirmations,
			"batch_size":      s.cfg.BatchSize,
			"poll_interval":   s.cfg.PollInterval.String(),
		},
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	from, err := parseUintParam(r, "from_block")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if from == 0 {
		if err := s.store.ClearLastProcessedBlock(r.Context()); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to reset state")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
		})
		return
	}

	target := from - 1
	if err := s.store.SetLastProcessedBlock(r.Context(), target); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update state")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"last_processed_block": target,
	})
}

func parseLimit(r *http.Request) (int, error) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, errors.New("invalid limit")
		}
		return value, nil
	}
	return application.DefaultListLimit, nil
}

func parseUintParam(r *http.Request, key string) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return 0, fmt.Errorf("%s is required", key)
		}
		valueAny, ok := payload[key]
		if !ok {
			return 0, fmt.Errorf("%s is required", key)
		}
		switch v := valueAny.(type) {
		case float64:
			return uint64(v), nil
		case string:
			return strconv.ParseUint(v, 10, 64)
		default:
			return 0, fmt.Errorf("invalid %s", key)
		}
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return value, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
