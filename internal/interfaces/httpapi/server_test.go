package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/imthegoodboy/Paylink/internal/config"
	"github.com/imthegoodboy/Paylink/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	payments  map[string][]domain.Payment
	accounts  map[string]domain.Account
	cursor    uint64
	hasCursor bool
	pingErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payments: make(map[string][]domain.Payment),
		accounts: make(map[string]domain.Account),
	}
}

func (s *fakeStore) ListBySlug(ctx context.Context, slug string, limit int) ([]domain.Payment, error) {
	payments := s.payments[slug]
	if limit > 0 && len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

func (s *fakeStore) Summarize(ctx context.Context, slug string, now time.Time) (domain.SlugSummary, error) {
	total := new(big.Int)
	count := 0
	for _, payment := range s.payments[slug] {
		amount, _ := new(big.Int).SetString(payment.Amount, 10)
		total.Add(total, amount)
		count++
	}
	return domain.SlugSummary{
		TotalCount:  count,
		TotalAmount: total,
		Last7d:      domain.WindowTotals{Count: count, Amount: new(big.Int).Set(total)},
		Last30d:     domain.WindowTotals{Count: count, Amount: new(big.Int).Set(total)},
	}, nil
}

func (s *fakeStore) AccountBySlug(ctx context.Context, slug string) (domain.Account, bool, error) {
	account, ok := s.accounts[slug]
	return account, ok, nil
}

func (s *fakeStore) LastProcessedBlock(ctx context.Context) (uint64, bool, error) {
	return s.cursor, s.hasCursor, nil
}

func (s *fakeStore) SetLastProcessedBlock(ctx context.Context, block uint64) error {
	s.cursor = block
	s.hasCursor = true
	return nil
}

func (s *fakeStore) ClearLastProcessedBlock(ctx context.Context) error {
	s.cursor = 0
	s.hasCursor = false
	return nil
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }

type fakeRPC struct {
	latest uint64
	err    error
}

func (r *fakeRPC) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return r.latest, r.err
}

func newTestServer(t *testing.T, store *fakeStore, rpc *fakeRPC) *Server {
	t.Helper()
	server, err := NewServer(config.Config{HTTPAddr: ":0", ChainID: 80002}, store, rpc, NewMetrics(), BuildInfo{Version: "test"})
	require.NoError(t, err)
	return server
}

func doRequest(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func TestPaymentsEndpoint(t *testing.T) {
	store := newFakeStore()
	store.payments["coffee-fund"] = []domain.Payment{
		{TxHash: "0x2", Amount: "200", Slug: "coffee-fund", OccurredAt: 1700000100},
		{TxHash: "0x1", Amount: "100", Slug: "coffee-fund", OccurredAt: 1700000000},
	}
	server := newTestServer(t, store, &fakeRPC{latest: 100})

	recorder := doRequest(t, server, http.MethodGet, "/payments/coffee-fund", "")
	require.Equal(t, http.StatusOK, recorder.Code)

	var payments []paymentResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payments))
	require.Len(t, payments, 2)
	assert.Equal(t, "0x2", payments[0].TxHash)
	assert.Equal(t, "200", payments[0].Amount)

	recorder = doRequest(t, server, http.MethodGet, "/payments/unknown", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payments))
	assert.Empty(t, payments)

	recorder = doRequest(t, server, http.MethodGet, "/payments/coffee-fund?limit=bad", "")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestSummaryEndpointKeepsPrecision(t *testing.T) {
	store := newFakeStore()
	store.payments["coffee-fund"] = []domain.Payment{
		{TxHash: "0x1", Amount: "123456789012345678901234567890", Slug: "coffee-fund"},
		{TxHash: "0x2", Amount: "1", Slug: "coffee-fund"},
	}
	server := newTestServer(t, store, &fakeRPC{})

	recorder := doRequest(t, server, http.MethodGet, "/payments/coffee-fund/summary", "")
	require.Equal(t, http.StatusOK, recorder.Code)

	var summary summaryResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &summary))
	assert.Equal(t, "coffee-fund", summary.Slug)
	assert.Equal(t, 2, summary.TotalCount)
	assert.Equal(t, "123456789012345678901234567891", summary.TotalAmount)
	assert.Equal(t, "123456789012345678901234567891", summary.Last7d.Amount)
}

func TestAccountEndpoint(t *testing.T) {
	store := newFakeStore()
	store.accounts["coffee-fund"] = domain.Account{
		Slug:          "coffee-fund",
		WalletAddress: "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		DisplayName:   "Coffee Fund",
	}
	server := newTestServer(t, store, &fakeRPC{})

	recorder := doRequest(t, server, http.MethodGet, "/accounts/coffee-fund", "")
	require.Equal(t, http.StatusOK, recorder.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	assert.Equal(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", payload["wallet_address"])

	recorder = doRequest(t, server, http.MethodGet, "/accounts/unknown", "")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestReadyz(t *testing.T) {
	store := newFakeStore()
	server := newTestServer(t, store, &fakeRPC{latest: 100})

	recorder := doRequest(t, server, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, recorder.Code)

	store.pingErr = errors.New("db down")
	recorder = doRequest(t, server, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	store.pingErr = nil
	server2 := newTestServer(t, store, &fakeRPC{err: errors.New("rpc down")})
	recorder = doRequest(t, server2, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestReindex(t *testing.T) {
	store := newFakeStore()
	store.cursor = 500
	store.hasCursor = true
	server := newTestServer(t, store, &fakeRPC{})

	recorder := doRequest(t, server, http.MethodPost, "/reindex", `{"from_block": 100}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, uint64(99), store.cursor)

	recorder = doRequest(t, server, http.MethodPost, "/reindex", `{"from_block": 0}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.False(t, store.hasCursor)

	recorder = doRequest(t, server, http.MethodGet, "/reindex", "")
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, newFakeStore(), &fakeRPC{})
	server.MetricsObserver().OnLatestBlock(4200)

	recorder := doRequest(t, server, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "paylink_latest_block 4200")
}
