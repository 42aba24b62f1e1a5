package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/imthegoodboy/Paylink/internal/application"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a dedicated registry so multiple binaries in one test
// process never trip duplicate registration.
type Metrics struct {
	registry *prometheus.Registry

	latestBlock   prometheus.Gauge
	lastProcessed prometheus.Gauge
	batchesTotal  prometheus.Counter
	logsPublished prometheus.Counter

	kafkaMessages   prometheus.Counter
	kafkaDecodeErrs prometheus.Counter
	kafkaApplyErrs  prometheus.Counter
	kafkaCommitErrs prometheus.Counter
	kafkaFetchErrs  prometheus.Counter

	paymentsInserted  prometheus.Counter
	paymentsDuplicate prometheus.Counter
	paymentsDropped   prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		latestBlock: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paylink_latest_block",
			Help: "Latest block number reported by the RPC node",
		}),
		lastProcessed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paylink_last_processed_block",
			Help: "Highest block the watcher has published and checkpointed",
		}),
		batchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "paylink_watcher_batches_total",
			Help: "Log batches published by the watcher",
		}),
		logsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "paylink_watcher_logs_published_total",
			Help: "Raw gateway logs published to the stream",
		}),
		kafkaMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "paylink_kafka_messages_total",
			Help: "Messages fetched from the payment topic",
		}),
		kafkaDecodeErrs: factory.NewCounter(prometheus.CounterOpts{
			Name: "paylink_kafka_decode_errors_total",
			Help: "Envelope payloads that failed to decode",
		}),
		kafkaApplyErrs: factory.NewCounter(prometheus.CounterOpts{
			Name: "paylink_kafka_apply_errors_total",
			Help: "Store failures while applying a batch",
		}),
		kafkaCommitErrs: factory.NewCounter(prometheus.CounterOpts{
			Name: "paylink_kafka_commit_errors_total",
			Help: "Offset commit failures",
		}),
		kafkaFetchErrs: factory.NewCounter(prometheus.CounterOpts{
			Name: "paylink_kafka_fetch_errors_total",
			Help: "Fetch failures against the brokers",
		}),
		paymentsInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "paylink_payments_inserted_total",
			Help: "Payment rows newly written to the ledger",
		}),
		paymentsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "paylink_payments_duplicate_total",
			Help: "Redelivered payments absorbed by tx hash dedup",
		}),
		paymentsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "paylink_payments_dropped_total",
			Help: "Malformed events acknowledged without insert",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "paylink_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paylink_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ListenAndServe exposes the registry on its own address, for binaries
// that do not run the full read API.
func (m *Metrics) ListenAndServe(ctx context.Context, addr string) error {
	router := mux.NewRouter()
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
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

var _ application.WatcherObserver = (*Metrics)(nil)

func (m *Metrics) OnLatestBlock(block uint64) {
	m.latestBlock.Set(float64(block))
}

func (m *Metrics) OnBatchPublished(fromBlock, toBlock uint64, logCount int) {
	m.lastProcessed.Set(float64(toBlock))
	m.batchesTotal.Inc()
	m.logsPublished.Add(float64(logCount))
}

func (m *Metrics) SetLastProcessed(block uint64) {
	m.lastProcessed.Set(float64(block))
}

func (m *Metrics) IncKafkaMessage()   { m.kafkaMessages.Inc() }
func (m *Metrics) IncKafkaDecodeErr() { m.kafkaDecodeErrs.Inc() }
func (m *Metrics) IncKafkaApplyErr()  { m.kafkaApplyErrs.Inc() }
func (m *Metrics) IncKafkaCommitErr() { m.kafkaCommitErrs.Inc() }
func (m *Metrics) IncKafkaFetchErr()  { m.kafkaFetchErrs.Inc() }

func (m *Metrics) ObserveFlush(stats application.FlushStats) {
	m.paymentsInserted.Add(float64(stats.Inserted))
	m.paymentsDuplicate.Add(float64(stats.Duplicates))
	m.paymentsDropped.Add(float64(stats.Dropped))
}
