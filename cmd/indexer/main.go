package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/imthegoodboy/Paylink/internal/application"
	"github.com/imthegoodboy/Paylink/internal/config"
	"github.com/imthegoodboy/Paylink/internal/infrastructure/ethrpc"
	"github.com/imthegoodboy/Paylink/internal/infrastructure/logging"
	"github.com/imthegoodboy/Paylink/internal/infrastructure/storage"
	"github.com/imthegoodboy/Paylink/internal/infrastructure/telemetry"
	"github.com/imthegoodboy/Paylink/internal/interfaces/httpapi"
	"github.com/imthegoodboy/Paylink/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/indexer.log"
	}
	if _, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       logFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}); err != nil {
		slog.Error("logger init error", "err", err)
	}

	store, err := storage.Open(cfg)
	if err != nil {
		slog.Error("store error", "err", err)
		os.Exit(1)
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "paylink-indexer", cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("tracing shutdown error", "err", err)
			}
		}()
	}

	rpcClient, err := ethrpc.NewClient(ethrpc.Config{
		URL:     cfg.RPCURL,
		Address: cfg.GatewayAddress,
		Topic0:  cfg.Topic0,
	})
	if err != nil {
		slog.Error("rpc error", "err", err)
		os.Exit(1)
	}

	metrics := httpapi.NewMetrics()
	if last, ok, err := store.LastProcessedBlock(context.Background()); err == nil && ok {
		metrics.SetLastProcessed(last)
	}

	httpServer, err := httpapi.NewServer(cfg, store, rpcClient, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("http server error", "err", err)
			cancel()
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	slog.Info("indexer streaming started", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroupID)
	consumeStream(ctx, reader, store, metrics, cfg)
}

// messageStream is the slice of kafka.Reader the consumer loop uses.
type messageStream interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func consumeStream(ctx context.Context, stream messageStream, store application.LedgerStore, metrics *httpapi.Metrics, cfg config.Config) {
	tracer := otel.Tracer("paylink/indexer")
	batch := application.NewBatch()

	// Bound how long a low-traffic topic can hold inserts back.
	flushInterval := 500 * time.Millisecond
	if cfg.PollInterval > 0 {
		flushInterval = cfg.PollInterval
	}

	// While flushes are failing the batch retains its messages; stop
	// fetching once it holds two batches so a store outage cannot grow
	// memory without bound.
	maxPending := 2 * int(cfg.BatchSize)
	if maxPending < 2 {
		maxPending = 2
	}

	flush := func(flushCtx context.Context) {
		if batch.Len() == 0 {
			return
		}
		stats, err := batch.Flush(flushCtx, store, stream)
		if err != nil {
			if errors.Is(err, application.ErrOffsetCommit) {
				metrics.IncKafkaCommitErr()
			} else {
				metrics.IncKafkaApplyErr()
			}
			slog.Error("batch flush error", "err", err)
			return
		}
		metrics.ObserveFlush(stats)
	}

	for {
		if batch.Len() >= maxPending {
			flush(ctx)
			if batch.Len() >= maxPending {
				select {
				case <-ctx.Done():
					return
				case <-time.After(flushInterval):
				}
				continue
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, flushInterval)
		message, err := stream.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				flush(ctx)
				continue
			}
			if errors.Is(err, context.Canceled) {
				flush(context.Background())
				return
			}
			metrics.IncKafkaFetchErr()
			slog.Error("kafka fetch error", "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		metrics.IncKafkaMessage()

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			slog.Warn("message decode error", "err", err)
			metrics.IncKafkaDecodeErr()
			batch.AddSkip(message)
			continue
		}
		if decoded.ChainID != cfg.ChainID {
			slog.Warn("unexpected chain id on topic", "chain_id", decoded.ChainID)
		}

		messageCtx := telemetry.ExtractKafkaHeaders(ctx, message.Headers)
		if !trace.SpanContextFromContext(messageCtx).IsValid() && decoded.TraceID != "" {
			if ctxWithTrace, ok := telemetry.ContextWithTraceID(messageCtx, decoded.TraceID); ok {
				messageCtx = ctxWithTrace
			}
		}
		_, span := tracer.Start(messageCtx, "indexer.receive_payment_log", trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(
			attribute.String("message.type", string(decoded.Type)),
			attribute.Int64("chain.id", int64(decoded.ChainID)),
			attribute.Int64("block.number", int64(decoded.BlockNumber)),
			attribute.String("tx.hash", decoded.TxHash),
		)
		span.End()

		batch.Add(decoded, message)
		if decoded.BlockNumber > 0 {
			metrics.SetLastProcessed(decoded.BlockNumber)
		}

		if batch.Len() >= int(cfg.BatchSize) {
			flush(ctx)
		}
	}
}
