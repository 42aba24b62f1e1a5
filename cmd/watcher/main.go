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
	"github.com/imthegoodboy/Paylink/internal/infrastructure/kafka"
	"github.com/imthegoodboy/Paylink/internal/infrastructure/logging"
	"github.com/imthegoodboy/Paylink/internal/infrastructure/storage"
	"github.com/imthegoodboy/Paylink/internal/infrastructure/telemetry"
	"github.com/imthegoodboy/Paylink/internal/interfaces/httpapi"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/watcher.log"
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

	topic0 := cfg.Topic0
	if topic0 == "" {
		topic0 = ethrpc.EventTopic(application.PaymentEventSignature)
	}
	rpcClient, err := ethrpc.NewClient(ethrpc.Config{
		URL:     cfg.RPCURL,
		Address: cfg.GatewayAddress,
		Topic0:  topic0,
	})
	if err != nil {
		slog.Error("rpc error", "err", err)
		os.Exit(1)
	}

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		ChainID: cfg.ChainID,
	})
	if err != nil {
		slog.Error("kafka error", "err", err)
		os.Exit(1)
	}
	defer producer.Close()

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "paylink-watcher", cfg.OtelEndpoint)
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

	metrics := httpapi.NewMetrics()

	watcher, err := application.NewWatcher(rpcClient, producer, store, watcherObserver{metrics: metrics}, application.WatcherConfig{
		StartBlock:    cfg.StartBlock,
		Confirmations: cfg.Confirmations,
		PollInterval:  cfg.PollInterval,
		BatchSize:     cfg.BatchSize,
	})
	if err != nil {
		slog.Error("watcher error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := metrics.ListenAndServe(ctx, cfg.MetricsAddr); err != nil {
			slog.Error("metrics server error", "err", err)
		}
	}()

	slog.Info("watcher streaming started",
		"rpc", cfg.RPCURL,
		"gateway", cfg.GatewayAddress,
		"start", cfg.StartBlock,
		"confirmations", cfg.Confirmations,
		"batch", cfg.BatchSize,
	)
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("watcher stopped", "err", err)
	}
}

// watcherObserver feeds watcher progress into the scrape registry and
// mirrors each published batch to the log.
type watcherObserver struct {
	metrics *httpapi.Metrics
}

func (o watcherObserver) OnLatestBlock(block uint64) {
	o.metrics.OnLatestBlock(block)
}

func (o watcherObserver) OnBatchPublished(fromBlock, toBlock uint64, logCount int) {
	o.metrics.OnBatchPublished(fromBlock, toBlock, logCount)
	slog.Info("watcher batch",
		"from", fromBlock,
		"to", toBlock,
		"logs", logCount,
	)
}
