package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/imthegoodboy/Paylink/internal/domain"
	"github.com/imthegoodboy/Paylink/internal/infrastructure/telemetry"
	"github.com/imthegoodboy/Paylink/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Producer ships decoded gateway logs onto the payment topic. Messages
// are keyed by tx hash so every event for a transaction lands on the
// same partition.
type Producer struct {
	writer  *kafka.Writer
	topic   string
	chainID uint64
}

type ProducerConfig struct {
	Brokers []string
	Topic   string
	ChainID uint64
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = "paylink-payments"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 500 * time.Millisecond,
	}
	return &Producer{writer: writer, topic: cfg.Topic, chainID: cfg.ChainID}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) PublishLogs(ctx context.Context, logs []domain.EventLog) error {
	if len(logs) == 0 {
		return nil
	}
	tracer := otel.Tracer("paylink/kafka")
	messages := make([]kafka.Message, 0, len(logs))
	spans := make([]trace.Span, 0, len(logs))
	for _, log := range logs {
		traceID, traceIDHex, ok := telemetry.NewTraceID()
		if !ok {
			traceIDHex = ""
		}
		traceCtx := ctx
		if ok {
			if spanCtx, ok := telemetry.NewSpanContext(traceID); ok {
				traceCtx = trace.ContextWithSpanContext(ctx, spanCtx)
			}
		}
		traceCtx, span := tracer.Start(traceCtx, "watcher.publish_payment_log", trace.WithSpanKind(trace.SpanKindProducer))
		span.SetAttributes(
			attribute.Int64("chain.id", int64(p.chainID)),
			attribute.Int64("block.number", int64(log.BlockNumber)),
			attribute.Int64("log.index", int64(log.LogIndex)),
			attribute.String("tx.hash", log.TxHash),
			attribute.String("address", log.Address),
		)

		payload, err := streaming.Encode(streaming.Message{
			Type:        streaming.MessageTypePaymentLog,
			ChainID:     p.chainID,
			TraceID:     traceIDHex,
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash,
			LogIndex:    log.LogIndex,
			Address:     log.Address,
			Data:        log.Data,
			Topics:      log.Topics,
			Removed:     log.Removed,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return err
		}
		headers := make([]kafka.Header, 0, 2)
		telemetry.InjectKafkaHeaders(traceCtx, &headers)
		messages = append(messages, kafka.Message{
			Key:     []byte(log.TxHash),
			Value:   payload,
			Headers: headers,
		})
		spans = append(spans, span)
	}
	err := p.writer.WriteMessages(ctx, messages...)
	if err != nil {
		for _, span := range spans {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	for _, span := range spans {
		span.End()
	}
	return err
}
