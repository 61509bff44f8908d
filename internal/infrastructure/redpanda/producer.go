// Package redpanda publishes and consumes record events over the Kafka
// protocol with franz-go.
package redpanda

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProducerConfig configures the outbox relay's producer
type ProducerConfig struct {
	Brokers []string
	// Linger batches records produced within this window
	Linger time.Duration
	// Compression is one of lz4, snappy, gzip, zstd or none
	Compression string
	// LeaderAckOnly trades durability for latency; idempotent writes are
	// disabled with it
	LeaderAckOnly bool
	// RecordRetries bounds client side retries of one record
	RecordRetries int
}

// DefaultProducerConfig returns defaults for the outbox relay. The relay
// publishes one entry at a time, so linger stays short.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:       []string{"localhost:19092"},
		Linger:        5 * time.Millisecond,
		Compression:   "lz4",
		RecordRetries: 3,
	}
}

func compression(name string) (kgo.CompressionCodec, bool) {
	switch name {
	case "lz4":
		return kgo.Lz4Compression(), true
	case "snappy":
		return kgo.SnappyCompression(), true
	case "gzip":
		return kgo.GzipCompression(), true
	case "zstd":
		return kgo.ZstdCompression(), true
	}
	return kgo.NoCompression(), false
}

// producerOpts translates cfg into franz-go options
func producerOpts(cfg ProducerConfig) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(cfg.Linger),
		kgo.RecordRetries(cfg.RecordRetries),
	}
	if cfg.LeaderAckOnly {
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	} else {
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}
	if codec, ok := compression(cfg.Compression); ok {
		opts = append(opts, kgo.ProducerBatchCompression(codec))
	}
	return opts
}

// Producer publishes record events
type Producer struct {
	client *kgo.Client
	logger *zap.Logger
	tracer trace.Tracer

	sent   atomic.Int64
	bytes  atomic.Int64
	failed atomic.Int64
}

// NewProducer creates a producer; brokers are contacted on first use
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := kgo.NewClient(producerOpts(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{
		client: client,
		logger: logger,
		tracer: otel.Tracer("redpanda-producer"),
	}, nil
}

// Publish sends one record keyed by aggregate id and waits for the
// acknowledgement. The caller's trace continues in the record headers.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, span := p.tracer.Start(ctx, "publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("topic", topic),
			attribute.String("key", key),
		))
	defer span.End()

	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	injectTraceHeaders(ctx, record)

	r, err := p.client.ProduceSync(ctx, record).First()
	if err != nil {
		p.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.sent.Add(1)
	p.bytes.Add(int64(len(value)))
	span.SetAttributes(
		attribute.Int64("partition", int64(r.Partition)),
		attribute.Int64("offset", r.Offset))
	return nil
}

// Ping checks that a broker answers
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records for up to timeout, then closes the client
func (p *Producer) Close(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("producer flush failed", zap.Error(err))
	}
	p.client.Close()
}

// ProducerStats counts publish outcomes since start
type ProducerStats struct {
	Sent      int64 `json:"sent"`
	BytesSent int64 `json:"bytes_sent"`
	Failed    int64 `json:"failed"`
}

// Stats returns publish counters
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{Sent: p.sent.Load(), BytesSent: p.bytes.Load(), Failed: p.failed.Load()}
}
