package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConsumerConfig configures the activity consumer group
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// SessionTimeout is how long the group waits before rebalancing a
	// silent member
	SessionTimeout time.Duration
	// MaxPollRecords caps one poll across all partitions
	MaxPollRecords int
	// FromLatest starts a new group at the end of each topic instead of the
	// beginning
	FromLatest bool
}

// DefaultConsumerConfig returns defaults for the activity consumer
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:        []string{"localhost:19092"},
		GroupID:        "records-activity",
		Topics:         ConsumedTopics(),
		SessionTimeout: 30 * time.Second,
		MaxPollRecords: 500,
	}
}

// ConsumerObserver receives per-message outcomes
type ConsumerObserver interface {
	ObserveConsumed(topic string, err error)
}

// MessageHandler is called for each consumed message. A nil return marks the
// record for commit.
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// ConsumedMessage is one record handed to a MessageHandler
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Consumer reads the record event topics as part of a consumer group.
// Partitions are handled concurrently, records within a partition in order.
type Consumer struct {
	client  *kgo.Client
	cfg     ConsumerConfig
	handler MessageHandler
	obs     ConsumerObserver
	logger  *zap.Logger
	tracer  trace.Tracer

	cancel context.CancelFunc
	done   chan struct{}

	handled atomic.Int64
	failed  atomic.Int64
}

// NewConsumer joins the group lazily on Start; obs may be nil
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, obs ConsumerObserver, logger *zap.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("message handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPollRecords <= 0 {
		cfg.MaxPollRecords = DefaultConsumerConfig().MaxPollRecords
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultConsumerConfig().SessionTimeout
	}

	reset := kgo.NewOffset().AtStart()
	if cfg.FromLatest {
		reset = kgo.NewOffset().AtEnd()
	}

	c := &Consumer{
		cfg:     cfg,
		handler: handler,
		obs:     obs,
		logger:  logger,
		tracer:  otel.Tracer("redpanda-consumer"),
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(reset),
		kgo.SessionTimeout(cfg.SessionTimeout),
		// only records the handler accepted are committed
		kgo.AutoCommitMarks(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				logger.Warn("commit on revoke failed", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	c.client = client
	return c, nil
}

// Start polls in the background until Stop
func (c *Consumer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop finishes the current poll, commits what was handled and leaves the group
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.client.CommitMarkedOffsets(ctx)
	c.client.Close()
	if err != nil {
		return fmt.Errorf("commit offsets on stop: %w", err)
	}
	return nil
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)
	for {
		fetches := c.client.PollRecords(ctx, c.cfg.MaxPollRecords)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
		})

		var wg sync.WaitGroup
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if len(p.Records) == 0 {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				for _, rec := range p.Records {
					if c.handle(ctx, rec) {
						c.client.MarkCommitRecords(rec)
					}
				}
			}()
		})
		wg.Wait()
	}
}

// handle runs the handler for one record and reports whether it succeeded.
// A failed record is not marked; a later success on the partition commits
// past it.
func (c *Consumer) handle(ctx context.Context, rec *kgo.Record) bool {
	ctx, span := c.tracer.Start(extractTraceContext(ctx, rec), "consume "+rec.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("topic", rec.Topic),
			attribute.Int64("partition", int64(rec.Partition)),
			attribute.Int64("offset", rec.Offset),
		))
	defer span.End()

	err := c.handler(ctx, &ConsumedMessage{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Value:     rec.Value,
		Timestamp: rec.Timestamp,
	})
	if c.obs != nil {
		c.obs.ObserveConsumed(rec.Topic, err)
	}
	if err != nil {
		c.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("message handler failed",
			zap.String("topic", rec.Topic),
			zap.Int32("partition", rec.Partition),
			zap.Int64("offset", rec.Offset),
			zap.Error(err))
		return false
	}
	c.handled.Add(1)
	return true
}

// ConsumerStats counts handler outcomes since start
type ConsumerStats struct {
	Handled int64 `json:"handled"`
	Failed  int64 `json:"failed"`
}

// Stats returns handler outcome counters
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{Handled: c.handled.Load(), Failed: c.failed.Load()}
}
