package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/events"
)

// Topic describes one pipeline topic
type Topic struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Retention         time.Duration
	// Compression is the broker side codec; empty keeps the producer's
	Compression string
}

// configs renders the topic settings the broker understands
func (t Topic) configs() map[string]*string {
	str := func(s string) *string { return &s }
	cfg := map[string]*string{
		"cleanup.policy": str("delete"),
		"retention.ms":   str(strconv.FormatInt(t.Retention.Milliseconds(), 10)),
	}
	if t.Compression != "" {
		cfg["compression.type"] = str(t.Compression)
	}
	return cfg
}

// PipelineTopics are the topics of the record event pipeline. Patient events
// are keyed by patient id, so partitions bound per-patient parallelism.
func PipelineTopics() []Topic {
	const day = 24 * time.Hour
	return []Topic{
		{Name: events.TopicPatientEvents, Partitions: 6, ReplicationFactor: 1, Retention: 30 * day, Compression: "lz4"},
		{Name: events.TopicCRMEvents, Partitions: 3, ReplicationFactor: 1, Retention: 7 * day, Compression: "lz4"},
		{Name: events.TopicDeadLetter, Partitions: 1, ReplicationFactor: 1, Retention: 7 * day},
	}
}

// ConsumedTopics are the topics the activity consumer reads
func ConsumedTopics() []string {
	return []string{events.TopicPatientEvents, events.TopicCRMEvents}
}

// Admin runs topic and consumer group administration through kadm
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin connects to brokers
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(cl), logger: logger}, nil
}

// Close releases the connection
func (a *Admin) Close() {
	a.client.Close()
}

// Ensure creates the topics that are missing and returns the names it created
func (a *Admin) Ensure(ctx context.Context, topics []Topic) ([]string, error) {
	var created []string
	for _, t := range topics {
		resp, err := a.client.CreateTopic(ctx, t.Partitions, t.ReplicationFactor, t.configs(), t.Name)
		switch {
		case errors.Is(err, kerr.TopicAlreadyExists):
			a.logger.Debug("topic exists", zap.String("topic", t.Name))
		case err != nil:
			return created, fmt.Errorf("create topic %s: %w", t.Name, err)
		default:
			a.logger.Info("topic created",
				zap.String("topic", resp.Topic),
				zap.Int32("partitions", t.Partitions))
			created = append(created, resp.Topic)
		}
	}
	return created, nil
}

// Delete removes topics and reports every topic that could not be deleted
func (a *Admin) Delete(ctx context.Context, topics ...string) error {
	resp, err := a.client.DeleteTopics(ctx, topics...)
	if err != nil {
		return fmt.Errorf("delete topics: %w", err)
	}
	var errs []error
	for _, r := range resp.Sorted() {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Topic, r.Err))
		}
	}
	return errors.Join(errs...)
}

// List returns topic names in order, internal topics excluded
func (a *Admin) List(ctx context.Context) ([]string, error) {
	details, err := a.client.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return details.Names(), nil
}

// PartitionInfo is the placement of one partition
type PartitionInfo struct {
	ID       int32
	Leader   int32
	Replicas []int32
	ISR      []int32
}

// Describe returns the partitions of topic ordered by id
func (a *Admin) Describe(ctx context.Context, topic string) ([]PartitionInfo, error) {
	details, err := a.client.ListTopics(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("describe topic: %w", err)
	}
	t, ok := details[topic]
	if !ok || errors.Is(t.Err, kerr.UnknownTopicOrPartition) {
		return nil, fmt.Errorf("topic %s not found", topic)
	}
	if t.Err != nil {
		return nil, fmt.Errorf("describe topic %s: %w", topic, t.Err)
	}

	out := make([]PartitionInfo, 0, len(t.Partitions))
	for _, p := range t.Partitions.Sorted() {
		out = append(out, PartitionInfo{ID: p.Partition, Leader: p.Leader, Replicas: p.Replicas, ISR: p.ISR})
	}
	return out, nil
}

// TopicLag is the summed lag of a group on one topic
type TopicLag struct {
	Topic string
	Lag   int64
}

// Lag sums the group's lag per topic, ordered by topic name
func (a *Admin) Lag(ctx context.Context, group string) ([]TopicLag, error) {
	described, err := a.client.Lag(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("consumer group lag: %w", err)
	}

	totals := map[string]int64{}
	var groupErr error
	described.Each(func(l kadm.DescribedGroupLag) {
		if l.Error() != nil {
			groupErr = l.Error()
			return
		}
		for topic, partitions := range l.Lag {
			for _, p := range partitions {
				totals[topic] += p.Lag
			}
		}
	})
	if groupErr != nil {
		return nil, fmt.Errorf("consumer group %s: %w", group, groupErr)
	}

	out := make([]TopicLag, 0, len(totals))
	for topic, lag := range totals {
		out = append(out, TopicLag{Topic: topic, Lag: lag})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}
