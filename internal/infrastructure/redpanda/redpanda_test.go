package redpanda

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/avishifo/records/internal/domain/events"
)

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := &kgo.Record{Topic: events.TopicPatientEvents}
	injectTraceHeaders(ctx, record)
	injectTraceHeaders(ctx, record)
	if len(record.Headers) != 1 || record.Headers[0].Key != "traceparent" {
		t.Fatalf("headers = %+v", record.Headers)
	}

	got := trace.SpanContextFromContext(extractTraceContext(context.Background(), record))
	if got.TraceID() != traceID || got.SpanID() != spanID {
		t.Errorf("extracted %s/%s", got.TraceID(), got.SpanID())
	}
}

func TestPipelineTopicsCoverConsumers(t *testing.T) {
	names := map[string]bool{}
	for _, c := range PipelineTopics() {
		if c.Partitions < 1 || c.ReplicationFactor < 1 {
			t.Errorf("%s: partitions %d replication %d", c.Name, c.Partitions, c.ReplicationFactor)
		}
		names[c.Name] = true
	}
	for _, topic := range append(ConsumedTopics(), events.TopicDeadLetter) {
		if !names[topic] {
			t.Errorf("topic %s is not created", topic)
		}
	}
}

func TestNewConsumerRequiresHandler(t *testing.T) {
	if _, err := NewConsumer(DefaultConsumerConfig(), nil, nil, nil); err == nil {
		t.Fatal("expected error without handler")
	}
}

type consumedCounts map[string]int

func (c consumedCounts) ObserveConsumed(topic string, err error) {
	if err != nil {
		topic += ":error"
	}
	c[topic]++
}

func TestHandleReportsOutcome(t *testing.T) {
	var got *ConsumedMessage
	obs := consumedCounts{}
	c := &Consumer{
		obs:    obs,
		logger: zap.NewNop(),
		tracer: otel.Tracer("test"),
		handler: func(_ context.Context, msg *ConsumedMessage) error {
			got = msg
			if string(msg.Key) == "bad" {
				return errors.New("store down")
			}
			return nil
		},
	}

	ok := c.handle(context.Background(), &kgo.Record{Topic: events.TopicPatientEvents, Partition: 2, Offset: 41, Key: []byte("p1"), Value: []byte("{}")})
	if !ok || got.Offset != 41 || got.Partition != 2 || string(got.Key) != "p1" {
		t.Fatalf("ok=%v msg=%+v", ok, got)
	}
	if c.handle(context.Background(), &kgo.Record{Topic: events.TopicPatientEvents, Key: []byte("bad")}) {
		t.Error("failed handler reported success")
	}

	if s := c.Stats(); s.Handled != 1 || s.Failed != 1 {
		t.Errorf("stats = %+v", s)
	}
	if obs[events.TopicPatientEvents] != 1 || obs[events.TopicPatientEvents+":error"] != 1 {
		t.Errorf("observed = %v", obs)
	}
}

func TestCompressionNames(t *testing.T) {
	for _, name := range []string{"lz4", "snappy", "gzip", "zstd"} {
		if _, ok := compression(name); !ok {
			t.Errorf("%s not recognised", name)
		}
	}
	if _, ok := compression("none"); ok {
		t.Error("none must disable batch compression")
	}
	if got := len(producerOpts(DefaultProducerConfig())); got != 5 {
		t.Errorf("default options = %d", got)
	}
}

func TestTopicConfigs(t *testing.T) {
	cfg := Topic{Name: "x", Retention: 7 * 24 * time.Hour}.configs()
	if got := *cfg["retention.ms"]; got != "604800000" {
		t.Errorf("retention.ms = %s", got)
	}
	if _, ok := cfg["compression.type"]; ok {
		t.Error("compression set without a codec")
	}
	cfg = Topic{Name: "y", Retention: time.Hour, Compression: "lz4"}.configs()
	if got := *cfg["compression.type"]; got != "lz4" {
		t.Errorf("compression.type = %s", got)
	}
}
