// Package redpanda publishes analysis lifecycle events and dead letters to
// Redpanda/Kafka.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// recordProducer is the producing surface of *kgo.Client.
type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// DeadLetter is the record written when a lineage fails terminally.
type DeadLetter struct {
	Task     domain.AnalyzeTask `json:"task"`
	Error    string             `json:"error"`
	Code     string             `json:"code"`
	FailedAt time.Time          `json:"failed_at"`
}

// Publisher implements domain.Notifier over Kafka and records dead letters.
type Publisher struct {
	client      recordProducer
	eventsTopic string
	dlqTopic    string
	now         func() time.Time
}

// NewPublisher connects to brokers, ensures both topics exist and returns a publisher.
func NewPublisher(ctx context.Context, brokers []string, eventsTopic, dlqTopic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	slog.Info("creating redpanda publisher", slog.Any("brokers", brokers), slog.String("events_topic", eventsTopic))

	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	k := kotel.NewKotel(kotel.WithTracer(tracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.WithHooks(k.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}
	if err := ensureTopics(ctx, client, 1, 1, eventsTopic, dlqTopic); err != nil {
		slog.Warn("failed to ensure topics, they may already exist", slog.Any("error", err))
	}
	return newPublisher(client, eventsTopic, dlqTopic), nil
}

func newPublisher(client recordProducer, eventsTopic, dlqTopic string) *Publisher {
	return &Publisher{client: client, eventsTopic: eventsTopic, dlqTopic: dlqTopic, now: time.Now}
}

// Notify publishes a terminal analysis event keyed by analysis id.
func (p *Publisher) Notify(ctx context.Context, ev domain.AnalysisEvent) error {
	if p == nil || p.eventsTopic == "" {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=events.notify: marshal: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.eventsTopic,
		Key:   []byte(strconv.FormatInt(ev.AnalysisID, 10)),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "analysis_id", Value: []byte(strconv.FormatInt(ev.AnalysisID, 10))},
			{Key: "user_id", Value: []byte(strconv.FormatInt(ev.UserID, 10))},
			{Key: "status", Value: []byte(ev.Status)},
			{Key: "tags", Value: []byte(strings.Join(ev.Tags, ","))},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=events.notify: produce: %w", err)
	}
	return nil
}

// PublishDeadLetter records a terminally failed lineage for operators.
func (p *Publisher) PublishDeadLetter(ctx context.Context, t domain.AnalyzeTask, cause error) error {
	if p == nil || p.dlqTopic == "" {
		return nil
	}
	dl := DeadLetter{Task: t, Code: classifyFailureCode(cause), FailedAt: p.now()}
	if cause != nil {
		dl.Error = domain.FailureMessage(cause)
	}
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("op=events.dead_letter: marshal: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.dlqTopic,
		Key:   []byte(strconv.FormatInt(t.AnalysisID, 10)),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "analysis_id", Value: []byte(strconv.FormatInt(t.AnalysisID, 10))},
			{Key: "lineage_id", Value: []byte(t.LineageID)},
			{Key: "error_code", Value: []byte(dl.Code)},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=events.dead_letter: produce: %w", err)
	}
	slog.Info("analysis moved to dead letter topic",
		slog.Int64("analysis_id", t.AnalysisID),
		slog.String("lineage_id", t.LineageID),
		slog.String("error_code", dl.Code))
	return nil
}

// Ping checks that at least one broker is reachable.
func (p *Publisher) Ping(ctx context.Context) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("redpanda publisher not configured")
	}
	return p.client.Ping(ctx)
}

// Close flushes and closes the client.
func (p *Publisher) Close() error {
	if p != nil && p.client != nil {
		p.client.Close()
	}
	return nil
}
