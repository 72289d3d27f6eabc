// Package events announces committed items on a Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/ports"
)

// EventItemCommitted is the type header of every message this package produces.
const EventItemCommitted = "item.committed"

// ItemCommitted is the JSON payload of an item.committed message.
type ItemCommitted struct {
	Type         string    `json:"type"`
	ItemID       int64     `json:"item_id"`
	CanonicalURL string    `json:"canonical_url"`
	Title        string    `json:"title"`
	SourceID     int64     `json:"source_id"`
	Domain       string    `json:"domain"`
	DuplicateOf  *int64    `json:"duplicate_of,omitempty"`
	NoveltyScore float64   `json:"novelty_score"`
	QualityScore float64   `json:"quality_score"`
	RecencyScore float64   `json:"recency_score"`
	FinalScore   float64   `json:"final_score"`
	CommittedAt  time.Time `json:"committed_at"`
}

// KafkaPublisher sends one message per committed item, keyed by canonical URL
// so every version of an item lands on the same partition. Publish only
// enqueues; delivery failures are logged by a background drain.
type KafkaPublisher struct {
	producer sarama.AsyncProducer
	topic    string
	now      func() time.Time
	logger   *slog.Logger
	failed   atomic.Int64
	drained  chan struct{}
}

var _ ports.ItemPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher connects an asynchronous producer to brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer and starts draining
// its error channel.
func NewKafkaPublisherWithProducer(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *KafkaPublisher {
	if topic == "" {
		topic = "idearadar.items"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &KafkaPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
		logger:   logger.With("component", "kafka_publisher", "topic", topic),
		drained:  make(chan struct{}),
	}
	go p.drain()
	return p
}

func (p *KafkaPublisher) drain() {
	defer close(p.drained)
	for perr := range p.producer.Errors() {
		p.failed.Add(1)
		var key string
		if perr.Msg != nil && perr.Msg.Key != nil {
			if raw, err := perr.Msg.Key.Encode(); err == nil {
				key = string(raw)
			}
		}
		p.logger.Warn("item event not delivered", "url", key, "error", perr.Err)
	}
}

// Publish enqueues the item.committed event for item. It blocks only while the
// producer's input buffer is full, and gives up when ctx ends.
func (p *KafkaPublisher) Publish(ctx context.Context, item domain.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(ItemCommitted{
		Type:         EventItemCommitted,
		ItemID:       item.ID,
		CanonicalURL: item.CanonicalURL,
		Title:        item.Title,
		SourceID:     item.SourceID,
		Domain:       item.Domain,
		DuplicateOf:  item.DuplicateOf,
		NoveltyScore: item.NoveltyScore,
		QualityScore: item.QualityScore,
		RecencyScore: item.RecencyScore,
		FinalScore:   item.FinalScore,
		CommittedAt:  p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode item event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(item.CanonicalURL),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(EventItemCommitted)},
		},
	}
	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue item event: %w", ctx.Err())
	}
}

// Failed reports how many enqueued events the producer could not deliver.
func (p *KafkaPublisher) Failed() int64 {
	return p.failed.Load()
}

// Close flushes buffered events and waits for the error drain to finish.
func (p *KafkaPublisher) Close() error {
	p.producer.AsyncClose()
	<-p.drained
	if n := p.failed.Load(); n > 0 {
		return fmt.Errorf("%d item events not delivered", n)
	}
	return nil
}
