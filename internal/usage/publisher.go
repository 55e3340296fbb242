package usage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"launchpilot/api_metering/pkg/kafka"
	"launchpilot/api_metering/pkg/logging"
	"launchpilot/api_metering/pkg/models"
)

// DefaultEventsTopic is where usage events land for downstream analytics.
const DefaultEventsTopic = "launchpilot.usage_events"

type PublisherConfig struct {
	Brokers []string
	Topic   string
	Source  string
	Logger  logging.Logger
}

// Publisher emits usage events to Kafka. A failed produce queues the event
// for retry on the next publish; events are analytics, so the request path
// never blocks or fails on broker trouble.
type Publisher struct {
	producer *kafka.Producer
	topic    string
	source   string
	logger   logging.Logger

	pendingMu sync.Mutex
	pending   []models.UsageRecord
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required for usage publisher")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultEventsTopic
	}
	source := cfg.Source
	if source == "" {
		source = "bursar"
	}
	producer, err := kafka.NewProducer(cfg.Brokers, source, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		source:   source,
		logger:   cfg.Logger,
	}, nil
}

// Client exposes the underlying Kafka client so the service health endpoint
// can ping the brokers.
func (p *Publisher) Client() *kgo.Client {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.GetClient()
}

func (p *Publisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// Publish emits one usage event, retrying anything queued from earlier
// failures first. Errors are logged and queued, never returned.
func (p *Publisher) Publish(record models.UsageRecord) {
	if p == nil || p.producer == nil {
		return
	}

	p.retryPending()

	if err := p.produce(record); err != nil {
		p.enqueue(record)
		p.logger.WithError(err).WithFields(logging.Fields{
			"user_id": record.UserID,
			"kind":    record.Kind,
		}).Warn("Failed to publish usage event, queued for retry")
	}
}

func (p *Publisher) produce(record models.UsageRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}
	return p.producer.ProduceMessage(
		p.topic,
		[]byte(record.UserID),
		payload,
		map[string]string{
			"source":  p.source,
			"type":    "usage_event",
			"user_id": record.UserID,
		},
	)
}

func (p *Publisher) enqueue(record models.UsageRecord) {
	p.pendingMu.Lock()
	p.pending = append(p.pending, record)
	p.pendingMu.Unlock()
}

func (p *Publisher) retryPending() {
	p.pendingMu.Lock()
	pending := p.pending
	p.pending = nil
	p.pendingMu.Unlock()
	if len(pending) == 0 {
		return
	}

	var remaining []models.UsageRecord
	for _, record := range pending {
		if err := p.produce(record); err != nil {
			remaining = append(remaining, record)
		}
	}
	if len(remaining) > 0 {
		p.pendingMu.Lock()
		p.pending = append(remaining, p.pending...)
		p.pendingMu.Unlock()
	}
}

// PendingCount reports how many events await retry.
func (p *Publisher) PendingCount() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending)
}
