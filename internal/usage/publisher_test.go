package usage

import (
	"testing"

	"launchpilot/api_metering/pkg/logging"
	"launchpilot/api_metering/pkg/models"
)

func TestNewPublisherRequiresBrokers(t *testing.T) {
	if _, err := NewPublisher(PublisherConfig{Logger: logging.NewLogger()}); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestPublisherExposesClient(t *testing.T) {
	publisher, err := NewPublisher(PublisherConfig{
		Brokers: []string{"127.0.0.1:1"},
		Logger:  logging.NewLogger(),
	})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer publisher.Close()

	if publisher.Client() == nil {
		t.Fatal("expected a Kafka client for health checks")
	}
}

func TestPublisherNilSafe(t *testing.T) {
	var publisher *Publisher
	publisher.Publish(models.UsageRecord{UserID: "user-1"})
	if publisher.Client() != nil {
		t.Fatal("nil publisher should expose no client")
	}
	if err := publisher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
