package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestDecodeDLQMessage_ConsumerRecord(t *testing.T) {
	t.Parallel()

	value, _ := json.Marshal(map[string]any{
		"original_topic":  TopicPaymentEvents,
		"original_key":    "order-1",
		"original_value":  `{"event_type":"payment.completed"}`,
		"error_message":   "handler failed",
		"original_offset": 42,
	})

	msg, err := DecodeDLQMessage(value, TopicOrderEvents, time.Now())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Topic != TopicPaymentEvents || msg.Key != "order-1" {
		t.Fatalf("unexpected target: %+v", msg)
	}
	if string(msg.Value) != `{"event_type":"payment.completed"}` {
		t.Fatalf("original value must be replayed as is, got %s", msg.Value)
	}
}

func TestDecodeDLQMessage_ConsumerRecordNeverLoopsBackToDLQ(t *testing.T) {
	t.Parallel()

	value, _ := json.Marshal(map[string]any{
		"original_topic": TopicDeadLetterQueue,
		"original_value": `{}`,
	})

	msg, err := DecodeDLQMessage(value, TopicOrderEvents, time.Now())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Topic != TopicOrderEvents {
		t.Fatalf("expected fallback topic, got %s", msg.Topic)
	}
}

// outboxDLQValue повторяет путь outbox worker -> DLQ publisher через mock producer.
func outboxDLQValue(t *testing.T, aggregateType string) []byte {
	t.Helper()

	var captured []byte
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicDeadLetterQueue {
			return errors.New("dlq publisher must write to the dlq topic")
		}
		b, err := msg.Value.Encode()
		captured = b
		return err
	})

	dlq := NewDLQPublisher(&Producer{producer: mockProducer, logger: log.WithField("test", "dlq")})
	payload, _ := json.Marshal(map[string]any{
		"outbox_id":      "outbox-9",
		"aggregate_type": aggregateType,
		"aggregate_id":   "pay-1",
		"event_type":     string(EventTypePaymentFailed),
		"payload":        json.RawMessage(`{"txn_ref":"order-1-1"}`),
		"publish_error":  "broker down",
	})
	if err := dlq.Publish(domain.OutboxMessage{
		ID:            "outbox-9",
		AggregateType: aggregateType,
		AggregateID:   "pay-1",
		EventType:     string(EventTypePaymentFailed),
		Payload:       payload,
	}); err != nil {
		t.Fatalf("dlq publish failed: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
	return captured
}

func TestDecodeDLQMessage_OutboxRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msg, err := DecodeDLQMessage(outboxDLQValue(t, domain.AggregatePayment), TopicOrderEvents, now)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if msg.Topic != TopicPaymentEvents {
		t.Fatalf("payment events should replay to %s, got %s", TopicPaymentEvents, msg.Topic)
	}
	if msg.Key != "pay-1" {
		t.Fatalf("expected aggregate id as key, got %s", msg.Key)
	}

	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("replayed value must be an envelope: %v", err)
	}
	if env.ID != "outbox-9" || env.EventType != string(EventTypePaymentFailed) {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if string(env.Payload) != `{"txn_ref":"order-1-1"}` {
		t.Fatalf("original payload must be restored, got %s", env.Payload)
	}
	if !env.PublishedAt.Equal(now) {
		t.Fatalf("expected PublishedAt %s, got %s", now, env.PublishedAt)
	}
}

func TestDecodeDLQMessage_UnknownAggregateUsesFallback(t *testing.T) {
	t.Parallel()

	msg, err := DecodeDLQMessage(outboxDLQValue(t, "invoice"), TopicOrderEvents, time.Now())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Topic != TopicOrderEvents {
		t.Fatalf("expected fallback topic, got %s", msg.Topic)
	}
}

func TestDecodeDLQMessage_NotReplayable(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"garbage":          `not-json`,
		"empty object":     `{}`,
		"envelope only":    `{"id":"x","event_type":"order.created"}`,
		"outbox no source": `{"id":"x","payload":{"outbox_id":"x"}}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeDLQMessage([]byte(raw), TopicOrderEvents, time.Now())
			if !errors.Is(err, ErrNotReplayable) {
				t.Fatalf("expected ErrNotReplayable, got %v", err)
			}
		})
	}
}

func TestTopicForAggregate(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		domain.AggregateOrder:   TopicOrderEvents,
		domain.AggregatePayment: TopicPaymentEvents,
		domain.AggregateVariant: TopicInventoryEvents,
		"unknown":               "fallback",
	}
	for aggregate, want := range cases {
		if got := TopicForAggregate(aggregate, "fallback"); got != want {
			t.Errorf("TopicForAggregate(%q) = %s, want %s", aggregate, got, want)
		}
	}
}
