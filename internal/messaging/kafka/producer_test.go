package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestNewProducer_RequiresBrokers(t *testing.T) {
	if _, err := NewProducer(nil, "storefront"); err == nil {
		t.Fatal("expected error for empty broker list")
	}
}

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndSucceed()

	payload := OrderStatusChangedPayload{
		OrderID:    "order-123",
		From:       string(domain.OrderStatusPending),
		To:         string(domain.OrderStatusProcessing),
		OccurredAt: time.Now().UTC(),
	}

	if err := producer.PublishEvent(TopicOrderEvents, "order-123", payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	if err := producer.PublishEvent(TopicOrderEvents, "order-123", map[string]string{"a": "b"}); err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	producer := &Producer{logger: log.WithField("component", "kafka-producer-test")}

	if err := producer.PublishEvent(TopicOrderEvents, "k", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestNewOutboxMessage(t *testing.T) {
	paidAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	payment := domain.Payment{
		ID:                   "pay-1",
		OrderID:              "order-1",
		TxnRef:               "order-1-2",
		Attempt:              2,
		Amount:               250000,
		Status:               domain.PaymentStatusCompleted,
		ResponseCode:         "00",
		GatewayTransactionNo: "14000001",
	}

	msg, err := NewOutboxMessage(domain.AggregatePayment, payment.OrderID, EventTypePaymentCompleted,
		NewPaymentEventPayload(payment, "", paidAt))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.AggregateType != domain.AggregatePayment || msg.AggregateID != "order-1" {
		t.Errorf("unexpected aggregate %s/%s", msg.AggregateType, msg.AggregateID)
	}
	if msg.EventType != string(EventTypePaymentCompleted) {
		t.Errorf("unexpected event type %s", msg.EventType)
	}

	var decoded PaymentEventPayload
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("payload is not valid json: %v", err)
	}
	if decoded.TxnRef != "order-1-2" || decoded.Attempt != 2 || decoded.Amount != 250000 {
		t.Errorf("unexpected payload %+v", decoded)
	}
	if decoded.Status != string(domain.PaymentStatusCompleted) {
		t.Errorf("unexpected status %s", decoded.Status)
	}
	if !decoded.OccurredAt.Equal(paidAt) {
		t.Errorf("unexpected occurred_at %s", decoded.OccurredAt)
	}
}

func TestNewOutboxMessage_MarshalError(t *testing.T) {
	if _, err := NewOutboxMessage(domain.AggregateOrder, "o", EventTypeOrderCreated, make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}
