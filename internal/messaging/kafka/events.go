package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// EventType определяет тип доменного события.
type EventType string

const (
	EventTypeOrderCreated                  EventType = "order.created"
	EventTypeOrderStatusChanged            EventType = "order.status_changed"
	EventTypePaymentOpened                 EventType = "payment.opened"
	EventTypePaymentCompleted              EventType = "payment.completed"
	EventTypePaymentFailed                 EventType = "payment.failed"
	EventTypePaymentReconciliationRequired EventType = "payment.reconciliation_required"
	EventTypePaymentReconciled             EventType = "payment.reconciled"
	EventTypeStockAdjusted                 EventType = "stock.adjusted"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicPaymentEvents   = "storefront.payment.events"
	TopicInventoryEvents = "storefront.inventory.events"
	TopicDeadLetterQueue = "storefront.dlq"
)

// aggregateTopics: в какой topic уходят события каждого агрегата.
var aggregateTopics = map[string]string{
	domain.AggregateOrder:   TopicOrderEvents,
	domain.AggregatePayment: TopicPaymentEvents,
	domain.AggregateVariant: TopicInventoryEvents,
}

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope — формат сообщения, которое outbox публикует в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// OrderLinePayload описывает позицию заказа в событии order.created.
type OrderLinePayload struct {
	VariantID string `json:"variant_id"`
	Quantity  int64  `json:"quantity"`
	Price     int64  `json:"price"`
}

// OrderCreatedPayload — нагрузка order.created.
type OrderCreatedPayload struct {
	OrderID    string             `json:"order_id"`
	UserID     string             `json:"user_id"`
	TotalPrice int64              `json:"total_price"`
	Lines      []OrderLinePayload `json:"lines"`
	CreatedAt  time.Time          `json:"created_at"`
}

type OrderStatusChangedPayload struct {
	OrderID    string    `json:"order_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PaymentEventPayload — общая нагрузка событий payment.*.
type PaymentEventPayload struct {
	PaymentID              string    `json:"payment_id"`
	OrderID                string    `json:"order_id"`
	TxnRef                 string    `json:"txn_ref"`
	Attempt                int       `json:"attempt"`
	Amount                 int64     `json:"amount"`
	Status                 string    `json:"status"`
	ResponseCode           string    `json:"response_code,omitempty"`
	GatewayTransactionNo   string    `json:"gateway_transaction_no,omitempty"`
	BankCode               string    `json:"bank_code,omitempty"`
	ReconciliationRequired bool      `json:"reconciliation_required,omitempty"`
	Reason                 string    `json:"reason,omitempty"`
	OccurredAt             time.Time `json:"occurred_at"`
}

type StockAdjustedPayload struct {
	ProductID    string    `json:"product_id"`
	VariantID    string    `json:"variant_id"`
	Delta        int64     `json:"delta"`
	Before       int64     `json:"before"`
	After        int64     `json:"after"`
	ProductStock int64     `json:"product_stock"`
	Reason       string    `json:"reason"`
	OrderID      string    `json:"order_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewPaymentEventPayload собирает нагрузку из состояния попытки.
func NewPaymentEventPayload(p domain.Payment, reason string, at time.Time) PaymentEventPayload {
	return PaymentEventPayload{
		PaymentID:              p.ID,
		OrderID:                p.OrderID,
		TxnRef:                 p.TxnRef,
		Attempt:                p.Attempt,
		Amount:                 p.Amount,
		Status:                 string(p.Status),
		ResponseCode:           p.ResponseCode,
		GatewayTransactionNo:   p.GatewayTransactionNo,
		BankCode:               p.BankCode,
		ReconciliationRequired: p.ReconciliationRequired,
		Reason:                 reason,
		OccurredAt:             at,
	}
}

// NewOutboxMessage сериализует payload в сообщение transactional outbox.
func NewOutboxMessage(aggregateType, aggregateID string, eventType EventType, payload any) (domain.OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     string(eventType),
		Payload:       data,
	}, nil
}
