package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// event — одно доменное событие: уходит в outbox и, если задан orderID, в timeline заказа.
type event struct {
	aggregateType string
	aggregateID   string
	orderID       string
	eventType     kafka.EventType
	reason        string
	payload       any
	at            time.Time
}

// record пишет событие в текущей транзакции; ошибка откатывает всю операцию.
func (s *Service) record(ctx context.Context, e event) error {
	msg, err := kafka.NewOutboxMessage(e.aggregateType, e.aggregateID, e.eventType, e.payload)
	if err != nil {
		return err
	}
	msg.CreatedAt = e.at
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		return domain.Persistence("enqueue "+string(e.eventType), err)
	}
	s.metrics.RecordOutboxEvent()

	if e.orderID == "" {
		return nil
	}
	if err := s.timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  e.orderID,
		Type:     string(e.eventType),
		Reason:   e.reason,
		Occurred: e.at,
	}); err != nil {
		return domain.Persistence("append timeline", err)
	}
	s.metrics.RecordTimelineEvent()
	return nil
}

func (s *Service) recordPayment(ctx context.Context, eventType kafka.EventType, p domain.Payment, reason string, at time.Time) error {
	return s.record(ctx, event{
		aggregateType: domain.AggregatePayment,
		aggregateID:   p.OrderID,
		orderID:       p.OrderID,
		eventType:     eventType,
		reason:        reason,
		payload:       kafka.NewPaymentEventPayload(p, reason, at),
		at:            at,
	})
}

func (s *Service) recordStatusChange(ctx context.Context, orderID string, from, to domain.OrderStatus, reason string, at time.Time) error {
	return s.record(ctx, event{
		aggregateType: domain.AggregateOrder,
		aggregateID:   orderID,
		orderID:       orderID,
		eventType:     kafka.EventTypeOrderStatusChanged,
		reason:        reason,
		payload: kafka.OrderStatusChangedPayload{
			OrderID:    orderID,
			From:       string(from),
			To:         string(to),
			Reason:     reason,
			OccurredAt: at,
		},
		at: at,
	})
}

// recordStock пишет stock.adjusted; в timeline заказа попадает только корректировка по заказу.
func (s *Service) recordStock(ctx context.Context, adj domain.StockAdjustment, reason, orderID string, at time.Time) error {
	s.metrics.RecordStockAdjustment(reason)
	return s.record(ctx, event{
		aggregateType: domain.AggregateVariant,
		aggregateID:   adj.VariantID,
		orderID:       orderID,
		eventType:     kafka.EventTypeStockAdjusted,
		reason:        fmt.Sprintf("%s: %s %+d", reason, adj.VariantID, adj.Delta),
		payload: kafka.StockAdjustedPayload{
			ProductID:    adj.ProductID,
			VariantID:    adj.VariantID,
			Delta:        adj.Delta,
			Before:       adj.Before,
			After:        adj.After,
			ProductStock: adj.ProductStock,
			Reason:       reason,
			OrderID:      orderID,
			OccurredAt:   at,
		},
		at: at,
	})
}
