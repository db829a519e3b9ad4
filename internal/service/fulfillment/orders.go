package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	stockReasonPayment = "payment_confirmed"
	stockReasonCancel  = "order_cancelled"
	stockReasonManual  = "manual_adjustment"

	defaultListLimit = 50
	maxListLimit     = 200
)

// LineInput — позиция в запросе на создание заказа. Price необязателен:
// если клиент его передал, он обязан совпасть с серверной ценой.
type LineInput struct {
	VariantID string
	Quantity  int64
	Price     *int64
}

// CreateOrderInput — запрос на создание заказа.
type CreateOrderInput struct {
	UserID     string
	TotalPrice *int64
	Lines      []LineInput
}

// CreateOrder проверяет позиции, фиксирует серверные цены и сохраняет заказ со строками атомарно.
// Остатки проверяются только на момент оформления; списание происходит после оплаты.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	return s.createOrder(ctx, in, "order")
}

func (s *Service) createOrder(ctx context.Context, in CreateOrderInput, source string) (domain.Order, error) {
	order, err := s.priceOrder(ctx, in)
	if err != nil {
		return domain.Order{}, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, order); err != nil {
			return domain.Persistence("create order", err)
		}

		lines := make([]kafka.OrderLinePayload, 0, len(order.Details))
		for _, d := range order.Details {
			lines = append(lines, kafka.OrderLinePayload{VariantID: d.VariantID, Quantity: d.Quantity, Price: d.Price})
		}
		return s.record(ctx, event{
			aggregateType: domain.AggregateOrder,
			aggregateID:   order.ID,
			orderID:       order.ID,
			eventType:     kafka.EventTypeOrderCreated,
			payload: kafka.OrderCreatedPayload{
				OrderID:    order.ID,
				UserID:     order.UserID,
				TotalPrice: order.TotalPrice,
				Lines:      lines,
				CreatedAt:  order.CreatedAt,
			},
			at: order.CreatedAt,
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordOrderCreated(source)
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"total_price": order.TotalPrice,
		"lines":       len(order.Details),
		"source":      source,
	}).Info("order created")
	return order, nil
}

// priceOrder собирает заказ: загружает варианты, считает цену через Discount Resolver
// и сверяет её с ценами клиента.
func (s *Service) priceOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return domain.Order{}, domain.ErrUserRequired
	}
	if len(in.Lines) == 0 {
		return domain.Order{}, domain.ErrItemsRequired
	}

	now := s.now()
	order := domain.Order{
		ID:        s.newID(),
		UserID:    in.UserID,
		Status:    domain.OrderStatusPending,
		Details:   make([]domain.OrderDetail, 0, len(in.Lines)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	requested := make(map[string]int64, len(in.Lines))
	for _, line := range in.Lines {
		if strings.TrimSpace(line.VariantID) == "" {
			return domain.Order{}, domain.ErrVariantRequired
		}
		if line.Quantity <= 0 {
			return domain.Order{}, domain.ErrItemQtyInvalid
		}
		if line.Price != nil && *line.Price < 0 {
			return domain.Order{}, domain.ErrItemPriceInvalid
		}

		variant, err := s.catalog.GetVariant(ctx, line.VariantID)
		if err != nil {
			return domain.Order{}, err
		}

		requested[variant.ID] += line.Quantity
		if requested[variant.ID] > variant.StockQuantity {
			return domain.Order{}, &domain.InsufficientStockError{
				ProductID: variant.ProductID,
				VariantID: variant.ID,
				Available: variant.StockQuantity,
				Requested: requested[variant.ID],
			}
		}

		quote, err := s.pricing.QuoteFor(ctx, variant)
		if err != nil {
			return domain.Order{}, err
		}
		if line.Price != nil && *line.Price != quote.FinalPrice {
			return domain.Order{}, fmt.Errorf("%w: variant %s costs %d, got %d",
				domain.ErrPriceMismatch, variant.ID, quote.FinalPrice, *line.Price)
		}

		order.Details = append(order.Details, domain.OrderDetail{
			ID:        s.newID(),
			OrderID:   order.ID,
			VariantID: variant.ID,
			ProductID: variant.ProductID,
			SKU:       variant.SKU,
			Quantity:  line.Quantity,
			Price:     quote.FinalPrice,
			CreatedAt: now,
		})
	}

	order.TotalPrice = domain.LinesTotal(order.Details)
	if in.TotalPrice != nil && *in.TotalPrice != order.TotalPrice {
		return domain.Order{}, domain.ErrTotalMismatch
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}
	return order, nil
}

// GetOrder возвращает заказ владельцу или администратору; чужой заказ неотличим от отсутствующего.
func (s *Service) GetOrder(ctx context.Context, actor Actor, orderID string) (domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !actor.owns(order) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (s *Service) ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrUserRequired
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.orders.ListByUser(ctx, userID, limit)
}

// Timeline возвращает историю заказа.
func (s *Service) Timeline(ctx context.Context, actor Actor, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := s.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.timeline.List(ctx, orderID)
}

// UpdateOrderStatus переводит заказ по таблице переходов.
// Pending→Processing выполняет только подтверждение оплаты. Покупатель может лишь отменить свой Pending заказ.
// Отмена закрывает ожидающую попытку оплаты; отмена оплаченного заказа возвращает остатки на склад.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor Actor, orderID string, next domain.OrderStatus, reason string) (domain.Order, error) {
	if !next.Valid() {
		return domain.Order{}, domain.ErrUnknownStatus
	}

	var updated domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.owns(order) {
			return domain.ErrOrderNotFound
		}
		if !actor.Admin && !(order.Status == domain.OrderStatusPending && next == domain.OrderStatusCancelled) {
			return domain.ErrForbidden
		}
		if order.Status == domain.OrderStatusPending && next == domain.OrderStatusProcessing {
			return domain.NewValidationError("status", "processing is set by payment confirmation")
		}

		updated, err = s.orders.UpdateStatus(ctx, orderID, next)
		if err != nil {
			return err
		}

		now := s.now()
		if next == domain.OrderStatusCancelled {
			if err := s.releaseOnCancel(ctx, order, now); err != nil {
				return err
			}
		}
		return s.recordStatusChange(ctx, orderID, order.Status, next, reason, now)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"status":   next,
		"admin":    actor.Admin,
	}).Info("order status updated")
	return updated, nil
}

// releaseOnCancel закрывает ожидающую попытку оплаты, а для уже оплаченного заказа возвращает остатки.
func (s *Service) releaseOnCancel(ctx context.Context, order domain.Order, now time.Time) error {
	switch order.Status {
	case domain.OrderStatusPending:
		latest, err := s.payments.LatestByOrder(ctx, order.ID)
		if domain.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if latest.Status != domain.PaymentStatusPending {
			return nil
		}
		closed, err := s.payments.Transition(ctx, latest.ID, domain.PaymentStatusPending, domain.PaymentOutcome{
			Status:       domain.PaymentStatusFailed,
			ResponseCode: domain.ResponseCodeCancelled,
		})
		if err != nil {
			return err
		}
		s.metrics.RecordPaymentFinished(string(domain.PaymentStatusFailed))
		return s.recordPayment(ctx, kafka.EventTypePaymentFailed, closed, "order cancelled", now)

	case domain.OrderStatusProcessing:
		for _, d := range order.Details {
			adj, err := s.stock.UpdateStock(ctx, d.ProductID, d.VariantID, d.Quantity)
			if err != nil {
				return err
			}
			if err := s.recordStock(ctx, adj, stockReasonCancel, order.ID, now); err != nil {
				return err
			}
		}
	}
	return nil
}
