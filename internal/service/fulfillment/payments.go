package fulfillment

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// PaymentURLInput — запрос ссылки на оплату. Amount = 0 означает «полная сумма заказа».
type PaymentURLInput struct {
	Actor    Actor
	OrderID  string
	Amount   int64
	ClientIP string
	BankCode string
	Locale   string
}

// PaymentSession — открытая попытка оплаты и ссылка на платёжную страницу.
type PaymentSession struct {
	Payment    domain.Payment
	PaymentURL string
	ExpiresAt  time.Time
}

// CheckoutInput — заказ и параметры оплаты одним запросом.
type CheckoutInput struct {
	Order    CreateOrderInput
	ClientIP string
	BankCode string
	Locale   string
}

// CheckoutResult содержит созданный заказ и ссылку на оплату.
type CheckoutResult struct {
	Order   domain.Order
	Session PaymentSession
}

// Checkout создаёт заказ и сразу открывает попытку оплаты.
// Если шлюз не выдал ссылку, заказ остаётся Pending и оплату можно запросить повторно.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	order, err := s.createOrder(ctx, in.Order, "checkout")
	if err != nil {
		return CheckoutResult{}, err
	}

	session, err := s.CreatePaymentURL(ctx, PaymentURLInput{
		Actor:    Actor{UserID: order.UserID},
		OrderID:  order.ID,
		Amount:   order.TotalPrice,
		ClientIP: in.ClientIP,
		BankCode: in.BankCode,
		Locale:   in.Locale,
	})
	if err != nil {
		return CheckoutResult{Order: order}, err
	}
	return CheckoutResult{Order: order, Session: session}, nil
}

// CreatePaymentURL открывает новую попытку оплаты заказа.
// Оплаченный заказ даёт ErrOrderAlreadyPaid, живая Pending попытка даёт ErrPaymentInProgress,
// а Pending попытка с истёкшим окном закрывается как Failed(EXPIRED) и уступает место следующей.
func (s *Service) CreatePaymentURL(ctx context.Context, in PaymentURLInput) (PaymentSession, error) {
	if strings.TrimSpace(in.OrderID) == "" {
		return PaymentSession{}, domain.ErrOrderIDRequired
	}
	if in.Amount < 0 {
		return PaymentSession{}, domain.ErrAmountNegative
	}

	var session PaymentSession
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if !in.Actor.owns(order) {
			return domain.ErrOrderNotFound
		}
		if order.Status != domain.OrderStatusPending {
			return domain.ErrOrderNotPayable
		}
		if in.Amount != 0 && in.Amount != order.TotalPrice {
			return domain.ErrAmountMismatch
		}

		now := s.now()
		attempt := 1
		latest, err := s.payments.LatestByOrder(ctx, order.ID)
		switch {
		case domain.IsNotFound(err):
		case err != nil:
			return err
		default:
			attempt = latest.Attempt + 1
			if err := s.closePreviousAttempt(ctx, latest, now); err != nil {
				return err
			}
		}

		txnRef := domain.TxnRefFor(order.ID, attempt)
		link, err := s.gateway.CreatePaymentURL(vnpay.PaymentRequest{
			TxnRef:    txnRef,
			Amount:    order.TotalPrice,
			OrderInfo: "Thanh toan don hang " + order.ID,
			ClientIP:  in.ClientIP,
			BankCode:  in.BankCode,
			Locale:    in.Locale,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}

		payment := domain.Payment{
			ID:        s.newID(),
			OrderID:   order.ID,
			UserID:    order.UserID,
			Amount:    order.TotalPrice,
			Method:    domain.PaymentMethodVNPay,
			Status:    domain.PaymentStatusPending,
			TxnRef:    txnRef,
			Attempt:   attempt,
			ExpiresAt: link.ExpiresAt,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if errs := payment.Validate(); len(errs) > 0 {
			return errors.Join(errs...)
		}
		if err := s.payments.Create(ctx, payment); err != nil {
			if errors.Is(err, domain.ErrPaymentInProgress) {
				return err
			}
			return domain.Persistence("create payment", err)
		}
		if err := s.recordPayment(ctx, kafka.EventTypePaymentOpened, payment, "", now); err != nil {
			return err
		}

		session = PaymentSession{Payment: payment, PaymentURL: link.URL, ExpiresAt: link.ExpiresAt}
		return nil
	})
	if err != nil {
		return PaymentSession{}, err
	}

	s.metrics.RecordPaymentOpened()
	s.logger.WithFields(log.Fields{
		"order_id": session.Payment.OrderID,
		"txn_ref":  session.Payment.TxnRef,
		"attempt":  session.Payment.Attempt,
		"amount":   session.Payment.Amount,
	}).Info("payment attempt opened")
	return session, nil
}

// closePreviousAttempt решает судьбу последней попытки перед открытием новой.
func (s *Service) closePreviousAttempt(ctx context.Context, latest domain.Payment, now time.Time) error {
	switch latest.Status {
	case domain.PaymentStatusCompleted:
		return domain.ErrOrderAlreadyPaid
	case domain.PaymentStatusPending:
		if !latest.Expired(now) {
			return domain.ErrPaymentInProgress
		}
		expired, err := s.payments.Transition(ctx, latest.ID, domain.PaymentStatusPending, domain.PaymentOutcome{
			Status:       domain.PaymentStatusFailed,
			ResponseCode: domain.ResponseCodeExpired,
		})
		if err != nil {
			return err
		}
		s.metrics.RecordPaymentFinished(string(domain.PaymentStatusFailed))
		s.logger.WithFields(log.Fields{
			"order_id": latest.OrderID,
			"txn_ref":  latest.TxnRef,
		}).Info("expired payment attempt closed")
		return s.recordPayment(ctx, kafka.EventTypePaymentFailed, expired, "payment window expired", now)
	}
	return nil
}

// GetPaymentByOrder возвращает последнюю попытку оплаты заказа.
func (s *Service) GetPaymentByOrder(ctx context.Context, actor Actor, orderID string) (domain.Payment, error) {
	if _, err := s.GetOrder(ctx, actor, orderID); err != nil {
		return domain.Payment{}, err
	}
	return s.payments.LatestByOrder(ctx, orderID)
}
