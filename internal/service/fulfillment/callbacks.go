package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	channelIPN    = "ipn"
	channelReturn = "return"
)

// ApplyResult описывает, чем закончилось применение проверенного callback-а.
type ApplyResult int

const (
	// Оплата подтверждена, остатки списаны, заказ в Processing.
	ApplyCompleted ApplyResult = iota + 1
	ApplyAlreadyCompleted
	ApplyFailed
	ApplyAlreadyFailed
	ApplyPaymentNotFound
	// Сумма callback-а не совпала с суммой попытки.
	ApplyAmountMismatch
	// Деньги получены, но заказ выполнить нельзя; нужна ручная сверка.
	ApplyReconciliationRequired
)

func (r ApplyResult) String() string {
	switch r {
	case ApplyCompleted:
		return "completed"
	case ApplyAlreadyCompleted:
		return "already_completed"
	case ApplyFailed:
		return "failed"
	case ApplyAlreadyFailed:
		return "already_failed"
	case ApplyPaymentNotFound:
		return "payment_not_found"
	case ApplyAmountMismatch:
		return "amount_mismatch"
	case ApplyReconciliationRequired:
		return "reconciliation_required"
	default:
		return "unknown"
	}
}

// Ack переводит результат в подтверждение для шлюза.
func (r ApplyResult) Ack() vnpay.IpnAck {
	switch r {
	case ApplyCompleted, ApplyAlreadyCompleted, ApplyFailed, ApplyReconciliationRequired:
		return vnpay.IpnSuccess
	case ApplyAlreadyFailed:
		return vnpay.IpnAlreadyConfirmed
	case ApplyPaymentNotFound:
		return vnpay.IpnOrderNotFound
	case ApplyAmountMismatch:
		return vnpay.IpnInvalidAmount
	default:
		return vnpay.IpnUnknownError
	}
}

// errNotFulfillable: заказ нельзя перевести в Processing (например, он уже отменён).
var errNotFulfillable = errors.New("order cannot be fulfilled")

// HandleIPN обрабатывает server-to-server уведомление и возвращает подтверждение для шлюза.
// Непроверенная подпись даёт 97 без каких-либо изменений; временная ошибка хранилища даёт 99,
// чтобы шлюз повторил доставку.
func (s *Service) HandleIPN(ctx context.Context, query url.Values) vnpay.IpnAck {
	cb := s.gateway.VerifyIPN(query)
	if !cb.Verified {
		s.metrics.RecordSignatureFailure(channelIPN)
		s.metrics.RecordIPNAck(vnpay.IpnFailChecksum.RspCode)
		return vnpay.IpnFailChecksum
	}

	result, err := s.ApplyPayment(ctx, cb, channelIPN)
	ack := result.Ack()
	if err != nil {
		s.logger.WithError(err).WithField("txn_ref", cb.TxnRef).Error("ipn apply failed, gateway will retry")
		ack = vnpay.IpnUnknownError
	}
	s.metrics.RecordIPNAck(ack.RspCode)
	return ack
}

// ReturnRedirect говорит, куда отправить браузер после возврата со шлюза.
type ReturnRedirect struct {
	URL     string
	Success bool
}

// HandleReturn проверяет браузерный redirect и строит адрес страницы результата.
// Состояние меняется только при включённом WithApplyOnReturn и через тот же ApplyPayment, что и IPN.
func (s *Service) HandleReturn(ctx context.Context, query url.Values) ReturnRedirect {
	cb := s.gateway.VerifyReturnURL(query)
	if !cb.Verified {
		s.metrics.RecordSignatureFailure(channelReturn)
		return s.failureRedirect(cb.TxnRef, vnpay.ResponseCodeInvalidSignature, vnpay.ResponseMessage(vnpay.ResponseCodeInvalidSignature))
	}

	if s.applyOnReturn {
		result, err := s.ApplyPayment(ctx, cb, channelReturn)
		if err != nil {
			s.logger.WithError(err).WithField("txn_ref", cb.TxnRef).Warn("apply on return failed, waiting for ipn")
		}
		switch result {
		case ApplyPaymentNotFound:
			return s.failureRedirect(cb.TxnRef, vnpay.IpnOrderNotFound.RspCode, vnpay.IpnOrderNotFound.Message)
		case ApplyAmountMismatch:
			return s.failureRedirect(cb.TxnRef, vnpay.IpnInvalidAmount.RspCode, vnpay.IpnInvalidAmount.Message)
		}
	}

	if !cb.Success {
		return s.failureRedirect(cb.TxnRef, cb.ResponseCode, cb.Message)
	}

	params := url.Values{}
	params.Set("vnp_TxnRef", cb.TxnRef)
	if payment, err := s.payments.GetByTxnRef(ctx, cb.TxnRef); err == nil {
		params.Set("orderId", payment.OrderID)
	}
	return ReturnRedirect{URL: s.frontendPath("/payment/success", params), Success: true}
}

func (s *Service) failureRedirect(txnRef, code, message string) ReturnRedirect {
	params := url.Values{}
	params.Set("vnp_TxnRef", txnRef)
	params.Set("vnp_ResponseCode", code)
	params.Set("vnp_Message", message)
	return ReturnRedirect{URL: s.frontendPath("/payment/failure", params)}
}

func (s *Service) frontendPath(path string, params url.Values) string {
	return strings.TrimRight(s.frontendURL, "/") + path + "?" + params.Encode()
}

// ApplyPayment идемпотентно применяет проверенный callback.
// Заказ и попытка блокируются на время транзакции, поэтому конкурентные доставки сериализуются,
// а повторная доставка после Completed ничего не меняет.
func (s *Service) ApplyPayment(ctx context.Context, cb domain.GatewayCallback, channel string) (ApplyResult, error) {
	if !cb.Verified {
		return 0, domain.ErrSignatureInvalid
	}

	started := time.Now()
	defer func() { s.metrics.RecordApplyDuration(channel, time.Since(started)) }()

	logger := s.logger.WithFields(log.Fields{"txn_ref": cb.TxnRef, "channel": channel})

	var (
		result      ApplyResult
		payment     domain.Payment
		lateSuccess bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, locked, err := s.lockAttempt(ctx, cb.TxnRef)
		if domain.IsNotFound(err) {
			result = ApplyPaymentNotFound
			return nil
		}
		if err != nil {
			return err
		}
		payment = locked

		switch payment.Status {
		case domain.PaymentStatusCompleted:
			result = ApplyAlreadyCompleted
			return nil
		case domain.PaymentStatusFailed:
			result = ApplyAlreadyFailed
			payment, lateSuccess, err = s.flagLateSuccess(ctx, payment, cb)
			return err
		}

		if cb.Amount != payment.Amount {
			result = ApplyAmountMismatch
			return nil
		}

		now := s.now()
		if !cb.Success {
			failed, err := s.payments.Transition(ctx, payment.ID, domain.PaymentStatusPending, domain.PaymentOutcome{
				Status:               domain.PaymentStatusFailed,
				ResponseCode:         cb.ResponseCode,
				GatewayTransactionNo: cb.TransactionNo,
				BankCode:             cb.BankCode,
			})
			if err != nil {
				return err
			}
			payment = failed
			result = ApplyFailed
			return s.recordPayment(ctx, kafka.EventTypePaymentFailed, failed, cb.Message, now)
		}

		if err := s.fulfil(ctx, order, payment, cb, now); err != nil {
			return err
		}
		result = ApplyCompleted
		return nil
	})

	if err != nil {
		if isBusinessFulfilmentError(err) {
			return s.requireReconciliation(ctx, cb, channel, err)
		}
		return 0, err
	}

	switch result {
	case ApplyCompleted:
		s.metrics.RecordPaymentFinished(string(domain.PaymentStatusCompleted))
		logger.WithFields(log.Fields{"order_id": payment.OrderID, "amount": payment.Amount}).Info("payment confirmed, stock debited")
	case ApplyFailed:
		s.metrics.RecordPaymentFinished(string(domain.PaymentStatusFailed))
		logger.WithFields(log.Fields{"order_id": payment.OrderID, "response_code": cb.ResponseCode}).Info("payment declined by gateway")
	case ApplyAlreadyCompleted:
		logger.Debug("duplicate callback for completed payment ignored")
	case ApplyAlreadyFailed:
		if lateSuccess {
			s.alertLateSuccess(logger, payment, cb)
		}
	case ApplyAmountMismatch:
		logger.WithFields(log.Fields{"expected": payment.Amount, "got": cb.Amount}).Warn("callback amount mismatch")
	case ApplyPaymentNotFound:
		logger.Warn("callback for unknown txn_ref")
	}
	return result, nil
}

// lockAttempt блокирует сначала заказ, затем попытку оплаты.
// CreatePaymentURL и UpdateOrderStatus берут блокировки в том же порядке.
func (s *Service) lockAttempt(ctx context.Context, txnRef string) (domain.Order, domain.Payment, error) {
	ref, err := s.payments.GetByTxnRef(ctx, txnRef)
	if err != nil {
		return domain.Order{}, domain.Payment{}, err
	}
	order, err := s.orders.GetForUpdate(ctx, ref.OrderID)
	if err != nil {
		return domain.Order{}, domain.Payment{}, err
	}
	payment, err := s.payments.GetByTxnRefForUpdate(ctx, txnRef)
	if err != nil {
		return domain.Order{}, domain.Payment{}, err
	}
	return order, payment, nil
}

// flagLateSuccess помечает для сверки Failed попытку, по которой шлюз всё же списал деньги
// (заказ отменён или окно оплаты истекло). Статус остаётся Failed, повторная доставка ничего не меняет.
func (s *Service) flagLateSuccess(ctx context.Context, payment domain.Payment, cb domain.GatewayCallback) (domain.Payment, bool, error) {
	if !cb.Success || payment.ReconciliationRequired {
		return payment, false, nil
	}
	flagged, err := s.payments.FlagReconciliation(ctx, payment.ID, cb.TransactionNo, cb.BankCode)
	if err != nil {
		return payment, false, err
	}
	reason := fmt.Sprintf("gateway confirmed %d after attempt closed as %s", cb.Amount, flagged.ResponseCode)
	if err := s.recordPayment(ctx, kafka.EventTypePaymentReconciliationRequired, flagged, reason, s.now()); err != nil {
		return payment, false, err
	}
	return flagged, true, nil
}

func (s *Service) alertLateSuccess(logger *log.Entry, payment domain.Payment, cb domain.GatewayCallback) {
	s.metrics.RecordReconciliationRequired()
	logger.WithFields(log.Fields{
		"alert":         "reconciliation_required",
		"order_id":      payment.OrderID,
		"amount":        cb.Amount,
		"response_code": payment.ResponseCode,
	}).Error("gateway reports success for a payment already closed as failed")
}

// fulfil завершает попытку, списывает остатки по каждой строке ровно один раз и переводит заказ в Processing.
// order уже заблокирован вызывающей стороной.
func (s *Service) fulfil(ctx context.Context, order domain.Order, payment domain.Payment, cb domain.GatewayCallback, now time.Time) error {
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: order %s is %s", errNotFulfillable, order.ID, order.Status)
	}

	completed, err := s.payments.Transition(ctx, payment.ID, domain.PaymentStatusPending, domain.PaymentOutcome{
		Status:               domain.PaymentStatusCompleted,
		ResponseCode:         cb.ResponseCode,
		GatewayTransactionNo: cb.TransactionNo,
		BankCode:             cb.BankCode,
		PaidAt:               now,
	})
	if err != nil {
		return err
	}

	for _, d := range order.Details {
		adj, err := s.stock.UpdateStock(ctx, d.ProductID, d.VariantID, -d.Quantity)
		if err != nil {
			return err
		}
		if err := s.recordStock(ctx, adj, stockReasonPayment, order.ID, now); err != nil {
			return err
		}
	}

	if _, err := s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusProcessing); err != nil {
		return err
	}
	if err := s.recordPayment(ctx, kafka.EventTypePaymentCompleted, completed, "", now); err != nil {
		return err
	}
	return s.recordStatusChange(ctx, order.ID, order.Status, domain.OrderStatusProcessing, "payment confirmed", now)
}

// isBusinessFulfilmentError отделяет «выполнить заказ нельзя» от временных сбоев хранилища.
func isBusinessFulfilmentError(err error) bool {
	return errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrVariantNotFound) ||
		errors.Is(err, domain.ErrOrderNotFound) ||
		errors.Is(err, errNotFulfillable)
}

// requireReconciliation фиксирует полученные деньги отдельной транзакцией: попытка Completed
// с флагом сверки, заказ не переводится, остатки не трогаются.
func (s *Service) requireReconciliation(ctx context.Context, cb domain.GatewayCallback, channel string, cause error) (ApplyResult, error) {
	result := ApplyReconciliationRequired
	var (
		payment     domain.Payment
		lateSuccess bool
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, current, err := s.lockAttempt(ctx, cb.TxnRef)
		if err != nil {
			return err
		}
		switch current.Status {
		case domain.PaymentStatusCompleted:
			// Параллельная доставка уже закрыла попытку.
			result = ApplyAlreadyCompleted
			payment = current
			return nil
		case domain.PaymentStatusFailed:
			// Попытку успели закрыть отменой или по истечении окна.
			result = ApplyAlreadyFailed
			payment, lateSuccess, err = s.flagLateSuccess(ctx, current, cb)
			return err
		}

		now := s.now()
		payment, err = s.payments.Transition(ctx, current.ID, domain.PaymentStatusPending, domain.PaymentOutcome{
			Status:                 domain.PaymentStatusCompleted,
			ResponseCode:           cb.ResponseCode,
			GatewayTransactionNo:   cb.TransactionNo,
			BankCode:               cb.BankCode,
			PaidAt:                 now,
			ReconciliationRequired: true,
		})
		if err != nil {
			return err
		}
		return s.recordPayment(ctx, kafka.EventTypePaymentReconciliationRequired, payment, cause.Error(), now)
	})
	if err != nil {
		return 0, err
	}
	if lateSuccess {
		s.alertLateSuccess(s.logger.WithFields(log.Fields{"txn_ref": cb.TxnRef, "channel": channel}), payment, cb)
	}
	if result != ApplyReconciliationRequired {
		return result, nil
	}

	s.metrics.RecordPaymentFinished(string(domain.PaymentStatusCompleted))
	s.metrics.RecordReconciliationRequired()
	s.logger.WithError(cause).WithFields(log.Fields{
		"alert":    "reconciliation_required",
		"channel":  channel,
		"txn_ref":  payment.TxnRef,
		"order_id": payment.OrderID,
		"amount":   payment.Amount,
	}).Error("payment captured but order could not be fulfilled")
	return result, nil
}

// ResolveReconciliation закрывает ручную сверку попытки после разбора оператором
// (возврат денег, ручное выполнение заказа). Статусы заказа и попытки не меняются.
func (s *Service) ResolveReconciliation(ctx context.Context, txnRef, note string) (domain.Payment, error) {
	if strings.TrimSpace(txnRef) == "" {
		return domain.Payment{}, domain.ErrTxnRefRequired
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return domain.Payment{}, domain.NewValidationError("note", "resolution note is required")
	}

	var resolved domain.Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, payment, err := s.lockAttempt(ctx, txnRef)
		if err != nil {
			return err
		}
		now := s.now()
		resolved, err = s.payments.ResolveReconciliation(ctx, payment.ID, now)
		if err != nil {
			return err
		}
		return s.recordPayment(ctx, kafka.EventTypePaymentReconciled, resolved, note, now)
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.metrics.RecordReconciliationResolved()
	s.logger.WithFields(log.Fields{
		"txn_ref":  resolved.TxnRef,
		"order_id": resolved.OrderID,
		"status":   resolved.Status,
	}).Info("reconciliation resolved")
	return resolved, nil
}
