package domain

import (
	"fmt"
	"strings"
	"time"
)

// PaymentStatus описывает состояние попытки оплаты.
type PaymentStatus string

const (
	// PaymentStatusPending — ссылка на оплату выдана, результат от шлюза ещё не получен.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted — шлюз подтвердил оплату, остатки списаны (или требуется сверка).
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed — шлюз отклонил оплату либо окно оплаты истекло.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что статус конечный.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// CanTransitionTo разрешает только Pending -> Completed | Failed.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentStatusPending && next.IsTerminal()
}

// PaymentMethod — способ оплаты.
type PaymentMethod string

const PaymentMethodVNPay PaymentMethod = "vnpay"

// Коды, которые сервис сам записывает в ResponseCode при закрытии попытки без участия шлюза.
const (
	// ResponseCodeExpired — попытка закрыта по истечении окна оплаты.
	ResponseCodeExpired = "EXPIRED"
	// ResponseCodeCancelled — заказ отменён, пока попытка ждала оплаты.
	ResponseCodeCancelled = "CANCELLED"
)

// Payment — одна попытка оплаты заказа.
type Payment struct {
	ID      string
	OrderID string
	UserID  string
	Amount  int64
	Method  PaymentMethod
	Status  PaymentStatus
	// TxnRef уникален для каждой попытки и передаётся шлюзу как vnp_TxnRef.
	TxnRef  string
	Attempt int
	// Поля ниже заполняются по данным callback-а шлюза.
	GatewayTransactionNo string
	BankCode             string
	ResponseCode         string
	// ReconciliationRequired выставляется, если деньги получены, а выполнить заказ не удалось.
	ReconciliationRequired bool
	// ReconciledAt — когда оператор закрыл ручную сверку.
	ReconciledAt time.Time
	ExpiresAt    time.Time
	PaidAt       time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TxnRefFor формирует ссылку на транзакцию для попытки оплаты заказа.
func TxnRefFor(orderID string, attempt int) string {
	return fmt.Sprintf("%s-%d", orderID, attempt)
}

// ParsePaymentStatus разбирает статус без учёта регистра.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownStatus, raw)
	}
	return status, nil
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if p.Amount <= 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}
	if p.Method == "" {
		errs = append(errs, ErrPaymentMethodRequired)
	}
	if p.TxnRef == "" {
		errs = append(errs, ErrTxnRefRequired)
	}

	return errs
}

// Expired сообщает, что Pending попытка пережила окно оплаты шлюза.
func (p *Payment) Expired(now time.Time) bool {
	return p.Status == PaymentStatusPending && !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// PaymentOutcome репозиторий применяет к попытке атомарно.
type PaymentOutcome struct {
	Status                 PaymentStatus
	ResponseCode           string
	GatewayTransactionNo   string
	BankCode               string
	PaidAt                 time.Time
	ReconciliationRequired bool
}

// Apply переводит платёж по таблице переходов и переносит данные шлюза.
func (p *Payment) Apply(outcome PaymentOutcome, now time.Time) error {
	if !p.Status.CanTransitionTo(outcome.Status) {
		return &TransitionError{Entity: "payment", From: string(p.Status), To: string(outcome.Status)}
	}
	p.Status = outcome.Status
	p.ResponseCode = outcome.ResponseCode
	p.GatewayTransactionNo = outcome.GatewayTransactionNo
	p.BankCode = outcome.BankCode
	p.PaidAt = outcome.PaidAt
	p.ReconciliationRequired = outcome.ReconciliationRequired
	p.UpdatedAt = now
	return nil
}

// FlagReconciliation помечает попытку для ручной сверки, статус не меняется.
// Пустые данные шлюза не затирают уже сохранённые.
func (p *Payment) FlagReconciliation(gatewayTransactionNo, bankCode string, now time.Time) {
	p.ReconciliationRequired = true
	p.ReconciledAt = time.Time{}
	if gatewayTransactionNo != "" {
		p.GatewayTransactionNo = gatewayTransactionNo
	}
	if bankCode != "" {
		p.BankCode = bankCode
	}
	p.UpdatedAt = now
}

// ResolveReconciliation снимает флаг сверки и запоминает время закрытия.
func (p *Payment) ResolveReconciliation(now time.Time) error {
	if !p.ReconciliationRequired {
		return ErrNothingToReconcile
	}
	p.ReconciliationRequired = false
	p.ReconciledAt = now
	p.UpdatedAt = now
	return nil
}
