package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — корневая ошибка некорректного входа; все ошибки валидации оборачивают её.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound — корневая ошибка отсутствующей сущности.
	ErrNotFound = errors.New("not found")

	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserRequired = fmt.Errorf("%w: user_id is required", ErrValidation)
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = fmt.Errorf("%w: order must contain at least one line", ErrValidation)
	// Ошибка отсутствующего варианта товара в позиции.
	ErrVariantRequired = fmt.Errorf("%w: variant_id is required", ErrValidation)
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = fmt.Errorf("%w: line quantity must be greater than zero", ErrValidation)
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = fmt.Errorf("%w: line price must be non-negative", ErrValidation)
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = fmt.Errorf("%w: total_price must be non-negative", ErrValidation)
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrTotalMismatch = fmt.Errorf("%w: total_price does not match lines sum", ErrValidation)
	// ErrPriceMismatch — цена, присланная клиентом, не совпадает с текущей ценой каталога.
	ErrPriceMismatch = fmt.Errorf("%w: price mismatch", ErrValidation)
	// ErrAmountMismatch — сумма платежа не совпадает с суммой заказа.
	ErrAmountMismatch = fmt.Errorf("%w: payment amount does not match order total", ErrValidation)
	// Ошибка отсутствующего идентификатора заказа в платеже.
	ErrOrderIDRequired = fmt.Errorf("%w: order_id is required", ErrValidation)
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	// Ошибка отсутствующего способа оплаты.
	ErrPaymentMethodRequired = fmt.Errorf("%w: payment method is required", ErrValidation)
	// Ошибка отсутствующей ссылки на транзакцию шлюза.
	ErrTxnRefRequired = fmt.Errorf("%w: txn_ref is required", ErrValidation)
	// ErrUnknownStatus — строку статуса не удалось распознать.
	ErrUnknownStatus = fmt.Errorf("%w: unknown status", ErrValidation)
	// Ошибка некорректного типа скидки.
	ErrDiscountTypeInvalid = fmt.Errorf("%w: discount type must be percentage or fixed_amount", ErrValidation)
	// Ошибка некорректного значения скидки.
	ErrDiscountValueInvalid = fmt.Errorf("%w: discount value is out of range", ErrValidation)
	// Ошибка перепутанных дат действия скидки.
	ErrDiscountPeriodInvalid = fmt.Errorf("%w: discount start_date must not be after end_date", ErrValidation)
	// ErrStockDeltaZero — корректировка склада на ноль единиц не имеет смысла.
	ErrStockDeltaZero = fmt.Errorf("%w: stock delta must not be zero", ErrValidation)

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrPaymentNotFound возвращается, если платёж не найден (по заказу или по TxnRef).
	ErrPaymentNotFound = fmt.Errorf("payment %w", ErrNotFound)
	// ErrVariantNotFound возвращается, если вариант не найден или не принадлежит товару.
	ErrVariantNotFound = fmt.Errorf("variant %w", ErrNotFound)
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)

	// ErrInsufficientStock — списание привело бы к отрицательному остатку.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition — запрошенный переход статуса запрещён таблицей переходов.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrSignatureInvalid — подпись callback-а платёжного шлюза не сошлась.
	ErrSignatureInvalid = errors.New("gateway signature verification failed")
	// ErrPaymentInProgress — по заказу уже открыт Pending платёж, окно оплаты ещё не истекло.
	ErrPaymentInProgress = errors.New("payment already in progress for order")
	// ErrOrderAlreadyPaid — по заказу уже есть завершённый платёж.
	ErrOrderAlreadyPaid = errors.New("order already paid")
	// ErrOrderNotPayable — заказ в статусе, из которого оплата невозможна.
	ErrOrderNotPayable = errors.New("order is not payable")
	// ErrNothingToReconcile — попытка не помечена для ручной сверки.
	ErrNothingToReconcile = errors.New("payment is not flagged for reconciliation")
	// ErrForbidden — пользователь не владеет запрошенным ресурсом.
	ErrForbidden = errors.New("forbidden")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован для такого же запроса.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ValidationError описывает некорректное поле входного запроса.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError создаёт ошибку валидации конкретного поля.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientStockError сообщает, сколько единиц осталось у варианта.
type InsufficientStockError struct {
	ProductID string
	VariantID string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s: requested %d, remaining %d", e.VariantID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// TransitionError описывает запрещённый переход конечного автомата.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %q to %q", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// PersistenceError оборачивает сбой хранилища (транзакция, соединение).
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence оборачивает err в PersistenceError; nil остаётся nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsNotFound проверяет, что ошибка означает отсутствие сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation проверяет, что ошибка вызвана некорректным входом.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsPersistence проверяет, что ошибка пришла из слоя хранения.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsIdempotencyConflict проверяет, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
