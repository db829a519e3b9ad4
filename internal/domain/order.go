package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — оплата подтверждена, остатки списаны, заказ комплектуется.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ получен покупателем.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

// CanTransitionTo проверяет переход по таблице переходов.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseOrderStatus разбирает статус без учёта регистра ("Pending", "pending").
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", NewValidationError("status", "unknown order status "+raw)
	}
	return status, nil
}

// OrderDetail — позиция заказа со снимком цены на момент покупки.
type OrderDetail struct {
	ID        string
	OrderID   string
	VariantID string
	// ProductID заполняется при чтении, он нужен для списания остатков.
	ProductID string
	SKU       string
	Quantity  int64
	// Price — цена за единицу в донгах, неизменна после создания заказа.
	Price     int64
	CreatedAt time.Time
}

// Subtotal возвращает price*quantity.
func (d OrderDetail) Subtotal() int64 {
	return d.Price * d.Quantity
}

// Order агрегирует заказ и его позиции.
type Order struct {
	ID         string
	UserID     string
	TotalPrice int64
	Status     OrderStatus
	Details    []OrderDetail
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LinesTotal считает сумму price*quantity по позициям.
func LinesTotal(details []OrderDetail) int64 {
	var total int64
	for _, d := range details {
		total += d.Subtotal()
	}
	return total
}

// ValidateInvariants проверяет инварианты заказа на момент создания.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Details) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalPrice < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	for _, d := range o.Details {
		if d.VariantID == "" {
			errs = append(errs, ErrVariantRequired)
		}
		if d.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if d.Price < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if LinesTotal(o.Details) != o.TotalPrice {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// TransitionTo переводит заказ в новый статус, если переход разрешён.
func (o *Order) TransitionTo(next OrderStatus, now time.Time) error {
	if !next.Valid() {
		return NewValidationError("status", "unknown order status "+string(next))
	}
	if !o.Status.CanTransitionTo(next) {
		return &TransitionError{Entity: "order", From: string(o.Status), To: string(next)}
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}
