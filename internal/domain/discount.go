package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType — способ расчёта скидки.
type DiscountType string

const (
	// DiscountTypePercentage — скидка в процентах от цены.
	DiscountTypePercentage DiscountType = "percentage"
	// DiscountTypeFixedAmount — фиксированная сумма, вычитаемая из цены.
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
)

// DiscountStatusActive — значение status, при котором скидка может действовать.
const DiscountStatusActive = 1

var hundred = decimal.NewFromInt(100)

// Discount описывает скидку, привязанную к набору товаров.
type Discount struct {
	ID         string
	Name       string
	Type       DiscountType
	Value      decimal.Decimal
	StartDate  time.Time
	EndDate    time.Time
	Status     int
	ProductIDs []string
}

// Validate проверяет корректность описания скидки.
func (d Discount) Validate() []error {
	var errs []error

	switch d.Type {
	case DiscountTypePercentage:
		if d.Value.IsNegative() || d.Value.GreaterThan(hundred) {
			errs = append(errs, ErrDiscountValueInvalid)
		}
	case DiscountTypeFixedAmount:
		if d.Value.IsNegative() {
			errs = append(errs, ErrDiscountValueInvalid)
		}
	default:
		errs = append(errs, ErrDiscountTypeInvalid)
	}
	if d.StartDate.After(d.EndDate) {
		errs = append(errs, ErrDiscountPeriodInvalid)
	}

	return errs
}

// ActiveAt: status=1 и start <= now <= end, границы включительно.
func (d Discount) ActiveAt(now time.Time) bool {
	return d.Status == DiscountStatusActive && !now.Before(d.StartDate) && !now.After(d.EndDate)
}

// EffectivePrice применяет скидку к цене без учёта активности.
func (d Discount) EffectivePrice(price int64) int64 {
	base := decimal.NewFromInt(price)

	switch d.Type {
	case DiscountTypePercentage:
		factor := decimal.NewFromInt(1).Sub(d.Value.Div(hundred))
		return base.Mul(factor).Round(0).IntPart()
	case DiscountTypeFixedAmount:
		reduced := base.Sub(d.Value)
		if reduced.IsNegative() {
			return 0
		}
		return reduced.Round(0).IntPart()
	default:
		return price
	}
}

// BestPrice выбирает наименьшую цену среди активных скидок.
// Возвращает nil, если ни одна скидка не действует.
func BestPrice(price int64, discounts []Discount, now time.Time) (int64, *Discount) {
	best := price
	var applied *Discount
	for i := range discounts {
		if !discounts[i].ActiveAt(now) {
			continue
		}
		if p := discounts[i].EffectivePrice(price); applied == nil || p < best {
			best = p
			applied = &discounts[i]
		}
	}
	return best, applied
}
