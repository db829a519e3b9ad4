package domain

import "time"

// Product — товар; Stock производное значение, сумма остатков вариантов.
type Product struct {
	ID        string
	Name      string
	Stock     int64
	UpdatedAt time.Time
}

// ProductVariant — складская единица товара.
type ProductVariant struct {
	ID            string
	ProductID     string
	SKU           string
	Color         string
	Size          string
	Price         int64
	StockQuantity int64
	UpdatedAt     time.Time
}

// ApplyDelta возвращает новый остаток или InsufficientStockError, не меняя вариант.
func (v ProductVariant) ApplyDelta(delta int64) (int64, error) {
	next := v.StockQuantity + delta
	if next < 0 {
		return v.StockQuantity, &InsufficientStockError{
			ProductID: v.ProductID,
			VariantID: v.ID,
			Available: v.StockQuantity,
			Requested: -delta,
		}
	}
	return next, nil
}

// StockAdjustment — результат одной корректировки остатка.
type StockAdjustment struct {
	ProductID    string
	VariantID    string
	Delta        int64
	Before       int64
	After        int64
	ProductStock int64
}
