package fulfillment

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

// AdjustStock — ручная корректировка остатка (поставка, инвентаризация) через Stock Ledger.
func (s *Service) AdjustStock(ctx context.Context, productID, variantID string, delta int64, reason string) (domain.StockAdjustment, error) {
	if strings.TrimSpace(variantID) == "" {
		return domain.StockAdjustment{}, domain.ErrVariantRequired
	}
	if reason == "" {
		reason = stockReasonManual
	}

	var adj domain.StockAdjustment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		adj, err = s.stock.UpdateStock(ctx, productID, variantID, delta)
		if err != nil {
			return err
		}
		return s.recordStock(ctx, adj, reason, "", s.now())
	})
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": productID,
		"variant_id": variantID,
		"delta":      delta,
		"after":      adj.After,
		"reason":     reason,
	}).Info("stock adjusted")
	return adj, nil
}

// QuotePrice возвращает текущую цену варианта с учётом скидок.
func (s *Service) QuotePrice(ctx context.Context, productID, variantID string) (pricing.Quote, error) {
	return s.pricing.QuoteVariant(ctx, productID, variantID)
}
