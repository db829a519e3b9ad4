package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

type lineRequest struct {
	VariantID string `json:"variantId"`
	Quantity  int64  `json:"quantity"`
	Price     *int64 `json:"price"`
}

type createOrderRequest struct {
	TotalPrice *int64        `json:"totalPrice"`
	Details    []lineRequest `json:"details"`
}

func (r createOrderRequest) input(userID string) fulfillment.CreateOrderInput {
	lines := make([]fulfillment.LineInput, 0, len(r.Details))
	for _, d := range r.Details {
		lines = append(lines, fulfillment.LineInput{VariantID: d.VariantID, Quantity: d.Quantity, Price: d.Price})
	}
	return fulfillment.CreateOrderInput{UserID: userID, TotalPrice: r.TotalPrice, Lines: lines}
}

type checkoutRequest struct {
	createOrderRequest
	BankCode string `json:"bankCode"`
	Locale   string `json:"locale"`
}

type createPaymentRequest struct {
	OrderID  string `json:"orderId" binding:"required"`
	Amount   int64  `json:"amount"`
	BankCode string `json:"bankCode"`
	Locale   string `json:"locale"`
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

type adjustStockRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

type resolveReconciliationRequest struct {
	Note string `json:"note"`
}

type orderLineResponse struct {
	ID        string `json:"id"`
	ProductID string `json:"productId,omitempty"`
	VariantID string `json:"variantId"`
	SKU       string `json:"sku,omitempty"`
	Quantity  int64  `json:"quantity"`
	Price     int64  `json:"price"`
	Subtotal  int64  `json:"subtotal"`
}

type orderResponse struct {
	ID         string              `json:"id"`
	UserID     string              `json:"userId"`
	TotalPrice int64               `json:"totalPrice"`
	Status     domain.OrderStatus  `json:"status"`
	Details    []orderLineResponse `json:"details"`
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

func toOrderResponse(o domain.Order) orderResponse {
	lines := make([]orderLineResponse, 0, len(o.Details))
	for _, d := range o.Details {
		lines = append(lines, orderLineResponse{
			ID:        d.ID,
			ProductID: d.ProductID,
			VariantID: d.VariantID,
			SKU:       d.SKU,
			Quantity:  d.Quantity,
			Price:     d.Price,
			Subtotal:  d.Subtotal(),
		})
	}
	return orderResponse{
		ID:         o.ID,
		UserID:     o.UserID,
		TotalPrice: o.TotalPrice,
		Status:     o.Status,
		Details:    lines,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

type paymentResponse struct {
	ID                     string               `json:"id"`
	OrderID                string               `json:"orderId"`
	Amount                 int64                `json:"amount"`
	Method                 domain.PaymentMethod `json:"method"`
	Status                 domain.PaymentStatus `json:"status"`
	TxnRef                 string               `json:"txnRef"`
	Attempt                int                  `json:"attempt"`
	TransactionNo          string               `json:"transactionNo,omitempty"`
	BankCode               string               `json:"bankCode,omitempty"`
	ResponseCode           string               `json:"responseCode,omitempty"`
	ReconciliationRequired bool                 `json:"reconciliationRequired"`
	ReconciledAt           *time.Time           `json:"reconciledAt,omitempty"`
	ExpiresAt              time.Time            `json:"expiresAt"`
	PaidAt                 *time.Time           `json:"paidAt,omitempty"`
	CreatedAt              time.Time            `json:"createdAt"`
}

func toPaymentResponse(p domain.Payment) paymentResponse {
	resp := paymentResponse{
		ID:                     p.ID,
		OrderID:                p.OrderID,
		Amount:                 p.Amount,
		Method:                 p.Method,
		Status:                 p.Status,
		TxnRef:                 p.TxnRef,
		Attempt:                p.Attempt,
		TransactionNo:          p.GatewayTransactionNo,
		BankCode:               p.BankCode,
		ResponseCode:           p.ResponseCode,
		ReconciliationRequired: p.ReconciliationRequired,
		ExpiresAt:              p.ExpiresAt,
		CreatedAt:              p.CreatedAt,
	}
	if !p.PaidAt.IsZero() {
		paid := p.PaidAt
		resp.PaidAt = &paid
	}
	if !p.ReconciledAt.IsZero() {
		reconciled := p.ReconciledAt
		resp.ReconciledAt = &reconciled
	}
	return resp
}

type paymentSessionResponse struct {
	PaymentURL string          `json:"paymentUrl"`
	ExpiresAt  time.Time       `json:"expiresAt"`
	Payment    paymentResponse `json:"payment"`
}

func toSessionResponse(s fulfillment.PaymentSession) paymentSessionResponse {
	return paymentSessionResponse{
		PaymentURL: s.PaymentURL,
		ExpiresAt:  s.ExpiresAt,
		Payment:    toPaymentResponse(s.Payment),
	}
}

type timelineEventResponse struct {
	Type       string    `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type stockResponse struct {
	ProductID    string `json:"productId"`
	VariantID    string `json:"variantId"`
	Delta        int64  `json:"delta"`
	Before       int64  `json:"before"`
	After        int64  `json:"after"`
	ProductStock int64  `json:"productStock"`
}

type discountResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

type priceResponse struct {
	ProductID  string            `json:"productId"`
	VariantID  string            `json:"variantId"`
	BasePrice  int64             `json:"basePrice"`
	FinalPrice int64             `json:"finalPrice"`
	Discount   *discountResponse `json:"discount,omitempty"`
	QuotedAt   time.Time         `json:"quotedAt"`
}

func toPriceResponse(q pricing.Quote) priceResponse {
	resp := priceResponse{
		ProductID:  q.ProductID,
		VariantID:  q.VariantID,
		BasePrice:  q.BasePrice,
		FinalPrice: q.FinalPrice,
		QuotedAt:   q.QuotedAt,
	}
	if q.Discount != nil {
		resp.Discount = &discountResponse{
			ID:    q.Discount.ID,
			Name:  q.Discount.Name,
			Type:  string(q.Discount.Type),
			Value: q.Discount.Value.String(),
		}
	}
	return resp
}
