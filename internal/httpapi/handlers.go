package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

// OrderService — операции оркестратора, которые отдаёт REST API.
type OrderService interface {
	CreateOrder(ctx context.Context, in fulfillment.CreateOrderInput) (domain.Order, error)
	Checkout(ctx context.Context, in fulfillment.CheckoutInput) (fulfillment.CheckoutResult, error)
	GetOrder(ctx context.Context, actor fulfillment.Actor, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	Timeline(ctx context.Context, actor fulfillment.Actor, orderID string) ([]domain.TimelineEvent, error)
	UpdateOrderStatus(ctx context.Context, actor fulfillment.Actor, orderID string, next domain.OrderStatus, reason string) (domain.Order, error)
	CreatePaymentURL(ctx context.Context, in fulfillment.PaymentURLInput) (fulfillment.PaymentSession, error)
	GetPaymentByOrder(ctx context.Context, actor fulfillment.Actor, orderID string) (domain.Payment, error)
	HandleIPN(ctx context.Context, query url.Values) vnpay.IpnAck
	HandleReturn(ctx context.Context, query url.Values) fulfillment.ReturnRedirect
	AdjustStock(ctx context.Context, productID, variantID string, delta int64, reason string) (domain.StockAdjustment, error)
	ResolveReconciliation(ctx context.Context, txnRef, note string) (domain.Payment, error)
	QuotePrice(ctx context.Context, productID, variantID string) (pricing.Quote, error)
}

type handler struct {
	svc    OrderService
	logger *log.Entry
}

func (h *handler) bind(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, h.logger, domain.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

func (h *handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if !h.bind(c, &req) {
		return
	}

	order, err := h.svc.CreateOrder(c.Request.Context(), req.input(actorFrom(c).UserID))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	success(c, http.StatusCreated, toOrderResponse(order))
}

func (h *handler) checkout(c *gin.Context) {
	var req checkoutRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.svc.Checkout(c.Request.Context(), fulfillment.CheckoutInput{
		Order:    req.input(actorFrom(c).UserID),
		ClientIP: c.ClientIP(),
		BankCode: req.BankCode,
		Locale:   req.Locale,
	})
	if err != nil {
		if result.Order.ID != "" {
			// Заказ создан, но ссылку получить не удалось: клиент может запросить оплату повторно.
			h.logger.WithError(err).WithField("order_id", result.Order.ID).Warn("checkout left order without payment url")
		}
		writeError(c, h.logger, err)
		return
	}
	success(c, http.StatusCreated, gin.H{
		"order":   toOrderResponse(result.Order),
		"payment": toSessionResponse(result.Session),
	})
}

func (h *handler) listOrders(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, h.logger, domain.NewValidationError("limit", "must be a non-negative integer"))
			return
		}
		limit = n
	}

	orders, err := h.svc.ListOrders(c.Request.Context(), actorFrom(c).UserID, limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	success(c, http.StatusOK, resp)
}

func (h *handler) getOrder(c *gin.Context) {
	order, err := h.svc.GetOrder(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK, toOrderResponse(order))
}

func (h *handler) orderTimeline(c *gin.Context) {
	events, err := h.svc.Timeline(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, timelineEventResponse{Type: e.Type, Reason: e.Reason, OccurredAt: e.Occurred})
	}
	success(c, http.StatusOK, resp)
}

func (h *handler) updateOrderStatus(c *gin.Context) {
	var req updateStatusRequest
	if !h.bind(c, &req) {
		return
	}
	next, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	order, err := h.svc.UpdateOrderStatus(c.Request.Context(), actorFrom(c), c.Param("id"), next, req.Reason)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK, toOrderResponse(order))
}

func (h *handler) createPayment(c *gin.Context) {
	var req createPaymentRequest
	if !h.bind(c, &req) {
		return
	}

	session, err := h.svc.CreatePaymentURL(c.Request.Context(), fulfillment.PaymentURLInput{
		Actor:    actorFrom(c),
		OrderID:  req.OrderID,
		Amount:   req.Amount,
		ClientIP: c.ClientIP(),
		BankCode: req.BankCode,
		Locale:   req.Locale,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK, toSessionResponse(session))
}

func (h *handler) paymentByOrder(c *gin.Context) {
	payment, err := h.svc.GetPaymentByOrder(c.Request.Context(), actorFrom(c), c.Param("orderId"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK, toPaymentResponse(payment))
}

// vnpayReturn всегда отвечает redirect-ом на страницу результата витрины.
func (h *handler) vnpayReturn(c *gin.Context) {
	redirect := h.svc.HandleReturn(c.Request.Context(), c.Request.URL.Query())
	c.Redirect(http.StatusFound, redirect.URL)
}

// vnpayIPN всегда отвечает 200: шлюз смотрит только на RspCode в теле.
func (h *handler) vnpayIPN(c *gin.Context) {
	ack := h.svc.HandleIPN(c.Request.Context(), c.Request.URL.Query())
	c.JSON(http.StatusOK, ack)
}

func (h *handler) adjustStock(c *gin.Context) {
	var req adjustStockRequest
	if !h.bind(c, &req) {
		return
	}

	adj, err := h.svc.AdjustStock(c.Request.Context(), c.Param("productId"), c.Param("variantId"), req.Delta, req.Reason)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK, stockResponse{
		ProductID:    adj.ProductID,
		VariantID:    adj.VariantID,
		Delta:        adj.Delta,
		Before:       adj.Before,
		After:        adj.After,
		ProductStock: adj.ProductStock,
	})
}

// resolveReconciliation снимает флаг ручной сверки после разбора оператором.
func (h *handler) resolveReconciliation(c *gin.Context) {
	var req resolveReconciliationRequest
	if !h.bind(c, &req) {
		return
	}

	payment, err := h.svc.ResolveReconciliation(c.Request.Context(), c.Param("txnRef"), req.Note)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK, toPaymentResponse(payment))
}

func (h *handler) variantPrice(c *gin.Context) {
	quote, err := h.svc.QuotePrice(c.Request.Context(), c.Param("productId"), c.Param("variantId"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK, toPriceResponse(quote))
}
