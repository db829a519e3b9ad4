package fulfillment

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

// PaymentGateway — то, что оркестратору нужно от платёжного шлюза.
type PaymentGateway interface {
	CreatePaymentURL(req vnpay.PaymentRequest) (vnpay.PaymentLink, error)
	VerifyIPN(query url.Values) domain.GatewayCallback
	VerifyReturnURL(query url.Values) domain.GatewayCallback
}

// PriceQuoter считает серверную цену варианта.
type PriceQuoter interface {
	QuoteFor(ctx context.Context, variant domain.ProductVariant) (pricing.Quote, error)
	QuoteVariant(ctx context.Context, productID, variantID string) (pricing.Quote, error)
}

// Dependencies — коллабораторы оркестратора; все обязательны.
type Dependencies struct {
	Tx       domain.TxManager
	Orders   domain.OrderRepository
	Payments domain.PaymentRepository
	Catalog  domain.CatalogRepository
	Stock    domain.StockLedger
	Outbox   domain.OutboxRepository
	Timeline domain.TimelineRepository
	Pricing  PriceQuoter
	Gateway  PaymentGateway
}

func (d Dependencies) validate() error {
	switch {
	case d.Tx == nil:
		return errors.New("fulfillment: tx manager is required")
	case d.Orders == nil:
		return errors.New("fulfillment: order repository is required")
	case d.Payments == nil:
		return errors.New("fulfillment: payment repository is required")
	case d.Catalog == nil:
		return errors.New("fulfillment: catalog repository is required")
	case d.Stock == nil:
		return errors.New("fulfillment: stock ledger is required")
	case d.Outbox == nil:
		return errors.New("fulfillment: outbox repository is required")
	case d.Timeline == nil:
		return errors.New("fulfillment: timeline repository is required")
	case d.Pricing == nil:
		return errors.New("fulfillment: price quoter is required")
	case d.Gateway == nil:
		return errors.New("fulfillment: payment gateway is required")
	}
	return nil
}

// Actor — аутентифицированный инициатор запроса.
type Actor struct {
	UserID string
	Admin  bool
}

func (a Actor) owns(order domain.Order) bool {
	return a.Admin || (a.UserID != "" && a.UserID == order.UserID)
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает запись метрик.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFrontendURL задаёт базовый адрес витрины для redirect после оплаты.
func WithFrontendURL(base string) Option {
	return func(s *Service) {
		s.frontendURL = base
	}
}

// WithApplyOnReturn разрешает применять оплату по браузерному redirect-у,
// когда IPN не может достучаться до сервиса (песочница, локальный запуск).
func WithApplyOnReturn(enabled bool) Option {
	return func(s *Service) {
		s.applyOnReturn = enabled
	}
}

// Service — Order Fulfillment Orchestrator: заказы, попытки оплаты, callback-и шлюза и списание остатков.
type Service struct {
	tx       domain.TxManager
	orders   domain.OrderRepository
	payments domain.PaymentRepository
	catalog  domain.CatalogRepository
	stock    domain.StockLedger
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	pricing  PriceQuoter
	gateway  PaymentGateway

	logger        *log.Entry
	metrics       *metrics.FulfillmentMetrics
	now           func() time.Time
	newID         func() string
	frontendURL   string
	applyOnReturn bool
}

// New собирает оркестратор из явно переданных зависимостей.
func New(deps Dependencies, opts ...Option) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	s := &Service{
		tx:          deps.Tx,
		orders:      deps.Orders,
		payments:    deps.Payments,
		catalog:     deps.Catalog,
		stock:       deps.Stock,
		outbox:      deps.Outbox,
		timeline:    deps.Timeline,
		pricing:     deps.Pricing,
		gateway:     deps.Gateway,
		logger:      log.WithField("component", "fulfillment"),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		frontendURL: "http://localhost:3000",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}
