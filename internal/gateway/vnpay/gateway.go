package vnpay

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	dateLayout   = "20060102150405"
	currencyVND  = "VND"
	commandPay   = "pay"
	orderTypeAny = "other"
)

// В этом часовом поясе шлюз ожидает vnp_CreateDate/vnp_ExpireDate.
var vnpLocation = time.FixedZone("GMT+7", 7*60*60)

var amountScale = decimal.NewFromInt(100)

// PaymentRequest — данные одной попытки оплаты.
type PaymentRequest struct {
	TxnRef    string
	Amount    int64
	OrderInfo string
	ClientIP  string
	BankCode  string
	Locale    string
	CreatedAt time.Time
}

// PaymentLink содержит подписанную ссылку на платёжную страницу.
type PaymentLink struct {
	URL       string
	ExpiresAt time.Time
}

// Option настраивает Gateway.
type Option func(*Gateway)

// WithLogger задаёт logger адаптера.
func WithLogger(logger *log.Entry) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// Gateway — адаптер VNPay: строит ссылки на оплату и проверяет подписанные callback-и.
type Gateway struct {
	cfg    Config
	signer signer
	now    func() time.Time
	logger *log.Entry
}

// New создаёт адаптер; некорректная конфигурация даёт ошибку.
func New(cfg Config, options ...Option) (*Gateway, error) {
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = DefaultURLTTL
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := newSigner(cfg.SecureSecret, cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:    cfg,
		signer: s,
		now:    time.Now,
		logger: log.WithField("component", "vnpay"),
	}
	for _, option := range options {
		option(g)
	}

	if cfg.UsesSandboxCredentials() {
		g.logger.Warn("vnpay sandbox credentials in use: not suitable for production")
	}
	return g, nil
}

// URLTTL возвращает срок жизни ссылки на оплату.
func (g *Gateway) URLTTL() time.Duration {
	return g.cfg.URLTTL
}

// CreatePaymentURL строит подписанную ссылку с vnp_ExpireDate = vnp_CreateDate + URLTTL.
func (g *Gateway) CreatePaymentURL(req PaymentRequest) (PaymentLink, error) {
	if strings.TrimSpace(req.TxnRef) == "" {
		return PaymentLink{}, domain.ErrTxnRefRequired
	}
	if req.Amount <= 0 {
		return PaymentLink{}, domain.ErrPaymentAmountNegative
	}

	created := req.CreatedAt
	if created.IsZero() {
		created = g.now()
	}
	created = created.In(vnpLocation)
	expires := created.Add(g.cfg.URLTTL)

	locale := req.Locale
	if locale == "" {
		locale = g.cfg.Locale
	}
	orderInfo := req.OrderInfo
	if orderInfo == "" {
		orderInfo = "Thanh toan don hang " + req.TxnRef
	}
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	params := url.Values{}
	params.Set("vnp_Version", g.cfg.Version)
	params.Set("vnp_Command", commandPay)
	params.Set("vnp_TmnCode", g.cfg.TmnCode)
	params.Set("vnp_Locale", locale)
	params.Set("vnp_CurrCode", currencyVND)
	params.Set("vnp_TxnRef", req.TxnRef)
	params.Set("vnp_OrderInfo", orderInfo)
	params.Set("vnp_OrderType", orderTypeAny)
	params.Set("vnp_Amount", decimal.NewFromInt(req.Amount).Mul(amountScale).String())
	params.Set("vnp_ReturnUrl", g.cfg.ReturnURL)
	params.Set("vnp_IpAddr", clientIP)
	params.Set("vnp_CreateDate", created.Format(dateLayout))
	params.Set("vnp_ExpireDate", expires.Format(dateLayout))
	if req.BankCode != "" {
		params.Set("vnp_BankCode", req.BankCode)
	}

	signData := canonicalQuery(params)
	link := fmt.Sprintf("%s?%s&%s=%s", g.cfg.PaymentURL(), signData, paramSecureHash, g.signer.sign(signData))

	g.logger.WithFields(log.Fields{
		"txn_ref":    req.TxnRef,
		"amount":     req.Amount,
		"expires_at": expires.UTC().Format(time.RFC3339),
	}).Debug("payment url created")

	return PaymentLink{URL: link, ExpiresAt: expires.UTC()}, nil
}

// VerifyIPN проверяет server-to-server уведомление.
func (g *Gateway) VerifyIPN(query url.Values) domain.GatewayCallback {
	return g.verify(query, "ipn")
}

// VerifyReturnURL проверяет браузерный redirect; логика подписи та же, что у IPN.
func (g *Gateway) VerifyReturnURL(query url.Values) domain.GatewayCallback {
	return g.verify(query, "return")
}

func (g *Gateway) verify(query url.Values, channel string) domain.GatewayCallback {
	cb := domain.GatewayCallback{
		TxnRef:            query.Get("vnp_TxnRef"),
		ResponseCode:      query.Get("vnp_ResponseCode"),
		TransactionStatus: query.Get("vnp_TransactionStatus"),
		TransactionNo:     query.Get("vnp_TransactionNo"),
		BankCode:          query.Get("vnp_BankCode"),
		PayDate:           query.Get("vnp_PayDate"),
	}
	cb.Message = ResponseMessage(cb.ResponseCode)

	logger := g.logger.WithFields(log.Fields{"channel": channel, "txn_ref": cb.TxnRef})

	if !g.signer.verify(query) {
		logger.Warn("gateway callback rejected: checksum mismatch")
		cb.Message = ResponseMessage(ResponseCodeInvalidSignature)
		return cb
	}
	if tmn := query.Get("vnp_TmnCode"); tmn != "" && tmn != g.cfg.TmnCode {
		logger.WithField("tmn_code", tmn).Warn("gateway callback rejected: foreign merchant code")
		return cb
	}

	amount, err := parseAmount(query.Get("vnp_Amount"))
	if err != nil {
		logger.WithError(err).Warn("gateway callback rejected: malformed amount")
		return cb
	}

	cb.Verified = true
	cb.Amount = amount
	cb.Success = cb.ResponseCode == ResponseCodeSuccess &&
		(cb.TransactionStatus == "" || cb.TransactionStatus == ResponseCodeSuccess)
	return cb
}

// parseAmount переводит vnp_Amount (сумма * 100) обратно в донги.
func parseAmount(raw string) (int64, error) {
	if raw == "" {
		return 0, errors.New("vnp_Amount is missing")
	}
	scaled, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("parse vnp_Amount: %w", err)
	}
	amount := scaled.Div(amountScale)
	if !amount.IsInteger() {
		return 0, fmt.Errorf("vnp_Amount %s is not a whole VND amount", raw)
	}
	return amount.IntPart(), nil
}
