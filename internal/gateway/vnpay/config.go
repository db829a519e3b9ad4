package vnpay

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// HashAlgorithm — алгоритм HMAC для подписи запросов.
type HashAlgorithm string

const (
	HashAlgorithmSHA512 HashAlgorithm = "SHA512"
	HashAlgorithmSHA256 HashAlgorithm = "SHA256"
	HashAlgorithmMD5    HashAlgorithm = "MD5"
)

const (
	SandboxHost = "https://sandbox.vnpayment.vn"
	DefaultPaymentPath = "/paymentv2/vpcpay.html"
	DefaultVersion = "2.1.0"
	// Срок жизни ссылки на оплату (vnp_ExpireDate).
	DefaultURLTTL = 24 * time.Hour

	sandboxTmnCode = "STOREDEV"
	sandboxSecret  = "SANDBOXSECRETKEYFORLOCALDEVONLY0"
)

// Config — настройки мерчанта VNPay.
type Config struct {
	TmnCode       string
	SecureSecret  string
	Host          string
	PaymentPath   string
	ReturnURL     string
	TestMode      bool
	HashAlgorithm HashAlgorithm
	Locale        string
	Version       string
	URLTTL        time.Duration
}

// DefaultConfig возвращает sandbox-настройки; годится только для разработки.
func DefaultConfig() Config {
	return Config{
		TmnCode:       sandboxTmnCode,
		SecureSecret:  sandboxSecret,
		Host:          SandboxHost,
		PaymentPath:   DefaultPaymentPath,
		ReturnURL:     "http://localhost:8080/api/payment/vnpay_return",
		TestMode:      true,
		HashAlgorithm: HashAlgorithmSHA512,
		Locale:        "vn",
		Version:       DefaultVersion,
		URLTTL:        DefaultURLTTL,
	}
}

// UsesSandboxCredentials сообщает, что мерчант не переопределён.
func (c Config) UsesSandboxCredentials() bool {
	return c.TmnCode == sandboxTmnCode || c.SecureSecret == sandboxSecret
}

// PaymentURL возвращает полный адрес платёжной страницы без параметров.
func (c Config) PaymentURL() string {
	return strings.TrimRight(c.Host, "/") + "/" + strings.TrimLeft(c.PaymentPath, "/")
}

// Validate проверяет обязательные поля; в боевом режиме sandbox-ключи запрещены.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.TmnCode) == "" {
		errs = append(errs, errors.New("vnpay: tmn code is required"))
	}
	if strings.TrimSpace(c.SecureSecret) == "" {
		errs = append(errs, errors.New("vnpay: secure secret is required"))
	}
	if _, err := url.ParseRequestURI(c.PaymentURL()); err != nil {
		errs = append(errs, fmt.Errorf("vnpay: invalid payment url: %w", err))
	}
	if _, err := url.ParseRequestURI(c.ReturnURL); err != nil {
		errs = append(errs, fmt.Errorf("vnpay: invalid return url: %w", err))
	}
	if _, err := hashFunc(c.HashAlgorithm); err != nil {
		errs = append(errs, err)
	}
	if !c.TestMode && c.UsesSandboxCredentials() {
		errs = append(errs, errors.New("vnpay: sandbox credentials are not allowed in production mode"))
	}
	return errors.Join(errs...)
}
