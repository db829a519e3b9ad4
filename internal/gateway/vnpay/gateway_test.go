package vnpay

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

func newTestGateway(t *testing.T, mutate ...func(*Config)) *Gateway {
	t.Helper()

	cfg := DefaultConfig()
	cfg.TmnCode = "TESTTMN1"
	cfg.SecureSecret = "TESTSECRETTESTSECRETTESTSECRET12"
	for _, m := range mutate {
		m(&cfg)
	}
	g, err := New(cfg, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return g
}

func paymentQuery(t *testing.T, g *Gateway, req PaymentRequest) url.Values {
	t.Helper()

	link, err := g.CreatePaymentURL(req)
	require.NoError(t, err)
	parsed, err := url.Parse(link.URL)
	require.NoError(t, err)
	return parsed.Query()
}

// signedCallback имитирует ответ шлюза: подписывает набор параметров секретом мерчанта.
func signedCallback(g *Gateway, params map[string]string) url.Values {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set(paramSecureHash, g.signer.sign(canonicalQuery(q)))
	return q
}

func successParams() map[string]string {
	return map[string]string{
		"vnp_TmnCode":           "TESTTMN1",
		"vnp_Amount":            "25000000",
		"vnp_BankCode":          "NCB",
		"vnp_BankTranNo":        "VNP14000001",
		"vnp_CardType":          "ATM",
		"vnp_OrderInfo":         "Thanh toan don hang order-1-1",
		"vnp_PayDate":           "20260504100500",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionNo":     "14000001",
		"vnp_TransactionStatus": "00",
		"vnp_TxnRef":            "order-1-1",
	}
}

func TestCreatePaymentURL_RoundTripVerifies(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	q := paymentQuery(t, g, PaymentRequest{
		TxnRef:    "order-1-1",
		Amount:    250000,
		OrderInfo: "Thanh toan don hang #1 & co",
		ClientIP:  "203.0.113.7",
	})

	require.Equal(t, "25000000", q.Get("vnp_Amount"))
	require.Equal(t, "order-1-1", q.Get("vnp_TxnRef"))
	require.Equal(t, "TESTTMN1", q.Get("vnp_TmnCode"))
	require.Equal(t, "203.0.113.7", q.Get("vnp_IpAddr"))
	require.Equal(t, "20260504100201", q.Get("vnp_CreateDate"))
	require.Equal(t, "20260505100201", q.Get("vnp_ExpireDate"))

	cb := g.VerifyReturnURL(q)
	require.True(t, cb.Verified, "self-issued url must verify")
	require.Equal(t, int64(250000), cb.Amount)
}

func TestCreatePaymentURL_ExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	link, err := g.CreatePaymentURL(PaymentRequest{TxnRef: "order-2-1", Amount: 1000})
	require.NoError(t, err)
	require.Equal(t, fixedNow.Add(24*time.Hour), link.ExpiresAt)
	require.True(t, strings.HasPrefix(link.URL, SandboxHost+DefaultPaymentPath+"?"))
}

func TestCreatePaymentURL_RejectsBadInput(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	_, err := g.CreatePaymentURL(PaymentRequest{TxnRef: "", Amount: 1000})
	require.Error(t, err)
	_, err = g.CreatePaymentURL(PaymentRequest{TxnRef: "x", Amount: 0})
	require.Error(t, err)
}

func TestVerifyIPN_Success(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	cb := g.VerifyIPN(signedCallback(g, successParams()))

	require.True(t, cb.Verified)
	require.True(t, cb.Success)
	require.Equal(t, "order-1-1", cb.TxnRef)
	require.Equal(t, int64(250000), cb.Amount)
	require.Equal(t, "14000001", cb.TransactionNo)
	require.Equal(t, "NCB", cb.BankCode)
}

func TestVerifyIPN_FailureCode(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	params := successParams()
	params["vnp_ResponseCode"] = "24"
	params["vnp_TransactionStatus"] = "02"

	cb := g.VerifyIPN(signedCallback(g, params))
	require.True(t, cb.Verified)
	require.False(t, cb.Success)
	require.Equal(t, ResponseMessage("24"), cb.Message)
}

func TestVerifyIPN_TamperingAnySingleParameterFails(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	valid := signedCallback(g, successParams())
	require.True(t, g.VerifyIPN(valid).Verified)

	for key := range successParams() {
		key := key
		t.Run(key, func(t *testing.T) {
			tampered := url.Values{}
			for k, v := range valid {
				tampered[k] = append([]string(nil), v...)
			}
			tampered.Set(key, valid.Get(key)+"1")

			require.False(t, g.VerifyIPN(tampered).Verified)
			require.False(t, g.VerifyReturnURL(tampered).Verified)
		})
	}
}

func TestVerifyIPN_HashCaseAndHashTypeIgnored(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	q := signedCallback(g, successParams())
	q.Set(paramSecureHash, strings.ToUpper(q.Get(paramSecureHash)))
	q.Set(paramSecureHashType, "HmacSHA512")
	q.Set("utm_source", "newsletter")

	require.True(t, g.VerifyIPN(q).Verified)
}

func TestVerifyIPN_RejectsMissingOrForeignSignature(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	q := signedCallback(g, successParams())
	q.Del(paramSecureHash)
	require.False(t, g.VerifyIPN(q).Verified)

	other := newTestGateway(t, func(c *Config) { c.SecureSecret = "ANOTHERSECRETANOTHERSECRET123456" })
	require.False(t, g.VerifyIPN(signedCallback(other, successParams())).Verified)
}

func TestVerifyIPN_ForeignMerchantRejected(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t)
	params := successParams()
	params["vnp_TmnCode"] = "OTHERTMN"
	require.False(t, g.VerifyIPN(signedCallback(g, params)).Verified)
}

func TestHashAlgorithms(t *testing.T) {
	t.Parallel()

	for _, alg := range []HashAlgorithm{HashAlgorithmSHA512, HashAlgorithmSHA256, HashAlgorithmMD5} {
		alg := alg
		t.Run(string(alg), func(t *testing.T) {
			g := newTestGateway(t, func(c *Config) { c.HashAlgorithm = alg })
			q := paymentQuery(t, g, PaymentRequest{TxnRef: "order-3-1", Amount: 50000})
			require.True(t, g.VerifyReturnURL(q).Verified)
		})
	}

	_, err := New(Config{TmnCode: "A", SecureSecret: "B", Host: SandboxHost, PaymentPath: DefaultPaymentPath,
		ReturnURL: "http://localhost/return", TestMode: true, HashAlgorithm: "CRC32"})
	require.Error(t, err)
}

func TestConfigValidate_ProductionRejectsSandboxCredentials(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TestMode = false
	require.Error(t, cfg.Validate())

	cfg.TmnCode = "LIVE0001"
	cfg.SecureSecret = "LIVESECRETLIVESECRETLIVESECRET12"
	require.NoError(t, cfg.Validate())
}

func TestCanonicalQuery_SortsAndSkipsHashFields(t *testing.T) {
	t.Parallel()

	q := url.Values{}
	q.Set("vnp_TxnRef", "b")
	q.Set("vnp_Amount", "100")
	q.Set("vnp_OrderInfo", "a b")
	q.Set("vnp_BankCode", "")
	q.Set(paramSecureHash, "ff")
	q.Set("other", "x")

	require.Equal(t, "vnp_Amount=100&vnp_OrderInfo=a+b&vnp_TxnRef=b", canonicalQuery(q))
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	got, err := parseAmount("25000000")
	require.NoError(t, err)
	require.Equal(t, int64(250000), got)

	_, err = parseAmount("12345")
	require.Error(t, err)
	_, err = parseAmount("")
	require.Error(t, err)
}
