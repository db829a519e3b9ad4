package vnpay

// IpnAck — тело ответа на IPN; шлюз повторяет доставку, пока не получит RspCode "00".
type IpnAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

var (
	IpnSuccess          = IpnAck{RspCode: "00", Message: "Confirm Success"}
	IpnOrderNotFound    = IpnAck{RspCode: "01", Message: "Order not found"}
	IpnAlreadyConfirmed = IpnAck{RspCode: "02", Message: "Order already confirmed"}
	IpnInvalidAmount    = IpnAck{RspCode: "04", Message: "Invalid amount"}
	IpnFailChecksum     = IpnAck{RspCode: "97", Message: "Invalid Checksum"}
	IpnUnknownError     = IpnAck{RspCode: "99", Message: "Unknown error"}
)

// ResponseCodeSuccess — vnp_ResponseCode / vnp_TransactionStatus успешной оплаты.
const ResponseCodeSuccess = "00"

// ResponseCodeInvalidSignature передаётся на страницу ошибки, если подпись не сошлась.
const ResponseCodeInvalidSignature = "97"

var responseMessages = map[string]string{
	"00": "Transaction successful",
	"07": "Amount deducted, transaction flagged as suspicious",
	"09": "Card or account is not registered for internet banking",
	"10": "Card or account authentication failed more than 3 times",
	"11": "Payment window expired",
	"12": "Card or account is locked",
	"13": "Incorrect one-time password",
	"24": "Transaction cancelled by customer",
	"51": "Insufficient account balance",
	"65": "Daily transaction limit exceeded",
	"75": "Bank is under maintenance",
	"79": "Payment password entered incorrectly too many times",
	"97": "Invalid signature",
	"99": "Unknown error",
}

// ResponseMessage возвращает описание кода ответа шлюза.
func ResponseMessage(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return "Payment failed"
}
