package domain

// GatewayCallback — разобранный и проверенный callback платёжного шлюза (return URL или IPN).
type GatewayCallback struct {
	// Verified — подпись сошлась; при false остальным полям доверять нельзя.
	Verified bool
	// Success — шлюз сообщил об успешной оплате.
	Success bool
	TxnRef  string
	// Amount в донгах (шлюз присылает значение, умноженное на 100).
	Amount            int64
	ResponseCode      string
	TransactionStatus string
	TransactionNo     string
	BankCode          string
	PayDate           string
	Message           string
}
