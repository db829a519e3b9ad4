package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

// Машинные коды ошибок в ответах API.
const (
	codeValidation        = "validation_error"
	codeUnauthorized      = "unauthorized"
	codeForbidden         = "forbidden"
	codeNotFound          = "not_found"
	codeConflict          = "conflict"
	codeInsufficientStock = "insufficient_stock"
	codeIdempotency       = "idempotency_key_reused"
	codeRateLimited       = "rate_limited"
	codeInternal          = "internal_error"
)

// errorBody — единый формат ошибки.
type errorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// classify сопоставляет ошибку HTTP-статусу и коду ответа.
func classify(err error) (int, string) {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.Is(err, auth.ErrTokenMissing), errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case errors.As(err, &stockErr), errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusBadRequest, codeInsufficientStock
	case domain.IsValidation(err):
		return http.StatusBadRequest, codeValidation
	case domain.IsNotFound(err):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity, codeIdempotency
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrPaymentInProgress),
		errors.Is(err, domain.ErrOrderAlreadyPaid),
		errors.Is(err, domain.ErrOrderNotPayable),
		errors.Is(err, domain.ErrNothingToReconcile),
		errors.Is(err, idempotency.ErrRequestInFlight):
		return http.StatusConflict, codeConflict
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// writeError отвечает ошибкой; внутренние ошибки логируются, а клиенту уходит общее сообщение.
func writeError(c *gin.Context, logger *log.Entry, err error) {
	status, code := classify(err)
	body := errorBody{Status: "error", Code: code, Message: err.Error()}

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}

	if status == http.StatusInternalServerError {
		logger.WithError(err).WithFields(log.Fields{
			"method":     c.Request.Method,
			"route":      c.FullPath(),
			"request_id": c.GetString(ctxRequestID),
		}).Error("request failed")
		body.Message = "internal server error"
	}
	c.AbortWithStatusJSON(status, body)
}

func abortWith(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{Status: "error", Code: code, Message: message})
}

// success — конверт успешного ответа.
func success(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"status": "success", "data": data})
}
