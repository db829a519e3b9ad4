package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/cache"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

// Ключи gin.Context.
const (
	ctxRequestID = "request_id"
	ctxIdentity  = "identity"
)

const (
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20
)

// TokenVerifier проверяет Bearer-токен.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// RequestID проставляет X-Request-ID, если клиент его не передал.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// RequestLogger пишет одну строку на запрос через logrus.
func RequestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString(ctxRequestID),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("http request")
		case status >= http.StatusBadRequest:
			entry.Warn("http request")
		default:
			entry.Info("http request")
		}
	}
}

// Metrics записывает счётчик и длительность запросов по шаблону маршрута.
func Metrics(m *metrics.FulfillmentMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// AuthRequired проверяет Bearer-токен и кладёт Identity в контекст.
func AuthRequired(verifier TokenVerifier, logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.Verify(auth.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			if !errors.Is(err, auth.ErrTokenMissing) {
				logger.WithError(err).WithField("request_id", c.GetString(ctxRequestID)).Debug("token rejected")
			}
			abortWith(c, http.StatusUnauthorized, codeUnauthorized, "invalid or missing bearer token")
			return
		}
		c.Set(ctxIdentity, identity)
		c.Next()
	}
}

// AdminRequired пропускает только администраторов; ставится после AuthRequired.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := identityFrom(c)
		if !ok || !identity.IsAdmin() {
			abortWith(c, http.StatusForbidden, codeForbidden, "admin role required")
			return
		}
		c.Next()
	}
}

// RateLimit ограничивает частоту запросов по пользователю, а для анонимных по IP.
// Недоступный limiter запрос не блокирует.
func RateLimit(limiter cache.RateLimiter, scope string, limit int, window time.Duration, logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limit <= 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("%s:ip:%s", scope, c.ClientIP())
		if identity, ok := identityFrom(c); ok {
			key = fmt.Sprintf("%s:user:%s", scope, identity.UserID)
		}

		allowed, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			logger.WithError(err).WithField("scope", scope).Warn("rate limiter unavailable, request allowed")
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%.0f", window.Seconds()))
			abortWith(c, http.StatusTooManyRequests, codeRateLimited, "too many requests, retry later")
			return
		}
		c.Next()
	}
}

// bodyRecorder копирует тело ответа для сохранения под Idempotency-Key.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency сохраняет первый ответ на запрос с заголовком Idempotency-Key и отдаёт его на повторы.
// Ключ принадлежит пользователю; тот же ключ с другим телом даёт 422, параллельный повтор даёт 409.
func Idempotency(guard *idempotency.Guard, logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(headerIdempotencyKey)
		if guard == nil || key == "" {
			c.Next()
			return
		}
		if len(key) > 255 {
			writeError(c, logger, domain.NewValidationError(headerIdempotencyKey, "must be at most 255 characters"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			writeError(c, logger, domain.NewValidationError("body", "request body is too large or unreadable"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		identity, _ := identityFrom(c)
		scopedKey := identity.UserID + ":" + key
		hash := idempotency.HashRequest(c.Request.Method+" "+c.FullPath(), identity.UserID, body)

		decision, err := guard.Begin(c.Request.Context(), scopedKey, hash)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		if decision.Replay {
			c.Header(headerReplayed, "true")
			c.Data(decision.Record.HTTPStatus, "application/json; charset=utf-8", decision.Record.ResponseBody)
			c.Abort()
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		guard.Complete(c.Request.Context(), scopedKey, recorder.Status(), recorder.body.Bytes())
	}
}

func identityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(ctxIdentity)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := v.(auth.Identity)
	return identity, ok
}

func actorFrom(c *gin.Context) fulfillment.Actor {
	identity, _ := identityFrom(c)
	return fulfillment.Actor{UserID: identity.UserID, Admin: identity.IsAdmin()}
}
