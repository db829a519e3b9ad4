package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultTTL — сколько хранится ответ на запрос с Idempotency-Key.
const DefaultTTL = 24 * time.Hour

// ErrRequestInFlight — запрос с тем же ключом ещё обрабатывается.
var ErrRequestInFlight = errors.New("request with this idempotency key is still in progress")

// Decision — результат Begin: либо выполнять запрос, либо вернуть сохранённый ответ.
type Decision struct {
	Replay bool
	Record domain.IdempotencyRecord
}

// Guard оборачивает IdempotencyRepository протоколом begin/complete для мутирующих запросов.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard; ttl <= 0 означает DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// HashRequest считает отпечаток запроса: scope (метод и маршрут), пользователь и тело.
func HashRequest(scope, userID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin занимает ключ. Повтор завершённого запроса возвращает Replay с сохранённым ответом;
// тот же ключ с другим телом даёт domain.ErrIdempotencyHashMismatch.
func (g *Guard) Begin(ctx context.Context, key, requestHash string) (Decision, error) {
	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	switch {
	case err == nil:
		return Decision{Record: record}, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return Decision{}, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Status == domain.IdempotencyStatusProcessing {
			return Decision{}, ErrRequestInFlight
		}
		return Decision{Replay: true, Record: record}, nil
	default:
		return Decision{}, err
	}
}

// Complete сохраняет ответ; 5xx помечается как failed, остальные статусы как done.
func (g *Guard) Complete(ctx context.Context, key string, status int, body []byte) {
	var err error
	if status >= http.StatusInternalServerError {
		err = g.repo.MarkFailed(ctx, key, body, status)
	} else {
		err = g.repo.MarkDone(ctx, key, body, status)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}
