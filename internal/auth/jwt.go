package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin разрешает административные операции (склад, статусы заказов).
const RoleAdmin = "admin"

var (
	// ErrTokenMissing: в запросе нет Bearer-токена.
	ErrTokenMissing = errors.New("auth: bearer token is missing")
	// ErrTokenInvalid — токен не прошёл проверку подписи, срока или обязательных claims.
	ErrTokenInvalid = errors.New("auth: invalid or expired token")
)

// Identity — пользователь, извлечённый из проверенного токена.
type Identity struct {
	UserID    string
	Role      string
	ExpiresAt time.Time
}

// IsAdmin сообщает, что пользователь имеет административную роль.
func (i Identity) IsAdmin() bool {
	return strings.EqualFold(i.Role, RoleAdmin)
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier подписывает и проверяет HS256 access-токены.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier создаёт Verifier; пустой секрет недопустим.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &Verifier{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// Sign выпускает токен для пользователя. Используется тестами и локальными утилитами;
// в проде токены выпускает внешний сервис аутентификации с тем же секретом.
func (v *Verifier) Sign(userID, role string, ttl time.Duration) (string, time.Time, error) {
	now := v.now()
	exp := now.Add(ttl)

	c := claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
	return signed, exp, err
}

// Verify проверяет подпись, срок действия и издателя, возвращает Identity.
func (v *Verifier) Verify(token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, ErrTokenMissing
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrTokenInvalid
	}
	sub, err := c.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, fmt.Errorf("%w: subject is missing", ErrTokenInvalid)
	}

	return Identity{UserID: sub, Role: c.Role, ExpiresAt: c.ExpiresAt.Time}, nil
}

// BearerToken достаёт токен из заголовка Authorization.
func BearerToken(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
