// Package auth превращает bearer-токены в domain.Principal.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultTTL — срок жизни токенов, которые выпускает GenerateToken.
const DefaultTTL = 2 * time.Hour

const issuer = "storefront"

// Claims — полезная нагрузка JWT.
type Claims struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Principal возвращает пользователя, от имени которого выпущен токен.
func (c *Claims) Principal() domain.Principal {
	role := c.Role
	if role != domain.RoleAdmin {
		role = domain.RoleUser
	}
	return domain.Principal{ID: c.UserID, Role: role}
}

// Tokens выпускает и проверяет HS256-токены общим секретом.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens создаёт обработчик токенов. ttl <= 0 заменяется на DefaultTTL.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// GenerateToken выпускает токен для пользователя. Используется в тестах и
// локальной разработке: выдачей токенов занимается внешний сервис.
func (t *Tokens) GenerateToken(principal domain.Principal) (string, error) {
	if principal.ID == "" {
		return "", domain.ErrUserRequired
	}
	now := t.now()
	claims := Claims{
		UserID: principal.ID,
		Role:   principal.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken проверяет подпись и срок действия токена.
func (t *Tokens) ParseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, jwt.ErrTokenInvalidClaims)
	}
	return claims, nil
}

// PrincipalFromHeader разбирает заголовок Authorization вида "Bearer <token>".
func (t *Tokens) PrincipalFromHeader(header string) (domain.Principal, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return domain.Principal{}, fmt.Errorf("%w: expected bearer token", domain.ErrUnauthenticated)
	}

	claims, err := t.ParseToken(strings.TrimSpace(token))
	if err != nil {
		return domain.Principal{}, err
	}
	return claims.Principal(), nil
}

// IsExpired сообщает, что токен отклонён по сроку действия.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
