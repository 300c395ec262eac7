package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const operatorContextKey = "operator"

// OperatorClaims содержит claims токена оператора колл-центра.
type OperatorClaims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// Authenticator выпускает и проверяет HS256-токены операторов.
// С пустым секретом проверка выключена.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator создаёт Authenticator с секретом подписи.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(strings.TrimSpace(secret)), now: time.Now}
}

// Enabled сообщает, включена ли проверка токенов.
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// IssueToken выпускает токен оператора со сроком жизни ttl.
func (a *Authenticator) IssueToken(operator string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("jwt secret is not configured")
	}
	now := a.now()
	claims := OperatorClaims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "codconfirm",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate разбирает токен и возвращает claims.
func (a *Authenticator) Validate(token string) (*OperatorClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &OperatorClaims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*OperatorClaims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

// Middleware требует bearer-токен, если проверка включена.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !a.Enabled() {
				return next(c)
			}
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				return unauthorized(c, "missing authentication token")
			}
			claims, err := a.Validate(strings.TrimSpace(token))
			if err != nil {
				return unauthorized(c, "invalid or expired token")
			}
			c.Set(operatorContextKey, claims.Operator)
			return next(c)
		}
	}
}

func unauthorized(c echo.Context, message string) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="codconfirm"`)
	return c.JSON(http.StatusUnauthorized, ErrorResponse{Code: http.StatusUnauthorized, Message: message})
}

func operatorFrom(c echo.Context) string {
	operator, _ := c.Get(operatorContextKey).(string)
	return operator
}
