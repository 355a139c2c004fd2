// auth.go — JWT middleware локальной аутентификации.
// Токены выпускаются самим сервисом (HS256, WM_SECRET_KEY) на /auth/login
// и проверяются на всех остальных endpoints.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/arturkryukov/wgmik/internal/api/errors"
	"github.com/arturkryukov/wgmik/internal/domain/model"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyClaims — извлечённые claims в контексте запроса.
const ContextKeyClaims contextKey = "jwt_claims"

// AuthClaims — данные аутентифицированного пользователя.
// Помещаются в контекст запроса для downstream handlers.
type AuthClaims struct {
	UserID   string
	Username string
	IsAdmin  bool
}

// tokenClaims — claims в выпускаемом JWT.
type tokenClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// JWTAuth — выпуск и проверка локальных JWT.
type JWTAuth struct {
	secret []byte
	ttl    time.Duration
	logger *slog.Logger
}

// NewJWTAuth создаёт JWT middleware.
// secret — WM_SECRET_KEY, ttl — время жизни токена (WM_TOKEN_TTL).
func NewJWTAuth(secret string, ttl time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
		ttl:    ttl,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

// Issue выпускает токен для пользователя.
// Возвращает подписанный токен и момент его истечения.
func (j *JWTAuth) Issue(u *model.User) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(j.ttl)

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Username: u.Username,
		IsAdmin:  u.IsAdmin,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("подпись токена: %w", err)
	}
	return token, expires, nil
}

// Parse проверяет подпись и срок действия токена и возвращает claims.
func (j *JWTAuth) Parse(tokenString string) (*AuthClaims, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return j.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}

	return &AuthClaims{
		UserID:   claims.Subject,
		Username: claims.Username,
		IsAdmin:  claims.IsAdmin,
	}, nil
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись и помещает claims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			claims, err := j.Parse(parts[1])
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin возвращает middleware, требующий флаг is_admin.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}
			if !claims.IsAdmin {
				apierrors.Forbidden(w, "Требуются права администратора")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}
