// auth.go — локальная авторизация: выдача JWT и данные текущего пользователя.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	apierrors "github.com/arturkryukov/wgmik/internal/api/errors"
	"github.com/arturkryukov/wgmik/internal/api/middleware"
	"github.com/arturkryukov/wgmik/internal/repository"
)

// LoginRequest — тело POST /api/v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse — выданный токен.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
}

// Login проверяет пару логин/пароль и выдаёт JWT.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		apierrors.ValidationError(w, "username и password обязательны")
		return
	}

	user, err := h.store.Users().GetByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Одинаковый ответ для неизвестного пользователя и неверного пароля.
			apierrors.Unauthorized(w, "неверные учётные данные")
			return
		}
		apierrors.InternalError(w, err.Error())
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.logger.Warn("Неудачная попытка входа", slog.String("username", req.Username))
		apierrors.Unauthorized(w, "неверные учётные данные")
		return
	}

	token, expiresAt, err := h.jwt.Issue(user)
	if err != nil {
		apierrors.InternalError(w, "ошибка выдачи токена: "+err.Error())
		return
	}

	h.logger.Info("Пользователь вошёл в систему", slog.String("username", user.Username))

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
	})
}

// MeResponse — данные текущего пользователя из токена.
type MeResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Me возвращает данные пользователя из claims токена.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "требуется авторизация")
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{
		ID:       claims.UserID,
		Username: claims.Username,
		IsAdmin:  claims.IsAdmin,
	})
}
