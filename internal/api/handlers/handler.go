// handler.go — основной обработчик API.
// Объединяет зависимости и общие вспомогательные функции;
// доменные endpoints разнесены по файлам пакета.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/wgmik/internal/api/errors"
	"github.com/arturkryukov/wgmik/internal/api/middleware"
	"github.com/arturkryukov/wgmik/internal/repository"
	"github.com/arturkryukov/wgmik/internal/routeros"
	"github.com/arturkryukov/wgmik/internal/secret"
	"github.com/arturkryukov/wgmik/internal/service"
)

// Handler — обработчик API поверх сервисного слоя.
type Handler struct {
	store    repository.Store
	factory  routeros.ClientFactory
	box      *secret.Box
	settings *service.SettingsService
	jwt      *middleware.JWTAuth
	logger   *slog.Logger
}

// NewHandler создаёт обработчик API.
func NewHandler(
	store repository.Store,
	factory routeros.ClientFactory,
	box *secret.Box,
	settings *service.SettingsService,
	jwt *middleware.JWTAuth,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		store:    store,
		factory:  factory,
		box:      box,
		settings: settings,
		jwt:      jwt,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса в dst.
// Возвращает false и пишет 400, если тело некорректно.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "некорректное тело запроса: "+err.Error())
		return false
	}
	return true
}

// uuidParam извлекает UUID из URL-параметра chi.
// Возвращает uuid.Nil и пишет 400, если параметр не является UUID.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		apierrors.ValidationError(w, "некорректный "+name)
		return uuid.Nil, false
	}
	return id, true
}

// writeRouterError транслирует ошибку шлюза RouterOS в HTTP-ответ.
func writeRouterError(w http.ResponseWriter, err error) {
	if errors.Is(err, routeros.ErrUnreachable) || errors.Is(err, routeros.ErrRejected) {
		apierrors.RouterUnavailable(w, err.Error())
		return
	}
	apierrors.InternalError(w, err.Error())
}

// writeStoreError транслирует ошибку репозитория в HTTP-ответ.
func writeStoreError(w http.ResponseWriter, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		apierrors.NotFound(w, notFoundMsg)
	case errors.Is(err, repository.ErrConflict):
		apierrors.Conflict(w, err.Error())
	default:
		apierrors.InternalError(w, err.Error())
	}
}
