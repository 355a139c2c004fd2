// admin.go — разрушительные админские операции. Доступны только
// пользователям с is_admin (middleware.RequireAdmin на маршрутах).
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/arturkryukov/wgmik/internal/api/errors"
	"github.com/arturkryukov/wgmik/internal/repository"
)

// PurgeUsage удаляет все метрики трафика всех peer'ов.
func (h *Handler) PurgeUsage(w http.ResponseWriter, r *http.Request) {
	var counts repository.ResetCounts
	err := h.store.InTx(r.Context(), func(tx repository.Store) error {
		var err error
		counts, err = tx.Usage().PurgeAll(r.Context())
		return err
	})
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}

	h.logger.Warn("Все метрики трафика удалены",
		slog.Int64("samples", counts.Samples),
		slog.Int64("daily", counts.Daily),
		slog.Int64("monthly", counts.Monthly),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"deleted_samples": counts.Samples,
		"deleted_daily":   counts.Daily,
		"deleted_monthly": counts.Monthly,
	})
}

// PurgePeers удаляет все peer'ы вместе с их метриками, квотами и окнами.
// Журнал действий сохраняется с обнулёнными peer_id.
func (h *Handler) PurgePeers(w http.ResponseWriter, r *http.Request) {
	var deleted int64
	err := h.store.InTx(r.Context(), func(tx repository.Store) error {
		var err error
		deleted, err = tx.Peers().DeleteAll(r.Context())
		return err
	})
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}

	h.logger.Warn("Все peer'ы удалены", slog.Int64("deleted", deleted))
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"deleted_peers": deleted,
	})
}
