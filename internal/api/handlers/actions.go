// actions.go — журнал действий.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/arturkryukov/wgmik/internal/api/errors"
	"github.com/arturkryukov/wgmik/internal/domain/model"
)

// ActionDTO — запись журнала действий.
// PeerID null, если peer удалён.
type ActionDTO struct {
	ID     int64   `json:"id"`
	PeerID *string `json:"peer_id"`
	TS     string  `json:"ts"`
	Action string  `json:"action"`
	Note   string  `json:"note"`
}

func actionToDTO(a *model.Action) ActionDTO {
	dto := ActionDTO{
		ID:     a.ID,
		TS:     a.TS.UTC().Format(time.RFC3339),
		Action: a.Action,
		Note:   a.Note,
	}
	if a.PeerID != nil {
		s := a.PeerID.String()
		dto.PeerID = &s
	}
	return dto
}

// actionLimit читает параметр limit (по умолчанию 100, максимум 1000).
func actionLimit(r *http.Request) int {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}
	return limit
}

// ListPeerActions возвращает журнал действий peer'а, новые первыми.
func (h *Handler) ListPeerActions(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "peerID")
	if !ok {
		return
	}
	if _, err := h.store.Peers().GetByID(r.Context(), id); err != nil {
		writeStoreError(w, err, "peer не найден")
		return
	}

	actions, err := h.store.Actions().ListForPeer(r.Context(), id, actionLimit(r))
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}

	result := make([]ActionDTO, 0, len(actions))
	for _, a := range actions {
		result = append(result, actionToDTO(a))
	}
	writeJSON(w, http.StatusOK, result)
}

// ListActions возвращает общий журнал действий, новые первыми.
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.store.Actions().List(r.Context(), actionLimit(r))
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}

	result := make([]ActionDTO, 0, len(actions))
	for _, a := range actions {
		result = append(result, actionToDTO(a))
	}
	writeJSON(w, http.StatusOK, result)
}
