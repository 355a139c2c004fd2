// peers.go — операции над учитываемыми peer'ами: список, изменение,
// удаление, метрики трафика.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/wgmik/internal/api/errors"
	"github.com/arturkryukov/wgmik/internal/domain/model"
	"github.com/arturkryukov/wgmik/internal/repository"
)

// PeerDTO — локально учитываемый peer.
type PeerDTO struct {
	ID             string `json:"id"`
	RouterID       string `json:"router_id"`
	Interface      string `json:"interface"`
	Name           string `json:"name"`
	PublicKey      string `json:"public_key"`
	AllowedAddress string `json:"allowed_address"`
	Disabled       bool   `json:"disabled"`
	Selected       bool   `json:"selected"`
}

func peerToDTO(p *model.Peer) PeerDTO {
	return PeerDTO{
		ID:             p.ID.String(),
		RouterID:       p.RouterID.String(),
		Interface:      p.Interface,
		Name:           p.Name,
		PublicKey:      p.PublicKey,
		AllowedAddress: p.AllowedAddress,
		Disabled:       p.Disabled,
		Selected:       p.Selected,
	}
}

// ListPeers возвращает сохранённые peer'ы по фильтрам
// router_id, interface, selected_only.
func (h *Handler) ListPeers(w http.ResponseWriter, r *http.Request) {
	var filter repository.PeerFilter

	q := r.URL.Query()
	if v := q.Get("router_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			apierrors.ValidationError(w, "некорректный router_id")
			return
		}
		filter.RouterID = &id
	}
	if v := q.Get("interface"); v != "" {
		filter.Interface = &v
	}
	if v := q.Get("selected_only"); v == "true" || v == "1" {
		filter.SelectedOnly = true
	}

	peers, err := h.store.Peers().List(r.Context(), filter)
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}

	result := make([]PeerDTO, 0, len(peers))
	for _, p := range peers {
		result = append(result, peerToDTO(p))
	}
	writeJSON(w, http.StatusOK, result)
}

// GetPeer возвращает peer по UUID.
func (h *Handler) GetPeer(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "peerID")
	if !ok {
		return
	}

	peer, err := h.store.Peers().GetByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "peer не найден")
		return
	}
	writeJSON(w, http.StatusOK, peerToDTO(peer))
}

// PeerUpdateRequest — тело PATCH /api/v1/peers/{id}.
type PeerUpdateRequest struct {
	Selected *bool `json:"selected"`
	Disabled *bool `json:"disabled"`
}

// UpdatePeer меняет флаги peer'а. Смена disabled проталкивается на роутер
// (best-effort: недоступный роутер не блокирует локальное изменение,
// следующий цикл опроса выровняет состояние) и пишется в журнал
// как manual_disable/manual_enable.
func (h *Handler) UpdatePeer(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "peerID")
	if !ok {
		return
	}

	var req PeerUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	peer, err := h.store.Peers().GetByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "peer не найден")
		return
	}

	if req.Selected != nil {
		peer.Selected = *req.Selected
	}

	disabledChanged := req.Disabled != nil && peer.Disabled != *req.Disabled
	if disabledChanged {
		peer.Disabled = *req.Disabled

		if peer.RosID != "" {
			if router, err := h.store.Routers().GetByID(r.Context(), peer.RouterID); err == nil {
				if client, err := h.factory(router); err == nil {
					if err := client.SetPeerDisabled(r.Context(), peer.RosID, peer.Disabled); err != nil {
						h.logger.Warn("Не удалось протолкнуть состояние на роутер",
							slog.String("peer_id", peer.ID.String()),
							slog.String("error", err.Error()),
						)
					}
				}
			}
		}
	}

	err = h.store.InTx(r.Context(), func(tx repository.Store) error {
		if err := tx.Peers().Update(r.Context(), peer); err != nil {
			return err
		}
		if !disabledChanged {
			return nil
		}
		action := model.ActionManualEnable
		if peer.Disabled {
			action = model.ActionManualDisable
		}
		return tx.Actions().Append(r.Context(), &model.Action{
			PeerID: &peer.ID,
			TS:     time.Now().UTC(),
			Action: action,
			Note:   "изменено через API",
		})
	})
	if err != nil {
		writeStoreError(w, err, "peer не найден")
		return
	}

	writeJSON(w, http.StatusOK, peerToDTO(peer))
}

// DeletePeer удаляет peer локально и, по возможности, с роутера.
// История действий сохраняется (peer_id в журнале обнуляется).
func (h *Handler) DeletePeer(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "peerID")
	if !ok {
		return
	}

	peer, err := h.store.Peers().GetByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "peer не найден")
		return
	}

	if peer.RosID != "" {
		if router, err := h.store.Routers().GetByID(r.Context(), peer.RouterID); err == nil {
			if client, err := h.factory(router); err == nil {
				if err := client.RemovePeer(r.Context(), peer.RosID); err != nil {
					h.logger.Warn("Не удалось удалить peer с роутера",
						slog.String("peer_id", peer.ID.String()),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}

	err = h.store.InTx(r.Context(), func(tx repository.Store) error {
		if err := tx.Actions().Append(r.Context(), &model.Action{
			PeerID: &peer.ID,
			TS:     time.Now().UTC(),
			Action: model.ActionPeerRemove,
			Note:   "удалён " + peer.Name + " (" + peer.PublicKey + ")",
		}); err != nil {
			return err
		}
		return tx.Peers().Delete(r.Context(), peer.ID)
	})
	if err != nil {
		writeStoreError(w, err, "peer не найден")
		return
	}

	h.logger.Info("Peer удалён", slog.String("peer_id", id.String()))
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"deleted_peer_id": id.String(),
	})
}

// ResetPeerMetrics удаляет все метрики peer'а и пишет metrics_reset в журнал.
func (h *Handler) ResetPeerMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "peerID")
	if !ok {
		return
	}

	if _, err := h.store.Peers().GetByID(r.Context(), id); err != nil {
		writeStoreError(w, err, "peer не найден")
		return
	}

	var counts repository.ResetCounts
	err := h.store.InTx(r.Context(), func(tx repository.Store) error {
		var err error
		counts, err = tx.Usage().ResetPeer(r.Context(), id)
		if err != nil {
			return err
		}
		return tx.Actions().Append(r.Context(), &model.Action{
			PeerID: &id,
			TS:     time.Now().UTC(),
			Action: model.ActionMetricsReset,
			Note:   "метрики сброшены через API",
		})
	})
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}

	h.logger.Info("Метрики peer сброшены", slog.String("peer_id", id.String()))
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"deleted_samples": counts.Samples,
		"deleted_daily":   counts.Daily,
		"deleted_monthly": counts.Monthly,
	})
}

// UsagePointDTO — точка графика трафика.
type UsagePointDTO struct {
	Day string `json:"day"`
	Rx  int64  `json:"rx"`
	Tx  int64  `json:"tx"`
}

// PeerUsage возвращает трафик peer'а.
// window=daily — суточные агрегаты; window=raw — дельты между сырыми
// наблюдениями за lookback секунд (по умолчанию 3600).
func (h *Handler) PeerUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "peerID")
	if !ok {
		return
	}

	if _, err := h.store.Peers().GetByID(r.Context(), id); err != nil {
		writeStoreError(w, err, "peer не найден")
		return
	}

	switch r.URL.Query().Get("window") {
	case "daily":
		h.peerUsageDaily(w, r, id)
	case "raw":
		h.peerUsageRaw(w, r, id)
	default:
		apierrors.ValidationError(w, "window должен быть daily или raw")
	}
}

func (h *Handler) peerUsageDaily(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	rows, err := h.store.Usage().DailyForPeer(r.Context(), id, "")
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}

	result := make([]UsagePointDTO, 0, len(rows))
	for _, d := range rows {
		result = append(result, UsagePointDTO{Day: d.Day, Rx: d.Rx, Tx: d.Tx})
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) peerUsageRaw(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	lookback := 3600
	if v := r.URL.Query().Get("lookback"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			apierrors.ValidationError(w, "некорректный lookback")
			return
		}
		lookback = n
	}

	since := time.Now().UTC().Add(-time.Duration(lookback) * time.Second)
	samples, err := h.store.Usage().SamplesSince(r.Context(), id, since)
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}

	// Дельты между соседними наблюдениями; уменьшение счётчика
	// (сброс на роутере) даёт нулевую точку, а не отрицательную.
	result := make([]UsagePointDTO, 0, len(samples))
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		rx := cur.Rx - prev.Rx
		tx := cur.Tx - prev.Tx
		if rx < 0 {
			rx = 0
		}
		if tx < 0 {
			tx = 0
		}
		if rx == 0 && tx == 0 {
			continue
		}
		result = append(result, UsagePointDTO{
			Day: cur.TS.Format("15:04:05"),
			Rx:  rx,
			Tx:  tx,
		})
	}
	writeJSON(w, http.StatusOK, result)
}
