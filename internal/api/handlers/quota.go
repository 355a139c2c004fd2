// quota.go — квоты и окна доступа peer'ов.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/wgmik/internal/api/errors"
	"github.com/arturkryukov/wgmik/internal/domain/model"
	"github.com/arturkryukov/wgmik/internal/repository"
)

// QuotaDTO — квота peer'а с фактическим расходом текущего месяца.
// MonthlyLimitBytes null означает отсутствие лимита.
type QuotaDTO struct {
	MonthlyLimitBytes *int64  `json:"monthly_limit_bytes"`
	ResetDay          int     `json:"reset_day"`
	ValidFrom         *string `json:"valid_from"`
	ValidUntil        *string `json:"valid_until"`
	UsedRx            int64   `json:"used_rx"`
	UsedTx            int64   `json:"used_tx"`
}

// quotaDTOFor собирает QuotaDTO peer'а: квота, окно доступа и расход месяца.
func (h *Handler) quotaDTOFor(r *http.Request, peerID uuid.UUID) (*QuotaDTO, error) {
	dto := &QuotaDTO{ResetDay: h.settings.Current().MonthlyResetDay}

	quota, err := h.store.Quotas().Get(r.Context(), peerID)
	switch {
	case err == nil:
		if quota.MonthlyLimitBytes > 0 {
			dto.MonthlyLimitBytes = &quota.MonthlyLimitBytes
		}
		dto.ResetDay = quota.ResetDay
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	window, err := h.store.Windows().Get(r.Context(), peerID)
	switch {
	case err == nil:
		if window.ValidFrom != nil {
			s := window.ValidFrom.UTC().Format(time.RFC3339)
			dto.ValidFrom = &s
		}
		if window.ValidUntil != nil {
			s := window.ValidUntil.UTC().Format(time.RFC3339)
			dto.ValidUntil = &s
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	monthKey := time.Now().UTC().Format("2006-01")
	rx, tx, err := h.store.Usage().MonthTotal(r.Context(), peerID, monthKey)
	if err != nil {
		return nil, err
	}
	dto.UsedRx, dto.UsedTx = rx, tx

	return dto, nil
}

// GetPeerQuota возвращает квоту и окно доступа peer'а.
func (h *Handler) GetPeerQuota(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "peerID")
	if !ok {
		return
	}
	if _, err := h.store.Peers().GetByID(r.Context(), id); err != nil {
		writeStoreError(w, err, "peer не найден")
		return
	}

	dto, err := h.quotaDTOFor(r, id)
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// QuotaUpdateRequest — тело PATCH /api/v1/peers/{id}/quota.
// Пустая строка в valid_from/valid_until снимает границу;
// monthly_limit_bytes 0 снимает лимит.
type QuotaUpdateRequest struct {
	MonthlyLimitBytes *int64  `json:"monthly_limit_bytes"`
	ResetDay          *int    `json:"reset_day"`
	ValidFrom         *string `json:"valid_from"`
	ValidUntil        *string `json:"valid_until"`
}

// parseWindowBound разбирает границу окна доступа.
// Пустая строка даёт nil — граница снимается.
func parseWindowBound(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		return &t, nil
	}
	// Дата без времени трактуется как полночь UTC.
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, errors.New("ожидается ISO 8601 или YYYY-MM-DD")
	}
	t = t.UTC()
	return &t, nil
}

// UpdatePeerQuota обновляет квоту и/или окно доступа peer'а.
// Возвращает итоговый QuotaDTO.
func (h *Handler) UpdatePeerQuota(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "peerID")
	if !ok {
		return
	}
	if _, err := h.store.Peers().GetByID(r.Context(), id); err != nil {
		writeStoreError(w, err, "peer не найден")
		return
	}

	var req QuotaUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.MonthlyLimitBytes != nil || req.ResetDay != nil {
		quota, err := h.store.Quotas().Get(r.Context(), id)
		if errors.Is(err, repository.ErrNotFound) {
			quota = &model.Quota{
				PeerID:   id,
				ResetDay: h.settings.Current().MonthlyResetDay,
			}
		} else if err != nil {
			apierrors.InternalError(w, err.Error())
			return
		}

		if req.MonthlyLimitBytes != nil {
			if *req.MonthlyLimitBytes < 0 {
				apierrors.ValidationError(w, "monthly_limit_bytes не может быть отрицательным")
				return
			}
			quota.MonthlyLimitBytes = *req.MonthlyLimitBytes
		}
		if req.ResetDay != nil {
			if *req.ResetDay < 1 || *req.ResetDay > 28 {
				apierrors.ValidationError(w, "reset_day вне допустимого диапазона 1-28")
				return
			}
			quota.ResetDay = *req.ResetDay
		}

		if err := h.store.Quotas().Upsert(r.Context(), quota); err != nil {
			apierrors.InternalError(w, err.Error())
			return
		}
	}

	if req.ValidFrom != nil || req.ValidUntil != nil {
		window, err := h.store.Windows().Get(r.Context(), id)
		if errors.Is(err, repository.ErrNotFound) {
			window = &model.AccessWindow{PeerID: id}
		} else if err != nil {
			apierrors.InternalError(w, err.Error())
			return
		}

		if req.ValidFrom != nil {
			t, err := parseWindowBound(*req.ValidFrom)
			if err != nil {
				apierrors.ValidationError(w, "valid_from: "+err.Error())
				return
			}
			window.ValidFrom = t
		}
		if req.ValidUntil != nil {
			t, err := parseWindowBound(*req.ValidUntil)
			if err != nil {
				apierrors.ValidationError(w, "valid_until: "+err.Error())
				return
			}
			window.ValidUntil = t
		}
		if window.ValidFrom != nil && window.ValidUntil != nil && window.ValidUntil.Before(*window.ValidFrom) {
			apierrors.ValidationError(w, "valid_until раньше valid_from")
			return
		}

		if err := h.store.Windows().Upsert(r.Context(), window); err != nil {
			apierrors.InternalError(w, err.Error())
			return
		}
	}

	dto, err := h.quotaDTOFor(r, id)
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// WindowDTO — окно доступа peer'а.
type WindowDTO struct {
	ValidFrom  *string `json:"valid_from"`
	ValidUntil *string `json:"valid_until"`
}

// GetPeerWindow возвращает окно доступа peer'а.
func (h *Handler) GetPeerWindow(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "peerID")
	if !ok {
		return
	}
	if _, err := h.store.Peers().GetByID(r.Context(), id); err != nil {
		writeStoreError(w, err, "peer не найден")
		return
	}

	var dto WindowDTO
	window, err := h.store.Windows().Get(r.Context(), id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		apierrors.InternalError(w, err.Error())
		return
	}
	if err == nil {
		if window.ValidFrom != nil {
			s := window.ValidFrom.UTC().Format(time.RFC3339)
			dto.ValidFrom = &s
		}
		if window.ValidUntil != nil {
			s := window.ValidUntil.UTC().Format(time.RFC3339)
			dto.ValidUntil = &s
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// UpdatePeerWindow обновляет окно доступа peer'а.
func (h *Handler) UpdatePeerWindow(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "peerID")
	if !ok {
		return
	}
	if _, err := h.store.Peers().GetByID(r.Context(), id); err != nil {
		writeStoreError(w, err, "peer не найден")
		return
	}

	var req struct {
		ValidFrom  *string `json:"valid_from"`
		ValidUntil *string `json:"valid_until"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	window, err := h.store.Windows().Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		window = &model.AccessWindow{PeerID: id}
	} else if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}

	if req.ValidFrom != nil {
		t, err := parseWindowBound(*req.ValidFrom)
		if err != nil {
			apierrors.ValidationError(w, "valid_from: "+err.Error())
			return
		}
		window.ValidFrom = t
	}
	if req.ValidUntil != nil {
		t, err := parseWindowBound(*req.ValidUntil)
		if err != nil {
			apierrors.ValidationError(w, "valid_until: "+err.Error())
			return
		}
		window.ValidUntil = t
	}
	if window.ValidFrom != nil && window.ValidUntil != nil && window.ValidUntil.Before(*window.ValidFrom) {
		apierrors.ValidationError(w, "valid_until раньше valid_from")
		return
	}

	if err := h.store.Windows().Upsert(r.Context(), window); err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}

	var dto WindowDTO
	if window.ValidFrom != nil {
		s := window.ValidFrom.UTC().Format(time.RFC3339)
		dto.ValidFrom = &s
	}
	if window.ValidUntil != nil {
		s := window.ValidUntil.UTC().Format(time.RFC3339)
		dto.ValidUntil = &s
	}
	writeJSON(w, http.StatusOK, dto)
}
