// settings.go — глобальные настройки: ядро опроса плюс предпочтения UI.
// Ядро (интервал, порог онлайна, день сброса, таймзона) проходит через
// SettingsService и применяется на лету; предпочтения UI хранятся
// в settings_kv как есть.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/arturkryukov/wgmik/internal/api/errors"
	"github.com/arturkryukov/wgmik/internal/service"
)

// Ключи settings_kv для предпочтений UI.
const (
	settingShowKindPills        = "show_kind_pills"
	settingShowHWStats          = "show_hw_stats"
	settingDashboardRefresh     = "dashboard_refresh_seconds"
	settingPeerDefaultScopeUnit = "peer_default_scope_unit"
	settingPeerDefaultScopeVal  = "peer_default_scope_value"
)

// SettingsDTO — настройки в API.
type SettingsDTO struct {
	PollIntervalSeconds   int    `json:"poll_interval_seconds"`
	OnlineThresholdSecs   int    `json:"online_threshold_seconds"`
	MonthlyResetDay       int    `json:"monthly_reset_day"`
	Timezone              string `json:"timezone"`
	ShowKindPills         bool   `json:"show_kind_pills"`
	ShowHWStats           bool   `json:"show_hw_stats"`
	DashboardRefreshSecs  int    `json:"dashboard_refresh_seconds"`
	PeerDefaultScopeUnit  string `json:"peer_default_scope_unit"`
	PeerDefaultScopeValue int    `json:"peer_default_scope_value"`
}

// GetSettings возвращает текущие настройки.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	cur := h.settings.Current()
	dto := SettingsDTO{
		PollIntervalSeconds:   int(cur.PollInterval.Seconds()),
		OnlineThresholdSecs:   cur.OnlineThreshold,
		MonthlyResetDay:       cur.MonthlyResetDay,
		Timezone:              cur.Timezone,
		ShowKindPills:         true,
		ShowHWStats:           true,
		DashboardRefreshSecs:  30,
		PeerDefaultScopeUnit:  "days",
		PeerDefaultScopeValue: 14,
	}

	kv, err := h.store.Settings().All(r.Context())
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}
	if v, ok := kv[settingShowKindPills]; ok {
		dto.ShowKindPills = v == "true"
	}
	if v, ok := kv[settingShowHWStats]; ok {
		dto.ShowHWStats = v == "true"
	}
	if v, ok := kv[settingDashboardRefresh]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dto.DashboardRefreshSecs = n
		}
	}
	if v, ok := kv[settingPeerDefaultScopeUnit]; ok && validScopeUnit(v) {
		dto.PeerDefaultScopeUnit = v
	}
	if v, ok := kv[settingPeerDefaultScopeVal]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dto.PeerDefaultScopeValue = n
		}
	}

	writeJSON(w, http.StatusOK, dto)
}

func validScopeUnit(v string) bool {
	return v == "minutes" || v == "hours" || v == "days"
}

// UpdateSettings сохраняет настройки целиком.
// Новый интервал опроса применяется без рестарта.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var dto SettingsDTO
	if !decodeJSON(w, r, &dto) {
		return
	}

	if dto.DashboardRefreshSecs < 1 {
		apierrors.ValidationError(w, "dashboard_refresh_seconds должен быть положительным")
		return
	}
	if !validScopeUnit(dto.PeerDefaultScopeUnit) {
		apierrors.ValidationError(w, "peer_default_scope_unit: допустимы minutes, hours, days")
		return
	}
	if dto.PeerDefaultScopeValue < 1 {
		apierrors.ValidationError(w, "peer_default_scope_value должен быть положительным")
		return
	}

	ns := service.RuntimeSettings{
		PollInterval:    time.Duration(dto.PollIntervalSeconds) * time.Second,
		OnlineThreshold: dto.OnlineThresholdSecs,
		MonthlyResetDay: dto.MonthlyResetDay,
		Timezone:        dto.Timezone,
	}
	if err := h.settings.Update(r.Context(), ns); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	pairs := map[string]string{
		settingShowKindPills:        strconv.FormatBool(dto.ShowKindPills),
		settingShowHWStats:          strconv.FormatBool(dto.ShowHWStats),
		settingDashboardRefresh:     strconv.Itoa(dto.DashboardRefreshSecs),
		settingPeerDefaultScopeUnit: dto.PeerDefaultScopeUnit,
		settingPeerDefaultScopeVal:  strconv.Itoa(dto.PeerDefaultScopeValue),
	}
	for k, v := range pairs {
		if err := h.store.Settings().Set(r.Context(), k, v); err != nil {
			apierrors.InternalError(w, err.Error())
			return
		}
	}

	h.GetSettings(w, r)
}
