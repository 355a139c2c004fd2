// Пакет model — доменные структуры WGMik.
// Соответствуют таблицам PostgreSQL один к одному, без ORM-магии.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Протоколы подключения к RouterOS.
const (
	// ProtoREST — RouterOS REST API поверх HTTPS.
	ProtoREST = "rest"
	// ProtoRESTHTTP — RouterOS REST API поверх HTTP (без TLS).
	ProtoRESTHTTP = "rest-http"
	// ProtoAPI — бинарный RouterOS API поверх TLS (порт 8729).
	ProtoAPI = "api"
	// ProtoAPIPlain — бинарный RouterOS API без TLS (порт 8728).
	ProtoAPIPlain = "api-plain"
)

// ValidProto проверяет, является ли строка допустимым протоколом роутера.
func ValidProto(p string) bool {
	switch p {
	case ProtoREST, ProtoRESTHTTP, ProtoAPI, ProtoAPIPlain:
		return true
	default:
		return false
	}
}

// Router — зарегистрированный роутер MikroTik.
// Пароль хранится только в зашифрованном виде (SecretEnc, AES-256-GCM).
type Router struct {
	ID        uuid.UUID
	Name      string
	Host      string
	Proto     string
	Port      int
	Username  string
	SecretEnc string
	TLSVerify bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Peer — WireGuard peer, отслеживаемый локально.
// Уникален по (router_id, interface, public_key).
// RosID — внутренний .id записи на RouterOS; пустая строка означает,
// что peer существует только локально (не привязан к роутеру).
type Peer struct {
	ID             uuid.UUID
	RouterID       uuid.UUID
	Interface      string
	RosID          string
	Name           string
	PublicKey      string
	AllowedAddress string
	Comment        string
	Disabled       bool
	Selected       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UsageSample — сырое наблюдение счётчиков peer'а (append-only).
type UsageSample struct {
	ID       int64
	PeerID   uuid.UUID
	TS       time.Time
	Rx       int64
	Tx       int64
	Endpoint string
}

// UsageDaily — накопленный трафик peer'а за сутки (UTC).
// Day в формате YYYY-MM-DD.
type UsageDaily struct {
	ID     int64
	PeerID uuid.UUID
	Day    string
	Rx     int64
	Tx     int64
}

// UsageMonthly — накопленный трафик peer'а за месяц (UTC).
// MonthKey в формате YYYY-MM. Дублирует сумму дневных строк,
// чтобы проверка квоты не сканировала usage_daily.
type UsageMonthly struct {
	ID       int64
	PeerID   uuid.UUID
	MonthKey string
	Rx       int64
	Tx       int64
}

// Quota — месячный лимит трафика peer'а.
// MonthlyLimitBytes == 0 означает отсутствие лимита.
type Quota struct {
	ID                int64
	PeerID            uuid.UUID
	MonthlyLimitBytes int64
	ResetDay          int
}

// AccessWindow — временное окно, в течение которого peer может быть включён.
// Обе границы опциональны; отсутствие обеих означает "разрешено всегда".
// Границы нормализуются к явной зоне при записи (TIMESTAMPTZ).
type AccessWindow struct {
	ID         int64
	PeerID     uuid.UUID
	ValidFrom  *time.Time
	ValidUntil *time.Time
}

// Виды действий в журнале (actions.action).
const (
	// ActionCounterReset — счётчик на роутере уменьшился (сброс/пересоздание peer'а).
	ActionCounterReset = "counter_reset"
	// ActionRouterMissing — peer не найден среди живых peer'ов интерфейса.
	ActionRouterMissing = "router_missing"
	// ActionRouterDisable / ActionRouterEnable — внешнее изменение состояния на роутере.
	ActionRouterDisable = "router_disable"
	ActionRouterEnable  = "router_enable"
	// Переходы, выполненные Policy Engine.
	ActionQuotaDisable  = "quota_disable"
	ActionQuotaEnable   = "quota_enable"
	ActionWindowDisable = "window_disable"
	ActionWindowEnable  = "window_enable"
	// Неудавшиеся переходы (команда роутеру не прошла).
	ActionQuotaDisableFailed  = "quota_disable_failed"
	ActionQuotaEnableFailed   = "quota_enable_failed"
	ActionWindowDisableFailed = "window_disable_failed"
	ActionWindowEnableFailed  = "window_enable_failed"
	// Действия, инициированные через API.
	ActionManualDisable = "manual_disable"
	ActionManualEnable  = "manual_enable"
	ActionPeerAdd       = "peer_add"
	ActionPeerRemove    = "peer_remove"
	ActionMetricsReset  = "metrics_reset"
)

// Action — запись журнала действий (append-only).
// PeerID nullable: при удалении peer'а история сохраняется.
type Action struct {
	ID     int64
	PeerID *uuid.UUID
	TS     time.Time
	Action string
	Note   string
}

// IsAutoDisable сообщает, является ли вид действия автоматическим
// отключением Policy Engine. Используется для гейтинга авто-включения:
// peer включается обратно только если его последнее действие —
// автоматическое отключение по квоте или окну доступа.
func IsAutoDisable(action string) bool {
	return action == ActionQuotaDisable || action == ActionWindowDisable
}

// User — локальный пользователь API.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

// Ключи settings_kv, известные ядру.
const (
	SettingPollInterval    = "poll_interval_seconds"
	SettingOnlineThreshold = "online_threshold_seconds"
	SettingMonthlyResetDay = "monthly_reset_day"
	SettingTimezone        = "timezone"
)
