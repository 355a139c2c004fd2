// Пакет config — загрузка и валидация конфигурации WGMik
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации WGMik.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Безопасность ---

	// Секретный ключ: шифрование паролей роутеров и подпись JWT
	SecretKey string
	// Срок жизни JWT-токена
	TokenTTL time.Duration
	// Начальный администратор (создаётся при пустой таблице users)
	AdminUser     string
	AdminPassword string

	// --- Опрос роутеров ---

	// Интервал цикла опроса (может быть изменён через API на лету)
	PollInterval time.Duration
	// Порог "онлайн" по last-handshake, секунды
	OnlineThreshold int
	// День месяца, с которого начинается учётный период квот
	MonthlyResetDay int
	// Таймзона для окон доступа и суточных агрегатов
	Timezone string
	// Таймаут одного запроса к роутеру
	RouterTimeout time.Duration

	// --- Мониторинг зависимостей ---

	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// WM_PORT — порт HTTP-сервера (по умолчанию 8000)
	cfg.Port, err = getEnvInt("WM_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("WM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("WM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// WM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("WM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("WM_LOG_LEVEL: %w", err)
	}

	// WM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("WM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("WM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// WM_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("WM_DB_HOST")
	if err != nil {
		return nil, err
	}

	// WM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("WM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("WM_DB_PORT: %w", err)
	}

	// WM_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("WM_DB_NAME")
	if err != nil {
		return nil, err
	}

	// WM_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("WM_DB_USER")
	if err != nil {
		return nil, err
	}

	// WM_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("WM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// WM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("WM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("WM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Безопасность ---

	// WM_SECRET_KEY — обязательный, им шифруются пароли роутеров и подписываются токены
	cfg.SecretKey, err = getEnvRequired("WM_SECRET_KEY")
	if err != nil {
		return nil, err
	}
	if len(cfg.SecretKey) < 16 {
		return nil, fmt.Errorf("WM_SECRET_KEY: ключ короче 16 символов небезопасен")
	}

	// WM_TOKEN_TTL — срок жизни JWT (по умолчанию 24h)
	cfg.TokenTTL, err = getEnvDuration("WM_TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("WM_TOKEN_TTL: %w", err)
	}

	// WM_ADMIN_USER / WM_ADMIN_PASSWORD — начальный администратор (опционально)
	cfg.AdminUser = getEnvDefault("WM_ADMIN_USER", "admin")
	cfg.AdminPassword = getEnvDefault("WM_ADMIN_PASSWORD", "")

	// --- Опрос роутеров ---

	// WM_POLL_INTERVAL — интервал опроса (по умолчанию 30s)
	cfg.PollInterval, err = getEnvDuration("WM_POLL_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WM_POLL_INTERVAL: %w", err)
	}
	if cfg.PollInterval < 5*time.Second {
		return nil, fmt.Errorf("WM_POLL_INTERVAL: интервал %s меньше минимального 5s", cfg.PollInterval)
	}

	// WM_ONLINE_THRESHOLD — порог онлайна по handshake, секунды (по умолчанию 15)
	cfg.OnlineThreshold, err = getEnvInt("WM_ONLINE_THRESHOLD", 15)
	if err != nil {
		return nil, fmt.Errorf("WM_ONLINE_THRESHOLD: %w", err)
	}

	// WM_MONTHLY_RESET_DAY — день сброса квот (по умолчанию 1)
	cfg.MonthlyResetDay, err = getEnvInt("WM_MONTHLY_RESET_DAY", 1)
	if err != nil {
		return nil, fmt.Errorf("WM_MONTHLY_RESET_DAY: %w", err)
	}
	if cfg.MonthlyResetDay < 1 || cfg.MonthlyResetDay > 28 {
		return nil, fmt.Errorf("WM_MONTHLY_RESET_DAY: значение %d вне допустимого диапазона 1-28", cfg.MonthlyResetDay)
	}

	// WM_TIMEZONE — таймзона политик (по умолчанию UTC)
	cfg.Timezone = getEnvDefault("WM_TIMEZONE", "UTC")
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("WM_TIMEZONE: неизвестная таймзона %q", cfg.Timezone)
	}

	// WM_ROUTER_TIMEOUT — таймаут запроса к роутеру (по умолчанию 10s)
	cfg.RouterTimeout, err = getEnvDuration("WM_ROUTER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WM_ROUTER_TIMEOUT: %w", err)
	}

	// --- Мониторинг зависимостей ---

	// WM_DEPHEALTH_GROUP — имя группы (по умолчанию wgmik)
	cfg.DephealthGroup = getEnvDefault("WM_DEPHEALTH_GROUP", "wgmik")

	// WM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("WM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// WM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("WM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL.
// Используется topologymetrics для лейблов зависимости.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Location возвращает *time.Location для настроенной таймзоны.
// Таймзона проверена в Load, поэтому ошибка здесь невозможна.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
