// settings.go — настройки времени выполнения.
//
// Значения из конфигурации служат умолчаниями; settings_kv в БД
// переопределяет их и переживает рестарт. PUT /settings меняет
// снапшот на лету и проталкивает новый интервал в планировщик.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/arturkryukov/wgmik/internal/domain/model"
	"github.com/arturkryukov/wgmik/internal/repository"
)

// RuntimeSettings — снапшот изменяемых настроек.
type RuntimeSettings struct {
	PollInterval    time.Duration
	OnlineThreshold int
	MonthlyResetDay int
	Timezone        string
}

// Location возвращает *time.Location таймзоны снапшота.
// Неизвестная таймзона не проходит Update, поэтому ошибки здесь нет.
func (s RuntimeSettings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Rescheduler — приёмник нового интервала опроса.
// Реализуется Scheduler; в тестах подменяется фейком.
type Rescheduler interface {
	Reschedule(d time.Duration)
}

// SettingsService хранит текущие настройки и синхронизирует их с settings_kv.
type SettingsService struct {
	store  repository.Store
	logger *slog.Logger

	mu  sync.RWMutex
	cur RuntimeSettings

	scheduler Rescheduler
}

// NewSettingsService создаёт сервис настроек с умолчаниями defaults.
func NewSettingsService(store repository.Store, defaults RuntimeSettings, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		store:  store,
		cur:    defaults,
		logger: logger.With(slog.String("component", "settings")),
	}
}

// BindScheduler привязывает планировщик для горячего обновления интервала.
// Вызывается после создания планировщика, до старта HTTP-сервера.
func (s *SettingsService) BindScheduler(r Rescheduler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduler = r
}

// Current возвращает текущий снапшот настроек.
func (s *SettingsService) Current() RuntimeSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Hydrate накатывает сохранённые в settings_kv значения поверх умолчаний.
// Вызывается один раз при старте, до запуска планировщика.
func (s *SettingsService) Hydrate(ctx context.Context) error {
	kv, err := s.store.Settings().All(ctx)
	if err != nil {
		return fmt.Errorf("чтение settings_kv: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := kv[model.SettingPollInterval]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.cur.PollInterval = time.Duration(n) * time.Second
		}
	}
	if v, ok := kv[model.SettingOnlineThreshold]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.cur.OnlineThreshold = n
		}
	}
	if v, ok := kv[model.SettingMonthlyResetDay]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 28 {
			s.cur.MonthlyResetDay = n
		}
	}
	if v, ok := kv[model.SettingTimezone]; ok && v != "" {
		if _, err := time.LoadLocation(v); err == nil {
			s.cur.Timezone = v
		}
	}

	s.logger.Info("Настройки загружены",
		slog.String("poll_interval", s.cur.PollInterval.String()),
		slog.Int("online_threshold", s.cur.OnlineThreshold),
		slog.Int("monthly_reset_day", s.cur.MonthlyResetDay),
		slog.String("timezone", s.cur.Timezone),
	)
	return nil
}

// Update валидирует, сохраняет и применяет новые настройки.
// Новый интервал опроса проталкивается в планировщик без рестарта.
func (s *SettingsService) Update(ctx context.Context, ns RuntimeSettings) error {
	if ns.PollInterval < 5*time.Second {
		return fmt.Errorf("интервал опроса %s меньше минимального 5s", ns.PollInterval)
	}
	if ns.OnlineThreshold < 1 {
		return fmt.Errorf("порог онлайна должен быть положительным")
	}
	if ns.MonthlyResetDay < 1 || ns.MonthlyResetDay > 28 {
		return fmt.Errorf("день сброса %d вне допустимого диапазона 1-28", ns.MonthlyResetDay)
	}
	if _, err := time.LoadLocation(ns.Timezone); err != nil {
		return fmt.Errorf("неизвестная таймзона %q", ns.Timezone)
	}

	pairs := map[string]string{
		model.SettingPollInterval:    strconv.Itoa(int(ns.PollInterval.Seconds())),
		model.SettingOnlineThreshold: strconv.Itoa(ns.OnlineThreshold),
		model.SettingMonthlyResetDay: strconv.Itoa(ns.MonthlyResetDay),
		model.SettingTimezone:        ns.Timezone,
	}
	for k, v := range pairs {
		if err := s.store.Settings().Set(ctx, k, v); err != nil {
			return err
		}
	}

	s.mu.Lock()
	changed := s.cur.PollInterval != ns.PollInterval
	s.cur = ns
	scheduler := s.scheduler
	s.mu.Unlock()

	if changed && scheduler != nil {
		scheduler.Reschedule(ns.PollInterval)
	}

	s.logger.Info("Настройки обновлены",
		slog.String("poll_interval", ns.PollInterval.String()),
		slog.Bool("rescheduled", changed),
	)
	return nil
}
