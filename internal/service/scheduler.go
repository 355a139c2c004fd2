// scheduler.go — периодический запуск циклов опроса.
package service

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler запускает циклы опроса по таймеру.
// Интервал меняется на лету через Reschedule без рестарта сервиса.
type Scheduler struct {
	poller   *Poller
	interval time.Duration
	logger   *slog.Logger

	reschedule chan time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewScheduler создаёт планировщик с начальным интервалом.
func NewScheduler(poller *Poller, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		poller:     poller,
		interval:   interval,
		logger:     logger.With(slog.String("component", "scheduler")),
		reschedule: make(chan time.Duration, 1),
	}
}

// Start запускает фоновую горутину с периодическим опросом.
// Вызывается один раз при старте приложения; первый цикл
// выполняется сразу, не дожидаясь первого тика.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодический опрос роутеров запущен",
			slog.String("interval", s.interval.String()),
		)

		s.runCycle(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодический опрос роутеров остановлен")
				return
			case d := <-s.reschedule:
				if d == s.interval {
					continue
				}
				s.logger.Info("Интервал опроса изменён",
					slog.String("old", s.interval.String()),
					slog.String("new", d.String()),
				)
				s.interval = d
				ticker.Reset(d)
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Reschedule передаёт новый интервал в цикл планировщика.
// Неблокирующая: при серии быстрых вызовов применяется последний.
func (s *Scheduler) Reschedule(d time.Duration) {
	for {
		select {
		case s.reschedule <- d:
			return
		default:
			// Вытесняем устаревшее значение из буфера
			select {
			case <-s.reschedule:
			default:
			}
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	result, skipped := s.poller.RunOnce(ctx)
	if skipped || result == nil {
		return
	}
	if result.GroupErrors > 0 {
		s.logger.Warn("Цикл опроса завершён с ошибками групп",
			slog.Int("group_errors", result.GroupErrors),
		)
	}
}
