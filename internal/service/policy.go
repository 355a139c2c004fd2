// policy.go — применение политик квот и окон доступа к peer'ам.
//
// На каждом цикле опроса движок заново читает месячный агрегат, квоту
// и окно доступа peer'а и вычисляет желаемое состояние:
//
//	желаемоеОтключение = превышенаКвота ИЛИ внеОкнаДоступа
//
// Переход выполняется командой роутеру; при ошибке устройства пишется
// действие `*_failed`, локальное состояние не меняется, и следующий цикл
// повторяет попытку. Автовключение разрешено только если последнее
// действие peer'а — автоматическое отключение по квоте или окну:
// peer, выключенный вручную или самим роутером, не трогаем.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/wgmik/internal/domain/model"
	"github.com/arturkryukov/wgmik/internal/repository"
	"github.com/arturkryukov/wgmik/internal/routeros"
)

var policyTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wm_policy_transitions_total",
	Help: "Количество переходов состояния peer'ов по политикам",
}, []string{"action"})

// PolicyEngine вычисляет и применяет желаемое состояние peer'ов.
type PolicyEngine struct {
	logger *slog.Logger
}

// NewPolicyEngine создаёт движок политик.
func NewPolicyEngine(logger *slog.Logger) *PolicyEngine {
	return &PolicyEngine{
		logger: logger.With(slog.String("component", "policy")),
	}
}

// Apply приводит состояние peer'а к требуемому политиками.
// st — транзакционный Store группы; cli — клиент роутера peer'а.
// Ошибка возвращается только при сбое хранилища; сбой устройства
// фиксируется действием `*_failed` и не прерывает группу.
func (e *PolicyEngine) Apply(ctx context.Context, st repository.Store, cli routeros.Client, peer *model.Peer, now time.Time) error {
	overQuota, quotaNote, err := e.quotaExceeded(ctx, st, peer, now)
	if err != nil {
		return err
	}
	outsideWindow, windowNote, err := e.outsideAccessWindow(ctx, st, peer, now)
	if err != nil {
		return err
	}

	desiredDisabled := overQuota || outsideWindow

	switch {
	case desiredDisabled && !peer.Disabled:
		// Приоритет причины: квота, затем окно
		action, note := model.ActionQuotaDisable, quotaNote
		if !overQuota {
			action, note = model.ActionWindowDisable, windowNote
		}
		return e.transition(ctx, st, cli, peer, now, true, action, note)

	case !desiredDisabled && peer.Disabled:
		last, err := st.Actions().LastForPeer(ctx, peer.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil // истории нет — причина отключения неизвестна, не трогаем
			}
			return err
		}
		if !model.IsAutoDisable(last.Action) {
			return nil
		}
		action := model.ActionQuotaEnable
		if last.Action == model.ActionWindowDisable {
			action = model.ActionWindowEnable
		}
		return e.transition(ctx, st, cli, peer, now, false, action, "условия политики выполнены")
	}

	return nil
}

// quotaExceeded проверяет превышение месячного лимита.
// Месяц агрегатов — календарный UTC-месяц, как в rollup'ах.
func (e *PolicyEngine) quotaExceeded(ctx context.Context, st repository.Store, peer *model.Peer, now time.Time) (bool, string, error) {
	quota, err := st.Quotas().Get(ctx, peer.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	if quota.MonthlyLimitBytes <= 0 {
		return false, "", nil
	}

	monthKey := now.UTC().Format("2006-01")
	rx, tx, err := st.Usage().MonthTotal(ctx, peer.ID, monthKey)
	if err != nil {
		return false, "", err
	}

	used := rx + tx
	if used < quota.MonthlyLimitBytes {
		return false, "", nil
	}
	note := fmt.Sprintf("месячный лимит %d байт исчерпан (использовано %d)", quota.MonthlyLimitBytes, used)
	return true, note, nil
}

// outsideAccessWindow проверяет, находится ли текущий момент вне окна доступа.
func (e *PolicyEngine) outsideAccessWindow(ctx context.Context, st repository.Store, peer *model.Peer, now time.Time) (bool, string, error) {
	w, err := st.Windows().Get(ctx, peer.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, "", nil
		}
		return false, "", err
	}

	if w.ValidFrom != nil && now.Before(*w.ValidFrom) {
		return true, fmt.Sprintf("окно доступа начнётся %s", w.ValidFrom.Format(time.RFC3339)), nil
	}
	if w.ValidUntil != nil && now.After(*w.ValidUntil) {
		return true, fmt.Sprintf("окно доступа закончилось %s", w.ValidUntil.Format(time.RFC3339)), nil
	}
	return false, "", nil
}

// transition выполняет переход: команда роутеру, локальный флаг, журнал.
// Для peer'ов без привязки к роутеру (ros_id пуст) меняется только локальный флаг.
func (e *PolicyEngine) transition(ctx context.Context, st repository.Store, cli routeros.Client, peer *model.Peer, now time.Time, disable bool, action, note string) error {
	if peer.RosID != "" {
		if err := cli.SetPeerDisabled(ctx, peer.RosID, disable); err != nil {
			failed := action + "_failed"
			e.logger.Warn("Команда роутеру не прошла, переход отложен",
				slog.String("peer", peer.Name),
				slog.String("action", failed),
				slog.String("error", err.Error()),
			)
			policyTransitions.WithLabelValues(failed).Inc()
			return st.Actions().Append(ctx, &model.Action{
				PeerID: &peer.ID,
				TS:     now,
				Action: failed,
				Note:   err.Error(),
			})
		}
	}

	peer.Disabled = disable
	if err := st.Peers().Update(ctx, peer); err != nil {
		return err
	}

	e.logger.Info("Политика применена",
		slog.String("peer", peer.Name),
		slog.String("action", action),
		slog.String("note", note),
	)
	policyTransitions.WithLabelValues(action).Inc()
	return st.Actions().Append(ctx, &model.Action{
		PeerID: &peer.ID,
		TS:     now,
		Action: action,
		Note:   note,
	})
}
