// poller.go — цикл опроса роутеров и сверки peer'ов.
//
// Один цикл:
//  1. Загрузить все учитываемые peer'ы и сгруппировать по (роутер, интерфейс).
//  2. Для каждой группы запросить живые peer'ы интерфейса. Недоступный
//     роутер или отсутствующая запись роутера — пропуск группы, остальные
//     группы не страдают.
//  3. В транзакции группы: сверить идентичность, принять внешнее
//     состояние disabled, записать наблюдение, вычислить дельту,
//     обновить агрегаты, применить политики.
//
// Группы обрабатываются параллельно (до 5 одновременно). Повторный
// запуск при незавершённом цикле не выполняется (skipped).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/wgmik/internal/domain/model"
	"github.com/arturkryukov/wgmik/internal/repository"
	"github.com/arturkryukov/wgmik/internal/routeros"
)

// Prometheus-метрики цикла опроса.
var (
	pollRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wm_poll_runs_total",
		Help: "Количество циклов опроса",
	}, []string{"result"}) // result: ok, skipped

	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wm_poll_duration_seconds",
		Help:    "Длительность цикла опроса",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms … ~102s
	})

	pollGroupErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wm_poll_group_errors_total",
		Help: "Количество пропущенных групп (роутер, интерфейс) за все циклы",
	}, []string{"reason"}) // reason: unreachable, config, storage

	counterResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wm_counter_resets_total",
		Help: "Количество обнаруженных сбросов счётчиков",
	})
)

// Максимум одновременно опрашиваемых групп.
const maxGroupConcurrency = 5

// CycleResult — итог одного цикла опроса.
type CycleResult struct {
	Groups      int
	GroupErrors int
	PeersPolled int
	StartedAt   time.Time
	Duration    time.Duration
}

// groupKey — ключ группировки peer'ов.
type groupKey struct {
	routerID uuid.UUID
	iface    string
}

// Poller — сервис сверки состояния peer'ов с роутерами.
type Poller struct {
	store   repository.Store
	factory routeros.ClientFactory
	policy  *PolicyEngine
	logger  *slog.Logger

	mu        sync.Mutex
	inProcess bool
}

// NewPoller создаёт сервис опроса.
func NewPoller(store repository.Store, factory routeros.ClientFactory, policy *PolicyEngine, logger *slog.Logger) *Poller {
	return &Poller{
		store:   store,
		factory: factory,
		policy:  policy,
		logger:  logger.With(slog.String("component", "poller")),
	}
}

// RunOnce выполняет один цикл опроса.
// Возвращает (nil, true), если предыдущий цикл ещё не завершён.
func (p *Poller) RunOnce(ctx context.Context) (*CycleResult, bool) {
	p.mu.Lock()
	if p.inProcess {
		p.mu.Unlock()
		p.logger.Warn("Предыдущий цикл опроса ещё выполняется, пропуск")
		pollRuns.WithLabelValues("skipped").Inc()
		return nil, true
	}
	p.inProcess = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inProcess = false
		p.mu.Unlock()
	}()

	now := time.Now().UTC()
	result := &CycleResult{StartedAt: now}

	defer func() {
		result.Duration = time.Since(now)
		pollDuration.Observe(result.Duration.Seconds())
		pollRuns.WithLabelValues("ok").Inc()
	}()

	peers, err := p.store.Peers().ListSelected(ctx)
	if err != nil {
		p.logger.Error("Ошибка загрузки peer'ов", slog.String("error", err.Error()))
		pollGroupErrors.WithLabelValues("storage").Inc()
		result.GroupErrors++
		return result, false
	}
	if len(peers) == 0 {
		return result, false
	}

	// Группировка по (роутер, интерфейс)
	groups := make(map[groupKey][]*model.Peer)
	for _, peer := range peers {
		key := groupKey{routerID: peer.RouterID, iface: peer.Interface}
		groups[key] = append(groups[key], peer)
	}
	result.Groups = len(groups)

	// Кэш роутеров на цикл
	routerCache := make(map[uuid.UUID]*model.Router)
	for key := range groups {
		if _, ok := routerCache[key.routerID]; ok {
			continue
		}
		router, err := p.store.Routers().GetByID(ctx, key.routerID)
		if err != nil {
			// Несогласованность: peer ссылается на отсутствующий роутер
			routerCache[key.routerID] = nil
			continue
		}
		routerCache[key.routerID] = router
	}

	// Параллельная обработка групп с ограничением concurrency
	sem := make(chan struct{}, maxGroupConcurrency)
	var wg sync.WaitGroup
	var resMu sync.Mutex

	for key, groupPeers := range groups {
		wg.Add(1)
		go func(key groupKey, groupPeers []*model.Peer) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			polled, err := p.pollGroup(ctx, routerCache[key.routerID], key.iface, groupPeers, now)

			resMu.Lock()
			defer resMu.Unlock()
			result.PeersPolled += polled
			if err != nil {
				result.GroupErrors++
				p.logger.Warn("Группа пропущена",
					slog.String("router_id", key.routerID.String()),
					slog.String("interface", key.iface),
					slog.String("error", err.Error()),
				)
			}
		}(key, groupPeers)
	}
	wg.Wait()

	p.logger.Info("Цикл опроса завершён",
		slog.Int("groups", result.Groups),
		slog.Int("group_errors", result.GroupErrors),
		slog.Int("peers_polled", result.PeersPolled),
	)
	return result, false
}

// pollGroup обрабатывает одну группу (роутер, интерфейс).
// Все изменения группы пишутся в одной транзакции: сбой откатывает
// только эту группу.
func (p *Poller) pollGroup(ctx context.Context, router *model.Router, iface string, groupPeers []*model.Peer, now time.Time) (int, error) {
	if router == nil {
		pollGroupErrors.WithLabelValues("config").Inc()
		return 0, errors.New("роутер группы отсутствует в реестре")
	}

	client, err := p.factory(router)
	if err != nil {
		pollGroupErrors.WithLabelValues("config").Inc()
		return 0, fmt.Errorf("создание клиента роутера: %w", err)
	}

	live, err := client.ListPeers(ctx, iface)
	if err != nil {
		pollGroupErrors.WithLabelValues("unreachable").Inc()
		return 0, fmt.Errorf("опрос интерфейса %s: %w", iface, err)
	}

	liveByPub := make(map[string]routeros.PeerSnapshot, len(live))
	for _, lp := range live {
		liveByPub[lp.PublicKey] = lp
	}

	polled := 0
	err = p.store.InTx(ctx, func(tx repository.Store) error {
		for _, peer := range groupPeers {
			if err := p.pollPeer(ctx, tx, client, peer, liveByPub, now); err != nil {
				return fmt.Errorf("peer %s: %w", peer.PublicKey, err)
			}
			polled++
		}
		return nil
	})
	if err != nil {
		pollGroupErrors.WithLabelValues("storage").Inc()
		return 0, err
	}
	return polled, nil
}

// pollPeer сверяет один peer с живым состоянием и ведёт учёт.
func (p *Poller) pollPeer(ctx context.Context, tx repository.Store, client routeros.Client, peer *model.Peer, liveByPub map[string]routeros.PeerSnapshot, now time.Time) error {
	lp, ok := liveByPub[peer.PublicKey]
	if !ok {
		// Peer исчез с роутера: выводим из учёта, локальную запись храним
		peer.Selected = false
		if err := tx.Peers().Update(ctx, peer); err != nil {
			return err
		}
		p.logger.Warn("Peer не найден на роутере, выведен из учёта",
			slog.String("peer", peer.Name),
			slog.String("public_key", peer.PublicKey),
		)
		return tx.Actions().Append(ctx, &model.Action{
			PeerID: &peer.ID,
			TS:     now,
			Action: model.ActionRouterMissing,
			Note:   "peer отсутствует на интерфейсе " + peer.Interface,
		})
	}

	// Сверка идентичности: ros_id, имя и адрес берём с роутера
	if peer.RosID != lp.RosID || peer.Name != lp.Name || peer.AllowedAddress != lp.AllowedAddress {
		peer.RosID = lp.RosID
		peer.Name = lp.Name
		peer.AllowedAddress = lp.AllowedAddress
		if err := tx.Peers().Update(ctx, peer); err != nil {
			return err
		}
	}

	// Принятие внешнего изменения состояния на роутере
	if peer.Disabled != lp.Disabled {
		peer.Disabled = lp.Disabled
		if err := tx.Peers().Update(ctx, peer); err != nil {
			return err
		}
		action := model.ActionRouterEnable
		if lp.Disabled {
			action = model.ActionRouterDisable
		}
		if err := tx.Actions().Append(ctx, &model.Action{
			PeerID: &peer.ID,
			TS:     now,
			Action: action,
			Note:   "состояние изменено на роутере",
		}); err != nil {
			return err
		}
	}

	// Предыдущее наблюдение — до записи нового
	prev, err := tx.Usage().LastSample(ctx, peer.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		prev = nil
	}

	sample := &model.UsageSample{
		PeerID:   peer.ID,
		TS:       now,
		Rx:       lp.RxBytes,
		Tx:       lp.TxBytes,
		Endpoint: lp.Endpoint,
	}
	if err := tx.Usage().AppendSample(ctx, sample); err != nil {
		return err
	}

	delta := ComputeDelta(prev, lp.RxBytes, lp.TxBytes)
	if delta.Reset() {
		counterResets.Inc()
		note := fmt.Sprintf("счётчики уменьшились: rx %d→%d, tx %d→%d", prev.Rx, lp.RxBytes, prev.Tx, lp.TxBytes)
		if err := tx.Actions().Append(ctx, &model.Action{
			PeerID: &peer.ID,
			TS:     now,
			Action: model.ActionCounterReset,
			Note:   note,
		}); err != nil {
			return err
		}
	}

	// Нулевые дельты не создают строк агрегатов
	if delta.Rx > 0 || delta.Tx > 0 {
		dayKey := now.Format("2006-01-02")
		monthKey := now.Format("2006-01")
		if err := tx.Usage().AddDaily(ctx, peer.ID, dayKey, delta.Rx, delta.Tx); err != nil {
			return err
		}
		if err := tx.Usage().AddMonthly(ctx, peer.ID, monthKey, delta.Rx, delta.Tx); err != nil {
			return err
		}
	}

	return p.policy.Apply(ctx, tx, client, peer, now)
}
