package service

// Фейковые реализации Store и Client для юнит-тестов сервисного слоя.
// Хранилище — in-memory с поведением ErrNotFound/InTx, совпадающим
// с PostgreSQL-реализацией; откат InTx эмулируется снапшотом состояния.

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/wgmik/internal/domain/model"
	"github.com/arturkryukov/wgmik/internal/repository"
	"github.com/arturkryukov/wgmik/internal/routeros"
)

type fakeStore struct {
	mu sync.Mutex

	routers  map[uuid.UUID]*model.Router
	peers    map[uuid.UUID]*model.Peer
	samples  []*model.UsageSample
	daily    map[string]*model.UsageDaily   // peerID|day
	monthly  map[string]*model.UsageMonthly // peerID|monthKey
	quotas   map[uuid.UUID]*model.Quota
	windows  map[uuid.UUID]*model.AccessWindow
	actions  []*model.Action
	settings map[string]string
	users    map[string]*model.User

	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		routers:  make(map[uuid.UUID]*model.Router),
		peers:    make(map[uuid.UUID]*model.Peer),
		daily:    make(map[string]*model.UsageDaily),
		monthly:  make(map[string]*model.UsageMonthly),
		quotas:   make(map[uuid.UUID]*model.Quota),
		windows:  make(map[uuid.UUID]*model.AccessWindow),
		settings: make(map[string]string),
		users:    make(map[string]*model.User),
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) Routers() repository.RouterRepository       { return &fakeRouterRepo{s} }
func (s *fakeStore) Peers() repository.PeerRepository           { return &fakePeerRepo{s} }
func (s *fakeStore) Usage() repository.UsageRepository          { return &fakeUsageRepo{s} }
func (s *fakeStore) Quotas() repository.QuotaRepository         { return &fakeQuotaRepo{s} }
func (s *fakeStore) Windows() repository.AccessWindowRepository { return &fakeWindowRepo{s} }
func (s *fakeStore) Actions() repository.ActionRepository       { return &fakeActionRepo{s} }
func (s *fakeStore) Settings() repository.SettingsRepository    { return &fakeSettingsRepo{s} }
func (s *fakeStore) Users() repository.UserRepository           { return &fakeUserRepo{s} }

// InTx эмулирует транзакцию: при ошибке fn состояние откатывается
// к снапшоту. Хранимые значения никогда не мутируются на месте,
// поэтому поверхностной копии контейнеров достаточно.
func (s *fakeStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	s.mu.Lock()
	snap := s.snapshot()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

type storeSnapshot struct {
	routers  map[uuid.UUID]*model.Router
	peers    map[uuid.UUID]*model.Peer
	samples  []*model.UsageSample
	daily    map[string]*model.UsageDaily
	monthly  map[string]*model.UsageMonthly
	quotas   map[uuid.UUID]*model.Quota
	windows  map[uuid.UUID]*model.AccessWindow
	actions  []*model.Action
	settings map[string]string
	users    map[string]*model.User
	nextID   int64
}

func (s *fakeStore) snapshot() storeSnapshot {
	return storeSnapshot{
		routers:  copyMap(s.routers),
		peers:    copyMap(s.peers),
		samples:  append([]*model.UsageSample(nil), s.samples...),
		daily:    copyMap(s.daily),
		monthly:  copyMap(s.monthly),
		quotas:   copyMap(s.quotas),
		windows:  copyMap(s.windows),
		actions:  append([]*model.Action(nil), s.actions...),
		settings: copyMap(s.settings),
		users:    copyMap(s.users),
		nextID:   s.nextID,
	}
}

func (s *fakeStore) restore(snap storeSnapshot) {
	s.routers = snap.routers
	s.peers = snap.peers
	s.samples = snap.samples
	s.daily = snap.daily
	s.monthly = snap.monthly
	s.quotas = snap.quotas
	s.windows = snap.windows
	s.actions = snap.actions
	s.settings = snap.settings
	s.users = snap.users
	s.nextID = snap.nextID
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// --- роутеры ---

type fakeRouterRepo struct{ s *fakeStore }

func (r *fakeRouterRepo) Create(ctx context.Context, router *model.Router) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if router.ID == uuid.Nil {
		router.ID = uuid.New()
	}
	cp := *router
	r.s.routers[router.ID] = &cp
	return nil
}

func (r *fakeRouterRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Router, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	router, ok := r.s.routers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *router
	return &cp, nil
}

func (r *fakeRouterRepo) List(ctx context.Context) ([]*model.Router, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.Router, 0, len(r.s.routers))
	for _, router := range r.s.routers {
		cp := *router
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRouterRepo) Update(ctx context.Context, router *model.Router) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.routers[router.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *router
	r.s.routers[router.ID] = &cp
	return nil
}

func (r *fakeRouterRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.routers[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.routers, id)
	return nil
}

// --- peer'ы ---

type fakePeerRepo struct{ s *fakeStore }

func (r *fakePeerRepo) Create(ctx context.Context, p *model.Peer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	for _, other := range r.s.peers {
		if other.RouterID == p.RouterID && other.Interface == p.Interface && other.PublicKey == p.PublicKey {
			return repository.ErrConflict
		}
	}
	cp := *p
	r.s.peers[p.ID] = &cp
	return nil
}

func (r *fakePeerRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Peer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.peers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakePeerRepo) FindByKey(ctx context.Context, routerID uuid.UUID, iface, publicKey string) (*model.Peer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.peers {
		if p.RouterID == routerID && p.Interface == iface && p.PublicKey == publicKey {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakePeerRepo) List(ctx context.Context, f repository.PeerFilter) ([]*model.Peer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Peer
	for _, p := range r.s.peers {
		if f.RouterID != nil && p.RouterID != *f.RouterID {
			continue
		}
		if f.Interface != nil && p.Interface != *f.Interface {
			continue
		}
		if f.SelectedOnly && !p.Selected {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fakePeerRepo) ListSelected(ctx context.Context) ([]*model.Peer, error) {
	return r.List(ctx, repository.PeerFilter{SelectedOnly: true})
}

func (r *fakePeerRepo) Update(ctx context.Context, p *model.Peer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.peers[p.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *p
	r.s.peers[p.ID] = &cp
	return nil
}

func (r *fakePeerRepo) SetSelected(ctx context.Context, id uuid.UUID, selected bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.peers[id]
	if !ok {
		return repository.ErrNotFound
	}
	cp := *p
	cp.Selected = selected
	r.s.peers[id] = &cp
	return nil
}

func (r *fakePeerRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.peers[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.peers, id)
	return nil
}

func (r *fakePeerRepo) DeleteAll(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := int64(len(r.s.peers))
	r.s.peers = make(map[uuid.UUID]*model.Peer)
	return n, nil
}

// --- метрики ---

type fakeUsageRepo struct{ s *fakeStore }

func dailyKey(peerID uuid.UUID, day string) string { return peerID.String() + "|" + day }

func (r *fakeUsageRepo) AppendSample(ctx context.Context, smp *model.UsageSample) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *smp
	cp.ID = r.s.id()
	smp.ID = cp.ID
	r.s.samples = append(r.s.samples, &cp)
	return nil
}

func (r *fakeUsageRepo) LastSample(ctx context.Context, peerID uuid.UUID) (*model.UsageSample, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.samples) - 1; i >= 0; i-- {
		if r.s.samples[i].PeerID == peerID {
			cp := *r.s.samples[i]
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUsageRepo) SamplesSince(ctx context.Context, peerID uuid.UUID, since time.Time) ([]*model.UsageSample, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.UsageSample
	for _, smp := range r.s.samples {
		if smp.PeerID == peerID && !smp.TS.Before(since) {
			cp := *smp
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeUsageRepo) AddDaily(ctx context.Context, peerID uuid.UUID, day string, rx, tx int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := dailyKey(peerID, day)
	if cur, ok := r.s.daily[key]; ok {
		cp := *cur
		cp.Rx += rx
		cp.Tx += tx
		r.s.daily[key] = &cp
		return nil
	}
	r.s.daily[key] = &model.UsageDaily{ID: r.s.id(), PeerID: peerID, Day: day, Rx: rx, Tx: tx}
	return nil
}

func (r *fakeUsageRepo) AddMonthly(ctx context.Context, peerID uuid.UUID, monthKey string, rx, tx int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := dailyKey(peerID, monthKey)
	if cur, ok := r.s.monthly[key]; ok {
		cp := *cur
		cp.Rx += rx
		cp.Tx += tx
		r.s.monthly[key] = &cp
		return nil
	}
	r.s.monthly[key] = &model.UsageMonthly{ID: r.s.id(), PeerID: peerID, MonthKey: monthKey, Rx: rx, Tx: tx}
	return nil
}

func (r *fakeUsageRepo) DailyForPeer(ctx context.Context, peerID uuid.UUID, fromDay string) ([]*model.UsageDaily, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.UsageDaily
	for _, d := range r.s.daily {
		if d.PeerID == peerID && d.Day >= fromDay {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (r *fakeUsageRepo) MonthTotal(ctx context.Context, peerID uuid.UUID, monthKey string) (int64, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.monthly[dailyKey(peerID, monthKey)]; ok {
		return m.Rx, m.Tx, nil
	}
	var rx, tx int64
	prefix := monthKey + "-"
	for _, d := range r.s.daily {
		if d.PeerID == peerID && len(d.Day) > len(prefix) && d.Day[:len(prefix)] == prefix {
			rx += d.Rx
			tx += d.Tx
		}
	}
	return rx, tx, nil
}

func (r *fakeUsageRepo) SummaryByDay(ctx context.Context, fromDay string) ([]repository.DaySummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	byDay := make(map[string]*repository.DaySummary)
	for _, d := range r.s.daily {
		p, ok := r.s.peers[d.PeerID]
		if !ok || !p.Selected || d.Day < fromDay {
			continue
		}
		sum, ok := byDay[d.Day]
		if !ok {
			sum = &repository.DaySummary{Day: d.Day}
			byDay[d.Day] = sum
		}
		sum.Rx += d.Rx
		sum.Tx += d.Tx
	}
	out := make([]repository.DaySummary, 0, len(byDay))
	for _, sum := range byDay {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (r *fakeUsageRepo) ResetPeer(ctx context.Context, peerID uuid.UUID) (repository.ResetCounts, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var counts repository.ResetCounts
	var kept []*model.UsageSample
	for _, smp := range r.s.samples {
		if smp.PeerID != peerID {
			kept = append(kept, smp)
		} else {
			counts.Samples++
		}
	}
	r.s.samples = kept
	for k, d := range r.s.daily {
		if d.PeerID == peerID {
			delete(r.s.daily, k)
			counts.Daily++
		}
	}
	for k, m := range r.s.monthly {
		if m.PeerID == peerID {
			delete(r.s.monthly, k)
			counts.Monthly++
		}
	}
	return counts, nil
}

func (r *fakeUsageRepo) PurgeAll(ctx context.Context) (repository.ResetCounts, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := repository.ResetCounts{
		Samples: int64(len(r.s.samples)),
		Daily:   int64(len(r.s.daily)),
		Monthly: int64(len(r.s.monthly)),
	}
	r.s.samples = nil
	r.s.daily = make(map[string]*model.UsageDaily)
	r.s.monthly = make(map[string]*model.UsageMonthly)
	return counts, nil
}

// --- квоты и окна ---

type fakeQuotaRepo struct{ s *fakeStore }

func (r *fakeQuotaRepo) Get(ctx context.Context, peerID uuid.UUID) (*model.Quota, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	q, ok := r.s.quotas[peerID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (r *fakeQuotaRepo) Upsert(ctx context.Context, q *model.Quota) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *q
	if cp.ID == 0 {
		cp.ID = r.s.id()
	}
	r.s.quotas[q.PeerID] = &cp
	return nil
}

type fakeWindowRepo struct{ s *fakeStore }

func (r *fakeWindowRepo) Get(ctx context.Context, peerID uuid.UUID) (*model.AccessWindow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.windows[peerID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *fakeWindowRepo) Upsert(ctx context.Context, w *model.AccessWindow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *w
	if cp.ID == 0 {
		cp.ID = r.s.id()
	}
	r.s.windows[w.PeerID] = &cp
	return nil
}

// --- журнал ---

type fakeActionRepo struct{ s *fakeStore }

func (r *fakeActionRepo) Append(ctx context.Context, a *model.Action) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *a
	cp.ID = r.s.id()
	a.ID = cp.ID
	r.s.actions = append(r.s.actions, &cp)
	return nil
}

func (r *fakeActionRepo) LastForPeer(ctx context.Context, peerID uuid.UUID) (*model.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.actions) - 1; i >= 0; i-- {
		a := r.s.actions[i]
		if a.PeerID != nil && *a.PeerID == peerID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeActionRepo) ListForPeer(ctx context.Context, peerID uuid.UUID, limit int) ([]*model.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Action
	for i := len(r.s.actions) - 1; i >= 0 && len(out) < limit; i-- {
		a := r.s.actions[i]
		if a.PeerID != nil && *a.PeerID == peerID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeActionRepo) List(ctx context.Context, limit int) ([]*model.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Action
	for i := len(r.s.actions) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *r.s.actions[i]
		out = append(out, &cp)
	}
	return out, nil
}

// actionsOf возвращает виды действий peer'а в хронологическом порядке.
func (s *fakeStore) actionsOf(peerID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, a := range s.actions {
		if a.PeerID != nil && *a.PeerID == peerID {
			out = append(out, a.Action)
		}
	}
	return out
}

// --- настройки ---

type fakeSettingsRepo struct{ s *fakeStore }

func (r *fakeSettingsRepo) Get(ctx context.Context, key string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.settings[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return v, nil
}

func (r *fakeSettingsRepo) Set(ctx context.Context, key, value string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.settings[key] = value
	return nil
}

func (r *fakeSettingsRepo) All(ctx context.Context) (map[string]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return copyMap(r.s.settings), nil
}

// --- пользователи ---

type fakeUserRepo struct{ s *fakeStore }

func (r *fakeUserRepo) Create(ctx context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.Username]; ok {
		return repository.ErrConflict
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	cp := *u
	r.s.users[u.Username] = &cp
	return nil
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) Count(ctx context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.users), nil
}

// --- фейковый клиент роутера ---

// fakeClient — Client с заранее заданными peer'ами по интерфейсам.
// setErr/listErr имитируют сбои устройства; setCalls фиксирует команды.
type fakeClient struct {
	mu         sync.Mutex
	peersByIf  map[string][]routeros.PeerSnapshot
	interfaces []string
	primaryIP  string

	listErr error
	setErr  error

	setCalls []setCall
}

type setCall struct {
	rosID    string
	disabled bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{peersByIf: make(map[string][]routeros.PeerSnapshot)}
}

func (c *fakeClient) ListInterfaces(ctx context.Context) ([]string, error) {
	return c.interfaces, nil
}

func (c *fakeClient) GetInterface(ctx context.Context, name string) (*routeros.InterfaceConfig, error) {
	for _, n := range c.interfaces {
		if n == name {
			return &routeros.InterfaceConfig{Name: n}, nil
		}
	}
	return nil, fmt.Errorf("%w: интерфейс %s не найден", routeros.ErrRejected, name)
}

func (c *fakeClient) ListPeers(ctx context.Context, iface string) ([]routeros.PeerSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	return append([]routeros.PeerSnapshot(nil), c.peersByIf[iface]...), nil
}

func (c *fakeClient) SetPeerDisabled(ctx context.Context, rosID string, disabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.setCalls = append(c.setCalls, setCall{rosID: rosID, disabled: disabled})
	for iface, snaps := range c.peersByIf {
		for i := range snaps {
			if snaps[i].RosID == rosID {
				c.peersByIf[iface][i].Disabled = disabled
			}
		}
	}
	return nil
}

func (c *fakeClient) AddPeer(ctx context.Context, p routeros.NewPeer) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rosID := fmt.Sprintf("*%X", len(c.peersByIf[p.Interface])+1)
	c.peersByIf[p.Interface] = append(c.peersByIf[p.Interface], routeros.PeerSnapshot{
		RosID:          rosID,
		Interface:      p.Interface,
		Name:           p.Name,
		PublicKey:      p.PublicKey,
		AllowedAddress: p.AllowedAddress,
		Disabled:       p.Disabled,
	})
	return rosID, nil
}

func (c *fakeClient) RemovePeer(ctx context.Context, rosID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for iface, snaps := range c.peersByIf {
		for i, snap := range snaps {
			if snap.RosID == rosID {
				c.peersByIf[iface] = append(snaps[:i], snaps[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: peer %s не найден", routeros.ErrRejected, rosID)
}

func (c *fakeClient) PrimaryIPv4(ctx context.Context) (string, error) {
	return c.primaryIP, nil
}

// setCounters выставляет счётчики peer'а на интерфейсе.
func (c *fakeClient) setCounters(iface, publicKey string, rx, tx int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.peersByIf[iface] {
		if c.peersByIf[iface][i].PublicKey == publicKey {
			c.peersByIf[iface][i].RxBytes = rx
			c.peersByIf[iface][i].TxBytes = tx
		}
	}
}
