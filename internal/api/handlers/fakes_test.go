package handlers

// In-memory Store и Client для тестов обработчиков.
// Откат транзакций здесь не эмулируется: тесты обработчиков не
// проверяют частичные сбои записи, для этого есть тесты сервисного слоя.

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/wgmik/internal/domain/model"
	"github.com/arturkryukov/wgmik/internal/repository"
	"github.com/arturkryukov/wgmik/internal/routeros"
)

type memStore struct {
	mu sync.Mutex

	routers  []*model.Router
	peers    []*model.Peer
	samples  []*model.UsageSample
	daily    []*model.UsageDaily
	monthly  []*model.UsageMonthly
	quotas   []*model.Quota
	windows  []*model.AccessWindow
	actions  []*model.Action
	settings map[string]string
	users    []*model.User

	seq int64
}

func newMemStore() *memStore {
	return &memStore{settings: make(map[string]string)}
}

func (s *memStore) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *memStore) Routers() repository.RouterRepository       { return memRouters{s} }
func (s *memStore) Peers() repository.PeerRepository           { return memPeers{s} }
func (s *memStore) Usage() repository.UsageRepository          { return memUsage{s} }
func (s *memStore) Quotas() repository.QuotaRepository         { return memQuotas{s} }
func (s *memStore) Windows() repository.AccessWindowRepository { return memWindows{s} }
func (s *memStore) Actions() repository.ActionRepository       { return memActions{s} }
func (s *memStore) Settings() repository.SettingsRepository    { return memSettings{s} }
func (s *memStore) Users() repository.UserRepository           { return memUsers{s} }

func (s *memStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	return fn(s)
}

// lastAction возвращает последнее действие peer'а или "".
func (s *memStore) lastAction(peerID uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.actions) - 1; i >= 0; i-- {
		if s.actions[i].PeerID != nil && *s.actions[i].PeerID == peerID {
			return s.actions[i].Action
		}
	}
	return ""
}

type memRouters struct{ s *memStore }

func (r memRouters) Create(ctx context.Context, router *model.Router) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if router.ID == uuid.Nil {
		router.ID = uuid.New()
	}
	cp := *router
	r.s.routers = append(r.s.routers, &cp)
	return nil
}

func (r memRouters) GetByID(ctx context.Context, id uuid.UUID) (*model.Router, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, router := range r.s.routers {
		if router.ID == id {
			cp := *router
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memRouters) List(ctx context.Context) ([]*model.Router, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.Router, 0, len(r.s.routers))
	for _, router := range r.s.routers {
		cp := *router
		out = append(out, &cp)
	}
	return out, nil
}

func (r memRouters) Update(ctx context.Context, router *model.Router) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, cur := range r.s.routers {
		if cur.ID == router.ID {
			cp := *router
			r.s.routers[i] = &cp
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r memRouters) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, cur := range r.s.routers {
		if cur.ID == id {
			r.s.routers = append(r.s.routers[:i], r.s.routers[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

type memPeers struct{ s *memStore }

func (r memPeers) Create(ctx context.Context, p *model.Peer) error {
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
	r.s.peers = append(r.s.peers, &cp)
	return nil
}

func (r memPeers) GetByID(ctx context.Context, id uuid.UUID) (*model.Peer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.peers {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memPeers) FindByKey(ctx context.Context, routerID uuid.UUID, iface, publicKey string) (*model.Peer, error) {
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

func (r memPeers) List(ctx context.Context, f repository.PeerFilter) ([]*model.Peer, error) {
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

func (r memPeers) ListSelected(ctx context.Context) ([]*model.Peer, error) {
	return r.List(ctx, repository.PeerFilter{SelectedOnly: true})
}

func (r memPeers) Update(ctx context.Context, p *model.Peer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, cur := range r.s.peers {
		if cur.ID == p.ID {
			cp := *p
			r.s.peers[i] = &cp
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r memPeers) SetSelected(ctx context.Context, id uuid.UUID, selected bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, cur := range r.s.peers {
		if cur.ID == id {
			cp := *cur
			cp.Selected = selected
			r.s.peers[i] = &cp
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r memPeers) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, cur := range r.s.peers {
		if cur.ID == id {
			r.s.peers = append(r.s.peers[:i], r.s.peers[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r memPeers) DeleteAll(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := int64(len(r.s.peers))
	r.s.peers = nil
	return n, nil
}

type memUsage struct{ s *memStore }

func (r memUsage) AppendSample(ctx context.Context, smp *model.UsageSample) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *smp
	cp.ID = r.s.nextID()
	r.s.samples = append(r.s.samples, &cp)
	return nil
}

func (r memUsage) LastSample(ctx context.Context, peerID uuid.UUID) (*model.UsageSample, error) {
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

func (r memUsage) SamplesSince(ctx context.Context, peerID uuid.UUID, since time.Time) ([]*model.UsageSample, error) {
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

func (r memUsage) AddDaily(ctx context.Context, peerID uuid.UUID, day string, rx, tx int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range r.s.daily {
		if d.PeerID == peerID && d.Day == day {
			d.Rx += rx
			d.Tx += tx
			return nil
		}
	}
	r.s.daily = append(r.s.daily, &model.UsageDaily{ID: r.s.nextID(), PeerID: peerID, Day: day, Rx: rx, Tx: tx})
	return nil
}

func (r memUsage) AddMonthly(ctx context.Context, peerID uuid.UUID, monthKey string, rx, tx int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.monthly {
		if m.PeerID == peerID && m.MonthKey == monthKey {
			m.Rx += rx
			m.Tx += tx
			return nil
		}
	}
	r.s.monthly = append(r.s.monthly, &model.UsageMonthly{ID: r.s.nextID(), PeerID: peerID, MonthKey: monthKey, Rx: rx, Tx: tx})
	return nil
}

func (r memUsage) DailyForPeer(ctx context.Context, peerID uuid.UUID, fromDay string) ([]*model.UsageDaily, error) {
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

func (r memUsage) MonthTotal(ctx context.Context, peerID uuid.UUID, monthKey string) (int64, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.monthly {
		if m.PeerID == peerID && m.MonthKey == monthKey {
			return m.Rx, m.Tx, nil
		}
	}
	var rx, tx int64
	for _, d := range r.s.daily {
		if d.PeerID == peerID && strings.HasPrefix(d.Day, monthKey+"-") {
			rx += d.Rx
			tx += d.Tx
		}
	}
	return rx, tx, nil
}

func (r memUsage) SummaryByDay(ctx context.Context, fromDay string) ([]repository.DaySummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	selected := make(map[uuid.UUID]bool)
	for _, p := range r.s.peers {
		if p.Selected {
			selected[p.ID] = true
		}
	}
	byDay := make(map[string]*repository.DaySummary)
	for _, d := range r.s.daily {
		if !selected[d.PeerID] || d.Day < fromDay {
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

func (r memUsage) ResetPeer(ctx context.Context, peerID uuid.UUID) (repository.ResetCounts, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var counts repository.ResetCounts
	var samples []*model.UsageSample
	for _, smp := range r.s.samples {
		if smp.PeerID == peerID {
			counts.Samples++
		} else {
			samples = append(samples, smp)
		}
	}
	r.s.samples = samples
	var daily []*model.UsageDaily
	for _, d := range r.s.daily {
		if d.PeerID == peerID {
			counts.Daily++
		} else {
			daily = append(daily, d)
		}
	}
	r.s.daily = daily
	var monthly []*model.UsageMonthly
	for _, m := range r.s.monthly {
		if m.PeerID == peerID {
			counts.Monthly++
		} else {
			monthly = append(monthly, m)
		}
	}
	r.s.monthly = monthly
	return counts, nil
}

func (r memUsage) PurgeAll(ctx context.Context) (repository.ResetCounts, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := repository.ResetCounts{
		Samples: int64(len(r.s.samples)),
		Daily:   int64(len(r.s.daily)),
		Monthly: int64(len(r.s.monthly)),
	}
	r.s.samples, r.s.daily, r.s.monthly = nil, nil, nil
	return counts, nil
}

type memQuotas struct{ s *memStore }

func (r memQuotas) Get(ctx context.Context, peerID uuid.UUID) (*model.Quota, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, q := range r.s.quotas {
		if q.PeerID == peerID {
			cp := *q
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memQuotas) Upsert(ctx context.Context, q *model.Quota) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, cur := range r.s.quotas {
		if cur.PeerID == q.PeerID {
			cp := *q
			cp.ID = cur.ID
			r.s.quotas[i] = &cp
			return nil
		}
	}
	cp := *q
	cp.ID = r.s.nextID()
	r.s.quotas = append(r.s.quotas, &cp)
	return nil
}

type memWindows struct{ s *memStore }

func (r memWindows) Get(ctx context.Context, peerID uuid.UUID) (*model.AccessWindow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.windows {
		if w.PeerID == peerID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memWindows) Upsert(ctx context.Context, w *model.AccessWindow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, cur := range r.s.windows {
		if cur.PeerID == w.PeerID {
			cp := *w
			cp.ID = cur.ID
			r.s.windows[i] = &cp
			return nil
		}
	}
	cp := *w
	cp.ID = r.s.nextID()
	r.s.windows = append(r.s.windows, &cp)
	return nil
}

type memActions struct{ s *memStore }

func (r memActions) Append(ctx context.Context, a *model.Action) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *a
	cp.ID = r.s.nextID()
	r.s.actions = append(r.s.actions, &cp)
	return nil
}

func (r memActions) LastForPeer(ctx context.Context, peerID uuid.UUID) (*model.Action, error) {
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

func (r memActions) ListForPeer(ctx context.Context, peerID uuid.UUID, limit int) ([]*model.Action, error) {
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

func (r memActions) List(ctx context.Context, limit int) ([]*model.Action, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Action
	for i := len(r.s.actions) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *r.s.actions[i]
		out = append(out, &cp)
	}
	return out, nil
}

type memSettings struct{ s *memStore }

func (r memSettings) Get(ctx context.Context, key string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.settings[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return v, nil
}

func (r memSettings) Set(ctx context.Context, key, value string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.settings[key] = value
	return nil
}

func (r memSettings) All(ctx context.Context) (map[string]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]string, len(r.s.settings))
	for k, v := range r.s.settings {
		out[k] = v
	}
	return out, nil
}

type memUsers struct{ s *memStore }

func (r memUsers) Create(ctx context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, cur := range r.s.users {
		if cur.Username == u.Username {
			return repository.ErrConflict
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	cp := *u
	r.s.users = append(r.s.users, &cp)
	return nil
}

func (r memUsers) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memUsers) Count(ctx context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.users), nil
}

// --- фейковый клиент роутера ---

// memClient — Client с заранее заданным живым состоянием.
type memClient struct {
	mu         sync.Mutex
	interfaces []string
	peersByIf  map[string][]routeros.PeerSnapshot
	primaryIP  string

	failAll bool // все запросы падают с ErrUnreachable

	disabledCalls []string // rosID в порядке вызовов SetPeerDisabled
	removedIDs    []string
}

func newMemClient() *memClient {
	return &memClient{peersByIf: make(map[string][]routeros.PeerSnapshot)}
}

func (c *memClient) ListInterfaces(ctx context.Context) ([]string, error) {
	if c.failAll {
		return nil, fmt.Errorf("%w: connection refused", routeros.ErrUnreachable)
	}
	return c.interfaces, nil
}

func (c *memClient) GetInterface(ctx context.Context, name string) (*routeros.InterfaceConfig, error) {
	if c.failAll {
		return nil, fmt.Errorf("%w: connection refused", routeros.ErrUnreachable)
	}
	for _, n := range c.interfaces {
		if n == name {
			return &routeros.InterfaceConfig{Name: n, PublicKey: "pub-" + n, ListenPort: 13231}, nil
		}
	}
	return nil, fmt.Errorf("%w: интерфейс %s не найден", routeros.ErrRejected, name)
}

func (c *memClient) ListPeers(ctx context.Context, iface string) ([]routeros.PeerSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return nil, fmt.Errorf("%w: connection refused", routeros.ErrUnreachable)
	}
	return append([]routeros.PeerSnapshot(nil), c.peersByIf[iface]...), nil
}

func (c *memClient) SetPeerDisabled(ctx context.Context, rosID string, disabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return fmt.Errorf("%w: connection refused", routeros.ErrUnreachable)
	}
	c.disabledCalls = append(c.disabledCalls, rosID)
	return nil
}

func (c *memClient) AddPeer(ctx context.Context, p routeros.NewPeer) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return "", fmt.Errorf("%w: connection refused", routeros.ErrUnreachable)
	}
	rosID := fmt.Sprintf("*A%d", len(c.peersByIf[p.Interface])+1)
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

func (c *memClient) RemovePeer(ctx context.Context, rosID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return fmt.Errorf("%w: connection refused", routeros.ErrUnreachable)
	}
	c.removedIDs = append(c.removedIDs, rosID)
	return nil
}

func (c *memClient) PrimaryIPv4(ctx context.Context) (string, error) {
	if c.failAll {
		return "", fmt.Errorf("%w: connection refused", routeros.ErrUnreachable)
	}
	return c.primaryIP, nil
}
