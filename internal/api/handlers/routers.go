// routers.go — CRUD роутеров и операции с живым состоянием устройств:
// проверка подключения, интерфейсы, живые peer'ы, импорт в учёт.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/wgmik/internal/api/errors"
	"github.com/arturkryukov/wgmik/internal/domain/model"
	"github.com/arturkryukov/wgmik/internal/repository"
	"github.com/arturkryukov/wgmik/internal/routeros"
)

// RouterDTO — роутер в ответах API. Пароль не возвращается никогда.
type RouterDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Host      string `json:"host"`
	Proto     string `json:"proto"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	TLSVerify bool   `json:"tls_verify"`
}

func routerToDTO(r *model.Router) RouterDTO {
	return RouterDTO{
		ID:        r.ID.String(),
		Name:      r.Name,
		Host:      r.Host,
		Proto:     r.Proto,
		Port:      r.Port,
		Username:  r.Username,
		TLSVerify: r.TLSVerify,
	}
}

// RouterCreateRequest — тело POST /api/v1/routers.
type RouterCreateRequest struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Proto     string `json:"proto"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	TLSVerify *bool  `json:"tls_verify"`
}

// RouterUpdateRequest — тело PATCH /api/v1/routers/{id}. Все поля опциональны.
type RouterUpdateRequest struct {
	Name      *string `json:"name"`
	Host      *string `json:"host"`
	Proto     *string `json:"proto"`
	Port      *int    `json:"port"`
	Username  *string `json:"username"`
	Password  *string `json:"password"`
	TLSVerify *bool   `json:"tls_verify"`
}

// ListRouters возвращает все зарегистрированные роутеры.
func (h *Handler) ListRouters(w http.ResponseWriter, r *http.Request) {
	routers, err := h.store.Routers().List(r.Context())
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}

	result := make([]RouterDTO, 0, len(routers))
	for _, rt := range routers {
		result = append(result, routerToDTO(rt))
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateRouter регистрирует новый роутер. Пароль шифруется перед записью.
func (h *Handler) CreateRouter(w http.ResponseWriter, r *http.Request) {
	var req RouterCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.Host == "" || req.Username == "" || req.Password == "" {
		apierrors.ValidationError(w, "name, host, username и password обязательны")
		return
	}
	if !model.ValidProto(req.Proto) {
		apierrors.ValidationError(w, "недопустимый proto: "+req.Proto)
		return
	}
	if req.Port < 1 || req.Port > 65535 {
		apierrors.ValidationError(w, "port вне допустимого диапазона 1-65535")
		return
	}

	sealed, err := h.box.Seal(req.Password)
	if err != nil {
		apierrors.InternalError(w, "ошибка шифрования пароля: "+err.Error())
		return
	}

	router := &model.Router{
		ID:        uuid.New(),
		Name:      req.Name,
		Host:      req.Host,
		Proto:     req.Proto,
		Port:      req.Port,
		Username:  req.Username,
		SecretEnc: sealed,
		TLSVerify: req.TLSVerify == nil || *req.TLSVerify,
	}

	if err := h.store.Routers().Create(r.Context(), router); err != nil {
		writeStoreError(w, err, "роутер не найден")
		return
	}

	h.logger.Info("Роутер зарегистрирован",
		slog.String("router_id", router.ID.String()),
		slog.String("name", router.Name),
	)
	writeJSON(w, http.StatusCreated, routerToDTO(router))
}

// GetRouter возвращает роутер по UUID.
func (h *Handler) GetRouter(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "routerID")
	if !ok {
		return
	}

	router, err := h.store.Routers().GetByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "роутер не найден")
		return
	}
	writeJSON(w, http.StatusOK, routerToDTO(router))
}

// UpdateRouter обновляет переданные поля роутера.
func (h *Handler) UpdateRouter(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "routerID")
	if !ok {
		return
	}

	var req RouterUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	router, err := h.store.Routers().GetByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "роутер не найден")
		return
	}

	if req.Name != nil {
		router.Name = *req.Name
	}
	if req.Host != nil {
		router.Host = *req.Host
	}
	if req.Proto != nil {
		if !model.ValidProto(*req.Proto) {
			apierrors.ValidationError(w, "недопустимый proto: "+*req.Proto)
			return
		}
		router.Proto = *req.Proto
	}
	if req.Port != nil {
		if *req.Port < 1 || *req.Port > 65535 {
			apierrors.ValidationError(w, "port вне допустимого диапазона 1-65535")
			return
		}
		router.Port = *req.Port
	}
	if req.Username != nil {
		router.Username = *req.Username
	}
	if req.Password != nil && *req.Password != "" {
		sealed, err := h.box.Seal(*req.Password)
		if err != nil {
			apierrors.InternalError(w, "ошибка шифрования пароля: "+err.Error())
			return
		}
		router.SecretEnc = sealed
	}
	if req.TLSVerify != nil {
		router.TLSVerify = *req.TLSVerify
	}

	if err := h.store.Routers().Update(r.Context(), router); err != nil {
		writeStoreError(w, err, "роутер не найден")
		return
	}

	h.logger.Info("Роутер обновлён", slog.String("router_id", router.ID.String()))
	writeJSON(w, http.StatusOK, routerToDTO(router))
}

// DeleteRouter удаляет роутер. Его peer'ы и метрики удаляются каскадно.
func (h *Handler) DeleteRouter(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "routerID")
	if !ok {
		return
	}

	if err := h.store.Routers().Delete(r.Context(), id); err != nil {
		writeStoreError(w, err, "роутер не найден")
		return
	}

	h.logger.Info("Роутер удалён", slog.String("router_id", id.String()))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// clientFor создаёт RouterOS-клиент для роутера по UUID.
func (h *Handler) clientFor(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*model.Router, routeros.Client, bool) {
	router, err := h.store.Routers().GetByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "роутер не найден")
		return nil, nil, false
	}

	client, err := h.factory(router)
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return nil, nil, false
	}
	return router, client, true
}

// TestRouter проверяет подключение к роутеру запросом списка интерфейсов.
func (h *Handler) TestRouter(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "routerID")
	if !ok {
		return
	}
	_, client, ok := h.clientFor(w, r, id)
	if !ok {
		return
	}

	if _, err := client.ListInterfaces(r.Context()); err != nil {
		writeRouterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// WGInterfaceDTO — WireGuard-интерфейс роутера.
// PublicHost — адрес для клиентских конфигов: основной IPv4 роутера,
// при недоступности — host из регистрации.
type WGInterfaceDTO struct {
	Name       string `json:"name"`
	PublicKey  string `json:"public_key"`
	ListenPort int    `json:"listen_port"`
	PublicHost string `json:"public_host"`
}

// ListRouterInterfaces возвращает WireGuard-интерфейсы роутера.
func (h *Handler) ListRouterInterfaces(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "routerID")
	if !ok {
		return
	}
	router, client, ok := h.clientFor(w, r, id)
	if !ok {
		return
	}

	names, err := client.ListInterfaces(r.Context())
	if err != nil {
		writeRouterError(w, err)
		return
	}

	// Основной адрес запрашивается один раз; ошибка не фатальна.
	publicHost := router.Host
	if ip, err := client.PrimaryIPv4(r.Context()); err == nil && ip != "" {
		publicHost = ip
	}

	result := make([]WGInterfaceDTO, 0, len(names))
	for _, name := range names {
		dto := WGInterfaceDTO{Name: name, PublicHost: publicHost}
		if cfg, err := client.GetInterface(r.Context(), name); err == nil {
			dto.PublicKey = cfg.PublicKey
			dto.ListenPort = cfg.ListenPort
		}
		result = append(result, dto)
	}
	writeJSON(w, http.StatusOK, result)
}

// GetRouterInterface возвращает конфигурацию одного интерфейса.
func (h *Handler) GetRouterInterface(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "routerID")
	if !ok {
		return
	}
	router, client, ok := h.clientFor(w, r, id)
	if !ok {
		return
	}

	name := chi.URLParam(r, "iface")
	cfg, err := client.GetInterface(r.Context(), name)
	if err != nil {
		writeRouterError(w, err)
		return
	}

	publicHost := router.Host
	if ip, err := client.PrimaryIPv4(r.Context()); err == nil && ip != "" {
		publicHost = ip
	}
	writeJSON(w, http.StatusOK, WGInterfaceDTO{
		Name:       cfg.Name,
		PublicKey:  cfg.PublicKey,
		ListenPort: cfg.ListenPort,
		PublicHost: publicHost,
	})
}

// LivePeerDTO — живой peer с роутера, сопоставленный с локальной записью.
// ID nullable: peer может быть ещё не импортирован в учёт.
type LivePeerDTO struct {
	ID             *string `json:"id"`
	Interface      string  `json:"interface"`
	Name           string  `json:"name"`
	PublicKey      string  `json:"public_key"`
	AllowedAddress string  `json:"allowed_address"`
	Disabled       bool    `json:"disabled"`
	Endpoint       string  `json:"endpoint"`
	LastHandshake  *int64  `json:"last_handshake"`
	Online         bool    `json:"online"`
}

// ListLivePeers возвращает живые peer'ы роутера.
// Параметр interface ограничивает выборку одним интерфейсом.
func (h *Handler) ListLivePeers(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "routerID")
	if !ok {
		return
	}
	_, client, ok := h.clientFor(w, r, id)
	if !ok {
		return
	}

	var ifaces []string
	if name := r.URL.Query().Get("interface"); name != "" {
		ifaces = []string{name}
	} else {
		names, err := client.ListInterfaces(r.Context())
		if err != nil {
			writeRouterError(w, err)
			return
		}
		ifaces = names
	}

	threshold := int64(h.settings.Current().OnlineThreshold)

	result := make([]LivePeerDTO, 0)
	for _, iface := range ifaces {
		snapshots, err := client.ListPeers(r.Context(), iface)
		if err != nil {
			writeRouterError(w, err)
			return
		}
		for _, snap := range snapshots {
			dto := LivePeerDTO{
				Interface:      iface,
				Name:           snap.Name,
				PublicKey:      snap.PublicKey,
				AllowedAddress: snap.AllowedAddress,
				Disabled:       snap.Disabled,
				Endpoint:       snap.Endpoint,
				LastHandshake:  snap.LastHandshake,
			}
			if snap.LastHandshake != nil && *snap.LastHandshake <= threshold {
				dto.Online = true
			}
			// Сопоставление с локальной записью по уникальному ключу.
			if p, err := h.store.Peers().FindByKey(r.Context(), id, iface, snap.PublicKey); err == nil {
				s := p.ID.String()
				dto.ID = &s
			}
			result = append(result, dto)
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// PeerImportItem — один элемент импорта живого peer'а в учёт.
type PeerImportItem struct {
	Interface string `json:"interface"`
	PublicKey string `json:"public_key"`
	Selected  *bool  `json:"selected"`
}

// PeerImportRequest — тело POST /api/v1/routers/{id}/peers/import.
type PeerImportRequest struct {
	Items []PeerImportItem `json:"items"`
}

// ImportPeers берёт перечисленные живые peer'ы под учёт.
// Уже известные peer'ы получают только новый флаг selected;
// отсутствующие на роутере элементы пропускаются.
func (h *Handler) ImportPeers(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "routerID")
	if !ok {
		return
	}

	var req PeerImportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		apierrors.ValidationError(w, "items пуст")
		return
	}

	_, client, ok := h.clientFor(w, r, id)
	if !ok {
		return
	}

	// Живое состояние снимается до транзакции, по одному разу на интерфейс.
	live := make(map[string]map[string]routeros.PeerSnapshot)
	for _, item := range req.Items {
		if item.Interface == "" || item.PublicKey == "" {
			apierrors.ValidationError(w, "interface и public_key обязательны в каждом элементе")
			return
		}
		if _, seen := live[item.Interface]; seen {
			continue
		}
		snapshots, err := client.ListPeers(r.Context(), item.Interface)
		if err != nil {
			writeRouterError(w, err)
			return
		}
		byKey := make(map[string]routeros.PeerSnapshot, len(snapshots))
		for _, snap := range snapshots {
			byKey[snap.PublicKey] = snap
		}
		live[item.Interface] = byKey
	}

	imported := 0
	err := h.store.InTx(r.Context(), func(tx repository.Store) error {
		for _, item := range req.Items {
			snap, found := live[item.Interface][item.PublicKey]
			if !found {
				continue
			}
			selected := item.Selected == nil || *item.Selected

			existing, err := tx.Peers().FindByKey(r.Context(), id, item.Interface, item.PublicKey)
			if err == nil {
				if err := tx.Peers().SetSelected(r.Context(), existing.ID, selected); err != nil {
					return err
				}
				imported++
				continue
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}

			peer := &model.Peer{
				ID:             uuid.New(),
				RouterID:       id,
				Interface:      item.Interface,
				RosID:          snap.RosID,
				Name:           snap.Name,
				PublicKey:      snap.PublicKey,
				AllowedAddress: snap.AllowedAddress,
				Disabled:       snap.Disabled,
				Selected:       selected,
			}
			if err := tx.Peers().Create(r.Context(), peer); err != nil {
				return err
			}
			imported++
		}
		return nil
	})
	if err != nil {
		apierrors.InternalError(w, err.Error())
		return
	}

	h.logger.Info("Peer'ы импортированы",
		slog.String("router_id", id.String()),
		slog.Int("imported", imported),
	)
	writeJSON(w, http.StatusOK, map[string]any{"imported": imported})
}

// PeerCreateRequest — тело POST /api/v1/routers/{id}/peers.
type PeerCreateRequest struct {
	Interface      string `json:"interface"`
	PublicKey      string `json:"public_key"`
	AllowedAddress string `json:"allowed_address"`
	Name           string `json:"name"`
	Comment        string `json:"comment"`
	Disabled       bool   `json:"disabled"`
	Selected       *bool  `json:"selected"`
}

// CreatePeer создаёт peer на роутере и регистрирует его локально.
func (h *Handler) CreatePeer(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "routerID")
	if !ok {
		return
	}

	var req PeerCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Interface == "" || req.PublicKey == "" || req.AllowedAddress == "" {
		apierrors.ValidationError(w, "interface, public_key и allowed_address обязательны")
		return
	}

	_, client, ok := h.clientFor(w, r, id)
	if !ok {
		return
	}

	rosID, err := client.AddPeer(r.Context(), routeros.NewPeer{
		Interface:      req.Interface,
		PublicKey:      req.PublicKey,
		AllowedAddress: req.AllowedAddress,
		Name:           req.Name,
		Comment:        req.Comment,
		Disabled:       req.Disabled,
	})
	if err != nil {
		writeRouterError(w, err)
		return
	}

	peer := &model.Peer{
		ID:             uuid.New(),
		RouterID:       id,
		Interface:      req.Interface,
		RosID:          rosID,
		Name:           req.Name,
		PublicKey:      req.PublicKey,
		AllowedAddress: req.AllowedAddress,
		Comment:        req.Comment,
		Disabled:       req.Disabled,
		Selected:       req.Selected == nil || *req.Selected,
	}

	err = h.store.InTx(r.Context(), func(tx repository.Store) error {
		if err := tx.Peers().Create(r.Context(), peer); err != nil {
			return err
		}
		return tx.Actions().Append(r.Context(), &model.Action{
			PeerID: &peer.ID,
			TS:     time.Now().UTC(),
			Action: model.ActionPeerAdd,
			Note:   "создан через API на интерфейсе " + req.Interface,
		})
	})
	if err != nil {
		// Локальная запись не создана, а peer на роутере уже есть.
		// Пытаемся откатить создание на устройстве.
		if rmErr := client.RemovePeer(r.Context(), rosID); rmErr != nil {
			h.logger.Error("Не удалось откатить создание peer на роутере",
				slog.String("router_id", id.String()),
				slog.String("ros_id", rosID),
				slog.String("error", rmErr.Error()),
			)
		}
		writeStoreError(w, err, "peer не найден")
		return
	}

	h.logger.Info("Peer создан",
		slog.String("peer_id", peer.ID.String()),
		slog.String("router_id", id.String()),
		slog.String("interface", req.Interface),
	)
	writeJSON(w, http.StatusCreated, peerToDTO(peer))
}
