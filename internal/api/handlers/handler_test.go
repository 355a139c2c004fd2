package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arturkryukov/wgmik/internal/api/middleware"
	"github.com/arturkryukov/wgmik/internal/domain/model"
	"github.com/arturkryukov/wgmik/internal/routeros"
	"github.com/arturkryukov/wgmik/internal/secret"
	"github.com/arturkryukov/wgmik/internal/service"
)

// testEnv — окружение теста обработчиков: in-memory store, фейковый
// клиент роутера и chi-роутер с теми же маршрутами, что и у сервера.
type testEnv struct {
	store  *memStore
	client *memClient
	box    *secret.Box
	router *chi.Mux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := newMemStore()
	client := newMemClient()
	factory := func(r *model.Router) (routeros.Client, error) { return client, nil }

	box, err := secret.New("test-secret-key-0123456789abcdef")
	if err != nil {
		t.Fatalf("ошибка создания Box: %v", err)
	}

	settings := service.NewSettingsService(store, service.RuntimeSettings{
		PollInterval:    30 * time.Second,
		OnlineThreshold: 180,
		MonthlyResetDay: 1,
		Timezone:        "UTC",
	}, logger)

	jwtAuth := middleware.NewJWTAuth("test-secret-key-0123456789abcdef", time.Hour, logger)
	h := NewHandler(store, factory, box, settings, jwtAuth, logger)

	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", h.Login)
		r.Get("/auth/me", h.Me)

		r.Route("/routers", func(r chi.Router) {
			r.Get("/", h.ListRouters)
			r.Post("/", h.CreateRouter)
			r.Route("/{routerID}", func(r chi.Router) {
				r.Get("/", h.GetRouter)
				r.Patch("/", h.UpdateRouter)
				r.Delete("/", h.DeleteRouter)
				r.Post("/test", h.TestRouter)
				r.Get("/interfaces", h.ListRouterInterfaces)
			r.Get("/interfaces/{iface}", h.GetRouterInterface)
				r.Get("/peers", h.ListLivePeers)
				r.Post("/peers", h.CreatePeer)
				r.Post("/peers/import", h.ImportPeers)
			})
		})

		r.Route("/peers", func(r chi.Router) {
			r.Get("/", h.ListPeers)
			r.Route("/{peerID}", func(r chi.Router) {
				r.Get("/", h.GetPeer)
				r.Patch("/", h.UpdatePeer)
				r.Delete("/", h.DeletePeer)
				r.Get("/usage", h.PeerUsage)
				r.Post("/reset_metrics", h.ResetPeerMetrics)
				r.Get("/quota", h.GetPeerQuota)
				r.Patch("/quota", h.UpdatePeerQuota)
				r.Get("/window", h.GetPeerWindow)
				r.Patch("/window", h.UpdatePeerWindow)
				r.Get("/actions", h.ListPeerActions)
			})
		})

		r.Get("/actions", h.ListActions)
		r.Get("/summary/month", h.MonthSummary)
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
		r.Post("/admin/purge_usage", h.PurgeUsage)
		r.Post("/admin/purge_peers", h.PurgePeers)
	})

	return &testEnv{store: store, client: client, box: box, router: router}
}

// do выполняет запрос и возвращает рекордер.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("ошибка сериализации тела: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// decode разбирает JSON-ответ в dst.
func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("ошибка разбора ответа %q: %v", rec.Body.String(), err)
	}
}

// seedRouter создаёт роутер в хранилище.
func (e *testEnv) seedRouter(t *testing.T, name string) *model.Router {
	t.Helper()
	sealed, err := e.box.Seal("router-pass")
	if err != nil {
		t.Fatalf("ошибка шифрования: %v", err)
	}
	router := &model.Router{
		ID:        uuid.New(),
		Name:      name,
		Host:      name + ".lan",
		Proto:     model.ProtoREST,
		Port:      443,
		Username:  "api",
		SecretEnc: sealed,
		TLSVerify: true,
	}
	if err := e.store.Routers().Create(context.Background(), router); err != nil {
		t.Fatalf("ошибка создания роутера: %v", err)
	}
	return router
}

// seedPeer создаёт peer в хранилище.
func (e *testEnv) seedPeer(t *testing.T, routerID uuid.UUID, iface, name, publicKey string) *model.Peer {
	t.Helper()
	peer := &model.Peer{
		ID:        uuid.New(),
		RouterID:  routerID,
		Interface: iface,
		RosID:     "*" + name,
		Name:      name,
		PublicKey: publicKey,
		Selected:  true,
	}
	if err := e.store.Peers().Create(context.Background(), peer); err != nil {
		t.Fatalf("ошибка создания peer: %v", err)
	}
	return peer
}
