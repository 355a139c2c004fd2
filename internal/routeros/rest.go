package routeros

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// restClient — реализация Client поверх RouterOS REST API (/rest).
// При транспортной ошибке один раз пробует альтернативную схему
// (https ↔ http): частый случай — устройство с www-ssl на нестандартном
// порту либо без TLS вовсе.
type restClient struct {
	host                string
	port                int
	username            string
	password            string
	https               bool
	allowSchemeFallback bool
	httpClient          *http.Client
}

// restClientOptions — параметры создания REST-клиента.
type restClientOptions struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSVerify bool
	HTTPS     bool
	Timeout   time.Duration
}

// newRESTClient создаёт REST-клиент RouterOS.
func newRESTClient(opts restClientOptions) *restClient {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !opts.TLSVerify}, //nolint:gosec // домашние роутеры с self-signed сертификатами
	}
	return &restClient{
		host:                opts.Host,
		port:                opts.Port,
		username:            opts.Username,
		password:            opts.Password,
		https:               opts.HTTPS,
		allowSchemeFallback: true,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
	}
}

func (c *restClient) baseURL(https bool) string {
	scheme := "http"
	if https {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/rest", scheme, c.host, c.port)
}

// request выполняет запрос к REST API. HTTP-ошибка (не 2xx) — это ответ
// устройства, схему не переключаем; переключаем только при транспортной ошибке.
func (c *restClient) request(ctx context.Context, method, path string, body any, out any) error {
	err := c.do(ctx, method, c.baseURL(c.https)+path, body, out)
	if err == nil || !c.allowSchemeFallback {
		return err
	}
	var tErr *transportError
	if !errors.As(err, &tErr) {
		return err
	}
	return c.do(ctx, method, c.baseURL(!c.https)+path, body, out)
}

// transportError помечает сетевую ошибку, допускающую смену схемы.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func (c *restClient) do(ctx context.Context, method, url string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ошибка сериализации запроса: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, &transportError{err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: некорректный JSON в ответе: %w", ErrRejected, err)
	}
	return nil
}

// restRow — строка ответа REST API. RouterOS отдаёт все значения строками.
type restRow map[string]string

func (c *restClient) ListInterfaces(ctx context.Context) ([]string, error) {
	var rows []restRow
	if err := c.request(ctx, http.MethodGet, "/interface/wireguard", nil, &rows); err != nil {
		return nil, err
	}

	var names []string
	for _, row := range rows {
		if name := row["name"]; name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (c *restClient) GetInterface(ctx context.Context, name string) (*InterfaceConfig, error) {
	var rows []restRow
	if err := c.request(ctx, http.MethodGet, "/interface/wireguard", nil, &rows); err != nil {
		return nil, err
	}

	for _, row := range rows {
		if row["name"] != name {
			continue
		}
		return &InterfaceConfig{
			Name:       name,
			PublicKey:  row["public-key"],
			ListenPort: int(parseInt64(row["listen-port"])),
		}, nil
	}
	return nil, fmt.Errorf("%w: wireguard-интерфейс %q не найден", ErrRejected, name)
}

func (c *restClient) ListPeers(ctx context.Context, iface string) ([]PeerSnapshot, error) {
	var rows []restRow
	if err := c.request(ctx, http.MethodGet, "/interface/wireguard/peers", nil, &rows); err != nil {
		return nil, err
	}

	var peers []PeerSnapshot
	for _, row := range rows {
		if row["interface"] != iface {
			continue
		}
		peers = append(peers, PeerSnapshot{
			RosID:          row[".id"],
			Interface:      row["interface"],
			Name:           row["name"],
			PublicKey:      row["public-key"],
			AllowedAddress: row["allowed-address"],
			Disabled:       parseBool(row["disabled"]),
			RxBytes:        parseInt64(row["rx"]),
			TxBytes:        parseInt64(row["tx"]),
			LastHandshake:  parseLastHandshake(row["last-handshake"]),
			Endpoint:       row["current-endpoint-address"],
		})
	}
	return peers, nil
}

func (c *restClient) SetPeerDisabled(ctx context.Context, rosID string, disabled bool) error {
	// Item endpoint (PUT/PATCH) на части прошивок отвечает 500,
	// action endpoint /set работает стабильно.
	payload := map[string]string{
		"numbers":  rosID,
		"disabled": boolWord(disabled),
	}
	return c.request(ctx, http.MethodPost, "/interface/wireguard/peers/set", payload, nil)
}

func (c *restClient) AddPeer(ctx context.Context, p NewPeer) (string, error) {
	payload := map[string]string{
		"interface":       p.Interface,
		"public-key":      p.PublicKey,
		"allowed-address": p.AllowedAddress,
	}
	if p.Name != "" {
		payload["name"] = p.Name
	}
	if p.Comment != "" {
		payload["comment"] = p.Comment
	}
	if p.Disabled {
		payload["disabled"] = "yes"
	}

	var res restRow
	if err := c.request(ctx, http.MethodPost, "/interface/wireguard/peers/add", payload, &res); err != nil {
		return "", err
	}
	if rid := res["ret"]; rid != "" {
		return rid, nil
	}
	if rid := res[".id"]; rid != "" {
		return rid, nil
	}

	// Fallback: ищем созданный peer по публичному ключу
	peers, err := c.ListPeers(ctx, p.Interface)
	if err != nil {
		return "", err
	}
	for _, peer := range peers {
		if peer.PublicKey == p.PublicKey {
			return peer.RosID, nil
		}
	}
	return "", fmt.Errorf("%w: роутер не вернул .id созданного peer", ErrRejected)
}

func (c *restClient) RemovePeer(ctx context.Context, rosID string) error {
	payload := map[string]string{"numbers": rosID}
	return c.request(ctx, http.MethodPost, "/interface/wireguard/peers/remove", payload, nil)
}

func (c *restClient) PrimaryIPv4(ctx context.Context) (string, error) {
	var rows []restRow
	if err := c.request(ctx, http.MethodGet, "/ip/address", nil, &rows); err != nil {
		return "", err
	}

	addresses := make([]string, 0, len(rows))
	for _, row := range rows {
		if addr := row["address"]; addr != "" {
			addresses = append(addresses, addr)
		}
	}
	return pickPrimaryIPv4(addresses), nil
}
