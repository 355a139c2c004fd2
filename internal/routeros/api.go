package routeros

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	ros "github.com/go-routeros/routeros/v3"
)

// apiClient — реализация Client поверх бинарного RouterOS API
// (порт 8728 без TLS, 8729 с TLS).
// Каждая операция открывает отдельное соединение: цикл опроса редкий,
// а долгоживущие соединения RouterOS рвёт молча.
type apiClient struct {
	host      string
	port      int
	username  string
	password  string
	useTLS    bool
	tlsVerify bool
	timeout   time.Duration
}

// apiClientOptions — параметры создания клиента бинарного API.
type apiClientOptions struct {
	Host      string
	Port      int
	Username  string
	Password  string
	UseTLS    bool
	TLSVerify bool
	Timeout   time.Duration
}

// newAPIClient создаёт клиент бинарного RouterOS API.
func newAPIClient(opts apiClientOptions) *apiClient {
	return &apiClient{
		host:      opts.Host,
		port:      opts.Port,
		username:  opts.Username,
		password:  opts.Password,
		useTLS:    opts.UseTLS,
		tlsVerify: opts.TLSVerify,
		timeout:   opts.Timeout,
	}
}

func (c *apiClient) dial(ctx context.Context) (*ros.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var conn *ros.Client
	var err error
	if c.useTLS {
		tlsCfg := &tls.Config{InsecureSkipVerify: !c.tlsVerify} //nolint:gosec // домашние роутеры с self-signed сертификатами
		conn, err = ros.DialTLSContext(dialCtx, addr, c.username, c.password, tlsCfg)
	} else {
		conn, err = ros.DialContext(dialCtx, addr, c.username, c.password)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return conn, nil
}

// run открывает соединение, выполняет команду и закрывает соединение.
func (c *apiClient) run(ctx context.Context, sentence ...string) (*ros.Reply, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	reply, err := conn.RunContext(ctx, sentence...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return reply, nil
}

func (c *apiClient) ListInterfaces(ctx context.Context) ([]string, error) {
	reply, err := c.run(ctx, "/interface/wireguard/print")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, re := range reply.Re {
		if name := re.Map["name"]; name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (c *apiClient) GetInterface(ctx context.Context, name string) (*InterfaceConfig, error) {
	reply, err := c.run(ctx, "/interface/wireguard/print", "?name="+name)
	if err != nil {
		return nil, err
	}

	for _, re := range reply.Re {
		if re.Map["name"] != name {
			continue
		}
		return &InterfaceConfig{
			Name:       name,
			PublicKey:  re.Map["public-key"],
			ListenPort: int(parseInt64(re.Map["listen-port"])),
		}, nil
	}
	return nil, fmt.Errorf("%w: wireguard-интерфейс %q не найден", ErrRejected, name)
}

func (c *apiClient) ListPeers(ctx context.Context, iface string) ([]PeerSnapshot, error) {
	reply, err := c.run(ctx, "/interface/wireguard/peers/print", "?interface="+iface)
	if err != nil {
		return nil, err
	}

	var peers []PeerSnapshot
	for _, re := range reply.Re {
		if re.Map["interface"] != iface {
			continue
		}
		peers = append(peers, PeerSnapshot{
			RosID:          re.Map[".id"],
			Interface:      re.Map["interface"],
			Name:           re.Map["name"],
			PublicKey:      re.Map["public-key"],
			AllowedAddress: re.Map["allowed-address"],
			Disabled:       parseBool(re.Map["disabled"]),
			RxBytes:        parseInt64(re.Map["rx"]),
			TxBytes:        parseInt64(re.Map["tx"]),
			LastHandshake:  parseLastHandshake(re.Map["last-handshake"]),
			Endpoint:       re.Map["current-endpoint-address"],
		})
	}
	return peers, nil
}

func (c *apiClient) SetPeerDisabled(ctx context.Context, rosID string, disabled bool) error {
	_, err := c.run(ctx, "/interface/wireguard/peers/set",
		"=.id="+rosID,
		"=disabled="+boolWord(disabled),
	)
	return err
}

func (c *apiClient) AddPeer(ctx context.Context, p NewPeer) (string, error) {
	sentence := []string{
		"/interface/wireguard/peers/add",
		"=interface=" + p.Interface,
		"=public-key=" + p.PublicKey,
		"=allowed-address=" + p.AllowedAddress,
	}
	if p.Name != "" {
		sentence = append(sentence, "=name="+p.Name)
	}
	if p.Comment != "" {
		sentence = append(sentence, "=comment="+p.Comment)
	}
	if p.Disabled {
		sentence = append(sentence, "=disabled=yes")
	}

	reply, err := c.run(ctx, sentence...)
	if err != nil {
		return "", err
	}
	if reply.Done != nil {
		if rid := reply.Done.Map["ret"]; rid != "" {
			return rid, nil
		}
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

func (c *apiClient) RemovePeer(ctx context.Context, rosID string) error {
	_, err := c.run(ctx, "/interface/wireguard/peers/remove", "=.id="+rosID)
	return err
}

func (c *apiClient) PrimaryIPv4(ctx context.Context) (string, error) {
	reply, err := c.run(ctx, "/ip/address/print")
	if err != nil {
		return "", err
	}

	addresses := make([]string, 0, len(reply.Re))
	for _, re := range reply.Re {
		if addr := re.Map["address"]; addr != "" {
			addresses = append(addresses, addr)
		}
	}
	return pickPrimaryIPv4(addresses), nil
}
