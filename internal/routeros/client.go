// Пакет routeros — шлюз к устройствам MikroTik RouterOS.
// Две взаимозаменяемые реализации Client: REST API и бинарный API,
// выбираются фабрикой по протоколу роутера.
package routeros

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// Ошибки шлюза.
var (
	// ErrUnreachable — роутер недоступен (сеть, таймаут, TLS).
	// Цикл опроса пропускает группу и повторяет в следующем цикле.
	ErrUnreachable = errors.New("роутер недоступен")
	// ErrRejected — роутер отверг запрос (авторизация, некорректные параметры).
	ErrRejected = errors.New("роутер отверг запрос")
)

// PeerSnapshot — живое состояние WireGuard peer'а на роутере.
type PeerSnapshot struct {
	RosID          string
	Interface      string
	Name           string
	PublicKey      string
	AllowedAddress string
	Disabled       bool
	RxBytes        int64
	TxBytes        int64
	// LastHandshake — секунд с последнего рукопожатия; nil, если его не было.
	LastHandshake *int64
	Endpoint      string
}

// InterfaceConfig — конфигурация WireGuard-интерфейса роутера.
type InterfaceConfig struct {
	Name       string
	PublicKey  string
	ListenPort int
}

// NewPeer — параметры создания peer'а на роутере.
type NewPeer struct {
	Interface      string
	PublicKey      string
	AllowedAddress string
	Name           string
	Comment        string
	Disabled       bool
}

// Client — операции над одним роутером.
// Все методы сетевые; ошибки связности оборачивают ErrUnreachable,
// отказы устройства — ErrRejected.
type Client interface {
	// ListInterfaces возвращает имена WireGuard-интерфейсов.
	ListInterfaces(ctx context.Context) ([]string, error)
	// GetInterface возвращает конфигурацию интерфейса по имени.
	GetInterface(ctx context.Context, name string) (*InterfaceConfig, error)
	// ListPeers возвращает peer'ы указанного интерфейса.
	ListPeers(ctx context.Context, iface string) ([]PeerSnapshot, error)
	// SetPeerDisabled включает или выключает peer по его .id.
	SetPeerDisabled(ctx context.Context, rosID string, disabled bool) error
	// AddPeer создаёт peer и возвращает его RouterOS .id.
	AddPeer(ctx context.Context, p NewPeer) (string, error)
	// RemovePeer удаляет peer по его .id.
	RemovePeer(ctx context.Context, rosID string) error
	// PrimaryIPv4 возвращает основной IPv4-адрес роутера
	// (публичный, если есть, иначе первый приватный).
	PrimaryIPv4(ctx context.Context) (string, error)
}

var handshakeRe = regexp.MustCompile(`(\d+)([wdhms])`)

// parseLastHandshake разбирает значение last-handshake из RouterOS:
// число секунд либо длительность вида "1w2d3h4m5s". nil — рукопожатия не было.
func parseLastHandshake(value string) *int64 {
	value = strings.TrimSpace(value)
	if value == "" || value == "0" {
		return nil
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return &n
	}

	var total int64
	for _, m := range handshakeRe.FindAllStringSubmatch(value, -1) {
		amt, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		switch m[2] {
		case "w":
			total += amt * 604800
		case "d":
			total += amt * 86400
		case "h":
			total += amt * 3600
		case "m":
			total += amt * 60
		case "s":
			total += amt
		}
	}
	if total == 0 {
		return nil
	}
	return &total
}

// parseBool разбирает булево значение в формах RouterOS ("yes"/"no", "true" и т.п.).
func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "t", "yes", "y", "on", "enabled":
		return true
	default:
		return false
	}
}

// parseInt64 разбирает счётчик; нечисловые значения считаются нулём.
func parseInt64(value string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// isPrivateIPv4 сообщает, входит ли адрес в приватные диапазоны RFC 1918
// (плюс loopback и link-local).
func isPrivateIPv4(a, b int) bool {
	switch {
	case a == 10:
		return true
	case a == 172 && b >= 16 && b <= 31:
		return true
	case a == 192 && b == 168:
		return true
	case a == 127:
		return true
	case a == 169 && b == 254:
		return true
	}
	return false
}

// pickPrimaryIPv4 выбирает основной адрес из списка CIDR-строк /ip/address:
// первый публичный, иначе первый приватный.
func pickPrimaryIPv4(addresses []string) string {
	var public, private string
	for _, addr := range addresses {
		ip, _, ok := strings.Cut(addr, "/")
		if !ok {
			ip = addr
		}
		parts := strings.Split(ip, ".")
		if len(parts) != 4 {
			continue
		}
		a, errA := strconv.Atoi(parts[0])
		b, errB := strconv.Atoi(parts[1])
		if errA != nil || errB != nil {
			continue
		}
		if isPrivateIPv4(a, b) {
			if private == "" {
				private = ip
			}
		} else if public == "" {
			public = ip
		}
	}
	if public != "" {
		return public
	}
	return private
}

// boolWord переводит bool в "yes"/"no" для команд RouterOS.
func boolWord(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
