package routeros

import (
	"fmt"
	"time"

	"github.com/arturkryukov/wgmik/internal/domain/model"
	"github.com/arturkryukov/wgmik/internal/secret"
)

// ClientFactory создаёт Client для роутера.
// Абстракция нужна циклу опроса и обработчикам API: в тестах
// подставляется фабрика с фейковым клиентом.
type ClientFactory func(r *model.Router) (Client, error)

// NewClientFactory возвращает фабрику, выбирающую реализацию по proto
// и расшифровывающую пароль роутера.
func NewClientFactory(box *secret.Box, timeout time.Duration) ClientFactory {
	return func(r *model.Router) (Client, error) {
		password, err := box.Open(r.SecretEnc)
		if err != nil {
			return nil, fmt.Errorf("ошибка расшифровки пароля роутера %s: %w", r.Name, err)
		}

		switch r.Proto {
		case model.ProtoREST, model.ProtoRESTHTTP:
			return newRESTClient(restClientOptions{
				Host:      r.Host,
				Port:      r.Port,
				Username:  r.Username,
				Password:  password,
				TLSVerify: r.TLSVerify,
				// rest-http принудительно использует http, rest предпочитает https
				HTTPS:   r.Proto != model.ProtoRESTHTTP,
				Timeout: timeout,
			}), nil
		case model.ProtoAPI, model.ProtoAPIPlain:
			useTLS := r.Proto != model.ProtoAPIPlain
			return newAPIClient(apiClientOptions{
				Host:      r.Host,
				Port:      r.Port,
				Username:  r.Username,
				Password:  password,
				UseTLS:    useTLS,
				TLSVerify: useTLS && r.TLSVerify,
				Timeout:   timeout,
			}), nil
		default:
			return nil, fmt.Errorf("неизвестный протокол роутера: %q", r.Proto)
		}
	}
}
