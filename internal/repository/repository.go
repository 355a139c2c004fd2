// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store объединяет все репозитории и управление транзакциями.
// Внутри InTx репозитории работают через один pgx.Tx, поэтому
// цикл опроса пишет наблюдение, агрегаты и журнал атомарно по группе.
type Store interface {
	Routers() RouterRepository
	Peers() PeerRepository
	Usage() UsageRepository
	Quotas() QuotaRepository
	Windows() AccessWindowRepository
	Actions() ActionRepository
	Settings() SettingsRepository
	Users() UserRepository

	// InTx выполняет fn в транзакции: fn получает Store, все репозитории
	// которого привязаны к транзакции. При ошибке fn — откат, иначе коммит.
	// Вызов InTx на уже транзакционном Store выполняет fn в той же транзакции.
	InTx(ctx context.Context, fn func(Store) error) error
}

// pgStore — реализация Store поверх pgxpool/pgx.Tx.
type pgStore struct {
	db   DBTX
	pool *pgxpool.Pool // nil внутри транзакции
}

// NewStore создаёт Store поверх пула подключений.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{db: pool, pool: pool}
}

func (s *pgStore) Routers() RouterRepository        { return &routerRepo{db: s.db} }
func (s *pgStore) Peers() PeerRepository            { return &peerRepo{db: s.db} }
func (s *pgStore) Usage() UsageRepository           { return &usageRepo{db: s.db} }
func (s *pgStore) Quotas() QuotaRepository          { return &quotaRepo{db: s.db} }
func (s *pgStore) Windows() AccessWindowRepository  { return &accessWindowRepo{db: s.db} }
func (s *pgStore) Actions() ActionRepository        { return &actionRepo{db: s.db} }
func (s *pgStore) Settings() SettingsRepository     { return &settingsRepo{db: s.db} }
func (s *pgStore) Users() UserRepository            { return &userRepo{db: s.db} }

func (s *pgStore) InTx(ctx context.Context, fn func(Store) error) error {
	// Уже в транзакции — вложенные транзакции не открываем.
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(&pgStore{db: tx}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
