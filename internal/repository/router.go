package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/wgmik/internal/domain/model"
)

// RouterRepository — интерфейс CRUD для таблицы routers.
type RouterRepository interface {
	// Create регистрирует новый роутер.
	Create(ctx context.Context, r *model.Router) error
	// GetByID возвращает роутер по UUID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Router, error)
	// List возвращает все роутеры в порядке создания.
	List(ctx context.Context) ([]*model.Router, error)
	// Update обновляет роутер.
	Update(ctx context.Context, r *model.Router) error
	// Delete удаляет роутер и каскадно его peer'ы.
	Delete(ctx context.Context, id uuid.UUID) error
}

// routerRepo — реализация RouterRepository.
type routerRepo struct {
	db DBTX
}

func (r *routerRepo) Create(ctx context.Context, router *model.Router) error {
	query := `
		INSERT INTO routers (id, name, host, proto, port, username, secret_enc, tls_verify)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		router.ID, router.Name, router.Host, router.Proto, router.Port,
		router.Username, router.SecretEnc, router.TLSVerify,
	).Scan(&router.CreatedAt, &router.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: роутер уже зарегистрирован", ErrConflict)
		}
		return fmt.Errorf("ошибка создания роутера: %w", err)
	}
	return nil
}

func (r *routerRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Router, error) {
	query := `
		SELECT id, name, host, proto, port, username, secret_enc, tls_verify,
			created_at, updated_at
		FROM routers
		WHERE id = $1`

	router := &model.Router{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&router.ID, &router.Name, &router.Host, &router.Proto, &router.Port,
		&router.Username, &router.SecretEnc, &router.TLSVerify,
		&router.CreatedAt, &router.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения роутера: %w", err)
	}
	return router, nil
}

func (r *routerRepo) List(ctx context.Context) ([]*model.Router, error) {
	query := `
		SELECT id, name, host, proto, port, username, secret_enc, tls_verify,
			created_at, updated_at
		FROM routers
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка роутеров: %w", err)
	}
	defer rows.Close()

	var result []*model.Router
	for rows.Next() {
		router := &model.Router{}
		if err := rows.Scan(
			&router.ID, &router.Name, &router.Host, &router.Proto, &router.Port,
			&router.Username, &router.SecretEnc, &router.TLSVerify,
			&router.CreatedAt, &router.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования роутера: %w", err)
		}
		result = append(result, router)
	}
	return result, rows.Err()
}

func (r *routerRepo) Update(ctx context.Context, router *model.Router) error {
	query := `
		UPDATE routers
		SET name = $2, host = $3, proto = $4, port = $5, username = $6,
			secret_enc = $7, tls_verify = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		router.ID, router.Name, router.Host, router.Proto, router.Port,
		router.Username, router.SecretEnc, router.TLSVerify,
	).Scan(&router.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления роутера: %w", err)
	}
	return nil
}

func (r *routerRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM routers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления роутера: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
