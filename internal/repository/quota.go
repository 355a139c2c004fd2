package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/wgmik/internal/domain/model"
)

// QuotaRepository — месячные лимиты трафика.
type QuotaRepository interface {
	// Get возвращает квоту peer'а или ErrNotFound, если квота не задана.
	Get(ctx context.Context, peerID uuid.UUID) (*model.Quota, error)
	// Upsert создаёт или обновляет квоту peer'а.
	Upsert(ctx context.Context, q *model.Quota) error
}

// AccessWindowRepository — окна доступа peer'ов.
type AccessWindowRepository interface {
	// Get возвращает окно доступа peer'а или ErrNotFound, если окно не задано.
	Get(ctx context.Context, peerID uuid.UUID) (*model.AccessWindow, error)
	// Upsert создаёт или обновляет окно доступа peer'а.
	Upsert(ctx context.Context, w *model.AccessWindow) error
}

// quotaRepo — реализация QuotaRepository.
type quotaRepo struct {
	db DBTX
}

func (r *quotaRepo) Get(ctx context.Context, peerID uuid.UUID) (*model.Quota, error) {
	query := `
		SELECT id, peer_id, monthly_limit_bytes, reset_day
		FROM quotas
		WHERE peer_id = $1`

	q := &model.Quota{}
	err := r.db.QueryRow(ctx, query, peerID).Scan(
		&q.ID, &q.PeerID, &q.MonthlyLimitBytes, &q.ResetDay,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения квоты: %w", err)
	}
	return q, nil
}

func (r *quotaRepo) Upsert(ctx context.Context, q *model.Quota) error {
	query := `
		INSERT INTO quotas (peer_id, monthly_limit_bytes, reset_day)
		VALUES ($1, $2, $3)
		ON CONFLICT (peer_id)
		DO UPDATE SET monthly_limit_bytes = EXCLUDED.monthly_limit_bytes,
		              reset_day = EXCLUDED.reset_day
		RETURNING id`

	err := r.db.QueryRow(ctx, query, q.PeerID, q.MonthlyLimitBytes, q.ResetDay).Scan(&q.ID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения квоты: %w", err)
	}
	return nil
}

// accessWindowRepo — реализация AccessWindowRepository.
type accessWindowRepo struct {
	db DBTX
}

func (r *accessWindowRepo) Get(ctx context.Context, peerID uuid.UUID) (*model.AccessWindow, error) {
	query := `
		SELECT id, peer_id, valid_from, valid_until
		FROM access_windows
		WHERE peer_id = $1`

	w := &model.AccessWindow{}
	err := r.db.QueryRow(ctx, query, peerID).Scan(
		&w.ID, &w.PeerID, &w.ValidFrom, &w.ValidUntil,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения окна доступа: %w", err)
	}
	return w, nil
}

func (r *accessWindowRepo) Upsert(ctx context.Context, w *model.AccessWindow) error {
	query := `
		INSERT INTO access_windows (peer_id, valid_from, valid_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (peer_id)
		DO UPDATE SET valid_from = EXCLUDED.valid_from,
		              valid_until = EXCLUDED.valid_until
		RETURNING id`

	err := r.db.QueryRow(ctx, query, w.PeerID, w.ValidFrom, w.ValidUntil).Scan(&w.ID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения окна доступа: %w", err)
	}
	return nil
}
