package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/wgmik/internal/domain/model"
)

// ActionRepository — append-only журнал действий.
type ActionRepository interface {
	// Append добавляет запись в журнал.
	Append(ctx context.Context, a *model.Action) error
	// LastForPeer возвращает последнее действие peer'а или ErrNotFound.
	LastForPeer(ctx context.Context, peerID uuid.UUID) (*model.Action, error)
	// ListForPeer возвращает действия peer'а, новые первыми.
	ListForPeer(ctx context.Context, peerID uuid.UUID, limit int) ([]*model.Action, error)
	// List возвращает общий журнал, новые первыми.
	List(ctx context.Context, limit int) ([]*model.Action, error)
}

// actionRepo — реализация ActionRepository.
type actionRepo struct {
	db DBTX
}

func (r *actionRepo) Append(ctx context.Context, a *model.Action) error {
	query := `
		INSERT INTO actions (peer_id, ts, action, note)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := r.db.QueryRow(ctx, query, a.PeerID, a.TS, a.Action, a.Note).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал действий: %w", err)
	}
	return nil
}

func (r *actionRepo) LastForPeer(ctx context.Context, peerID uuid.UUID) (*model.Action, error) {
	query := `
		SELECT id, peer_id, ts, action, note
		FROM actions
		WHERE peer_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT 1`

	a := &model.Action{}
	err := r.db.QueryRow(ctx, query, peerID).Scan(&a.ID, &a.PeerID, &a.TS, &a.Action, &a.Note)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения последнего действия: %w", err)
	}
	return a, nil
}

func (r *actionRepo) ListForPeer(ctx context.Context, peerID uuid.UUID, limit int) ([]*model.Action, error) {
	query := `
		SELECT id, peer_id, ts, action, note
		FROM actions
		WHERE peer_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT $2`

	return r.queryActions(ctx, query, peerID, limit)
}

func (r *actionRepo) List(ctx context.Context, limit int) ([]*model.Action, error) {
	query := `
		SELECT id, peer_id, ts, action, note
		FROM actions
		ORDER BY ts DESC, id DESC
		LIMIT $1`

	return r.queryActions(ctx, query, limit)
}

func (r *actionRepo) queryActions(ctx context.Context, query string, args ...any) ([]*model.Action, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала действий: %w", err)
	}
	defer rows.Close()

	var result []*model.Action
	for rows.Next() {
		a := &model.Action{}
		if err := rows.Scan(&a.ID, &a.PeerID, &a.TS, &a.Action, &a.Note); err != nil {
			return nil, fmt.Errorf("ошибка сканирования действия: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
