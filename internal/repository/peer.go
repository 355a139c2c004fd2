package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/wgmik/internal/domain/model"
)

// PeerFilter — фильтры списка peer'ов.
type PeerFilter struct {
	RouterID     *uuid.UUID
	Interface    *string
	SelectedOnly bool
}

// PeerRepository — интерфейс для таблицы peers.
type PeerRepository interface {
	// Create сохраняет новый peer.
	Create(ctx context.Context, p *model.Peer) error
	// GetByID возвращает peer по UUID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Peer, error)
	// FindByKey возвращает peer по уникальному ключу (роутер, интерфейс, публичный ключ).
	FindByKey(ctx context.Context, routerID uuid.UUID, iface, publicKey string) (*model.Peer, error)
	// List возвращает peer'ы по фильтру.
	List(ctx context.Context, f PeerFilter) ([]*model.Peer, error)
	// ListSelected возвращает все peer'ы, включённые в учёт.
	ListSelected(ctx context.Context) ([]*model.Peer, error)
	// Update перезаписывает изменяемые поля peer'а.
	Update(ctx context.Context, p *model.Peer) error
	// SetSelected меняет флаг участия в учёте.
	SetSelected(ctx context.Context, id uuid.UUID, selected bool) error
	// Delete удаляет peer и каскадно его метрики.
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteAll удаляет все peer'ы (админская очистка).
	DeleteAll(ctx context.Context) (int64, error)
}

// peerRepo — реализация PeerRepository.
type peerRepo struct {
	db DBTX
}

const peerColumns = `id, router_id, interface, ros_id, name, public_key,
		allowed_address, comment, disabled, selected, created_at, updated_at`

func scanPeer(row pgx.Row) (*model.Peer, error) {
	p := &model.Peer{}
	err := row.Scan(
		&p.ID, &p.RouterID, &p.Interface, &p.RosID, &p.Name, &p.PublicKey,
		&p.AllowedAddress, &p.Comment, &p.Disabled, &p.Selected,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *peerRepo) Create(ctx context.Context, p *model.Peer) error {
	query := `
		INSERT INTO peers (id, router_id, interface, ros_id, name, public_key,
			allowed_address, comment, disabled, selected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.RouterID, p.Interface, p.RosID, p.Name, p.PublicKey,
		p.AllowedAddress, p.Comment, p.Disabled, p.Selected,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: peer с таким ключом уже существует на интерфейсе", ErrConflict)
		}
		return fmt.Errorf("ошибка создания peer: %w", err)
	}
	return nil
}

func (r *peerRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Peer, error) {
	query := fmt.Sprintf(`SELECT %s FROM peers WHERE id = $1`, peerColumns)

	p, err := scanPeer(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения peer: %w", err)
	}
	return p, nil
}

func (r *peerRepo) FindByKey(ctx context.Context, routerID uuid.UUID, iface, publicKey string) (*model.Peer, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM peers
		WHERE router_id = $1 AND interface = $2 AND public_key = $3`, peerColumns)

	p, err := scanPeer(r.db.QueryRow(ctx, query, routerID, iface, publicKey))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска peer: %w", err)
	}
	return p, nil
}

func (r *peerRepo) List(ctx context.Context, f PeerFilter) ([]*model.Peer, error) {
	var conditions []string
	var args []any
	argNum := 1

	if f.RouterID != nil {
		conditions = append(conditions, fmt.Sprintf("router_id = $%d", argNum))
		args = append(args, *f.RouterID)
		argNum++
	}
	if f.Interface != nil {
		conditions = append(conditions, fmt.Sprintf("interface = $%d", argNum))
		args = append(args, *f.Interface)
		argNum++
	}
	if f.SelectedOnly {
		conditions = append(conditions, "selected")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM peers
		%s
		ORDER BY created_at`, peerColumns, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка peer: %w", err)
	}
	defer rows.Close()

	var result []*model.Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования peer: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *peerRepo) ListSelected(ctx context.Context) ([]*model.Peer, error) {
	return r.List(ctx, PeerFilter{SelectedOnly: true})
}

func (r *peerRepo) Update(ctx context.Context, p *model.Peer) error {
	query := `
		UPDATE peers
		SET ros_id = $2, name = $3, allowed_address = $4, comment = $5,
			disabled = $6, selected = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID, p.RosID, p.Name, p.AllowedAddress, p.Comment, p.Disabled, p.Selected,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления peer: %w", err)
	}
	return nil
}

func (r *peerRepo) SetSelected(ctx context.Context, id uuid.UUID, selected bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE peers SET selected = $2, updated_at = now() WHERE id = $1`,
		id, selected)
	if err != nil {
		return fmt.Errorf("ошибка изменения selected: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *peerRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM peers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления peer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *peerRepo) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM peers`)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки peers: %w", err)
	}
	return tag.RowsAffected(), nil
}
