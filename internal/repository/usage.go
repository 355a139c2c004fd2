package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/wgmik/internal/domain/model"
)

// DaySummary — суммарный трафик за сутки по всем учитываемым peer'ам.
type DaySummary struct {
	Day string
	Rx  int64
	Tx  int64
}

// UsageRepository — наблюдения счётчиков и агрегаты трафика.
type UsageRepository interface {
	// AppendSample добавляет сырое наблюдение (append-only).
	AppendSample(ctx context.Context, s *model.UsageSample) error
	// LastSample возвращает последнее наблюдение peer'а или ErrNotFound.
	LastSample(ctx context.Context, peerID uuid.UUID) (*model.UsageSample, error)
	// SamplesSince возвращает наблюдения peer'а, начиная с момента since.
	SamplesSince(ctx context.Context, peerID uuid.UUID, since time.Time) ([]*model.UsageSample, error)

	// AddDaily прибавляет дельту к суточному агрегату (upsert).
	AddDaily(ctx context.Context, peerID uuid.UUID, day string, rx, tx int64) error
	// AddMonthly прибавляет дельту к месячному агрегату (upsert).
	AddMonthly(ctx context.Context, peerID uuid.UUID, monthKey string, rx, tx int64) error

	// DailyForPeer возвращает суточные агрегаты peer'а, начиная с дня fromDay.
	DailyForPeer(ctx context.Context, peerID uuid.UUID, fromDay string) ([]*model.UsageDaily, error)
	// MonthTotal возвращает суммарный трафик peer'а за месяц:
	// месячная строка, если есть, иначе сумма суточных строк месяца.
	MonthTotal(ctx context.Context, peerID uuid.UUID, monthKey string) (rx, tx int64, err error)
	// SummaryByDay возвращает суммарный трафик учитываемых peer'ов по дням.
	SummaryByDay(ctx context.Context, fromDay string) ([]DaySummary, error)

	// ResetPeer удаляет все метрики peer'а (наблюдения и агрегаты).
	ResetPeer(ctx context.Context, peerID uuid.UUID) (ResetCounts, error)
	// PurgeAll удаляет все метрики всех peer'ов.
	PurgeAll(ctx context.Context) (ResetCounts, error)
}

// ResetCounts — количество удалённых строк по таблицам метрик.
type ResetCounts struct {
	Samples int64
	Daily   int64
	Monthly int64
}

// usageRepo — реализация UsageRepository.
type usageRepo struct {
	db DBTX
}

func (r *usageRepo) AppendSample(ctx context.Context, s *model.UsageSample) error {
	query := `
		INSERT INTO usage_samples (peer_id, ts, rx, tx, endpoint)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := r.db.QueryRow(ctx, query, s.PeerID, s.TS, s.Rx, s.Tx, s.Endpoint).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи наблюдения: %w", err)
	}
	return nil
}

func (r *usageRepo) LastSample(ctx context.Context, peerID uuid.UUID) (*model.UsageSample, error) {
	query := `
		SELECT id, peer_id, ts, rx, tx, endpoint
		FROM usage_samples
		WHERE peer_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT 1`

	s := &model.UsageSample{}
	err := r.db.QueryRow(ctx, query, peerID).Scan(
		&s.ID, &s.PeerID, &s.TS, &s.Rx, &s.Tx, &s.Endpoint,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения последнего наблюдения: %w", err)
	}
	return s, nil
}

func (r *usageRepo) SamplesSince(ctx context.Context, peerID uuid.UUID, since time.Time) ([]*model.UsageSample, error) {
	query := `
		SELECT id, peer_id, ts, rx, tx, endpoint
		FROM usage_samples
		WHERE peer_id = $1 AND ts >= $2
		ORDER BY ts`

	rows, err := r.db.Query(ctx, query, peerID, since)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения наблюдений: %w", err)
	}
	defer rows.Close()

	var result []*model.UsageSample
	for rows.Next() {
		s := &model.UsageSample{}
		if err := rows.Scan(&s.ID, &s.PeerID, &s.TS, &s.Rx, &s.Tx, &s.Endpoint); err != nil {
			return nil, fmt.Errorf("ошибка сканирования наблюдения: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *usageRepo) AddDaily(ctx context.Context, peerID uuid.UUID, day string, rx, tx int64) error {
	query := `
		INSERT INTO usage_daily (peer_id, day, rx, tx)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (peer_id, day)
		DO UPDATE SET rx = usage_daily.rx + EXCLUDED.rx,
		              tx = usage_daily.tx + EXCLUDED.tx`

	if _, err := r.db.Exec(ctx, query, peerID, day, rx, tx); err != nil {
		return fmt.Errorf("ошибка обновления суточного агрегата: %w", err)
	}
	return nil
}

func (r *usageRepo) AddMonthly(ctx context.Context, peerID uuid.UUID, monthKey string, rx, tx int64) error {
	query := `
		INSERT INTO usage_monthly (peer_id, month_key, rx, tx)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (peer_id, month_key)
		DO UPDATE SET rx = usage_monthly.rx + EXCLUDED.rx,
		              tx = usage_monthly.tx + EXCLUDED.tx`

	if _, err := r.db.Exec(ctx, query, peerID, monthKey, rx, tx); err != nil {
		return fmt.Errorf("ошибка обновления месячного агрегата: %w", err)
	}
	return nil
}

func (r *usageRepo) DailyForPeer(ctx context.Context, peerID uuid.UUID, fromDay string) ([]*model.UsageDaily, error) {
	query := `
		SELECT id, peer_id, day, rx, tx
		FROM usage_daily
		WHERE peer_id = $1 AND day >= $2
		ORDER BY day`

	rows, err := r.db.Query(ctx, query, peerID, fromDay)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения суточных агрегатов: %w", err)
	}
	defer rows.Close()

	var result []*model.UsageDaily
	for rows.Next() {
		d := &model.UsageDaily{}
		if err := rows.Scan(&d.ID, &d.PeerID, &d.Day, &d.Rx, &d.Tx); err != nil {
			return nil, fmt.Errorf("ошибка сканирования суточного агрегата: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *usageRepo) MonthTotal(ctx context.Context, peerID uuid.UUID, monthKey string) (int64, int64, error) {
	var rx, tx int64
	err := r.db.QueryRow(ctx,
		`SELECT rx, tx FROM usage_monthly WHERE peer_id = $1 AND month_key = $2`,
		peerID, monthKey,
	).Scan(&rx, &tx)
	if err == nil {
		return rx, tx, nil
	}
	if err != pgx.ErrNoRows {
		return 0, 0, fmt.Errorf("ошибка получения месячного агрегата: %w", err)
	}

	// Fallback: сумма суточных строк месяца
	err = r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(rx), 0), COALESCE(SUM(tx), 0)
		 FROM usage_daily
		 WHERE peer_id = $1 AND day LIKE $2 || '-%'`,
		peerID, monthKey,
	).Scan(&rx, &tx)
	if err != nil {
		return 0, 0, fmt.Errorf("ошибка подсчёта трафика за месяц: %w", err)
	}
	return rx, tx, nil
}

func (r *usageRepo) SummaryByDay(ctx context.Context, fromDay string) ([]DaySummary, error) {
	query := `
		SELECT d.day, SUM(d.rx), SUM(d.tx)
		FROM usage_daily d
		JOIN peers p ON p.id = d.peer_id
		WHERE d.day >= $1 AND p.selected
		GROUP BY d.day
		ORDER BY d.day`

	rows, err := r.db.Query(ctx, query, fromDay)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения сводки по дням: %w", err)
	}
	defer rows.Close()

	var result []DaySummary
	for rows.Next() {
		var d DaySummary
		if err := rows.Scan(&d.Day, &d.Rx, &d.Tx); err != nil {
			return nil, fmt.Errorf("ошибка сканирования сводки: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *usageRepo) ResetPeer(ctx context.Context, peerID uuid.UUID) (ResetCounts, error) {
	var counts ResetCounts
	for _, d := range []struct {
		query string
		dst   *int64
	}{
		{`DELETE FROM usage_samples WHERE peer_id = $1`, &counts.Samples},
		{`DELETE FROM usage_daily WHERE peer_id = $1`, &counts.Daily},
		{`DELETE FROM usage_monthly WHERE peer_id = $1`, &counts.Monthly},
	} {
		tag, err := r.db.Exec(ctx, d.query, peerID)
		if err != nil {
			return ResetCounts{}, fmt.Errorf("ошибка сброса метрик peer: %w", err)
		}
		*d.dst = tag.RowsAffected()
	}
	return counts, nil
}

func (r *usageRepo) PurgeAll(ctx context.Context) (ResetCounts, error) {
	var counts ResetCounts
	for _, d := range []struct {
		query string
		dst   *int64
	}{
		{`DELETE FROM usage_samples`, &counts.Samples},
		{`DELETE FROM usage_daily`, &counts.Daily},
		{`DELETE FROM usage_monthly`, &counts.Monthly},
	} {
		tag, err := r.db.Exec(ctx, d.query)
		if err != nil {
			return ResetCounts{}, fmt.Errorf("ошибка очистки метрик: %w", err)
		}
		*d.dst = tag.RowsAffected()
	}
	return counts, nil
}
