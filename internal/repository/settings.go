package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SettingsRepository — таблица настроек key/value.
type SettingsRepository interface {
	// Get возвращает значение по ключу или ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set создаёт или перезаписывает значение по ключу.
	Set(ctx context.Context, key, value string) error
	// All возвращает все пары key/value.
	All(ctx context.Context) (map[string]string, error)
}

// settingsRepo — реализация SettingsRepository.
type settingsRepo struct {
	db DBTX
}

func (r *settingsRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM settings_kv WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка чтения настройки %q: %w", key, err)
	}
	return value, nil
}

func (r *settingsRepo) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings_kv (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

	if _, err := r.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("ошибка записи настройки %q: %w", key, err)
	}
	return nil
}

func (r *settingsRepo) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `SELECT key, value FROM settings_kv`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения настроек: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("ошибка сканирования настройки: %w", err)
		}
		result[k] = v
	}
	return result, rows.Err()
}
