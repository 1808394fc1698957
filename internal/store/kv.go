package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KV — мелкое эфемерное хранилище ключ-значение с опциональным TTL.
// Используется для ссылок на крупные payload'ы триггеров (вынесенные из
// потока событий, чтобы не раздувать events).
type KV struct {
	pool   *pgxpool.Pool
	prefix string
}

func (kv *KV) key(k string) string {
	return kv.prefix + ":" + k
}

// Set записывает значение, опционально с TTL (ttl <= 0 — без истечения).
func (kv *KV) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal kv value: %w", err)
	}
	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	query := `
		INSERT INTO kv_store (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`
	if _, err := kv.pool.Exec(ctx, query, kv.key(key), raw, expiresAt); err != nil {
		return fmt.Errorf("set kv: %w", err)
	}
	return nil
}

// Get считывает значение в out (указатель). Возвращает ErrNotFound, если
// ключ отсутствует или истёк.
func (kv *KV) Get(ctx context.Context, key string, out any) error {
	query := `
		SELECT value FROM kv_store
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
	`
	var raw []byte
	err := kv.pool.QueryRow(ctx, query, kv.key(key)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get kv: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// Delete удаляет ключ.
func (kv *KV) Delete(ctx context.Context, key string) error {
	if _, err := kv.pool.Exec(ctx, `DELETE FROM kv_store WHERE key = $1`, kv.key(key)); err != nil {
		return fmt.Errorf("delete kv: %w", err)
	}
	return nil
}

// PurgeExpired удаляет истёкшие ключи (Get истёкшие ключи и так не
// возвращает). Периодического вызова PurgeExpired в сервисах нет.
func (kv *KV) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := kv.pool.Exec(ctx, `DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge expired kv: %w", err)
	}
	return tag.RowsAffected(), nil
}
