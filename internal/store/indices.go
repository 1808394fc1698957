package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Indices — отсортированные коллекции записей с версионированным апдейтом.
type Indices struct {
	pool   *pgxpool.Pool
	prefix string
}

// Entry — одна запись индекса.
type Entry struct {
	Key      string
	ID       string
	Score    float64
	Version  int
	Metadata map[string]any
}

func (ix *Indices) key(indexKey string) string {
	return ix.prefix + ":" + indexKey
}

// Add вставляет новую запись с версией 1. Если запись с таким ID уже
// существует, она перезаписывается целиком (используется при первичной
// записи, не предназначено для конкурентных апдейтов — для них см. Update).
func (ix *Indices) Add(ctx context.Context, indexKey, entryID string, score float64, metadata map[string]any) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := `
		INSERT INTO index_entries (index_key, entry_id, score, version, metadata)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (index_key, entry_id) DO UPDATE
		SET score = EXCLUDED.score, version = 1, metadata = EXCLUDED.metadata, updated_at = now()
	`
	if _, err := ix.pool.Exec(ctx, query, ix.key(indexKey), entryID, score, meta); err != nil {
		return fmt.Errorf("add index entry: %w", err)
	}
	return nil
}

// Get возвращает одну запись по ID.
func (ix *Indices) Get(ctx context.Context, indexKey, entryID string) (*Entry, error) {
	query := `
		SELECT index_key, entry_id, score, version, metadata
		FROM index_entries WHERE index_key = $1 AND entry_id = $2
	`
	row := ix.pool.QueryRow(ctx, query, ix.key(indexKey), entryID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Read возвращает записи индекса в порядке убывания score.
func (ix *Indices) Read(ctx context.Context, indexKey string, limit int) ([]*Entry, error) {
	query := `
		SELECT index_key, entry_id, score, version, metadata
		FROM index_entries WHERE index_key = $1
		ORDER BY score DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := ix.pool.Query(ctx, query, ix.key(indexKey))
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateFunc transforms the current metadata/score of an entry into a new
// metadata/score pair. Returning an error aborts the update.
type UpdateFunc func(current *Entry) (score float64, metadata map[string]any, err error)

// Update выполняет версионированный CAS-апдейт записи: читает текущую
// версию, применяет fn, пишет с условием совпадения версии. При расхождении
// версии возвращает ErrContendedWrite без повторных попыток — для
// устойчивого к гонкам поведения используйте UpdateWithRetry.
func (ix *Indices) Update(ctx context.Context, indexKey, entryID string, fn UpdateFunc) error {
	current, err := ix.Get(ctx, indexKey, entryID)
	if err != nil {
		return err
	}
	score, metadata, err := fn(current)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		UPDATE index_entries
		SET score = $1, metadata = $2, version = version + 1, updated_at = now()
		WHERE index_key = $3 AND entry_id = $4 AND version = $5
	`
	tag, err := ix.pool.Exec(ctx, query, score, meta, ix.key(indexKey), entryID, current.Version)
	if err != nil {
		return fmt.Errorf("update index entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContendedWrite
	}
	return nil
}

// UpdateWithRetry повторяет Update при расхождении версии с экспоненциальной
// паузой (10/20/40 мс). Делает минимум 3 попытки прежде чем вернуть
// ErrContendedWrite — рассчитано на короткие гонки между конкурентными
// писателями одного и того же run/триггера, не на затяжные конфликты.
func (ix *Indices) UpdateWithRetry(ctx context.Context, indexKey, entryID string, fn UpdateFunc) error {
	backoffs := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	var lastErr error
	for attempt := 0; attempt < len(backoffs)+1; attempt++ {
		lastErr = ix.Update(ctx, indexKey, entryID, fn)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrContendedWrite) {
			return lastErr
		}
		if attempt < len(backoffs) {
			jitter := time.Duration(rand.Int63n(int64(backoffs[attempt] / 2)))
			select {
			case <-time.After(backoffs[attempt] + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// Increment атомарно увеличивает числовое поле metadata на delta одним SQL
// выражением — не допускает гонки чтение-модификация-запись, поэтому не
// нуждается в версии/ретраях (в отличие от Update).
func (ix *Indices) Increment(ctx context.Context, indexKey, entryID, field string, delta float64) (float64, error) {
	query := `
		UPDATE index_entries
		SET metadata = jsonb_set(
				metadata,
				$1::text[],
				to_jsonb(COALESCE((metadata #>> $1::text[])::numeric, 0) + $2),
				true
			),
			version = version + 1,
			updated_at = now()
		WHERE index_key = $3 AND entry_id = $4
		RETURNING (metadata #>> $1::text[])::double precision
	`
	path := []string{field}
	var result float64
	row := ix.pool.QueryRow(ctx, query, path, delta, ix.key(indexKey), entryID)
	if err := row.Scan(&result); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment index entry: %w", err)
	}
	return result, nil
}

// Delete удаляет одну запись.
func (ix *Indices) Delete(ctx context.Context, indexKey, entryID string) error {
	_, err := ix.pool.Exec(ctx, `DELETE FROM index_entries WHERE index_key = $1 AND entry_id = $2`, ix.key(indexKey), entryID)
	if err != nil {
		return fmt.Errorf("delete index entry: %w", err)
	}
	return nil
}

// CleanupByRetention удаляет записи индекса старше olderThan (по updated_at).
// Работает по всему индексу сразу, без фильтра по flow; ClearHistory её не
// использует.
func (ix *Indices) CleanupByRetention(ctx context.Context, indexKey string, olderThan time.Time) (int64, error) {
	tag, err := ix.pool.Exec(ctx, `DELETE FROM index_entries WHERE index_key = $1 AND updated_at < $2`, ix.key(indexKey), olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup index: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByPattern удаляет все записи индексов, чей ключ соответствует SQL
// LIKE-шаблону pattern (с учётом префикса). Подходит для массовой
// очистки по родительскому ключу, например "<flow>:%".
func (ix *Indices) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	tag, err := ix.pool.Exec(ctx, `DELETE FROM index_entries WHERE index_key LIKE $1`, ix.key(pattern))
	if err != nil {
		return 0, fmt.Errorf("delete by pattern: %w", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e        Entry
		metaRaw  []byte
	)
	if err := row.Scan(&e.Key, &e.ID, &e.Score, &e.Version, &metaRaw); err != nil {
		return nil, err
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal entry metadata: %w", err)
		}
	}
	return &e, nil
}
