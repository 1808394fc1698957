package store

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPrefix = "nvent"

// Store агрегирует Streams, Indices и KV поверх одного пула Postgres.
type Store struct {
	pool   *pgxpool.Pool
	prefix string

	Streams *Streams
	Indices *Indices
	KV      *KV
}

// New создаёт Store поверх готового пула. prefix берётся из STORE_PREFIX,
// по умолчанию "nvent".
func New(pool *pgxpool.Pool) *Store {
	prefix := os.Getenv("STORE_PREFIX")
	if prefix == "" {
		prefix = defaultPrefix
	}
	s := &Store{pool: pool, prefix: prefix}
	s.Streams = &Streams{pool: pool, prefix: prefix}
	s.Indices = &Indices{pool: pool, prefix: prefix}
	s.KV = &KV{pool: pool, prefix: prefix}
	return s
}

// Open создаёт пул, применяет схему и возвращает готовый Store.
func Open(ctx context.Context) (*Store, error) {
	pool, err := NewPool(ctx)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool), nil
}

// Pool возвращает нижележащий пул соединений (для компонентов, которым
// нужен прямой доступ — например, Postgres advisory locks шедулера).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close закрывает пул соединений.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) streamName(name string) string {
	return s.prefix + ":" + name
}
