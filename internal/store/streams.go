package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/nvent/internal/domain"
)

// Streams — append-only последовательности событий, адресуемые именем потока.
type Streams struct {
	pool   *pgxpool.Pool
	prefix string
}

func (s *Streams) name(stream string) string {
	return s.prefix + ":" + stream
}

// ReadOptions параметризует Read.
type ReadOptions struct {
	// FromSeq — читать события с seq строго больше этого значения (0 — с начала).
	FromSeq int64
	// Limit — максимум записей (0 — без ограничения).
	Limit int
	// Types — если непусто, фильтрует по типу события.
	Types []domain.EventType
	// Descending — читать в обратном порядке (сначала новые).
	Descending bool
}

// Append добавляет событие в поток и возвращает присвоенный seq.
func (s *Streams) Append(ctx context.Context, stream string, ev domain.Event) (int64, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}

	var runID any
	if ev.RunID != uuid.Nil {
		runID = ev.RunID
	}

	var seq int64
	query := `
		INSERT INTO events (stream_name, event_type, run_id, flow_name, step_name, attempt, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`
	row := s.pool.QueryRow(ctx, query, s.name(stream), string(ev.Type), runID, nullStr(ev.FlowName), nullStr(ev.StepName), ev.Attempt, payload)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return seq, nil
}

// Read возвращает события потока согласно опциям.
func (s *Streams) Read(ctx context.Context, stream string, opts ReadOptions) ([]domain.Event, error) {
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT seq, ts, event_type, run_id, flow_name, step_name, attempt, payload
		FROM events
		WHERE stream_name = $1 AND seq > $2
		  AND ($3::text[] IS NULL OR event_type = ANY($3))
		ORDER BY seq %s
	`, order)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	var types []string
	if len(opts.Types) > 0 {
		types = make([]string, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = string(t)
		}
	}

	rows, err := s.pool.Query(ctx, query, s.name(stream), opts.FromSeq, typesOrNil(types))
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Tail возвращает последний seq потока (0, если поток пуст).
func (s *Streams) Tail(ctx context.Context, stream string) (int64, error) {
	var seq int64
	query := `SELECT COALESCE(MAX(seq), 0) FROM events WHERE stream_name = $1`
	if err := s.pool.QueryRow(ctx, query, s.name(stream)).Scan(&seq); err != nil {
		return 0, fmt.Errorf("tail stream: %w", err)
	}
	return seq, nil
}

// Delete удаляет все события потока и возвращает их число. Используется
// для реклаймания истории терминальных run'ов (internal/orchestrator.ClearHistory)
// — поток идентифицируется так же, как и для Append/Read/Tail.
func (s *Streams) Delete(ctx context.Context, stream string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE stream_name = $1`, s.name(stream))
	if err != nil {
		return 0, fmt.Errorf("delete stream: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEvent(rows pgx.Rows) (domain.Event, error) {
	var (
		ev         domain.Event
		runID      *uuid.UUID
		flowName   *string
		stepName   *string
		payloadRaw []byte
	)
	if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &runID, &flowName, &stepName, &ev.Attempt, &payloadRaw); err != nil {
		return domain.Event{}, fmt.Errorf("scan event: %w", err)
	}
	if runID != nil {
		ev.RunID = *runID
	}
	if flowName != nil {
		ev.FlowName = *flowName
	}
	if stepName != nil {
		ev.StepName = *stepName
	}
	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &ev.Data); err != nil {
			return domain.Event{}, fmt.Errorf("unmarshal event payload: %w", err)
		}
	}
	return ev, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func typesOrNil(types []string) any {
	if len(types) == 0 {
		return nil
	}
	return types
}
