package handler

import (
	"context"
	"fmt"
	"time"
)

// WorkerIDDelay — workerID встроенного воркера задержки.
const WorkerIDDelay = "builtin.delay"

const (
	keyDurationSec = "duration_sec"
	keyDurationMs  = "duration_ms"
)

// DelayHandler приостанавливает выполнение на указанное время.
//
// Ожидаемые ключи input: duration_sec (number) или duration_ms (number) —
// проверяются в этом порядке, первое положительное значение побеждает.
//
// Outputs: duration_ms (int64) — фактическая длительность задержки.
type DelayHandler struct{}

// NewDelayHandler создаёт DelayHandler.
func NewDelayHandler() *DelayHandler { return &DelayHandler{} }

// Run выполняет задержку, уважая отмену ctx.
func (h *DelayHandler) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	duration, err := parseDelayDuration(input)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return map[string]any{"duration_ms": duration.Milliseconds()}, nil
	}
}

func parseDelayDuration(input map[string]any) (time.Duration, error) {
	if sec := getInt(input, keyDurationSec); sec > 0 {
		return time.Duration(sec) * time.Second, nil
	}
	if ms := getInt(input, keyDurationMs); ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, fmt.Errorf("%w: %s: duration_sec or duration_ms required", ErrInvalidConfig, WorkerIDDelay)
}
