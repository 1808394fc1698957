// Package manifest загружает статическое описание воркеров (точки входа и
// шаги flow) из JSON-файла на диске и раскладывает их по Registry
// Orchestrator'а и списку очередей, которые должен обслуживать процесс
// internal/handler.
//
// Манифесты — то, что в предшествующей модели жило в таблице БД за
// internal/repo.FlowRepo; здесь это read-only конфигурация, разворачиваемая
// вместе с кодом воркеров, в духе окружения без фреймворка конфигурации
// (см. переменные окружения в cmd/*/main.go).
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/shaiso/nvent/internal/domain"
	"github.com/shaiso/nvent/internal/engine"
	"github.com/shaiso/nvent/internal/orchestrator"
)

// Document — корневая структура манифест-файла: плоский список
// WorkerManifest вне зависимости от того, скольким flow они принадлежат.
type Document struct {
	Workers []domain.WorkerManifest `json:"workers"`
}

// Load читает и парсит манифест-файл по path.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest file %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest file %s: %w", path, err)
	}
	if len(doc.Workers) == 0 {
		return nil, fmt.Errorf("manifest file %s declares no workers", path)
	}
	return &doc, nil
}

// byFlow группирует плоский список воркеров по именам flow, которые они
// объявляют.
func (d *Document) byFlow() map[string][]domain.WorkerManifest {
	grouped := make(map[string][]domain.WorkerManifest)
	for _, w := range d.Workers {
		for _, flowName := range w.FlowNames {
			grouped[flowName] = append(grouped[flowName], w)
		}
	}
	return grouped
}

// Hydrate анализирует каждый flow, объявленный в манифесте, и регистрирует
// результат в registry — вызывается один раз при старте любым процессом,
// которому нужно разрешать готовность шагов (nvent-orchestrator,
// nvent-api — для GetFlow перед StartFlow).
func (d *Document) Hydrate(registry *orchestrator.Registry) error {
	for flowName, workers := range d.byFlow() {
		flow, err := engine.BuildAnalyzedFlow(flowName, workers)
		if err != nil {
			return fmt.Errorf("analyze flow %s: %w", flowName, err)
		}
		registry.SetFlow(flow)
	}
	return nil
}

// Queues возвращает различающиеся, отсортированные имена очередей,
// объявленные среди всех воркеров манифеста — набор, для которого
// nvent-handler должен объявить consumer'ов.
func (d *Document) Queues() []string {
	seen := make(map[string]bool)
	for _, w := range d.Workers {
		if w.Queue == "" {
			continue
		}
		seen[w.Queue] = true
	}
	queues := make([]string, 0, len(seen))
	for q := range seen {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return queues
}
