package orchestrator

import (
	"sync"

	"github.com/shaiso/nvent/internal/domain"
)

// Registry хранит проанализированные flow по имени — результат
// engine.BuildAnalyzedFlow, заполняемый при старте процесса из манифеста
// (manifest.Document.Hydrate); перезагрузки манифеста на лету нет. Чтения и запись защищены одним RWMutex: реестр мал (одна
// запись на flow) и обновляется редко относительно частоты чтения при
// диспетчеризации.
type Registry struct {
	mu    sync.RWMutex
	flows map[string]*domain.AnalyzedFlow
}

// NewRegistry создаёт пустой Registry.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]*domain.AnalyzedFlow)}
}

// SetFlow (пере)регистрирует проанализированный flow.
func (r *Registry) SetFlow(flow *domain.AnalyzedFlow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[flow.Name] = flow
}

// GetFlow возвращает проанализированный flow по имени.
func (r *Registry) GetFlow(name string) (*domain.AnalyzedFlow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[name]
	return f, ok
}

// RemoveFlow убирает flow из реестра (снят с деплоя).
func (r *Registry) RemoveFlow(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, name)
}

// FlowNames возвращает имена всех зарегистрированных flow.
func (r *Registry) FlowNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.flows))
	for name := range r.flows {
		names = append(names, name)
	}
	return names
}

// StallTimeoutMs реализует stall.FlowTimeouts: возвращает stallTimeout
// зарегистрированного flow, если он задан манифестом.
func (r *Registry) StallTimeoutMs(name string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[name]
	if !ok || f.StallTimeout <= 0 {
		return 0, false
	}
	return f.StallTimeout, true
}
