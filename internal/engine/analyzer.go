package engine

import (
	"sort"
	"strings"

	"github.com/shaiso/nvent/internal/domain"
)

const (
	tokenPrefixStep   = "step:"
	tokenPrefixQueue  = "queue:"
	tokenPrefixWorker = "worker:"
)

// BuildAnalyzedFlow строит domain.AnalyzedFlow из набора манифестов воркеров,
// принадлежащих одному flow. Разрешает каждый токен подписки к излучающему
// его шагу по одной из четырёх форм (см. resolveToken), строит dependsOn,
// обратные triggers и уровни через DFS с обнаружением циклов.
//
// Функция чистая и детерминированная: повторный анализ одного и того же
// набора манифестов обязан дать идентичный результат (манифесты
// предварительно сортируются по имени шага, поэтому порядок во входном
// срезе не влияет на вывод).
func BuildAnalyzedFlow(flowName string, manifests []domain.WorkerManifest) (*domain.AnalyzedFlow, error) {
	if len(manifests) == 0 {
		return nil, ErrNoManifests
	}

	sorted := make([]domain.WorkerManifest, len(manifests))
	copy(sorted, manifests)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Step < sorted[j].Step })

	var entry *domain.WorkerManifest
	steps := make(map[string]*domain.StepMeta, len(sorted))
	stepOrder := make([]string, 0, len(sorted))

	for i := range sorted {
		m := &sorted[i]
		if m.Step == "" {
			return nil, NewValidationError("", "step", "empty step name", ErrEmptyStepName)
		}
		if _, exists := steps[m.Step]; exists {
			return nil, NewValidationError(m.Step, "step", "duplicate step name", ErrDuplicateStepName)
		}
		if m.Role == "entry" {
			if entry != nil {
				return nil, NewValidationError(m.Step, "role", "flow has more than one entry", ErrMultipleEntries)
			}
			entry = m
		}

		steps[m.Step] = &domain.StepMeta{
			Name:          m.Step,
			Queue:         m.Queue,
			WorkerID:      m.WorkerID,
			Subscribes:    append([]string(nil), m.Subscribes...),
			Emits:         append([]string(nil), m.Emits...),
			AwaitBefore:   m.AwaitBefore,
			AwaitAfter:    m.AwaitAfter,
			StepTimeoutMs: m.StepTimeout,
		}
		stepOrder = append(stepOrder, m.Step)
	}
	if entry == nil {
		return nil, ErrNoEntry
	}

	// Индексы для разрешения токенов подписки.
	stepsByQueue := make(map[string][]string)
	stepsByWorker := make(map[string][]string)
	stepsByEmit := make(map[string][]string)
	for name, s := range steps {
		if s.Queue != "" {
			stepsByQueue[s.Queue] = append(stepsByQueue[s.Queue], name)
		}
		if s.WorkerID != "" {
			stepsByWorker[s.WorkerID] = append(stepsByWorker[s.WorkerID], name)
		}
		for _, tok := range s.Emits {
			stepsByEmit[tok] = append(stepsByEmit[tok], name)
		}
	}

	hasAwait := false
	for name, s := range steps {
		if name == entry.Step {
			continue
		}
		deps := resolveDependsOn(name, s.Subscribes, steps, stepsByQueue, stepsByWorker, stepsByEmit)
		if len(deps) == 0 {
			// Нет разрешённых зависимостей (включая случай отсутствующего
			// эмиттера) — шаг неявно зависит от entry. Переписываем его
			// эффективный набор подписок на "step:<entry>": исходные токены
			// ни на что не разрешились, а рантайм-проверка готовности
			// (orchestrator.StepReady) работает только по Subscribes, так
			// что без этой перезаписи шаг никогда не стал бы runnable.
			deps = []string{entry.Step}
			s.Subscribes = []string{tokenPrefixStep + entry.Step}
		}
		s.DependsOn = deps
		if s.AwaitBefore != nil || s.AwaitAfter != nil {
			hasAwait = true
		}
	}

	// Обратные рёбра (triggers).
	for name, s := range steps {
		for _, dep := range s.DependsOn {
			if depStep, ok := steps[dep]; ok {
				depStep.Triggers = append(depStep.Triggers, name)
			}
		}
		_ = name
	}
	for _, s := range steps {
		sort.Strings(s.Triggers)
	}

	steps[entry.Step].Level = 0
	maxLevel := assignLevels(entry.Step, steps)

	flow := &domain.AnalyzedFlow{
		Name: flowName,
		Entry: domain.EntryMeta{
			Step:     entry.Step,
			Queue:    entry.Queue,
			WorkerID: entry.WorkerID,
		},
		Steps:     steps,
		MaxLevel:  maxLevel,
		HasAwait:  hasAwait,
		StepOrder: stepOrder,
	}
	return flow, nil
}

// resolveToken определяет форму токена и возвращает имена шагов,
// разрешённых этой формой (без учёта self-reference).
func resolveToken(self, token string, steps map[string]*domain.StepMeta, byQueue, byWorker, byEmit map[string][]string) []string {
	switch {
	case strings.HasPrefix(token, tokenPrefixStep):
		name := strings.TrimPrefix(token, tokenPrefixStep)
		if _, ok := steps[name]; ok && name != self {
			return []string{name}
		}
		return nil
	case strings.HasPrefix(token, tokenPrefixQueue):
		queue := strings.TrimPrefix(token, tokenPrefixQueue)
		return excludeSelf(self, byQueue[queue])
	case strings.HasPrefix(token, tokenPrefixWorker):
		worker := strings.TrimPrefix(token, tokenPrefixWorker)
		return excludeSelf(self, byWorker[worker])
	default:
		return excludeSelf(self, byEmit[token])
	}
}

func excludeSelf(self string, names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != self {
			out = append(out, n)
		}
	}
	return out
}

func resolveDependsOn(self string, tokens []string, steps map[string]*domain.StepMeta, byQueue, byWorker, byEmit map[string][]string) []string {
	seen := make(map[string]bool)
	var deps []string
	for _, tok := range tokens {
		for _, name := range resolveToken(self, tok, steps, byQueue, byWorker, byEmit) {
			if !seen[name] {
				seen[name] = true
				deps = append(deps, name)
			}
		}
	}
	sort.Strings(deps)
	return deps
}

// assignLevels вычисляет level каждого шага DFS-обходом от entry с набором
// "visiting" для обнаружения циклов. Циклический шаг получает level 0,
// помечается Suspect и трактуется как зависящий только от entry — это не
// мутирует фактический DependsOn (используемый для пересчёта готовности шагов
// в рантайме), только путь вычисления уровня.
func assignLevels(entryName string, steps map[string]*domain.StepMeta) int {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(steps))
	maxLevel := 0

	var visit func(name string) int
	visit = func(name string) int {
		s := steps[name]
		if name == entryName {
			state[name] = done
			return 0
		}
		switch state[name] {
		case done:
			return s.Level
		case visiting:
			// Цикл обнаружен.
			s.Suspect = true
			s.Level = 0
			state[name] = done
			return 0
		}
		state[name] = visiting

		maxDep := -1
		for _, dep := range s.DependsOn {
			lvl := visit(dep)
			if lvl > maxDep {
				maxDep = lvl
			}
		}
		if s.Suspect {
			// Цикл замкнулся на этом шаге во время его же обхода — level 0
			// сохраняется.
			state[name] = done
			return 0
		}
		level := maxDep + 1
		if level < 1 {
			level = 1
		}
		s.Level = level
		state[name] = done
		return level
	}

	names := make([]string, 0, len(steps))
	for name := range steps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lvl := visit(name)
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	return maxLevel
}
