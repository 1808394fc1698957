package domain

// WorkerManifest — статическое описание одного шага (или точки входа),
// как его объявляет воркер.
//
// Манифесты — вход Registry/Analyzer'а: из набора манифестов для одного
// имени flow строится AnalyzedFlow.
type WorkerManifest struct {
	// FlowNames — имена flow, к которым относится этот воркер.
	// Один воркер может обслуживать несколько flow.
	FlowNames []string `json:"flow_names"`

	// Role — "entry" (точка входа flow) или "step" (обычный шаг).
	Role string `json:"role"`

	// Step — имя шага в рамках flow. Для entry обычно совпадает с workerID.
	Step string `json:"step"`

	// Queue — имя очереди job broker'а, через которую диспетчеризуется шаг.
	Queue string `json:"queue"`

	// WorkerID — идентификатор обработчика в Registry (см. internal/handler).
	WorkerID string `json:"worker_id"`

	// Subscribes — токены, которые должны быть удовлетворены перед запуском шага.
	// Формы: "step:<name>", "queue:<name>", "worker:<name>", "<name>".
	Subscribes []string `json:"subscribes,omitempty"`

	// Emits — имена событий, которые шаг может опубликовать во время выполнения.
	Emits []string `json:"emits,omitempty"`

	// TriggerSubscribe — имя триггера, автоматический запуск которым создаёт run этого flow.
	TriggerSubscribe string `json:"trigger_subscribe,omitempty"`

	// AwaitBefore / AwaitAfter — конфигурация await, выполняемого до/после шага.
	AwaitBefore *AwaitConfig `json:"await_before,omitempty"`
	AwaitAfter  *AwaitConfig `json:"await_after,omitempty"`

	// StepTimeout — таймаут шага в миллисекундах (0 — использовать default flow).
	StepTimeout int64 `json:"step_timeout_ms,omitempty"`
}

// AwaitConfig — конфигурация await, объявленная в манифесте воркера.
type AwaitConfig struct {
	Type          AwaitKind     `json:"type"`
	TimeoutMs     int64         `json:"timeout_ms,omitempty"`
	TimeoutAction TimeoutAction `json:"timeout_action,omitempty"`

	// Webhook
	Path string `json:"path,omitempty"`

	// Event
	EventName string `json:"event_name,omitempty"`
	FilterKey string `json:"filter_key,omitempty"`

	// Schedule
	CronExpr string `json:"cron_expr,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// Time
	DelayMs int64 `json:"delay_ms,omitempty"`
}

// StepMeta — статические метаданные одного шага внутри AnalyzedFlow.
type StepMeta struct {
	Name             string
	Queue            string
	WorkerID         string
	Subscribes       []string
	Emits            []string
	AwaitBefore      *AwaitConfig
	AwaitAfter       *AwaitConfig
	StepTimeoutMs    int64
	Level            int
	DependsOn        []string
	Triggers         []string
	Suspect          bool // true, если шаг участвовал в обнаруженном цикле
}

// EntryMeta — точка входа flow.
type EntryMeta struct {
	Step     string
	Queue    string
	WorkerID string
}

// AnalyzedFlow — результат анализа манифестов для одного имени flow.
//
// Производится Registry/Analyzer'ом (internal/engine) и используется
// Orchestrator'ом для вычисления готовности шагов.
type AnalyzedFlow struct {
	Name         string
	Entry        EntryMeta
	Steps        map[string]*StepMeta
	MaxLevel     int
	HasAwait     bool
	StallTimeout int64 // миллисекунды; 0 — использовать default детектора

	// StepOrder — имена шагов, отсортированные по имени (используется
	// для детерминированного перебора кандидатов при step-ready evaluation).
	StepOrder []string
}

// StepCount возвращает количество шагов flow, включая entry.
func (f *AnalyzedFlow) StepCount() int {
	return len(f.Steps)
}
