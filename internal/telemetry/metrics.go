package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics агрегирует счётчики/гейджи, общие для всех cmd/nvent-* процессов.
// Каждый процесс создаёт один экземпляр через NewMetrics и инкрементирует
// только те поля, что относятся к его обязанностям (например
// nvent-orchestrator трогает RunsStarted/RunsCompleted/RunsFailed, а
// nvent-scheduler — AwaitTimeouts). Регистрация в prometheus.DefaultRegisterer
// общая для всего процесса, так что два экземпляра в одном binary запаникуют
// на дублирующей регистрации — ровно один NewMetrics на main.go.
type Metrics struct {
	RunsStarted   prometheus.Counter
	RunsCompleted prometheus.Counter
	RunsFailed    prometheus.Counter

	AwaitTimeouts  prometheus.Counter
	AwaitResolved  prometheus.Counter
	TriggerFires   prometheus.Counter
	RunsStalled    prometheus.Counter

	QueueDepth *prometheus.GaugeVec

	HTTPRequestsTotal prometheus.Counter
}

// NewMetrics регистрирует и возвращает метрики для одного процесса.
// service — короткое имя процесса (api, orchestrator, scheduler, handler),
// используется только как constant label, чтобы все процессы могли делить
// один Grafana dashboard без переименования серий.
func NewMetrics(service string) *Metrics {
	constLabels := prometheus.Labels{"service": service}

	return &Metrics{
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "nvent_runs_started_total",
			Help:        "Total flow runs started.",
			ConstLabels: constLabels,
		}),
		RunsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "nvent_runs_completed_total",
			Help:        "Total flow runs that reached the completed state.",
			ConstLabels: constLabels,
		}),
		RunsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "nvent_runs_failed_total",
			Help:        "Total flow runs that reached the failed state.",
			ConstLabels: constLabels,
		}),
		AwaitTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "nvent_await_timeouts_total",
			Help:        "Total await registrations that fired their timeout job before being resolved.",
			ConstLabels: constLabels,
		}),
		AwaitResolved: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "nvent_await_resolved_total",
			Help:        "Total await registrations resolved (webhook, event, schedule or time) before timing out.",
			ConstLabels: constLabels,
		}),
		TriggerFires: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "nvent_trigger_fires_total",
			Help:        "Total trigger fires, manual or cron-scheduled.",
			ConstLabels: constLabels,
		}),
		RunsStalled: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "nvent_runs_stalled_total",
			Help:        "Total runs marked stalled by the stall detector.",
			ConstLabels: constLabels,
		}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "nvent_queue_depth",
			Help:        "Last observed depth of a step queue, labeled by queue name.",
			ConstLabels: constLabels,
		}, []string{"queue"}),
		HTTPRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "nvent_http_requests_total",
			Help:        "Total HTTP requests served by the /healthz endpoint.",
			ConstLabels: constLabels,
		}),
	}
}
