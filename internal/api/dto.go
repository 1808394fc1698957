package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/nvent/internal/domain"
)

// Run DTOs

// StartRunRequest — тело запроса на старт run. Произвольный JSON становится
// input напрямую, без конверта.
type StartRunRequest = map[string]any

// StartRunResponse — ответ на старт run.
type StartRunResponse struct {
	FlowID uuid.UUID `json:"flowId"`
}

// RestartRunResponse — ответ на рестарт run.
type RestartRunResponse struct {
	NewRunID uuid.UUID `json:"newRunId"`
}

// RunResponse — представление одного run во внешнем API.
type RunResponse struct {
	RunID          uuid.UUID  `json:"runId"`
	FlowName       string     `json:"flowName"`
	Status         string     `json:"status"`
	Input          any        `json:"input,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	StepCount      int        `json:"stepCount"`
	CompletedSteps int        `json:"completedSteps"`
	Error          string     `json:"error,omitempty"`
}

// RunFromDomain конвертирует domain.FlowRun в RunResponse.
func RunFromDomain(r *domain.FlowRun) RunResponse {
	return RunResponse{
		RunID:          r.RunID,
		FlowName:       r.FlowName,
		Status:         string(r.Status),
		Input:          r.Input,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		StepCount:      r.StepCount,
		CompletedSteps: r.CompletedSteps,
		Error:          r.Error,
	}
}

// ListRunsResponse — постраничный envelope списка run'ов flow.
type ListRunsResponse struct {
	Items   []RunResponse `json:"items"`
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
	HasMore bool           `json:"hasMore"`
}

// ClearHistoryResponse — ответ на очистку истории run'ов flow.
type ClearHistoryResponse struct {
	Removed int64 `json:"removed"`
}

// Event DTOs

// EventResponse — представление одного события потока во внешнем API.
type EventResponse struct {
	ID       int64          `json:"id"`
	TS       time.Time      `json:"ts"`
	Type     string         `json:"type"`
	RunID    uuid.UUID      `json:"runId,omitempty"`
	FlowName string         `json:"flowName,omitempty"`
	StepName string         `json:"stepName,omitempty"`
	Attempt  int            `json:"attempt,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// EventFromDomain конвертирует domain.Event в EventResponse.
func EventFromDomain(ev domain.Event) EventResponse {
	return EventResponse{
		ID:       ev.ID,
		TS:       ev.TS,
		Type:     string(ev.Type),
		RunID:    ev.RunID,
		FlowName: ev.FlowName,
		StepName: ev.StepName,
		Attempt:  ev.Attempt,
		Data:     ev.Data,
	}
}

// Trigger DTOs

// RegisterTriggerRequest — запрос на регистрацию триггера.
type RegisterTriggerRequest struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Scope string `json:"scope"`

	// CronExpr / Timezone заполняются только для type == "schedule".
	CronExpr string `json:"cronExpr,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// FireTriggerRequest — тело запроса на срабатывание триггера.
type FireTriggerRequest = map[string]any

// FireTriggerResponse — ответ на срабатывание триггера.
type FireTriggerResponse struct {
	StartedRunIDs map[string]uuid.UUID `json:"startedRunIds"`
}

// TriggerResponse — представление триггера во внешнем API.
type TriggerResponse struct {
	Name              string    `json:"name"`
	Type              string    `json:"type"`
	Scope             string    `json:"scope"`
	Status            string    `json:"status"`
	ActiveSubscribers int       `json:"activeSubscribers"`
	TotalFires        int64     `json:"totalFires"`
	CreatedAt         time.Time `json:"createdAt"`
	CronExpr          string    `json:"cronExpr,omitempty"`
	Timezone          string    `json:"timezone,omitempty"`
}

// TriggerFromDomain конвертирует domain.Trigger в TriggerResponse.
func TriggerFromDomain(t *domain.Trigger) TriggerResponse {
	resp := TriggerResponse{
		Name:              t.Name,
		Type:              string(t.Type),
		Scope:             string(t.Scope),
		Status:            string(t.Status),
		ActiveSubscribers: t.Stats.ActiveSubscribers,
		TotalFires:        t.Stats.TotalFires,
		CreatedAt:         t.CreatedAt,
	}
	if t.Schedule != nil {
		resp.CronExpr = t.Schedule.CronExpr
		resp.Timezone = t.Schedule.Timezone
	}
	return resp
}

// WebSocket DTOs

// WSSubscribeMessage — сообщение клиента на подписку на run.
type WSSubscribeMessage struct {
	Type     string    `json:"type"`
	FlowName string    `json:"flowName"`
	RunID    uuid.UUID `json:"runId"`
}

// WSHistoryMessage — ответ сервера с историей событий сразу после подписки.
type WSHistoryMessage struct {
	Type   string          `json:"type"`
	Events []EventResponse `json:"events"`
}

// WSEventMessage — одно живое событие, пересланное подписчику.
type WSEventMessage struct {
	Type  string        `json:"type"`
	Event EventResponse `json:"event"`
}
