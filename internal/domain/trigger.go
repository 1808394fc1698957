package domain

import "time"

// Trigger — именованная внешняя точка входа, которая может запускать flow.
//
// Version включается для оптимистичной конкурентности на апдейтах через
// Store.Indices.Update (см. internal/store).
type Trigger struct {
	Name          string                         `json:"name"`
	Type          TriggerType                    `json:"type"`
	Scope         TriggerScope                   `json:"scope"`
	Status        TriggerStatus                  `json:"status"`
	Subscriptions map[string]TriggerSubscription  `json:"subscriptions,omitempty"`
	Stats         TriggerStats                    `json:"stats"`
	Webhook       *TriggerWebhookConfig            `json:"webhook,omitempty"`
	Schedule      *TriggerScheduleConfig           `json:"schedule,omitempty"`
	Config        map[string]any                   `json:"config,omitempty"`
	Version       int                              `json:"version"`
	CreatedAt     time.Time                        `json:"created_at"`
	UpdatedAt     time.Time                        `json:"updated_at"`
}

// TriggerSubscription — подписка одного flow на триггер.
type TriggerSubscription struct {
	Mode         SubscriptionMode `json:"mode"`
	SubscribedAt time.Time        `json:"subscribed_at"`
}

// TriggerStats — агрегированная статистика триггера.
type TriggerStats struct {
	TotalFires        int64      `json:"total_fires"`
	LastFiredAt       *time.Time `json:"last_fired_at,omitempty"`
	ActiveSubscribers int        `json:"active_subscribers"`
}

// TriggerWebhookConfig — параметры триггера типа webhook.
type TriggerWebhookConfig struct {
	Path   string `json:"path,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// TriggerScheduleConfig — параметры триггера типа schedule.
type TriggerScheduleConfig struct {
	CronExpr string `json:"cron_expr"`
	Timezone string `json:"timezone,omitempty"`
}

// NewTrigger создаёт новый триггер в статусе active с версией 1.
func NewTrigger(name string, typ TriggerType, scope TriggerScope) *Trigger {
	now := time.Now()
	return &Trigger{
		Name:          name,
		Type:          typ,
		Scope:         scope,
		Status:        TriggerStatusActive,
		Subscriptions: make(map[string]TriggerSubscription),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Subscribe добавляет/обновляет подписку flow на триггер. Возвращает true,
// если это новая подписка (и, соответственно, activeSubscribers должен
// инкрементироваться ровно один раз).
func (t *Trigger) Subscribe(flowName string, mode SubscriptionMode) bool {
	if t.Subscriptions == nil {
		t.Subscriptions = make(map[string]TriggerSubscription)
	}
	_, exists := t.Subscriptions[flowName]
	t.Subscriptions[flowName] = TriggerSubscription{Mode: mode, SubscribedAt: time.Now()}
	if !exists {
		t.Stats.ActiveSubscribers++
	}
	return !exists
}

// Unsubscribe удаляет подписку flow. Возвращает true, если подписка существовала.
func (t *Trigger) Unsubscribe(flowName string) bool {
	if _, exists := t.Subscriptions[flowName]; !exists {
		return false
	}
	delete(t.Subscriptions, flowName)
	if t.Stats.ActiveSubscribers > 0 {
		t.Stats.ActiveSubscribers--
	}
	return true
}

// RecordFire обновляет статистику срабатывания триггера.
func (t *Trigger) RecordFire() {
	now := time.Now()
	t.Stats.TotalFires++
	t.Stats.LastFiredAt = &now
}

// AutoSubscribedFlows возвращает имена flow, подписанных в режиме auto.
func (t *Trigger) AutoSubscribedFlows() []string {
	flows := make([]string, 0, len(t.Subscriptions))
	for flowName, sub := range t.Subscriptions {
		if sub.Mode == SubscriptionModeAuto {
			flows = append(flows, flowName)
		}
	}
	return flows
}

// Retire переводит триггер в статус retired.
func (t *Trigger) Retire() {
	t.Status = TriggerStatusRetired
	t.UpdatedAt = time.Now()
}
