package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// RunResponse — run из API.
type RunResponse struct {
	RunID          uuid.UUID      `json:"runId"`
	FlowName       string         `json:"flowName"`
	Status         string         `json:"status"`
	Input          map[string]any `json:"input,omitempty"`
	StartedAt      string         `json:"startedAt"`
	CompletedAt    string         `json:"completedAt,omitempty"`
	StepCount      int            `json:"stepCount"`
	CompletedSteps int            `json:"completedSteps"`
	Error          string         `json:"error,omitempty"`
}

// ListRunsResponse — постраничный список run'ов одного flow.
type ListRunsResponse struct {
	Items   []RunResponse `json:"items"`
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
	HasMore bool          `json:"hasMore"`
}

// StartRunResponse — ответ на старт run.
type StartRunResponse struct {
	FlowID uuid.UUID `json:"flowId"`
}

// RestartRunResponse — ответ на рестарт run.
type RestartRunResponse struct {
	NewRunID uuid.UUID `json:"newRunId"`
}

// ClearHistoryResponse — ответ на очистку истории run'ов flow.
type ClearHistoryResponse struct {
	Removed int64 `json:"removed"`
}

// TriggerResponse — триггер из API.
type TriggerResponse struct {
	Name              string `json:"name"`
	Type              string `json:"type"`
	Scope             string `json:"scope"`
	Status            string `json:"status"`
	ActiveSubscribers int    `json:"activeSubscribers"`
	TotalFires        int64  `json:"totalFires"`
	CreatedAt         string `json:"createdAt"`
	CronExpr          string `json:"cronExpr,omitempty"`
	Timezone          string `json:"timezone,omitempty"`
}

// FireTriggerResponse — ответ на срабатывание триггера.
type FireTriggerResponse struct {
	StartedRunIDs map[string]uuid.UUID `json:"startedRunIds"`
}

// EventResponse — одно событие потока run'а.
type EventResponse struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts"`
	Type     string         `json:"type"`
	RunID    uuid.UUID      `json:"runId,omitempty"`
	FlowName string         `json:"flowName,omitempty"`
	StepName string         `json:"stepName,omitempty"`
	Attempt  int            `json:"attempt,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// FlowStepResponse — один шаг внутри проанализированного flow.
type FlowStepResponse struct {
	Name          string   `json:"name"`
	Queue         string   `json:"queue"`
	WorkerID      string   `json:"workerId"`
	Subscribes    []string `json:"subscribes,omitempty"`
	Emits         []string `json:"emits,omitempty"`
	Level         int      `json:"level"`
	DependsOn     []string `json:"dependsOn,omitempty"`
	Triggers      []string `json:"triggers,omitempty"`
	StepTimeoutMs int64    `json:"stepTimeoutMs,omitempty"`
}

// FlowInfoResponse — структура проанализированного flow.
type FlowInfoResponse struct {
	Name         string             `json:"name"`
	EntryStep    string             `json:"entryStep"`
	StepCount    int                `json:"stepCount"`
	MaxLevel     int                `json:"maxLevel"`
	HasAwait     bool               `json:"hasAwait"`
	StallTimeout int64              `json:"stallTimeoutMs,omitempty"`
	Steps        []FlowStepResponse `json:"steps"`
}

// --- Request types ---

// RegisterTriggerRequest — регистрация триггера.
type RegisterTriggerRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Scope    string `json:"scope"`
	CronExpr string `json:"cronExpr,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// --- API envelope wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Flows / Runs ---

// ListFlows возвращает имена всех зарегистрированных flow.
func (c *Client) ListFlows() ([]string, error) {
	var names []string
	err := c.list("/api/_flows", nil, &names)
	return names, err
}

// GetFlow возвращает структуру проанализированного flow.
func (c *Client) GetFlow(flowName string) (*FlowInfoResponse, error) {
	var flow FlowInfoResponse
	err := c.getData("/api/_flows/"+flowName, &flow)
	return &flow, err
}

// StartFlow запускает новый run указанного flow.
func (c *Client) StartFlow(flowName string, input map[string]any) (*StartRunResponse, error) {
	var resp StartRunResponse
	err := c.post("/api/_flows/"+flowName+"/start", input, &resp)
	return &resp, err
}

// ListRuns возвращает постраничный список run'ов flow.
func (c *Client) ListRuns(flowName string, offset, limit int) (*ListRunsResponse, error) {
	params := url.Values{}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	path := "/api/_flows/" + flowName + "/runs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp ListRunsResponse
	err := c.getData(path, &resp)
	return &resp, err
}

// CancelRun отменяет активный run.
func (c *Client) CancelRun(flowName string, runID uuid.UUID) error {
	resp, err := c.do(http.MethodPost, "/api/_flows/"+flowName+"/runs/"+runID.String()+"/cancel", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

// RestartRun запускает новый run того же flow с исходным input'ом.
func (c *Client) RestartRun(flowName string, runID uuid.UUID) (*RestartRunResponse, error) {
	var resp RestartRunResponse
	err := c.post("/api/_flows/"+flowName+"/runs/"+runID.String()+"/restart", nil, &resp)
	return &resp, err
}

// ClearHistory удаляет терминальные run'ы flow старше olderThanHours часов.
func (c *Client) ClearHistory(flowName string, olderThanHours int) (*ClearHistoryResponse, error) {
	path := fmt.Sprintf("/api/_flows/%s/clear-history?olderThanHours=%d", flowName, olderThanHours)

	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkError(resp); err != nil {
		return nil, err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	var out ClearHistoryResponse
	if err := json.Unmarshal(dr.Data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// ResolveWebhookAwait разрешает webhook-await для активного шага run'а.
func (c *Client) ResolveWebhookAwait(flowName string, runID uuid.UUID, step string, data map[string]any) error {
	path := "/api/_webhook/await/" + flowName + "/" + runID.String() + "/" + step
	resp, err := c.do(http.MethodPost, path, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

// --- Triggers ---

// ListTriggers возвращает все зарегистрированные триггеры.
func (c *Client) ListTriggers() ([]TriggerResponse, error) {
	var triggers []TriggerResponse
	err := c.list("/api/_triggers", nil, &triggers)
	return triggers, err
}

// RegisterTrigger регистрирует новый триггер.
func (c *Client) RegisterTrigger(req RegisterTriggerRequest) (*TriggerResponse, error) {
	var trig TriggerResponse
	err := c.post("/api/_triggers", req, &trig)
	return &trig, err
}

// FireTrigger вызывает срабатывание триггера, передавая data подписанным flow.
func (c *Client) FireTrigger(name string, data map[string]any) (*FireTriggerResponse, error) {
	var resp FireTriggerResponse
	err := c.post("/api/_triggers/"+name+"/fire", data, &resp)
	return &resp, err
}

// --- HTTP helpers ---

func (c *Client) post(path string, body any, result any) error {
	return c.getDataFrom(http.MethodPost, path, body, result)
}

func (c *Client) getData(path string, result any) error {
	return c.getDataFrom(http.MethodGet, path, nil, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr struct {
		Data  json.RawMessage `json:"data"`
		Total int             `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(lr.Data, result)
}

func (c *Client) getDataFrom(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
