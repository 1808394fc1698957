package handler

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WorkerIDHTTP — workerID встроенного HTTP-воркера.
const WorkerIDHTTP = "builtin.http"

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB

	keyMethod          = "method"
	keyURL             = "url"
	keyHeaders         = "headers"
	keyBody            = "body"
	keyFollowRedirects = "follow_redirects"
	keyValidateSSL     = "validate_ssl"
	keyTimeoutSec      = "timeout_sec"
)

// HTTPHandler выполняет HTTP-запрос, описанный входными данными run'а.
//
// Ожидаемые ключи input:
//   - method (string): HTTP-метод. По умолчанию GET.
//   - url (string): адрес запроса (обязателен).
//   - headers (map[string]any | map[string]string): заголовки запроса.
//   - body (any): тело запроса, сериализуется в JSON если не string/[]byte.
//   - follow_redirects (bool): следовать ли редиректам. По умолчанию true.
//   - validate_ssl (bool): проверять ли TLS-сертификат сервера. По умолчанию true.
//   - timeout_sec (number): таймаут запроса в секундах. По умолчанию 30.
//
// Outputs: status_code (int), headers (map[string]string), body (распарсенный
// JSON либо строка).
type HTTPHandler struct{}

// NewHTTPHandler создаёт HTTPHandler.
func NewHTTPHandler() *HTTPHandler { return &HTTPHandler{} }

// Run выполняет HTTP-запрос.
func (h *HTTPHandler) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	cfg, err := parseHTTPConfig(input)
	if err != nil {
		return nil, err
	}

	client := buildHTTPClient(cfg)

	req, err := buildHTTPRequest(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrHTTPRequest, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHTTPRequest, err)
	}
	defer resp.Body.Close()

	return parseHTTPResponse(resp)
}

type httpConfig struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            any
	FollowRedirects bool
	ValidateSSL     bool
	TimeoutSec      int
}

func parseHTTPConfig(input map[string]any) (*httpConfig, error) {
	cfg := &httpConfig{
		Method:          getString(input, keyMethod, ""),
		URL:             getString(input, keyURL, ""),
		Headers:         getStringMap(input, keyHeaders),
		Body:            input[keyBody],
		FollowRedirects: getBool(input, keyFollowRedirects, true),
		ValidateSSL:     getBool(input, keyValidateSSL, true),
		TimeoutSec:      getInt(input, keyTimeoutSec),
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidConfig, WorkerIDHTTP)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return cfg, nil
}

func buildHTTPClient(cfg *httpConfig) *http.Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	var checkRedirect func(*http.Request, []*http.Request) error
	if !cfg.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.ValidateSSL},
		},
	}
}

func buildHTTPRequest(ctx context.Context, cfg *httpConfig) (*http.Request, error) {
	var bodyReader io.Reader
	if cfg.Body != nil {
		bodyBytes, err := serializeHTTPBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
		if _, ok := cfg.Headers["Content-Type"]; !ok {
			cfg.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bodyReader)
	if err != nil {
		return nil, err
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

func serializeHTTPBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func parseHTTPResponse(resp *http.Response) (map[string]any, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err)
	}

	var parsedBody any
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		if err := json.Unmarshal(bodyBytes, &parsedBody); err != nil {
			parsedBody = string(bodyBytes)
		}
	} else {
		parsedBody = string(bodyBytes)
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsedBody,
	}, nil
}

func getString(m map[string]any, key, def string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func getBool(m map[string]any, key string, def bool) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func getInt(m map[string]any, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

func getStringMap(m map[string]any, key string) map[string]string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	switch h := v.(type) {
	case map[string]string:
		return h
	case map[string]any:
		result := make(map[string]string, len(h))
		for k, val := range h {
			if s, ok := val.(string); ok {
				result[k] = s
			}
		}
		return result
	default:
		return nil
	}
}
