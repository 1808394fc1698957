package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPHandler_GET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "data": []int{1, 2, 3}})
	}))
	defer server.Close()

	h := NewHTTPHandler()
	out, err := h.Run(context.Background(), map[string]any{
		"method": "GET",
		"url":    server.URL,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["status_code"] != 200 {
		t.Errorf("expected status_code 200, got %v", out["status_code"])
	}
	body, ok := out["body"].(map[string]any)
	if !ok {
		t.Fatalf("expected body to be map, got %T", out["body"])
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestHTTPHandler_POST_JSON(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json")
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": 123})
	}))
	defer server.Close()

	h := NewHTTPHandler()
	out, err := h.Run(context.Background(), map[string]any{
		"method": "POST",
		"url":    server.URL,
		"body":   map[string]any{"name": "test", "value": 42},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["status_code"] != 201 {
		t.Errorf("expected status_code 201, got %v", out["status_code"])
	}
	if received["name"] != "test" {
		t.Errorf("expected name test, got %v", received["name"])
	}
}

func TestHTTPHandler_WithHeaders(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := NewHTTPHandler()
	_, err := h.Run(context.Background(), map[string]any{
		"url":     server.URL,
		"headers": map[string]any{"Authorization": "Bearer secret123"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != "Bearer secret123" {
		t.Errorf("expected auth header, got %s", auth)
	}
}

func TestHTTPHandler_InvalidConfig(t *testing.T) {
	h := NewHTTPHandler()
	_, err := h.Run(context.Background(), map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing url")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestHTTPHandler_NoFollowRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer redirecting.Close()

	h := NewHTTPHandler()
	out, err := h.Run(context.Background(), map[string]any{
		"url":              redirecting.URL,
		"follow_redirects": false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["status_code"] != http.StatusFound {
		t.Errorf("expected status_code 302, got %v", out["status_code"])
	}
}

func TestHTTPHandler_Cancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := NewHTTPHandler()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.Run(ctx, map[string]any{"url": server.URL})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if !errors.Is(err, ErrHTTPRequest) {
		t.Errorf("expected ErrHTTPRequest, got %v", err)
	}
}
