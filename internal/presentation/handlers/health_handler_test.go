package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bimakw/stream-indexer/internal/testutil"
)

func TestHealthHandler_Health_AllHealthy(t *testing.T) {
	handler := NewHealthHandler(
		testutil.NewMockHealthChecker(true),
		testutil.NewMockHealthChecker(true),
		testutil.NewMockHealthChecker(true),
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "healthy" {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	for _, service := range []string{"database", "cache", "rpc"} {
		if response.Services[service] != "healthy" {
			t.Errorf("expected %s healthy, got %s", service, response.Services[service])
		}
	}
}

func TestHealthHandler_Health_DatabaseUnhealthy(t *testing.T) {
	handler := NewHealthHandler(
		testutil.NewMockHealthChecker(false),
		testutil.NewMockHealthChecker(true),
		testutil.NewMockHealthChecker(true),
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.Health(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}

	var response HealthResponse
	json.NewDecoder(rec.Body).Decode(&response)
	if response.Status != "unhealthy" {
		t.Errorf("expected status unhealthy, got %s", response.Status)
	}
}

func TestHealthHandler_Health_RPCDegraded(t *testing.T) {
	handler := NewHealthHandler(
		testutil.NewMockHealthChecker(true),
		testutil.NewMockHealthChecker(true),
		testutil.NewMockHealthChecker(false),
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.Health(rec, req)

	// A chain without healthy endpoints degrades but does not fail the
	// whole service.
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var response HealthResponse
	json.NewDecoder(rec.Body).Decode(&response)
	if response.Status != "degraded" {
		t.Errorf("expected status degraded, got %s", response.Status)
	}
}

func TestHealthHandler_Health_NoCache(t *testing.T) {
	handler := NewHealthHandler(
		testutil.NewMockHealthChecker(true),
		nil,
		testutil.NewMockHealthChecker(true),
	)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var response HealthResponse
	json.NewDecoder(rec.Body).Decode(&response)
	if _, ok := response.Services["cache"]; ok {
		t.Error("expected no cache entry when cache is not configured")
	}
}

func TestHealthHandler_ReadyAndLive(t *testing.T) {
	handler := NewHealthHandler(
		testutil.NewMockHealthChecker(true),
		nil,
		testutil.NewMockHealthChecker(true),
	)

	rec := httptest.NewRecorder()
	handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected ready 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.Live(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected live 200, got %d", rec.Code)
	}
}

func TestHealthHandler_Ready_DatabaseDown(t *testing.T) {
	handler := NewHealthHandler(
		testutil.NewMockHealthChecker(false),
		nil,
		testutil.NewMockHealthChecker(true),
	)

	rec := httptest.NewRecorder()
	handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected ready 503, got %d", rec.Code)
	}
}
