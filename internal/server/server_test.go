package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/doytsujin/optuna/internal/config"
	"github.com/doytsujin/optuna/internal/pruner"
	"github.com/doytsujin/optuna/internal/study"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{Environment: "test"}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Pruner.MinResource = 1
	cfg.Pruner.ReductionFactor = 4
	cfg.Pruner.MinEarlyStoppingRate = 0

	return cfg
}

// newTestRouter builds a router with a fresh server over in-memory storage
func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()

	cfg := testConfig(t)
	p, err := pruner.NewSuccessiveHalvingPruner(pruner.SuccessiveHalvingConfig{
		MinResource:          cfg.Pruner.MinResource,
		ReductionFactor:      cfg.Pruner.ReductionFactor,
		MinEarlyStoppingRate: cfg.Pruner.MinEarlyStoppingRate,
	})
	require.NoError(t, err)

	srv := NewServer(cfg, zap.NewNop(), study.NewInMemoryStorage(), p)
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return r
}

// doJSON performs a request with a JSON body and decodes the JSON response
func doJSON(t *testing.T, r http.Handler, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var decoded map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&decoded))
	}
	return rr.Code, decoded
}

func TestNewServer(t *testing.T) {
	cfg := testConfig(t)
	p, err := pruner.NewSuccessiveHalvingPruner(pruner.DefaultSuccessiveHalvingConfig())
	require.NoError(t, err)

	srv := NewServer(cfg, zap.NewNop(), study.NewInMemoryStorage(), p)
	assert.NotNil(t, srv, "Server should be created")
}

func TestRegisterRoutes(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/studies", true},
		{"GET", "/api/v1/studies/s/summary", true},
		{"POST", "/api/v1/studies/s/trials", true},
		{"POST", "/api/v1/studies/s/trials/0/report", true},
		{"POST", "/api/v1/studies/s/trials/0/finish", true},
		{"GET", "/healthz", false}, // Registered by cmd/server, not here
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			if tt.shouldExist && rr.Code == http.StatusNotFound && rr.Body.String() == "404 page not found\n" {
				t.Errorf("Route %s %s should exist but returned 404", tt.method, tt.path)
			}
		})
	}
}

func TestCreateStudy(t *testing.T) {
	r := newTestRouter(t)

	code, body := doJSON(t, r, "POST", "/api/v1/studies", map[string]any{
		"name":      "quadratic",
		"direction": "minimize",
	})
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "quadratic", body["study"])
	assert.Equal(t, "minimize", body["direction"])

	// Duplicate names conflict
	code, body = doJSON(t, r, "POST", "/api/v1/studies", map[string]any{
		"name": "quadratic",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body, "error")

	// Bad direction rejected
	code, _ = doJSON(t, r, "POST", "/api/v1/studies", map[string]any{
		"name":      "other",
		"direction": "sideways",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	// Missing name rejected
	code, _ = doJSON(t, r, "POST", "/api/v1/studies", map[string]any{
		"direction": "minimize",
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCreateTrial(t *testing.T) {
	r := newTestRouter(t)

	code, _ := doJSON(t, r, "POST", "/api/v1/studies", map[string]any{"name": "s"})
	require.Equal(t, http.StatusCreated, code)

	code, body := doJSON(t, r, "POST", "/api/v1/studies/s/trials", nil)
	assert.Equal(t, http.StatusCreated, code)
	assert.Contains(t, body, "trial_id")

	code, _ = doJSON(t, r, "POST", "/api/v1/studies/unknown/trials", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestReportDrivesPruneDecision(t *testing.T) {
	r := newTestRouter(t)

	code, _ := doJSON(t, r, "POST", "/api/v1/studies", map[string]any{
		"name":      "s",
		"direction": "minimize",
	})
	require.Equal(t, http.StatusCreated, code)

	report := func(trialID int, step int, value float64) (bool, int) {
		code, body := doJSON(t, r, "POST",
			fmt.Sprintf("/api/v1/studies/s/trials/%d/report", trialID),
			map[string]any{"step": step, "value": value})
		prune, _ := body["prune"].(bool)
		return prune, code
	}

	createTrial := func() int {
		code, body := doJSON(t, r, "POST", "/api/v1/studies/s/trials", nil)
		require.Equal(t, http.StatusCreated, code)
		return int(body["trial_id"].(float64))
	}

	// First trial is alone at rung 0 and survives
	leader := createTrial()
	prune, code := report(leader, 1, 5.0)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, prune)

	// A worse second arrival loses against the current best
	loser := createTrial()
	prune, code = report(loser, 1, 10.0)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, prune)

	// A better arrival survives
	better := createTrial()
	prune, code = report(better, 1, 4.0)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, prune)
}

func TestReportValidation(t *testing.T) {
	r := newTestRouter(t)

	code, _ := doJSON(t, r, "POST", "/api/v1/studies", map[string]any{"name": "s"})
	require.Equal(t, http.StatusCreated, code)
	code, body := doJSON(t, r, "POST", "/api/v1/studies/s/trials", nil)
	require.Equal(t, http.StatusCreated, code)
	trialID := int(body["trial_id"].(float64))

	// Missing value
	code, _ = doJSON(t, r, "POST",
		fmt.Sprintf("/api/v1/studies/s/trials/%d/report", trialID),
		map[string]any{"step": 1})
	assert.Equal(t, http.StatusBadRequest, code)

	// Negative step
	code, _ = doJSON(t, r, "POST",
		fmt.Sprintf("/api/v1/studies/s/trials/%d/report", trialID),
		map[string]any{"step": -1, "value": 1.0})
	assert.Equal(t, http.StatusBadRequest, code)

	// Unknown trial
	code, _ = doJSON(t, r, "POST", "/api/v1/studies/s/trials/999/report",
		map[string]any{"step": 1, "value": 1.0})
	assert.Equal(t, http.StatusNotFound, code)

	// Garbage trial ID
	code, _ = doJSON(t, r, "POST", "/api/v1/studies/s/trials/abc/report",
		map[string]any{"step": 1, "value": 1.0})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestFinishAndSummary(t *testing.T) {
	r := newTestRouter(t)

	code, _ := doJSON(t, r, "POST", "/api/v1/studies", map[string]any{
		"name":      "s",
		"direction": "minimize",
	})
	require.Equal(t, http.StatusCreated, code)

	createTrial := func() int {
		code, body := doJSON(t, r, "POST", "/api/v1/studies/s/trials", nil)
		require.Equal(t, http.StatusCreated, code)
		return int(body["trial_id"].(float64))
	}

	first := createTrial()
	second := createTrial()
	third := createTrial()

	code, _ = doJSON(t, r, "POST", fmt.Sprintf("/api/v1/studies/s/trials/%d/finish", first),
		map[string]any{"state": "complete", "value": 2.0})
	assert.Equal(t, http.StatusOK, code)

	code, _ = doJSON(t, r, "POST", fmt.Sprintf("/api/v1/studies/s/trials/%d/finish", second),
		map[string]any{"state": "complete", "value": 4.0})
	assert.Equal(t, http.StatusOK, code)

	code, _ = doJSON(t, r, "POST", fmt.Sprintf("/api/v1/studies/s/trials/%d/finish", third),
		map[string]any{"state": "pruned"})
	assert.Equal(t, http.StatusOK, code)

	code, body := doJSON(t, r, "GET", "/api/v1/studies/s/summary", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["trials"])
	assert.Equal(t, float64(2), body["completed"])
	assert.Equal(t, float64(1), body["pruned"])
	assert.Equal(t, 2.0, body["best_value"])
	assert.Equal(t, 3.0, body["mean"])
}

func TestFinishValidation(t *testing.T) {
	r := newTestRouter(t)

	code, _ := doJSON(t, r, "POST", "/api/v1/studies", map[string]any{"name": "s"})
	require.Equal(t, http.StatusCreated, code)
	code, body := doJSON(t, r, "POST", "/api/v1/studies/s/trials", nil)
	require.Equal(t, http.StatusCreated, code)
	trialID := int(body["trial_id"].(float64))

	// Non-terminal state rejected
	code, _ = doJSON(t, r, "POST", fmt.Sprintf("/api/v1/studies/s/trials/%d/finish", trialID),
		map[string]any{"state": "running"})
	assert.Equal(t, http.StatusBadRequest, code)

	// Complete without a final value rejected
	code, _ = doJSON(t, r, "POST", fmt.Sprintf("/api/v1/studies/s/trials/%d/finish", trialID),
		map[string]any{"state": "complete"})
	assert.Equal(t, http.StatusBadRequest, code)
}
