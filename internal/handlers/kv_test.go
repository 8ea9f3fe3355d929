package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/heliactyl/heliactyldb/internal/api"
	"github.com/heliactyl/heliactyldb/internal/app"
	"github.com/heliactyl/heliactyldb/internal/kv"
)

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := kv.Open(context.Background(), kv.Config{
		URL: filepath.Join(t.TempDir(), "api.sqlite"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := &app.Config{}
	cfg.Monitoring.Health.Enabled = true
	cfg.Monitoring.Prometheus.Enabled = false

	return api.NewRouter(store, cfg)
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type apiResponse struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta *struct {
		Total int `json:"total"`
	} `json:"meta"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSetAndGetKey(t *testing.T) {
	router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPut, "/api/v1/kv/greeting", gin.H{"value": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/kv/greeting", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	require.True(t, resp.Success)
	require.Equal(t, "hello", resp.Data["value"])
}

func TestGetMissingKeyReturns404(t *testing.T) {
	router := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/kv/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	resp := decode(t, rec)
	require.False(t, resp.Success)
	require.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestDeleteKey(t *testing.T) {
	router := newTestServer(t)

	doJSON(t, router, http.MethodPut, "/api/v1/kv/tmp", gin.H{"value": 1})

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/kv/tmp", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/kv/tmp/exists", nil)
	resp := decode(t, rec)
	require.Equal(t, false, resp.Data["exists"])
}

func TestIncrementAndDecrement(t *testing.T) {
	router := newTestServer(t)

	doJSON(t, router, http.MethodPut, "/api/v1/kv/counter", gin.H{"value": 5})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/kv/counter/increment", gin.H{"amount": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	require.Equal(t, float64(8), resp.Data["value"])

	rec = doJSON(t, router, http.MethodPost, "/api/v1/kv/counter/decrement", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode(t, rec)
	require.Equal(t, float64(7), resp.Data["value"])
}

func TestIncrementNonNumericConflicts(t *testing.T) {
	router := newTestServer(t)

	doJSON(t, router, http.MethodPut, "/api/v1/kv/name", gin.H{"value": "panel"})

	rec := doJSON(t, router, http.MethodPost, "/api/v1/kv/name/increment", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	resp := decode(t, rec)
	require.Equal(t, "NOT_NUMERIC", resp.Error.Code)
}

func TestBatchWriteAndList(t *testing.T) {
	router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/kv", gin.H{
		"entries": gin.H{"a": 1, "b": 2, "c": 3},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/kv", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	require.NotNil(t, resp.Meta)
	require.Equal(t, 3, resp.Meta.Total)
	require.Equal(t, float64(2), resp.Data["b"])
}

func TestBatchWriteRequiresEntries(t *testing.T) {
	router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/kv", gin.H{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchKeys(t *testing.T) {
	router := newTestServer(t)

	doJSON(t, router, http.MethodPost, "/api/v1/kv", gin.H{
		"entries": gin.H{"user-1": 1, "user-2": 2, "server-1": 3},
	})

	rec := doJSON(t, router, http.MethodGet, "/api/v1/kv?search=user-%25", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	keys, ok := resp.Data["keys"].([]interface{})
	require.True(t, ok)
	require.Len(t, keys, 2)
}

func TestClearNamespace(t *testing.T) {
	router := newTestServer(t)

	doJSON(t, router, http.MethodPut, "/api/v1/kv/a", gin.H{"value": 1})

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/kv", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/kv", nil)
	resp := decode(t, rec)
	require.Equal(t, 0, resp.Meta.Total)
}

func TestHealthz(t *testing.T) {
	router := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	require.Equal(t, "ok", resp.Data["status"])
	require.Equal(t, "sqlite", resp.Data["backend"])
}

func TestStatsEndpoint(t *testing.T) {
	router := newTestServer(t)

	doJSON(t, router, http.MethodPut, "/api/v1/kv/a", gin.H{"value": 1})

	rec := doJSON(t, router, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	require.Equal(t, "sqlite", resp.Data["backend"])
	require.Equal(t, "heliactyl", resp.Data["namespace"])
}
