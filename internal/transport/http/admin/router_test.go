package adminhttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etfx/internal/params"
	"etfx/internal/universe"
)

func newTestRouter(t *testing.T) (*gin.Engine, *params.Resolver) {
	t.Helper()
	dir := t.TempDir()
	global, err := params.NewGlobalStore(filepath.Join(dir, "global.json"))
	require.NoError(t, err)
	resolver, err := params.NewResolver(global, filepath.Join(dir, "instruments.json"))
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	NewRouter(global, resolver, universe.Default(), nil).Register(engine.Group("/api"))
	return engine, resolver
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w, decoded
}

func TestGetGlobalParams(t *testing.T) {
	router, _ := newTestRouter(t)

	w, body := doJSON(t, router, http.MethodGet, "/api/params", "")
	require.Equal(t, http.StatusOK, w.Code)
	values, ok := body["params"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 5.0, values[params.TakeProfitPct])
	assert.Equal(t, true, values[params.CloseBeforeMarketEnd])
}

func TestPutGlobalParam(t *testing.T) {
	router, _ := newTestRouter(t)

	w, body := doJSON(t, router, http.MethodPut, "/api/params/take_profit_pct", `{"value": 6.0}`)
	require.Equal(t, http.StatusOK, w.Code)
	values := body["params"].(map[string]any)
	assert.Equal(t, 6.0, values[params.TakeProfitPct])

	w, _ = doJSON(t, router, http.MethodPut, "/api/params/not_a_param", `{"value": 1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTickerDetailAndOverrideLifecycle(t *testing.T) {
	router, resolver := newTestRouter(t)

	w, _ := doJSON(t, router, http.MethodGet, "/api/tickers/tqqq", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, router, http.MethodGet, "/api/tickers/AAPL", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, router, http.MethodPut, "/api/tickers/TQQQ/override", `{"take_profit_pct": 8.0}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 8.0, resolver.EffectiveFloat("TQQQ", params.TakeProfitPct))
	assert.Equal(t, params.ProvenanceUser, resolver.ProvenanceOf("TQQQ", params.TakeProfitPct))

	// Foreign keys are rejected and named.
	w, body := doJSON(t, router, http.MethodPut, "/api/tickers/TQQQ/override", `{"vix_shutdown_threshold": 30}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "vix_shutdown_threshold")

	w, _ = doJSON(t, router, http.MethodDelete, "/api/tickers/TQQQ/override?key=take_profit_pct", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, params.ProvenanceGlobal, resolver.ProvenanceOf("TQQQ", params.TakeProfitPct))
}

func TestGetRegime(t *testing.T) {
	router, _ := newTestRouter(t)

	w, body := doJSON(t, router, http.MethodGet, "/api/regime?vix=23.5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "elevated", body["regime"])

	w, _ = doJSON(t, router, http.MethodGet, "/api/regime", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, router, http.MethodGet, "/api/regime?vix=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
