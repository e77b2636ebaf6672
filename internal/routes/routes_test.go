package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/work-manager-team/Work-Management-sub001/internal/config"
	"github.com/work-manager-team/Work-Management-sub001/internal/metrics"
	"github.com/work-manager-team/Work-Management-sub001/internal/middleware"
	"github.com/work-manager-team/Work-Management-sub001/internal/realtime"
	"github.com/work-manager-team/Work-Management-sub001/internal/sessionlog"
	"github.com/work-manager-team/Work-Management-sub001/internal/testutil"
)

func setup(t *testing.T, mutate func(*config.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	m := metrics.New()
	return SetupRoutes(Deps{
		Config:  cfg,
		Gateway: realtime.NewGateway(testutil.Verifier(), realtime.WithMetrics(m)),
		Metrics: m,
	})
}

func TestHealth(t *testing.T) {
	r := setup(t, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/notifications/health", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "notification-gateway", body["service"])
}

func TestStats_Empty(t *testing.T) {
	r := setup(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/notifications/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"totalUsers":0,"totalSockets":0,"users":[]}`, w.Body.String())
}

func TestTrigger_APIKeyGuard(t *testing.T) {
	r := setup(t, func(cfg *config.Config) { cfg.TriggerAPIKey = "s3cret" })
	body := `{"userId":1,"notification":{"type":"x"}}`

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/notifications/trigger", strings.NewReader(body)))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/notifications/trigger", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.APIKeyHeader, "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSessions_APIKeyGuard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	cfg := config.Default()
	cfg.TriggerAPIKey = "s3cret"
	r := SetupRoutes(Deps{
		Config:   cfg,
		Gateway:  realtime.NewGateway(testutil.Verifier()),
		Sessions: sessionlog.NewStore(db),
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/notifications/sessions", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/notifications/sessions", nil)
	req.Header.Set(middleware.APIKeyHeader, "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/notifications/sessions", nil)
	req.Header.Set(middleware.APIKeyHeader, "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 0, body.Count)
}

func TestSessions_DisabledWithoutStore(t *testing.T) {
	r := setup(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/notifications/sessions", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetrics(t *testing.T) {
	r := setup(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "notification_gateway_connections")
}

func TestWebSocketPath_RejectsPlainGET(t *testing.T) {
	r := setup(t, func(cfg *config.Config) { cfg.WSPath = "/socket" })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/socket", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}
