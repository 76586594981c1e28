package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callboard/pkg/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSetupServiceRouter(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	hc := monitoring.NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func(context.Context) monitoring.CheckResult { return monitoring.CheckResult{Status: monitoring.StatusHealthy} })
	mc := monitoring.NewMetricsCollectorWithRegistry("svc", "v1", "abc", prometheus.NewRegistry())
	r := SetupServiceRouter(logger, "svc", hc, mc)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `svc_http_requests_total{method="GET",route="/ping",status="200"} 1`)
}

func TestSetupRouterWithService(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	r := SetupRouterWithService(logger, "svc")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"service":"svc"`)
}

func TestServeShutsDownOnContextCancel(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, Config{ServiceName: "svc", ShutdownTimeout: time.Second}, ln, handler, logger)
	}()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}

	stopped := false
	for _, e := range hook.AllEntries() {
		if strings.Contains(e.Message, "Server stopped") {
			stopped = true
		}
	}
	assert.True(t, stopped)
}

func TestRunReportsListenError(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	err := Run(context.Background(), Config{Port: "not-a-port"}, http.NotFoundHandler(), logger)
	assert.Error(t, err)
}
