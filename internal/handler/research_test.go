package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/polymind/polymind/internal/eventbus"
	"github.com/polymind/polymind/internal/meeting"
	"github.com/polymind/polymind/internal/service/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	result *meeting.Result
	err    error
}

func (e *stubEngine) Run(ctx context.Context, sessionID, userRequest string) (*meeting.Result, error) {
	return e.result, e.err
}

func newTestServer(t *testing.T, engine *stubEngine) (*gin.Engine, *sessions.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := sessions.NewRegistry()
	bus := eventbus.NewBus()
	runner, err := sessions.NewRunner(1, registry, bus, func(notifier meeting.Notifier) sessions.Engine {
		return engine
	})
	require.NoError(t, err)
	t.Cleanup(runner.Stop)

	h := NewResearchHandler(registry, runner, bus)
	r := gin.New()
	r.POST("/api/research", h.Create)
	r.GET("/api/research", h.List)
	r.GET("/api/research/:id", h.Get)
	r.GET("/api/research/:id/stream", h.Stream)
	r.GET("/api/research/:id/report.html", h.Report)
	return r, registry
}

func waitSucceeded(t *testing.T, registry *sessions.Registry, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		session, ok := registry.Get(id)
		return ok && session.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCreateAndFetchSession(t *testing.T) {
	engine := &stubEngine{result: &meeting.Result{Epochs: 1, ReportMarkdown: "## 背景\n内容"}}
	r, registry := newTestServer(t, engine)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/research", strings.NewReader(`{"request":"研究光伏产业"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	waitSucceeded(t, registry, created.ID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/research/"+created.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"succeeded"`)
}

func TestCreateRejectsEmptyRequest(t *testing.T) {
	r, _ := newTestServer(t, &stubEngine{result: &meeting.Result{}})

	for _, body := range []string{`{}`, `{"request":"   "}`, `not json`} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/research", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body=%s", body)
	}
}

func TestGetMissingSession(t *testing.T) {
	r, _ := newTestServer(t, &stubEngine{result: &meeting.Result{}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/research/不存在的ID", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportHTML(t *testing.T) {
	engine := &stubEngine{result: &meeting.Result{ReportMarkdown: "## 背景\n讨论结论：正文。"}}
	r, registry := newTestServer(t, engine)

	session := registry.Create("请求")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/research/"+session.ID+"/report.html", nil))
	// 未完成时报告不可用
	require.Equal(t, http.StatusConflict, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/research", strings.NewReader(`{"request":"请求"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	waitSucceeded(t, registry, created.ID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/research/"+created.ID+"/report.html", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "<h2")
}

func TestStreamFinishedSessionEmitsDone(t *testing.T) {
	engine := &stubEngine{result: &meeting.Result{ReportMarkdown: "## 背景"}}
	r, registry := newTestServer(t, engine)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/research", strings.NewReader(`{"request":"请求"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	waitSucceeded(t, registry, created.ID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/research/"+created.ID+"/stream", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, w.Body.String(), `"done"`)
}
