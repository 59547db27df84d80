package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/podushkina/sarflow/internal/catalog"
	"github.com/podushkina/sarflow/internal/orchestrator"
	"github.com/podushkina/sarflow/internal/task"
	"github.com/podushkina/sarflow/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	startErr  error
	started   []task.JobSpec
	tasks     map[string]*task.Task
	logs      []task.LogEntry
	lastLimit int
	cancelled map[string]bool
	statusErr error
	preview   *orchestrator.ScenePreview
	searchErr error
}

func newFakeService() *fakeService {
	return &fakeService{tasks: map[string]*task.Task{}, cancelled: map[string]bool{}}
}

func (f *fakeService) StartProcessing(spec task.JobSpec) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, spec)
	return "01HTASK", nil
}

func (f *fakeService) Status(_ context.Context, id string) (*task.Task, error) {
	if t, ok := f.tasks[id]; ok {
		return t, nil
	}
	return nil, f.statusErr
}

func (f *fakeService) SearchScenes(_ context.Context, _ task.JobSpec) (*orchestrator.ScenePreview, error) {
	return f.preview, f.searchErr
}

func (f *fakeService) Logs(id string, offset, limit int) (task.LogPage, error) {
	f.lastLimit = limit
	if _, ok := f.tasks[id]; !ok {
		return task.LogPage{}, orchestrator.ErrNotFound
	}
	total := len(f.logs)
	if offset >= total {
		return task.LogPage{Entries: []task.LogEntry{}, Total: total}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return task.LogPage{Entries: f.logs[offset:end], Total: total}, nil
}

func (f *fakeService) Cancel(id string) bool {
	t, ok := f.tasks[id]
	if !ok || f.cancelled[id] || t.Status.Terminal() {
		return false
	}
	f.cancelled[id] = true
	return true
}

func (f *fakeService) List() []task.Summary {
	out := []task.Summary{}
	for _, t := range f.tasks {
		out = append(out, t.Summary())
	}
	return out
}

func (f *fakeService) Stats() map[task.Status]int {
	return map[task.Status]int{task.StatusProcessing: len(f.tasks)}
}

func setupTestRouter(t *testing.T) (*fakeService, http.Handler) {
	t.Helper()
	svc := newFakeService()
	svc.tasks["t1"] = &task.Task{
		ID:        "t1",
		JobID:     "job-1",
		Status:    task.StatusProcessing,
		Progress:  40,
		StartedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Steps:     []task.StepResult{},
	}
	for i := 0; i < 5; i++ {
		svc.logs = append(svc.logs, task.LogEntry{Seq: i, Level: task.LevelInfo, Message: fmt.Sprintf("line %d", i)})
	}
	return svc, NewRouter(NewHandler(svc), []string{"*"})
}

func TestStartProcessing(t *testing.T) {
	svc, router := setupTestRouter(t)

	body, _ := json.Marshal(map[string]any{
		"job_id":     "job-9",
		"area":       map[string]float64{"north": 36.2, "south": 35.8, "east": 139.9, "west": 139.5},
		"start_date": "2023-01-01",
		"end_date":   "2023-03-01",
		"workflow":   map[string]string{"orbit_direction": "ascending"},
	})
	req, _ := http.NewRequest("POST", "/tasks", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	var resp StartResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "01HTASK", resp.TaskID)

	require.Len(t, svc.started, 1)
	assert.Equal(t, "job-9", svc.started[0].JobID)
	assert.Equal(t, 139.5, svc.started[0].Area.West)
	assert.Equal(t, "ascending", svc.started[0].Workflow.OrbitDirection)
}

func TestStartProcessing_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{name: "bad json", body: "{", want: http.StatusBadRequest},
		{name: "invalid job", err: fmt.Errorf("%w: area: south must be less than north", orchestrator.ErrInvalidJob), body: "{}", want: http.StatusBadRequest},
		{name: "queue full", err: fmt.Errorf("queue task: %w", worker.ErrQueueFull), body: "{}", want: http.StatusServiceUnavailable},
		{name: "other", err: fmt.Errorf("boom"), body: "{}", want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, router := setupTestRouter(t)
			svc.startErr = tt.err

			req, _ := http.NewRequest("POST", "/tasks", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestGetStatus_Success(t *testing.T) {
	_, router := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/tasks/t1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var got task.Task
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, task.StatusProcessing, got.Status)
}

func TestGetStatus_UnknownIsNull(t *testing.T) {
	_, router := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/tasks/non-existent-id", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "null", string(bytes.TrimSpace(rr.Body.Bytes())))
}

func TestGetStatus_ArchiveErrorIsNull(t *testing.T) {
	svc, router := setupTestRouter(t)
	svc.statusErr = errors.New("redis: connection refused")

	req, _ := http.NewRequest("GET", "/tasks/evicted", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "null", string(bytes.TrimSpace(rr.Body.Bytes())))
}

func TestSearchScenes(t *testing.T) {
	body := `{"area":{"north":36.2,"south":35.8,"east":139.9,"west":139.5},"start_date":"2023-01-01","end_date":"2023-03-01"}`

	t.Run("preview", func(t *testing.T) {
		svc, router := setupTestRouter(t)
		svc.preview = &orchestrator.ScenePreview{
			Products: []catalog.Product{{Granule: "S1A_REF"}, {Granule: "S1A_SEC"}},
			Pair:     &task.SearchData{Reference: "S1A_REF", Secondary: "S1A_SEC", BaselineDays: 12},
		}

		req, _ := http.NewRequest("POST", "/catalog/search", bytes.NewBufferString(body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var got orchestrator.ScenePreview
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Len(t, got.Products, 2)
		require.NotNil(t, got.Pair)
		assert.Equal(t, 12, got.Pair.BaselineDays)
	})

	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{name: "bad json", body: "[", want: http.StatusBadRequest},
		{name: "invalid job", err: orchestrator.ErrInvalidJob, body: body, want: http.StatusBadRequest},
		{name: "catalog down", err: errors.New("catalog unreachable"), body: body, want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, router := setupTestRouter(t)
			svc.searchErr = tt.err

			req, _ := http.NewRequest("POST", "/catalog/search", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestGetLogs(t *testing.T) {
	svc, router := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/tasks/t1/logs?offset=3&limit=10", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var page task.LogPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "line 3", page.Entries[0].Message)
	assert.Equal(t, 10, svc.lastLimit)
}

func TestGetLogs_DefaultsAndCap(t *testing.T) {
	svc, router := setupTestRouter(t)

	for target, want := range map[string]int{
		"/tasks/t1/logs":             defaultLogLimit,
		"/tasks/t1/logs?limit=50000": maxLogLimit,
	} {
		req, _ := http.NewRequest("GET", target, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, want, svc.lastLimit, target)
	}
}

func TestGetLogs_PastEndIsEmpty(t *testing.T) {
	_, router := setupTestRouter(t)

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest("GET", "/tasks/t1/logs?offset=99", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"entries":[],"total":5}`, rr.Body.String())
	}
}

func TestGetLogs_UnknownTaskIsEmpty(t *testing.T) {
	_, router := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/tasks/gone/logs", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"entries":[],"total":0}`, rr.Body.String())
}

func TestGetLogs_BadQuery(t *testing.T) {
	_, router := setupTestRouter(t)

	for _, target := range []string{"/tasks/t1/logs?offset=-1", "/tasks/t1/logs?limit=abc"} {
		req, _ := http.NewRequest("GET", target, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestCancelProcessing(t *testing.T) {
	_, router := setupTestRouter(t)

	want := []bool{true, false}
	for _, success := range want {
		req, _ := http.NewRequest("POST", "/tasks/t1/cancel", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp CancelResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, success, resp.Success)
	}
}

func TestListTasksAndStats(t *testing.T) {
	_, router := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/tasks", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var list []task.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "t1", list[0].ID)

	req, _ = http.NewRequest("GET", "/stats", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"processing":1}`, rr.Body.String())
}

func TestHealthCheck(t *testing.T) {
	_, router := setupTestRouter(t)

	req, _ := http.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var response map[string]string
	err := json.Unmarshal(rr.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
}

func TestCORSPreflight(t *testing.T) {
	_, router := setupTestRouter(t)

	req, _ := http.NewRequest("OPTIONS", "/tasks", nil)
	req.Header.Set("Origin", "http://app.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
