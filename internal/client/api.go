package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/podushkina/sarflow/internal/catalog"
	"github.com/podushkina/sarflow/internal/task"
)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// API is a typed client for the sarflow HTTP control surface.
type API struct {
	baseURL string
	http    *http.Client
}

func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (a *API) Start(ctx context.Context, spec task.JobSpec) (string, error) {
	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := a.do(ctx, http.MethodPost, "/tasks", spec, &resp); err != nil {
		return "", fmt.Errorf("start processing: %w", err)
	}
	return resp.TaskID, nil
}

// Status returns nil, nil when the server no longer knows the task.
func (a *API) Status(ctx context.Context, id string) (*task.Task, error) {
	var t *task.Task
	if err := a.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	return t, nil
}

func (a *API) Logs(ctx context.Context, id string, offset, limit int) (task.LogPage, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var page task.LogPage
	if err := a.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id)+"/logs?"+q.Encode(), nil, &page); err != nil {
		return task.LogPage{}, fmt.Errorf("get logs: %w", err)
	}
	return page, nil
}

func (a *API) Cancel(ctx context.Context, id string) (bool, error) {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := a.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/cancel", nil, &resp); err != nil {
		return false, fmt.Errorf("cancel processing: %w", err)
	}
	return resp.Success, nil
}

func (a *API) List(ctx context.Context) ([]task.Summary, error) {
	var list []task.Summary
	if err := a.do(ctx, http.MethodGet, "/tasks", nil, &list); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return list, nil
}

func (a *API) Stats(ctx context.Context) (map[task.Status]int, error) {
	var stats map[task.Status]int
	if err := a.do(ctx, http.MethodGet, "/stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return stats, nil
}

// ScenePreview is the server's answer to a catalog search.
type ScenePreview struct {
	Products     []catalog.Product `json:"products"`
	UsedFallback bool              `json:"used_fallback"`
	Pair         *task.SearchData  `json:"pair,omitempty"`
	PairError    string            `json:"pair_error,omitempty"`
}

func (a *API) Search(ctx context.Context, spec task.JobSpec) (*ScenePreview, error) {
	var preview ScenePreview
	if err := a.do(ctx, http.MethodPost, "/catalog/search", spec, &preview); err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}
	return &preview, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
