package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Joseda-hg/tasksync/internal/model"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
)

// Client talks to the todo REST API. It keeps no state between calls and
// never retries; retry policy belongs to callers.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.log = logger
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) FetchTasks(ctx context.Context, query model.Query) ([]model.Task, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/todos"
	if encoded := query.Values().Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var tasks []model.Task
	if err := c.do(ctx, "fetch tasks", http.MethodGet, endpoint, nil, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	for i := range tasks {
		normalizeTask(&tasks[i])
	}
	return tasks, nil
}

func (c *Client) PatchTask(ctx context.Context, id int64, patch model.TaskPatch) (model.Task, error) {
	var task model.Task
	if err := c.do(ctx, "patch task", http.MethodPatch, c.taskURL(id), patch, &task); err != nil {
		return model.Task{}, err
	}
	normalizeTask(&task)
	return task, nil
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, "delete task", http.MethodDelete, c.taskURL(id), nil, nil)
}

func (c *Client) CreateTask(ctx context.Context, fields model.TaskFields) (model.Task, error) {
	if err := fields.Validate(); err != nil {
		return model.Task{}, err
	}
	var task model.Task
	if err := c.do(ctx, "create task", http.MethodPost, c.baseURL+"/todos", fields, &task); err != nil {
		return model.Task{}, err
	}
	normalizeTask(&task)
	return task, nil
}

func (c *Client) taskURL(id int64) string {
	return c.baseURL + "/todos/" + strconv.FormatInt(id, 10)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed", "op", op, "method", method, "url", redact(endpoint), "error", err)
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug("request done", "op", op, "method", method, "url", redact(endpoint),
		"status", resp.StatusCode, "elapsed", time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{Op: op, Status: resp.StatusCode, Body: errorMessage(respBody)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorMessage prefers the server's {"error": "..."} or {"message": "..."}
// field over the raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(body))
}

func normalizeTask(task *model.Task) {
	if task.Tags == nil {
		task.Tags = []model.Tag{}
	}
	for i := range task.Tags {
		task.Tags[i].Name = strings.TrimSpace(task.Tags[i].Name)
	}
}

func redact(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	if parsed.Query().Has("title") {
		values := parsed.Query()
		values.Set("title", "…")
		parsed.RawQuery = values.Encode()
	}
	return parsed.String()
}
