package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Joseda-hg/tasksync/internal/model"
)

func TestFetchTasksSendsQueryString(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/todos" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":1,"title":"Milk","dueDate":"2025-06-10T09:00:00Z","completedAt":null,"categoryId":2}]`)
	}))
	defer server.Close()

	to := time.Date(2025, 6, 16, 23, 59, 59, 0, time.UTC)
	c := New(server.URL + "/")
	tasks, err := c.FetchTasks(context.Background(), model.Query{To: &to, CategoryIDs: []int64{2}})
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if gotQuery != "category=2&notDone=1&to=2025-06-16T23%3A59%3A59Z" {
		t.Fatalf("unexpected query string %q", gotQuery)
	}
	if len(tasks) != 1 || tasks[0].Title != "Milk" || tasks[0].DueDate == nil {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	if tasks[0].Tags == nil {
		t.Fatalf("expected tags to be normalized to an empty slice")
	}
}

func TestFetchTasksRejectsInvalidQueryWithoutRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	from := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
	to := from.Add(-24 * time.Hour)
	_, err := New(server.URL).FetchTasks(context.Background(), model.Query{From: &from, To: &to})

	var validation *model.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no request, got %d", calls.Load())
	}
}

func TestHTTPErrorCarriesStatusAndMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"task not found"}`)
	}))
	defer server.Close()

	_, err := New(server.URL).PatchTask(context.Background(), 42, model.TaskPatch{Title: model.StringPtr("x")})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected http error, got %v", err)
	}
	if httpErr.Status != http.StatusNotFound || httpErr.Body != "task not found" {
		t.Fatalf("unexpected error %+v", httpErr)
	}
	if !IsNotFound(err) {
		t.Fatalf("expected IsNotFound to match")
	}
}

func TestNetworkErrorWhenServerIsGone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := New(url, WithTimeout(time.Second)).DeleteTask(context.Background(), 1)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestPatchTaskSendsExplicitNull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/todos/7" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		value, ok := body["completedAt"]
		if !ok || value != nil {
			t.Errorf("expected explicit null completedAt, got %v", body)
		}
		_, _ = io.WriteString(w, `{"id":7,"title":"Reopened","completedAt":null,"tags":[]}`)
	}))
	defer server.Close()

	task, err := New(server.URL).PatchTask(context.Background(), 7, model.TaskPatch{Completion: &model.Completion{}})
	if err != nil {
		t.Fatalf("patch task: %v", err)
	}
	if task.Done() {
		t.Fatalf("expected reopened task")
	}
}

func TestDeleteTaskAcceptsNoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := New(server.URL).DeleteTask(context.Background(), 3); err != nil {
		t.Fatalf("delete task: %v", err)
	}
}

func TestCreateTaskPostsFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var fields model.TaskFields
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if fields.Title != "Buy milk" || len(fields.Tags) != 1 || fields.Tags[0] != "Home" {
			t.Errorf("unexpected fields %+v", fields)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":11,"title":"Buy milk","tags":[{"id":1,"name":"Home"}]}`)
	}))
	defer server.Close()

	task, err := New(server.URL).CreateTask(context.Background(), model.TaskFields{Title: "Buy milk", Tags: []string{"Home"}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.ID != 11 || len(task.Tags) != 1 {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestRenameCategoryRejectsBlankName(t *testing.T) {
	_, err := New("http://127.0.0.1:1").RenameCategory(context.Background(), 1, "  ")
	var validation *model.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
