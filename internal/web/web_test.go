package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Joseda-hg/tasksync/internal/client"
	"github.com/Joseda-hg/tasksync/internal/db"
	"github.com/Joseda-hg/tasksync/internal/model"
)

var testNow = time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

type testServer struct {
	store  *db.Store
	server *Server
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	store := db.NewStore(conn)
	store.Now = func() time.Time { return testNow }
	return &testServer{store: store, server: NewServer(store, nil)}
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func TestTaskLifecycle(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPost, "/todos", model.TaskFields{Title: "Buy milk", Tags: []string{"Home"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}
	var created model.Task
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode task: %v", err)
	}

	w = ts.do(t, http.MethodPatch, "/todos/"+itoa(created.ID), model.TaskPatch{Completion: &model.Completion{At: &testNow}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}

	w = ts.do(t, http.MethodGet, "/todos?notDone=1", nil)
	var open []model.Task
	if err := json.Unmarshal(w.Body.Bytes(), &open); err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open tasks, got %d", len(open))
	}

	w = ts.do(t, http.MethodDelete, "/todos/"+itoa(created.ID), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = ts.do(t, http.MethodDelete, "/todos/"+itoa(created.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestErrorStatuses(t *testing.T) {
	ts := setupTestServer(t)
	task, err := ts.store.CreateTask(context.Background(), model.TaskFields{Title: "Write"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	tests := []struct {
		name           string
		method, target string
		body           any
		expectedStatus int
	}{
		{"malformed query", http.MethodGet, "/todos?from=soon", nil, http.StatusBadRequest},
		{"reversed range", http.MethodGet, "/todos?from=2025-06-12&to=2025-06-10", nil, http.StatusBadRequest},
		{"bad id", http.MethodPatch, "/todos/abc", map[string]string{"title": "x"}, http.StatusBadRequest},
		{"unknown task", http.MethodPatch, "/todos/999", map[string]string{"title": "x"}, http.StatusNotFound},
		{"completed before created", http.MethodPatch, "/todos/" + itoa(task.ID),
			map[string]string{"completedAt": "2025-06-01T00:00:00Z"}, http.StatusUnprocessableEntity},
		{"blank title", http.MethodPost, "/todos", map[string]string{"title": " "}, http.StatusUnprocessableEntity},
		{"unknown tag", http.MethodDelete, "/tags/5", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.target, tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body)
			}
		})
	}
}

func TestSearchAliasMatchesTodos(t *testing.T) {
	ts := setupTestServer(t)
	for _, title := range []string{"Buy Milk", "milkshake", "Bread"} {
		if _, err := ts.store.CreateTask(context.Background(), model.TaskFields{Title: title}); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}

	for _, path := range []string{"/todos", "/todos/search"} {
		w := ts.do(t, http.MethodGet, path+"?title=milk", nil)
		var tasks []model.Task
		if err := json.Unmarshal(w.Body.Bytes(), &tasks); err != nil {
			t.Fatalf("decode tasks: %v", err)
		}
		if len(tasks) != 2 {
			t.Fatalf("%s: expected 2 case-insensitive matches, got %d", path, len(tasks))
		}
	}
}

func TestClientAgainstServer(t *testing.T) {
	ts := setupTestServer(t)
	server := httptest.NewServer(ts.server.Handler())
	defer server.Close()

	ctx := context.Background()
	c := client.New(server.URL)

	category, err := c.CreateCategory(ctx, "Work")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	due := testNow.Add(24 * time.Hour)
	created, err := c.CreateTask(ctx, model.TaskFields{Title: "Report", DueDate: &due, CategoryID: category.ID, Tags: []string{"q2"}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	tasks, err := c.FetchTasks(ctx, model.Query{CategoryIDs: []int64{category.ID}})
	if err != nil {
		t.Fatalf("fetch tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != created.ID || tasks[0].Category == nil {
		t.Fatalf("unexpected tasks %+v", tasks)
	}

	if _, err := c.RenameCategory(ctx, category.ID, "Office"); err != nil {
		t.Fatalf("rename category: %v", err)
	}
	categories, err := c.ListCategories(ctx)
	if err != nil || len(categories) != 1 || categories[0].Name != "Office" {
		t.Fatalf("unexpected categories %+v %v", categories, err)
	}

	tags, err := c.ListTags(ctx)
	if err != nil || len(tags) != 1 {
		t.Fatalf("unexpected tags %+v %v", tags, err)
	}
	if err := c.DeleteTag(ctx, tags[0].ID); err != nil {
		t.Fatalf("delete tag: %v", err)
	}

	if _, err := c.PatchTask(ctx, 999, model.TaskPatch{Title: model.StringPtr("x")}); !client.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
