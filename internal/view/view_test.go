package view

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Joseda-hg/tasksync/internal/bus"
	"github.com/Joseda-hg/tasksync/internal/model"
)

type MockFetcher struct {
	FetchTasksFunc func(ctx context.Context, query model.Query) ([]model.Task, error)

	mu    sync.Mutex
	calls []model.Query
}

func (m *MockFetcher) FetchTasks(ctx context.Context, query model.Query) ([]model.Task, error) {
	m.mu.Lock()
	m.calls = append(m.calls, query)
	m.mu.Unlock()
	return m.FetchTasksFunc(ctx, query)
}

func (m *MockFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func staticFetcher(tasks ...model.Task) *MockFetcher {
	return &MockFetcher{FetchTasksFunc: func(ctx context.Context, query model.Query) ([]model.Task, error) {
		return tasks, nil
	}}
}

// gatedFetcher blocks each call on the gate registered for its title.
type gatedFetcher struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newGatedFetcher(titles ...string) *gatedFetcher {
	g := &gatedFetcher{gates: map[string]chan struct{}{}}
	for _, title := range titles {
		g.gates[title] = make(chan struct{})
	}
	return g
}

func (g *gatedFetcher) FetchTasks(ctx context.Context, query model.Query) ([]model.Task, error) {
	g.mu.Lock()
	gate := g.gates[query.Title]
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []model.Task{{ID: 1, Title: "result for " + query.Title}}, nil
}

func (g *gatedFetcher) release(title string) {
	close(g.gates[title])
}

func TestFreshestQueryWins(t *testing.T) {
	fetcher := newGatedFetcher("A", "B")
	v := New(fetcher, nil)
	defer v.Dispose()

	if err := v.SetQuery(model.Query{Title: "A"}); err != nil {
		t.Fatalf("set query A: %v", err)
	}
	if err := v.SetQuery(model.Query{Title: "B"}); err != nil {
		t.Fatalf("set query B: %v", err)
	}

	fetcher.release("B")
	waitFor(t, func() bool { return v.State().Status == Ready })
	fetcher.release("A")
	v.Wait()

	state := v.State()
	if state.Status != Ready {
		t.Fatalf("expected ready, got %s", state.Status)
	}
	if len(state.Tasks) != 1 || state.Tasks[0].Title != "result for B" {
		t.Fatalf("expected B's result to win, got %+v", state.Tasks)
	}
	if state.Query.Title != "B" {
		t.Fatalf("expected query B, got %q", state.Query.Title)
	}
}

func TestOlderResponseArrivingFirstIsDropped(t *testing.T) {
	fetcher := newGatedFetcher("A", "B")
	v := New(fetcher, nil)
	defer v.Dispose()

	_ = v.SetQuery(model.Query{Title: "A"})
	_ = v.SetQuery(model.Query{Title: "B"})

	fetcher.release("A")
	time.Sleep(20 * time.Millisecond)
	if state := v.State(); state.Status != Loading || len(state.Tasks) != 0 {
		t.Fatalf("stale response was applied: %+v", state)
	}

	fetcher.release("B")
	v.Wait()
	if got := v.State().Tasks[0].Title; got != "result for B" {
		t.Fatalf("unexpected title %q", got)
	}
}

func TestEqualQueryWhileReadyIsSuppressed(t *testing.T) {
	fetcher := staticFetcher(model.Task{ID: 1, Title: "Milk"})
	v := New(fetcher, nil)
	defer v.Dispose()

	query := model.Query{CategoryIDs: []int64{2, 1}}
	if err := v.SetQuery(query); err != nil {
		t.Fatalf("set query: %v", err)
	}
	v.Wait()
	if err := v.SetQuery(model.Query{CategoryIDs: []int64{1, 2}}); err != nil {
		t.Fatalf("set equal query: %v", err)
	}
	v.Wait()

	if fetcher.Calls() != 1 {
		t.Fatalf("expected 1 fetch, got %d", fetcher.Calls())
	}
}

func TestRefreshIsNotSuppressed(t *testing.T) {
	fetcher := staticFetcher()
	v := New(fetcher, nil)
	defer v.Dispose()

	v.Refresh()
	v.Wait()
	if fetcher.Calls() != 0 {
		t.Fatalf("refresh without a query should not fetch")
	}

	_ = v.SetQuery(model.Query{})
	v.Wait()
	v.Refresh()
	v.Wait()
	if fetcher.Calls() != 2 {
		t.Fatalf("expected 2 fetches, got %d", fetcher.Calls())
	}
}

func TestInvalidQueryLeavesStateUntouched(t *testing.T) {
	fetcher := staticFetcher(model.Task{ID: 1, Title: "Milk"})
	v := New(fetcher, nil)
	defer v.Dispose()

	_ = v.SetQuery(model.Query{})
	v.Wait()
	before := v.State()

	err := v.SetQuery(model.Query{Title: strings.Repeat("x", model.MaxTitleLength+1)})
	var validation *model.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	after := v.State()
	if after.Version != before.Version || after.Status != Ready || fetcher.Calls() != 1 {
		t.Fatalf("state changed after invalid query: %+v", after)
	}
}

func TestFailureKeepsPreviousSnapshot(t *testing.T) {
	fail := false
	fetcher := &MockFetcher{FetchTasksFunc: func(ctx context.Context, query model.Query) ([]model.Task, error) {
		if fail {
			return nil, errors.New("offline")
		}
		return []model.Task{{ID: 1, Title: "Milk"}}, nil
	}}
	v := New(fetcher, nil)
	defer v.Dispose()

	_ = v.SetQuery(model.Query{})
	v.Wait()
	fail = true
	v.Refresh()
	v.Wait()

	state := v.State()
	if state.Status != Error || state.Err == nil {
		t.Fatalf("expected error state, got %+v", state)
	}
	if len(state.Tasks) != 1 || !state.Fetched {
		t.Fatalf("expected previous snapshot to be kept, got %+v", state.Tasks)
	}
}

func TestFailureBeforeFirstFetchGivesEmptySnapshot(t *testing.T) {
	fetcher := &MockFetcher{FetchTasksFunc: func(ctx context.Context, query model.Query) ([]model.Task, error) {
		return nil, errors.New("offline")
	}}
	v := New(fetcher, nil)
	defer v.Dispose()

	_ = v.SetQuery(model.Query{})
	v.Wait()

	state := v.State()
	if state.Status != Error || state.Fetched || state.Tasks == nil || len(state.Tasks) != 0 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestDisposeDropsInFlightResponse(t *testing.T) {
	fetcher := newGatedFetcher("A")
	b := bus.New()
	v := New(fetcher, b)

	notified := 0
	_ = v.SetQuery(model.Query{Title: "A"})
	v.OnChange(func(State) { notified++ })

	v.Dispose()
	fetcher.release("A")
	v.Wait()

	if notified != 0 {
		t.Fatalf("listener called after dispose")
	}
	if state := v.State(); state.Status != Loading || len(state.Tasks) != 0 {
		t.Fatalf("state written after dispose: %+v", state)
	}
	if b.Len() != 0 {
		t.Fatalf("expected view to unsubscribe from the bus")
	}
	b.InvalidateAll()
	v.Wait()
}

func TestBusInvalidationRefetches(t *testing.T) {
	fetcher := staticFetcher()
	b := bus.New()
	v := New(fetcher, b)
	defer v.Dispose()

	_ = v.SetQuery(model.Query{})
	v.Wait()
	b.InvalidateAll()
	v.Wait()

	if fetcher.Calls() != 2 {
		t.Fatalf("expected refetch on invalidation, got %d calls", fetcher.Calls())
	}
}

func TestPipelineFiltersAndSorts(t *testing.T) {
	done := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	fetcher := staticFetcher(
		model.Task{ID: 1, Title: "b"},
		model.Task{ID: 2, Title: "done", CompletedAt: &done},
		model.Task{ID: 3, Title: "a"},
	)
	v := New(fetcher, nil,
		WithFilter(func(task model.Task) bool { return !task.Done() }),
		WithSort(func(a, b model.Task) int { return strings.Compare(a.Title, b.Title) }),
	)
	defer v.Dispose()

	_ = v.SetQuery(model.Query{})
	v.Wait()

	tasks := v.State().Tasks
	if len(tasks) != 2 || tasks[0].ID != 3 || tasks[1].ID != 1 {
		t.Fatalf("unexpected pipeline output %+v", tasks)
	}
}

func TestLocalPatchSurface(t *testing.T) {
	v := New(staticFetcher(model.Task{ID: 1, Title: "a"}, model.Task{ID: 2, Title: "b"}), nil)
	defer v.Dispose()
	_ = v.SetQuery(model.Query{})
	v.Wait()

	prev, ok := v.Replace(model.Task{ID: 2, Title: "B"})
	if !ok || prev.Title != "b" {
		t.Fatalf("unexpected replace result %+v %v", prev, ok)
	}
	removed, index, ok := v.Remove(1)
	if !ok || index != 0 || removed.Title != "a" {
		t.Fatalf("unexpected remove result %+v %d %v", removed, index, ok)
	}
	v.Insert(removed, 5)
	tasks := v.State().Tasks
	if len(tasks) != 2 || tasks[0].Title != "B" || tasks[1].Title != "a" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestLocalPatchesKeepSortOrder(t *testing.T) {
	byTitle := func(a, b model.Task) int { return strings.Compare(a.Title, b.Title) }
	v := New(staticFetcher(
		model.Task{ID: 1, Title: "a"},
		model.Task{ID: 2, Title: "b"},
		model.Task{ID: 3, Title: "c"},
	), nil, WithSort(byTitle))
	defer v.Dispose()
	_ = v.SetQuery(model.Query{})
	v.Wait()

	titles := func() string {
		var out []string
		for _, task := range v.State().Tasks {
			out = append(out, task.Title)
		}
		return strings.Join(out, ",")
	}

	v.Replace(model.Task{ID: 1, Title: "d"})
	if got := titles(); got != "b,c,d" {
		t.Fatalf("unexpected order after replace: %s", got)
	}
	v.Insert(model.Task{ID: 4, Title: "a"}, 3)
	if got := titles(); got != "a,b,c,d" {
		t.Fatalf("unexpected order after insert: %s", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
