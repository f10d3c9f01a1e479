// Package view keeps one query's live task snapshot. Responses that arrive
// after a newer request was issued are discarded, so the snapshot always
// reflects the most recently issued query.
package view

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/Joseda-hg/tasksync/internal/model"
)

// ErrStaleResponse marks a fetch result that was superseded before it landed.
// It never reaches callers.
var ErrStaleResponse = errors.New("stale response")

type Status int

const (
	Idle Status = iota
	Loading
	Ready
	Error
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// State is a copy of the view's state; callers may keep it.
type State struct {
	Status  Status
	Tasks   []model.Task
	Err     error
	Query   model.Query
	Fetched bool
	Version uint64
}

// Fetcher is the read side of the task repository.
type Fetcher interface {
	FetchTasks(ctx context.Context, query model.Query) ([]model.Task, error)
}

// Subscriber is the part of the invalidation bus a view needs.
type Subscriber interface {
	Subscribe(id string, fn func()) func()
}

type View struct {
	id     string
	repo   Fetcher
	filter func(model.Task) bool
	less   func(a, b model.Task) int
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	unsubscribe func()
	inflight    sync.WaitGroup

	mu        sync.Mutex
	seq       uint64
	hasQuery  bool
	disposed  bool
	state     State
	listeners map[int]func(State)
	nextID    int
}

type Option func(*View)

// WithFilter drops tasks for which keep returns false after every fetch.
func WithFilter(keep func(model.Task) bool) Option {
	return func(v *View) {
		v.filter = keep
	}
}

// WithSort orders the snapshot with cmp after every fetch. The sort is stable.
func WithSort(cmp func(a, b model.Task) int) Option {
	return func(v *View) {
		v.less = cmp
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *View) {
		v.log = logger
	}
}

// WithContext sets the parent context for fetches. Dispose cancels a child of it.
func WithContext(ctx context.Context) Option {
	return func(v *View) {
		v.ctx = ctx
	}
}

// New creates a view and subscribes its Refresh to b. It does not fetch until
// SetQuery is called.
func New(repo Fetcher, b Subscriber, opts ...Option) *View {
	v := &View{
		id:        uuid.NewString(),
		repo:      repo,
		log:       slog.New(slog.DiscardHandler),
		ctx:       context.Background(),
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.ctx, v.cancel = context.WithCancel(v.ctx)
	v.log = v.log.With("view", v.id)
	if b != nil {
		v.unsubscribe = b.Subscribe(v.id, v.Refresh)
	}
	return v
}

func (v *View) ID() string {
	return v.id
}

// SetQuery validates q and starts a fetch for it. An invalid query is
// returned as a *model.ValidationError and leaves the state untouched. A query
// equal to the current one is ignored while the view is Ready.
func (v *View) SetQuery(q model.Query) error {
	if err := q.Validate(); err != nil {
		return err
	}
	q = q.Clone()

	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return nil
	}
	if v.hasQuery && v.state.Status == Ready && v.state.Query.Equal(q) {
		v.mu.Unlock()
		return nil
	}
	v.hasQuery = true
	v.startLocked(q)
	v.mu.Unlock()
	v.notify()
	return nil
}

// Refresh re-issues the current query. It is a no-op before the first
// SetQuery and after Dispose.
func (v *View) Refresh() {
	v.mu.Lock()
	if v.disposed || !v.hasQuery {
		v.mu.Unlock()
		return
	}
	v.startLocked(v.state.Query)
	v.mu.Unlock()
	v.notify()
}

func (v *View) startLocked(q model.Query) {
	v.seq++
	seq := v.seq
	v.state.Query = q
	v.state.Status = Loading
	v.state.Err = nil
	v.state.Version++

	v.inflight.Add(1)
	go v.fetch(seq, q)
}

func (v *View) fetch(seq uint64, q model.Query) {
	defer v.inflight.Done()

	tasks, err := v.repo.FetchTasks(v.ctx, q)
	if err == nil {
		tasks = v.pipeline(tasks)
	}

	v.mu.Lock()
	if v.disposed || seq != v.seq {
		current := v.seq
		v.mu.Unlock()
		v.log.Debug("dropping response", "error", ErrStaleResponse, "seq", seq, "current", current)
		return
	}
	if err != nil {
		v.state.Status = Error
		v.state.Err = err
		if !v.state.Fetched {
			v.state.Tasks = []model.Task{}
		}
		v.log.Warn("fetch failed", "error", err)
	} else {
		v.state.Status = Ready
		v.state.Err = nil
		v.state.Tasks = tasks
		v.state.Fetched = true
		v.log.Debug("fetch applied", "seq", seq, "tasks", len(tasks))
	}
	v.state.Version++
	v.mu.Unlock()
	v.notify()
}

func (v *View) pipeline(tasks []model.Task) []model.Task {
	out := make([]model.Task, 0, len(tasks))
	for _, task := range tasks {
		if v.filter != nil && !v.filter(task) {
			continue
		}
		out = append(out, task)
	}
	if v.less != nil {
		slices.SortStableFunc(out, v.less)
	}
	return out
}

// State returns a copy of the current state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() State {
	out := v.state
	out.Query = v.state.Query.Clone()
	out.Tasks = make([]model.Task, len(v.state.Tasks))
	for i, task := range v.state.Tasks {
		out.Tasks[i] = task.Clone()
	}
	return out
}

// OnChange registers fn to receive every state change. Calls happen outside
// the view's lock and may arrive from different goroutines; consumers should
// ignore a State whose Version is not newer than the last one they saw.
func (v *View) OnChange(fn func(State)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.disposed {
		return func() {}
	}
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.listeners, id)
	}
}

func (v *View) notify() {
	v.mu.Lock()
	if v.disposed || len(v.listeners) == 0 {
		v.mu.Unlock()
		return
	}
	keys := make([]int, 0, len(v.listeners))
	for id := range v.listeners {
		keys = append(keys, id)
	}
	slices.Sort(keys)
	fns := make([]func(State), 0, len(keys))
	for _, id := range keys {
		fns = append(fns, v.listeners[id])
	}
	state := v.snapshotLocked()
	v.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// Dispose unsubscribes from the bus and stops all state writes. In-flight
// fetches are cancelled and their results dropped.
func (v *View) Dispose() {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return
	}
	v.disposed = true
	v.seq++
	v.listeners = map[int]func(State){}
	v.mu.Unlock()

	if v.unsubscribe != nil {
		v.unsubscribe()
	}
	v.cancel()
}

func (v *View) Disposed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.disposed
}

// Wait blocks until every fetch started so far has settled.
func (v *View) Wait() {
	v.inflight.Wait()
}
