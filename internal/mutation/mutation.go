// Package mutation applies task changes optimistically: the caller's view is
// patched at once, the server call follows, and the patch is reverted if the
// server refuses it.
package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Joseda-hg/tasksync/internal/model"
)

type Repository interface {
	PatchTask(ctx context.Context, id int64, patch model.TaskPatch) (model.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	CreateTask(ctx context.Context, fields model.TaskFields) (model.Task, error)
}

// Local is the optimistic patch surface of a view.
type Local interface {
	Get(id int64) (model.Task, bool)
	Replace(task model.Task) (model.Task, bool)
	Remove(id int64) (model.Task, int, bool)
	Insert(task model.Task, index int)
}

type Broadcaster interface {
	InvalidateAll()
}

type Coordinator struct {
	repo    Repository
	bus     Broadcaster
	now     func() time.Time
	onError func(error)
	log     *slog.Logger

	mu    sync.Mutex
	slots map[int64]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithErrorHandler receives every failed mutation exactly once, after the
// local state has been reverted.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Coordinator) {
		c.onError = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.log = logger
	}
}

func New(repo Repository, b Broadcaster, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:  repo,
		bus:   b,
		now:   time.Now,
		log:   slog.New(slog.DiscardHandler),
		slots: make(map[int64]*slot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ToggleComplete flips the completion of task. The current local copy is read
// after earlier mutations of the same task have finished, so two quick toggles
// end where they started.
func (c *Coordinator) ToggleComplete(ctx context.Context, local Local, task model.Task) (model.Task, error) {
	release, err := c.acquire(ctx, task.ID)
	if err != nil {
		return model.Task{}, c.fail("toggle task", task.ID, err)
	}
	defer release()

	current := task
	if latest, ok := local.Get(task.ID); ok {
		current = latest
	}

	completion := &model.Completion{}
	if !current.Done() {
		completion.At = model.TimePtr(c.now().UTC())
	}
	return c.patch(ctx, "toggle task", local, current, model.TaskPatch{Completion: completion})
}

// Edit applies patch to task locally and on the server.
func (c *Coordinator) Edit(ctx context.Context, local Local, task model.Task, patch model.TaskPatch) (model.Task, error) {
	if patch.Empty() {
		return task, nil
	}
	release, err := c.acquire(ctx, task.ID)
	if err != nil {
		return model.Task{}, c.fail("edit task", task.ID, err)
	}
	defer release()

	current := task
	if latest, ok := local.Get(task.ID); ok {
		current = latest
	}
	return c.patch(ctx, "edit task", local, current, patch)
}

func (c *Coordinator) patch(ctx context.Context, op string, local Local, current model.Task, patch model.TaskPatch) (model.Task, error) {
	optimistic := current.Apply(patch)
	previous, patched := local.Replace(optimistic)
	if !patched {
		previous = current
	}

	updated, err := c.repo.PatchTask(ctx, current.ID, patch)
	if err != nil {
		if patched {
			local.Replace(previous)
		}
		return model.Task{}, c.fail(op, current.ID, err)
	}

	local.Replace(updated)
	c.log.Debug("task updated", "op", op, "id", updated.ID)
	c.bus.InvalidateAll()
	return updated, nil
}

// Delete removes task locally and on the server. On failure the task returns
// to its former position.
func (c *Coordinator) Delete(ctx context.Context, local Local, task model.Task) error {
	release, err := c.acquire(ctx, task.ID)
	if err != nil {
		return c.fail("delete task", task.ID, err)
	}
	defer release()

	removed, index, ok := local.Remove(task.ID)
	if err := c.repo.DeleteTask(ctx, task.ID); err != nil {
		if ok {
			local.Insert(removed, index)
		}
		return c.fail("delete task", task.ID, err)
	}

	c.log.Debug("task deleted", "id", task.ID)
	c.bus.InvalidateAll()
	return nil
}

// Create sends fields to the server. No optimistic row is shown; the task
// appears once the views refetch.
func (c *Coordinator) Create(ctx context.Context, fields model.TaskFields) (model.Task, error) {
	created, err := c.repo.CreateTask(ctx, fields)
	if err != nil {
		return model.Task{}, c.fail("create task", 0, err)
	}
	c.log.Debug("task created", "id", created.ID)
	c.bus.InvalidateAll()
	return created, nil
}

func (c *Coordinator) fail(op string, id int64, err error) error {
	wrapped := fmt.Errorf("%s %d: %w", op, id, err)
	if id == 0 {
		wrapped = fmt.Errorf("%s: %w", op, err)
	}
	c.log.Warn("mutation failed", "op", op, "id", id, "error", err)
	if c.onError != nil {
		c.onError(wrapped)
	}
	return wrapped
}

// acquire waits for the queue slot of id. Mutations of different tasks never
// block each other.
func (c *Coordinator) acquire(ctx context.Context, id int64) (func(), error) {
	c.mu.Lock()
	s, ok := c.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		c.slots[id] = s
	}
	s.refs++
	c.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		c.drop(id, s)
		return nil, ctx.Err()
	}

	return func() {
		<-s.ch
		c.drop(id, s)
	}, nil
}

func (c *Coordinator) drop(id int64, s *slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(c.slots, id)
	}
}
