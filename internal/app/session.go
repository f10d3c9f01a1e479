package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Joseda-hg/tasksync/internal/bucket"
	"github.com/Joseda-hg/tasksync/internal/bus"
	"github.com/Joseda-hg/tasksync/internal/client"
	"github.com/Joseda-hg/tasksync/internal/config"
	"github.com/Joseda-hg/tasksync/internal/dashboard"
	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/mutation"
	"github.com/Joseda-hg/tasksync/internal/view"
)

// Session is one client's set of live views over the API, sharing a bus and
// a mutation coordinator.
type Session struct {
	Client      *client.Client
	Bus         *bus.Bus
	Coordinator *mutation.Coordinator
	Buckets     *view.View
	Search      *view.View
	// Tasks is the filtered task list, driven by category, tag, date and
	// completion filters.
	Tasks       *view.View
	Dashboard   *dashboard.Board

	log *slog.Logger

	mu      sync.Mutex
	onError func(error)
}

type SessionOptions struct {
	Logger *slog.Logger
	Now    func() time.Time
	// Client overrides the client built from the config.
	Client *client.Client
}

func NewSession(ctx context.Context, cfg config.Config, opts SessionOptions) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{log: logger}
	s.Client = opts.Client
	if s.Client == nil {
		s.Client = client.New(cfg.ServerURL,
			client.WithTimeout(cfg.RequestTimeout()),
			client.WithLogger(logger.With("component", "client")))
	}
	s.Bus = bus.New(bus.WithLogger(logger.With("component", "bus")))
	s.Coordinator = mutation.New(s.Client, s.Bus,
		mutation.WithClock(now),
		mutation.WithErrorHandler(s.reportError),
		mutation.WithLogger(logger.With("component", "mutation")))

	s.Buckets = view.New(s.Client, s.Bus,
		view.WithContext(ctx),
		view.WithSort(bucket.Compare),
		view.WithLogger(logger.With("component", "view", "name", "buckets")))
	s.Search = view.New(s.Client, s.Bus,
		view.WithContext(ctx),
		view.WithSort(bucket.Compare),
		view.WithLogger(logger.With("component", "view", "name", "search")))
	s.Tasks = view.New(s.Client, s.Bus,
		view.WithContext(ctx),
		view.WithSort(bucket.Compare),
		view.WithLogger(logger.With("component", "view", "name", "tasks")))
	if err := s.Tasks.SetQuery(model.Query{}); err != nil {
		s.Close()
		return nil, err
	}

	board, err := dashboard.New(s.Buckets, cfg.BucketDefs(),
		dashboard.WithClock(now),
		dashboard.WithCompleted(cfg.ShowCompleted),
		dashboard.WithLogger(logger.With("component", "dashboard")))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Dashboard = board
	return s, nil
}

// SetErrorHandler routes failed mutations and catalog edits to fn.
func (s *Session) SetErrorHandler(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

func (s *Session) reportError(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// RenameCategory renames on the server and refreshes every view, since the
// name is embedded in each task.
func (s *Session) RenameCategory(ctx context.Context, id int64, name string) (model.Category, error) {
	category, err := s.Client.RenameCategory(ctx, id, name)
	if err != nil {
		s.reportError(err)
		return model.Category{}, err
	}
	s.Bus.InvalidateAll()
	return category, nil
}

// CreateCategory adds a category and refreshes every view so catalog
// listeners pick it up.
func (s *Session) CreateCategory(ctx context.Context, name string) (model.Category, error) {
	category, err := s.Client.CreateCategory(ctx, name)
	if err != nil {
		s.reportError(err)
		return model.Category{}, err
	}
	s.Bus.InvalidateAll()
	return category, nil
}

// DeleteCategory deletes on the server and refreshes every view. Tasks of
// the category are kept without one.
func (s *Session) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.Client.DeleteCategory(ctx, id); err != nil {
		s.reportError(err)
		return err
	}
	s.Bus.InvalidateAll()
	return nil
}

// DeleteTag deletes on the server and refreshes every view.
func (s *Session) DeleteTag(ctx context.Context, id int64) error {
	if err := s.Client.DeleteTag(ctx, id); err != nil {
		s.reportError(err)
		return err
	}
	s.Bus.InvalidateAll()
	return nil
}

// Wait blocks until every view's in-flight fetch has settled.
func (s *Session) Wait() {
	s.Buckets.Wait()
	s.Search.Wait()
	s.Tasks.Wait()
}

func (s *Session) Close() {
	if s.Dashboard != nil {
		s.Dashboard.Close()
	}
	for _, v := range []*view.View{s.Buckets, s.Search, s.Tasks} {
		if v != nil && !v.Disposed() {
			v.Dispose()
		}
	}
}
