package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofrs/flock"

	"github.com/Joseda-hg/tasksync/internal/db"
	"github.com/Joseda-hg/tasksync/internal/web"
)

// Server owns the reference API server: the sqlite store, the HTTP handler
// and the lock that keeps a second server off the same database file.
type Server struct {
	Store *db.Store
	Web   *web.Server

	conn     *sql.DB
	lockFile *flock.Flock
	log      *slog.Logger
}

func OpenServer(dbPath string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{log: logger}

	if dbPath != ":memory:" {
		if err := s.acquireLock(dbPath + ".lock"); err != nil {
			return nil, err
		}
	}

	conn, err := db.Open(dbPath)
	if err != nil {
		s.releaseLock()
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.conn = conn
	s.Store = db.NewStore(conn)
	s.Web = web.NewServer(s.Store, logger)
	return s, nil
}

func (s *Server) acquireLock(lockPath string) error {
	s.lockFile = flock.New(lockPath)

	locked, err := s.lockFile.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another server is already using %s", lockPath)
	}
	return nil
}

func (s *Server) releaseLock() {
	if s.lockFile != nil {
		_ = s.lockFile.Unlock()
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Web.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("web server listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown web server: %w", err)
		}
		s.log.Info("web server stopped")
		return nil
	}
}

func (s *Server) Close() error {
	var errs []error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	s.releaseLock()
	return errors.Join(errs...)
}
