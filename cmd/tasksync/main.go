package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Joseda-hg/tasksync/internal/app"
	"github.com/Joseda-hg/tasksync/internal/config"
	"github.com/Joseda-hg/tasksync/internal/tui"
)

func main() {
	configPathFlag := pflag.String("config", "", "config file path")
	serverFlag := pflag.String("server", "", "API base URL")
	dbPathFlag := pflag.String("db", "", "sqlite db path for the API server")
	portFlag := pflag.Int("port", 0, "API server port")
	serveFlag := pflag.Bool("serve", false, "run the API server only")
	webFlag := pflag.Bool("web", false, "also run the API server next to the UI")
	dumpFlag := pflag.Bool("dump", false, "print the due buckets and exit")
	logLevelFlag := pflag.String("log-level", "", "log level (debug, info, warn, error)")
	pflag.Parse()

	cfgPath, err := resolveConfigPath(*configPathFlag)
	if err != nil {
		fatal(err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatal(err)
	}

	if *serverFlag != "" {
		cfg.ServerURL = *serverFlag
	}
	if *dbPathFlag != "" {
		cfg.DBPath = *dbPathFlag
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(cfgPath), "tasksync.db")
	}
	if *portFlag != 0 {
		cfg.WebPort = *portFlag
	}
	if *logLevelFlag != "" {
		cfg.LogLevel = *logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		fatal(err)
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *serveFlag:
		err = serve(ctx, cfg, newLogger(os.Stderr, level))
	case *dumpFlag:
		err = dump(ctx, cfg, newLogger(os.Stderr, level))
	default:
		err = runUI(ctx, cfg, cfgPath, level, *webFlag)
	}
	if err != nil {
		fatal(err)
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	server, err := openServer(cfg, logger)
	if err != nil {
		return err
	}
	defer server.Close()
	return server.Serve(ctx, fmt.Sprintf(":%d", cfg.WebPort))
}

func dump(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	session, err := app.NewSession(ctx, cfg, app.SessionOptions{Logger: logger})
	if err != nil {
		return err
	}
	defer session.Close()

	session.Wait()
	if state := session.Buckets.State(); state.Err != nil {
		return state.Err
	}
	return app.Dump(os.Stdout, session.Dashboard.Partition(), session.Dashboard.Today())
}

func runUI(ctx context.Context, cfg config.Config, cfgPath string, level slog.Level, withServer bool) error {
	logPath := cfg.LogFile
	if logPath == "" {
		logPath = filepath.Join(filepath.Dir(cfgPath), "tasksync.log")
	}
	if err := config.EnsureDir(logPath); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := newLogger(logFile, level)

	if withServer {
		server, err := openServer(cfg, logger)
		if err != nil {
			return err
		}
		defer server.Close()

		serverCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := server.Serve(serverCtx, fmt.Sprintf(":%d", cfg.WebPort)); err != nil {
				logger.Error("web server error", "error", err)
			}
		}()
	}

	session, err := app.NewSession(ctx, cfg, app.SessionOptions{Logger: logger})
	if err != nil {
		return err
	}
	defer session.Close()
	return tui.Run(ctx, session, logger)
}

func openServer(cfg config.Config, logger *slog.Logger) (*app.Server, error) {
	if err := config.EnsureDir(cfg.DBPath); err != nil {
		return nil, err
	}
	return app.OpenServer(cfg.DBPath, logger)
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	return config.DefaultConfigPath()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
