package talkback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nasermirzaei89/talkback/cron"
	"github.com/nasermirzaei89/talkback/db/sqlite3"
	"github.com/nasermirzaei89/talkback/discuss"
	"github.com/nasermirzaei89/talkback/mail"
	"github.com/nasermirzaei89/talkback/server"
	"github.com/nasermirzaei89/talkback/token"
	"github.com/nasermirzaei89/talkback/web"
)

type App struct {
	cfg        *Config
	server     *server.Server
	handler    *web.Handler
	discussSvc *discuss.Service
	scheduler  *cron.Daily
	db         *sql.DB
}

// OpenDB opens and migrates the comment database.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sqlite3.NewDB(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	err = sqlite3.MigrateUp(ctx, db)
	if err != nil {
		closeErr := db.Close()

		return nil, errors.Join(fmt.Errorf("failed to run database migrations: %w", err), closeErr)
	}

	return db, nil
}

// NewDiscussService wires the comment engine on top of db. Notifications go
// out over SMTP when it is configured and to out otherwise.
func NewDiscussService(cfg *Config, db *sql.DB, out io.Writer) *discuss.Service {
	var notifier discuss.Notifier

	if cfg.SMTP.IsConfigured() {
		notifier = mail.NewSMTPNotifier(cfg.SMTP, cfg.BaseURL)
	} else {
		notifier = mail.NewLogNotifier(out, cfg.BaseURL)
	}

	return discuss.NewService(
		sqlite3.NewCommentRepository(db),
		token.New(),
		notifier,
		discuss.Config{
			RetentionWindow:   cfg.RetentionWindow,
			NotifyTimeout:     cfg.NotifyTimeout,
			NotifyDestination: cfg.NotifyDestination,
		},
	)
}

func NewApp(ctx context.Context, cfg *Config) (*App, error) {
	db, err := OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	if !cfg.SMTP.IsConfigured() {
		slog.WarnContext(ctx, "smtp is not configured, accept links are printed to stdout")
	} else if cfg.NotifyDestination == "" {
		slog.WarnContext(ctx, "NOTIFY_EMAIL is empty, accept links cannot be delivered")
	}

	discussSvc := NewDiscussService(cfg, db, os.Stdout)

	app := &App{
		cfg:        cfg,
		server:     &cfg.Server,
		discussSvc: discussSvc,
		handler: web.NewHandler(discussSvc, web.Options{
			BaseURL:      cfg.BaseURL,
			CronSecret:   cfg.CronSecret,
			MaxBodyBytes: cfg.MaxBodyBytes,
		}),
		db: db,
	}

	if cfg.GCScheduleEnabled {
		app.scheduler = &cron.Daily{
			Hour:     cfg.GCHour,
			Minute:   cfg.GCMinute,
			Location: cfg.GCLocation,
			Job: func(ctx context.Context) {
				// Failures are logged by the service and retried on the next run.
				_, _ = discussSvc.CollectGarbage(ctx)
			},
		}
	}

	return app, nil
}

func (app *App) Run(ctx context.Context) error {
	// Handle SIGINT (CTRL+C) and SIGTERM gracefully.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		if app.db != nil {
			err := app.db.Close()
			if err != nil {
				slog.ErrorContext(ctx, "failed to close database", "error", err)
			}
		}
	}()

	var wg sync.WaitGroup

	if app.scheduler != nil {
		wg.Add(1)

		go func() {
			defer wg.Done()

			slog.InfoContext(ctx, "garbage collection scheduled",
				"time", fmt.Sprintf("%02d:%02d", app.scheduler.Hour, app.scheduler.Minute),
				"timezone", app.cfg.GCLocation.String(),
			)

			app.scheduler.Run(ctx)
		}()
	}

	err := app.server.Run(ctx, app.handler)

	stop()
	wg.Wait()
	app.discussSvc.Wait()

	if err != nil {
		return fmt.Errorf("failed to run server: %w", err)
	}

	return nil
}
