package main

import (
	"fmt"
	"log/slog"

	"github.com/nasermirzaei89/talkback"
	"github.com/nasermirzaei89/talkback/db/sqlite3"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := talkback.NewApp(cmd.Context(), opts.cfg)
			if err != nil {
				return fmt.Errorf("failed to create app: %w", err)
			}

			return app.Run(cmd.Context())
		},
	}
}

func newGCCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove pending comments whose accept link expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()

			db, err := talkback.OpenDB(ctx, opts.cfg.DatabaseDSN)
			if err != nil {
				return err
			}

			defer func() {
				closeErr := db.Close()
				if closeErr != nil {
					slog.ErrorContext(ctx, "failed to close database", "error", closeErr)
				}
			}()

			svc := talkback.NewDiscussService(opts.cfg, db, cmd.OutOrStdout())

			removed, err := svc.CollectGarbage(ctx)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired pending comments\n", removed)

			return err
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				db, err := talkback.OpenDB(cmd.Context(), opts.cfg.DatabaseDSN)
				if err != nil {
					return err
				}

				return db.Close()
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration, dropping all comments",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()

				db, err := sqlite3.NewDB(ctx, opts.cfg.DatabaseDSN)
				if err != nil {
					return fmt.Errorf("failed to create database connection: %w", err)
				}

				defer func() {
					closeErr := db.Close()
					if closeErr != nil {
						slog.ErrorContext(ctx, "failed to close database", "error", closeErr)
					}
				}()

				return sqlite3.MigrateDown(ctx, db)
			},
		},
	)

	return migrateCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), Version)

			return err
		},
	}
}
