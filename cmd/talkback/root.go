package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/nasermirzaei89/talkback"
	"github.com/nasermirzaei89/talkback/logging"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

type rootOptions struct {
	envFile string
	cfg     *talkback.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "talkback",
		Short:         "Moderated comments for static sites",
		Long:          "Collects comments for arbitrary targets, holds them until a moderator follows the emailed accept link, and serves accepted comments as JSON or feeds.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		newServeCmd(opts),
		newGCCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(),
	)

	return root
}

// load seeds the environment from the dotenv file, when present, and then
// builds the configuration and the default logger.
func (opts *rootOptions) load() error {
	if opts.envFile != "" {
		err := godotenv.Load(opts.envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", opts.envFile, err)
		}
	}

	cfg, err := talkback.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	err = logging.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	opts.cfg = cfg

	return nil
}
