// Package main is the entry point for the talkback service and its
// maintenance commands.
package main

import (
	"context"
	"log/slog"
	"os"
)

func main() {
	ctx := context.Background()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "command failed", "error", err)
		os.Exit(1)
	}
}
