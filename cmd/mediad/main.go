package main

import (
	"context"
	"log/slog"
	"os"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		slog.Error("mediad exited with error", "error", err)
		os.Exit(1)
	}
}
