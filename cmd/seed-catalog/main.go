// Command seed-catalog loads communities and technologies from a YAML file
// (default configs/catalog.yaml) into the configured store.
//
// Usage:
//
//	seed-catalog [file]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/knowex/knowex-api/internal/catalog"
	"github.com/knowex/knowex-api/internal/config"
	"github.com/knowex/knowex-api/internal/server"
)

func main() {
	path := "configs/catalog.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	if err := run(path); err != nil {
		fmt.Fprintf(os.Stderr, "seed-catalog: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	file, err := catalog.Parse(f)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := server.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sum, err := catalog.Seed(ctx, store, file, logger)
	if err != nil {
		return err
	}

	logger.Info("catalog seeded",
		slog.String("file", path),
		slog.Int("communities", sum.Communities),
		slog.Int("technologies", sum.Technologies),
	)
	return nil
}
