// Package main bulk-deletes objects from the storage bucket, for wiping a
// deployment's uploaded content (profile photos, submission attachments).
//
// Usage:
//
//	purge -bucket pathfit-uploads [-prefix users/] [-dry-run] -yes
//
// Deletion is irreversible, so the tool refuses to run without -yes unless
// -dry-run is set.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/sethvargo/go-envconfig"

	"github.com/sakif/pathfit-backend/internal/objstore"
)

type storageConfig struct {
	Endpoint  string `env:"S3_ENDPOINT,default=localhost:9000"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	UseSSL    bool   `env:"S3_USE_SSL,default=false"`
}

func main() {
	bucket := flag.String("bucket", "", "bucket to purge (required)")
	prefix := flag.String("prefix", "", "only delete objects under this prefix")
	dryRun := flag.Bool("dry-run", false, "list what would be deleted without deleting")
	yes := flag.Bool("yes", false, "confirm the purge")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *bucket == "" {
		fmt.Fprintln(os.Stderr, "purge: -bucket is required")
		os.Exit(1)
	}
	if !*dryRun && !*yes {
		fmt.Fprintln(os.Stderr, "purge: refusing to delete without -yes (or use -dry-run)")
		os.Exit(1)
	}

	ctx := context.Background()
	var cfg storageConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := objstore.NewS3(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, *bucket, cfg.UseSSL)
	if err != nil {
		logger.Error("connecting to object storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	result, err := objstore.Purge(ctx, store, *prefix, *dryRun, logger)
	if err != nil {
		logger.Error("purge failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	verb := "deleted"
	if *dryRun {
		verb = "would delete"
	}
	fmt.Printf("%s %d objects (%d failures)\n", verb, result.Deleted, result.Failed)
	if result.Failed > 0 {
		os.Exit(2)
	}
}
