// Package main runs the account-key migration: legacy student-id keyed
// documents are moved under their identity UIDs and every dependent record
// is repointed.
//
// Usage:
//
//	migrate [-dry-run] [-v]
//
// The run is idempotent; rerunning after a partial failure picks up where
// the last run stopped. Use -dry-run first: it prints the same report
// without writing anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/sakif/pathfit-backend/internal/config"
	"github.com/sakif/pathfit-backend/internal/docstore"
	"github.com/sakif/pathfit-backend/internal/identity"
	"github.com/sakif/pathfit-backend/internal/migrate"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report what would change without writing")
	verbose := flag.Bool("v", false, "print one line per account document")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(context.Background())
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	docs, err := docstore.Open(cfg.DocStoreDSN)
	if err != nil {
		logger.Error("opening document store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer docs.Close()

	tokens, err := identity.NewTokenService(cfg.TokenSecret)
	if err != nil {
		logger.Error("building token service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	idp, err := identity.OpenSQLite(cfg.IdentityDSN, tokens, identity.NewPasswordService())
	if err != nil {
		logger.Error("opening identity store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer idp.Close()

	engine := migrate.New(docs, idp, logger)
	engine.DryRun = *dryRun

	report, err := engine.Run(context.Background())
	if err != nil {
		logger.Error("migration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if *verbose {
		for _, entry := range report.Entries {
			fmt.Printf("%-24s %-32s %s\n", entry.Key, entry.Email, entry.Outcome)
		}
		fmt.Println()
	}

	mode := ""
	if *dryRun {
		mode = " (dry run)"
	}
	fmt.Printf("scanned %d account documents%s\n", report.Scanned, mode)
	fmt.Printf("  migrated:        %d\n", report.Migrated)
	fmt.Printf("  already correct: %d\n", report.AlreadyCorrect)
	fmt.Printf("  skipped:         %d\n", report.Skipped)

	collections := make([]string, 0, len(report.DependentsUpdated))
	for c := range report.DependentsUpdated {
		collections = append(collections, c)
	}
	sort.Strings(collections)
	for _, c := range collections {
		fmt.Printf("  %s: %d records repointed\n", c, report.DependentsUpdated[c])
	}
}
