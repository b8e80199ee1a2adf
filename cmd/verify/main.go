// Package main runs the read-only consistency audit between the identity
// provider and the document store. Exit status 0 means clean, 2 means
// inconsistencies were found, 1 means the audit itself failed.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sakif/pathfit-backend/internal/config"
	"github.com/sakif/pathfit-backend/internal/docstore"
	"github.com/sakif/pathfit-backend/internal/identity"
	"github.com/sakif/pathfit-backend/internal/verify"
)

func main() {
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

	report, err := verify.New(docs, idp, logger).Run(context.Background())
	if err != nil {
		logger.Error("audit failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fmt.Printf("identity accounts checked: %d (%d consistent)\n",
		report.AccountsChecked, report.Consistent)
	fmt.Printf("active documents checked:  %d\n", report.DocsChecked)

	for _, issue := range report.Issues {
		switch issue.Finding {
		case verify.FindingMissingDoc:
			fmt.Printf("  MISSING DOC   uid=%s email=%s\n", issue.UID, issue.Email)
		case verify.FindingOrphanedDoc:
			fmt.Printf("  ORPHANED DOC  key=%s email=%s\n", issue.Key, issue.Email)
		case verify.FindingLegacyKey:
			fmt.Printf("  LEGACY KEY    key=%s uid=%s email=%s\n", issue.Key, issue.UID, issue.Email)
		}
	}

	fmt.Println("collection references:")
	for _, c := range report.Collections {
		fmt.Printf("  %-24s %-12s uid=%d legacy=%d stale-fields=%d\n",
			c.Collection, c.Field, c.UIDRefs, c.LegacyRefs, c.StaleFields)
	}

	if !report.Clean() {
		fmt.Println("\nresult: INCONSISTENT")
		os.Exit(2)
	}
	fmt.Println("\nresult: clean")
}
