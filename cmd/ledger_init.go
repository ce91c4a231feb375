package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/clinbridge/edcfill/internal/ledger"
	"github.com/clinbridge/edcfill/internal/model"
	"github.com/clinbridge/edcfill/internal/schema"
)

// initLedger opens the configured ledger backend.
func initLedger(ctx context.Context) (ledger.Ledger, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "edcfill.db"
		}
		return ledger.NewSQLite(dsn)
	case "postgres":
		return ledger.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// loadSchema loads the form schema and merges built-in aliases with the
// schema's own alias table, plus the standalone alias overlay when one is
// configured. Overlay entries win over both.
func loadSchema() (*model.Registry, map[string]string, error) {
	registry, aliases, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "load form schema")
	}
	merged := schema.MergeAliases(schema.DefaultAliases(), aliases)
	if cfg.Schema.AliasPath != "" {
		overlay, err := schema.LoadAliases(cfg.Schema.AliasPath, registry)
		if err != nil {
			return nil, nil, eris.Wrap(err, "load alias overlay")
		}
		merged = schema.MergeAliases(merged, overlay)
	}
	return registry, merged, nil
}

// approvedFields collects the review approvals already recorded for a run.
func approvedFields(ctx context.Context, led ledger.Ledger, runID string) (map[string]bool, error) {
	records, err := led.ListRecords(ctx, runID)
	if err != nil {
		return nil, err
	}
	approved := make(map[string]bool)
	for _, rec := range records {
		if rec.Approved {
			approved[rec.FieldID] = true
		}
	}
	return approved, nil
}
