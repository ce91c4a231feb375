package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinbridge/edcfill/internal/fill"
	"github.com/clinbridge/edcfill/internal/ledger"
	"github.com/clinbridge/edcfill/internal/mapping"
	"github.com/clinbridge/edcfill/internal/model"
	"github.com/clinbridge/edcfill/internal/normalize"
	"github.com/clinbridge/edcfill/internal/report"
	"github.com/clinbridge/edcfill/pkg/driver"
	"github.com/clinbridge/edcfill/pkg/vision"
)

var (
	runDocs     []string
	runObsFiles []string
	runFormURL  string
	runResumeID string
	runDryRun   bool
	runXLSXOut  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract, map, and fill one form",
	Long:  "Runs the full pipeline: extract observations from clinical documents (or load pre-extracted ones), normalize them against the form schema, assign dispositions, and write accepted values into the form with read-back verification.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		led, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer led.Close() //nolint:errcheck
		if err := led.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate ledger")
		}

		registry, aliases, err := loadSchema()
		if err != nil {
			return err
		}
		zap.L().Info("schema loaded",
			zap.Int("fields", registry.Len()),
			zap.Int("aliases", len(aliases)),
		)

		var run *model.Run
		var dispositions []model.Disposition
		var anomalies []normalize.Anomaly

		if runResumeID != "" {
			run, dispositions, err = loadResume(ctx, led, runResumeID)
			if err != nil {
				return err
			}
		} else {
			observations, err := collectObservations(ctx)
			if err != nil {
				return err
			}
			if len(observations) == 0 {
				return eris.New("no observations: provide --doc or --obs")
			}

			normalizer := normalize.New(registry, aliases,
				cfg.Normalize.SimilarityThreshold, cfg.Normalize.Concurrency)
			result, err := normalizer.Normalize(ctx, observations)
			if err != nil {
				return eris.Wrap(err, "normalize observations")
			}
			anomalies = result.Anomalies
			zap.L().Info("observations normalized",
				zap.Int("observations", len(observations)),
				zap.Int("candidates", len(result.Candidates)),
				zap.Int("anomalies", len(result.Anomalies)),
				zap.Float64("overall_confidence", model.OverallConfidence(result.Candidates)),
			)

			engine := mapping.New(registry, cfg.Mapping)
			dispositions = engine.Dispositions(result.Candidates)

			formURL := runFormURL
			if formURL == "" {
				formURL = cfg.Fill.FormURL
			}
			run, err = led.CreateRun(ctx, formURL)
			if err != nil {
				return eris.Wrap(err, "create run")
			}
			for _, d := range dispositions {
				rec := model.RunRecord{
					RunID:       run.ID,
					FieldID:     d.FieldID,
					Disposition: d,
					State:       model.FillPending,
				}
				if err := led.InitRecord(ctx, rec); err != nil {
					return eris.Wrap(err, "init run record")
				}
			}
			zap.L().Info("run created",
				zap.String("run_id", run.ID),
				zap.Int("fields", len(dispositions)),
			)
		}

		if runDryRun {
			return printReport(ctx, led, run.ID, anomalies)
		}

		formURL := runFormURL
		if formURL == "" {
			formURL = run.FormURL
		}
		if formURL == "" {
			formURL = cfg.Fill.FormURL
		}
		if formURL == "" {
			return eris.New("form URL is required: set --form-url or fill.form_url")
		}

		selectors := make(map[string]string)
		for _, f := range registry.Fields() {
			if f.Selector != "" {
				selectors[f.FieldID] = f.Selector
			}
		}
		target := driver.NewHTTPForm(formURL, cfg.Fill.FormToken,
			driver.WithSelectors(selectors))

		approved, err := approvedFields(ctx, led, run.ID)
		if err != nil {
			return eris.Wrap(err, "load approvals")
		}

		if err := led.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
			return eris.Wrap(err, "mark run running")
		}

		orch := fill.New(registry, target, led, cfg.Fill)
		summary, err := orch.Run(ctx, run.ID, dispositions, approved)
		if err != nil {
			return eris.Wrap(err, "fill run")
		}

		zap.L().Info("fill complete",
			zap.String("run_id", run.ID),
			zap.Int("confirmed", summary.ConfirmedCount),
			zap.Int("failed", summary.FailedCount),
			zap.Int("needs_review", summary.ReviewCount),
		)

		return printReport(ctx, led, run.ID, anomalies)
	},
}

func init() {
	runCmd.Flags().StringArrayVar(&runDocs, "doc", nil, "clinical document image to extract (repeatable)")
	runCmd.Flags().StringArrayVar(&runObsFiles, "obs", nil, "pre-extracted observations JSON file (repeatable)")
	runCmd.Flags().StringVar(&runFormURL, "form-url", "", "EDC form gateway base URL (default from config)")
	runCmd.Flags().StringVar(&runResumeID, "resume", "", "resume an interrupted run by ID")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "map and disposition only, do not write to the form")
	runCmd.Flags().StringVar(&runXLSXOut, "xlsx", "", "write an XLSX results workbook to this path")
	rootCmd.AddCommand(runCmd)
}

// collectObservations gathers raw observations from --obs files and from
// vision extraction over --doc images.
func collectObservations(ctx context.Context) ([]model.RawObservation, error) {
	var observations []model.RawObservation

	for _, path := range runObsFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "read observations file")
		}
		var batch []model.RawObservation
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, eris.Wrap(err, "parse observations file")
		}
		observations = append(observations, batch...)
	}

	if len(runDocs) > 0 {
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("anthropic key is required for --doc (EDCFILL_ANTHROPIC_KEY)")
		}
		client := vision.NewClient(cfg.Anthropic)
		for _, path := range runDocs {
			doc, err := loadDocument(path)
			if err != nil {
				return nil, err
			}
			extracted, err := client.ExtractDocument(ctx, doc)
			if err != nil {
				return nil, eris.Wrap(err, "extract document")
			}
			zap.L().Info("document extracted",
				zap.String("document", doc.ID),
				zap.Int("observations", len(extracted)),
			)
			observations = append(observations, extracted...)
		}
	}

	return observations, nil
}

// loadDocument reads an image file into a base64 vision document.
func loadDocument(path string) (vision.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vision.Document{}, eris.Wrap(err, "read document")
	}
	mediaType, err := documentMediaType(path)
	if err != nil {
		return vision.Document{}, err
	}
	return vision.Document{
		ID:        filepath.Base(path),
		MediaType: mediaType,
		Base64:    base64.StdEncoding.EncodeToString(data),
	}, nil
}

func documentMediaType(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png", nil
	case ".jpg", ".jpeg":
		return "image/jpeg", nil
	case ".webp":
		return "image/webp", nil
	case ".gif":
		return "image/gif", nil
	default:
		return "", eris.Errorf("unsupported document type: %s", filepath.Ext(path))
	}
}

// loadResume reloads a prior run and its recorded dispositions so the fill
// can pick up where it stopped.
func loadResume(ctx context.Context, led ledger.Ledger, runID string) (*model.Run, []model.Disposition, error) {
	run, err := led.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "load run for resume")
	}
	records, err := led.ListRecords(ctx, runID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "load run records for resume")
	}
	dispositions := make([]model.Disposition, 0, len(records))
	for _, rec := range records {
		dispositions = append(dispositions, rec.Disposition)
	}
	zap.L().Info("resuming run",
		zap.String("run_id", runID),
		zap.Int("fields", len(dispositions)),
	)
	return run, dispositions, nil
}

// printReport renders the run report to stdout and optionally an XLSX export.
func printReport(ctx context.Context, led ledger.Ledger, runID string, anomalies []normalize.Anomaly) error {
	run, err := led.GetRun(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "load run for report")
	}
	records, err := led.ListRecords(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "load records for report")
	}

	os.Stdout.WriteString(report.FormatRun(*run, records, anomalies))

	if runXLSXOut != "" {
		if err := report.WriteXLSX(runXLSXOut, *run, records); err != nil {
			return err
		}
		zap.L().Info("xlsx written", zap.String("path", runXLSXOut))
	}
	return nil
}
