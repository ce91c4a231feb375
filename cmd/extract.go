package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinbridge/edcfill/internal/model"
	"github.com/clinbridge/edcfill/pkg/vision"
)

var (
	extractDocs []string
	extractOut  string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract observations from clinical documents",
	Long:  "Sends document images to the vision model and writes the raw key/value observations as JSON, without mapping or filling. The output can be fed back into `edcfill run --obs`.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic key is required (EDCFILL_ANTHROPIC_KEY)")
		}

		client := vision.NewClient(cfg.Anthropic)

		var observations []model.RawObservation
		for _, path := range extractDocs {
			doc, err := loadDocument(path)
			if err != nil {
				return err
			}
			extracted, err := client.ExtractDocument(ctx, doc)
			if err != nil {
				return eris.Wrap(err, "extract document")
			}
			zap.L().Info("document extracted",
				zap.String("document", doc.ID),
				zap.Int("observations", len(extracted)),
			)
			observations = append(observations, extracted...)
		}

		out := os.Stdout
		if extractOut != "" {
			f, err := os.Create(extractOut)
			if err != nil {
				return eris.Wrap(err, "create output file")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(observations)
	},
}

func init() {
	extractCmd.Flags().StringArrayVar(&extractDocs, "doc", nil, "clinical document image (repeatable, required)")
	extractCmd.Flags().StringVar(&extractOut, "out", "", "write observations JSON to this path instead of stdout")
	_ = extractCmd.MarkFlagRequired("doc")
	rootCmd.AddCommand(extractCmd)
}
