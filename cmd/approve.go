package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinbridge/edcfill/internal/model"
)

var approveCmd = &cobra.Command{
	Use:   "approve <run-id> <field-id>",
	Short: "Approve a needs-review field for filling",
	Long:  "Marks a needs_review field as approved. The next `edcfill run --resume` over the run will write the approved value into the form.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID, fieldID := args[0], args[1]

		led, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer led.Close() //nolint:errcheck
		if err := led.Migrate(ctx); err != nil {
			return err
		}

		rec, err := led.GetRecord(ctx, runID, fieldID)
		if err != nil {
			return eris.Wrap(err, "load field record")
		}
		if rec.Disposition.Status != model.StatusNeedsReview {
			return eris.Errorf("field %s is %s, only needs_review fields can be approved",
				fieldID, rec.Disposition.Status)
		}
		if rec.Approved {
			fmt.Printf("field %s already approved\n", fieldID)
			return nil
		}

		if err := led.SetApproved(ctx, runID, fieldID); err != nil {
			return eris.Wrap(err, "approve field")
		}

		zap.L().Info("field approved",
			zap.String("run_id", runID),
			zap.String("field_id", fieldID),
		)
		value := "-"
		if rec.Disposition.HasValue {
			value = rec.Disposition.Value.String()
		}
		fmt.Printf("approved %s = %s (resume the run to fill it)\n", fieldID, value)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(approveCmd)
}
