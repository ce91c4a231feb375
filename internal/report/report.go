// Package report renders run outcomes for humans: a markdown summary and an
// XLSX export of per-field results.
package report

import (
	"fmt"
	"strings"

	"github.com/clinbridge/edcfill/internal/model"
	"github.com/clinbridge/edcfill/internal/normalize"
)

// FormatRun generates a human-readable report for a completed run.
func FormatRun(run model.Run, records []model.RunRecord, anomalies []normalize.Anomaly) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Fill Report: %s\n", run.ID)
	if run.FormURL != "" {
		fmt.Fprintf(&b, "Form: %s\n", run.FormURL)
	}
	fmt.Fprintf(&b, "Status: %s\n\n", run.Status)

	b.WriteString("## Summary\n")
	s := run.Summary
	if s == nil {
		s = &model.Summary{}
		for _, rec := range records {
			s.Add(rec)
		}
	}
	fmt.Fprintf(&b, "- Fields: %d\n", len(records))
	fmt.Fprintf(&b, "- Accepted: %d\n", s.AcceptedCount)
	fmt.Fprintf(&b, "- Needs review: %d\n", s.ReviewCount)
	fmt.Fprintf(&b, "- Rejected: %d\n", s.RejectedCount)
	fmt.Fprintf(&b, "- Confirmed on form: %d\n", s.ConfirmedCount)
	fmt.Fprintf(&b, "- Failed: %d\n", s.FailedCount)
	if mean, ok := meanConfidence(records); ok {
		fmt.Fprintf(&b, "- Overall confidence: %.0f%%\n", mean*100)
	}
	b.WriteString("\n")

	b.WriteString("## Fields\n")
	if len(records) == 0 {
		b.WriteString("No fields in this run.\n\n")
	} else {
		for _, rec := range records {
			d := rec.Disposition
			value := "-"
			if d.HasValue {
				value = d.Value.String()
			}
			fmt.Fprintf(&b, "- **%s**: %s %s [%s, %.0f%%]",
				rec.FieldID, d.Status, value, model.LevelFor(d.Confidence), d.Confidence*100)
			if d.Reason != "" {
				fmt.Fprintf(&b, " (%s)", d.Reason)
			}
			fmt.Fprintf(&b, " state=%s", rec.State)
			if len(rec.Attempts) > 0 {
				fmt.Fprintf(&b, " attempts=%d", len(rec.Attempts))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(anomalies) > 0 {
		b.WriteString("## Anomalies\n")
		for _, a := range anomalies {
			fmt.Fprintf(&b, "- %s %q=%q: %s\n", a.DocumentID, a.Key, a.Value, a.Reason)
		}
		b.WriteString("\n")
	}

	review := reviewQueue(records)
	if len(review) > 0 {
		b.WriteString("## Review Queue\n")
		for _, rec := range review {
			fmt.Fprintf(&b, "- %s: approve with `edcfill approve %s %s`\n",
				rec.FieldID, run.ID, rec.FieldID)
		}
	}

	return b.String()
}

// meanConfidence averages disposition confidence over fields that carried a
// value. Returns false when no field did.
func meanConfidence(records []model.RunRecord) (float64, bool) {
	var sum float64
	var n int
	for _, rec := range records {
		if rec.Disposition.HasValue {
			sum += rec.Disposition.Confidence
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// reviewQueue returns the records still awaiting a human decision.
func reviewQueue(records []model.RunRecord) []model.RunRecord {
	var out []model.RunRecord
	for _, rec := range records {
		if rec.Disposition.Status == model.StatusNeedsReview && !rec.Approved {
			out = append(out, rec)
		}
	}
	return out
}
