package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/clinbridge/edcfill/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			FormURL:   "https://edc.example.com/form/1",
			Status:    model.RunStatusCompleted,
			Summary:   &model.Summary{ConfirmedCount: 4, FailedCount: 1},
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			FormURL:   "https://edc.example.com/form/2",
			Status:    model.RunStatusRunning,
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "FORM")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "completed")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2026-08-20 10:30")
	// Runs without a summary yet show dashes.
	assert.Contains(t, output, "-")
}

func TestFormatRunsList_LongFormURL(t *testing.T) {
	runs := []model.Run{
		{
			ID:      "abc12345-6789-0000-0000-000000000000",
			FormURL: "https://edc.example.com/studies/PROTO-77/subjects/1002/visits/screening",
			Status:  model.RunStatusFailed,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, "screening")
}

func TestFormatSummary(t *testing.T) {
	var buf bytes.Buffer
	formatSummary(&buf, &model.Summary{
		AcceptedCount:  5,
		ReviewCount:    2,
		RejectedCount:  1,
		ConfirmedCount: 4,
		FailedCount:    1,
	})

	output := buf.String()
	assert.Contains(t, output, "Accepted:")
	assert.Contains(t, output, "5")
	assert.Contains(t, output, "Needs review:")
	assert.Contains(t, output, "Confirmed:")
	assert.Contains(t, output, "4")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
