package report

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/clinbridge/edcfill/internal/model"
)

var xlsxHeader = []string{
	"field_id", "status", "value", "unit_reason", "confidence",
	"confidence_level", "fill_state", "confirmed", "attempts", "final_value",
}

// WriteXLSX exports the run's per-field results to an XLSX workbook at path.
func WriteXLSX(path string, run model.Run, records []model.RunRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Run " + run.ID)
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range xlsxHeader {
		header.AddCell().Value = h
	}

	for _, rec := range records {
		d := rec.Disposition
		value := ""
		if d.HasValue {
			value = d.Value.String()
		}
		row := sheet.AddRow()
		row.AddCell().Value = rec.FieldID
		row.AddCell().Value = string(d.Status)
		row.AddCell().Value = value
		row.AddCell().Value = d.Reason
		row.AddCell().SetFloatWithFormat(d.Confidence, "0.00")
		row.AddCell().Value = string(model.LevelFor(d.Confidence))
		row.AddCell().Value = string(rec.State)
		row.AddCell().Value = strconv.FormatBool(rec.Confirmed)
		row.AddCell().SetInt(len(rec.Attempts))
		row.AddCell().Value = rec.FinalValue
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "report: save workbook")
	}
	return nil
}
