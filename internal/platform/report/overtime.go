// Package report renders scheduling reports as spreadsheets.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	overtimeSheet = "Overtime"
	summarySheet  = "Summary"
)

// OvertimeRow is one assignment's duration bookkeeping. Actual and Overtime
// stay nil until the work has both started and finished.
type OvertimeRow struct {
	AssignmentID     string
	ProviderID       string
	ScheduledDate    string
	ScheduledEndDate string
	Status           string
	Allocated        int
	Extension        int
	Actual           *int
	Overtime         *int
}

var overtimeColumns = []string{
	"Assignment ID", "Provider ID", "Scheduled Date", "Scheduled End Date", "Status",
	"Allocated Minutes", "Approved Extension Minutes", "Planned Minutes",
	"Actual Minutes", "Overtime Minutes",
}

// Totals aggregates finished rows.
type Totals struct {
	Assignments  int
	Finished     int
	PlannedMins  int
	ActualMins   int
	OvertimeMins int
	OverrunCount int
	EarlyCount   int
}

// Summarize sums planned minutes over all rows and actual/overtime minutes
// over finished rows.
func Summarize(rows []OvertimeRow) Totals {
	var t Totals
	for _, r := range rows {
		t.Assignments++
		t.PlannedMins += r.Allocated + r.Extension
		if r.Actual == nil || r.Overtime == nil {
			continue
		}
		t.Finished++
		t.ActualMins += *r.Actual
		t.OvertimeMins += *r.Overtime
		switch {
		case *r.Overtime > 0:
			t.OverrunCount++
		case *r.Overtime < 0:
			t.EarlyCount++
		}
	}
	return t
}

// WriteOvertime writes an xlsx workbook with one row per assignment and a
// summary sheet.
func WriteOvertime(w io.Writer, rows []OvertimeRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", overtimeSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeRow(f, overtimeSheet, 1, toValues(overtimeColumns)); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(overtimeColumns), 1)
		_ = f.SetCellStyle(overtimeSheet, "A1", last, bold)
	}

	for i, r := range rows {
		values := []interface{}{
			r.AssignmentID, r.ProviderID, r.ScheduledDate, r.ScheduledEndDate, r.Status,
			r.Allocated, r.Extension, r.Allocated + r.Extension, optional(r.Actual), optional(r.Overtime),
		}
		if err := writeRow(f, overtimeSheet, i+2, values); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", summarySheet, err)
	}
	t := Summarize(rows)
	summary := [][]interface{}{
		{"Assignments", t.Assignments},
		{"Finished", t.Finished},
		{"Planned Minutes", t.PlannedMins},
		{"Actual Minutes", t.ActualMins},
		{"Net Overtime Minutes", t.OvertimeMins},
		{"Overran", t.OverrunCount},
		{"Finished Early", t.EarlyCount},
	}
	for i, values := range summary {
		if err := writeRow(f, summarySheet, i+1, values); err != nil {
			return err
		}
	}

	return f.Write(w)
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for i, v := range values {
		if v == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func optional(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func toValues(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
