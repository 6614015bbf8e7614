package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"moodline/internal/analytics"
	"moodline/internal/models"
)

const (
	SamplesSheet = "Samples"
	SummarySheet = "Summary"
)

var sampleHeader = []string{
	"Date", "Time", "Mood", "Energy", "Stress", "Sleep", "Activities", "Emotions", "Notes", "Risk", "Revision",
}

var sampleColumnWidths = []float64{12, 8, 7, 8, 8, 8, 24, 24, 48, 10, 9}

// Workbook renders samples and their snapshot as an xlsx file. Timestamps
// are written in loc.
func Workbook(samples []models.MoodSample, snap analytics.Snapshot, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SamplesSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, SamplesSheet, 1, toAny(sampleHeader)); err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(sampleHeader), 1)
	if err := f.SetCellStyle(SamplesSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	for i, w := range sampleColumnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SamplesSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, s := range samples {
		local := s.CreatedAt.In(loc)
		risk := ""
		if s.Analysis != nil {
			risk = string(s.Analysis.RiskLevel)
		}
		row := []any{
			local.Format("2006-01-02"),
			local.Format("15:04"),
			s.Mood,
			optional(s.Energy),
			optional(s.Stress),
			optional(s.Sleep),
			strings.Join(s.Activities, ", "),
			strings.Join(s.Emotions, ", "),
			s.Notes,
			risk,
			s.Revision,
		}
		if err := writeRow(f, SamplesSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	summary := [][]any{
		{"Window (days)", snap.WindowDays},
		{"From", snap.From.In(loc).Format("2006-01-02")},
		{"To", snap.To.In(loc).Format("2006-01-02")},
		{"Timezone", loc.String()},
		{"Entries", snap.TotalEntries},
		{"Mean mood", snap.MoodMean},
		{"Mean energy", snap.EnergyMean},
		{"Mean stress", snap.StressMean},
		{"Mean sleep", snap.SleepMean},
		{"Current streak", snap.CurrentStreak},
		{"Best day", snap.BestDay},
		{"Worst day", snap.WorstDay},
		{"Sleep/mood correlation", snap.SleepMoodCorrelation},
	}
	for i, row := range summary {
		if err := writeRow(f, SummarySheet, i+1, row); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(SummarySheet, "A", "A", 24); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func optional(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
