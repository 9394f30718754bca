// internal/report/excel.go

// Package report renders stored runs as Excel workbooks.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tamzrod/ring-tester/internal/storage"
)

// Sheet names.
const (
	SheetInfo    = "Test Info"
	SheetData    = "Data Points"
	SheetResults = "Test Results"
	SheetSummary = "Summary"
)

const (
	headerColor = "2C5282"
	passColor   = "C6F6D5"
	failColor   = "FED7D7"
	dateLayout  = "2006-01-02 15:04"
)

// ContentType is the media type of the workbooks this package writes.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// WriteRun writes one run with its data points.
func WriteRun(w io.Writer, run storage.Run) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetInfo); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	st, err := newStyles(f)
	if err != nil {
		return err
	}

	res := run.Result
	if res == nil {
		res = &storage.Result{}
	}

	rows := [][2]interface{}{
		{"Test Report", ""},
		{"", ""},
		{"Test ID", run.ID},
		{"Date", run.StartedAt.Format(dateLayout)},
		{"Sample ID", run.SampleID},
		{"Operator", run.Operator},
		{"Status", string(run.Status)},
		{"Notes", run.Notes},
		{"", ""},
		{"Parameters", ""},
		{"Pipe Diameter (mm)", run.PipeDiameter},
		{"Sample Length (mm)", run.PipeLength},
		{"Deflection Target (%)", run.DeflectionPercent},
		{"Test Speed (mm/min)", run.TestSpeed},
		{"", ""},
		{"Results", ""},
		{"Force at Target (kN)", round(res.ForceAtTarget, 3)},
		{"Max Force (kN)", round(res.MaxForce, 3)},
		{"Ring Stiffness (kN/m²)", round(res.RingStiffness, 1)},
		{"SN Class", snLabel(res.SNClass)},
		{"Duration (s)", round(res.Duration, 2)},
		{"Result", verdict(run)},
	}
	for i, r := range rows {
		n := i + 1
		if err := f.SetSheetRow(SheetInfo, cell(1, n), &[]interface{}{r[0], r[1]}); err != nil {
			return fmt.Errorf("report: %w", err)
		}
		switch r[0] {
		case "Test Report", "Parameters", "Results":
			if err := f.SetCellStyle(SheetInfo, cell(1, n), cell(1, n), st.title); err != nil {
				return fmt.Errorf("report: %w", err)
			}
		}
	}
	if run.Result != nil {
		last := cell(2, len(rows))
		if err := f.SetCellStyle(SheetInfo, last, last, st.verdict(run.Result.Passed)); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	if err := f.SetColWidth(SheetInfo, "A", "A", 25); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := f.SetColWidth(SheetInfo, "B", "B", 40); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := writeSamples(f, st, run.Samples); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	return nil
}

// writeSamples streams the force/deflection curve, oldest first.
func writeSamples(f *excelize.File, st styles, samples []storage.Sample) error {
	if _, err := f.NewSheet(SheetData); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	sw, err := f.NewStreamWriter(SheetData)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	header := []interface{}{
		excelize.Cell{StyleID: st.header, Value: "Time (s)"},
		excelize.Cell{StyleID: st.header, Value: "Force (kN)"},
		excelize.Cell{StyleID: st.header, Value: "Deflection (mm)"},
		excelize.Cell{StyleID: st.header, Value: "Position (mm)"},
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	sorted := append([]storage.Sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Elapsed < sorted[j].Elapsed })

	for i, s := range sorted {
		err := sw.SetRow(cell(1, i+2), []interface{}{
			round(s.Elapsed, 3),
			round(s.Force, 3),
			round(s.Deflection, 3),
			round(s.Position, 3),
		})
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// WriteRuns writes a history table of runs plus a summary sheet.
func WriteRuns(w io.Writer, runs []storage.Run, generated time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetResults); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	st, err := newStyles(f)
	if err != nil {
		return err
	}

	header := []interface{}{
		"ID", "Date", "Sample ID", "Operator",
		"Diameter (mm)", "Length (mm)", "Deflection %",
		"Force@Target (kN)", "Max Force (kN)", "Ring Stiffness (kN/m²)",
		"SN Class", "Result",
	}
	if err := f.SetSheetRow(SheetResults, "A1", &header); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := f.SetCellStyle(SheetResults, "A1", cell(len(header), 1), st.header); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	var (
		passed     int
		stiffSum   float64
		stiffCount int
		classes    = map[int]int{}
	)
	for i, run := range runs {
		n := i + 2
		res := run.Result
		if res == nil {
			res = &storage.Result{}
		}
		row := []interface{}{
			run.ID,
			run.StartedAt.Format(dateLayout),
			run.SampleID,
			run.Operator,
			run.PipeDiameter,
			run.PipeLength,
			run.DeflectionPercent,
			round(res.ForceAtTarget, 2),
			round(res.MaxForce, 2),
			round(res.RingStiffness, 0),
			snLabel(res.SNClass),
			verdict(run),
		}
		if err := f.SetSheetRow(SheetResults, cell(1, n), &row); err != nil {
			return fmt.Errorf("report: %w", err)
		}
		if run.Result != nil {
			rc := cell(len(row), n)
			if err := f.SetCellStyle(SheetResults, rc, rc, st.verdict(res.Passed)); err != nil {
				return fmt.Errorf("report: %w", err)
			}
			if res.Passed {
				passed++
			}
			if res.RingStiffness > 0 {
				stiffSum += res.RingStiffness
				stiffCount++
			}
			if res.SNClass > 0 {
				classes[res.SNClass]++
			}
		}
	}

	widths := []float64{38, 18, 15, 15, 14, 14, 14, 18, 16, 22, 12, 10}
	for i, wd := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetResults, col, col, wd); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	if err := f.SetPanes(SheetResults, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	// ---- summary ----

	if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	total := len(runs)
	rate := 0.0
	if total > 0 {
		rate = float64(passed) / float64(total) * 100
	}
	avg := 0.0
	if stiffCount > 0 {
		avg = stiffSum / float64(stiffCount)
	}

	summary := [][2]interface{}{
		{"Test Summary Report", ""},
		{"Generated:", generated.Format("2006-01-02 15:04:05")},
		{"", ""},
		{"Statistics", "Value"},
		{"Total Tests", total},
		{"Passed", passed},
		{"Failed", total - passed},
		{"Pass Rate", fmt.Sprintf("%.1f%%", rate)},
		{"Average Ring Stiffness", fmt.Sprintf("%.0f kN/m²", avg)},
		{"", ""},
		{"SN Class Distribution", ""},
	}
	keys := make([]int, 0, len(classes))
	for k := range classes {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		summary = append(summary, [2]interface{}{snLabel(k), classes[k]})
	}

	for i, r := range summary {
		n := i + 1
		if err := f.SetSheetRow(SheetSummary, cell(1, n), &[]interface{}{r[0], r[1]}); err != nil {
			return fmt.Errorf("report: %w", err)
		}
		switch r[0] {
		case "Test Summary Report":
			err = f.SetCellStyle(SheetSummary, cell(1, n), cell(1, n), st.title)
		case "Statistics", "SN Class Distribution":
			err = f.SetCellStyle(SheetSummary, cell(1, n), cell(1, n), st.header)
		}
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	if err := f.SetColWidth(SheetSummary, "A", "B", 25); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	return nil
}

// ---- styles ----

type styles struct {
	header int
	title  int
	pass   int
	fail   int
}

func (s styles) verdict(passed bool) int {
	if passed {
		return s.pass
	}
	return s.fail
}

func newStyles(f *excelize.File) (styles, error) {
	var s styles
	var err error

	s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF", Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerColor}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return s, fmt.Errorf("report: header style: %w", err)
	}
	s.title, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 12}})
	if err != nil {
		return s, fmt.Errorf("report: title style: %w", err)
	}
	s.pass, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{passColor}},
	})
	if err != nil {
		return s, fmt.Errorf("report: pass style: %w", err)
	}
	s.fail, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{failColor}},
	})
	if err != nil {
		return s, fmt.Errorf("report: fail style: %w", err)
	}
	return s, nil
}

// ---- helpers ----

func cell(col, row int) string {
	c, _ := excelize.CoordinatesToCellName(col, row)
	return c
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func snLabel(class int) string {
	if class <= 0 {
		return ""
	}
	return fmt.Sprintf("SN %d", class)
}

func verdict(run storage.Run) string {
	switch {
	case run.Result == nil:
		return string(run.Status)
	case run.Result.Passed:
		return "PASS"
	default:
		return "FAIL"
	}
}
