package report

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tealeg/xlsx/v2"
	chart "github.com/wcharczuk/go-chart/v2"

	"shelfwatch/internal/storage"
)

var header = []string{
	"Item Name",
	"Total Consumed (Sales)",
	"Total Restocked",
	"Average Stock Level",
	"End of Month Stock",
}

// FileName is the default report name, e.g. inventory_report_2025-october.csv.
func FileName(m Monthly, ext string) string {
	return fmt.Sprintf("inventory_report_%d-%s.%s", m.From.Year(), strings.ToLower(m.From.Month().String()), ext)
}

func (r EntityReport) row() []string {
	return []string{
		r.Entity,
		strconv.Itoa(r.Consumed),
		strconv.Itoa(r.Restocked),
		r.AverageStock.StringFixed(2),
		strconv.Itoa(r.EndStock),
	}
}

// WriteCSV writes the report as CSV.
func WriteCSV(path string, m Monthly) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, entity := range m.Entities {
		if err := writer.Write(entity.row()); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteXLSX writes the report as a single-sheet workbook named after the month.
func WriteXLSX(path string, m Monthly) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(m.Title())
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}

	row := sheet.AddRow()
	for _, h := range header {
		row.AddCell().SetString(h)
	}
	for _, entity := range m.Entities {
		row := sheet.AddRow()
		row.AddCell().SetString(entity.Entity)
		row.AddCell().SetInt(entity.Consumed)
		row.AddCell().SetInt(entity.Restocked)
		row.AddCell().SetFloatWithFormat(entity.AverageStock.InexactFloat64(), "0.00")
		row.AddCell().SetInt(entity.EndStock)
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// Downsample picks at most max evenly spaced snapshots, always keeping the
// first and last.
func Downsample(snapshots []storage.SnapshotRecord, max int) []storage.SnapshotRecord {
	if max <= 0 || len(snapshots) <= max {
		return snapshots
	}
	if max == 1 {
		return snapshots[len(snapshots)-1:]
	}

	result := make([]storage.SnapshotRecord, 0, max)
	step := float64(len(snapshots)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}
		result = append(result, snapshots[idx])
	}
	return result
}

// FilterEntities narrows each snapshot to the named entities. A name missing
// from a snapshot is exported as 0, and TotalItems is recomputed over the
// selection. An empty names list returns snapshots unchanged.
func FilterEntities(snapshots []storage.SnapshotRecord, names []string) []storage.SnapshotRecord {
	if len(names) == 0 {
		return snapshots
	}
	out := make([]storage.SnapshotRecord, len(snapshots))
	for i, snap := range snapshots {
		counts := make(map[string]int, len(names))
		total := 0
		for _, name := range names {
			counts[name] = snap.Counts[name]
			total += snap.Counts[name]
		}
		snap.Counts = counts
		snap.TotalItems = total
		out[i] = snap
	}
	return out
}

// WriteSnapshotsCSV writes one row per snapshot and entity.
func WriteSnapshotsCSV(path string, snapshots []storage.SnapshotRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"timestamp", "frame_number", "entity", "count", "total_items"}); err != nil {
		return err
	}
	for _, snap := range snapshots {
		for _, name := range sortedEntities(snap.Counts) {
			record := []string{
				snap.Timestamp.UTC().Format(time.RFC3339),
				strconv.FormatInt(snap.FrameNumber, 10),
				name,
				strconv.Itoa(snap.Counts[name]),
				strconv.Itoa(snap.TotalItems),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteInventoryPNG charts the count of every entity over time. Entities
// absent from a snapshot plot as zero.
func WriteInventoryPNG(path string, snapshots []storage.SnapshotRecord) error {
	if len(snapshots) < 2 {
		return fmt.Errorf("chart needs at least 2 snapshots, got %d", len(snapshots))
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	entities := make(map[string]struct{})
	for _, snap := range snapshots {
		for name := range snap.Counts {
			entities[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	sort.Strings(names)

	x := make([]time.Time, len(snapshots))
	total := make([]float64, len(snapshots))
	for i, snap := range snapshots {
		x[i] = snap.Timestamp
		total[i] = float64(snap.TotalItems)
	}

	series := make([]chart.Series, 0, len(names)+1)
	for _, name := range names {
		y := make([]float64, len(snapshots))
		for i, snap := range snapshots {
			y[i] = float64(snap.Counts[name])
		}
		series = append(series, chart.TimeSeries{Name: name, XValues: x, YValues: y})
	}
	series = append(series, chart.TimeSeries{
		Name:    "Total",
		XValues: x,
		YValues: total,
		YAxis:   chart.YAxisSecondary,
	})

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Count",
			ValueFormatter: countFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Total items",
			ValueFormatter: countFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func sortedEntities(counts map[string]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
