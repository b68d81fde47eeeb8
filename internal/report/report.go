package report

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"shelfwatch/internal/storage"
)

// ErrNoData is returned when a period holds no snapshots.
var ErrNoData = errors.New("no snapshots in report period")

// EntityReport aggregates one entity over a reporting period.
type EntityReport struct {
	Entity       string          `json:"entity"`
	Consumed     int             `json:"consumed"`
	Restocked    int             `json:"restocked"`
	AverageStock decimal.Decimal `json:"average_stock"`
	EndStock     int             `json:"end_stock"`
	Samples      int             `json:"samples"`
}

// Monthly is a computed report for one calendar month.
type Monthly struct {
	From     time.Time      `json:"from"`
	To       time.Time      `json:"to"`
	Entities []EntityReport `json:"entities"`
}

// Title renders "October 2025".
func (m Monthly) Title() string {
	return m.From.Format("January 2006")
}

// MonthRange returns [start, end) of the given month in loc. A nil loc
// means UTC.
func MonthRange(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// ParseMonth parses "2006-01". An empty value selects the month before now.
func ParseMonth(raw string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if raw == "" {
		prev := now.In(loc).AddDate(0, 0, -now.In(loc).Day())
		from, to := MonthRange(prev.Year(), prev.Month(), loc)
		return from, to, nil
	}
	t, err := time.ParseInLocation("2006-01", raw, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse month %q: %w", raw, err)
	}
	from, to := MonthRange(t.Year(), t.Month(), loc)
	return from, to, nil
}

// Compute aggregates snapshots, which must be ordered by time. Snapshots
// missing an entity are skipped for that entity.
func Compute(from, to time.Time, snapshots []storage.SnapshotRecord) (Monthly, error) {
	if len(snapshots) == 0 {
		return Monthly{}, ErrNoData
	}

	series := make(map[string][]int)
	for _, snap := range snapshots {
		for entity, count := range snap.Counts {
			series[entity] = append(series[entity], count)
		}
	}

	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	out := Monthly{From: from, To: to, Entities: make([]EntityReport, 0, len(names))}
	for _, name := range names {
		out.Entities = append(out.Entities, summarize(name, series[name]))
	}
	return out, nil
}

func summarize(entity string, counts []int) EntityReport {
	r := EntityReport{Entity: entity, Samples: len(counts), AverageStock: decimal.Zero}
	if len(counts) == 0 {
		return r
	}
	sum := int64(counts[0])
	for i := 1; i < len(counts); i++ {
		diff := counts[i] - counts[i-1]
		switch {
		case diff < 0:
			r.Consumed -= diff
		case diff > 0:
			r.Restocked += diff
		}
		sum += int64(counts[i])
	}
	r.AverageStock = decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(len(counts)))).Round(2)
	r.EndStock = counts[len(counts)-1]
	return r
}
