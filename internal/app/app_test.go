package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/smtp"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwatch/internal/config"
	"shelfwatch/internal/event"
	"shelfwatch/internal/storage"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "database:\n  dsn: " + filepath.Join(dir, "inventory.db") + "\nexport:\n  directory: " + dir + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	cfg.Sales.Cooldown = 5 * time.Second

	a := NewApp(cfg, zerolog.Nop())
	var out bytes.Buffer
	a.out = &out
	return a, &out
}

func seedStore(t *testing.T, a *App, seed func(ctx context.Context, s storage.Store)) {
	t.Helper()
	ctx := context.Background()
	store, closeStore, err := a.openStore(ctx)
	require.NoError(t, err)
	defer closeStore()
	seed(ctx, store)
}

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReplay(t *testing.T) {
	a, out := newTestApp(t)
	path := writeScenario(t, `
start: 2025-05-01T12:00:00Z
interval: 5s
thresholds:
  mango: 3
snapshots:
  - counts: {mango: 5}
  - counts: {mango: 4}
    repeat: 2
  - counts: {mango: 2}
    repeat: 2
`)

	res, err := a.Replay(context.Background(), ReplayOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Ticks)
	require.Len(t, res.Sales, 2)
	assert.Equal(t, 1, res.Sales[0].Quantity)
	assert.Equal(t, 2, res.Sales[1].Quantity)
	assert.Equal(t, 4, res.Sales[1].InventoryBefore)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, event.KindLowStock, res.Alerts[0].Kind())

	assert.Contains(t, out.String(), "1 sold (5 -> 4)")
	assert.Contains(t, out.String(), "low_stock")
}

func TestReplayFlickerIsFiltered(t *testing.T) {
	a, _ := newTestApp(t)
	path := writeScenario(t, `
start: 2025-05-01T12:00:00Z
thresholds:
  mango: 1
snapshots:
  - counts: {mango: 5}
  - counts: {mango: 4}
  - counts: {mango: 5}
    repeat: 3
`)

	res, err := a.Replay(context.Background(), ReplayOptions{Path: path})
	require.NoError(t, err)
	assert.Empty(t, res.Sales)
	assert.Empty(t, res.Alerts)
}

func TestLoadScenarioErrors(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadScenario(writeScenario(t, "snapshots: []\n"))
	assert.Error(t, err)
}

func TestReportAndExport(t *testing.T) {
	a, _ := newTestApp(t)
	base := time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC)
	seedStore(t, a, func(ctx context.Context, s storage.Store) {
		for i, mango := range []int{5, 3, 6} {
			require.NoError(t, s.SaveSnapshot(ctx, map[string]int{"mango": mango}, int64(i), base.Add(time.Duration(i)*time.Hour)))
		}
		// outside the month
		require.NoError(t, s.SaveSnapshot(ctx, map[string]int{"mango": 0}, 9, time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)))
	})

	xlsxPath := filepath.Join(t.TempDir(), "report.xlsx")
	monthly, err := a.Report(context.Background(), ReportOptions{Month: "2025-10", XLSX: xlsxPath})
	require.NoError(t, err)
	require.Len(t, monthly.Entities, 1)
	assert.Equal(t, 2, monthly.Entities[0].Consumed)
	assert.Equal(t, 3, monthly.Entities[0].Restocked)
	assert.Equal(t, "4.67", monthly.Entities[0].AverageStock.StringFixed(2))
	assert.Equal(t, 6, monthly.Entities[0].EndStock)

	assert.FileExists(t, filepath.Join(a.Config.Export.Directory, "inventory_report_2025-october.csv"))
	assert.FileExists(t, xlsxPath)

	_, err = a.Report(context.Background(), ReportOptions{Month: "2024-01"})
	assert.Error(t, err)

	from := base.Add(-time.Hour)
	to := base.Add(24 * time.Hour)
	csvPath := filepath.Join(t.TempDir(), "snapshots.csv")
	pngPath := filepath.Join(t.TempDir(), "snapshots.png")
	require.NoError(t, a.Export(context.Background(), ExportOptions{From: &from, To: &to, CSVPath: csvPath, PNGPath: pngPath}))
	assert.FileExists(t, csvPath)
	assert.FileExists(t, pngPath)

	filtered := filepath.Join(t.TempDir(), "kiwi.csv")
	require.NoError(t, a.Export(context.Background(), ExportOptions{From: &from, To: &to, CSVPath: filtered, Entities: []string{"kiwi"}}))
	raw, err := os.ReadFile(filtered)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"kiwi", "0", "0"}, rows[1][2:])

	assert.Error(t, a.Export(context.Background(), ExportOptions{}))
}

func TestShowAndCleanup(t *testing.T) {
	a, out := newTestApp(t)
	now := time.Now().UTC()
	seedStore(t, a, func(ctx context.Context, s storage.Store) {
		sale := event.Sale{Entity: "mango", Quantity: 2, InventoryBefore: 5, InventoryAfter: 3, Timestamp: event.Timestamp(now), Attributed: true}
		require.NoError(t, s.LogSale(ctx, sale, "local"))
		alert := event.LowStock{Entity: "mango", CurrentCount: 1, Threshold: 3, Severity: event.SeverityWarning, Timestamp: event.Timestamp(now)}
		require.NoError(t, s.LogAlert(ctx, alert, "local"))
		require.NoError(t, s.SaveSnapshot(ctx, map[string]int{"mango": 3}, 1, now.Add(-48*time.Hour)))
		require.NoError(t, s.SaveSnapshot(ctx, map[string]int{"mango": 3}, 2, now))
	})

	require.NoError(t, a.ShowSales(context.Background(), ShowOptions{Limit: 10}))
	assert.Contains(t, out.String(), "mango")
	assert.Contains(t, out.String(), "Qty")

	out.Reset()
	require.NoError(t, a.ShowAlerts(context.Background(), ShowOptions{Limit: 10, Kind: "expiration"}))
	assert.Contains(t, out.String(), "no alerts found")

	out.Reset()
	require.NoError(t, a.ShowAlerts(context.Background(), ShowOptions{Limit: 10}))
	assert.Contains(t, out.String(), "low_stock")

	out.Reset()
	res, err := a.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Snapshots)
	assert.Contains(t, out.String(), "snapshots: 1")
}

func TestSimulateAlertSendsEmail(t *testing.T) {
	a, _ := newTestApp(t)
	a.Config.Notify.Email = config.EmailConfig{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "shelf@example.com",
		To:      []string{"ops@example.com"},
	}

	var sent [][]byte
	a.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "smtp.example.com:587", addr)
		assert.Equal(t, []string{"ops@example.com"}, to)
		sent = append(sent, msg)
		return nil
	}

	require.NoError(t, a.SimulateAlert(context.Background(), "mango", 0))
	require.Len(t, sent, 1)
	assert.Contains(t, string(sent[0]), "mango")

	assert.Error(t, a.SimulateAlert(context.Background(), "durian", 0))

	a.Config.Notify.Email.Enabled = false
	assert.Error(t, a.SimulateAlert(context.Background(), "mango", 0))
}
