package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfwatch/internal/event"
	"shelfwatch/internal/metrics"
	"shelfwatch/internal/service"
	"shelfwatch/internal/source"
	"shelfwatch/internal/storage"
)

var lowStock = event.LowStock{Entity: "mango", CurrentCount: 1, Threshold: 3, Severity: event.SeverityWarning, Timestamp: 1746100800}

type fakeEngine struct {
	active []event.Alert
	acked  []string
	err    error
}

func (f *fakeEngine) ActiveAlerts() []event.Alert { return f.active }

func (f *fakeEngine) Acknowledge(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	if len(f.active) == 0 || f.active[0].ID() != id {
		return fmt.Errorf("%s: %w", id, service.ErrAlertNotFound)
	}
	f.acked = append(f.acked, id)
	f.active = f.active[1:]
	return nil
}

func (f *fakeEngine) Freshness(now time.Time) map[string]event.FreshnessRecord {
	first := now.Add(-6 * 24 * time.Hour)
	return map[string]event.FreshnessRecord{
		"pineapple": event.FreshnessRecord{Entity: "pineapple", FirstSeen: first, ExpirationDays: 5}.AsOf(now),
		"mango":     event.FreshnessRecord{Entity: "mango", FirstSeen: now, ExpirationDays: 5}.AsOf(now),
	}
}

func (f *fakeEngine) Stats() service.Stats {
	return service.Stats{Ticks: 7, Inventory: map[string]int{"mango": 1}}
}

type fakeReader struct {
	saleQuery  storage.SaleQuery
	alertQuery storage.AlertQuery
}

func (f *fakeReader) ListSales(_ context.Context, q storage.SaleQuery) ([]storage.SaleRecord, error) {
	f.saleQuery = q
	return []storage.SaleRecord{{ID: "a1", Entity: "mango", Quantity: 2}}, nil
}

func (f *fakeReader) ListAlerts(_ context.Context, q storage.AlertQuery) ([]storage.AlertRecord, error) {
	f.alertQuery = q
	return []storage.AlertRecord{{AlertID: lowStock.ID(), Kind: event.KindLowStock}}, nil
}

func (f *fakeReader) SnapshotsBetween(context.Context, time.Time, time.Time) ([]storage.SnapshotRecord, error) {
	return nil, nil
}

func newTestServer(engine Engine, opts Options) *httptest.Server {
	return httptest.NewServer(New(engine, opts, zerolog.Nop()).Handler())
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeEngine{}, Options{})
	defer srv.Close()

	var body map[string]any
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/health", "", &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "dev", body["version"])
}

func TestIngest(t *testing.T) {
	push := source.NewPush(0)
	srv := newTestServer(&fakeEngine{}, Options{Push: push})
	defer srv.Close()

	var body map[string]any
	status := doJSON(t, http.MethodPost, srv.URL+"/api/snapshots", `{"counts":{"mango":4,"kiwi":2},"frame_number":77}`, &body)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, float64(2), body["entities"])

	reading, err := push.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"mango": 4, "kiwi": 2}, reading.Counts)
	assert.Equal(t, int64(77), reading.FrameNumber)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, srv.URL+"/api/snapshots", `{"counts":{"mango":-1}}`, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, srv.URL+"/api/snapshots", `not json`, nil))

	pollMode := newTestServer(&fakeEngine{}, Options{})
	defer pollMode.Close()
	assert.Equal(t, http.StatusConflict, doJSON(t, http.MethodPost, pollMode.URL+"/api/snapshots", `{"counts":{}}`, nil))
}

func TestActiveAlertsAndAcknowledge(t *testing.T) {
	engine := &fakeEngine{active: []event.Alert{lowStock}}
	srv := newTestServer(engine, Options{})
	defer srv.Close()

	var active []map[string]any
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/alerts/active", "", &active))
	require.Len(t, active, 1)
	assert.Equal(t, lowStock.ID(), active[0]["id"])
	assert.Equal(t, "low_stock", active[0]["kind"])
	assert.Equal(t, "warning", active[0]["severity"])
	assert.Equal(t, lowStock.Message(), active[0]["message"])

	status := doJSON(t, http.MethodPost, srv.URL+"/api/alerts/"+lowStock.ID()+"/ack", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{lowStock.ID()}, engine.acked)

	status = doJSON(t, http.MethodPost, srv.URL+"/api/alerts/"+lowStock.ID()+"/ack", "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	engine.err = fmt.Errorf("database down")
	status = doJSON(t, http.MethodPost, srv.URL+"/api/alerts/x/ack", "", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestLogQueries(t *testing.T) {
	reader := &fakeReader{}
	srv := newTestServer(&fakeEngine{}, Options{Reader: reader})
	defer srv.Close()

	var sales []storage.SaleRecord
	status := doJSON(t, http.MethodGet, srv.URL+"/api/sales?entity=mango&limit=5000&from=2025-05-01T00:00:00Z", "", &sales)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, sales, 1)
	assert.Equal(t, "mango", reader.saleQuery.Entity)
	assert.Equal(t, maxLimit, reader.saleQuery.Limit)
	assert.True(t, reader.saleQuery.From.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))

	var alerts []storage.AlertRecord
	status = doJSON(t, http.MethodGet, srv.URL+"/api/alerts?kind=low_stock&acknowledged=false", "", &alerts)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, alerts, 1)
	assert.Equal(t, defaultLimit, reader.alertQuery.Limit)
	assert.Equal(t, event.KindLowStock, reader.alertQuery.Kind)
	require.NotNil(t, reader.alertQuery.Acknowledged)
	assert.False(t, *reader.alertQuery.Acknowledged)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, srv.URL+"/api/sales?limit=-1", "", nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, srv.URL+"/api/sales?to=yesterday", "", nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodGet, srv.URL+"/api/alerts?acknowledged=maybe", "", nil))

	noStore := newTestServer(&fakeEngine{}, Options{})
	defer noStore.Close()
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, http.MethodGet, noStore.URL+"/api/sales", "", nil))
}

func TestFreshnessAndStats(t *testing.T) {
	srv := newTestServer(&fakeEngine{}, Options{})
	defer srv.Close()

	var records []event.FreshnessRecord
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/freshness", "", &records))
	require.Len(t, records, 2)
	assert.Equal(t, "mango", records[0].Entity)
	assert.False(t, records[0].IsExpired)
	assert.True(t, records[1].IsExpired)

	var stats service.Stats
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/stats", "", &stats))
	assert.Equal(t, 7, stats.Ticks)
	assert.Equal(t, map[string]int{"mango": 1}, stats.Inventory)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Dropped()

	srv := newTestServer(&fakeEngine{}, Options{Gatherer: reg})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Contains(t, readAll(t, resp), "shelfwatch_dispatch_dropped_total 1")
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	var b strings.Builder
	_, err := io.Copy(&b, resp.Body)
	require.NoError(t, err)
	return b.String()
}
