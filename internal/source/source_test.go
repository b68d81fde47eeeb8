package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadReading(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	r, err := Payload{Counts: map[string]int{" mango ": 3, "kiwi": 0}, FrameNumber: 9}.Reading(now)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"mango": 3, "kiwi": 0}, r.Counts)
	assert.Equal(t, now, r.ObservedAt)
	assert.Equal(t, int64(9), r.FrameNumber)

	r, err = Payload{Counts: map[string]int{}, Timestamp: 1746100805.5}.Reading(now)
	require.NoError(t, err)
	assert.True(t, now.Add(5500*time.Millisecond).Equal(r.ObservedAt))

	for name, p := range map[string]Payload{
		"missing counts": {},
		"negative":       {Counts: map[string]int{"mango": -1}},
		"empty name":     {Counts: map[string]int{"  ": 1}},
	} {
		_, err := p.Reading(now)
		assert.ErrorIs(t, err, ErrInvalidReading, name)
	}
}

func TestPushSource(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	p := NewPush(10 * time.Second)
	p.now = func() time.Time { return now }

	_, err := p.Read(context.Background())
	assert.ErrorIs(t, err, ErrNoReading)

	p.Submit(Reading{Counts: map[string]int{"mango": 2}, ObservedAt: now})
	r, err := p.Read(context.Background())
	require.NoError(t, err)
	r.Counts["mango"] = 99

	again, err := p.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, again.Counts["mango"])

	now = now.Add(11 * time.Second)
	_, err = p.Read(context.Background())
	assert.ErrorIs(t, err, ErrStale)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"counts":       map[string]int{"mango": 4, "pineapple": 1},
			"frame_number": 1200,
		})
	}))
	defer srv.Close()

	p := NewPoller(PollerOptions{URL: srv.URL, Timeout: time.Second, UserAgent: "test-agent"}, zerolog.Nop())
	r, err := p.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"mango": 4, "pineapple": 1}, r.Counts)
	assert.Equal(t, int64(1200), r.FrameNumber)
}

func TestPollerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "camera offline"})
	}))
	defer srv.Close()

	p := NewPoller(PollerOptions{URL: srv.URL}, zerolog.Nop())
	_, err := p.Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera offline")

	_, err = NewPoller(PollerOptions{}, zerolog.Nop()).Read(context.Background())
	assert.Error(t, err)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"counts":{"mango":-2}}`))
	}))
	defer bad.Close()
	_, err = NewPoller(PollerOptions{URL: bad.URL}, zerolog.Nop()).Read(context.Background())
	assert.ErrorIs(t, err, ErrInvalidReading)
}
