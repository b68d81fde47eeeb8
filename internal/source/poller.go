package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// PollerOptions parameterise the detector HTTP source.
type PollerOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// Poller fetches counts from the detector's JSON endpoint on every tick.
type Poller struct {
	opts   PollerOptions
	logger zerolog.Logger
	client *http.Client
	now    func() time.Time
}

// NewPoller constructs a detector poller.
func NewPoller(opts PollerOptions, logger zerolog.Logger) *Poller {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts.URL = strings.TrimSpace(opts.URL)

	return &Poller{
		opts:   opts,
		logger: logger.With().Str("component", "detector_poller").Logger(),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Read performs one GET and validates the payload.
func (p *Poller) Read(ctx context.Context) (Reading, error) {
	if p.opts.URL == "" {
		return Reading{}, fmt.Errorf("detector url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.URL, nil)
	if err != nil {
		return Reading{}, fmt.Errorf("create detector request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "shelfwatch/1.0")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("poll detector: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Reading{}, fmt.Errorf("read detector response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Reading{}, parseHTTPError(resp.StatusCode, body)
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Reading{}, fmt.Errorf("decode detector response: %w", err)
	}
	reading, err := payload.Reading(p.now())
	if err != nil {
		return Reading{}, err
	}
	p.logger.Debug().Int64("frame", reading.FrameNumber).Int("entities", len(reading.Counts)).Msg("detector polled")
	return reading, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("detector error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("detector error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("detector error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("detector error (%d)", status)
}

var _ Source = (*Poller)(nil)
