package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"shelfwatch/internal/event"
)

// LocalTimeLayout 是通知中展示的本地时间格式。
const LocalTimeLayout = "2006-01-02 03:04:05 PM MST"

// ErrRateLimited is returned when a notification is dropped by RateLimited.
var ErrRateLimited = errors.New("notification rate limited")

// Notifier 定义告警输送接口。
type Notifier interface {
	Send(ctx context.Context, ev event.Event, localTime string) error
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, ev event.Event, localTime string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, ev, localTime); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RateLimited drops notifications above a token-bucket rate.
type RateLimited struct {
	next    Notifier
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewRateLimited allows burst notifications and then one per every.
func NewRateLimited(next Notifier, every time.Duration, burst int, logger zerolog.Logger) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if every > 0 {
		limit = rate.Every(every)
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "alert_ratelimit").Logger(),
	}
}

func (r *RateLimited) Send(ctx context.Context, ev event.Event, localTime string) error {
	if !r.limiter.Allow() {
		r.logger.Warn().Str("kind", string(ev.Kind())).Str("entity", ev.EntityName()).Msg("通知被限流")
		return fmt.Errorf("%s %s: %w", ev.Kind(), ev.EntityName(), ErrRateLimited)
	}
	return r.next.Send(ctx, ev, localTime)
}

// FormatLocal renders t in loc using LocalTimeLayout. A nil loc means UTC.
func FormatLocal(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(LocalTimeLayout)
}

// LoadLocation resolves an IANA zone name; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

var (
	_ Notifier = Multi(nil)
	_ Notifier = (*RateLimited)(nil)
)
