package app

import (
	"context"
	"errors"
	"time"

	"shelfwatch/internal/alerting"
	"shelfwatch/internal/event"
)

// SimulateAlert 通过配置的通道发送一次模拟的低库存告警。
func (a *App) SimulateAlert(ctx context.Context, entity string, count int) error {
	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	threshold, ok := a.Config.Alerts.LowStockThresholds[entity]
	if !ok {
		return errors.New("未知商品: " + entity)
	}
	severity := event.SeverityWarning
	if count == 0 {
		severity = event.SeverityCritical
	}

	now := time.Now().UTC()
	alert := event.LowStock{
		Entity:       entity,
		CurrentCount: count,
		Threshold:    threshold,
		Severity:     severity,
		Timestamp:    event.Timestamp(now),
	}
	a.Logger.Info().Str("entity", entity).Int("count", count).Msg("sending simulated alert")
	return notifier.Send(ctx, alert, alerting.FormatLocal(now, a.location()))
}
