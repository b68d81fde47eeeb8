package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"shelfwatch/internal/event"
	"shelfwatch/internal/service"
)

// Scenario is a recorded or hand-written sequence of shelf readings.
type Scenario struct {
	Start      time.Time      `yaml:"start"`
	Interval   time.Duration  `yaml:"interval"`
	Thresholds map[string]int `yaml:"thresholds"`
	Steps      []ScenarioStep `yaml:"snapshots"`
}

// ScenarioStep is one reading, optionally held for Repeat ticks. Gap adds
// dead time before the step, as if the camera had been offline.
type ScenarioStep struct {
	Counts map[string]int `yaml:"counts"`
	Repeat int            `yaml:"repeat"`
	Gap    time.Duration  `yaml:"gap"`
}

// ReplayResult summarises a replay.
type ReplayResult struct {
	Ticks  int
	Sales  []event.Sale
	Alerts []event.Alert
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if len(sc.Steps) == 0 {
		return Scenario{}, errors.New("scenario has no snapshots")
	}
	return sc, nil
}

// Replay runs a scenario through fresh engines built from the current
// configuration. Nothing is persisted; with opts.Notify the confirmed events
// are also sent through the configured notifiers.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) (ReplayResult, error) {
	sc, err := LoadScenario(opts.Path)
	if err != nil {
		return ReplayResult{}, err
	}

	cfg := *a.Config
	if sc.Interval > 0 {
		cfg.Scheduler.Interval = sc.Interval
	}
	if len(sc.Thresholds) > 0 {
		cfg.Alerts.LowStockThresholds = sc.Thresholds
	}
	if sc.Start.IsZero() {
		sc.Start = time.Now().UTC().Truncate(time.Second)
	}
	replayer := &App{Config: &cfg, Logger: a.Logger, sendMail: a.sendMail, out: a.out}

	salesEngine, alertEngine, tracker, err := replayer.newEngines(nil)
	if err != nil {
		return ReplayResult{}, err
	}

	var dispatcher *service.Dispatcher
	if opts.Notify {
		notifier, err := replayer.newNotifier()
		if err != nil {
			return ReplayResult{}, err
		}
		if notifier == nil {
			return ReplayResult{}, errors.New("no notification channel enabled")
		}
		dispatcher = service.NewDispatcher(service.DispatcherOptions{
			Location:    replayer.location(),
			NotifySales: cfg.Notify.NotifySales,
		}, nil, notifier, nil, a.Logger)
		defer dispatcher.Close()
	}

	svc, err := service.New(service.Deps{
		Sales:      salesEngine,
		Alerts:     alertEngine,
		Freshness:  tracker,
		Dispatcher: dispatcher,
	}, a.Logger)
	if err != nil {
		return ReplayResult{}, err
	}

	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Offset\tKind\tEntity\tDetail")

	var result ReplayResult
	at := sc.Start
	for _, step := range sc.Steps {
		repeat := step.Repeat
		if repeat <= 0 {
			repeat = 1
		}
		at = at.Add(step.Gap)
		for i := 0; i < repeat; i++ {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			default:
			}

			tick, err := svc.Process(ctx, step.Counts, int64(result.Ticks), at)
			if err != nil {
				return result, err
			}
			result.Ticks++
			result.Sales = append(result.Sales, tick.Sales...)
			result.Alerts = append(result.Alerts, tick.Alerts...)

			offset := at.Sub(sc.Start)
			for _, s := range tick.Sales {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%d sold (%d -> %d)\n", offset, s.Kind(), s.Entity, s.Quantity, s.InventoryBefore, s.InventoryAfter)
			}
			for _, al := range tick.Alerts {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", offset, al.Kind(), al.EntityName(), sanitizeInline(al.Message()))
			}
			at = at.Add(cfg.Scheduler.Interval)
		}
	}
	if err := writer.Flush(); err != nil {
		return result, err
	}

	stats := svc.Stats()
	a.Logger.Info().
		Int("ticks", result.Ticks).
		Int("sales", len(result.Sales)).
		Int("alerts", len(result.Alerts)).
		Int("false_positives_filtered", stats.Sales.FalsePositivesFiltered).
		Msg("replay finished")
	return result, nil
}
