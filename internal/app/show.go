package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"shelfwatch/internal/event"
	"shelfwatch/internal/storage"
)

// ShowSales prints the most recent sales log rows.
func (a *App) ShowSales(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show sales")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListSales(ctx, storage.SaleQuery{Limit: opts.Limit, Entity: opts.Entity})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.out, "no sales found")
		return nil
	}

	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tLocal\tEntity\tQty\tBefore\tAfter")
	for _, r := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%d\t%d\n",
			r.Timestamp.UTC().Format(time.RFC3339),
			r.LocalTime,
			r.Entity,
			r.Quantity,
			r.InventoryBefore,
			r.InventoryAfter,
		)
	}
	return writer.Flush()
}

// ShowAlerts prints the most recent alerts log rows.
func (a *App) ShowAlerts(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListAlerts(ctx, storage.AlertQuery{
		Limit:  opts.Limit,
		Entity: opts.Entity,
		Kind:   event.Kind(opts.Kind),
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKind\tEntity\tSeverity\tAck\tMessage")
	for _, r := range records {
		ack := "no"
		if r.Acknowledged {
			ack = "yes"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Kind,
			r.Entity,
			r.Severity,
			ack,
			sanitizeInline(r.Message),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
