package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"utxo-diff-alerts/internal/storage"
)

// Show prints recently recorded events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show events")
	}
	if closeStore != nil {
		defer closeStore()
	}

	events, err := store.ListRecentEvents(ctx, opts.Address, opts.Limit)
	if err != nil {
		return err
	}
	a.printEvents(events)
	return nil
}

func (a *App) printEvents(events []storage.EventRecord) {
	if len(events) == 0 {
		fmt.Fprintln(a.out(), "no events found")
		return
	}

	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAddress\tKind\tOutpoint\tValue (sats)\tHeight")

	for _, ev := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s:%d\t%+d\t%d\n",
			ev.CreatedAt.UTC().Format(time.RFC3339),
			ev.Address,
			ev.Kind,
			sanitizeInline(ev.TxID),
			ev.Vout,
			ev.SignedValue(),
			ev.Height,
		)
	}

	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
