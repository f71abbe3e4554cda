package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"utxo-diff-alerts/internal/storage"
)

// flowPoint is the cumulative net flow right after an event.
type flowPoint struct {
	At      time.Time
	NetSats int64
}

// Export renders the event history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	events, err := store.ListEventsBetween(ctx, opts.Address, from, to)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		a.Logger.Info().Msg("no events found for export window")
		return nil
	}

	flow := cumulativeFlow(events)
	a.Logger.Info().Int("events", len(events)).Str("address", opts.Address).Msg("exporting events")

	if opts.CSVPath != "" {
		if err := writeEventsCSV(opts.CSVPath, events, flow); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		points := downsample(flow, opts.MaxPoints)
		if err := writeFlowPNG(opts.PNGPath, points, from, to); err != nil {
			return err
		}
	}

	return nil
}

func cumulativeFlow(events []storage.EventRecord) []flowPoint {
	points := make([]flowPoint, 0, len(events))
	var net int64
	for _, ev := range events {
		net += ev.SignedValue()
		points = append(points, flowPoint{At: ev.CreatedAt, NetSats: net})
	}
	return points
}

func downsample[T any](items []T, max int) []T {
	if max <= 1 || len(items) <= max {
		return items
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func writeEventsCSV(path string, events []storage.EventRecord, flow []flowPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "address", "network", "kind", "txid", "vout", "value_sats", "confirmed_height", "height", "net_flow_sats"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for i, ev := range events {
		confirmed := ""
		if ev.ConfirmedHeight != nil {
			confirmed = strconv.FormatInt(*ev.ConfirmedHeight, 10)
		}
		record := []string{
			ev.CreatedAt.UTC().Format(time.RFC3339),
			ev.Address,
			ev.Network,
			ev.Kind.String(),
			ev.TxID,
			strconv.FormatUint(uint64(ev.Vout), 10),
			strconv.FormatInt(ev.ValueSats, 10),
			confirmed,
			strconv.FormatInt(ev.Height, 10),
			strconv.FormatInt(flow[i].NetSats, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeFlowPNG(path string, points []flowPoint, from, to time.Time) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	// Anchor the series at zero on the window start and hold the last value to its end.
	x := make([]time.Time, 0, len(points)+2)
	y := make([]float64, 0, len(points)+2)
	x = append(x, from)
	y = append(y, 0)
	for _, p := range points {
		x = append(x, p.At)
		y = append(y, satsToBTC(p.NetSats))
	}
	x = append(x, to)
	y = append(y, y[len(y)-1])

	btcFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.8f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Net flow (BTC)",
			ValueFormatter: btcFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Net flow",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func satsToBTC(sats int64) float64 {
	return decimal.New(sats, -8).InexactFloat64()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
