package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	"utxo-diff-alerts/internal/alerting"
	"utxo-diff-alerts/internal/config"
	"utxo-diff-alerts/internal/fetcher"
	"utxo-diff-alerts/internal/utxo"
)

type addressSnapshot struct {
	address string
	snap    utxo.Snapshot
	err     error
}

// Snapshot fetches and prints the current UTXO set of every address once.
func (a *App) Snapshot(ctx context.Context, opts SnapshotOptions) error {
	addresses := opts.Addresses
	if len(addresses) == 0 {
		addresses = a.Config.Bitcoin.Addresses
	}
	if len(addresses) == 0 {
		return errors.New("no address configured; pass --address or set bitcoin.addresses")
	}
	for _, addr := range addresses {
		if err := config.ValidateAddress(addr, a.Config.Bitcoin.Network); err != nil {
			return err
		}
	}

	gateway, err := a.newGateway()
	if err != nil {
		return err
	}
	return a.printSnapshots(ctx, gateway, addresses)
}

func (a *App) printSnapshots(ctx context.Context, gateway fetcher.Gateway, addresses []string) error {
	height, err := gateway.CurrentHeight(ctx)
	if err != nil {
		return err
	}

	results := make([]addressSnapshot, len(addresses))
	var g errgroup.Group
	g.SetLimit(max(1, a.Config.Scheduler.MaxConcurrency))
	for i, addr := range addresses {
		i, addr := i, addr
		g.Go(func() error {
			snap, err := gateway.Snapshot(ctx, addr)
			results[i] = addressSnapshot{address: addr, snap: snap, err: err}
			return nil
		})
	}
	_ = g.Wait()

	w := a.out()
	fmt.Fprintf(w, "Network: %s  Height: %d\n", a.Config.Bitcoin.Network, height)

	failed := 0
	for _, res := range results {
		fmt.Fprintf(w, "\n%s\n", res.address)
		if res.err != nil {
			failed++
			fmt.Fprintf(w, "  error: %s\n", sanitizeInline(res.err.Error()))
			a.Logger.Error().Err(res.err).Str("address", res.address).Msg("snapshot fetch failed")
			continue
		}

		writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "  Outpoint\tValue (sats)\tConfirmed")
		for _, out := range res.snap.Outputs() {
			confirmed := "mempool"
			if out.ConfirmedHeight != nil {
				confirmed = fmt.Sprintf("%d", *out.ConfirmedHeight)
			}
			fmt.Fprintf(writer, "  %s\t%d\t%s\n", out.OutPoint, out.ValueSats, confirmed)
		}
		writer.Flush()

		confirmedSats, unconfirmedSats := res.snap.SplitBalance()
		fmt.Fprintf(w, "  UTXOs: %d  Balance: %s\n", res.snap.Len(), alerting.FormatSats(res.snap.Balance()))
		if unconfirmedSats != 0 {
			fmt.Fprintf(w, "  Confirmed: %s  Unconfirmed: %s\n", alerting.FormatSats(confirmedSats), alerting.FormatSats(unconfirmedSats))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d snapshot fetches failed", failed, len(results))
	}
	return nil
}
