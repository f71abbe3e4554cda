package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"utxo-diff-alerts/internal/alerting"
	"utxo-diff-alerts/internal/config"
	"utxo-diff-alerts/internal/fetcher"
	"utxo-diff-alerts/internal/service"
	"utxo-diff-alerts/internal/subscription"
	"utxo-diff-alerts/internal/utxo"
)

// SimulateAlert pushes a fake deposit or withdrawal through a real poll cycle and the configured channels.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		return errors.New("no alerting channel configured")
	}
	return a.simulate(ctx, opts, notifier)
}

func (a *App) simulate(ctx context.Context, opts SimulateOptions, notifier alerting.Notifier) error {
	kind, err := utxo.ParseKind(opts.Kind)
	if err != nil {
		return err
	}
	if opts.ValueSats <= 0 {
		return errors.New("value must be greater than zero")
	}

	address := opts.Address
	if address == "" {
		if len(a.Config.Bitcoin.Addresses) == 0 {
			return errors.New("no address configured; pass --address")
		}
		address = a.Config.Bitcoin.Addresses[0]
	}
	if err := config.ValidateAddress(address, a.Config.Bitcoin.Network); err != nil {
		return err
	}

	txid := chainhash.DoubleHashH([]byte(fmt.Sprintf("simulate:%s:%d", address, time.Now().UnixNano())))
	out := utxo.Output{OutPoint: utxo.OutPoint{TxID: txid.String(), Vout: 0}, ValueSats: opts.ValueSats}

	before, after := utxo.NewSnapshot(), utxo.NewSnapshot(out)
	if kind == utxo.KindWithdrawal {
		before, after = after, before
	}

	gateway := &staticGateway{height: 1, snapshot: before}
	sub := subscription.New(address, a.Config.Bitcoin.Network, subscription.Flags{
		NotifyDeposit:    true,
		NotifyWithdrawal: true,
	})
	registry, err := subscription.NewRegistry(sub)
	if err != nil {
		return err
	}

	capture := &capturingNotifier{next: notifier}
	svc := service.New(a.Config, nil, gateway, registry, nil, capture, nil, a.Logger)
	if err := svc.Subscribe(ctx); err != nil {
		return err
	}

	gateway.set(2, after)
	if err := svc.ProcessTick(ctx); err != nil {
		return err
	}
	registry.StopAll(ctx)

	if capture.sent == 0 {
		return errors.New("simulated poll produced no notification")
	}
	if capture.err != nil {
		return capture.err
	}
	a.Logger.Info().Str("address", address).Str("kind", kind.String()).Int64("value_sats", opts.ValueSats).Msg("simulated alert delivered")
	return nil
}

type staticGateway struct {
	mu       sync.Mutex
	height   int64
	snapshot utxo.Snapshot
}

func (s *staticGateway) set(height int64, snap utxo.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = height
	s.snapshot = snap
}

func (s *staticGateway) CurrentHeight(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height, nil
}

func (s *staticGateway) Snapshot(context.Context, string) (utxo.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, nil
}

// capturingNotifier keeps the delivery outcome that the service only logs.
type capturingNotifier struct {
	next alerting.Notifier
	sent int
	err  error
}

func (c *capturingNotifier) Notify(ctx context.Context, msg alerting.Message) error {
	c.sent++
	err := c.next.Notify(ctx, msg)
	if err != nil {
		c.err = errors.Join(c.err, err)
	}
	return err
}

var _ fetcher.Gateway = (*staticGateway)(nil)
