package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"utxo-diff-alerts/internal/alerting"
	"utxo-diff-alerts/internal/config"
	"utxo-diff-alerts/internal/fetcher"
	"utxo-diff-alerts/internal/logging"
	"utxo-diff-alerts/internal/metrics"
	"utxo-diff-alerts/internal/scheduler"
	"utxo-diff-alerts/internal/storage"
	"utxo-diff-alerts/internal/subscription"
	"utxo-diff-alerts/internal/utxo"
)

const (
	opHeight = "height"
	opUTXO   = "utxo"
)

// Service owns the subscriptions and runs their poll cycles.
type Service struct {
	scheduler *scheduler.Scheduler
	gateway   fetcher.Gateway
	registry  *subscription.Registry
	events    storage.EventStore
	snapshots storage.SnapshotStore
	notifier  alerting.Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	concurrency int
	retryCap    time.Duration
	locker      storage.AdvisoryLocker
	lockKey     int64
}

// New constructs the watcher service. store and notifier may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, gateway fetcher.Gateway, registry *subscription.Registry, store storage.EventStore, notifier alerting.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	var (
		snapshots storage.SnapshotStore
		locker    storage.AdvisoryLocker
	)
	if s, ok := store.(storage.SnapshotStore); ok {
		snapshots = s
	}
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	if m == nil {
		m = metrics.New()
	}

	concurrency := cfg.Scheduler.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	retryCap := cfg.Scheduler.ErrorRetryDelay
	if retryCap <= 0 {
		retryCap = cfg.Scheduler.Interval
	}

	return &Service{
		scheduler:   sched,
		gateway:     gateway,
		registry:    registry,
		events:      store,
		snapshots:   snapshots,
		notifier:    notifier,
		metrics:     m,
		logger:      logging.Component(logger, "service"),
		concurrency: concurrency,
		retryCap:    retryCap,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
	}
}

// NewRegistry creates one subscription per configured address with the global flags.
func NewRegistry(cfg *config.Config) (*subscription.Registry, error) {
	flags := subscription.Flags{
		NotifySubscribe:  cfg.Alerting.NotifySubscriptions,
		NotifyDeposit:    cfg.Alerting.NotifyDeposits,
		NotifyWithdrawal: cfg.Alerting.NotifyWithdrawals,
	}
	subs := make([]*subscription.Subscription, 0, len(cfg.Bitcoin.Addresses))
	for _, addr := range cfg.Bitcoin.Addresses {
		subs = append(subs, subscription.New(addr, cfg.Bitcoin.Network, flags))
	}
	return subscription.NewRegistry(subs...)
}

// Run subscribes every address and then polls until ctx is cancelled.
// All subscriptions are terminated on return.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	defer s.registry.StopAll(ctx)

	if err := s.Subscribe(ctx); err != nil {
		return err
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// Subscribe initialises every subscription from storage or from a fresh fetch.
// Fetches retry with exponential backoff until they succeed or ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context) error {
	tip := int64(-1)
	tipHeight := func() (int64, error) {
		if tip >= 0 {
			return tip, nil
		}
		height, err := retry(ctx, s, opHeight, "", func() (int64, error) {
			return s.gateway.CurrentHeight(ctx)
		})
		if err != nil {
			return 0, err
		}
		tip = height
		s.metrics.TipHeight.Set(float64(tip))
		return tip, nil
	}

	for _, sub := range s.registry.All() {
		if sub.State() != subscription.StateUninitialized {
			continue
		}
		if ok, err := s.resume(ctx, sub); err != nil {
			return err
		} else if ok {
			continue
		}

		height, err := tipHeight()
		if err != nil {
			return err
		}
		if err := s.subscribeFresh(ctx, sub, height); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) resume(ctx context.Context, sub *subscription.Subscription) (bool, error) {
	if s.snapshots == nil {
		return false, nil
	}
	log := s.logger.With().Str("address", sub.Address()).Logger()

	snap, height, found, err := s.snapshots.LoadSnapshot(ctx, sub.Address(), sub.Network())
	if err != nil {
		log.Warn().Err(err).Msg("load stored snapshot failed, subscribing fresh")
		return false, nil
	}
	if !found {
		return false, nil
	}

	if err := sub.Subscribe(ctx, snap, height); err != nil {
		return false, err
	}
	s.observe(sub)
	log.Info().Int64("height", height).Int("utxos", snap.Len()).Msg("resumed subscription from storage")
	s.confirm(ctx, sub)
	return true, nil
}

func (s *Service) subscribeFresh(ctx context.Context, sub *subscription.Subscription, height int64) error {
	snap, err := retry(ctx, s, opUTXO, sub.Address(), func() (utxo.Snapshot, error) {
		return s.gateway.Snapshot(ctx, sub.Address())
	})
	if err != nil {
		return err
	}

	if err := sub.Subscribe(ctx, snap, height); err != nil {
		return err
	}
	s.observe(sub)
	s.logger.Info().
		Str("address", sub.Address()).
		Int64("height", height).
		Int("utxos", snap.Len()).
		Int64("balance_sats", snap.Balance()).
		Msg("subscribed")

	if s.snapshots != nil {
		if err := s.snapshots.SaveSnapshot(ctx, sub.Address(), sub.Network(), snap, height); err != nil {
			s.logger.Error().Err(err).Str("address", sub.Address()).Msg("failed to persist baseline snapshot")
		}
	}
	s.confirm(ctx, sub)
	return nil
}

func (s *Service) confirm(ctx context.Context, sub *subscription.Subscription) {
	if !sub.Flags().NotifySubscribe {
		return
	}
	s.deliver(ctx, alerting.SubscriptionConfirmed(sub.Address(), sub.Network(), sub.Height()))
}

// retry runs fn with exponential backoff capped at the error retry delay.
func retry[T any](ctx context.Context, s *Service, op, address string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	if b.InitialInterval > s.retryCap {
		b.InitialInterval = s.retryCap
	}
	b.MaxInterval = s.retryCap
	b.MaxElapsedTime = 0

	var out T
	err := backoff.RetryNotify(func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		s.metrics.FetchErrors.WithLabelValues(op).Inc()
		s.logger.Warn().Err(err).Str("op", op).Str("address", address).Dur("retry_in", next).Msg("initial fetch failed")
	})
	if err != nil {
		return out, fmt.Errorf("initial %s fetch: %w", op, err)
	}
	return out, nil
}

// ProcessTick polls every subscription whose stored height is behind the chain tip.
func (s *Service) ProcessTick(ctx context.Context) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	start := time.Now()
	defer func() { s.metrics.PollDuration.Observe(time.Since(start).Seconds()) }()

	tip, err := s.gateway.CurrentHeight(ctx)
	if err != nil {
		s.metrics.FetchErrors.WithLabelValues(opHeight).Inc()
		return fmt.Errorf("fetch tip height: %w", err)
	}
	s.metrics.TipHeight.Set(float64(tip))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, sub := range s.registry.All() {
		sub := sub
		if err := sub.BeginPolling(ctx); err != nil {
			if !errors.Is(err, subscription.ErrTerminated) {
				s.logger.Error().Err(err).Str("address", sub.Address()).Msg("subscription not ready for polling")
			}
			continue
		}
		if tip <= sub.Height() {
			continue
		}
		g.Go(func() error {
			s.pollAddress(ctx, sub, tip)
			return nil
		})
	}
	return g.Wait()
}

// pollAddress runs one fetch, diff, notify and replace cycle. Failures leave the
// subscription untouched so the next tick retries from its last good state.
func (s *Service) pollAddress(ctx context.Context, sub *subscription.Subscription, tip int64) {
	log := s.logger.With().Str("address", sub.Address()).Int64("height", tip).Logger()
	if !sub.TryAcquire() {
		log.Debug().Msg("poll already in flight")
		return
	}
	defer sub.Release()

	previous, _ := sub.Snapshot()
	current, err := s.gateway.Snapshot(ctx, sub.Address())
	if err != nil {
		s.metrics.FetchErrors.WithLabelValues(opUTXO).Inc()
		s.metrics.Polls.WithLabelValues(metrics.ResultError).Inc()
		log.Warn().Err(err).Msg("utxo fetch failed, retrying next tick")
		return
	}

	events := utxo.Diff(previous, current)
	for _, ev := range events {
		s.metrics.Events.WithLabelValues(ev.Kind.String()).Inc()
		log.Info().
			Str("kind", ev.Kind.String()).
			Str("outpoint", ev.Output.String()).
			Int64("value_sats", ev.Output.ValueSats).
			Msg("utxo event detected")
	}

	if wanted := utxo.Filter(events, sub.Flags().Wants); len(wanted) > 0 {
		s.deliver(ctx, alerting.EventsDetected(sub.Address(), sub.Network(), tip, wanted))
	}

	if err := sub.Advance(current, tip); err != nil {
		s.metrics.Polls.WithLabelValues(metrics.ResultError).Inc()
		log.Error().Err(err).Msg("failed to advance subscription")
		return
	}
	s.observe(sub)

	if s.events != nil {
		rec := storage.PollRecord{
			Address:  sub.Address(),
			Network:  sub.Network(),
			Height:   tip,
			Snapshot: current,
			Events:   events,
		}
		if err := s.events.RecordPoll(ctx, rec); err != nil {
			log.Error().Err(err).Msg("failed to record poll")
		}
	}

	result := metrics.ResultOK
	if len(events) == 0 {
		result = metrics.ResultUnchanged
	}
	s.metrics.Polls.WithLabelValues(result).Inc()
	log.Debug().Int("events", len(events)).Int("utxos", current.Len()).Msg("poll complete")
}

func (s *Service) deliver(ctx context.Context, msg alerting.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.metrics.DeliveryErrors.Inc()
		s.logger.Error().Err(err).
			Str("address", msg.Address).
			Str("message", msg.Kind.String()).
			Msg("failed to dispatch notification")
	}
}

func (s *Service) observe(sub *subscription.Subscription) {
	snap, height := sub.Snapshot()
	s.metrics.SubscriptionHeight.WithLabelValues(sub.Address()).Set(float64(height))
	s.metrics.UTXOCount.WithLabelValues(sub.Address()).Set(float64(snap.Len()))
	s.metrics.BalanceSats.WithLabelValues(sub.Address()).Set(float64(snap.Balance()))
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
