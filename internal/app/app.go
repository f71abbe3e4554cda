package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"utxo-diff-alerts/internal/alerting"
	"utxo-diff-alerts/internal/config"
	"utxo-diff-alerts/internal/fetcher"
	"utxo-diff-alerts/internal/logging"
	"utxo-diff-alerts/internal/metrics"
	"utxo-diff-alerts/internal/scheduler"
	"utxo-diff-alerts/internal/service"
	"utxo-diff-alerts/internal/storage"
	"utxo-diff-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output. Defaults to stdout.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

func (a *App) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

func (a *App) newGateway() (*fetcher.Esplora, error) {
	baseURL, err := a.Config.ResolveEsploraURL()
	if err != nil {
		return nil, err
	}
	return fetcher.NewEsplora(fetcher.EsploraOptions{
		BaseURL:           baseURL,
		Timeout:           a.Config.Bitcoin.RequestTimeout,
		RequestsPerSecond: a.Config.Bitcoin.RequestsPerSecond,
		UserAgent:         version.UserAgent(),
	}, a.Logger), nil
}

// newNotifier builds one notifier per configured channel. It returns nil when no channel is set.
func (a *App) newNotifier() (alerting.Notifier, error) {
	var notifiers alerting.MultiNotifier
	for _, ch := range a.Config.Alerting.Channels {
		switch ch {
		case config.ChannelEmail:
			cfg := a.Config.Alerting.Email
			email, err := alerting.NewEmailNotifier(alerting.EmailOptions{
				Server:     cfg.SMTPServer,
				Port:       cfg.SMTPPort,
				Username:   cfg.Username,
				Password:   cfg.Password,
				From:       cfg.From,
				FromName:   cfg.FromName,
				Recipients: cfg.Recipients,
				Timeout:    cfg.Timeout,
				Insecure:   cfg.Insecure,
			}, a.Logger)
			if err != nil {
				return nil, err
			}
			notifiers = append(notifiers, email)
		case config.ChannelTelegram:
			cfg := a.Config.Alerting.Telegram
			notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
		default:
			return nil, fmt.Errorf("unknown alerting channel %q", ch)
		}
	}

	switch len(notifiers) {
	case 0:
		return nil, nil
	case 1:
		return notifiers[0], nil
	default:
		return notifiers, nil
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running watcher.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	gateway, err := a.newGateway()
	if err != nil {
		return err
	}
	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		a.Logger.Warn().Msg("no alerting channel configured; events will only be logged")
	}

	registry, err := service.NewRegistry(a.Config)
	if err != nil {
		return err
	}

	m := metrics.New()
	if addr := a.Config.Metrics.ListenAddress; addr != "" {
		go func() {
			if err := m.Serve(ctx, addr, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:        a.Config.Scheduler.Interval,
		ErrorRetryDelay: a.Config.Scheduler.ErrorRetryDelay,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var eventStore storage.EventStore
	if store != nil {
		eventStore = store
	}

	svc := service.New(a.Config, sched, gateway, registry, eventStore, notifier, m, a.Logger)

	a.Logger.Info().
		Str("network", a.Config.Bitcoin.Network).
		Int("addresses", registry.Len()).
		Msg("starting utxo watcher")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("utxo watcher stopped")
	return nil
}

// ExportOptions hold parameters for exporting the event history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Address   string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Address string
}

// SnapshotOptions configure the snapshot command.
type SnapshotOptions struct {
	// Addresses overrides the configured address list when set.
	Addresses []string
}

// SimulateOptions describe the movement to fake.
type SimulateOptions struct {
	Kind      string
	Address   string
	ValueSats int64
}
