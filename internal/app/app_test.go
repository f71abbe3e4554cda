package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utxo-diff-alerts/internal/alerting"
	"utxo-diff-alerts/internal/config"
	"utxo-diff-alerts/internal/storage"
	"utxo-diff-alerts/internal/utxo"
)

const (
	addrA = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
	addrB = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
)

func testApp(out *bytes.Buffer) *App {
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{
			Interval:        30 * time.Second,
			ErrorRetryDelay: 10 * time.Millisecond,
			MaxConcurrency:  2,
		},
		Bitcoin: config.BitcoinConfig{
			Network:   config.NetworkMainnet,
			Addresses: []string{addrA},
		},
		Export: config.ExportConfig{MaxDataPoints: 100},
	}
	app := NewApp(cfg, zerolog.Nop())
	app.Out = out
	return app
}

type recordingNotifier struct {
	messages []alerting.Message
	err      error
}

func (r *recordingNotifier) Notify(_ context.Context, msg alerting.Message) error {
	r.messages = append(r.messages, msg)
	return r.err
}

func TestSimulateDeposit(t *testing.T) {
	app := testApp(&bytes.Buffer{})
	notifier := &recordingNotifier{}

	err := app.simulate(context.Background(), SimulateOptions{Kind: "deposit", ValueSats: 21_000}, notifier)
	require.NoError(t, err)

	require.Len(t, notifier.messages, 1)
	msg := notifier.messages[0]
	assert.Equal(t, alerting.MessageEventsDetected, msg.Kind)
	assert.Equal(t, addrA, msg.Address)
	require.Len(t, msg.Events, 1)
	assert.Equal(t, utxo.KindDeposit, msg.Events[0].Kind)
	assert.Equal(t, int64(21_000), msg.Events[0].Output.ValueSats)
	assert.Len(t, msg.Events[0].Output.TxID, 64)
}

func TestSimulateWithdrawalSurfacesDeliveryError(t *testing.T) {
	app := testApp(&bytes.Buffer{})
	notifier := &recordingNotifier{err: &alerting.DeliveryError{Channel: "telegram", Err: errors.New("chat not found")}}

	err := app.simulate(context.Background(), SimulateOptions{Kind: "withdrawal", Address: addrB, ValueSats: 5}, notifier)
	var delivery *alerting.DeliveryError
	require.True(t, errors.As(err, &delivery))

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, addrB, notifier.messages[0].Address)
	assert.Equal(t, utxo.KindWithdrawal, notifier.messages[0].Events[0].Kind)
}

func TestSimulateRejectsBadInput(t *testing.T) {
	app := testApp(&bytes.Buffer{})
	ctx := context.Background()

	require.Error(t, app.simulate(ctx, SimulateOptions{Kind: "reorg", ValueSats: 1}, &recordingNotifier{}))
	require.Error(t, app.simulate(ctx, SimulateOptions{Kind: "deposit", ValueSats: 0}, &recordingNotifier{}))
	require.Error(t, app.simulate(ctx, SimulateOptions{Kind: "deposit", Address: "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", ValueSats: 1}, &recordingNotifier{}))
}

type fixedGateway struct {
	snapshots map[string]utxo.Snapshot
	failing   map[string]error
}

func (f *fixedGateway) CurrentHeight(context.Context) (int64, error) {
	return 900_000, nil
}

func (f *fixedGateway) Snapshot(_ context.Context, address string) (utxo.Snapshot, error) {
	if err := f.failing[address]; err != nil {
		return utxo.Snapshot{}, err
	}
	return f.snapshots[address], nil
}

func TestPrintSnapshots(t *testing.T) {
	out := &bytes.Buffer{}
	app := testApp(out)

	height := int64(899_990)
	gw := &fixedGateway{
		snapshots: map[string]utxo.Snapshot{
			addrA: utxo.NewSnapshot(
				utxo.Output{OutPoint: utxo.OutPoint{TxID: "aa", Vout: 0}, ValueSats: 100_000_000, ConfirmedHeight: &height},
				utxo.Output{OutPoint: utxo.OutPoint{TxID: "bb", Vout: 3}, ValueSats: 1_337},
			),
		},
		failing: map[string]error{addrB: errors.New("status 429")},
	}

	err := app.printSnapshots(context.Background(), gw, []string{addrA, addrB})
	require.Error(t, err)

	text := out.String()
	assert.Contains(t, text, "Height: 900000")
	assert.Contains(t, text, "aa:0")
	assert.Contains(t, text, "mempool")
	assert.Contains(t, text, "Balance: 100,001,337 sats (1.00001337 BTC)")
	assert.Contains(t, text, "Unconfirmed: 1,337 sats")
	assert.Contains(t, text, "error: status 429")
}

func TestPrintEvents(t *testing.T) {
	out := &bytes.Buffer{}
	app := testApp(out)

	app.printEvents(nil)
	assert.Equal(t, "no events found\n", out.String())

	out.Reset()
	app.printEvents([]storage.EventRecord{{
		Address:   addrA,
		Kind:      utxo.KindWithdrawal,
		TxID:      "cc",
		Vout:      1,
		ValueSats: 700,
		Height:    12,
		CreatedAt: time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC),
	}})
	assert.Contains(t, out.String(), "2024-04-20T00:00:00Z")
	assert.Contains(t, out.String(), "cc:1")
	assert.Contains(t, out.String(), "-700")
}

func sampleEvents() []storage.EventRecord {
	base := time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC)
	return []storage.EventRecord{
		{Address: addrA, Network: "mainnet", Kind: utxo.KindDeposit, TxID: "aa", ValueSats: 50_000, Height: 10, CreatedAt: base},
		{Address: addrA, Network: "mainnet", Kind: utxo.KindDeposit, TxID: "bb", Vout: 1, ValueSats: 30_000, Height: 11, CreatedAt: base.Add(10 * time.Minute)},
		{Address: addrA, Network: "mainnet", Kind: utxo.KindWithdrawal, TxID: "aa", ValueSats: 50_000, Height: 12, CreatedAt: base.Add(20 * time.Minute)},
	}
}

func TestCumulativeFlow(t *testing.T) {
	flow := cumulativeFlow(sampleEvents())
	require.Len(t, flow, 3)
	assert.Equal(t, []int64{50_000, 80_000, 30_000}, []int64{flow[0].NetSats, flow[1].NetSats, flow[2].NetSats})
}

func TestDownsample(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.Equal(t, []int{0, 5, 9}, downsample(items, 3))
	assert.Equal(t, items, downsample(items, 20))
}

func TestWriteExports(t *testing.T) {
	dir := t.TempDir()
	events := sampleEvents()
	flow := cumulativeFlow(events)

	csvPath := filepath.Join(dir, "out", "events.csv")
	require.NoError(t, writeEventsCSV(csvPath, events, flow))

	file, err := os.Open(csvPath)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "net_flow_sats", rows[0][9])
	assert.Equal(t, []string{"2024-04-20T00:20:00Z", addrA, "mainnet", "withdrawal", "aa", "0", "50000", "", "12", "30000"}, rows[3])

	pngPath := filepath.Join(dir, "flow.png")
	from := events[0].CreatedAt.Add(-time.Hour)
	to := events[2].CreatedAt.Add(time.Hour)
	require.NoError(t, writeFlowPNG(pngPath, flow, from, to))
	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestNewNotifierChannels(t *testing.T) {
	app := testApp(&bytes.Buffer{})

	n, err := app.newNotifier()
	require.NoError(t, err)
	assert.Nil(t, n)

	app.Config.Alerting.Channels = []string{config.ChannelEmail, config.ChannelTelegram}
	app.Config.Alerting.Email = config.EmailConfig{
		SMTPServer: "smtp.example.com",
		SMTPPort:   587,
		Username:   "smaug@example.com",
		Recipients: []string{"ops@example.com"},
	}
	app.Config.Alerting.Telegram = config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c"}

	n, err = app.newNotifier()
	require.NoError(t, err)
	multi, ok := n.(alerting.MultiNotifier)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}

func TestShowAndExportRequireDatabase(t *testing.T) {
	app := testApp(&bytes.Buffer{})
	ctx := context.Background()

	require.Error(t, app.Show(ctx, ShowOptions{Limit: 5}))
	require.Error(t, app.Export(ctx, ExportOptions{CSVPath: "x.csv"}))
	require.Error(t, app.Export(ctx, ExportOptions{}))
}
