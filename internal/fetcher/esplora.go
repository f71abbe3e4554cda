package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"utxo-diff-alerts/internal/logging"
	"utxo-diff-alerts/internal/utxo"
)

const (
	tipHeightPath = "blocks/tip/height"
	maxBodyBytes  = 8 << 20
)

// EsploraOptions parameterise the Esplora REST fetcher.
type EsploraOptions struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// Esplora reads chain state from an Esplora-compatible API (mempool.space, blockstream.info, electrs).
type Esplora struct {
	opts    EsploraOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewEsplora constructs an Esplora fetcher.
func NewEsplora(opts EsploraOptions, logger zerolog.Logger) *Esplora {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://mempool.space/api"
	}

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = max(1, int(opts.RequestsPerSecond))
	}

	return &Esplora{
		opts:    opts,
		logger:  logging.Component(logger, "esplora_fetcher"),
		client:  &http.Client{Timeout: timeout, Transport: opts.Transport},
		baseURL: baseURL,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// CurrentHeight returns the height of the chain tip.
func (e *Esplora) CurrentHeight(ctx context.Context) (int64, error) {
	const op = "fetch tip height"

	body, err := e.get(ctx, op, tipHeightPath)
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, transient(op, fmt.Errorf("parse height: %w", err))
	}
	if height < 0 {
		return 0, transient(op, fmt.Errorf("negative height %d", height))
	}

	e.logger.Debug().Int64("height", height).Msg("fetched tip height")
	return height, nil
}

// Snapshot returns every output currently locked to address, mempool included.
func (e *Esplora) Snapshot(ctx context.Context, address string) (utxo.Snapshot, error) {
	const op = "fetch address utxos"

	if address == "" {
		return utxo.Snapshot{}, errors.New("address required")
	}

	body, err := e.get(ctx, op, "address/"+url.PathEscape(address)+"/utxo")
	if err != nil {
		return utxo.Snapshot{}, err
	}

	var entries []utxoEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return utxo.Snapshot{}, transient(op, fmt.Errorf("decode utxos: %w", err))
	}

	outputs := make([]utxo.Output, 0, len(entries))
	for _, entry := range entries {
		out, err := entry.toOutput()
		if err != nil {
			return utxo.Snapshot{}, transient(op, err)
		}
		outputs = append(outputs, out)
	}

	snapshot := utxo.NewSnapshot(outputs...)
	e.logger.Debug().Str("address", address).Int("utxos", snapshot.Len()).Msg("fetched address utxos")
	return snapshot, nil
}

func (e *Esplora) get(ctx context.Context, op, path string) ([]byte, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, transient(op, err)
	}

	endpoint, err := url.JoinPath(e.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("%s: build url: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	if ua := strings.TrimSpace(e.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "utxowatcher/1.0")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, transient(op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transient(op, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &TransientFetchError{Op: op, Status: resp.StatusCode, Err: parseHTTPError(payload)}
	}

	return payload, nil
}

type utxoEntry struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight int64  `json:"block_height"`
		BlockHash   string `json:"block_hash"`
		BlockTime   int64  `json:"block_time"`
	} `json:"status"`
}

func (u utxoEntry) toOutput() (utxo.Output, error) {
	if len(u.TxID) != chainhash.MaxHashStringSize {
		return utxo.Output{}, fmt.Errorf("malformed txid %q", u.TxID)
	}
	hash, err := chainhash.NewHashFromStr(u.TxID)
	if err != nil {
		return utxo.Output{}, fmt.Errorf("malformed txid %q: %w", u.TxID, err)
	}
	if u.Value < 0 {
		return utxo.Output{}, fmt.Errorf("negative value for %s:%d", u.TxID, u.Vout)
	}

	out := utxo.Output{
		OutPoint:  utxo.OutPoint{TxID: hash.String(), Vout: u.Vout},
		ValueSats: u.Value,
	}
	if u.Status.Confirmed {
		height := u.Status.BlockHeight
		out.ConfirmedHeight = &height
	}
	return out, nil
}

func parseHTTPError(payload []byte) error {
	msg := strings.TrimSpace(string(payload))
	if msg == "" {
		return errors.New("esplora api error")
	}
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return fmt.Errorf("esplora api error: %s", msg)
}

var _ Gateway = (*Esplora)(nil)
