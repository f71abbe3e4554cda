package fetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utxo-diff-alerts/internal/utxo"
)

const (
	testBaseURL = "https://esplora.test/api"
	testAddress = "bc1qc86e5rpn2f2m6d76tzeq7hmz53cx08hqw8uhl7"
	testTxID    = "33aeb7af5ff454dbbdc65c8229b13b2c101978976df655ae43ab8d467b5c8b9e"
)

func newTestEsplora(t *testing.T) (*Esplora, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	e := NewEsplora(EsploraOptions{
		BaseURL:   testBaseURL + "/",
		Timeout:   time.Second,
		Transport: transport,
	}, noopLogger())
	return e, transport
}

func TestCurrentHeight(t *testing.T) {
	e, transport := newTestEsplora(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/blocks/tip/height",
		httpmock.NewStringResponder(http.StatusOK, "900009\n"))

	height, err := e.CurrentHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(900009), height)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestCurrentHeightMalformed(t *testing.T) {
	e, transport := newTestEsplora(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/blocks/tip/height",
		httpmock.NewStringResponder(http.StatusOK, "<html>"))

	_, err := e.CurrentHeight(context.Background())
	var fetchErr *TransientFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, "fetch tip height", fetchErr.Op)
}

func TestCurrentHeightServiceError(t *testing.T) {
	e, transport := newTestEsplora(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/blocks/tip/height",
		httpmock.NewStringResponder(http.StatusTooManyRequests, "rate limited"))

	_, err := e.CurrentHeight(context.Background())
	var fetchErr *TransientFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusTooManyRequests, fetchErr.Status)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestCurrentHeightTransportFailure(t *testing.T) {
	e, transport := newTestEsplora(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/blocks/tip/height",
		httpmock.NewErrorResponder(errors.New("connection reset")))

	_, err := e.CurrentHeight(context.Background())
	var fetchErr *TransientFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Zero(t, fetchErr.Status)
}

func TestSnapshot(t *testing.T) {
	e, transport := newTestEsplora(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/address/"+testAddress+"/utxo",
		httpmock.NewStringResponder(http.StatusOK, `[
			{"txid":"`+testTxID+`","vout":0,"status":{"confirmed":true,"block_height":900001,"block_hash":"00","block_time":1},"value":50000},
			{"txid":"`+testTxID+`","vout":1,"status":{"confirmed":false},"value":1337}
		]`))

	snap, err := e.Snapshot(context.Background(), testAddress)
	require.NoError(t, err)
	require.Equal(t, 2, snap.Len())

	confirmed, ok := snap.Get(utxo.OutPoint{TxID: testTxID, Vout: 0})
	require.True(t, ok)
	require.NotNil(t, confirmed.ConfirmedHeight)
	assert.Equal(t, int64(900001), *confirmed.ConfirmedHeight)
	assert.Equal(t, int64(50000), confirmed.ValueSats)

	pending, ok := snap.Get(utxo.OutPoint{TxID: testTxID, Vout: 1})
	require.True(t, ok)
	assert.False(t, pending.Confirmed())
	assert.Equal(t, int64(51337), snap.Balance())
}

func TestSnapshotEmpty(t *testing.T) {
	e, transport := newTestEsplora(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/address/"+testAddress+"/utxo",
		httpmock.NewStringResponder(http.StatusOK, `[]`))

	snap, err := e.Snapshot(context.Background(), testAddress)
	require.NoError(t, err)
	assert.Zero(t, snap.Len())
}

func TestSnapshotRejectsMalformedTxID(t *testing.T) {
	e, transport := newTestEsplora(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/address/"+testAddress+"/utxo",
		httpmock.NewStringResponder(http.StatusOK, `[{"txid":"abcd","vout":0,"status":{"confirmed":false},"value":1}]`))

	_, err := e.Snapshot(context.Background(), testAddress)
	var fetchErr *TransientFetchError
	require.True(t, errors.As(err, &fetchErr))
}

func TestSnapshotBadAddressStatus(t *testing.T) {
	e, transport := newTestEsplora(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/address/"+testAddress+"/utxo",
		httpmock.NewStringResponder(http.StatusBadRequest, "Invalid Bitcoin address"))

	_, err := e.Snapshot(context.Background(), testAddress)
	var fetchErr *TransientFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusBadRequest, fetchErr.Status)
}

func TestCancelledContext(t *testing.T) {
	e, transport := newTestEsplora(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/blocks/tip/height",
		httpmock.NewStringResponder(http.StatusOK, "1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.CurrentHeight(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}
