package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utxo-diff-alerts/internal/config"
	"utxo-diff-alerts/internal/utxo"
)

func TestSnapshotEncoding(t *testing.T) {
	height := int64(900001)
	snap := utxo.NewSnapshot(
		utxo.Output{OutPoint: utxo.OutPoint{TxID: "bb", Vout: 1}, ValueSats: 20_000},
		utxo.Output{OutPoint: utxo.OutPoint{TxID: "aa", Vout: 0}, ValueSats: 10_000, ConfirmedHeight: &height},
	)

	raw, err := encodeSnapshot(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"txid":"aa","vout":0,"value":10000,"confirmed_height":900001},
		{"txid":"bb","vout":1,"value":20000}
	]`, string(raw))

	decoded, err := decodeSnapshot(raw)
	require.NoError(t, err)
	assert.True(t, snap.Equal(decoded))

	empty, err := encodeSnapshot(utxo.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	_, err := decodeSnapshot([]byte(`{"txid":`))
	require.Error(t, err)
}

func TestEventRecordSignedValue(t *testing.T) {
	assert.Equal(t, int64(500), EventRecord{Kind: utxo.KindDeposit, ValueSats: 500}.SignedValue())
	assert.Equal(t, int64(-500), EventRecord{Kind: utxo.KindWithdrawal, ValueSats: 500}.SignedValue())
}

func TestUnconfiguredStore(t *testing.T) {
	var store *Store
	ctx := context.Background()

	_, _, _, err := store.LoadSnapshot(ctx, "addr", "mainnet")
	assert.True(t, errors.Is(err, ErrNotConfigured))

	err = store.RecordPoll(ctx, PollRecord{Address: "addr"})
	assert.True(t, errors.Is(err, ErrNotConfigured))

	_, err = store.ListEventsBetween(ctx, "", time.Now().Add(-time.Hour), time.Now())
	assert.True(t, errors.Is(err, ErrNotConfigured))

	_, _, err = store.TryAdvisoryLock(ctx, 1)
	assert.True(t, errors.Is(err, ErrNotConfigured))

	store.Close()
}

func TestNewPoolRequiresDSN(t *testing.T) {
	_, err := NewPool(context.Background(), config.DatabaseConfig{})
	require.Error(t, err)
}
