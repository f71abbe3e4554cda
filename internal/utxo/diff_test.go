package utxo

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	txA = "33aeb7af5ff454dbbdc65c8229b13b2c101978976df655ae43ab8d467b5c8b9e"
	txB = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	txC = "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16"
)

func out(txid string, vout uint32, sats int64) Output {
	return Output{OutPoint: OutPoint{TxID: txid, Vout: vout}, ValueSats: sats}
}

func confirmedAt(o Output, height int64) Output {
	o.ConfirmedHeight = &height
	return o
}

func TestDiffDeposit(t *testing.T) {
	a := out(txA, 0, 50_000)
	b := out(txB, 1, 30_000)

	events := Diff(NewSnapshot(a), NewSnapshot(a, b))

	require.Len(t, events, 1)
	assert.Equal(t, KindDeposit, events[0].Kind)
	assert.Equal(t, b, events[0].Output)
	assert.Equal(t, int64(30_000), events[0].SignedValue())
}

func TestDiffWithdrawal(t *testing.T) {
	a := out(txA, 0, 50_000)
	b := out(txB, 1, 30_000)

	events := Diff(NewSnapshot(a, b), NewSnapshot(b))

	require.Len(t, events, 1)
	assert.Equal(t, KindWithdrawal, events[0].Kind)
	assert.Equal(t, a, events[0].Output)
	assert.Equal(t, int64(-50_000), events[0].SignedValue())
}

func TestDiffFromEmptyReportsEverythingAsDeposit(t *testing.T) {
	a := out(txA, 0, 1_000_000)

	events := Diff(Snapshot{}, NewSnapshot(a))

	require.Len(t, events, 1)
	assert.Equal(t, Deposit(a), events[0])
}

func TestDiffIgnoresConfirmationChange(t *testing.T) {
	pending := out(txA, 0, 5_000)
	mined := confirmedAt(pending, 900_009)

	assert.Empty(t, Diff(NewSnapshot(pending), NewSnapshot(mined)))
}

func TestDiffOrdering(t *testing.T) {
	prev := NewSnapshot(out(txC, 0, 1), out(txA, 3, 2))
	curr := NewSnapshot(out(txB, 2, 3), out(txB, 0, 4), out(txA, 9, 5))

	events := Diff(prev, curr)

	got := make([]string, 0, len(events))
	for _, ev := range events {
		got = append(got, ev.Kind.String()+" "+ev.Output.OutPoint.String())
	}
	assert.Equal(t, []string{
		"deposit " + txA + ":9",
		"deposit " + txB + ":0",
		"deposit " + txB + ":2",
		"withdrawal " + txA + ":3",
		"withdrawal " + txC + ":0",
	}, got)
}

func TestDiffSameSnapshotIsEmpty(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := randomSnapshot(rand.New(rand.NewSource(int64(i))))
		assert.Empty(t, Diff(s, s))
	}
}

func TestDiffSymmetry(t *testing.T) {
	for i := 0; i < 50; i++ {
		rng := rand.New(rand.NewSource(int64(i)))
		a, b := randomSnapshot(rng), randomSnapshot(rng)

		forward := Diff(a, b)
		backward := Diff(b, a)
		require.Len(t, backward, len(forward))

		swapped := make(map[OutPoint]Kind, len(backward))
		for _, ev := range backward {
			swapped[ev.Output.OutPoint] = ev.Kind
		}
		for _, ev := range forward {
			kind, ok := swapped[ev.Output.OutPoint]
			require.True(t, ok, "missing %s", ev.Output.OutPoint)
			assert.NotEqual(t, ev.Kind, kind)
		}
	}
}

func TestDiffPartitionCompleteness(t *testing.T) {
	for i := 0; i < 50; i++ {
		rng := rand.New(rand.NewSource(int64(i)))
		a, b := randomSnapshot(rng), randomSnapshot(rng)

		seen := make(map[OutPoint]int)
		for _, ev := range Diff(a, b) {
			seen[ev.Output.OutPoint]++
			switch ev.Kind {
			case KindDeposit:
				assert.True(t, b.Contains(ev.Output.OutPoint))
				assert.False(t, a.Contains(ev.Output.OutPoint))
			case KindWithdrawal:
				assert.True(t, a.Contains(ev.Output.OutPoint))
				assert.False(t, b.Contains(ev.Output.OutPoint))
			default:
				t.Fatalf("unexpected kind %v", ev.Kind)
			}
		}

		for _, o := range append(a.Outputs(), b.Outputs()...) {
			inBoth := a.Contains(o.OutPoint) && b.Contains(o.OutPoint)
			if inBoth {
				assert.Zero(t, seen[o.OutPoint])
			} else {
				assert.Equal(t, 1, seen[o.OutPoint])
			}
		}
	}
}

func TestNewSnapshotKeepsFirstDuplicate(t *testing.T) {
	first := out(txA, 0, 10)
	second := out(txA, 0, 20)

	s := NewSnapshot(first, second)

	require.Equal(t, 1, s.Len())
	got, ok := s.Get(first.OutPoint)
	require.True(t, ok)
	assert.Equal(t, int64(10), got.ValueSats)
}

func TestSnapshotBalances(t *testing.T) {
	s := NewSnapshot(confirmedAt(out(txA, 0, 700), 10), out(txB, 0, 300))

	confirmed, unconfirmed := s.SplitBalance()
	assert.Equal(t, int64(1000), s.Balance())
	assert.Equal(t, int64(700), confirmed)
	assert.Equal(t, int64(300), unconfirmed)
	assert.True(t, s.Equal(NewSnapshot(out(txA, 0, 1), out(txB, 0, 1))))
	assert.False(t, s.Equal(NewSnapshot(out(txA, 0, 700))))
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindDeposit, KindWithdrawal} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("transfer")
	assert.Error(t, err)
}

func randomSnapshot(rng *rand.Rand) Snapshot {
	txids := []string{txA, txB, txC}
	n := rng.Intn(8)
	outputs := make([]Output, 0, n)
	for i := 0; i < n; i++ {
		txid := txids[rng.Intn(len(txids))]
		outputs = append(outputs, out(txid, uint32(rng.Intn(4)), int64(rng.Intn(100_000)+1)))
	}
	return NewSnapshot(outputs...)
}

func ExampleDiff() {
	prev := NewSnapshot(out(txA, 0, 50_000))
	curr := NewSnapshot(out(txA, 0, 50_000), out(txB, 0, 30_000))
	for _, ev := range Diff(prev, curr) {
		fmt.Println(ev.Kind, ev.Output.ValueSats)
	}
	// Output: deposit 30000
}
