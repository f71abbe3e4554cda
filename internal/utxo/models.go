package utxo

import (
	"cmp"
	"fmt"
	"slices"
)

// OutPoint identifies an output by the transaction that created it and its index.
type OutPoint struct {
	TxID string
	Vout uint32
}

// String renders the outpoint as txid:vout.
func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Vout)
}

// Compare orders outpoints by txid, then vout.
func (o OutPoint) Compare(other OutPoint) int {
	if c := cmp.Compare(o.TxID, other.TxID); c != 0 {
		return c
	}
	return cmp.Compare(o.Vout, other.Vout)
}

// Output is an unspent transaction output locked to a watched address.
type Output struct {
	OutPoint
	ValueSats int64
	// ConfirmedHeight is nil while the creating transaction sits in the mempool.
	ConfirmedHeight *int64
}

// Confirmed reports whether the output has been mined.
func (o Output) Confirmed() bool {
	return o.ConfirmedHeight != nil
}

// Snapshot is the set of outputs locked to one address at one observation.
// The zero value is an empty snapshot.
type Snapshot struct {
	outputs map[OutPoint]Output
}

// NewSnapshot builds a snapshot. When the same outpoint appears twice the first
// occurrence wins.
func NewSnapshot(outputs ...Output) Snapshot {
	set := make(map[OutPoint]Output, len(outputs))
	for _, out := range outputs {
		if _, dup := set[out.OutPoint]; dup {
			continue
		}
		set[out.OutPoint] = out
	}
	return Snapshot{outputs: set}
}

// Len returns the number of outputs.
func (s Snapshot) Len() int {
	return len(s.outputs)
}

// Contains reports whether the outpoint is part of the snapshot.
func (s Snapshot) Contains(op OutPoint) bool {
	_, ok := s.outputs[op]
	return ok
}

// Get returns the output stored under op.
func (s Snapshot) Get(op OutPoint) (Output, bool) {
	out, ok := s.outputs[op]
	return out, ok
}

// Outputs returns the outputs sorted by outpoint.
func (s Snapshot) Outputs() []Output {
	list := make([]Output, 0, len(s.outputs))
	for _, out := range s.outputs {
		list = append(list, out)
	}
	slices.SortFunc(list, func(a, b Output) int {
		return a.OutPoint.Compare(b.OutPoint)
	})
	return list
}

// Balance sums the value of every output.
func (s Snapshot) Balance() int64 {
	var total int64
	for _, out := range s.outputs {
		total += out.ValueSats
	}
	return total
}

// SplitBalance returns the confirmed and unconfirmed parts of the balance.
func (s Snapshot) SplitBalance() (confirmed, unconfirmed int64) {
	for _, out := range s.outputs {
		if out.Confirmed() {
			confirmed += out.ValueSats
		} else {
			unconfirmed += out.ValueSats
		}
	}
	return confirmed, unconfirmed
}

// Equal reports whether both snapshots hold the same set of outpoints.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.outputs) != len(other.outputs) {
		return false
	}
	for op := range s.outputs {
		if !other.Contains(op) {
			return false
		}
	}
	return true
}
