package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"utxo-diff-alerts/internal/utxo"
)

// PollRecord is everything one successful poll of an address produced.
type PollRecord struct {
	Address  string
	Network  string
	Height   int64
	Snapshot utxo.Snapshot
	Events   []utxo.Event
}

// EventRecord is a persisted deposit or withdrawal.
type EventRecord struct {
	ID              int64
	Address         string
	Network         string
	Kind            utxo.Kind
	TxID            string
	Vout            uint32
	ValueSats       int64
	ConfirmedHeight *int64
	Height          int64
	CreatedAt       time.Time
}

// SignedValue is the balance delta of the record.
func (r EventRecord) SignedValue() int64 {
	if r.Kind == utxo.KindWithdrawal {
		return -r.ValueSats
	}
	return r.ValueSats
}

type storedOutput struct {
	TxID            string `json:"txid"`
	Vout            uint32 `json:"vout"`
	ValueSats       int64  `json:"value"`
	ConfirmedHeight *int64 `json:"confirmed_height,omitempty"`
}

func encodeSnapshot(s utxo.Snapshot) ([]byte, error) {
	outputs := s.Outputs()
	stored := make([]storedOutput, 0, len(outputs))
	for _, out := range outputs {
		stored = append(stored, storedOutput{
			TxID:            out.TxID,
			Vout:            out.Vout,
			ValueSats:       out.ValueSats,
			ConfirmedHeight: out.ConfirmedHeight,
		})
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

func decodeSnapshot(raw []byte) (utxo.Snapshot, error) {
	var stored []storedOutput
	if err := json.Unmarshal(raw, &stored); err != nil {
		return utxo.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	outputs := make([]utxo.Output, 0, len(stored))
	for _, s := range stored {
		outputs = append(outputs, utxo.Output{
			OutPoint:        utxo.OutPoint{TxID: s.TxID, Vout: s.Vout},
			ValueSats:       s.ValueSats,
			ConfirmedHeight: s.ConfirmedHeight,
		})
	}
	return utxo.NewSnapshot(outputs...), nil
}
