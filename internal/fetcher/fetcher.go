package fetcher

import (
	"context"
	"fmt"

	"utxo-diff-alerts/internal/utxo"
)

// Gateway supplies the chain tip and the UTXO set of an address.
type Gateway interface {
	CurrentHeight(ctx context.Context) (int64, error)
	Snapshot(ctx context.Context, address string) (utxo.Snapshot, error)
}

// TransientFetchError wraps network, timeout and service-side failures.
// Callers retry on the next tick.
type TransientFetchError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

func transient(op string, err error) error {
	return &TransientFetchError{Op: op, Err: err}
}
