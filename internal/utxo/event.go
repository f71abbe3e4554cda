package utxo

import "fmt"

// Kind tags an Event.
type Kind int

const (
	// KindDeposit marks an output that appeared since the previous snapshot.
	KindDeposit Kind = iota + 1
	// KindWithdrawal marks an output that disappeared since the previous snapshot.
	KindWithdrawal
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindWithdrawal:
		return "withdrawal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps the textual form back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "deposit":
		return KindDeposit, nil
	case "withdrawal":
		return KindWithdrawal, nil
	default:
		return 0, fmt.Errorf("unknown event kind %q", s)
	}
}

// Event explains one difference between two snapshots of the same address.
type Event struct {
	Kind   Kind
	Output Output
}

// Deposit builds a deposit event.
func Deposit(out Output) Event {
	return Event{Kind: KindDeposit, Output: out}
}

// Withdrawal builds a withdrawal event.
func Withdrawal(out Output) Event {
	return Event{Kind: KindWithdrawal, Output: out}
}

// SignedValue is the balance delta the event stands for.
func (e Event) SignedValue() int64 {
	switch e.Kind {
	case KindDeposit:
		return e.Output.ValueSats
	case KindWithdrawal:
		return -e.Output.ValueSats
	default:
		return 0
	}
}

// Filter keeps the events whose kind is accepted by keep.
func Filter(events []Event, keep func(Kind) bool) []Event {
	kept := make([]Event, 0, len(events))
	for _, ev := range events {
		if keep(ev.Kind) {
			kept = append(kept, ev)
		}
	}
	return kept
}
