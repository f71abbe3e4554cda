package utxo

// Diff explains how previous turned into current.
//
// Outputs only in current become deposits, outputs only in previous become
// withdrawals. Identity is the outpoint; an output whose confirmation status
// changed but which is present in both snapshots yields nothing. Deposits come
// first, then withdrawals, each sorted by outpoint.
func Diff(previous, current Snapshot) []Event {
	events := make([]Event, 0)

	for _, out := range current.Outputs() {
		if !previous.Contains(out.OutPoint) {
			events = append(events, Deposit(out))
		}
	}

	for _, out := range previous.Outputs() {
		if !current.Contains(out.OutPoint) {
			events = append(events, Withdrawal(out))
		}
	}

	return events
}
