package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/looplab/fsm"

	"utxo-diff-alerts/internal/utxo"
)

// State is a lifecycle stage of a Subscription.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateSubscribed    State = "subscribed"
	StatePolling       State = "polling"
	StateTerminated    State = "terminated"
)

const (
	eventSubscribe = "subscribe"
	eventPoll      = "poll"
	eventStop      = "stop"
)

var (
	// ErrTerminated is returned when a stopped subscription is asked to change.
	ErrTerminated = errors.New("subscription terminated")
	// ErrStaleHeight is returned when Advance is called with a height below the stored one.
	ErrStaleHeight = errors.New("stale height")
)

// Flags select which notifications the subscription wants.
type Flags struct {
	NotifySubscribe  bool
	NotifyDeposit    bool
	NotifyWithdrawal bool
}

// Wants reports whether events of kind k should be delivered.
func (f Flags) Wants(k utxo.Kind) bool {
	switch k {
	case utxo.KindDeposit:
		return f.NotifyDeposit
	case utxo.KindWithdrawal:
		return f.NotifyWithdrawal
	default:
		return false
	}
}

// Subscription tracks the last known UTXO set of one address.
type Subscription struct {
	address string
	network string
	flags   Flags

	machine  *fsm.FSM
	inFlight atomic.Bool

	mu       sync.RWMutex
	snapshot utxo.Snapshot
	height   int64
}

// New creates an uninitialised subscription.
func New(address, network string, flags Flags) *Subscription {
	return &Subscription{
		address: address,
		network: network,
		flags:   flags,
		machine: newMachine(),
	}
}

// newMachine wires the lifecycle:
// uninitialized -subscribe-> subscribed -poll-> polling, and any state -stop-> terminated.
func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(StateUninitialized),
		fsm.Events{
			{Name: eventSubscribe, Src: []string{string(StateUninitialized)}, Dst: string(StateSubscribed)},
			{Name: eventPoll, Src: []string{string(StateSubscribed)}, Dst: string(StatePolling)},
			{
				Name: eventStop,
				Src:  []string{string(StateUninitialized), string(StateSubscribed), string(StatePolling)},
				Dst:  string(StateTerminated),
			},
		},
		fsm.Callbacks{},
	)
}

// Address returns the watched address.
func (s *Subscription) Address() string { return s.address }

// Network returns the network name the address belongs to.
func (s *Subscription) Network() string { return s.network }

// Flags returns the notification preferences.
func (s *Subscription) Flags() Flags { return s.flags }

// State returns the current lifecycle stage.
func (s *Subscription) State() State {
	return State(s.machine.Current())
}

// Snapshot returns the stored snapshot and the height it was taken at.
func (s *Subscription) Snapshot() (utxo.Snapshot, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.height
}

// Height returns the last polled height.
func (s *Subscription) Height() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

// Subscribe stores the baseline snapshot.
func (s *Subscription) Subscribe(ctx context.Context, snapshot utxo.Snapshot, height int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.machine.Event(ctx, eventSubscribe); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.address, err)
	}
	s.snapshot = snapshot
	s.height = height
	return nil
}

// BeginPolling moves a freshly subscribed address into the polling stage.
// Calling it again while polling is a no-op.
func (s *Subscription) BeginPolling(ctx context.Context) error {
	switch s.State() {
	case StatePolling:
		return nil
	case StateTerminated:
		return ErrTerminated
	}
	if err := s.machine.Event(ctx, eventPoll); err != nil {
		return fmt.Errorf("begin polling %s: %w", s.address, err)
	}
	return nil
}

// Advance replaces the snapshot and height together.
func (s *Subscription) Advance(snapshot utxo.Snapshot, height int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StatePolling {
		if s.State() == StateTerminated {
			return ErrTerminated
		}
		return fmt.Errorf("advance %s in state %s", s.address, s.State())
	}
	if height < s.height {
		return fmt.Errorf("advance %s to %d below %d: %w", s.address, height, s.height, ErrStaleHeight)
	}
	s.snapshot = snapshot
	s.height = height
	return nil
}

// Stop terminates the subscription. It is safe to call more than once.
func (s *Subscription) Stop(ctx context.Context) {
	if s.State() == StateTerminated {
		return
	}
	// Shutdown usually arrives with ctx already cancelled.
	_ = s.machine.Event(context.WithoutCancel(ctx), eventStop)
}

// TryAcquire marks a poll as in flight. It returns false when one already is.
func (s *Subscription) TryAcquire() bool {
	return s.inFlight.CompareAndSwap(false, true)
}

// Release clears the in-flight mark set by TryAcquire.
func (s *Subscription) Release() {
	s.inFlight.Store(false)
}
