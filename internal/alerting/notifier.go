package alerting

import (
	"context"
	"errors"
	"fmt"

	"utxo-diff-alerts/internal/utxo"
)

// MessageKind tags a notification Message.
type MessageKind int

const (
	// MessageSubscriptionConfirmed announces that an address is now watched.
	MessageSubscriptionConfirmed MessageKind = iota + 1
	// MessageEventsDetected carries deposits and withdrawals seen at one height.
	MessageEventsDetected
)

func (k MessageKind) String() string {
	switch k {
	case MessageSubscriptionConfirmed:
		return "subscription_confirmed"
	case MessageEventsDetected:
		return "events_detected"
	default:
		return fmt.Sprintf("message(%d)", int(k))
	}
}

// Message is what the watcher hands to a Notifier.
type Message struct {
	Kind    MessageKind
	Address string
	Network string
	Height  int64
	// Events is only set for MessageEventsDetected.
	Events []utxo.Event
}

// SubscriptionConfirmed builds the message sent once an address is watched.
func SubscriptionConfirmed(address, network string, height int64) Message {
	return Message{Kind: MessageSubscriptionConfirmed, Address: address, Network: network, Height: height}
}

// EventsDetected builds the message for the events of one poll.
func EventsDetected(address, network string, height int64, events []utxo.Event) Message {
	return Message{Kind: MessageEventsDetected, Address: address, Network: network, Height: height, Events: events}
}

// Notifier delivers messages to an operator.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// DeliveryError wraps a failed delivery on one channel. Delivery failures never stop polling.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver via %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// MultiNotifier fans a message out to every channel and joins the failures.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Notifier = MultiNotifier(nil)
