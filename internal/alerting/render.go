package alerting

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"utxo-diff-alerts/internal/utxo"
)

// FormatSats renders an amount as "1,337 sats (0.00001337 BTC)".
func FormatSats(sats int64) string {
	btc := decimal.New(sats, -8)
	return fmt.Sprintf("%s sats (%s BTC)", humanize.Comma(sats), btc.StringFixed(8))
}

// Render produces the subject and plain-text body for msg.
func Render(msg Message) (subject, body string) {
	switch msg.Kind {
	case MessageSubscriptionConfirmed:
		return renderSubscription(msg)
	case MessageEventsDetected:
		return renderEvents(msg)
	default:
		return fmt.Sprintf("Unknown notification for %s", msg.Address), ""
	}
}

func renderSubscription(msg Message) (string, string) {
	subject := "You're now subscribed to 1 address"
	body := fmt.Sprintf("You are now subscribed to this address:\n- %s\n\nNetwork: %s\nHeight: %d\n",
		msg.Address, msg.Network, msg.Height)
	return subject, body
}

func renderEvents(msg Message) (string, string) {
	var deposits, withdrawals int
	var net int64
	for _, ev := range msg.Events {
		switch ev.Kind {
		case utxo.KindDeposit:
			deposits++
		case utxo.KindWithdrawal:
			withdrawals++
		}
		net += ev.SignedValue()
	}

	var subject string
	switch {
	case withdrawals > 0:
		subject = "Heads up, someone withdrew from an address you're subscribed to!"
	case deposits > 0:
		subject = "Someone deposited to an address you're subscribed to"
	default:
		subject = "No movement on an address you're subscribed to"
	}

	b := strings.Builder{}
	for _, ev := range msg.Events {
		switch ev.Kind {
		case utxo.KindDeposit:
			b.WriteString(fmt.Sprintf("Someone deposited %s to address %s\n", FormatSats(ev.Output.ValueSats), msg.Address))
		case utxo.KindWithdrawal:
			b.WriteString(fmt.Sprintf("Heads up, someone withdrew %s from address %s!\n", FormatSats(ev.Output.ValueSats), msg.Address))
		}
		b.WriteString(fmt.Sprintf("  outpoint: %s\n", ev.Output.OutPoint))
	}
	b.WriteString(fmt.Sprintf("\nNet change: %s%s\n", sign(net), FormatSats(abs(net))))
	b.WriteString(fmt.Sprintf("Network: %s\nHeight: %d\n", msg.Network, msg.Height))
	return subject, b.String()
}

func sign(v int64) string {
	switch {
	case v > 0:
		return "+"
	case v < 0:
		return "-"
	default:
		return ""
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
