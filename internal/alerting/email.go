package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"utxo-diff-alerts/internal/logging"
)

// EmailOptions configure the SMTP relay.
type EmailOptions struct {
	Server     string
	Port       int
	Username   string
	Password   string
	From       string
	FromName   string
	Recipients []string
	Timeout    time.Duration
	// Insecure skips TLS, for local relays such as mailhog.
	Insecure bool
}

// Sender dispatches built messages. *mail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailNotifier sends one plain-text mail per recipient.
type EmailNotifier struct {
	opts   EmailOptions
	sender Sender
	logger zerolog.Logger
}

// NewEmailNotifier builds the SMTP client.
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) (*EmailNotifier, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	clientOpts := []mail.Option{
		mail.WithPort(opts.Port),
		mail.WithTimeout(opts.Timeout),
	}
	if opts.Insecure {
		clientOpts = append(clientOpts, mail.WithTLSPolicy(mail.NoTLS))
	} else {
		clientOpts = append(clientOpts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if opts.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(opts.Username),
			mail.WithPassword(opts.Password),
		)
	}

	client, err := mail.NewClient(opts.Server, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return NewEmailNotifierWithSender(opts, client, logger), nil
}

// NewEmailNotifierWithSender wires a custom Sender.
func NewEmailNotifierWithSender(opts EmailOptions, sender Sender, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		opts:   opts,
		sender: sender,
		logger: logging.Component(logger, "alert_email"),
	}
}

// Notify renders msg and mails it to every recipient.
func (n *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	messages, err := n.buildMessages(msg)
	if err != nil {
		return &DeliveryError{Channel: "email", Err: err}
	}

	n.logger.Debug().Int("messages", len(messages)).Str("kind", msg.Kind.String()).Msg("sending emails")
	if err := n.sender.DialAndSendWithContext(ctx, messages...); err != nil {
		return &DeliveryError{Channel: "email", Err: err}
	}

	for _, rcpt := range n.opts.Recipients {
		n.logger.Info().Str("recipient", rcpt).Str("address", msg.Address).Msg("sent email")
	}
	return nil
}

func (n *EmailNotifier) buildMessages(msg Message) ([]*mail.Msg, error) {
	subject, body := Render(msg)

	from := n.opts.From
	if from == "" {
		from = n.opts.Username
	}

	messages := make([]*mail.Msg, 0, len(n.opts.Recipients))
	for _, rcpt := range n.opts.Recipients {
		m := mail.NewMsg()
		if err := m.FromFormat(n.opts.FromName, from); err != nil {
			return nil, fmt.Errorf("sender %q: %w", from, err)
		}
		if err := m.To(rcpt); err != nil {
			return nil, fmt.Errorf("recipient %q: %w", rcpt, err)
		}
		m.Subject(subject)
		m.SetBodyString(mail.TypeTextPlain, body)
		messages = append(messages, m)
	}
	return messages, nil
}

var _ Notifier = (*EmailNotifier)(nil)
