package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ErrorKind classifies a failed submission attempt so the retry driver
// can branch on it explicitly.
type ErrorKind int

const (
	// KindTransient covers timeouts, connection drops and generic
	// protocol failures. Retried until the attempt budget runs out.
	KindTransient ErrorKind = iota
	// KindAuth means the server rejected our credentials. Never retried.
	KindAuth
	// KindRecipients means every envelope recipient was refused. Never retried.
	KindRecipients
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "authentication"
	case KindRecipients:
		return "recipients_refused"
	default:
		return "transient"
	}
}

type DeliveryError struct {
	Kind ErrorKind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed (%s): %s", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Transport performs a single submission attempt. A nil return means the
// message was accepted by the server.
type Transport interface {
	Submit(ctx context.Context, msg *Composed) *DeliveryError
	Check(ctx context.Context) error
}

// Deliverer drives a Transport with bounded retry. Fatal error kinds
// short-circuit the loop; everything else is retried after a fixed
// delay. The outcome is reported as a boolean, never raised.
type Deliverer struct {
	transport  Transport
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

func NewDeliverer(transport Transport, maxRetries int, retryDelay time.Duration, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		transport:  transport,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (d *Deliverer) Deliver(ctx context.Context, msg *Composed) bool {
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		derr := d.transport.Submit(ctx, msg)
		if derr == nil {
			d.logger.InfoContext(ctx, "message submitted",
				slog.String("message_id", msg.MessageID),
				slog.Int("attempt", attempt),
			)
			return true
		}

		switch derr.Kind {
		case KindAuth, KindRecipients:
			d.logger.ErrorContext(ctx, "submission failed fatally",
				slog.String("kind", derr.Kind.String()),
				slog.Any("error", derr.Err),
			)
			return false
		}

		d.logger.WarnContext(ctx, "submission attempt failed",
			slog.Int("attempt", attempt),
			slog.Any("error", derr.Err),
		)

		if attempt < d.maxRetries {
			select {
			case <-time.After(d.retryDelay):
			case <-ctx.Done():
				return false
			}
		}
	}

	d.logger.ErrorContext(ctx, "submission failed, retry budget exhausted",
		slog.Int("max_retries", d.maxRetries),
	)
	return false
}

// SMTPTransport submits messages over a fresh SMTP session per attempt.
type SMTPTransport struct {
	host     string
	port     int
	startTLS bool
	login    string
	password string
	timeout  time.Duration
}

func NewSMTPTransport(host string, port int, startTLS bool, login, password string, timeout time.Duration) *SMTPTransport {
	return &SMTPTransport{
		host:     host,
		port:     port,
		startTLS: startTLS,
		login:    login,
		password: password,
		timeout:  timeout,
	}
}

func (t *SMTPTransport) Submit(ctx context.Context, msg *Composed) *DeliveryError {
	client, derr := t.connect(ctx)
	if derr != nil {
		return derr
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Mail(msg.From, nil); err != nil {
		return transientErr(fmt.Errorf("MAIL FROM: %w", err))
	}

	// Refusal is fatal only when the server rejects the whole envelope,
	// mirroring submission-library convention: partial refusals still
	// deliver to the accepted recipients.
	var accepted int
	var refused []string
	var refusedErr error
	for _, rcpt := range msg.Envelope {
		err := client.Rcpt(rcpt, nil)
		if err == nil {
			accepted++
			continue
		}

		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			refused = append(refused, rcpt)
			refusedErr = err
			continue
		}
		return transientErr(fmt.Errorf("RCPT TO %s: %w", rcpt, err))
	}
	if accepted == 0 {
		return &DeliveryError{
			Kind: KindRecipients,
			Err:  fmt.Errorf("all recipients refused %v: %w", refused, refusedErr),
		}
	}

	w, err := client.Data()
	if err != nil {
		return transientErr(fmt.Errorf("DATA: %w", err))
	}
	if _, err = w.Write(msg.Raw); err != nil {
		return transientErr(fmt.Errorf("write message: %w", err))
	}
	if err = w.Close(); err != nil {
		return transientErr(fmt.Errorf("finish message: %w", err))
	}

	_ = client.Quit()
	return nil
}

// Check opens a session and authenticates without submitting anything.
func (t *SMTPTransport) Check(ctx context.Context) error {
	client, derr := t.connect(ctx)
	if derr != nil {
		return derr
	}
	defer func() {
		_ = client.Close()
	}()

	return client.Quit()
}

func (t *SMTPTransport) connect(ctx context.Context) (*smtp.Client, *DeliveryError) {
	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", t.host, t.port))
	if err != nil {
		return nil, transientErr(fmt.Errorf("dial: %w", err))
	}

	var client *smtp.Client
	if t.startTLS {
		client, err = smtp.NewClientStartTLS(conn, &tls.Config{ServerName: t.host})
		if err != nil {
			_ = conn.Close()
			return nil, transientErr(fmt.Errorf("starttls: %w", err))
		}
	} else {
		client = smtp.NewClient(conn)
	}

	if err = client.Auth(sasl.NewPlainClient("", t.login, t.password)); err != nil {
		_ = client.Close()
		return nil, &DeliveryError{Kind: KindAuth, Err: fmt.Errorf("auth: %w", err)}
	}

	return client, nil
}

func transientErr(err error) *DeliveryError {
	return &DeliveryError{Kind: KindTransient, Err: err}
}
