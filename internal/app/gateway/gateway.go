package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/DeepStacker/email-service/internal/app/config"
	"github.com/DeepStacker/email-service/internal/app/mailer"
	"github.com/DeepStacker/email-service/internal/app/mailbox"
	"github.com/DeepStacker/email-service/internal/app/otp"
)

// SendRequest describes one outbound message.
type SendRequest = mailer.Draft

// SendResult is the outcome of a single send. Validation and composition
// problems are carried in Err; transport failures only flip Success.
type SendResult struct {
	Success    bool
	Recipients []string
	Subject    string
	MessageID  string
	Err        error
}

// ConnState reports the startup self-test outcome per transport.
type ConnState struct {
	SMTP bool
	IMAP bool
}

type deliverer interface {
	Deliver(ctx context.Context, msg *mailer.Composed) bool
}

type mailboxClient interface {
	Check(ctx context.Context) error
	Close() error
	ListFolders(ctx context.Context) ([]string, error)
	ListMessages(ctx context.Context, folder string, limit int, filterExpr string, includeAttachments, markRead bool) ([]mailbox.Message, error)
	Search(ctx context.Context, query mailbox.Query) ([]mailbox.Message, error)
	MarkRead(ctx context.Context, uids []imap.UID, folder string) bool
	Delete(ctx context.Context, uids []imap.UID, folder string) bool
	Move(ctx context.Context, uids []imap.UID, fromFolder, toFolder string) bool
	AppendToSent(ctx context.Context, raw []byte) error
}

// Gateway is the single entry point of the service: outbound delivery,
// mailbox access and passcode issuance behind one facade.
type Gateway struct {
	cfg    config.Config
	logger *slog.Logger

	composer  *mailer.Composer
	deliverer deliverer
	transport mailer.Transport
	mailbox   mailboxClient

	otpStore   *otp.Store
	otpLimiter *otp.RateLimiter
}

func New(cfg config.Config, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := mailer.NewSMTPTransport(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.StartTLS,
		cfg.Login,
		cfg.Password,
		cfg.Timeout,
	)

	dial := imapclient.DialTLS
	if !cfg.IMAP.TLS {
		dial = imapclient.DialInsecure
	}
	client := mailbox.NewClient(
		mailbox.DialerFunc(dial),
		fmt.Sprintf("%s:%d", cfg.IMAP.Host, cfg.IMAP.Port),
		cfg.Login,
		cfg.Password,
		logger.With(slog.String("module", "mailbox")),
	)

	return newGateway(cfg, logger, transport, client), nil
}

func newGateway(cfg config.Config, logger *slog.Logger, transport mailer.Transport, client mailboxClient) *Gateway {
	mailerLogger := logger.With(slog.String("module", "mailer"))

	return &Gateway{
		cfg:        cfg,
		logger:     logger.With(slog.String("module", "gateway")),
		composer:   mailer.NewComposer(cfg.Login, mailerLogger),
		deliverer:  mailer.NewDeliverer(transport, cfg.MaxRetries, cfg.RetryDelay, mailerLogger),
		transport:  transport,
		mailbox:    client,
		otpStore:   otp.NewStore(cfg.OTP, logger.With(slog.String("module", "otp"))),
		otpLimiter: otp.NewRateLimiter(cfg.OTP),
	}
}

// Send validates, composes and delivers one message. Unless the request
// opts out, successful sends get a copy appended to the Sent folder; an
// append failure is logged and does not change the outcome.
func (g *Gateway) Send(ctx context.Context, req SendRequest) SendResult {
	result := SendResult{Subject: req.Subject}

	req.To = mailer.NormalizeAddressList(req.To...)
	req.CC = mailer.NormalizeAddressList(req.CC...)
	req.BCC = mailer.NormalizeAddressList(req.BCC...)

	if len(req.To) == 0 {
		result.Err = errors.New("no recipients given")
		return result
	}

	all := make([]string, 0, len(req.To)+len(req.CC)+len(req.BCC))
	all = append(all, req.To...)
	all = append(all, req.CC...)
	all = append(all, req.BCC...)
	if err := mailer.ValidateAddresses(all); err != nil {
		result.Err = err
		return result
	}

	composed, err := g.composer.Compose(req)
	if err != nil {
		result.Err = fmt.Errorf("compose: %w", err)
		return result
	}

	result.Recipients = composed.Envelope
	result.MessageID = composed.MessageID
	result.Success = g.deliverer.Deliver(ctx, composed)

	if result.Success && !req.SkipSentCopy {
		if err := g.mailbox.AppendToSent(ctx, composed.Raw); err != nil {
			g.logger.WarnContext(ctx, "save to sent folder failed",
				slog.String("message_id", composed.MessageID),
				slog.Any("error", err),
			)
		}
	}

	return result
}

// SendBulk delivers messages sequentially with a pause between sends and
// a longer pause between batches. Non-positive delay and batchSize fall
// back to the configured defaults. A canceled context stops the run and
// returns the results gathered so far.
func (g *Gateway) SendBulk(ctx context.Context, reqs []SendRequest, delay time.Duration, batchSize int) []SendResult {
	if delay <= 0 {
		delay = g.cfg.Bulk.DelayBetween
	}
	if batchSize <= 0 {
		batchSize = g.cfg.Bulk.BatchSize
	}

	results := make([]SendResult, 0, len(reqs))
	for i, req := range reqs {
		if i > 0 {
			pause := delay
			if i%batchSize == 0 {
				pause = 5 * delay
			}

			select {
			case <-time.After(pause):
			case <-ctx.Done():
				g.logger.WarnContext(ctx, "bulk send interrupted",
					slog.Int("sent", i),
					slog.Int("total", len(reqs)),
				)
				return results
			}
		}

		results = append(results, g.Send(ctx, req))
	}

	return results
}

// ListFolders returns all folder names of the account mailbox.
func (g *Gateway) ListFolders(ctx context.Context) ([]string, error) {
	return g.mailbox.ListFolders(ctx)
}

// ListMessages fetches the newest messages of a folder, optionally
// filtered by a search expression.
func (g *Gateway) ListMessages(ctx context.Context, folder string, limit int, filterExpr string, includeAttachments, markRead bool) ([]mailbox.Message, error) {
	return g.mailbox.ListMessages(ctx, folder, limit, filterExpr, includeAttachments, markRead)
}

// Search runs a composite mailbox query.
func (g *Gateway) Search(ctx context.Context, query mailbox.Query) ([]mailbox.Message, error) {
	return g.mailbox.Search(ctx, query)
}

func (g *Gateway) MarkRead(ctx context.Context, uids []imap.UID, folder string) bool {
	return g.mailbox.MarkRead(ctx, uids, folder)
}

func (g *Gateway) Delete(ctx context.Context, uids []imap.UID, folder string) bool {
	return g.mailbox.Delete(ctx, uids, folder)
}

func (g *Gateway) Move(ctx context.Context, uids []imap.UID, fromFolder, toFolder string) bool {
	return g.mailbox.Move(ctx, uids, fromFolder, toFolder)
}

// TestConnections probes both transports and reports which ones are
// reachable with the configured credentials.
func (g *Gateway) TestConnections(ctx context.Context) ConnState {
	var state ConnState

	if err := g.transport.Check(ctx); err != nil {
		g.logger.ErrorContext(ctx, "smtp connection check failed", slog.Any("error", err))
	} else {
		state.SMTP = true
	}

	if err := g.mailbox.Check(ctx); err != nil {
		g.logger.ErrorContext(ctx, "imap connection check failed", slog.Any("error", err))
	} else {
		state.IMAP = true
	}

	return state
}

// IssueOTP generates a passcode for identity, subject to rate limiting.
// The returned error is a *otp.RateLimitError when the request was
// throttled.
func (g *Gateway) IssueOTP(identity string) (string, error) {
	if err := g.otpLimiter.Allow(identity); err != nil {
		return "", err
	}
	return g.otpStore.Issue(identity)
}

// VerifyOTP reports whether code is the live passcode for identity. All
// failure modes collapse into false.
func (g *Gateway) VerifyOTP(identity, code string) bool {
	return g.otpStore.Verify(identity, code)
}

// Close tears down the mailbox session.
func (g *Gateway) Close() error {
	return g.mailbox.Close()
}
