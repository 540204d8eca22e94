package mailer

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Composer builds MIME messages on behalf of the authenticated account.
type Composer struct {
	login  string
	logger *slog.Logger
}

func NewComposer(login string, logger *slog.Logger) *Composer {
	return &Composer{
		login:  login,
		logger: logger,
	}
}

// Compose serializes a draft into a submission-ready message.
//
// BCC recipients end up in the envelope only, never in a visible header.
// Attachment files that cannot be read are logged and skipped rather
// than aborting the whole composition.
func (c *Composer) Compose(draft Draft) (*Composed, error) {
	var h mail.Header

	from := &mail.Address{Address: c.login}
	if draft.SenderName != "" {
		from.Name = draft.SenderName
	}
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", toAddressList(draft.To))
	if len(draft.CC) > 0 {
		h.SetAddressList("Cc", toAddressList(draft.CC))
	}
	h.SetSubject(draft.Subject)
	h.SetDate(time.Now())

	id := fmt.Sprintf("%s@%s", uuid.NewString(), loginDomain(c.login))
	h.SetMessageID(id)

	if draft.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: draft.ReplyTo}})
	}

	if numeric, textual, ok := priorityHeaders(draft.Priority); ok {
		h.Set("X-Priority", numeric)
		h.Set("X-MSMail-Priority", textual)
	}

	if draft.TrackDelivery {
		// Read-receipt requests go back to the authenticated sender.
		h.Set("Disposition-Notification-To", c.login)
		h.Set("Return-Receipt-To", c.login)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}

	if err = c.writeBody(mw, draft); err != nil {
		return nil, err
	}
	c.writeAttachments(mw, draft.Attachments)

	if err = mw.Close(); err != nil {
		return nil, fmt.Errorf("finalize message: %w", err)
	}

	envelope := make([]string, 0, len(draft.To)+len(draft.CC)+len(draft.BCC))
	envelope = append(envelope, draft.To...)
	envelope = append(envelope, draft.CC...)
	envelope = append(envelope, draft.BCC...)

	return &Composed{
		From:      c.login,
		Envelope:  envelope,
		MessageID: fmt.Sprintf("<%s>", id),
		Subject:   draft.Subject,
		Raw:       buf.Bytes(),
	}, nil
}

func (c *Composer) writeBody(mw *mail.Writer, draft Draft) error {
	contentType := "text/plain"
	if draft.IsHTML {
		contentType = "text/html"
	}

	var th mail.InlineHeader
	th.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	w, err := mw.CreateSingleInline(th)
	if err != nil {
		return fmt.Errorf("create body part: %w", err)
	}
	if _, err = io.WriteString(w, draft.Body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("close body part: %w", err)
	}

	return nil
}

func (c *Composer) writeAttachments(mw *mail.Writer, attachments []Attachment) {
	for _, attachment := range attachments {
		data, err := os.ReadFile(attachment.FilePath)
		if err != nil {
			c.logger.Warn("attachment skipped",
				slog.String("path", attachment.FilePath),
				slog.Any("error", err),
			)
			continue
		}

		filename := attachment.Filename
		if filename == "" {
			filename = filepath.Base(attachment.FilePath)
		}
		contentType := attachment.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		var ah mail.AttachmentHeader
		ah.SetFilename(filename)
		ah.SetContentType(contentType, nil)
		ah.Set("Content-Transfer-Encoding", "base64")

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			c.logger.Warn("attachment skipped",
				slog.String("path", attachment.FilePath),
				slog.Any("error", err),
			)
			continue
		}
		if _, err = w.Write(data); err != nil {
			c.logger.Warn("attachment write failed",
				slog.String("path", attachment.FilePath),
				slog.Any("error", err),
			)
		}
		_ = w.Close()

		c.logger.Debug("attachment added", slog.String("filename", filename))
	}
}

func toAddressList(addrs []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, &mail.Address{Address: addr})
	}
	return out
}

func loginDomain(login string) string {
	if _, domain, ok := strings.Cut(login, "@"); ok && domain != "" {
		return domain
	}
	return "localhost"
}

func priorityHeaders(p Priority) (string, string, bool) {
	switch p {
	case PriorityHigh:
		return "1", "High", true
	case PriorityNormal, "":
		return "3", "Normal", true
	case PriorityLow:
		return "5", "Low", true
	}
	return "", "", false
}
