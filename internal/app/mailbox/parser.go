package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // extended header charsets
	"github.com/emersion/go-message/mail"

	"jaytaylor.com/html2text"
)

var htmlToTextOpts = html2text.Options{TextOnly: true}

// ParseMessage decodes a raw fetched payload into a Message snapshot.
//
// Header text is decoded permissively: fragments that cannot be decoded
// fall back to their raw form instead of failing the message. The date
// falls back to the current time when unparsable. Bodies are selected by
// walking all inline parts; when several parts share a type the last one
// wins. Attachment filenames are collected only when requested.
func ParseMessage(raw []byte, uid imap.UID, folder string, seen, includeAttachments bool) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("create reader: %w", err)
	}
	defer func() {
		_ = mr.Close()
	}()

	msg := &Message{
		UID:        uid,
		Subject:    headerText(mr.Header, "Subject"),
		Sender:     headerText(mr.Header, "From"),
		Recipients: parseRecipients(mr.Header),
		IsRead:     seen,
		Folder:     folder,
	}

	if id, err := mr.Header.MessageID(); err == nil {
		msg.MessageID = id
	} else {
		msg.MessageID = mr.Header.Get("Message-Id")
	}

	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		msg.Date = date
	} else {
		msg.Date = time.Now()
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("read message part: %w", err)
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, err := header.ContentType()
			if err != nil {
				continue
			}

			switch contentType {
			case "text/plain":
				msg.BodyText = readPart(part.Body)
			case "text/html":
				msg.BodyHTML = readPart(part.Body)
			}

		case *mail.AttachmentHeader:
			if !includeAttachments {
				continue
			}

			filename, err := header.Filename()
			if err != nil || filename == "" {
				continue
			}
			msg.Attachments = append(msg.Attachments, filename)
		}
	}

	// Messages composed HTML-only still get a readable text body.
	if msg.BodyText == "" && msg.BodyHTML != "" {
		if text, err := html2text.FromString(msg.BodyHTML, htmlToTextOpts); err == nil {
			msg.BodyText = text
		}
	}

	return msg, nil
}

// headerText returns the decoded header value, falling back to the raw
// value when decoding fails.
func headerText(h mail.Header, key string) string {
	text, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return text
}

func parseRecipients(h mail.Header) []string {
	var recipients []string

	for _, key := range []string{"To", "Cc", "Bcc"} {
		addrs, err := h.AddressList(key)
		if err != nil || len(addrs) == 0 {
			continue
		}
		for _, addr := range addrs {
			recipients = append(recipients, addr.Address)
		}
	}

	return recipients
}

func readPart(r io.Reader) string {
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	return buf.String()
}
