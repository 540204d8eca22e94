package mailbox

import (
	"time"

	"github.com/emersion/go-imap/v2"
)

// Message is an immutable snapshot of a fetched mailbox message. It
// carries no reference back to the live session.
type Message struct {
	UID         imap.UID
	MessageID   string
	Subject     string
	Sender      string
	Recipients  []string
	Date        time.Time
	BodyText    string
	BodyHTML    string
	Attachments []string
	IsRead      bool
	Folder      string
}
