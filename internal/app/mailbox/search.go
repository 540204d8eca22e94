package mailbox

import (
	"time"

	"github.com/emersion/go-imap/v2"
)

// Query describes a composite mailbox search. Zero-valued fields are
// omitted from the resulting criteria entirely.
type Query struct {
	Text            string    // Free-text search over the whole message.
	Sender          string    // Substring match on the From header.
	SubjectContains string    // Substring match on the Subject header.
	DateFrom        time.Time // Inclusive lower bound on the message date.
	DateTo          time.Time // Exclusive upper bound on the message date.
	Folder          string
	Limit           int
}

// Criteria ANDs the present filters into IMAP search criteria.
func (q Query) Criteria() *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{}

	if q.Text != "" {
		criteria.Text = append(criteria.Text, q.Text)
	}
	if q.Sender != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key:   "From",
			Value: q.Sender,
		})
	}
	if q.SubjectContains != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
			Key:   "Subject",
			Value: q.SubjectContains,
		})
	}
	if !q.DateFrom.IsZero() {
		criteria.Since = q.DateFrom
	}
	if !q.DateTo.IsZero() {
		criteria.Before = q.DateTo
	}

	return criteria
}
