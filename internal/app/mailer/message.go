package mailer

// Priority levels understood by the composer. They map onto the
// X-Priority / X-MSMail-Priority header pair.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Attachment references a file on disk to be packaged into an outgoing
// message. The underlying file is owned by the caller.
type Attachment struct {
	FilePath    string
	Filename    string // Display name. Defaults to the base name of FilePath.
	ContentType string // Defaults to application/octet-stream.
}

// Draft carries everything needed to compose one outgoing message.
// Address lists are expected to be normalized and validated already.
type Draft struct {
	To            []string
	CC            []string
	BCC           []string
	Subject       string
	Body          string
	IsHTML        bool
	SenderName    string
	ReplyTo       string
	Priority      Priority
	TrackDelivery bool
	Attachments   []Attachment

	// SkipSentCopy suppresses the copy normally appended to the Sent
	// folder after successful delivery.
	SkipSentCopy bool
}

// Composed is a serialized message ready for submission. Envelope holds
// the actual delivery targets, including BCC recipients that never
// appear in the visible headers.
type Composed struct {
	From      string
	Envelope  []string
	MessageID string
	Subject   string
	Raw       []byte
}
