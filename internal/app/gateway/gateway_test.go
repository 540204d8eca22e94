package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeepStacker/email-service/internal/app/config"
	"github.com/DeepStacker/email-service/internal/app/mailer"
	"github.com/DeepStacker/email-service/internal/app/mailbox"
	"github.com/DeepStacker/email-service/internal/app/otp"
)

type fakeTransport struct {
	submitErr *mailer.DeliveryError
	checkErr  error
	submitted int
}

func (t *fakeTransport) Submit(_ context.Context, _ *mailer.Composed) *mailer.DeliveryError {
	t.submitted++
	return t.submitErr
}

func (t *fakeTransport) Check(_ context.Context) error { return t.checkErr }

type fakeMailbox struct {
	checkErr  error
	appendErr error
	appended  [][]byte
}

func (m *fakeMailbox) Check(_ context.Context) error { return m.checkErr }
func (m *fakeMailbox) Close() error                  { return nil }

func (m *fakeMailbox) ListFolders(_ context.Context) ([]string, error) {
	return []string{"INBOX", "Sent"}, nil
}

func (m *fakeMailbox) ListMessages(_ context.Context, _ string, _ int, _ string, _, _ bool) ([]mailbox.Message, error) {
	return nil, nil
}

func (m *fakeMailbox) Search(_ context.Context, _ mailbox.Query) ([]mailbox.Message, error) {
	return nil, nil
}

func (m *fakeMailbox) MarkRead(_ context.Context, _ []imap.UID, _ string) bool { return true }
func (m *fakeMailbox) Delete(_ context.Context, _ []imap.UID, _ string) bool   { return true }
func (m *fakeMailbox) Move(_ context.Context, _ []imap.UID, _, _ string) bool  { return true }

func (m *fakeMailbox) AppendToSent(_ context.Context, raw []byte) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.appended = append(m.appended, raw)
	return nil
}

func testConfig() config.Config {
	cfg := config.Config{
		Login:    "sender@example.com",
		Password: "secret",
	}
	cfg.ApplyDefaults()
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	cfg.Bulk.DelayBetween = time.Millisecond
	cfg.Bulk.BatchSize = 2
	return cfg
}

func testGateway(transport *fakeTransport, mbox *fakeMailbox) *Gateway {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newGateway(testConfig(), logger, transport, mbox)
}

func TestSendSuccess(t *testing.T) {
	transport := &fakeTransport{}
	mbox := &fakeMailbox{}
	gw := testGateway(transport, mbox)

	result := gw.Send(context.Background(), SendRequest{
		To:      []string{"one@example.com, two@example.com"},
		BCC:     []string{"hidden@example.com"},
		Subject: "greetings",
		Body:    "hello",
	})

	assert.True(t, result.Success)
	assert.NoError(t, result.Err)
	assert.Equal(t, "greetings", result.Subject)
	assert.Equal(t, []string{"one@example.com", "two@example.com", "hidden@example.com"}, result.Recipients)
	assert.NotEmpty(t, result.MessageID)
	assert.Equal(t, 1, transport.submitted)
	require.Len(t, mbox.appended, 1)
	assert.NotEmpty(t, mbox.appended[0])
}

func TestSendInvalidAddressesReported(t *testing.T) {
	transport := &fakeTransport{}
	gw := testGateway(transport, &fakeMailbox{})

	result := gw.Send(context.Background(), SendRequest{
		To:      []string{"valid@example.com", "not-an-address", "also bad"},
		Subject: "greetings",
	})

	assert.False(t, result.Success)
	require.Error(t, result.Err)

	var invalidErr *mailer.InvalidAddressError
	require.True(t, errors.As(result.Err, &invalidErr))
	assert.Equal(t, []string{"not-an-address", "also bad"}, invalidErr.Invalid)
	assert.Zero(t, transport.submitted)
}

func TestSendNoRecipients(t *testing.T) {
	transport := &fakeTransport{}
	gw := testGateway(transport, &fakeMailbox{})

	result := gw.Send(context.Background(), SendRequest{Subject: "empty"})

	assert.False(t, result.Success)
	assert.Error(t, result.Err)
	assert.Zero(t, transport.submitted)
}

func TestSendDeliveryFailureAbsorbed(t *testing.T) {
	transport := &fakeTransport{
		submitErr: &mailer.DeliveryError{Kind: mailer.KindAuth, Err: errors.New("535 bad credentials")},
	}
	mbox := &fakeMailbox{}
	gw := testGateway(transport, mbox)

	result := gw.Send(context.Background(), SendRequest{
		To:   []string{"one@example.com"},
		Body: "hello",
	})

	assert.False(t, result.Success)
	assert.NoError(t, result.Err)
	assert.Empty(t, mbox.appended)
}

func TestSendSkipsSentCopyWhenRequested(t *testing.T) {
	transport := &fakeTransport{}
	mbox := &fakeMailbox{}
	gw := testGateway(transport, mbox)

	result := gw.Send(context.Background(), SendRequest{
		To:           []string{"one@example.com"},
		Body:         "hello",
		SkipSentCopy: true,
	})

	assert.True(t, result.Success)
	assert.Empty(t, mbox.appended)
}

func TestSendAppendFailureKeepsSuccess(t *testing.T) {
	transport := &fakeTransport{}
	mbox := &fakeMailbox{appendErr: errors.New("append refused")}
	gw := testGateway(transport, mbox)

	result := gw.Send(context.Background(), SendRequest{
		To:   []string{"one@example.com"},
		Body: "hello",
	})

	assert.True(t, result.Success)
	assert.NoError(t, result.Err)
}

func TestSendBulk(t *testing.T) {
	transport := &fakeTransport{}
	gw := testGateway(transport, &fakeMailbox{})

	reqs := []SendRequest{
		{To: []string{"one@example.com"}, Body: "a"},
		{To: []string{"two@example.com"}, Body: "b"},
		{To: []string{"bogus"}, Body: "c"},
	}

	results := gw.SendBulk(context.Background(), reqs, time.Millisecond, 2)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.False(t, results[2].Success)
	assert.Error(t, results[2].Err)
	assert.Equal(t, 2, transport.submitted)
}

func TestSendBulkCanceled(t *testing.T) {
	transport := &fakeTransport{}
	gw := testGateway(transport, &fakeMailbox{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reqs := []SendRequest{
		{To: []string{"one@example.com"}},
		{To: []string{"two@example.com"}},
	}

	results := gw.SendBulk(ctx, reqs, time.Minute, 10)
	assert.Len(t, results, 1)
}

func TestTestConnections(t *testing.T) {
	tests := []struct {
		smtpErr  error
		imapErr  error
		expected ConnState
	}{
		{nil, nil, ConnState{SMTP: true, IMAP: true}},
		{errors.New("smtp down"), nil, ConnState{IMAP: true}},
		{nil, errors.New("imap down"), ConnState{SMTP: true}},
		{errors.New("smtp down"), errors.New("imap down"), ConnState{}},
	}

	for i, tt := range tests {
		transport := &fakeTransport{checkErr: tt.smtpErr}
		mbox := &fakeMailbox{checkErr: tt.imapErr}
		gw := testGateway(transport, mbox)

		assert.Equal(t, tt.expected, gw.TestConnections(context.Background()), "case %d", i)
	}
}

func TestIssueAndVerifyOTP(t *testing.T) {
	gw := testGateway(&fakeTransport{}, &fakeMailbox{})

	code, err := gw.IssueOTP("user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, code)

	assert.True(t, gw.VerifyOTP("user@example.com", code))
	assert.False(t, gw.VerifyOTP("user@example.com", "000000x"))
	assert.False(t, gw.VerifyOTP("stranger@example.com", code))
}

func TestIssueOTPRateLimited(t *testing.T) {
	gw := testGateway(&fakeTransport{}, &fakeMailbox{})

	_, err := gw.IssueOTP("user@example.com")
	require.NoError(t, err)

	_, err = gw.IssueOTP("user@example.com")
	require.Error(t, err)

	var rateErr *otp.RateLimitError
	assert.True(t, errors.As(err, &rateErr))
}
