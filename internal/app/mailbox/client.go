package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"slices"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
)

// SentFolder is where successfully submitted messages get appended.
const SentFolder = "Sent"

type Dialer interface {
	Dial(address string, options *imapclient.Options) (*imapclient.Client, error)
}

type DialerFunc func(string, *imapclient.Options) (*imapclient.Client, error)

func (f DialerFunc) Dial(address string, options *imapclient.Options) (*imapclient.Client, error) {
	return f(address, options)
}

// Client owns the single reusable IMAP session of the gateway. The
// session is not safe for concurrent use, so every operation serializes
// on the client's mutex and implicitly reconnects when the cached
// session fails its liveness probe.
type Client struct {
	dialer   Dialer
	address  string
	login    string
	password string
	logger   *slog.Logger

	mu   sync.Mutex // serializes all use of the single session
	conn *imapclient.Client
}

func NewClient(dialer Dialer, address, login, password string, logger *slog.Logger) *Client {
	return &Client{
		dialer:   dialer,
		address:  address,
		login:    login,
		password: password,
		logger:   logger,
	}
}

// connect returns a live session, reusing the cached one when a NOOP
// probe succeeds. Callers must hold c.mu.
func (c *Client) connect(ctx context.Context) (*imapclient.Client, error) {
	if c.conn != nil {
		if err := c.conn.Noop().Wait(); err == nil {
			c.logger.DebugContext(ctx, "reusing mailbox session")
			return c.conn, nil
		}
		_ = c.conn.Close()
		c.conn = nil
	}

	conn, err := c.dialer.Dial(c.address, &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	if err = conn.Login(c.login, c.password).Wait(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("login: %w", err)
	}

	c.conn = conn
	c.logger.InfoContext(ctx, "mailbox session established")
	return conn, nil
}

// Check verifies that a session can be established and authenticated.
func (c *Client) Check(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.connect(ctx)
	return err
}

// Close logs out and drops the cached session. Subsequent operations
// will dial a fresh one.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Logout().Wait()
	_ = c.conn.Close()
	c.conn = nil
	return err
}

// ListFolders returns the names of all mailbox folders.
func (c *Client) ListFolders(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	folders, err := conn.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}

	names := make([]string, 0, len(folders))
	for _, folder := range folders {
		names = append(names, folder.Mailbox)
	}
	return names, nil
}

// ListMessages fetches up to limit messages from the folder matching the
// filter expression, newest first. Messages that fail to parse are
// logged and skipped, never aborting the batch.
func (c *Client) ListMessages(ctx context.Context, folder string, limit int, filterExpr string, includeAttachments, markRead bool) ([]Message, error) {
	criteria, err := ParseFilter(filterExpr)
	if err != nil {
		return nil, err
	}
	return c.list(ctx, folder, limit, criteria, includeAttachments, markRead)
}

// Search runs a composite query, with attachment extraction always on.
func (c *Client) Search(ctx context.Context, query Query) ([]Message, error) {
	return c.list(ctx, query.Folder, query.Limit, query.Criteria(), true, false)
}

func (c *Client) list(ctx context.Context, folder string, limit int, criteria *imap.SearchCriteria, includeAttachments, markRead bool) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	if _, err = conn.Select(folder, &imap.SelectOptions{ReadOnly: !markRead}).Wait(); err != nil {
		return nil, fmt.Errorf("select %q: %w", folder, err)
	}

	data, err := conn.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	uids := lastDescending(data.AllUIDs(), limit)

	messages := make([]Message, 0, len(uids))
	for _, uid := range uids {
		msg, err := c.fetchOne(conn, uid, folder, includeAttachments)
		if err != nil {
			c.logger.ErrorContext(ctx, "message skipped",
				slog.Uint64("uid", uint64(uid)),
				slog.Any("error", err),
			)
			continue
		}

		if markRead {
			if err = storeFlag(conn, uid, imap.StoreFlagsAdd, imap.FlagSeen); err != nil {
				c.logger.WarnContext(ctx, "mark as read failed",
					slog.Uint64("uid", uint64(uid)),
					slog.Any("error", err),
				)
			} else {
				msg.IsRead = true
			}
		}

		messages = append(messages, *msg)
	}

	return messages, nil
}

func (c *Client) fetchOne(conn *imapclient.Client, uid imap.UID, folder string, includeAttachments bool) (*Message, error) {
	bufs, err := conn.Fetch(imap.UIDSetNum(uid), fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if len(bufs) == 0 {
		return nil, fmt.Errorf("no fetch data for UID %d", uid)
	}

	raw := bufs[0].FindBodySection(bodySection)
	if len(raw) == 0 {
		return nil, fmt.Errorf("no body section for UID %d", uid)
	}

	return ParseMessage(raw, uid, folder, hasFlag(bufs[0].Flags, imap.FlagSeen), includeAttachments)
}

// MarkRead flags the given messages as seen. The whole batch reports a
// single outcome; the first failure is logged and surfaces as false.
func (c *Client) MarkRead(ctx context.Context, uids []imap.UID, folder string) bool {
	return c.mutate(ctx, folder, "mark as read", func(conn *imapclient.Client) error {
		for _, uid := range uids {
			if err := storeFlag(conn, uid, imap.StoreFlagsAdd, imap.FlagSeen); err != nil {
				return fmt.Errorf("store UID %d: %w", uid, err)
			}
		}
		return nil
	})
}

// Delete flags the given messages as deleted, then expunges the folder.
func (c *Client) Delete(ctx context.Context, uids []imap.UID, folder string) bool {
	return c.mutate(ctx, folder, "delete", func(conn *imapclient.Client) error {
		for _, uid := range uids {
			if err := storeFlag(conn, uid, imap.StoreFlagsAdd, imap.FlagDeleted); err != nil {
				return fmt.Errorf("store UID %d: %w", uid, err)
			}
		}
		if _, err := conn.Expunge().Collect(); err != nil {
			return fmt.Errorf("expunge: %w", err)
		}
		return nil
	})
}

// Move transfers the given messages from one folder to another.
func (c *Client) Move(ctx context.Context, uids []imap.UID, fromFolder, toFolder string) bool {
	return c.mutate(ctx, fromFolder, "move", func(conn *imapclient.Client) error {
		for _, uid := range uids {
			if _, err := conn.Move(imap.UIDSetNum(uid), toFolder).Wait(); err != nil {
				return fmt.Errorf("move UID %d: %w", uid, err)
			}
		}
		return nil
	})
}

func (c *Client) mutate(ctx context.Context, folder, op string, fn func(conn *imapclient.Client) error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, op+" failed", slog.Any("error", err))
		return false
	}

	if _, err = conn.Select(folder, nil).Wait(); err != nil {
		c.logger.ErrorContext(ctx, op+" failed",
			slog.String("folder", folder),
			slog.Any("error", err),
		)
		return false
	}

	if err = fn(conn); err != nil {
		c.logger.ErrorContext(ctx, op+" failed",
			slog.String("folder", folder),
			slog.Any("error", err),
		)
		return false
	}

	return true
}

// AppendToSent stores a copy of a submitted message in the Sent folder.
func (c *Client) AppendToSent(ctx context.Context, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	cmd := conn.Append(SentFolder, int64(len(raw)), nil)
	if _, err = cmd.Write(raw); err != nil {
		return fmt.Errorf("append write: %w", err)
	}
	if err = cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}
	if _, err = cmd.Wait(); err != nil {
		return fmt.Errorf("append: %w", err)
	}

	return nil
}

func storeFlag(conn *imapclient.Client, uid imap.UID, op imap.StoreFlagsOp, flag imap.Flag) error {
	return conn.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  []imap.Flag{flag},
	}, nil).Close()
}

// lastDescending takes the last limit identifiers in ascending order and
// returns them newest first. A non-positive limit keeps everything.
func lastDescending(uids []imap.UID, limit int) []imap.UID {
	sorted := make([]imap.UID, len(uids))
	copy(sorted, uids)
	slices.Sort(sorted)

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}

	slices.Reverse(sorted)
	return sorted
}

func hasFlag(flags []imap.Flag, want imap.Flag) bool {
	for _, flag := range flags {
		if strings.EqualFold(string(flag), string(want)) {
			return true
		}
	}
	return false
}

var bodySection = &imap.FetchItemBodySection{Peek: true}

var fetchOptions = &imap.FetchOptions{
	Envelope:     true,
	Flags:        true,
	InternalDate: true,
	RFC822Size:   true,
	UID:          true,
	BodySection:  []*imap.FetchItemBodySection{bodySection},
}
