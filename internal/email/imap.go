package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/recibo/invoicer/internal/oauth2"
)

// IMAPConfig carries the connection settings for an IMAP provider.
type IMAPConfig struct {
	Server     string `yaml:"server"`
	Port       int    `yaml:"port"`
	Timeout    int    `yaml:"timeout"` // seconds
	VerifyCert bool   `yaml:"verify_cert"`
}

// IMAPSource is a MailSource over IMAP with XOAUTH2 bearer authentication.
// Gmail is the primary target but nothing here is Gmail-specific.
type IMAPSource struct {
	cfg          IMAPConfig
	emailAddress string
	accessToken  string
	logger       *slog.Logger
	client       *client.Client
}

// NewIMAPSource creates a source for one account. The connection is opened
// lazily on first use.
func NewIMAPSource(cfg IMAPConfig, emailAddress, accessToken string, logger *slog.Logger) *IMAPSource {
	return &IMAPSource{
		cfg:          cfg,
		emailAddress: emailAddress,
		accessToken:  accessToken,
		logger:       logger,
	}
}

func (s *IMAPSource) connect() error {
	if s.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Server, s.cfg.Port)
	s.logger.Debug("connecting to IMAP server", "server", addr, "username", s.emailAddress)

	tlsConfig := &tls.Config{
		ServerName:         s.cfg.Server,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !s.cfg.VerifyCert,
	}

	c, err := client.DialTLS(addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	if s.cfg.Timeout > 0 {
		c.Timeout = time.Duration(s.cfg.Timeout) * time.Second
	}

	if err := c.Authenticate(oauth2.NewXOAUTH2Client(s.emailAddress, s.accessToken)); err != nil {
		c.Logout()
		return fmt.Errorf("XOAUTH2 authentication failed: %w", err)
	}

	s.client = c
	s.logger.Debug("IMAP session established", "username", s.emailAddress)
	return nil
}

// ListFolders lists every folder and resolves its UIDVALIDITY via STATUS.
// Folders that refuse STATUS (permission errors, \Noselect mailboxes) are
// logged and skipped.
func (s *IMAPSource) ListFolders(ctx context.Context) ([]Folder, error) {
	if err := s.connect(); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var names []string
	for m := range mailboxes {
		names = append(names, m.Name)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	var folders []Folder
	for _, name := range names {
		status, err := s.client.Status(name, []imap.StatusItem{imap.StatusUidValidity})
		if err != nil {
			s.logger.Warn("skipping folder, status failed", "folder", name, "error", err)
			continue
		}
		folders = append(folders, Folder{
			Name:        name,
			UIDValidity: fmt.Sprintf("%d", status.UidValidity),
		})
	}

	s.logger.Debug("listed folders", "count", len(folders))
	return folders, nil
}

// Fetch selects the folder and downloads unseen messages.
//
// Cold start (both watermarks nil) takes the newest limit UIDs. Warm and
// backfill regimes search UID > high and UID < low respectively and merge via
// BuildBatch, so new arrivals survive truncation at the expense of
// historical backlog.
func (s *IMAPSource) Fetch(ctx context.Context, folder string, high, low *int64, limit int) ([]Message, error) {
	if err := s.connect(); err != nil {
		return nil, err
	}

	if _, err := s.client.Select(folder, true); err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", folder, err)
	}

	plan := planSearches(high, low)

	var batch []int64
	if plan.cold {
		all, err := s.searchUIDRange(plan.arrivals.From, plan.arrivals.To)
		if err != nil {
			return nil, err
		}
		batch = TailUIDs(all, limit)
	} else {
		var arrivals, historical []int64
		if plan.arrivals != nil {
			uids, err := s.searchUIDRange(plan.arrivals.From, plan.arrivals.To)
			if err != nil {
				return nil, err
			}
			// A high+1:* search with no new mail still returns the
			// max-UID message; drop anything at or below the mark.
			arrivals = above(uids, *high)
		}
		if plan.historical != nil {
			uids, err := s.searchUIDRange(plan.historical.From, plan.historical.To)
			if err != nil {
				return nil, err
			}
			historical = uids
		}
		batch = BuildBatch(arrivals, historical, limit)
	}

	s.logger.Debug("fetch plan computed",
		"folder", folder,
		"uids", len(batch),
		"limit", limit,
	)

	messages := make([]Message, 0, len(batch))
	for _, uid := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := s.fetchOne(uid)
		if err != nil {
			s.logger.Warn("skipping message, fetch failed", "folder", folder, "uid", uid, "error", err)
			continue
		}
		messages = append(messages, Message{UID: uid, Raw: raw})
	}

	return messages, nil
}

// searchUIDRange issues UID SEARCH UID from:to. to == 0 means "*".
func (s *IMAPSource) searchUIDRange(from, to uint32) ([]int64, error) {
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, to)

	criteria := imap.NewSearchCriteria()
	criteria.Uid = seqset

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("UID search failed: %w", err)
	}

	result := make([]int64, 0, len(uids))
	for _, uid := range uids {
		result = append(result, int64(uid))
	}
	return result, nil
}

func (s *IMAPSource) fetchOne(uid int64) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, ch)
	}()

	var raw []byte
	for msg := range ch {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		b, err := io.ReadAll(body)
		if err != nil {
			<-done
			return nil, fmt.Errorf("failed to read message body: %w", err)
		}
		raw = b
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no message data received")
	}
	return raw, nil
}

// Close logs out and drops the connection.
func (s *IMAPSource) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Logout()
	s.client = nil
	return err
}
