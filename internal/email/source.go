// Package email fetches raw messages from remote mailboxes. The fetch is
// watermark-driven: given the high/low bounds already processed for a folder,
// it pulls new arrivals and backfills history in one pass.
package email

import "context"

// Folder identifies a remote folder together with its epoch. UIDValidity
// changes when the folder is recreated, at which point every previously seen
// UID is meaningless.
type Folder struct {
	Name        string
	UIDValidity string
}

// Message is one fetched message: its remote UID and the raw RFC 822 bytes.
// UIDs are assigned monotonically within one UIDVALIDITY epoch and never
// reused.
type Message struct {
	UID int64
	Raw []byte
}

// Source is a connected remote mailbox. Implementations are not safe for
// concurrent use; the orchestrator opens one per worker.
type Source interface {
	// ListFolders returns every folder with its current UIDVALIDITY.
	// Folders that exist but cannot be queried are skipped, not fatal.
	ListFolders(ctx context.Context) ([]Folder, error)

	// Fetch returns unseen messages for folder according to the watermark
	// state. See BuildBatch for the selection and ordering rules.
	// Individual messages that fail to download are skipped.
	Fetch(ctx context.Context, folder string, high, low *int64, limit int) ([]Message, error)

	// Close terminates the connection. Safe to call more than once.
	Close() error
}
