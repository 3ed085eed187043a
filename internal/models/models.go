package models

import "time"

// Source is a remote mailbox account with its OAuth credentials. Rows are
// created and maintained by the external auth application; this service only
// reads them. The access token may be replaced in memory for the duration of
// one run, never written back.
type Source struct {
	ID                   int64
	UserID               string
	Name                 string
	EmailAddress         string
	SourceType           string // "gmail" for now
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresAt *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SourceFolder is the durable ingestion-progress record for one
// (source, folder name, UIDVALIDITY) triple. A changed UIDVALIDITY means the
// folder was recreated and all prior UIDs are meaningless, so reconciliation
// creates a fresh row instead of reusing this one.
//
// Watermarks are nil until the first chunk commits. Once set they only ever
// expand: HighWaterMark never decreases, LowWaterMark never increases.
type SourceFolder struct {
	ID              int64
	SourceID        int64
	FolderName      string
	UIDValidity     string
	HighWaterMark   *int64
	LowWaterMark    *int64
	LastProcessedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LineItem is one row of an extracted invoice, stored in the line_items JSON
// column.
type LineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
}

// AttachedFile maps an original attachment filename to its artifact-store key.
type AttachedFile struct {
	FileName string `json:"file_name"`
	FileKey  string `json:"file_key"`
}

// Invoice is the persisted extraction result. InvoiceNumber is the natural
// key: inserting a second invoice with the same number is silently a no-op.
type Invoice struct {
	ID            int64
	UserID        string
	SourceID      int64
	UID           int64  // remote message UID within the folder's epoch
	MessageID     string // RFC 5322 Message-ID header, may be empty
	InvoiceNumber string
	VendorName    string
	DueDate       *time.Time
	TotalAmount   *float64
	Currency      string
	PaymentStatus string
	LineItems     []LineItem
	AttachedFiles []AttachedFile
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Attachment is a decoded MIME part with its raw content, used only while a
// message is being processed.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ParsedEmail is the decoded form of one RFC 822 message handed to the
// classification engine.
type ParsedEmail struct {
	Subject     string
	From        string
	To          string
	Date        string
	MessageID   string
	BodyText    string
	BodyHTML    string
	Attachments []Attachment
}

// Body returns the preferred body for inference: plain text when present,
// HTML otherwise.
func (p *ParsedEmail) Body() string {
	if p.BodyText != "" {
		return p.BodyText
	}
	return p.BodyHTML
}

// Classification is the engine's verdict on a single email.
type Classification struct {
	IsInvoice  bool   `json:"is_invoice"`
	Confidence string `json:"confidence,omitempty"`
	Reasoning  string `json:"reasoning,omitempty"`
}

// MessageError records a single message that failed during chunk processing.
type MessageError struct {
	UID   int64  `json:"uid"`
	Error string `json:"error"`
}

// ChunkMetrics reports the outcome of one chunk, which is also one database
// transaction.
type ChunkMetrics struct {
	WorkerID       string         `json:"worker_id"`
	SourceFolderID int64          `json:"source_folder_id"`
	ChunkNum       int            `json:"chunk_num"`
	Fetched        int            `json:"emails_fetched"`
	Processed      int            `json:"emails_processed"`
	InvoicesFound  int            `json:"invoices_found"`
	NonInvoices    int            `json:"non_invoices"`
	Errors         []MessageError `json:"errors,omitempty"`
	Duration       time.Duration  `json:"duration_ns"`
	ClassifyTime   time.Duration  `json:"classification_ns"`
	ExtractTime    time.Duration  `json:"extraction_ns"`
	UploadTime     time.Duration  `json:"upload_ns"`
	CommitTime     time.Duration  `json:"commit_ns"`
}

// FolderResult is one worker's outcome, success or failure.
type FolderResult struct {
	SourceFolderID int64          `json:"source_folder_id"`
	FolderName     string         `json:"folder_name"`
	Fetched        int            `json:"emails_fetched"`
	Chunks         []ChunkMetrics `json:"chunks,omitempty"`
	InvoicesFound  int            `json:"invoices_found"`
	NonInvoices    int            `json:"non_invoices"`
	Errors         int            `json:"errors"`
	Err            string         `json:"error,omitempty"`
}

// RunSummary aggregates one full orchestration pass. It is always produced,
// even when every worker failed.
type RunSummary struct {
	RunID             string         `json:"run_id"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	SourcesProcessed  int            `json:"sources_processed"`
	SourcesSkipped    int            `json:"sources_skipped"`
	FoldersReconciled int            `json:"folders_reconciled"`
	WorkersSpawned    int            `json:"workers_spawned"`
	WorkersCompleted  int            `json:"workers_completed"`
	TotalFetched      int            `json:"total_emails_fetched"`
	TotalInvoices     int            `json:"total_invoices_found"`
	TotalNonInvoices  int            `json:"total_non_invoices"`
	TotalErrors       int            `json:"total_errors"`
	Results           []FolderResult `json:"results"`
}
