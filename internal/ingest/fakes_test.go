package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/recibo/invoicer/internal/email"
	"github.com/recibo/invoicer/internal/models"
	"github.com/recibo/invoicer/internal/semantic"
	"github.com/recibo/invoicer/internal/store"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.DiscardHandler)
}

// fakeStore is an in-memory store.Store that mirrors the transactional
// contract: CommitChunk either applies inserts and watermark expansion
// together or, when failCommit is set, changes nothing at all.
type fakeStore struct {
	mu         sync.Mutex
	sources    []*models.Source
	folders    map[int64]*models.SourceFolder
	invoices   map[string]*models.Invoice // by invoice number
	nextID     int64
	commits    int
	failList   error
	failCommit error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		folders:  make(map[int64]*models.SourceFolder),
		invoices: make(map[string]*models.Invoice),
	}
}

func (f *fakeStore) ListSources(ctx context.Context) ([]*models.Source, error) {
	if f.failList != nil {
		return nil, f.failList
	}
	return f.sources, nil
}

func (f *fakeStore) GetSource(ctx context.Context, id int64) (*models.Source, error) {
	for _, s := range f.sources {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetFolder(ctx context.Context, id int64) (*models.SourceFolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	folder, ok := f.folders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *folder
	return &cp, nil
}

func (f *fakeStore) FindFolder(ctx context.Context, sourceID int64, folderName, uidValidity string) (*models.SourceFolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, folder := range f.folders {
		if folder.SourceID == sourceID && folder.FolderName == folderName && folder.UIDValidity == uidValidity {
			cp := *folder
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateFolder(ctx context.Context, sourceID int64, folderName, uidValidity string) (*models.SourceFolder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	folder := &models.SourceFolder{
		ID:          f.nextID,
		SourceID:    sourceID,
		FolderName:  folderName,
		UIDValidity: uidValidity,
	}
	f.folders[folder.ID] = folder
	return folder, nil
}

func (f *fakeStore) CommitChunk(ctx context.Context, folderID int64, invoices []*models.Invoice, attempted []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCommit != nil {
		return f.failCommit
	}
	folder, ok := f.folders[folderID]
	if !ok {
		return store.ErrNotFound
	}
	if len(attempted) == 0 {
		return fmt.Errorf("empty attempted set")
	}

	for _, inv := range invoices {
		if inv.InvoiceNumber != "" {
			if _, dup := f.invoices[inv.InvoiceNumber]; dup {
				continue
			}
			f.invoices[inv.InvoiceNumber] = inv
		}
	}

	chunkHigh, chunkLow := attempted[0], attempted[0]
	for _, uid := range attempted[1:] {
		if uid > chunkHigh {
			chunkHigh = uid
		}
		if uid < chunkLow {
			chunkLow = uid
		}
	}
	if folder.HighWaterMark == nil || chunkHigh > *folder.HighWaterMark {
		folder.HighWaterMark = &chunkHigh
	}
	if folder.LowWaterMark == nil || chunkLow < *folder.LowWaterMark {
		folder.LowWaterMark = &chunkLow
	}
	f.commits++
	return nil
}

func (f *fakeStore) Close() error { return nil }

// fakeMailSource serves a fixed folder listing and canned messages.
type fakeMailSource struct {
	folders  []email.Folder
	messages map[string][]email.Message // by folder name
	listErr  error
	fetchErr error
	failFor  map[string]error // per-folder fetch failures
	closed   bool
}

func (f *fakeMailSource) ListFolders(ctx context.Context) ([]email.Folder, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.folders, nil
}

func (f *fakeMailSource) Fetch(ctx context.Context, folder string, high, low *int64, limit int) ([]email.Message, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if err := f.failFor[folder]; err != nil {
		return nil, err
	}
	msgs := f.messages[folder]
	var out []email.Message
	for _, m := range msgs {
		if high != nil && m.UID <= *high {
			if low == nil || m.UID >= *low {
				continue
			}
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMailSource) Close() error {
	f.closed = true
	return nil
}

// fakeEngine classifies by subject: anything mentioning "invoice" is one.
// Extraction derives the invoice number from the subject's last word so each
// test message controls its own natural key.
type fakeEngine struct {
	classifyErr error
	extractErr  error
	extractNil  bool
}

func (f *fakeEngine) Classify(ctx context.Context, m *models.ParsedEmail) (*models.Classification, error) {
	if f.classifyErr != nil {
		return nil, f.classifyErr
	}
	return &models.Classification{
		IsInvoice: strings.Contains(strings.ToLower(m.Subject), "invoice"),
	}, nil
}

func (f *fakeEngine) Extract(ctx context.Context, m *models.ParsedEmail) (*semantic.InvoiceFields, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	if f.extractNil {
		return nil, nil
	}
	words := strings.Fields(m.Subject)
	number := words[len(words)-1]
	return &semantic.InvoiceFields{
		InvoiceNumber: number,
		VendorName:    "Acme Corp",
		Currency:      "USD",
	}, nil
}

// fakeArtifacts keeps uploads in a map.
type fakeArtifacts struct {
	mu        sync.Mutex
	objects   map[string][]byte
	existsErr error
	putErr    error
	puts      int
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{objects: make(map[string][]byte)}
}

func (f *fakeArtifacts) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeArtifacts) Put(ctx context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = data
	f.puts++
	return nil
}

func (f *fakeArtifacts) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return data, nil
}

// rawEmail builds a minimal RFC 822 message the parser accepts.
func rawEmail(subject, body string) []byte {
	return []byte("From: billing@vendor.test\r\n" +
		"To: inbox@user.test\r\n" +
		"Subject: " + subject + "\r\n" +
		"Message-ID: <" + strings.ReplaceAll(subject, " ", "-") + "@vendor.test>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		body + "\r\n")
}
