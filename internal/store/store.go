// Package store persists sources, source folders and invoices, and owns the
// chunk commit: one transaction that inserts a chunk's invoices and expands
// the folder's watermarks together.
package store

import (
	"context"
	"errors"

	"github.com/recibo/invoicer/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence contract the ingestion pipeline runs against.
type Store interface {
	// ListSources returns every configured mailbox account, ordered by id.
	ListSources(ctx context.Context) ([]*models.Source, error)

	// GetSource returns one source or ErrNotFound.
	GetSource(ctx context.Context, id int64) (*models.Source, error)

	// GetFolder returns one source folder or ErrNotFound.
	GetFolder(ctx context.Context, id int64) (*models.SourceFolder, error)

	// FindFolder looks a folder up by its identity triple, returning
	// ErrNotFound when no row matches. A remote folder whose UIDVALIDITY
	// changed will miss here and get a fresh record via CreateFolder.
	FindFolder(ctx context.Context, sourceID int64, folderName, uidValidity string) (*models.SourceFolder, error)

	// CreateFolder inserts a new tracking record with null watermarks.
	CreateFolder(ctx context.Context, sourceID int64, folderName, uidValidity string) (*models.SourceFolder, error)

	// CommitChunk atomically inserts the chunk's invoices (duplicates by
	// invoice number are silently dropped) and widens the folder's
	// watermarks to cover every UID in attempted. Either both writes become
	// visible or neither does. attempted must not be empty.
	CommitChunk(ctx context.Context, folderID int64, invoices []*models.Invoice, attempted []int64) error

	// Close releases the underlying connections.
	Close() error
}
