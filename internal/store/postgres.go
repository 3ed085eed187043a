package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/recibo/invoicer/internal/dbx"
	"github.com/recibo/invoicer/internal/models"
)

// Postgres implements Store over a pgx stdlib connection pool.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{db: db, logger: logger}, nil
}

// NewPostgres wraps an existing connection, used by tests.
func NewPostgres(db *sql.DB, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for migrations.
func (s *Postgres) DB() *sql.DB {
	return s.db
}

const sourceColumns = `id, user_id, name, email_address, source_type,
	oauth2_access_token, oauth2_refresh_token, oauth2_access_token_expires_at,
	created_at, updated_at`

func scanSource(row interface{ Scan(...any) error }) (*models.Source, error) {
	var src models.Source
	var accessToken, refreshToken sql.NullString
	var expiresAt sql.NullTime
	err := row.Scan(
		&src.ID, &src.UserID, &src.Name, &src.EmailAddress, &src.SourceType,
		&accessToken, &refreshToken, &expiresAt,
		&src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	src.AccessToken = accessToken.String
	src.RefreshToken = refreshToken.String
	if expiresAt.Valid {
		t := expiresAt.Time
		src.AccessTokenExpiresAt = &t
	}
	return &src, nil
}

func (s *Postgres) ListSources(ctx context.Context) ([]*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM source ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var result []*models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		result = append(result, src)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Postgres) GetSource(ctx context.Context, id int64) (*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM source WHERE id = $1`
	src, err := scanSource(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %d: %w", id, err)
	}
	return src, nil
}

const folderColumns = `id, source_id, folder_name, uid_validity,
	high_water_mark, low_water_mark, last_processed_at, created_at, updated_at`

func scanFolder(row interface{ Scan(...any) error }) (*models.SourceFolder, error) {
	var f models.SourceFolder
	var high, low sql.NullInt64
	var lastProcessed sql.NullTime
	err := row.Scan(
		&f.ID, &f.SourceID, &f.FolderName, &f.UIDValidity,
		&high, &low, &lastProcessed, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if high.Valid {
		v := high.Int64
		f.HighWaterMark = &v
	}
	if low.Valid {
		v := low.Int64
		f.LowWaterMark = &v
	}
	if lastProcessed.Valid {
		t := lastProcessed.Time
		f.LastProcessedAt = &t
	}
	return &f, nil
}

func (s *Postgres) GetFolder(ctx context.Context, id int64) (*models.SourceFolder, error) {
	query := `SELECT ` + folderColumns + ` FROM source_folder WHERE id = $1`
	f, err := scanFolder(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source_folder %d: %w", id, err)
	}
	return f, nil
}

func (s *Postgres) FindFolder(ctx context.Context, sourceID int64, folderName, uidValidity string) (*models.SourceFolder, error) {
	query := `SELECT ` + folderColumns + ` FROM source_folder
		WHERE source_id = $1 AND folder_name = $2 AND uid_validity = $3`
	f, err := scanFolder(s.db.QueryRowContext(ctx, query, sourceID, folderName, uidValidity))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find source_folder: %w", err)
	}
	return f, nil
}

func (s *Postgres) CreateFolder(ctx context.Context, sourceID int64, folderName, uidValidity string) (*models.SourceFolder, error) {
	query := `INSERT INTO source_folder (source_id, folder_name, uid_validity, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING ` + folderColumns
	f, err := scanFolder(s.db.QueryRowContext(ctx, query, sourceID, folderName, uidValidity))
	if err != nil {
		return nil, fmt.Errorf("failed to create source_folder: %w", err)
	}
	s.logger.Info("created source_folder",
		"id", f.ID,
		"source_id", sourceID,
		"folder", folderName,
		"uid_validity", uidValidity,
	)
	return f, nil
}

// CommitChunk runs the chunk transaction: bulk insert of extracted invoices
// with insert-if-absent semantics on invoice_number, then outward expansion of
// the folder's watermarks over every attempted UID. The folder row is locked
// for the duration so concurrent commits cannot interleave watermark reads
// and writes.
func (s *Postgres) CommitChunk(ctx context.Context, folderID int64, invoices []*models.Invoice, attempted []int64) error {
	if len(attempted) == 0 {
		return fmt.Errorf("commit chunk: no attempted uids for folder %d", folderID)
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

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var high, low sql.NullInt64
		lockQuery := `SELECT high_water_mark, low_water_mark FROM source_folder WHERE id = $1 FOR UPDATE`
		if err := tx.QueryRowContext(ctx, lockQuery, folderID).Scan(&high, &low); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock source_folder %d: %w", folderID, err)
		}

		for _, inv := range invoices {
			if err := insertInvoice(ctx, tx, inv); err != nil {
				return err
			}
		}

		newHigh := chunkHigh
		if high.Valid && high.Int64 > newHigh {
			newHigh = high.Int64
		}
		newLow := chunkLow
		if low.Valid && low.Int64 < newLow {
			newLow = low.Int64
		}

		updateQuery := `UPDATE source_folder
			SET high_water_mark = $1, low_water_mark = $2, last_processed_at = now(), updated_at = now()
			WHERE id = $3`
		if _, err := tx.ExecContext(ctx, updateQuery, newHigh, newLow, folderID); err != nil {
			return fmt.Errorf("failed to update watermarks for source_folder %d: %w", folderID, err)
		}

		s.logger.Debug("chunk committed",
			"source_folder_id", folderID,
			"invoices", len(invoices),
			"high_water_mark", newHigh,
			"low_water_mark", newLow,
		)
		return nil
	})
}

func insertInvoice(ctx context.Context, tx dbx.DBTX, inv *models.Invoice) error {
	lineItems, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("failed to marshal line items: %w", err)
	}
	attachedFiles, err := json.Marshal(inv.AttachedFiles)
	if err != nil {
		return fmt.Errorf("failed to marshal attached files: %w", err)
	}

	var dueDate *time.Time
	if inv.DueDate != nil {
		dueDate = inv.DueDate
	}

	// Empty strings become NULLs so extractions without an invoice number
	// do not collide on the natural-key index.
	messageID := nullString(inv.MessageID)
	invoiceNumber := nullString(inv.InvoiceNumber)

	query := `INSERT INTO invoice (
			user_id, source_id, uid, message_id,
			invoice_number, vendor_name, due_date,
			total_amount, currency, payment_status,
			line_items, attached_files, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (invoice_number) DO NOTHING`
	_, err = tx.ExecContext(ctx, query,
		inv.UserID, inv.SourceID, inv.UID, messageID,
		invoiceNumber, inv.VendorName, dueDate,
		inv.TotalAmount, inv.Currency, inv.PaymentStatus,
		lineItems, attachedFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice %q: %w", inv.InvoiceNumber, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
