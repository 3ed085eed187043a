package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// GDriveConfig holds the Google Drive backend settings.
type GDriveConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	ParentFolderID  string `yaml:"parent_folder_id"`
}

// GDriveStore implements Store on Google Drive. Drive has no key hierarchy,
// so the full object key becomes the file name inside one parent folder;
// lookups go through a name query.
type GDriveStore struct {
	service  *drive.Service
	parentID string
	logger   *slog.Logger
}

// NewGDriveStore creates a Drive-backed artifact store.
func NewGDriveStore(ctx context.Context, cfg GDriveConfig, logger *slog.Logger) (*GDriveStore, error) {
	service, err := drive.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive client: %w", err)
	}
	return &GDriveStore{
		service:  service,
		parentID: cfg.ParentFolderID,
		logger:   logger,
	}, nil
}

func (g *GDriveStore) findByKey(ctx context.Context, key string) (string, error) {
	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		strings.ReplaceAll(key, "'", "\\'"), g.parentID)
	list, err := g.service.Files.List().
		Context(ctx).
		Q(query).
		Fields("files(id)").
		PageSize(1).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to query Drive for %s: %w", key, err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func (g *GDriveStore) Exists(ctx context.Context, key string) (bool, error) {
	id, err := g.findByKey(ctx, key)
	if err != nil {
		return false, err
	}
	return id != "", nil
}

func (g *GDriveStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	file := &drive.File{
		Name:     key,
		Parents:  []string{g.parentID},
		MimeType: contentType,
	}
	uploaded, err := g.service.Files.Create(file).
		Context(ctx).
		Media(bytes.NewReader(data)).
		Do()
	if err != nil {
		return fmt.Errorf("failed to upload file %s: %w", key, err)
	}
	g.logger.Debug("uploaded artifact", "key", key, "drive_id", uploaded.Id, "bytes", len(data))
	return nil
}

func (g *GDriveStore) Get(ctx context.Context, key string) ([]byte, error) {
	id, err := g.findByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("artifact %s not found", key)
	}
	resp, err := g.service.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
