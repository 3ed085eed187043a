// Package artifact stores attachment content under deterministic,
// content-addressed keys so retried chunks never upload the same object
// twice.
package artifact

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Store is a content-addressable object store.
type Store interface {
	// Exists reports whether key is already stored.
	Exists(ctx context.Context, key string) (bool, error)
	// Put stores data under key. Callers check Exists first; Put on an
	// existing key overwrites, which is harmless because keys are
	// deterministic over immutable content.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns the stored bytes.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Key builds the object key for one attachment:
// {user}/{source}/{folder}/{uid_validity}/{uid}/{filename}.
// The key is globally unique and stable across reruns, which is what makes
// exists-before-put idempotency work. The filename is reduced to its base
// name so message-supplied paths cannot escape the prefix.
func Key(userID string, sourceID int64, folderName, uidValidity string, uid int64, filename string) string {
	safe := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if safe == "." || safe == "/" || safe == "" {
		safe = "attachment.bin"
	}
	return fmt.Sprintf("%s/%d/%s/%s/%d/%s", userID, sourceID, folderName, uidValidity, uid, safe)
}
