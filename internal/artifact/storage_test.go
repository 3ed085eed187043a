package artifact

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_Layout(t *testing.T) {
	got := Key("u1", 7, "INBOX", "100", 42, "invoice.pdf")
	assert.Equal(t, "u1/7/INBOX/100/42/invoice.pdf", got)
}

func TestKey_StripsDirectories(t *testing.T) {
	assert.Equal(t, "u1/7/INBOX/100/42/invoice.pdf",
		Key("u1", 7, "INBOX", "100", 42, "../../etc/invoice.pdf"))
	assert.Equal(t, "u1/7/INBOX/100/42/invoice.pdf",
		Key("u1", 7, "INBOX", "100", 42, `C:\files\invoice.pdf`))
}

func TestKey_EmptyFilename(t *testing.T) {
	assert.Equal(t, "u1/7/INBOX/100/42/attachment.bin",
		Key("u1", 7, "INBOX", "100", 42, ""))
}

func TestKey_StableAcrossCalls(t *testing.T) {
	a := Key("u1", 7, "INBOX", "100", 42, "scan.pdf")
	b := Key("u1", 7, "INBOX", "100", 42, "scan.pdf")
	assert.Equal(t, a, b, "keys must be deterministic for idempotent uploads")
}

func TestFileStore_RoundTrip(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	fs, err := NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)

	ctx := context.Background()
	key := Key("u1", 1, "INBOX", "100", 5, "doc.pdf")

	exists, err := fs.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, fs.Put(ctx, key, []byte("content"), "application/pdf"))

	exists, err = fs.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := fs.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)
}
