package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func channel(t *testing.T, createdAt int64, content string) nostr.Event {
	t.Helper()
	evt := nostr.Event{
		CreatedAt: nostr.Timestamp(createdAt),
		Kind:      40,
		Tags:      nostr.Tags{},
		Content:   content,
	}
	require.NoError(t, evt.Sign(nostr.GeneratePrivateKey()))
	return evt
}

func TestDirectory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dir.db")

	d, err := Open(path)
	require.NoError(t, err)

	newer := channel(t, 200, `{"name":"newer"}`)
	older := channel(t, 100, `{"name":"older"}`)
	elsewhere := channel(t, 50, `{"name":"elsewhere"}`)

	require.NoError(t, d.SaveChannel(ctx, "wss://a", newer))
	require.NoError(t, d.SaveChannel(ctx, "wss://a", older))
	require.NoError(t, d.SaveChannel(ctx, "wss://a", older))
	require.NoError(t, d.SaveChannel(ctx, "wss://b", elsewhere))
	require.NoError(t, d.Close())

	// reopen to make sure the data is on disk
	d, err = Open(path)
	require.NoError(t, err)
	defer d.Close()

	got, err := d.Channels(ctx, "wss://a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, older.ID, got[0].ID)
	assert.Equal(t, older.Content, got[0].Content)
	assert.Equal(t, older.Sig, got[0].Sig)
	assert.Equal(t, newer.ID, got[1].ID)

	got, err = d.Channels(ctx, "wss://a", newer.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, newer.ID, got[0].ID)

	got, err = d.Channels(ctx, "wss://unknown")
	require.NoError(t, err)
	assert.Empty(t, got)
}
