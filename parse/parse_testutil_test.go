package parse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaceboats/busbus/storage"
)

// newTestWriter opens a throwaway in-memory SQLite store and returns a
// FeedWriter for a brand new feed, plus the store itself so tests can
// build a reader after writing (and Commit/Rollback as needed).
func newTestWriter(t *testing.T) (storage.Storage, storage.FeedWriter) {
	s, err := storage.NewSQLiteStorage()
	require.NoError(t, err)

	const fakeSHA256 = "da39a3ee5e6b4b0d3255bfef95601890afd80709da39a3ee5e6b4b0d325b5c6"
	feed, writer, err := s.Ingest(context.Background(), "test://fixture", fakeSHA256)
	require.NoError(t, err)
	require.Nil(t, feed)

	return s, writer
}
