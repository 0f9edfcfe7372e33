package storage_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaceboats/busbus/parse"
	"github.com/spaceboats/busbus/storage"
	"github.com/spaceboats/busbus/testutil"
)

func sampleFiles() map[string][]string {
	return map[string][]string{
		"agency.txt": {"agency_id,agency_name,agency_url,agency_timezone", "A1,Agency,http://example.com,UTC"},
		"routes.txt": {"route_id,route_short_name,route_type", "R1,1,3", "R2,2,3", "R3,3,3", "R4,4,3", "R5,5,3"},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"S1,One,0,0", "S2,Two,0,0", "S3,Three,0,0", "S4,Four,0,0",
			"S5,Five,0,0", "S6,Six,0,0", "S7,Seven,0,0", "S8,Eight,0,0", "S9,Nine,0,0",
		},
		"calendar.txt": {"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday", "DAILY,20240101,20241231,1,1,1,1,1,1,1"},
		"trips.txt":    {"trip_id,route_id,service_id,direction_id", "T1,R1,DAILY,0"},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,arrival_time,departure_time",
			"T1,S1,1,6:00:00,6:00:00",
		},
	}
}

func ingest(t *testing.T, s storage.Storage, url string, buf []byte) int64 {
	t.Helper()
	sum := sha256.Sum256(buf)
	feed, writer, err := s.Ingest(context.Background(), url, hex.EncodeToString(sum[:]))
	require.NoError(t, err)
	if feed != nil {
		return feed.ID
	}
	require.NoError(t, parse.ParseStatic(writer, buf))
	require.NoError(t, writer.Commit(context.Background()))
	return writer.FeedID()
}

// S6-style: ingesting the same feed bytes twice against one Storage
// reuses the first feed id rather than duplicating rows, keyed by
// (url, sha256sum).
func TestIngestIsIdempotentByContentHash(t *testing.T) {
	buf := testutil.BuildZip(t, sampleFiles())
	s := testutil.BuildStorage(t, "sqlite")
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	const url = "test://fixture/idempotent"

	firstID := ingest(t, s, url, buf)
	secondID := ingest(t, s, url, buf)
	assert.Equal(t, firstID, secondID, "re-ingesting the same (url, sha256sum) must reuse the feed id")

	reader := s.Reader(firstID)
	agencies, err := reader.Agencies(ctx)
	require.NoError(t, err)
	assert.Len(t, agencies, 1)

	stops, err := reader.Stops(ctx)
	require.NoError(t, err)
	assert.Len(t, stops, 9)

	routes, err := reader.Routes(ctx)
	require.NoError(t, err)
	assert.Len(t, routes, 5)
}

// Two feeds with different content hashes get distinct feed ids and
// don't leak rows into each other's reader.
func TestIngestDifferentContentGetsDistinctFeeds(t *testing.T) {
	s := testutil.BuildStorage(t, "sqlite")
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	files1 := sampleFiles()
	files2 := sampleFiles()
	files2["stops.txt"] = append(files2["stops.txt"], "S10,Ten,0,0")

	id1 := ingest(t, s, "test://fixture/a", testutil.BuildZip(t, files1))
	id2 := ingest(t, s, "test://fixture/b", testutil.BuildZip(t, files2))

	assert.NotEqual(t, id1, id2)

	stops1, err := s.Reader(id1).Stops(ctx)
	require.NoError(t, err)
	assert.Len(t, stops1, 9)

	stops2, err := s.Reader(id2).Stops(ctx)
	require.NoError(t, err)
	assert.Len(t, stops2, 10)
}
