package busbus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spaceboats/busbus/downloader"
	"github.com/spaceboats/busbus/model"
	"github.com/spaceboats/busbus/parse"
	"github.com/spaceboats/busbus/storage"
)

// DefaultStaticRefreshInterval matches the teacher's: static feeds are
// rarely republished more than once a day, so there's no point
// re-fetching more often than this.
const DefaultStaticRefreshInterval = 12 * time.Hour

var ErrNoActiveFeed = errors.New("busbus: no feed available for this url")

// Manager owns the fetch/ingest lifecycle for one or more static GTFS
// feeds: given a URL, it returns a ready-to-query Static, fetching and
// parsing into the Feed Store only when nothing recent enough is
// already there. Unlike the teacher's Manager, there's no separate
// FeedMetadata bookkeeping table to keep in sync -- storage.Storage's
// single-row-per-URL Ingest semantics (old row deleted, new one
// inserted, in one transaction) already give "the latest feed for
// this URL" for free.
type Manager struct {
	RefreshInterval time.Duration
	Downloader      downloader.Downloader
	storage         storage.Storage
}

func NewManager(store storage.Storage, dl downloader.Downloader) *Manager {
	return &Manager{
		storage:         store,
		Downloader:      dl,
		RefreshInterval: DefaultStaticRefreshInterval,
	}
}

// LoadStatic returns a Static for url, fetching and ingesting it first
// if the Feed Store has nothing for this URL yet, or if the most
// recently ingested copy is older than RefreshInterval.
func (m *Manager) LoadStatic(ctx context.Context, name, url string) (*Static, error) {
	feeds, err := m.storage.ListFeeds(ctx, storage.ListFeedsFilter{URL: url})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}

	feed := mostRecent(feeds)
	if feed == nil || m.stale(feed) {
		refreshed, err := m.refresh(ctx, url)
		if err != nil {
			if feed == nil {
				return nil, fmt.Errorf("refreshing %s: %w", url, err)
			}
			// A stale-but-present feed is still usable if refresh
			// fails -- degrade rather than go dark.
		} else {
			feed = refreshed
		}
	}
	if feed == nil {
		return nil, ErrNoActiveFeed
	}

	return m.buildStatic(ctx, name, *feed)
}

// Refresh re-fetches every URL this Manager has ever ingested whose
// most recent copy is older than RefreshInterval.
func (m *Manager) Refresh(ctx context.Context) error {
	feeds, err := m.storage.ListFeeds(ctx, storage.ListFeedsFilter{})
	if err != nil {
		return fmt.Errorf("listing feeds: %w", err)
	}
	byURL := map[string][]model.Feed{}
	for _, f := range feeds {
		byURL[f.URL] = append(byURL[f.URL], f)
	}
	for url, group := range byURL {
		feed := mostRecent(group)
		if feed == nil || m.stale(feed) {
			if _, err := m.refresh(ctx, url); err != nil {
				return fmt.Errorf("refreshing %s: %w", url, err)
			}
		}
	}
	return nil
}

func (m *Manager) stale(feed *model.Feed) bool {
	if feed.RetrievedAt.IsZero() {
		return true
	}
	return time.Since(feed.RetrievedAt) > m.RefreshInterval
}

func mostRecent(feeds []model.Feed) *model.Feed {
	if len(feeds) == 0 {
		return nil
	}
	sort.Slice(feeds, func(i, j int) bool {
		return feeds[i].RetrievedAt.After(feeds[j].RetrievedAt)
	})
	return &feeds[0]
}

// refresh downloads url, and ingests it only if its content hash
// differs from whatever the Feed Store already has (Ingest itself
// detects this and, for an unchanged feed, hands back the existing
// feed and a nil writer).
func (m *Manager) refresh(ctx context.Context, url string) (*model.Feed, error) {
	dl := m.Downloader
	if dl == nil {
		dl = &downloader.Memory{}
	}
	body, err := dl.Get(ctx, url, nil, downloader.GetOptions{Timeout: 60 * time.Second, MaxSize: 256 << 20})
	if err != nil {
		return nil, fmt.Errorf("downloading: %w", err)
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	existing, writer, err := m.storage.Ingest(ctx, url, hash)
	if err != nil {
		return nil, fmt.Errorf("ingesting: %w", err)
	}
	if writer == nil {
		// Already have this exact content under this URL.
		return existing, nil
	}

	if err := parse.ParseStatic(writer, body); err != nil {
		writer.Rollback()
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	if err := writer.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing feed: %w", err)
	}

	feeds, err := m.storage.ListFeeds(ctx, storage.ListFeedsFilter{URL: url, SHA256: hash})
	if err != nil || len(feeds) == 0 {
		return &model.Feed{ID: writer.FeedID(), URL: url, SHA256: hash, RetrievedAt: time.Now()}, nil
	}
	return &feeds[0], nil
}

func (m *Manager) buildStatic(ctx context.Context, name string, feed model.Feed) (*Static, error) {
	reader := m.storage.Reader(feed.ID)
	tz, err := reader.Timezone(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}
	return NewStatic(name, feed.ID, reader, tz)
}
