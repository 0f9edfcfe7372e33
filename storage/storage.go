// Package storage implements the Feed Store: a relational cache of
// parsed GTFS data, keyed by (url, sha256sum) so that re-fetching an
// unchanged feed is a no-op. A single Storage holds every feed ever
// ingested into it, discriminated internally by a feed id -- a
// deliberate departure from one-database-per-feed-hash layouts, so
// that many feeds share one connection. Every read handle is scoped to
// a single feed; no query spans feeds.
package storage

import (
	"context"
	"time"

	"github.com/spaceboats/busbus/model"
)

// Storage is a Feed Store: it owns feed bookkeeping (ListFeeds,
// Ingest) and hands out read handles scoped to one ingested feed.
type Storage interface {
	// ListFeeds returns bookkeeping rows for every feed matching
	// filter.
	ListFeeds(ctx context.Context, filter ListFeedsFilter) ([]model.Feed, error)

	// Ingest begins ingestion of a feed fetched from url with the
	// given content hash. If a feed with the same (url, sha256sum)
	// already exists its id is returned directly, without handing
	// back a writer -- callers should treat a non-nil existing
	// *model.Feed as "nothing to do." Otherwise a writer is returned
	// for the caller to fill in and Commit.
	Ingest(ctx context.Context, url, sha256sum string) (*model.Feed, FeedWriter, error)

	// DeleteFeed removes a feed and all of its data.
	DeleteFeed(ctx context.Context, feedID int64) error

	// Reader returns a read handle scoped to one ingested feed.
	Reader(feedID int64) FeedReader

	Close() error
}

type ListFeedsFilter struct {
	URL    string
	SHA256 string
}

// FeedWriter accepts parsed rows for one feed and, on Commit, performs
// the derived-work pass (stop_time interpolation, per-trip minimum
// arrival, the stops-by-route reverse index) before making the feed
// visible to readers. Rollback discards everything written so far,
// including the feed's own bookkeeping row.
type FeedWriter interface {
	FeedID() int64

	WriteAgency(model.Agency) error
	WriteStop(model.Stop) error
	WriteRoute(model.Route) error
	WriteTrip(model.Trip) error
	WriteCalendar(model.Calendar) error
	WriteCalendarDate(model.CalendarDate) error
	WriteStopTime(model.StopTime) error
	WriteFrequency(model.Frequency) error

	// Commit runs the derived-work pass and makes the feed durable.
	Commit(ctx context.Context) error
	Rollback() error
}

// FeedReader answers queries scoped to a single ingested feed.
type FeedReader interface {
	Agencies(ctx context.Context) ([]model.Agency, error)
	Stops(ctx context.Context) ([]model.Stop, error)
	Routes(ctx context.Context) ([]model.Route, error)
	Trips(ctx context.Context) ([]model.Trip, error)

	Agency(ctx context.Context, id string) (*model.Agency, error)
	Stop(ctx context.Context, id string) (*model.Stop, error)
	Route(ctx context.Context, id string) (*model.Route, error)
	Trip(ctx context.Context, id string) (*model.Trip, error)

	// ActiveServices returns service_ids active on the given GTFS
	// date string ("YYYYMMDD").
	ActiveServices(ctx context.Context, date string) ([]string, error)

	// StopTimeEvents lists literal stop_times.txt rows matching filter,
	// joined with trip/route/stop data. It does not expand
	// frequencies.txt occurrences or apply Start/End as a date/time
	// window -- that walk belongs to the Scheduled Arrival Generator
	// (package busbus), which knows which service day it's asking
	// about and converts window bounds to noon-relative offsets itself.
	StopTimeEvents(ctx context.Context, filter StopTimeEventFilter) ([]*StopTimeEvent, error)

	// Frequencies lists frequencies.txt rows for the given trip ids. A
	// nil/empty tripIDs returns every frequency row in the feed.
	Frequencies(ctx context.Context, tripIDs []string) ([]model.Frequency, error)

	// RouteDirections lists the distinct (route, direction, headsign)
	// tuples observed passing through stopID, via the _stops_routes
	// reverse index built during ingestion.
	RouteDirections(ctx context.Context, stopID string) ([]model.RouteDirection, error)

	// NearbyStops lists stops within the store ordered by distance to
	// (lat, lon), optionally filtered to stops served by one of
	// routeTypes. limit <= 0 means unlimited.
	NearbyStops(ctx context.Context, lat, lon float64, limit int, routeTypes []model.RouteType) ([]model.Stop, error)

	Timezone(ctx context.Context) (string, error)
}

// StopTimeEventFilter narrows StopTimeEvents. Zero values are
// unrestricted except DirectionID, which defaults to "any" only when
// explicitly set to DirectionAny.
type StopTimeEventFilter struct {
	StopIDs    []string
	RouteIDs   []string
	RouteTypes []model.RouteType
	TripIDs    []string
	ServiceIDs []string

	DirectionID int8

	// Start and End are unused by StopTimeEvents; they remain part of
	// this struct so callers building a filter incrementally (e.g. the
	// Scheduled Arrival Generator) have one shared type, but the
	// date/window walk itself happens a layer up.
	Start time.Time
	End   time.Time
}

const DirectionAny int8 = -1

// StopTimeEvent is one scheduled visit of a trip at a stop, joined
// with the surrounding trip/route/stop context an arrival needs.
type StopTimeEvent struct {
	StopTime      model.StopTime
	Trip          model.Trip
	Route         model.Route
	Stop          model.Stop
	ParentStation *model.Stop

	// FrequencyHeadway is nonzero when this event originates from a
	// frequencies.txt expansion rather than a literal stop_times.txt
	// row; ServiceDate pins which calendar day this occurrence
	// belongs to.
	FrequencyHeadway int
	ServiceDate      string
}
