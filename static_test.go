package busbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaceboats/busbus/model"
	"github.com/spaceboats/busbus/storage"
	"github.com/spaceboats/busbus/testutil"
)

func buildStatic(t *testing.T, files map[string][]string, timezone string) *Static {
	t.Helper()
	_, feedID, reader := testutil.BuildFeed(t, "sqlite", files)
	if timezone == "" {
		timezone = "UTC"
	}
	st, err := NewStatic("test", feedID, reader, timezone)
	require.NoError(t, err)
	return st
}

// A Tuesday/Wednesday pair used throughout: 2024-01-02 is a Tuesday.
const (
	tuesday   = "20240102"
	wednesday = "20240103"
)

func weekdayFeed() map[string][]string {
	return map[string][]string{
		"agency.txt":   {"agency_id,agency_name,agency_url,agency_timezone", "A1,Agency,http://example.com,UTC"},
		"routes.txt":   {"route_id,route_short_name,route_type", "R1,1,3", "R2,2,3"},
		"stops.txt":    {"stop_id,stop_name,stop_lat,stop_lon", "S1,First,0,0", "S2,Second,0,0"},
		"calendar.txt": {"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday", "WEEKDAY,20240101,20241231,1,1,1,1,1,0,0"},
		"trips.txt": {
			"trip_id,route_id,service_id,direction_id,trip_headsign",
			"T1,R1,WEEKDAY,0,Downtown",
			"T2,R2,WEEKDAY,0,Uptown",
		},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,arrival_time,departure_time",
			"T1,S1,1,6:00:00,6:00:00",
			"T1,S2,2,6:10:00,6:10:00",
			"T2,S1,1,6:05:00,6:05:00",
		},
	}
}

// S1-style: a stop query spanning multiple routes returns arrivals from
// every route serving the stop, in time order.
func TestStaticArrivalsMultipleRoutesOrdered(t *testing.T) {
	st := buildStatic(t, weekdayFeed(), "UTC")
	ctx := context.Background()

	arrivals, err := st.Arrivals(ctx, ArrivalQuery{
		StopIDs:     []string{"S1"},
		DirectionID: storage.DirectionAny,
		Start:       time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC),
		Window:      2 * time.Hour,
		Limit:       -1,
	})
	require.NoError(t, err)
	require.Len(t, arrivals, 2)
	assert.Equal(t, "T1", arrivals[0].TripID)
	assert.Equal(t, "T2", arrivals[1].TripID)
	assert.True(t, arrivals[0].Time <= arrivals[1].Time)
}

// S2-style: a calendar_dates.txt removal excludes an otherwise-active
// weekday service on that specific date, pinning the ActiveOn fix.
func TestStaticArrivalsCalendarDatesRemoval(t *testing.T) {
	files := weekdayFeed()
	files["calendar_dates.txt"] = []string{
		"service_id,date,exception_type",
		"WEEKDAY," + tuesday + ",2",
	}
	st := buildStatic(t, files, "UTC")
	ctx := context.Background()

	arrivals, err := st.Arrivals(ctx, ArrivalQuery{
		StopIDs:     []string{"S1"},
		DirectionID: storage.DirectionAny,
		Start:       time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC),
		Window:      2 * time.Hour,
		Limit:       -1,
	})
	require.NoError(t, err)
	assert.Empty(t, arrivals, "service was removed for this date via calendar_dates.txt")

	// The following day is untouched.
	arrivals, err = st.Arrivals(ctx, ArrivalQuery{
		StopIDs:     []string{"S1"},
		DirectionID: storage.DirectionAny,
		Start:       time.Date(2024, 1, 3, 5, 0, 0, 0, time.UTC),
		Window:      2 * time.Hour,
		Limit:       -1,
	})
	require.NoError(t, err)
	assert.Len(t, arrivals, 2)
}

// S3-style: a query for a single stop only returns arrivals actually
// visiting that stop, not the whole feed.
func TestStaticArrivalsSingleStop(t *testing.T) {
	st := buildStatic(t, weekdayFeed(), "UTC")
	ctx := context.Background()

	arrivals, err := st.Arrivals(ctx, ArrivalQuery{
		StopIDs:     []string{"S2"},
		DirectionID: storage.DirectionAny,
		Start:       time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC),
		Window:      2 * time.Hour,
		Limit:       -1,
	})
	require.NoError(t, err)
	require.Len(t, arrivals, 1)
	assert.Equal(t, "T1", arrivals[0].TripID)
	assert.Equal(t, "S2", arrivals[0].StopID)
}

// S4-style: an unspecified Window defaults to 3 hours (spec's default
// time window), and a frequency-expanded trip's inclusive endpoint
// yields exactly 6 occurrences across a 3-hour query starting partway
// into the frequency span -- headway 1800s (30 min) over 06:00-22:00,
// queried from 06:45: 07:00, 07:30, 08:00, 08:30, 09:00, 09:30.
func TestStaticArrivalsDefaultWindowAndFrequencyExpansion(t *testing.T) {
	files := map[string][]string{
		"agency.txt":   {"agency_id,agency_name,agency_url,agency_timezone", "A1,Agency,http://example.com,UTC"},
		"routes.txt":   {"route_id,route_short_name,route_type", "R1,1,3"},
		"stops.txt":    {"stop_id,stop_name,stop_lat,stop_lon", "S1,First,0,0"},
		"calendar.txt": {"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday", "DAILY,20240101,20241231,1,1,1,1,1,1,1"},
		"trips.txt":    {"trip_id,route_id,service_id,direction_id", "T1,R1,DAILY,0"},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,arrival_time,departure_time",
			"T1,S1,1,6:00:00,6:00:00",
		},
		"frequencies.txt": {
			"trip_id,start_time,end_time,headway_secs",
			"T1,6:00:00,22:00:00,1800",
		},
	}
	st := buildStatic(t, files, "UTC")
	ctx := context.Background()

	arrivals, err := st.Arrivals(ctx, ArrivalQuery{
		StopIDs:     []string{"S1"},
		RouteIDs:    []string{"R1"},
		DirectionID: storage.DirectionAny,
		Start:       time.Date(2024, 1, 2, 6, 45, 0, 0, time.UTC),
		// Window intentionally left unset: must default to 3 hours.
		Limit: -1,
	})
	require.NoError(t, err)
	require.Len(t, arrivals, 6)

	want := []string{"07:00", "07:30", "08:00", "08:30", "09:00", "09:30"}
	for i, w := range want {
		got := time.Unix(arrivals[i].Time, 0).UTC().Format("15:04")
		assert.Equal(t, w, got)
	}
}

// A window that starts after every scheduled arrival produces no
// arrivals rather than erroring.
func TestStaticArrivalsWindowPastLastArrival(t *testing.T) {
	st := buildStatic(t, weekdayFeed(), "UTC")
	ctx := context.Background()

	arrivals, err := st.Arrivals(ctx, ArrivalQuery{
		StopIDs:     []string{"S1"},
		DirectionID: storage.DirectionAny,
		Start:       time.Date(2024, 1, 2, 23, 0, 0, 0, time.UTC),
		Window:      time.Minute,
		Limit:       -1,
	})
	require.NoError(t, err)
	assert.Empty(t, arrivals)
}

func TestExpandFrequencyInclusiveEndpoint(t *testing.T) {
	f := model.Frequency{StartTime: 0, EndTime: 3600, HeadwaySeconds: 600}
	got := expandFrequency(f, 0, 0)
	assert.Equal(t, []int{0, 600, 1200, 1800, 2400, 3000, 3600}, got)
}

func TestExpandFrequencyZeroHeadwayIsNil(t *testing.T) {
	f := model.Frequency{StartTime: 0, EndTime: 3600, HeadwaySeconds: 0}
	assert.Nil(t, expandFrequency(f, 0, 0))
}
