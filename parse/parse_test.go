package parse

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaceboats/busbus/model"
	"github.com/spaceboats/busbus/storage"
)

func buildZip(t *testing.T, files map[string][]string) []byte {
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// A simple GTFS feed with all required data
func fixtureSimple() map[string][]string {
	return map[string][]string{
		"agency.txt": {
			"agency_timezone,agency_name,agency_url",
			"America/Los_Angeles,Fake Agency,http://agency/index.html",
		},
		"routes.txt": {
			"route_id,route_short_name,route_type",
			"r,R,3",
		},
		"calendar.txt": {
			"service_id,monday,start_date,end_date",
			"mondays,1,20190101,20190301",
		},
		"calendar_dates.txt": {
			"service_id,date,exception_type",
			"mondays,20190226,1",
		},
		"trips.txt": {
			"route_id,service_id,trip_id",
			"r,mondays,t",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"s,S,12,34",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"t,12:00:00,12:00:00,s,1",
		},
	}
}

func TestParseValidFeed(t *testing.T) {
	s, writer := newTestWriter(t)
	defer s.Close()

	err := ParseStatic(writer, buildZip(t, fixtureSimple()))
	assert.NoError(t, err)
	require.NoError(t, writer.Commit(context.Background()))

	reader := s.Reader(writer.FeedID())
	ctx := context.Background()

	tz, err := reader.Timezone(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "America/Los_Angeles", tz)

	agencies, err := reader.Agencies(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []model.Agency{{
		Timezone: "America/Los_Angeles",
		Name:     "Fake Agency",
		URL:      "http://agency/index.html",
	}}, agencies)

	routes, err := reader.Routes(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []model.Route{{
		ID:        "r",
		ShortName: "R",
		Type:      3,
		Color:     "FFFFFF",
		TextColor: "000000",
	}}, routes)

	active, err := reader.ActiveServices(ctx, "20190107") // a Monday
	assert.NoError(t, err)
	assert.Equal(t, []string{"mondays"}, active)

	active, err = reader.ActiveServices(ctx, "20190226") // a Tuesday, added via calendar_dates
	assert.NoError(t, err)
	assert.Equal(t, []string{"mondays"}, active)

	trips, err := reader.Trips(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []model.Trip{{
		ID:        "t",
		RouteID:   "r",
		ServiceID: "mondays",
	}}, trips)

	stops, err := reader.Stops(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []model.Stop{{
		ID:   "s",
		Name: "S",
		Lat:  12,
		Lon:  34,
	}}, stops)

	events, err := reader.StopTimeEvents(ctx, storage.StopTimeEventFilter{DirectionID: storage.DirectionAny})
	assert.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].StopTime.Arrival) // noon, noon-relative seconds == 0
	assert.Equal(t, 0, events[0].StopTime.Departure)
}

func TestParseMissingRequiredFile(t *testing.T) {
	for _, file := range []string{
		"agency.txt",
		"routes.txt",
		"trips.txt",
		"stops.txt",
		"stop_times.txt",
	} {
		_, writer := newTestWriter(t)

		files := fixtureSimple()
		delete(files, file)
		err := ParseStatic(writer, buildZip(t, files))
		assert.Error(t, err, "missing "+file)
	}

	// Ok for calendar.txt to be missing
	s, writer := newTestWriter(t)
	files := fixtureSimple()
	delete(files, "calendar.txt")
	assert.NoError(t, ParseStatic(writer, buildZip(t, files)))
	require.NoError(t, writer.Commit(context.Background()))
	active, err := s.Reader(writer.FeedID()).ActiveServices(context.Background(), "20190226")
	assert.NoError(t, err)
	assert.Equal(t, []string{"mondays"}, active)

	// Ok for calendar_dates.txt to be missing
	s2, writer2 := newTestWriter(t)
	files = fixtureSimple()
	delete(files, "calendar_dates.txt")
	assert.NoError(t, ParseStatic(writer2, buildZip(t, files)))
	require.NoError(t, writer2.Commit(context.Background()))
	active, err = s2.Reader(writer2.FeedID()).ActiveServices(context.Background(), "20190107")
	assert.NoError(t, err)
	assert.Equal(t, []string{"mondays"}, active)

	// But not OK for both to be missing
	_, writer3 := newTestWriter(t)
	files = fixtureSimple()
	delete(files, "calendar.txt")
	delete(files, "calendar_dates.txt")
	assert.Error(t, ParseStatic(writer3, buildZip(t, files)))
}

func TestParseBrokenFile(t *testing.T) {
	// Individual files in the feed broken.
	for _, file := range []string{
		"agency.txt",
		"routes.txt",
		"calendar.txt",
		"calendar_dates.txt",
		"trips.txt",
		"stops.txt",
		"stop_times.txt",
	} {
		_, writer := newTestWriter(t)

		files := fixtureSimple()
		files[file][1] = "malformed"

		err := ParseStatic(writer, buildZip(t, files))
		assert.Error(t, err, "malformed "+file)
	}

	// Zip file broken.
	_, writer := newTestWriter(t)
	assert.Error(t, ParseStatic(writer, []byte("malformed")), "malformed zip file")
}

// Some agencies place files in subdirectories. They shouldn't, but
// they do. Make sure we can handle that.
func TestParseUnorthodoxArchiveStructure(t *testing.T) {
	goodFiles := fixtureSimple()
	badFiles := map[string][]string{}
	for name, contents := range goodFiles {
		badFiles["bad/agency/"+name] = contents
	}
	sillyZip := buildZip(t, badFiles)

	s, writer := newTestWriter(t)
	defer s.Close()

	assert.NoError(t, ParseStatic(writer, sillyZip))
	require.NoError(t, writer.Commit(context.Background()))

	reader := s.Reader(writer.FeedID())
	ctx := context.Background()

	tz, err := reader.Timezone(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "America/Los_Angeles", tz)

	agency, err := reader.Agencies(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []model.Agency{{
		Timezone: "America/Los_Angeles",
		Name:     "Fake Agency",
		URL:      "http://agency/index.html",
	}}, agency)
}
