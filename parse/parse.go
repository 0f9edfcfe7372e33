package parse

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"github.com/spaceboats/busbus/berr"
	"github.com/spaceboats/busbus/storage"
)

// ParseStatic loads a GTFS static zip into writer. It does not Commit
// or Rollback -- that is the caller's responsibility once it has
// decided the feed is worth keeping (see Manager.refresh).
func ParseStatic(writer storage.FeedWriter, buf []byte) error {
	// These are the files we load for static dumps.
	file := map[string]io.ReadCloser{
		"agency.txt":         nil,
		"routes.txt":         nil,
		"stops.txt":          nil,
		"trips.txt":          nil,
		"stop_times.txt":     nil,
		"calendar.txt":       nil,
		"calendar_dates.txt": nil,
		"frequencies.txt":    nil,
	}

	defer func() {
		for _, rc := range file {
			if rc != nil {
				rc.Close()
			}
		}
	}()

	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return berr.Wrap(berr.MalformedFeed, err, "unzipping feed")
	}

	for _, f := range r.File {
		// There should not be any subdirectories. But, some
		// agencies don't care.
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		fName := path[len(path)-1]

		if _, found := file[fName]; !found {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return berr.Wrapf(berr.MalformedFeed, err, "opening %s", f.Name)
		}

		file[fName] = rc
	}

	if file["calendar.txt"] == nil && file["calendar_dates.txt"] == nil {
		return berr.New(berr.MalformedFeed, "missing calendar.txt and calendar_dates.txt")
	}

	for _, required := range []string{"agency.txt", "routes.txt", "stops.txt", "trips.txt", "stop_times.txt"} {
		if file[required] == nil {
			return berr.New(berr.MalformedFeed, "missing "+required)
		}
	}

	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})

	// Parse agency.txt. Extract timezone and set of agency IDs in
	// the process.
	agency, _, err := ParseAgency(writer, file["agency.txt"])
	if err != nil {
		return errors.Wrap(err, "parsing agency.txt")
	}

	// Parse routes.txt. Extract route IDs in the process.
	routes, err := ParseRoutes(writer, file["routes.txt"], agency)
	if err != nil {
		return errors.Wrap(err, "parsing routes.txt")
	}

	// Parse calendar.txt and calendar_dates.txt. Extract set of
	// all service IDs seen.
	services := map[string]bool{}
	if file["calendar.txt"] != nil {
		var err error
		services, _, _, err = ParseCalendar(writer, file["calendar.txt"])
		if err != nil {
			return errors.Wrap(err, "parsing calendar.txt")
		}
	}
	if file["calendar_dates.txt"] != nil {
		cdServices, _, _, err := ParseCalendarDates(writer, file["calendar_dates.txt"])
		if err != nil {
			return errors.Wrap(err, "parsing calendar_dates.txt")
		}
		for serviceID := range cdServices {
			services[serviceID] = true
		}
	}

	// Parse trips.txt. Extract trip IDs in the process.
	trips, err := ParseTrips(writer, file["trips.txt"], routes, services)
	if err != nil {
		return errors.Wrap(err, "parsing trips.txt")
	}

	// Parse stops.txt. Extract stop IDs in the process.
	stops, err := ParseStops(writer, file["stops.txt"])
	if err != nil {
		return errors.Wrap(err, "parsing stops.txt")
	}

	// Parse stop_times.txt.
	if err := ParseStopTimes(writer, file["stop_times.txt"], trips, stops); err != nil {
		return errors.Wrap(err, "parsing stop_times.txt")
	}

	if file["frequencies.txt"] != nil {
		if err := ParseFrequencies(writer, file["frequencies.txt"], trips); err != nil {
			return errors.Wrap(err, "parsing frequencies.txt")
		}
	}

	return nil
}
