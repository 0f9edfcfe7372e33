package parse

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/spaceboats/busbus/berr"
	"github.com/spaceboats/busbus/model"
	"github.com/spaceboats/busbus/storage"
	"github.com/spaceboats/busbus/timeutil"
)

type FrequencyCSV struct {
	TripID      string `csv:"trip_id"`
	StartTime   string `csv:"start_time"`
	EndTime     string `csv:"end_time"`
	HeadwaySecs int    `csv:"headway_secs"`
	ExactTimes  int8   `csv:"exact_times"`
}

// ParseFrequencies loads frequencies.txt, which describes trips that
// repeat at a fixed headway across a time window rather than running
// once per stop_times.txt row.
func ParseFrequencies(writer storage.FeedWriter, data io.Reader, trips map[string]bool) error {
	freqCsv := []*FrequencyCSV{}
	if err := gocsv.Unmarshal(data, &freqCsv); err != nil {
		return berr.Wrap(berr.MalformedFeed, err, "unmarshaling frequencies.txt")
	}

	for _, f := range freqCsv {
		if !trips[f.TripID] {
			return berr.New(berr.MalformedFeed, "unknown trip_id: "+f.TripID)
		}
		if f.HeadwaySecs <= 0 {
			return berr.New(berr.MalformedFeed, "invalid headway_secs for trip_id "+f.TripID)
		}

		start, err := timeutil.ParseGTFSTime(f.StartTime)
		if err != nil {
			return berr.Wrapf(berr.MalformedFeed, err, "parsing start_time for trip_id %q", f.TripID)
		}
		end, err := timeutil.ParseGTFSTime(f.EndTime)
		if err != nil {
			return berr.Wrapf(berr.MalformedFeed, err, "parsing end_time for trip_id %q", f.TripID)
		}
		if end < start {
			return berr.New(berr.MalformedFeed, "end_time before start_time for trip_id "+f.TripID)
		}

		if err := writer.WriteFrequency(model.Frequency{
			TripID:         f.TripID,
			StartTime:      start,
			EndTime:        end,
			HeadwaySeconds: f.HeadwaySecs,
			ExactTimes:     f.ExactTimes == 1,
		}); err != nil {
			return errors.Wrapf(err, "writing frequency for trip_id %q", f.TripID)
		}
	}

	return nil
}
