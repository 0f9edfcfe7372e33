package parse

import (
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/spaceboats/busbus/berr"
	"github.com/spaceboats/busbus/model"
	"github.com/spaceboats/busbus/storage"
	"github.com/spaceboats/busbus/timeutil"
)

type StopTimeCSV struct {
	TripID        string `csv:"trip_id"`
	StopID        string `csv:"stop_id"`
	StopSequence  uint32 `csv:"stop_sequence"`
	ArrivalTime   string `csv:"arrival_time"`
	DepartureTime string `csv:"departure_time"`
	Headsign      string `csv:"stop_headsign"`
	PickupType    string `csv:"pickup_type"`
	DropoffType   string `csv:"drop_off_type"`
}

func parseStopTimeFlag(s string, field, rowDesc string) (int8, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > 3 {
		return 0, berr.New(berr.MalformedFeed, "invalid "+field+" "+rowDesc)
	}
	return int8(v), nil
}

// ParseStopTimes loads stop_times.txt. arrival_time and departure_time
// may be blank -- GTFS leaves them unset for stop_times belonging
// entirely to a frequencies.txt-driven trip -- in which case the
// corresponding StopTime.*Set flag is left false, to be resolved by
// ingestion's interpolation pass.
func ParseStopTimes(
	writer storage.FeedWriter,
	data io.Reader,
	trips map[string]bool,
	stops map[string]bool,
) error {
	stopSeq := map[string][]uint32{}

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(st *StopTimeCSV) error {
		i++
		rowDesc := "(row " + strconv.Itoa(i+1) + ")"

		if !trips[st.TripID] {
			return berr.New(berr.MalformedFeed, "unknown trip_id "+rowDesc)
		}
		if st.StopID == "" {
			return berr.New(berr.MalformedFeed, "missing stop_id "+rowDesc)
		}
		if !stops[st.StopID] {
			return berr.New(berr.MalformedFeed, "unknown stop_id "+rowDesc)
		}

		stopTime := model.StopTime{
			TripID:       st.TripID,
			StopID:       st.StopID,
			Headsign:     st.Headsign,
			StopSequence: st.StopSequence,
		}

		if st.ArrivalTime != "" {
			arrival, err := timeutil.ParseGTFSTime(st.ArrivalTime)
			if err != nil {
				return berr.Wrapf(berr.MalformedFeed, err, "parsing arrival_time %s", rowDesc)
			}
			stopTime.Arrival = arrival
			stopTime.ArrivalSet = true
		}

		if st.DepartureTime != "" {
			departure, err := timeutil.ParseGTFSTime(st.DepartureTime)
			if err != nil {
				return berr.Wrapf(berr.MalformedFeed, err, "parsing departure_time %s", rowDesc)
			}
			stopTime.Departure = departure
			stopTime.DepartureSet = true
		}

		pickup, err := parseStopTimeFlag(st.PickupType, "pickup_type", rowDesc)
		if err != nil {
			return err
		}
		stopTime.PickupType = pickup

		dropoff, err := parseStopTimeFlag(st.DropoffType, "drop_off_type", rowDesc)
		if err != nil {
			return err
		}
		stopTime.DropoffType = dropoff

		stopSeq[st.TripID] = append(stopSeq[st.TripID], st.StopSequence)

		if err := writer.WriteStopTime(stopTime); err != nil {
			return errors.Wrapf(err, "writing stop_time %s", rowDesc)
		}

		return nil
	})
	if err != nil {
		return errors.Wrap(err, "unmarshaling stop_times.txt")
	}

	for tripID, seq := range stopSeq {
		seen := map[uint32]bool{}
		for _, s := range seq {
			if seen[s] {
				return berr.New(berr.MalformedFeed, "duplicate stop_sequence for trip_id "+tripID)
			}
			seen[s] = true
		}
	}

	return nil
}
