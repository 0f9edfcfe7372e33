package parse

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/spaceboats/busbus/berr"
	"github.com/spaceboats/busbus/model"
	"github.com/spaceboats/busbus/storage"
)

type TripCSV struct {
	ID           string `csv:"trip_id"`
	RouteID      string `csv:"route_id"`
	ServiceID    string `csv:"service_id"`
	Headsign     string `csv:"trip_headsign"`
	ShortName    string `csv:"trip_short_name"`
	DirectionID  int8   `csv:"direction_id"`
	BlockID      string `csv:"block_id"`
	ShapeID      string `csv:"shape_id"`
	BikesAllowed int8   `csv:"bikes_allowed"`
}

func ParseTrips(
	writer storage.FeedWriter,
	data io.Reader,
	routes map[string]bool,
	services map[string]bool,
) (map[string]bool, error) {
	tripCsv := []*TripCSV{}
	if err := gocsv.Unmarshal(data, &tripCsv); err != nil {
		return nil, berr.Wrap(berr.MalformedFeed, err, "unmarshaling trips.txt")
	}

	trips := map[string]bool{}
	for _, t := range tripCsv {
		if trips[t.ID] {
			return nil, berr.New(berr.MalformedFeed, "repeated trip_id: "+t.ID)
		}
		trips[t.ID] = true

		if t.ID == "" {
			return nil, berr.New(berr.MalformedFeed, "empty trip_id")
		}
		if t.RouteID == "" {
			return nil, berr.New(berr.MalformedFeed, "empty route_id for trip_id "+t.ID)
		}

		if !routes[t.RouteID] {
			return nil, berr.New(berr.MalformedFeed, "unknown route_id: "+t.RouteID)
		}
		if !services[t.ServiceID] {
			return nil, berr.New(berr.MalformedFeed, "unknown service_id: "+t.ServiceID)
		}

		if t.DirectionID != 0 && t.DirectionID != 1 {
			return nil, berr.New(berr.MalformedFeed, "invalid direction_id for trip_id "+t.ID)
		}

		if err := writer.WriteTrip(model.Trip{
			ID:          t.ID,
			RouteID:     t.RouteID,
			ServiceID:   t.ServiceID,
			Headsign:    t.Headsign,
			ShortName:   t.ShortName,
			DirectionID: t.DirectionID,
			BikesOk:     model.Tristate(t.BikesAllowed),
		}); err != nil {
			return nil, errors.Wrapf(err, "writing trip %q", t.ID)
		}
	}

	return trips, nil
}
