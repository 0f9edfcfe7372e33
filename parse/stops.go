package parse

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/spaceboats/busbus/berr"
	"github.com/spaceboats/busbus/model"
	"github.com/spaceboats/busbus/storage"
)

type StopCSV struct {
	ID            string  `csv:"stop_id"`
	Code          string  `csv:"stop_code"`
	Name          string  `csv:"stop_name"`
	Desc          string  `csv:"stop_desc"`
	Lat           float64 `csv:"stop_lat"`
	Lon           float64 `csv:"stop_lon"`
	ZoneID        string  `csv:"zone_id"`
	URL           string  `csv:"stop_url"`
	LocationType  int8    `csv:"location_type"`
	ParentStation string  `csv:"parent_station"`
	Timezone      string  `csv:"stop_timezone"`
	Accessible    int8    `csv:"wheelchair_boarding"`
}

func ParseStops(writer storage.FeedWriter, data io.Reader) (map[string]bool, error) {
	stopCsv := []*StopCSV{}
	if err := gocsv.Unmarshal(data, &stopCsv); err != nil {
		return nil, berr.Wrap(berr.MalformedFeed, err, "unmarshaling stops.txt")
	}

	stopIDs := map[string]bool{}
	parentRef := map[string]string{}
	for _, st := range stopCsv {
		if stopIDs[st.ID] {
			return nil, berr.New(berr.MalformedFeed, "repeated stop_id: "+st.ID)
		}
		stopIDs[st.ID] = true

		if st.ID == "" {
			return nil, berr.New(berr.MalformedFeed, "empty stop_id")
		}

		locationType := model.LocationType(st.LocationType)

		if locationType != model.LocationTypeGenericNode && locationType != model.LocationTypeBoardingArea {
			// stop_name and stop_lat/stop_lon are "[o]ptional for
			// locations which are generic nodes (location_type=3) or
			// boarding areas (location_type=4)" and otherwise
			// required.
			if st.Name == "" {
				return nil, berr.New(berr.MalformedFeed, "empty stop_name for stop_id "+st.ID)
			}
			if st.Lat == 0 && st.Lon == 0 {
				return nil, berr.New(berr.MalformedFeed, "empty stop_lat/stop_lon for stop_id "+st.ID)
			}
		}

		stop := model.Stop{
			ID:            st.ID,
			Code:          st.Code,
			Name:          st.Name,
			Description:   st.Desc,
			Lat:           st.Lat,
			Lon:           st.Lon,
			Zone:          st.ZoneID,
			URL:           st.URL,
			LocationType:  locationType,
			ParentStation: st.ParentStation,
			Timezone:      st.Timezone,
			Accessible:    model.Tristate(st.Accessible),
		}

		if st.ParentStation != "" {
			parentRef[st.ID] = st.ParentStation
		}

		if err := writer.WriteStop(stop); err != nil {
			return nil, errors.Wrapf(err, "writing stop %q", st.ID)
		}
	}

	for stopID, parentID := range parentRef {
		if !stopIDs[parentID] {
			return nil, berr.New(berr.MalformedFeed, "stop "+stopID+" references unknown parent_station "+parentID)
		}
	}

	return stopIDs, nil
}
