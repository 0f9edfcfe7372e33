package parse

import (
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/spaceboats/busbus/berr"
	"github.com/spaceboats/busbus/model"
	"github.com/spaceboats/busbus/storage"
)

type AgencyCSV struct {
	ID       string `csv:"agency_id"`
	Name     string `csv:"agency_name"`
	URL      string `csv:"agency_url"`
	Timezone string `csv:"agency_timezone"`
	Language string `csv:"agency_lang"`
	Phone    string `csv:"agency_phone"`
	FareURL  string `csv:"agency_fare_url"`
}

// ParseAgency loads agency.txt, returning the set of known agency IDs
// and the feed's shared timezone (GTFS requires every agency in a
// feed to share one agency_timezone).
func ParseAgency(writer storage.FeedWriter, data io.Reader) (map[string]bool, string, error) {
	agencyCsv := []*AgencyCSV{}
	if err := gocsv.Unmarshal(data, &agencyCsv); err != nil {
		return nil, "", berr.Wrap(berr.MalformedFeed, err, "unmarshaling agency.txt")
	}

	if len(agencyCsv) == 0 {
		return nil, "", berr.New(berr.MalformedFeed, "no agency record found")
	}

	agencyTz := map[string]bool{}
	for _, a := range agencyCsv {
		agencyTz[a.Timezone] = true
	}
	if len(agencyTz) != 1 {
		return nil, "", berr.New(berr.MalformedFeed, "agencies in a feed must share one agency_timezone")
	}

	tz := agencyCsv[0].Timezone
	if tz == "" {
		return nil, "", berr.New(berr.MalformedFeed, "missing agency_timezone")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, "", berr.Wrapf(berr.MalformedFeed, err, "agency_timezone %q is invalid", tz)
	}

	agency := map[string]bool{}
	for _, a := range agencyCsv {
		if agency[a.ID] {
			return nil, "", berr.New(berr.MalformedFeed, "duplicated agency_id: "+a.ID)
		}
		agency[a.ID] = true

		if a.Name == "" {
			return nil, "", berr.New(berr.MalformedFeed, "missing agency_name")
		}
		if a.URL == "" {
			return nil, "", berr.New(berr.MalformedFeed, "missing agency_url")
		}

		if err := writer.WriteAgency(model.Agency{
			ID:         a.ID,
			Name:       a.Name,
			URL:        a.URL,
			Timezone:   tz,
			Language:   a.Language,
			PhoneHuman: a.Phone,
			FareURL:    a.FareURL,
		}); err != nil {
			return nil, "", errors.Wrapf(err, "writing agency %q", a.ID)
		}
	}

	return agency, tz, nil
}
