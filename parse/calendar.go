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

type CalendarCSV struct {
	ServiceID string `csv:"service_id"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
	Monday    int8   `csv:"monday"`
	Tuesday   int8   `csv:"tuesday"`
	Wednesday int8   `csv:"wednesday"`
	Thursday  int8   `csv:"thursday"`
	Friday    int8   `csv:"friday"`
	Saturday  int8   `csv:"saturday"`
	Sunday    int8   `csv:"sunday"`
}

// Returns set of all service IDs, min date and max date.
func ParseCalendar(writer storage.FeedWriter, data io.Reader) (map[string]bool, string, string, error) {
	calendarCsv := []*CalendarCSV{}
	if err := gocsv.Unmarshal(data, &calendarCsv); err != nil {
		return nil, "", "", berr.Wrap(berr.MalformedFeed, err, "unmarshaling calendar.txt")
	}

	knownServices := map[string]bool{}

	var minDate, maxDate string

	for _, c := range calendarCsv {
		if knownServices[c.ServiceID] {
			return nil, "", "", berr.New(berr.MalformedFeed, "repeated service_id: "+c.ServiceID)
		}
		knownServices[c.ServiceID] = true

		if c.ServiceID == "" {
			return nil, "", "", berr.New(berr.MalformedFeed, "empty service_id")
		}

		var weekday int8
		for _, bit := range []struct {
			day int8
			wd  time.Weekday
		}{
			{c.Monday, time.Monday}, {c.Tuesday, time.Tuesday}, {c.Wednesday, time.Wednesday},
			{c.Thursday, time.Thursday}, {c.Friday, time.Friday}, {c.Saturday, time.Saturday}, {c.Sunday, time.Sunday},
		} {
			if bit.day == 1 {
				weekday |= 1 << uint(bit.wd)
			} else if bit.day != 0 {
				return nil, "", "", berr.New(berr.MalformedFeed, "invalid weekday flag in calendar.txt")
			}
		}

		if _, err := time.ParseInLocation("20060102", c.StartDate, time.UTC); err != nil {
			return nil, "", "", berr.Wrap(berr.MalformedFeed, err, "parsing start_date")
		}
		if _, err := time.ParseInLocation("20060102", c.EndDate, time.UTC); err != nil {
			return nil, "", "", berr.Wrap(berr.MalformedFeed, err, "parsing end_date")
		}

		if minDate == "" || c.StartDate < minDate {
			minDate = c.StartDate
		}
		if maxDate == "" || c.EndDate > maxDate {
			maxDate = c.EndDate
		}

		if err := writer.WriteCalendar(model.Calendar{
			ServiceID: c.ServiceID,
			StartDate: c.StartDate,
			EndDate:   c.EndDate,
			Weekday:   weekday,
		}); err != nil {
			return nil, "", "", errors.Wrap(err, "writing calendar")
		}
	}

	return knownServices, minDate, maxDate, nil
}
