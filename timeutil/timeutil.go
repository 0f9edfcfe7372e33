// Package timeutil implements GTFS's noon-relative time model: parsing
// "H[H...]:MM:SS" strings (where hours may exceed 23, meaning "after
// midnight on the service day") into seconds relative to service-day
// noon, plus the calendar-date math needed to expand a query window
// into the set of service days it touches.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spaceboats/busbus/model"
)

const dateLayout = "20060102"

// ParseGTFSTime parses a GTFS "H[H...]:MM:SS" string into signed
// seconds relative to service-day noon: (H-12)*3600 + M*60 + S. Hours
// may exceed 23 to represent times after midnight on the service day.
func ParseGTFSTime(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("timeutil: %q is not of the form H:MM:SS", s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("timeutil: invalid hour in %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("timeutil: invalid minute in %q", s)
	}
	sec, err := strconv.Atoi(parts[2])
	if err != nil || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("timeutil: invalid second in %q", s)
	}

	return (h-12)*3600 + m*60 + sec, nil
}

// FormatGTFSTime is the inverse of ParseGTFSTime, always producing a
// two-digit-hour "HH:MM:SS" (hour may still exceed 23 or be negative
// only in pathological input, which callers should never pass).
func FormatGTFSTime(offset int) string {
	total := offset + 12*3600
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ParseGTFSDate parses a GTFS "YYYYMMDD" date string.
func ParseGTFSDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

// FormatGTFSDate formats t (interpreted in its own location) as a GTFS
// "YYYYMMDD" date string.
func FormatGTFSDate(t time.Time) string {
	return t.Format(dateLayout)
}

// Weekday returns the (1 << time.Weekday) bit for d, matching the bit
// assignment used when packing calendar.txt's monday..sunday columns.
func Weekday(d time.Time) int8 {
	return 1 << uint(d.Weekday())
}

// Service evaluates calendar.txt + calendar_dates.txt validity for a
// single service_id, per the data model's "served" definition: in
// [start_date, end_date], not in removed, and (weekday bit set or in
// added).
type Service struct {
	ServiceID string
	HasRange  bool
	StartDate string
	EndDate   string
	Weekday   int8
	Added     map[string]bool
	Removed   map[string]bool
}

// NewService builds a Service from a (possibly absent) calendar.txt
// row and any calendar_dates.txt rows for the same service_id. cal
// may be nil for services defined purely by calendar_dates.txt
// additions.
func NewService(serviceID string, cal *model.Calendar, dates []model.CalendarDate) *Service {
	svc := &Service{
		ServiceID: serviceID,
		Added:     map[string]bool{},
		Removed:   map[string]bool{},
	}
	if cal != nil {
		svc.HasRange = true
		svc.StartDate = cal.StartDate
		svc.EndDate = cal.EndDate
		svc.Weekday = cal.Weekday
	}
	for _, cd := range dates {
		switch cd.ExceptionType {
		case model.ExceptionTypeAdded:
			svc.Added[cd.Date] = true
		case model.ExceptionTypeRemoved:
			svc.Removed[cd.Date] = true
		}
	}
	return svc
}

// ActiveOn reports whether the service runs on GTFS date string d
// ("YYYYMMDD"): in range, not removed, and (weekday bit set or
// explicitly added). The range check ANDs with everything else,
// including an added date -- calendar_dates.txt can only add a date
// back in, it cannot widen a service's calendar.txt range, so an
// added date outside [start_date, end_date] stays excluded. A service
// with no calendar.txt row (HasRange false, defined purely by
// calendar_dates.txt additions) has no range to check against.
func (s *Service) ActiveOn(d string, weekdayBit int8) bool {
	if s.HasRange && (d < s.StartDate || d > s.EndDate) {
		return false
	}
	if s.Removed[d] {
		return false
	}
	return s.Weekday&weekdayBit != 0 || s.Added[d]
}

// DayRange enumerates the local calendar dates (as GTFS "YYYYMMDD"
// strings, paired with their location-local noon instant) from
// start's calendar day through end's calendar day inclusive, i.e.
// every day that a [start, end] query window can possibly touch. A day
// before start's calendar day is also included since GTFS service days run into the
// following day's small hours (hours >= 24).
func DayRange(start, end time.Time, loc *time.Location) []CivilDay {
	start = start.In(loc)
	end = end.In(loc)

	first := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -1)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)

	days := []CivilDay{}
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, CivilDay{
			Date: FormatGTFSDate(d),
			Noon: time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, loc),
		})
	}
	return days
}

// CivilDay pairs a GTFS date string with the noon instant anchoring
// that service day's noon-relative offsets.
type CivilDay struct {
	Date string
	Noon time.Time
}
