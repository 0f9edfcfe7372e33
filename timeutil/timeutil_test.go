package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaceboats/busbus/model"
)

func TestParseAndFormatGTFSTimeRoundTrip(t *testing.T) {
	offset, err := ParseGTFSTime("25:30:15")
	assert.NoError(t, err)
	assert.Equal(t, (25-12)*3600+30*60+15, offset)
	assert.Equal(t, "25:30:15", FormatGTFSTime(offset))
}

func TestParseGTFSTimeRejectsMalformed(t *testing.T) {
	_, err := ParseGTFSTime("6:61:00")
	assert.Error(t, err)

	_, err = ParseGTFSTime("not-a-time")
	assert.Error(t, err)
}

func TestServiceActiveOnWeekday(t *testing.T) {
	tuesday := int8(1 << 2) // time.Tuesday == 2
	cal := &model.Calendar{ServiceID: "WEEKDAY", StartDate: "20240101", EndDate: "20241231", Weekday: tuesday}
	svc := NewService("WEEKDAY", cal, nil)

	// 2024-01-02 is a Tuesday.
	assert.True(t, svc.ActiveOn("20240102", tuesday))
	assert.False(t, svc.ActiveOn("20240103", int8(1<<3)), "Wednesday's bit isn't set")
}

// ActiveOn must exclude a calendar_dates.txt "added" date that falls
// outside the service's calendar.txt [start_date, end_date] range --
// calendar_dates.txt can only restore a date within the service's own
// range, not widen the range itself.
func TestServiceActiveOnAddedDateOutsideRangeStaysExcluded(t *testing.T) {
	cal := &model.Calendar{ServiceID: "LTD", StartDate: "20240101", EndDate: "20240131", Weekday: 0}
	svc := NewService("LTD", cal, []model.CalendarDate{
		{ServiceID: "LTD", Date: "20240201", ExceptionType: model.ExceptionTypeAdded},
	})

	assert.False(t, svc.ActiveOn("20240201", 0), "an added date outside [start_date, end_date] must stay excluded")
}

// An added date inside the range is honored even on a weekday bit the
// service doesn't otherwise run.
func TestServiceActiveOnAddedDateInsideRange(t *testing.T) {
	cal := &model.Calendar{ServiceID: "LTD", StartDate: "20240101", EndDate: "20240131", Weekday: 0}
	svc := NewService("LTD", cal, []model.CalendarDate{
		{ServiceID: "LTD", Date: "20240115", ExceptionType: model.ExceptionTypeAdded},
	})

	assert.True(t, svc.ActiveOn("20240115", 0))
}

// A removed date always excludes, even one that would otherwise match
// the weekday bitmask.
func TestServiceActiveOnRemovedDateExcludes(t *testing.T) {
	cal := &model.Calendar{ServiceID: "WEEKDAY", StartDate: "20240101", EndDate: "20241231", Weekday: 1 << 2 /* Tuesday */}
	svc := NewService("WEEKDAY", cal, []model.CalendarDate{
		{ServiceID: "WEEKDAY", Date: "20240102", ExceptionType: model.ExceptionTypeRemoved},
	})

	assert.False(t, svc.ActiveOn("20240102", 1<<2))
}

// A service defined purely by calendar_dates.txt additions (no
// calendar.txt row) has no range to check against.
func TestServiceActiveOnNoCalendarRowAddedDateAnywhere(t *testing.T) {
	svc := NewService("SPECIAL", nil, []model.CalendarDate{
		{ServiceID: "SPECIAL", Date: "20990101", ExceptionType: model.ExceptionTypeAdded},
	})

	assert.True(t, svc.ActiveOn("20990101", 0))
	assert.False(t, svc.ActiveOn("20990102", 0))
}

// DayRange includes the day before start's calendar day, to catch
// after-midnight (hours >= 24) trips from the previous service day.
func TestDayRangeIncludesPriorDayForOverflow(t *testing.T) {
	start := time.Date(2024, 1, 2, 6, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

	days := DayRange(start, end, time.UTC)

	require.Len(t, days, 2, "expected the day before plus the query day")
	assert.Equal(t, "20240101", days[0].Date)
	assert.Equal(t, "20240102", days[1].Date)
}
