package parse

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendar(t *testing.T) {
	for _, tc := range []struct {
		name     string
		content  string
		services map[string]bool
		minDate  string
		maxDate  string
		// activeOn maps a GTFS date string to the service_ids expected
		// to be active that day, as a cross-check against ActiveServices.
		activeOn map[string][]string
		err      bool
	}{
		{
			"minimal",
			`
service_id,start_date,end_date
s,20170101,20170131`,
			map[string]bool{"s": true},
			"20170101",
			"20170131",
			map[string][]string{"20170115": nil},
			false,
		},

		{
			"maximal",
			`
service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date
s,1,1,1,1,1,1,1,20170101,20170131`,
			map[string]bool{"s": true},
			"20170101",
			"20170131",
			map[string][]string{"20170102": {"s"}}, // a Monday in range
			false,
		},

		{
			"invalid weekday",
			`
service_id,monday,tuesday,start_date,end_date
s,1,3,20170101,20170131`,
			nil, "", "", nil, true,
		},

		{
			"malformed weekday",
			`
service_id,thursday,start_date,end_date
s,X,20170101,20170131`,
			nil, "", "", nil, true,
		},

		{
			"invalid date",
			`
service_id,monday,tuesday,start_date,end_date
s,1,1,20170101,20170132`,
			nil, "", "", nil, true,
		},

		{
			"repeated service_id",
			`
service_id,monday,tuesday,start_date,end_date
s,1,1,20170101,20170131
s,1,1,20170101,20170131`,
			nil, "", "", nil, true,
		},

		{
			"missing service_id",
			`
monday,tuesday,start_date,end_date
1,1,20170101,20170131`,
			nil, "", "", nil, true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, writer := newTestWriter(t)
			defer s.Close()

			serviceIDs, minDate, maxDate, err := ParseCalendar(writer, bytes.NewBufferString(tc.content))
			if tc.err {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.services, serviceIDs)
			assert.Equal(t, tc.minDate, minDate)
			assert.Equal(t, tc.maxDate, maxDate)

			require.NoError(t, writer.Commit(context.Background()))
			reader := s.Reader(writer.FeedID())

			for date, want := range tc.activeOn {
				got, err := reader.ActiveServices(context.Background(), date)
				require.NoError(t, err)
				assert.ElementsMatch(t, want, got, "active services on %s", date)
			}
		})
	}
}

func TestCalendarWeekdayBits(t *testing.T) {
	s, writer := newTestWriter(t)
	defer s.Close()

	content := `
service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date
s1,1,1,1,1,1,1,1,20170101,20170131
s2,1,1,1,1,1,0,0,20171001,20180201
s3,1,1,0,1,1,0,1,20161225,20170202`

	serviceIDs, minDate, maxDate, err := ParseCalendar(writer, bytes.NewBufferString(content))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"s1": true, "s2": true, "s3": true}, serviceIDs)
	assert.Equal(t, "20161225", minDate)
	assert.Equal(t, "20180201", maxDate)
	require.NoError(t, writer.Commit(context.Background()))

	reader := s.Reader(writer.FeedID())

	// Wednesday 2017-01-04: s1 runs every day; s3 skips Wednesdays.
	active, err := reader.ActiveServices(context.Background(), "20170104")
	require.NoError(t, err)
	assert.Contains(t, active, "s1")
	assert.NotContains(t, active, "s3")

	// s2 is out of its date range until October.
	active, err = reader.ActiveServices(context.Background(), "20170104")
	require.NoError(t, err)
	assert.NotContains(t, active, "s2")
}
