package busbus

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spaceboats/busbus/model"
	"github.com/spaceboats/busbus/storage"
)

// Static is the Scheduled Arrival Generator: it turns a Feed Store
// reader into a stream of Arrivals for a stop (or set of stops), by
// walking the calendar day by day, expanding frequencies.txt headways,
// and k-way merging each day's events into time order. It implements
// Provider so entity.go's lazy Stop/Route references can resolve
// through it directly.
type Static struct {
	feedID int64
	reader storage.FeedReader
	name   string

	location *time.Location
}

// NewStatic builds a Static provider over reader, whose feed uses the
// IANA zone at timezone (normally reader.Timezone's result).
func NewStatic(name string, feedID int64, reader storage.FeedReader, timezone string) (*Static, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	return &Static{feedID: feedID, reader: reader, name: name, location: loc}, nil
}

func (s *Static) Name() string { return s.name }

func (s *Static) ResolveStop(ctx context.Context, id string) (*Stop, bool) {
	st, err := s.reader.Stop(ctx, id)
	if err != nil || st == nil {
		return nil, false
	}
	return NewStop(s, *st), true
}

func (s *Static) ResolveRoute(ctx context.Context, id string) (*Route, bool) {
	rt, err := s.reader.Route(ctx, id)
	if err != nil || rt == nil {
		return nil, false
	}
	return NewRoute(s, *rt), true
}

func (s *Static) ResolveAgency(ctx context.Context, id string) (*Agency, bool) {
	agencies, err := s.reader.Agencies(ctx)
	if err != nil {
		return nil, false
	}
	for _, a := range agencies {
		if a.ID == id {
			return &Agency{Provider: s, Agency: a}, true
		}
	}
	return nil, false
}

// NearbyStops lists stops ordered by distance from (lat, lon),
// delegating to the Feed Store's distance-ordered stop query.
func (s *Static) NearbyStops(ctx context.Context, lat, lon float64, limit int, routeTypes []model.RouteType) ([]*Stop, error) {
	stops, err := s.reader.NearbyStops(ctx, lat, lon, limit, routeTypes)
	if err != nil {
		return nil, fmt.Errorf("getting nearby stops: %w", err)
	}
	out := make([]*Stop, len(stops))
	for i, st := range stops {
		out[i] = NewStop(s, st)
	}
	return out, nil
}

// RouteDirections lists the distinct (route, direction, headsign)
// tuples observed passing through stopID.
func (s *Static) RouteDirections(ctx context.Context, stopID string) ([]model.RouteDirection, error) {
	return s.reader.RouteDirections(ctx, stopID)
}

// addChildren expands a requested stop id set to include every stop
// whose parent_station is in the set, by one BFS pass -- a caller
// asking for arrivals "at this station" wants every platform under it,
// not just a literal stop_id match.
func (s *Static) addChildren(ctx context.Context, stopIDs []string) ([]string, error) {
	allStops, err := s.reader.Stops(ctx)
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, id := range stopIDs {
		want[id] = true
	}
	childrenOf := map[string][]string{}
	for _, st := range allStops {
		if st.ParentStation != "" {
			childrenOf[st.ParentStation] = append(childrenOf[st.ParentStation], st.ID)
		}
	}
	queue := append([]string{}, stopIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range childrenOf[id] {
			if !want[child] {
				want[child] = true
				queue = append(queue, child)
			}
		}
	}
	out := make([]string, 0, len(want))
	for id := range want {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ArrivalQuery narrows Arrivals. Empty StopIDs/RouteIDs/RouteTypes
// leave that dimension unrestricted, but a zero value is not
// "everything": DirectionID 0 selects direction 0 only, and Limit 0
// returns no arrivals.
type ArrivalQuery struct {
	StopIDs     []string
	RouteIDs    []string
	RouteTypes  []model.RouteType
	DirectionID int8 // storage.DirectionAny for either direction

	// Start/Window bound the time range of the arrivals Static.Arrivals
	// returns, [Start, Start+Window] (zero Start means now, zero Window
	// 3h).
	// Static does its day-by-day arithmetic in the feed's timezone,
	// same as the teacher's Departures did; Arrival.Time is Unix
	// seconds and carries no timezone.
	Start  time.Time
	Window time.Duration

	// Limit caps the number of arrivals returned; <0 means unlimited.
	Limit int
}

// gtfsTimeOfDay renders a time-of-day offset (which may exceed 24h,
// per GTFS's after-midnight service convention) as noon-relative
// seconds, matching timeutil.ParseGTFSTime's zero point.
func gtfsTimeOfDay(t, noon time.Time) int {
	return int(t.Sub(noon).Seconds())
}

// daySpan is one calendar day worth of scanning: which service date
// to query ActiveServices/StopTimeEvents for, and which noon-relative
// range of that day's schedule is actually inside the caller's window.
type daySpan struct {
	date     string
	noon     time.Time
	hasStart bool
	start    int
	hasEnd   bool
	end      int
}

// daySpans walks every calendar day that could contribute an arrival
// to [start, start+window], including the day before (to catch
// after-midnight trips whose noon-relative time exceeds 24h), the way
// the teacher's rangePerDate did.
func daySpans(start time.Time, window time.Duration, maxLookback time.Duration) []daySpan {
	end := start.Add(window)
	loc := start.Location()

	midnight := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	var spans []daySpan
	for day := midnight.AddDate(0, 0, -1); day.Before(end); day = day.AddDate(0, 0, 1) {
		noon := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, loc)
		tomorrow := day.AddDate(0, 0, 1)

		span := daySpan{date: day.Format("20060102"), noon: noon}

		switch {
		case start.Before(day):
			// window covers this whole day already
		case start.Before(tomorrow):
			span.hasStart = true
			span.start = gtfsTimeOfDay(start, noon)
		default:
			offset := gtfsTimeOfDay(start, noon)
			if time.Duration(offset)*time.Second > maxLookback {
				continue
			}
			span.hasStart = true
			span.start = offset
		}

		if end.Before(tomorrow) {
			span.hasEnd = true
			span.end = gtfsTimeOfDay(end, noon)
		}
		// else: window extends past this day; no upper bound for it

		spans = append(spans, span)
	}
	return spans
}

// heapItem's seq breaks exact time ties in FIFO discovery order, giving
// the heap merge a stable sort -- heap.Interface's Less is otherwise
// free to reorder equal-time items arbitrarily.
type heapItem struct {
	arrival *Arrival
	seq     int
}

type arrivalHeap []heapItem

func (h arrivalHeap) Len() int { return len(h) }
func (h arrivalHeap) Less(i, j int) bool {
	if h[i].arrival.Time != h[j].arrival.Time {
		return h[i].arrival.Time < h[j].arrival.Time
	}
	return h[i].seq < h[j].seq
}
func (h arrivalHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *arrivalHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *arrivalHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Arrivals answers q by walking each relevant calendar day, expanding
// frequencies.txt occurrences, and k-way merging every day's results
// into time order via a heap -- a generalization of the teacher's
// single-stop Departures to arbitrary stop/route/direction filters and
// to frequency-based schedules.
func (s *Static) Arrivals(ctx context.Context, q ArrivalQuery) ([]*Arrival, error) {
	if q.Limit == 0 {
		return nil, nil
	}

	stopIDs := q.StopIDs
	if len(stopIDs) > 0 {
		expanded, err := s.addChildren(ctx, stopIDs)
		if err != nil {
			return nil, err
		}
		stopIDs = expanded
	}

	origTZ := time.UTC
	if !q.Start.IsZero() {
		origTZ = q.Start.Location()
	}
	start := q.Start
	if start.IsZero() {
		start = time.Now()
	}
	start = start.In(s.location)
	window := q.Window
	if window <= 0 {
		window = 3 * time.Hour
	}

	const maxLookback = 36 * time.Hour // generous bound on how late an overflow trip's departure can be

	h := &arrivalHeap{}
	heap.Init(h)
	seq := 0

	for _, span := range daySpans(start, window, maxLookback) {
		serviceIDs, err := s.reader.ActiveServices(ctx, span.date)
		if err != nil {
			return nil, err
		}
		if len(serviceIDs) == 0 {
			continue
		}

		events, err := s.reader.StopTimeEvents(ctx, storage.StopTimeEventFilter{
			StopIDs:     stopIDs,
			RouteIDs:    q.RouteIDs,
			RouteTypes:  q.RouteTypes,
			ServiceIDs:  serviceIDs,
			DirectionID: q.DirectionID,
		})
		if err != nil {
			return nil, err
		}

		tripFrequencies := map[string][]model.Frequency{}
		freqs, err := s.reader.Frequencies(ctx, nil)
		if err != nil {
			return nil, err
		}
		for _, f := range freqs {
			tripFrequencies[f.TripID] = append(tripFrequencies[f.TripID], f)
		}

		for _, ev := range events {
			arrivalOffset, ok := ev.StopTime.CoalescedArrival()
			if !ok {
				continue
			}

			if freqList := tripFrequencies[ev.Trip.ID]; len(freqList) > 0 {
				for _, f := range freqList {
					offsets := expandFrequency(f, arrivalOffset, ev.Trip.MinArrivalTime)
					for _, offset := range offsets {
						if span.hasStart && offset < span.start {
							continue
						}
						if span.hasEnd && offset > span.end {
							continue
						}
						arr := arrivalFromEvent(s, ev, span.noon, offset, f.HeadwaySeconds)
						if !arr.timeGE(start) {
							continue
						}
						aTime := time.Unix(arr.Time, 0).In(origTZ)
						if aTime.After(start.Add(window).In(origTZ)) {
							continue
						}
						heap.Push(h, heapItem{arrival: arr, seq: seq})
						seq++
					}
				}
				continue
			}

			if span.hasStart && arrivalOffset < span.start {
				continue
			}
			if span.hasEnd && arrivalOffset > span.end {
				continue
			}
			arr := arrivalFromEvent(s, ev, span.noon, arrivalOffset, 0)
			if !arr.timeGE(start) {
				continue
			}
			if arr.Time > start.Add(window).Unix() {
				continue
			}
			heap.Push(h, heapItem{arrival: arr, seq: seq})
			seq++
		}
	}

	var out []*Arrival
	for h.Len() > 0 {
		item := heap.Pop(h).(heapItem)
		out = append(out, item.arrival)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (a *Arrival) timeGE(t time.Time) bool {
	return a.Time >= t.Unix()
}

// expandFrequency generates every headway-spaced occurrence of a trip
// within [f.StartTime, f.EndTime] (EndTime included), offset so the trip's first stop
// departs exactly on a headway boundary -- arrivalOffset's distance
// from the trip's own minArrival is preserved across every expanded
// occurrence, the way a rider would expect "the 9:05 bus, repeated
// every 10 minutes" to still arrive at each downstream stop 9:05
// (not 9:00) past each boundary.
func expandFrequency(f model.Frequency, arrivalOffset, minArrival int) []int {
	if f.HeadwaySeconds <= 0 {
		return nil
	}
	delta := arrivalOffset - minArrival
	var out []int
	for t := f.StartTime; t <= f.EndTime; t += f.HeadwaySeconds {
		out = append(out, t+delta)
	}
	return out
}

func arrivalFromEvent(p Provider, ev *storage.StopTimeEvent, noon time.Time, offsetSeconds, headway int) *Arrival {
	t := noon.Add(-12 * time.Hour).Add(time.Duration(offsetSeconds) * time.Second)

	headsign := ev.StopTime.Headsign
	if headsign == "" {
		headsign = ev.Trip.Headsign
	}

	a := &Arrival{
		Provider:    p,
		TripID:      ev.Trip.ID,
		RouteID:     ev.Trip.RouteID,
		StopID:      ev.Stop.ID,
		Headsign:    headsign,
		DirectionID: ev.Trip.DirectionID,
		Time:        t.Unix(),
	}
	stopCopy := ev.Stop
	routeCopy := ev.Route
	a.Stop = NewLazyRef(func() (*Stop, bool) { return NewStop(p, stopCopy), true })
	a.Route = NewLazyRef(func() (*Route, bool) { return NewRoute(p, routeCopy), true })
	_ = headway // reserved for a future FrequencyHeadway field on Arrival
	return a
}
