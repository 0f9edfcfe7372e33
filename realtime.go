package busbus

import (
	"context"
	"sort"

	"github.com/spaceboats/busbus/berr"
	"github.com/spaceboats/busbus/realtimeapi"
	"github.com/spaceboats/busbus/storage"
)

// Realtime overlays a realtimeapi.Client's predictions onto a Static
// schedule. Unlike the teacher's protobuf-based GTFS-rt handling
// (delay propagation along a trip via StopTimeUpdate sequences),
// this follows original_source/busbus/provider/mbta.py's
// _merge_arrivals: build a trip-keyed map per (stop, route) from the
// scheduled Arrivals, then overwrite any entry the realtime response
// also covers. A trip absent from the realtime response keeps its
// scheduled Arrival untouched; a trip present there replaces it
// outright, never adjusts it.
type Realtime struct {
	static *Static
	client *realtimeapi.Client
}

// NewRealtime builds a Realtime provider overlaying client's
// predictions onto static's schedule.
func NewRealtime(static *Static, client *realtimeapi.Client) *Realtime {
	return &Realtime{static: static, client: client}
}

func (rt *Realtime) Name() string { return rt.static.Name() + "+realtime" }

func (rt *Realtime) ResolveStop(ctx context.Context, id string) (*Stop, bool) {
	return rt.static.ResolveStop(ctx, id)
}

func (rt *Realtime) ResolveRoute(ctx context.Context, id string) (*Route, bool) {
	return rt.static.ResolveRoute(ctx, id)
}

func (rt *Realtime) ResolveAgency(ctx context.Context, id string) (*Agency, bool) {
	return rt.static.ResolveAgency(ctx, id)
}

// stopRoute keys the per-(stop, route) merge map §4.7 describes:
// replacement happens within one stop/route pair at a time, so a trip
// visiting two requested stops (or predicted on two routes) gets one
// merged entry per pair instead of collapsing into a single global
// slot.
type stopRoute struct {
	stop  string
	route string
}

// Arrivals answers q the same as Static.Arrivals, then replaces any
// trip covered by the realtime response with a prediction-derived
// Arrival for each predicted stop visit -- no partial update, no
// delay math: a predicted trip's entry is simply a different Arrival.
// Unbounded realtime fanout (neither a stop nor a route named) is
// disallowed, per the same invariant a by-route-only or by-stop-only
// query must satisfy before hitting the network.
func (rt *Realtime) Arrivals(ctx context.Context, q ArrivalQuery) ([]*Arrival, error) {
	if len(q.StopIDs) == 0 && len(q.RouteIDs) == 0 {
		return nil, berr.New(berr.InvalidQuery, "realtime arrivals require at least one stop or route")
	}

	scheduled, err := rt.static.Arrivals(ctx, q)
	if err != nil {
		return nil, err
	}
	if rt.client == nil {
		return scheduled, nil
	}

	merged := map[stopRoute]map[string]*Arrival{}
	pairOf := func(stop, route string) map[string]*Arrival {
		key := stopRoute{stop, route}
		m := merged[key]
		if m == nil {
			m = map[string]*Arrival{}
			merged[key] = m
		}
		return m
	}
	for _, a := range scheduled {
		pairOf(a.StopID, a.RouteID)[a.TripID] = a
	}

	wantStop := map[string]bool{}
	for _, id := range q.StopIDs {
		wantStop[id] = true
	}
	wantRoute := map[string]bool{}
	for _, id := range q.RouteIDs {
		wantRoute[id] = true
	}

	// (a) By-route: one predictionsbyroute call per requested route,
	// fanning out to every predicted stop in the requested stop set
	// (or every predicted stop, if the query didn't narrow by stop).
	for _, routeID := range q.RouteIDs {
		resp, err := rt.client.PredictionsByRoute(ctx, routeID)
		if err != nil {
			// A realtime outage degrades to the static schedule
			// rather than failing the whole query.
			continue
		}
		for tripID, pred := range resp.Trips {
			for _, sp := range pred.Stops {
				if sp.StopSequence == 0 {
					// stop_sequence 0 marks the origin terminal,
					// which §4.7(a) excludes from the merge.
					continue
				}
				if len(wantStop) > 0 && !wantStop[sp.StopID] {
					continue
				}
				m := pairOf(sp.StopID, routeID)
				m[tripID] = rt.predictedArrival(tripID, routeID, sp, pred, m[tripID])
			}
		}
	}

	// (b) By-stop: one predictionsbystop call per requested stop.
	// Each predicted trip is checked against the schedule to confirm
	// it actually serves this stop before being trusted, then
	// attributed to whichever of the stop's routes it belongs to.
	for _, stopID := range q.StopIDs {
		resp, err := rt.client.PredictionsByStop(ctx, stopID)
		if err != nil {
			continue
		}
		stopRoutes, err := rt.static.RouteDirections(ctx, stopID)
		if err != nil {
			continue
		}
		servesRoute := map[string]bool{}
		for _, rd := range stopRoutes {
			servesRoute[rd.Route.ID] = true
		}

		for tripID, pred := range resp.Trips {
			serves, err := rt.static.reader.StopTimeEvents(ctx, storage.StopTimeEventFilter{
				StopIDs:     []string{stopID},
				TripIDs:     []string{tripID},
				DirectionID: storage.DirectionAny,
			})
			if err != nil || len(serves) == 0 {
				// The realtime feed named a trip that never visits
				// this stop in the schedule -- drop it rather than
				// trust an unverifiable prediction.
				continue
			}

			routeID := pred.RouteID
			if routeID == "" {
				routeID = serves[0].Route.ID
			}
			if !servesRoute[routeID] {
				continue
			}
			if len(wantRoute) > 0 && !wantRoute[routeID] {
				continue
			}

			for _, sp := range pred.Stops {
				if sp.StopSequence == 0 || sp.StopID != stopID {
					continue
				}
				m := pairOf(stopID, routeID)
				m[tripID] = rt.predictedArrival(tripID, routeID, sp, pred, m[tripID])
			}
		}
	}

	var out []*Arrival
	for _, m := range merged {
		for _, a := range m {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// predictedArrival builds the replacement Arrival for one predicted
// stop visit, carrying over direction/headsign from the scheduled
// entry it replaces (sched may be nil for a trip the schedule never
// produced -- an on-the-fly realtime addition, which §4.7 says must
// still be emitted).
func (rt *Realtime) predictedArrival(tripID, routeID string, sp realtimeapi.StopPrediction, pred realtimeapi.TripPrediction, sched *Arrival) *Arrival {
	var direction int8
	headsign := pred.Headsign
	if sched != nil {
		direction = sched.DirectionID
		if headsign == "" {
			headsign = sched.Headsign
		}
	}

	arr := &Arrival{
		Provider:    rt,
		TripID:      tripID,
		RouteID:     routeID,
		StopID:      sp.StopID,
		Headsign:    headsign,
		DirectionID: direction,
		Time:        sp.PredictedArrival.Unix(),
		Realtime:    true,
	}
	stopID := sp.StopID
	arr.Stop = NewLazyRef(func() (*Stop, bool) { return rt.ResolveStop(context.Background(), stopID) })
	arr.Route = NewLazyRef(func() (*Route, bool) { return rt.ResolveRoute(context.Background(), routeID) })
	return arr
}
