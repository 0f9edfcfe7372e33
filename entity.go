// Package busbus is the entity and query composition layer sitting on
// top of the Feed Store (package storage): it turns wire-level model
// rows into self-describing, lazily-cross-referencing view objects,
// and lets callers compose queries over them without caring which
// Provider (static schedule, realtime overlay, ...) produced a given
// result.
package busbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/spaceboats/busbus/model"
)

// LazyRef memoizes a single cross-reference resolution -- e.g. a
// Stop's parent station, or an Arrival's Stop -- so that following it
// twice does one lookup, and following it never is free. A failed or
// absent resolution yields the zero value and ok=false, never a panic
// or error: a dangling parent_station reference is a fact about the
// feed, not a programming error.
type LazyRef[T any] struct {
	once     sync.Once
	resolve  func() (T, bool)
	value    T
	resolved bool
}

// NewLazyRef wraps resolve so it runs at most once.
func NewLazyRef[T any](resolve func() (T, bool)) *LazyRef[T] {
	return &LazyRef[T]{resolve: resolve}
}

// Get runs the resolver on first call and returns its memoized result
// on every subsequent call.
func (r *LazyRef[T]) Get() (T, bool) {
	r.once.Do(func() {
		r.value, r.resolved = r.resolve()
	})
	return r.value, r.resolved
}

// Provider is anything that can resolve entity cross-references: the
// Feed Store reader scoped to one feed, wrapped by Static or Realtime.
// Agency/Stop/Route/Arrival hold a Provider rather than a raw
// storage.FeedReader so they can be built by any arrival generator,
// not just the scheduled one.
type Provider interface {
	Name() string
	ResolveStop(ctx context.Context, id string) (*Stop, bool)
	ResolveRoute(ctx context.Context, id string) (*Route, bool)
	ResolveAgency(ctx context.Context, id string) (*Agency, bool)
}

// Agency mirrors model.Agency with a provider attached, so
// EntityType/JSON marshaling can work uniformly across entity kinds.
type Agency struct {
	Provider Provider
	model.Agency
}

func (a *Agency) MarshalJSON() ([]byte, error) {
	return marshalEntity("agency", a.Provider, a.Agency)
}

// Stop mirrors model.Stop, plus a lazy Parent reference (resolved
// through parent_station) -- following it never runs a query unless a
// caller actually asks for it.
type Stop struct {
	Provider Provider
	model.Stop
	Parent *LazyRef[*Stop]
}

// NewStop builds a Stop whose Parent resolves lazily via p, so that
// listing a thousand stops doesn't eagerly chase a thousand
// parent_station lookups.
func NewStop(p Provider, s model.Stop) *Stop {
	st := &Stop{Provider: p, Stop: s}
	st.Parent = NewLazyRef(func() (*Stop, bool) {
		if s.ParentStation == "" {
			return nil, false
		}
		return p.ResolveStop(context.Background(), s.ParentStation)
	})
	return st
}

func (s *Stop) MarshalJSON() ([]byte, error) {
	return marshalEntity("stop", s.Provider, s.Stop)
}

// Route mirrors model.Route, plus a lazy Agency reference.
type Route struct {
	Provider Provider
	model.Route
	Agency *LazyRef[*Agency]
}

func NewRoute(p Provider, r model.Route) *Route {
	rt := &Route{Provider: p, Route: r}
	rt.Agency = NewLazyRef(func() (*Agency, bool) {
		if r.AgencyID == "" {
			return nil, false
		}
		return p.ResolveAgency(context.Background(), r.AgencyID)
	})
	return rt
}

func (r *Route) MarshalJSON() ([]byte, error) {
	return marshalEntity("route", r.Provider, r.Route)
}

// Arrival is the entity layer's view of one scheduled or realtime
// visit of a trip at a stop -- the result type every arrival
// generator (Static, Realtime) produces. Stop and Route are resolved
// lazily since a caller filtering a large Queryable[*Arrival] down to
// a handful of results shouldn't pay for resolving every candidate's
// full Stop/Route.
type Arrival struct {
	Provider Provider

	TripID      string
	RouteID     string
	StopID      string
	Headsign    string
	DirectionID int8

	// Time is the absolute instant this arrival is scheduled (or, for
	// a realtime Arrival, predicted) to occur.
	Time int64 // unix seconds; stored as int64 to keep Arrival comparable without importing time into equality checks

	// Realtime is true when this Arrival came from (or was overwritten
	// by) a realtimeapi prediction rather than pure schedule data.
	Realtime bool

	Stop  *LazyRef[*Stop]
	Route *LazyRef[*Route]
}

func (a *Arrival) MarshalJSON() ([]byte, error) {
	return marshalEntity("arrival", a.Provider, struct {
		TripID      string `json:"trip_id"`
		RouteID     string `json:"route_id"`
		StopID      string `json:"stop_id"`
		Headsign    string `json:"headsign,omitempty"`
		DirectionID int8   `json:"direction_id"`
		Time        int64  `json:"time"`
		Realtime    bool   `json:"realtime"`
	}{a.TripID, a.RouteID, a.StopID, a.Headsign, a.DirectionID, a.Time, a.Realtime})
}

// EntityType returns the canonical lowercase type name of an entity,
// the same name its MarshalJSON writes under "type" (marshalEntity
// receives it as a literal, not via this function; WhereAttr does not
// use it either) -- mirroring original_source/busbus/entity.py's BaseEntity subclasses,
// where the class itself carries this identity.
func EntityType(x any) string {
	switch x.(type) {
	case *Agency:
		return "agency"
	case *Stop:
		return "stop"
	case *Route:
		return "route"
	case *Arrival:
		return "arrival"
	default:
		return ""
	}
}

// marshalEntity emits fields plus synthetic "provider" and "type" keys,
// mirroring BaseEntity.__iter__'s Mapping-view behavior (every non-nil
// attribute, plus "provider") without requiring every entity to hand-roll the
// same boilerplate.
func marshalEntity(kind string, p Provider, fields any) ([]byte, error) {
	buf, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, err
	}

	providerName := ""
	if p != nil {
		providerName = p.Name()
	}
	raw["provider"], _ = json.Marshal(providerName)
	raw["type"], _ = json.Marshal(kind)
	return json.Marshal(raw)
}
