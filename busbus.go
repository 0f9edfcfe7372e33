package busbus

import "context"

// ArrivalProvider is anything that can answer an ArrivalQuery --
// Static on its own, or Static overlaid with realtime predictions via
// Realtime. CLI and HTTP consumers should depend on this interface,
// not on *Static or *Realtime directly, so that turning realtime on
// or off is a construction-time decision, not a call-site one.
type ArrivalProvider interface {
	Provider
	Arrivals(ctx context.Context, q ArrivalQuery) ([]*Arrival, error)
}
