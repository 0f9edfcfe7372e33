// Package realtimeapi is a small JSON HTTP client for provider-hosted
// realtime prediction endpoints, grounded on
// original_source/busbus/provider/mbta.py's _mbta_realtime_call and
// util.RateLimitRequests: one GET per route (or stop), rate limited
// and cached, decoded into a provider-agnostic PredictionsResponse.
package realtimeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/spaceboats/busbus/downloader"
)

// Client fetches and decodes realtime predictions from a single
// provider's API, e.g. MBTA-realtime's predictionsbyroute endpoint.
type Client struct {
	Downloader downloader.Downloader
	BaseURL    string
	// Params are appended to every request -- an API key, "format=json",
	// etc.
	Params map[string]string
	// CacheTTL controls how long a response is reused (via the
	// Downloader's own cache, if any) before being re-fetched.
	CacheTTL time.Duration
}

// NewClient wraps d with a default per-URL rate limit of 10s between
// requests to the same URL (no global minimum interval) -- matching the MBTA-realtime API's documented minimum polling
// interval for "the same polling command" -- unless d is already a
// *downloader.RateLimited, in which case the caller's own throttling
// is left alone.
func NewClient(d downloader.Downloader, baseURL string, params map[string]string) *Client {
	if _, alreadyLimited := d.(*downloader.RateLimited); !alreadyLimited {
		d = downloader.NewRateLimited(d, 0, 10*time.Second)
	}
	return &Client{
		Downloader: d,
		BaseURL:    baseURL,
		Params:     params,
		CacheTTL:   10 * time.Second,
	}
}

// PredictionsResponse is the provider-agnostic shape this package
// hands callers: one set of predicted stop visits per trip, keyed by
// trip_id, as produced by decoding a predictionsbyroute/predictionsbystop
// response body.
type PredictionsResponse struct {
	Trips map[string]TripPrediction
}

// TripPrediction is one trip's predicted stop-by-stop visits.
type TripPrediction struct {
	TripID   string
	RouteID  string
	Headsign string
	Stops    []StopPrediction
}

// StopPrediction is one predicted visit of a trip at a stop.
// StopSequence is carried through unfiltered -- the origin-terminal
// entry (sequence 0) that callers must drop per the merge algorithm
// is a decision for the merge step, not this decode step.
type StopPrediction struct {
	StopID           string
	StopSequence     int
	PredictedArrival time.Time
}

// mbtaEnvelope mirrors the MBTA-realtime v2 predictionsbyroute/by-stop
// JSON shape closely enough to decode it; fields not needed downstream
// are left unmapped.
type mbtaEnvelope struct {
	Direction []struct {
		Trip []struct {
			TripID       string `json:"trip_id"`
			TripHeadsign string `json:"trip_headsign"`
			RouteID      string `json:"route_id"`
			Stop         []struct {
				StopID       string `json:"stop_id"`
				StopSequence int    `json:"stop_sequence"`
				PreDT        string `json:"pre_dt"` // unix seconds, as a string
			} `json:"stop"`
		} `json:"trip"`
	} `json:"direction"`
}

// PredictionsByRoute fetches and decodes predictions for routeID,
// mirroring mbta.py's MBTAArrivalGenerator._build_iterable's
// predictionsbyroute call.
func (c *Client) PredictionsByRoute(ctx context.Context, routeID string) (*PredictionsResponse, error) {
	return c.fetch(ctx, "predictionsbyroute", routeID)
}

// PredictionsByStop fetches and decodes predictions for stopID.
func (c *Client) PredictionsByStop(ctx context.Context, stopID string) (*PredictionsResponse, error) {
	return c.fetch(ctx, "predictionsbystop", stopID)
}

func (c *Client) fetch(ctx context.Context, query, id string) (*PredictionsResponse, error) {
	key := "route"
	if query == "predictionsbystop" {
		key = "stop"
	}

	u, err := url.Parse(c.BaseURL + query)
	if err != nil {
		return nil, errors.Wrap(err, "parsing base url")
	}
	q := u.Query()
	for k, v := range c.Params {
		q.Set(k, v)
	}
	q.Set(key, id)
	u.RawQuery = q.Encode()

	body, err := c.Downloader.Get(ctx, u.String(), nil, downloader.GetOptions{
		Cache:    c.CacheTTL > 0,
		CacheTTL: c.CacheTTL,
		Timeout:  10 * time.Second,
		MaxSize:  8 << 20,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", query)
	}

	var env mbtaEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(err, "decoding predictions response")
	}

	out := &PredictionsResponse{Trips: map[string]TripPrediction{}}
	for _, dir := range env.Direction {
		for _, trip := range dir.Trip {
			tp := TripPrediction{TripID: trip.TripID, RouteID: trip.RouteID, Headsign: trip.TripHeadsign}
			for _, sd := range trip.Stop {
				t, err := parsePreDT(sd.PreDT)
				if err != nil {
					continue
				}
				tp.Stops = append(tp.Stops, StopPrediction{StopID: sd.StopID, StopSequence: sd.StopSequence, PredictedArrival: t})
			}
			out.Trips[trip.TripID] = tp
		}
	}
	return out, nil
}

func parsePreDT(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty pre_dt")
	}
	var unix int64
	if _, err := fmt.Sscanf(s, "%d", &unix); err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}
