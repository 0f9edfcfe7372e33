package downloader

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// RateLimited wraps a Downloader, enforcing a minimum interval between
// requests -- globally via MinInterval, and/or per-origin-URL via
// PerURLInterval -- before delegating to the wrapped Downloader. This
// is the throttle realtimeapi.Client needs in front of a provider's
// predictions endpoint, which otherwise has no caching to fall back on
// (unlike the static feed path, which is keyed by content hash).
type RateLimited struct {
	Downloader     Downloader
	MinInterval    time.Duration
	PerURLInterval time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time

	mutex     sync.Mutex
	lastAny   time.Time
	lastByURL map[string]time.Time
}

func NewRateLimited(d Downloader, minInterval, perURLInterval time.Duration) *RateLimited {
	return &RateLimited{
		Downloader:     d,
		MinInterval:    minInterval,
		PerURLInterval: perURLInterval,
		lastByURL:      map[string]time.Time{},
	}
}

func (r *RateLimited) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Get blocks until both the global and per-origin minimum intervals
// have elapsed since the last request, then delegates.
func (r *RateLimited) Get(ctx context.Context, rawURL string, headers map[string]string, options GetOptions) ([]byte, error) {
	wait := r.reserve(rawURL)
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return r.Downloader.Get(ctx, rawURL, headers, options)
}

// reserve claims the next available send slot and returns how long
// the caller must wait before it has elapsed, recording the reserved
// time immediately so concurrent callers queue rather than race.
func (r *RateLimited) reserve(rawURL string) time.Duration {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	origin := urlOrigin(rawURL)

	var wait time.Duration
	if r.MinInterval > 0 {
		if d := r.MinInterval - now.Sub(r.lastAny); d > wait {
			wait = d
		}
	}
	if r.PerURLInterval > 0 {
		if last, ok := r.lastByURL[origin]; ok {
			if d := r.PerURLInterval - now.Sub(last); d > wait {
				wait = d
			}
		}
	}

	scheduled := now.Add(wait)
	r.lastAny = scheduled
	r.lastByURL[origin] = scheduled
	return wait
}

func urlOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Scheme + "://" + u.Host + u.Path
}
