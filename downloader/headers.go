package downloader

import "context"

// WithHeaders wraps a Downloader, merging a fixed set of headers into
// every request -- e.g. an Authorization header a CLI flag supplies
// once for the whole run, rather than threading it through every Get
// call site.
type WithHeaders struct {
	Downloader Downloader
	Headers    map[string]string
}

func NewHeaderDownloader(d Downloader, headers map[string]string) *WithHeaders {
	return &WithHeaders{Downloader: d, Headers: headers}
}

func (w *WithHeaders) Get(ctx context.Context, url string, headers map[string]string, options GetOptions) ([]byte, error) {
	merged := make(map[string]string, len(w.Headers)+len(headers))
	for k, v := range w.Headers {
		merged[k] = v
	}
	for k, v := range headers {
		merged[k] = v
	}
	return w.Downloader.Get(ctx, url, merged, options)
}
