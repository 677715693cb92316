package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	coremetrics "github.com/kilianp07/homecharge/core/metrics"
)

// Scrapable is a sink that can be served for pull-based collection.
type Scrapable interface {
	Handler() http.Handler
	ListenAddr() string
}

// FindScrapable returns the first sink, possibly nested in a MultiSink,
// that wants to be served.
func FindScrapable(sink coremetrics.MetricsSink) (Scrapable, bool) {
	switch s := sink.(type) {
	case Scrapable:
		if s.ListenAddr() != "" {
			return s, true
		}
	case *coremetrics.MultiSink:
		for _, inner := range s.Sinks {
			if sc, ok := FindScrapable(inner); ok {
				return sc, true
			}
		}
	}
	return nil, false
}

// Serve exposes h on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
