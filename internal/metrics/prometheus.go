package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/logger"
)

// promLogger routes promhttp gathering errors into the component logger.
type promLogger struct{}

func (promLogger) Println(v ...interface{}) {
	logger.ErrorComponent("metrics", "%s", fmt.Sprint(v...))
}

// newServeMux serves /health, /metrics when enabled, and any extra routes.
func newServeMux(withMetrics bool, routes map[string]http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	promHandler := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog: promLogger{},
		Timeout:  30 * time.Second,
	})
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.DebugComponent("metrics", "Metrics endpoint called from %s", r.RemoteAddr)
		promHandler.ServeHTTP(w, r)
	})

	if withMetrics {
		mux.Handle("/metrics", metricsHandler)
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK\n"))
	})

	paths := make([]string, 0, len(routes))
	for path := range routes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		mux.Handle(path, routes[path])
		logger.DebugComponent("metrics", "Mounted %s", path)
	}

	return mux
}

// Serve runs the HTTP server on port until ctx is done. /metrics is mounted only when
// withMetrics is set.
func Serve(ctx context.Context, port int, withMetrics bool, routes map[string]http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newServeMux(withMetrics, routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoComponent("metrics", "Starting HTTP server on port %d", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.ErrorComponent("metrics", "Error shutting down HTTP server: %v", err)
	}
	return nil
}
