package exporter

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/acquisition"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/aggregator"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/config"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/logger"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/metrics"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/statusapi"
)

// Exporter wires the status source, the acquisition loop and the aggregator together.
type Exporter struct {
	cfg        config.Config
	client     *statusapi.Client
	aggregator *aggregator.Aggregator
	controller *acquisition.Controller
}

func NewClient(cfg config.Config) *statusapi.Client {
	return statusapi.NewClient(statusapi.Options{
		BaseURL:         cfg.StatusAPIURL,
		RequestTimeout:  cfg.RequestTimeout,
		CommandTimeout:  cfg.CommandTimeout,
		HistoryCacheTTL: cfg.HistoryCacheTTL,
	})
}

// New builds the pipeline. Views are published to the metrics instruments and the log.
func New(cfg config.Config) *Exporter {
	client := NewClient(cfg)
	agg := aggregator.New(aggregator.Options{
		MaxPoints: cfg.MaxBufferPoints,
		Rules:     cfg.Events,
	}, metrics.NewPublisher(), newLogPublisher(cfg.LogStatsEvery))

	controller := acquisition.NewController(acquisition.Options{
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
		FallbackPollInterval: cfg.FallbackPollInterval,
		HistoryDays:          cfg.HistoryDays,
		RequestTimeout:       cfg.RequestTimeout,
	}, statusapi.NewWSDialer(cfg.StatusWSURL), client, agg)

	return &Exporter{
		cfg:        cfg,
		client:     client,
		aggregator: agg,
		controller: controller,
	}
}

func (e *Exporter) Aggregator() *aggregator.Aggregator { return e.aggregator }

// Routes returns the view API plus the command and history endpoints.
func (e *Exporter) Routes() map[string]http.Handler {
	routes := e.aggregator.Routes()
	for path, h := range e.commandRoutes() {
		routes[path] = h
	}
	routes["/api/history/request"] = http.HandlerFunc(e.serveHistoryRequest)
	routes["/api/refresh"] = http.HandlerFunc(e.serveRefresh)
	return routes
}

// Run blocks until ctx is cancelled or a component fails.
func (e *Exporter) Run(ctx context.Context) error {
	logger.InfoComponent("system", "Starting sync exporter for %s (status %s, push %s)",
		e.cfg.Network, e.cfg.StatusAPIURL, e.cfg.StatusWSURL)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := e.controller.Run(gctx); err != nil {
			return fmt.Errorf("acquisition: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return metrics.Serve(gctx, e.cfg.ListenPort, e.cfg.EnablePrometheus, e.Routes())
	})

	g.Go(func() error {
		metrics.StartMemoryMonitoring(gctx, 0)
		return nil
	})

	err := g.Wait()
	logger.InfoComponent("system", "Exporter stopped")
	return err
}

// Start builds the exporter from cfg and runs it.
func Start(ctx context.Context, cfg config.Config) error {
	return New(cfg).Run(ctx)
}
