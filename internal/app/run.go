package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mmledger/internal/config"
	"mmledger/internal/gateway"
	"mmledger/internal/metrics"
	"mmledger/internal/scheduler"
	"mmledger/internal/source"
	"mmledger/internal/storage"
)

// Run executes the long-running ingestion service.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := uuid.NewString()
	logger := a.Logger.With().Str("run_id", runID).Logger()

	store, err := a.store(ctx, false)
	if err != nil {
		return err
	}
	defer store.Close()

	gw := a.newGateway()
	defer gw.Close()

	m := metrics.New()
	pipeline, err := a.newPipeline(store, gw, m)
	if err != nil {
		return err
	}

	if !opts.SkipLock {
		unlock, err := a.lockIngestion(ctx, pipeline)
		if err != nil {
			return err
		}
		defer unlock()
	}

	var counts tally
	handle := counts.handler(pipeline)

	g, gctx := errgroup.WithContext(ctx)
	if a.Config.Metrics.Listen != "" {
		a.serveMetrics(gctx, g, m)
	}

	g.Go(func() error {
		switch a.Config.Source.Kind {
		case config.SourceNATS:
			return a.runNATS(gctx, handle)
		default:
			return a.runChain(gctx, gw, store, m, handle)
		}
	})

	logger.Info().Str("source", a.Config.Source.Kind).Str("network", a.Config.Ethereum.Network).Msg("starting ingestion")
	err = ignoreCanceled(g.Wait())
	logger.Info().Int("applied", counts.applied).Int("duplicates", counts.duplicates).Msg("ingestion stopped")
	return err
}

func (a *App) serveMetrics(ctx context.Context, g *errgroup.Group, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              a.Config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		a.Logger.Info().Str("listen", srv.Addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (a *App) runChain(ctx context.Context, gw *gateway.Eth, store storage.Store, m *metrics.Metrics, handle source.Handler) error {
	client, err := gw.Client(ctx)
	if err != nil {
		return err
	}

	eth := a.Config.Ethereum
	chain := source.NewChain(client, store, source.ChainOptions{
		Contracts:     a.contracts(),
		StartBlock:    eth.StartBlock,
		Confirmations: eth.Confirmations,
		BatchSize:     eth.BatchSize,
	}, a.Logger)
	chain.OnHead(func(head uint64) { m.ChainHead.Set(float64(head)) })

	sched := scheduler.New(scheduler.Options{
		Interval:   eth.PollInterval,
		MaxBackoff: 8 * eth.PollInterval,
	}, a.Logger)
	return sched.Run(ctx, func(ctx context.Context) error {
		return chain.Poll(ctx, handle)
	})
}

func (a *App) runNATS(ctx context.Context, handle source.Handler) error {
	cfg := a.Config.NATS
	consumer, err := source.DialNATS(source.NATSOptions{
		URL:      cfg.URL,
		Stream:   cfg.Stream,
		Subject:  cfg.Subject,
		Consumer: cfg.Consumer,
		AckWait:  cfg.AckWait,
	}, a.Logger)
	if err != nil {
		return err
	}
	defer consumer.Close()
	return consumer.Run(ctx, handle)
}
