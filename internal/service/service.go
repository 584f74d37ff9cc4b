package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluele/gcache"
	"github.com/rs/zerolog"

	"mmledger/internal/alerting"
	"mmledger/internal/event"
	"mmledger/internal/gateway"
	"mmledger/internal/metrics"
	"mmledger/internal/registry"
	"mmledger/internal/storage"
)

// Applier reconciles one event inside a unit of work.
type Applier interface {
	Apply(ctx context.Context, tx storage.Tx, ev event.Event) error
}

// Outcome reports what Process did with an event.
type Outcome string

const (
	Applied   Outcome = "applied"
	Duplicate Outcome = "duplicate"
)

// Options tune the pipeline.
type Options struct {
	DedupeCacheSize int
	AlertsEnabled   bool
	LockKey         int64
}

// Pipeline applies events one at a time: dedupe, reconcile and journal in
// one unit, then metrics and alerts.
type Pipeline struct {
	store    storage.Store
	applier  Applier
	registry *registry.Registry
	metrics  *metrics.Metrics
	notifier alerting.Notifier
	seen     gcache.Cache
	logger   zerolog.Logger

	alertsOn bool
	locker   storage.AdvisoryLocker
	lockKey  int64
}

// New constructs the pipeline. m and notifier may be nil.
func New(store storage.Store, applier Applier, reg *registry.Registry, m *metrics.Metrics, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Pipeline {
	size := opts.DedupeCacheSize
	if size <= 0 {
		size = 1
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Pipeline{
		store:    store,
		applier:  applier,
		registry: reg,
		metrics:  m,
		notifier: notifier,
		seen:     gcache.New(size).LRU().Build(),
		logger:   logger.With().Str("component", "pipeline").Logger(),
		alertsOn: opts.AlertsEnabled && notifier != nil,
		locker:   locker,
		lockKey:  opts.LockKey,
	}
}

// Process applies ev exactly once. A failed event leaves no writes and is
// not recorded as processed, so redelivery retries it.
func (p *Pipeline) Process(ctx context.Context, ev event.Event) (Outcome, error) {
	kind := string(ev.Kind())
	key := ev.Key()

	if p.seen.Has(key) {
		p.observeDuplicate(kind, "cache")
		return Duplicate, nil
	}

	started := time.Now()
	duplicate := false
	err := p.store.Atomic(ctx, func(tx storage.Tx) error {
		done, err := tx.IsProcessed(ctx, ev.TxHash.Hex(), int64(ev.LogIndex))
		if err != nil {
			return fmt.Errorf("check journal: %w", err)
		}
		if done {
			duplicate = true
			return nil
		}
		if err := p.applier.Apply(ctx, tx, ev); err != nil {
			return err
		}
		return tx.MarkProcessed(ctx, storage.ProcessedEvent{
			TxHash:      ev.TxHash.Hex(),
			LogIndex:    int64(ev.LogIndex),
			Kind:        kind,
			BlockNumber: int64(ev.BlockNumber),
			ProcessedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		p.observeFailure(kind, err)
		return "", err
	}

	_ = p.seen.Set(key, struct{}{})
	if duplicate {
		p.observeDuplicate(kind, "journal")
		return Duplicate, nil
	}

	if p.metrics != nil {
		p.metrics.EventsTotal.WithLabelValues(kind, metrics.OutcomeApplied).Inc()
		p.metrics.EventDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
		p.metrics.LastBlock.Set(float64(ev.BlockNumber))
	}

	if liq, ok := ev.Payload.(event.BorrowLiquidated); ok {
		p.alertLiquidation(ctx, ev.Meta, liq)
	}
	return Applied, nil
}

func (p *Pipeline) observeDuplicate(kind, tier string) {
	p.logger.Debug().Str("kind", kind).Str("tier", tier).Msg("duplicate event skipped")
	if p.metrics == nil {
		return
	}
	p.metrics.EventsTotal.WithLabelValues(kind, metrics.OutcomeDuplicate).Inc()
	p.metrics.DedupeHits.WithLabelValues(tier).Inc()
}

func (p *Pipeline) observeFailure(kind string, err error) {
	if p.metrics == nil {
		return
	}
	p.metrics.EventsTotal.WithLabelValues(kind, metrics.OutcomeFailed).Inc()
	if errors.Is(err, gateway.ErrUnavailable) {
		p.metrics.GatewayFailures.Inc()
	}
}

// alertLiquidation is best effort: the event is already committed.
func (p *Pipeline) alertLiquidation(ctx context.Context, meta event.Meta, liq event.BorrowLiquidated) {
	if !p.alertsOn {
		return
	}
	borrowSymbol, _ := p.registry.Resolve(liq.AssetBorrow)
	collateralSymbol, _ := p.registry.Resolve(liq.AssetCollateral)

	err := p.notifier.Notify(ctx, alerting.Liquidation{
		Network:          string(p.registry.Network()),
		BlockNumber:      meta.BlockNumber,
		BlockTime:        meta.BlockTime,
		TxHash:           meta.TxHash.Hex(),
		Target:           registry.Hex(liq.TargetAccount),
		Liquidator:       registry.Hex(liq.Liquidator),
		BorrowSymbol:     borrowSymbol,
		CollateralSymbol: collateralSymbol,
		AmountRepaid:     liq.AmountRepaid,
		AmountSeized:     liq.AmountSeized,
		BorrowAfter:      liq.BorrowBalanceAfter,
		CollateralAfter:  liq.CollateralBalanceAfter,
	})
	result := "sent"
	if err != nil {
		result = "failed"
		p.logger.Error().Err(err).Str("tx", meta.TxHash.Hex()).Msg("failed to dispatch liquidation alert")
	}
	if p.metrics != nil {
		p.metrics.AlertsDispatched.WithLabelValues(result).Inc()
	}
}

// AcquireLock takes the single-consumer advisory lock when the store
// supports one and a key is configured. proceed is false when another
// process holds it.
func (p *Pipeline) AcquireLock(ctx context.Context) (unlock func(), proceed bool, err error) {
	if p.lockKey == 0 || p.locker == nil {
		return func() {}, true, nil
	}
	unlock, acquired, err := p.locker.TryAdvisoryLock(ctx, p.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
