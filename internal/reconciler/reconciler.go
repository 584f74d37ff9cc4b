// Package reconciler turns decoded money market events into ledger state.
//
// Apply handles exactly one event against one storage.Tx. Every handler
// loads what it needs, performs all gateway reads pinned to the event's
// block, mutates local copies, and only then writes. Entities are never
// cached across events.
package reconciler

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mmledger/internal/event"
	"mmledger/internal/gateway"
	"mmledger/internal/registry"
	"mmledger/internal/storage"
)

// Options tune handler behaviour.
type Options struct {
	Reregistration Reregistration
}

// Reconciler dispatches events to their handlers.
type Reconciler struct {
	registry *registry.Registry
	gateway  gateway.Gateway
	opts     Options
	logger   zerolog.Logger
}

// New constructs a Reconciler.
func New(reg *registry.Registry, gw gateway.Gateway, opts Options, logger zerolog.Logger) *Reconciler {
	if opts.Reregistration == "" {
		opts.Reregistration = Ignore
	}
	return &Reconciler{
		registry: reg,
		gateway:  gw,
		opts:     opts,
		logger:   logger.With().Str("component", "reconciler").Logger(),
	}
}

// Apply reconciles ev into tx. On error the caller must discard tx.
func (r *Reconciler) Apply(ctx context.Context, tx storage.Tx, ev event.Event) error {
	r.logger.Debug().
		Str("kind", string(ev.Kind())).
		Uint64("block", ev.BlockNumber).
		Str("tx", ev.TxHash.Hex()).
		Uint("log_index", ev.LogIndex).
		Msg("applying event")

	var err error
	switch p := ev.Payload.(type) {
	case event.SupplyReceived:
		err = r.supplyReceived(ctx, tx, ev.Meta, p)
	case event.SupplyWithdrawn:
		err = r.supplyWithdrawn(ctx, tx, ev.Meta, p)
	case event.BorrowTaken:
		err = r.borrowTaken(ctx, tx, ev.Meta, p)
	case event.BorrowRepaid:
		err = r.borrowRepaid(ctx, tx, ev.Meta, p)
	case event.BorrowLiquidated:
		err = r.borrowLiquidated(ctx, tx, ev.Meta, p)
	case event.SupportedMarket:
		err = r.supportedMarket(ctx, tx, ev.Meta, p)
	case event.SuspendedMarket:
		err = r.suspendedMarket(ctx, tx, p)
	case event.SetMarketInterestRateModel:
		err = r.setInterestRateModel(ctx, tx, p)
	case event.NewRiskParameters:
		err = r.newRiskParameters(ctx, tx, p)
	case event.NewOriginationFee:
		err = r.newOriginationFee(ctx, tx, p)
	case event.PricePosted:
		err = r.pricePosted(ctx, tx, ev.Meta, p.Asset, p.PreviousPriceMantissa, event.KindPricePosted)
	case event.CappedPricePosted:
		err = r.pricePosted(ctx, tx, ev.Meta, p.Asset, p.CappedPriceMantissa, event.KindCappedPricePosted)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedEvent, ev.Payload)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", ev.Kind(), ev.Key(), err)
	}
	return nil
}

// symbol resolves asset, logging unrecognised addresses.
func (r *Reconciler) symbol(kind event.Kind, asset common.Address) string {
	sym, known := r.registry.Resolve(asset)
	if !known {
		r.logger.Warn().
			Str("kind", string(kind)).
			Str("asset", registry.Hex(asset)).
			Str("network", string(r.registry.Network())).
			Msg("asset not in registry")
	}
	return sym
}

// loadMarket loads the market for asset and applies kind's miss policy for
// role. found is false only when the policy allowed the miss.
func (r *Reconciler) loadMarket(ctx context.Context, tx storage.Tx, kind event.Kind, asset common.Address) (storage.Market, bool, error) {
	id := registry.Hex(asset)
	market, found, err := tx.LoadMarket(ctx, id)
	if err != nil {
		return storage.Market{}, false, fmt.Errorf("load market %s: %w", id, err)
	}
	if !found && missPolicy(kind, EntityMarket) == Fail {
		return storage.Market{}, false, &PrerequisiteError{Kind: kind, Entity: EntityMarket, Key: id}
	}
	return market, found, nil
}

// loadAsset loads the asset keyed by id under role's miss policy. A created
// asset is returned with found=false.
func (r *Reconciler) loadAsset(ctx context.Context, tx storage.Tx, kind event.Kind, role Entity, id, account string) (storage.Asset, bool, error) {
	asset, found, err := tx.LoadAsset(ctx, id)
	if err != nil {
		return storage.Asset{}, false, fmt.Errorf("load asset %s: %w", id, err)
	}
	if found {
		return asset, true, nil
	}
	switch missPolicy(kind, role) {
	case Create:
		return storage.Asset{ID: id, Account: account}, false, nil
	default:
		return storage.Asset{}, false, &PrerequisiteError{Kind: kind, Entity: role, Key: id}
	}
}

// refreshMarket overwrites every aggregate with the gateway's figures.
func refreshMarket(m *storage.Market, snap gateway.MarketSnapshot) {
	m.BlockNumber = snap.BlockNumber
	m.TotalSupply = snap.TotalSupply
	m.SupplyRateMantissa = snap.SupplyRateMantissa
	m.SupplyIndex = snap.SupplyIndex
	m.TotalBorrows = snap.TotalBorrows
	m.BorrowRateMantissa = snap.BorrowRateMantissa
	m.BorrowIndex = snap.BorrowIndex
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d)
}

// accrue records change as the latest interest delta and adds it to total.
func accrue(last, total *decimal.NullDecimal, change decimal.Decimal) {
	*last = valid(change)
	sum := change
	if total.Valid {
		sum = total.Decimal.Add(change)
	}
	*total = valid(sum)
}
