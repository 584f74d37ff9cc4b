package reconciler

import (
	"context"
	"fmt"

	"mmledger/internal/event"
	"mmledger/internal/registry"
	"mmledger/internal/storage"
)

func (r *Reconciler) supportedMarket(ctx context.Context, tx storage.Tx, meta event.Meta, p event.SupportedMarket) error {
	const kind = event.KindSupportedMarket

	id := registry.Hex(p.Asset)
	existing, found, err := tx.LoadMarket(ctx, id)
	if err != nil {
		return fmt.Errorf("load market %s: %w", id, err)
	}
	if found {
		switch r.opts.Reregistration {
		case Reject:
			return fmt.Errorf("%w: %s (%s)", ErrDuplicateRegistration, existing.Symbol, id)
		case Overwrite:
			r.logger.Warn().Str("market", id).Str("symbol", existing.Symbol).Msg("re-registration resets market")
		default:
			r.logger.Warn().Str("market", id).Str("symbol", existing.Symbol).Msg("duplicate registration ignored")
			return nil
		}
	}

	// The first registration also seeds the protocol parameters.
	_, haveParams, err := tx.LoadProtocolParameters(ctx)
	if err != nil {
		return fmt.Errorf("load protocol parameters: %w", err)
	}
	var params *storage.ProtocolParameters
	if !haveParams {
		onchain, err := r.gateway.At(meta.Contract, meta.BlockNumber).Parameters(ctx)
		if err != nil {
			return err
		}
		seeded := storage.NewProtocolParameters()
		seeded.OriginationFeeMantissa = onchain.OriginationFeeMantissa
		seeded.CollateralRatioMantissa = onchain.CollateralRatioMantissa
		seeded.LiquidationDiscountMantissa = onchain.LiquidationDiscountMantissa
		params = &seeded
	}

	market := storage.Market{
		ID:                id,
		Symbol:            r.symbol(kind, p.Asset),
		InterestRateModel: registry.Hex(p.InterestRateModel),
		IsSupported:       true,
	}

	if params != nil {
		if err := tx.SaveProtocolParameters(ctx, *params); err != nil {
			return fmt.Errorf("save protocol parameters: %w", err)
		}
	}
	if err := tx.SaveMarket(ctx, market); err != nil {
		return fmt.Errorf("save market %s: %w", id, err)
	}
	return nil
}

func (r *Reconciler) suspendedMarket(ctx context.Context, tx storage.Tx, p event.SuspendedMarket) error {
	return r.updateMarket(ctx, tx, event.KindSuspendedMarket, p.Asset, func(m *storage.Market) {
		m.IsSuspended = true
	})
}

func (r *Reconciler) setInterestRateModel(ctx context.Context, tx storage.Tx, p event.SetMarketInterestRateModel) error {
	return r.updateMarket(ctx, tx, event.KindSetMarketInterestRateModel, p.Asset, func(m *storage.Market) {
		m.InterestRateModel = registry.Hex(p.InterestRateModel)
	})
}
