package reconciler

import (
	"context"
	"fmt"

	"mmledger/internal/event"
	"mmledger/internal/storage"
)

// updateParameters load-or-creates the protocol parameters singleton and
// applies mutate to it. Fields not touched by mutate keep their values.
func (r *Reconciler) updateParameters(ctx context.Context, tx storage.Tx, mutate func(*storage.ProtocolParameters)) error {
	params, found, err := tx.LoadProtocolParameters(ctx)
	if err != nil {
		return fmt.Errorf("load protocol parameters: %w", err)
	}
	if !found {
		params = storage.NewProtocolParameters()
	}
	mutate(&params)
	if err := tx.SaveProtocolParameters(ctx, params); err != nil {
		return fmt.Errorf("save protocol parameters: %w", err)
	}
	return nil
}

func (r *Reconciler) newRiskParameters(ctx context.Context, tx storage.Tx, p event.NewRiskParameters) error {
	return r.updateParameters(ctx, tx, func(params *storage.ProtocolParameters) {
		params.CollateralRatioMantissa = p.NewCollateralRatioMantissa
		params.LiquidationDiscountMantissa = p.NewLiquidationDiscountMantissa
	})
}

func (r *Reconciler) newOriginationFee(ctx context.Context, tx storage.Tx, p event.NewOriginationFee) error {
	return r.updateParameters(ctx, tx, func(params *storage.ProtocolParameters) {
		params.OriginationFeeMantissa = p.NewOriginationFeeMantissa
	})
}
