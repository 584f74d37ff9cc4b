package reconciler

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"mmledger/internal/event"
	"mmledger/internal/gateway"
	"mmledger/internal/registry"
	"mmledger/internal/storage"
)

// applyBorrowMarketFields and applyCollateralMarketFields mirror the partial market
// updates the money market performs during liquidateBorrow.
func applyBorrowMarketFields(m *storage.Market, snap gateway.MarketSnapshot) {
	m.BlockNumber = snap.BlockNumber
	m.TotalBorrows = snap.TotalBorrows
	m.SupplyRateMantissa = snap.SupplyRateMantissa
	m.SupplyIndex = snap.SupplyIndex
	m.BorrowRateMantissa = snap.BorrowRateMantissa
	m.BorrowIndex = snap.BorrowIndex
}

func applyCollateralMarketFields(m *storage.Market, snap gateway.MarketSnapshot) {
	m.BlockNumber = snap.BlockNumber
	m.TotalSupply = snap.TotalSupply
	m.SupplyIndex = snap.SupplyIndex
	m.BorrowIndex = snap.BorrowIndex
}

// borrowLiquidated touches the two markets and three positions involved.
// The target's own history is not appended: it did not send the transaction.
func (r *Reconciler) borrowLiquidated(ctx context.Context, tx storage.Tx, meta event.Meta, p event.BorrowLiquidated) error {
	const kind = event.KindBorrowLiquidated

	borrowSymbol := r.symbol(kind, p.AssetBorrow)
	collateralSymbol := r.symbol(kind, p.AssetCollateral)
	target := registry.Hex(p.TargetAccount)
	liquidator := registry.Hex(p.Liquidator)

	if _, _, err := r.loadMarket(ctx, tx, kind, p.AssetBorrow); err != nil {
		return err
	}
	if _, _, err := r.loadMarket(ctx, tx, kind, p.AssetCollateral); err != nil {
		return err
	}
	for _, id := range []string{storage.AssetID(borrowSymbol, target), storage.AssetID(collateralSymbol, target)} {
		if _, _, err := r.loadAsset(ctx, tx, kind, EntityTargetAsset, id, target); err != nil {
			return err
		}
	}

	reader := r.gateway.At(meta.Contract, meta.BlockNumber)
	targetBorrow, err := reader.BorrowBalance(ctx, p.TargetAccount, p.AssetBorrow)
	if err != nil {
		return err
	}
	targetCollateral, err := reader.SupplyBalance(ctx, p.TargetAccount, p.AssetCollateral)
	if err != nil {
		return err
	}
	liquidatorCollateral, err := reader.SupplyBalance(ctx, p.Liquidator, p.AssetCollateral)
	if err != nil {
		return err
	}
	borrowSnap, err := reader.Market(ctx, p.AssetBorrow)
	if err != nil {
		return err
	}
	collateralSnap, err := reader.Market(ctx, p.AssetCollateral)
	if err != nil {
		return err
	}

	// Each entity is reloaded right before it is written so that aliased keys
	// see the preceding write within this event.
	if err := r.updateMarket(ctx, tx, kind, p.AssetBorrow, func(m *storage.Market) {
		applyBorrowMarketFields(m, borrowSnap)
	}); err != nil {
		return err
	}
	if err := r.updateMarket(ctx, tx, kind, p.AssetCollateral, func(m *storage.Market) {
		applyCollateralMarketFields(m, collateralSnap)
	}); err != nil {
		return err
	}

	if err := r.updateAsset(ctx, tx, kind, EntityTargetAsset, storage.AssetID(borrowSymbol, target), target, func(a *storage.Asset) {
		a.BorrowPrincipal = valid(targetBorrow.Principal)
		a.BorrowInterestIndex = valid(targetBorrow.InterestIndex)
	}); err != nil {
		return err
	}
	if err := r.updateAsset(ctx, tx, kind, EntityTargetAsset, storage.AssetID(collateralSymbol, target), target, func(a *storage.Asset) {
		a.SupplyPrincipal = valid(targetCollateral.Principal)
		a.SupplyInterestIndex = valid(targetCollateral.InterestIndex)
	}); err != nil {
		return err
	}
	if err := r.updateAsset(ctx, tx, kind, EntityLiquidatorAsset, storage.AssetID(collateralSymbol, liquidator), liquidator, func(a *storage.Asset) {
		a.SupplyPrincipal = valid(liquidatorCollateral.Principal)
		a.SupplyInterestIndex = valid(liquidatorCollateral.InterestIndex)
	}); err != nil {
		return err
	}

	r.logger.Info().
		Str("target", target).
		Str("liquidator", liquidator).
		Str("asset_borrow", borrowSymbol).
		Str("asset_collateral", collateralSymbol).
		Str("amount_repaid", p.AmountRepaid.String()).
		Str("amount_seized", p.AmountSeized.String()).
		Uint64("block", meta.BlockNumber).
		Msg("borrow liquidated")
	return nil
}

func (r *Reconciler) updateMarket(ctx context.Context, tx storage.Tx, kind event.Kind, asset common.Address, mutate func(*storage.Market)) error {
	market, _, err := r.loadMarket(ctx, tx, kind, asset)
	if err != nil {
		return err
	}
	mutate(&market)
	if err := tx.SaveMarket(ctx, market); err != nil {
		return fmt.Errorf("save market %s: %w", market.ID, err)
	}
	return nil
}

func (r *Reconciler) updateAsset(ctx context.Context, tx storage.Tx, kind event.Kind, role Entity, id, account string, mutate func(*storage.Asset)) error {
	asset, _, err := r.loadAsset(ctx, tx, kind, role, id, account)
	if err != nil {
		return err
	}
	mutate(&asset)
	if err := tx.SaveAsset(ctx, asset); err != nil {
		return fmt.Errorf("save asset %s: %w", asset.ID, err)
	}
	return nil
}
