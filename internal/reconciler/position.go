package reconciler

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"mmledger/internal/event"
	"mmledger/internal/gateway"
	"mmledger/internal/registry"
	"mmledger/internal/storage"
)

type side int

const (
	supplySide side = iota
	borrowSide
)

// movement is a user-initiated change to one side of one position.
type movement struct {
	kind       event.Kind
	side       side
	account    common.Address
	asset      common.Address
	newBalance decimal.Decimal
	// change is the interest accrued since the position's previous transaction.
	change decimal.Decimal
}

func (r *Reconciler) supplyReceived(ctx context.Context, tx storage.Tx, meta event.Meta, p event.SupplyReceived) error {
	return r.applyMovement(ctx, tx, meta, movement{
		kind:       event.KindSupplyReceived,
		side:       supplySide,
		account:    p.Account,
		asset:      p.Asset,
		newBalance: p.NewBalance,
		change:     p.NewBalance.Sub(p.Amount).Sub(p.StartingBalance),
	})
}

func (r *Reconciler) supplyWithdrawn(ctx context.Context, tx storage.Tx, meta event.Meta, p event.SupplyWithdrawn) error {
	return r.applyMovement(ctx, tx, meta, movement{
		kind:       event.KindSupplyWithdrawn,
		side:       supplySide,
		account:    p.Account,
		asset:      p.Asset,
		newBalance: p.NewBalance,
		change:     p.NewBalance.Add(p.Amount).Sub(p.StartingBalance),
	})
}

func (r *Reconciler) borrowTaken(ctx context.Context, tx storage.Tx, meta event.Meta, p event.BorrowTaken) error {
	return r.applyMovement(ctx, tx, meta, movement{
		kind:       event.KindBorrowTaken,
		side:       borrowSide,
		account:    p.Account,
		asset:      p.Asset,
		newBalance: p.NewBalance,
		change:     p.NewBalance.Sub(p.BorrowAmountWithFee).Sub(p.StartingBalance),
	})
}

func (r *Reconciler) borrowRepaid(ctx context.Context, tx storage.Tx, meta event.Meta, p event.BorrowRepaid) error {
	return r.applyMovement(ctx, tx, meta, movement{
		kind:       event.KindBorrowRepaid,
		side:       borrowSide,
		account:    p.Account,
		asset:      p.Asset,
		newBalance: p.NewBalance,
		change:     p.NewBalance.Add(p.Amount).Sub(p.StartingBalance),
	})
}

func (r *Reconciler) applyMovement(ctx context.Context, tx storage.Tx, meta event.Meta, mv movement) error {
	symbol := r.symbol(mv.kind, mv.asset)
	market, _, err := r.loadMarket(ctx, tx, mv.kind, mv.asset)
	if err != nil {
		return err
	}

	accountID := registry.Hex(mv.account)
	assetID := storage.AssetID(symbol, accountID)
	asset, _, err := r.loadAsset(ctx, tx, mv.kind, EntityAsset, assetID, accountID)
	if err != nil {
		return err
	}
	// Withdraw and repay need the side they draw down to have been opened.
	if missPolicy(mv.kind, EntityAsset) == Fail && !sideOpen(asset, mv.side) {
		return &PrerequisiteError{Kind: mv.kind, Entity: EntityAsset, Key: assetID}
	}

	var account *storage.Account
	if _, tracked := MissPolicies[mv.kind][EntityAccount]; tracked {
		_, found, err := tx.LoadAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load account %s: %w", accountID, err)
		}
		if !found {
			account = &storage.Account{ID: accountID, CreatedBlock: int64(meta.BlockNumber)}
		}
	}

	reader := r.gateway.At(meta.Contract, meta.BlockNumber)
	var balance gateway.Balance
	if mv.side == supplySide {
		balance, err = reader.SupplyBalance(ctx, mv.account, mv.asset)
	} else {
		balance, err = reader.BorrowBalance(ctx, mv.account, mv.asset)
	}
	if err != nil {
		return err
	}
	snap, err := reader.Market(ctx, mv.asset)
	if err != nil {
		return err
	}

	if mv.side == supplySide {
		asset.SupplyPrincipal = valid(mv.newBalance)
		asset.SupplyInterestIndex = valid(balance.InterestIndex)
		accrue(&asset.SupplyInterestLastChange, &asset.TotalSupplyInterest, mv.change)
	} else {
		asset.BorrowPrincipal = valid(mv.newBalance)
		asset.BorrowInterestIndex = valid(balance.InterestIndex)
		accrue(&asset.BorrowInterestLastChange, &asset.TotalBorrowInterest, mv.change)
	}
	asset.AppendHistory(meta.TxHash.Hex(), meta.BlockTime)
	refreshMarket(&market, snap)

	if account != nil {
		if err := tx.SaveAccount(ctx, *account); err != nil {
			return fmt.Errorf("save account %s: %w", account.ID, err)
		}
	}
	if err := tx.SaveAsset(ctx, asset); err != nil {
		return fmt.Errorf("save asset %s: %w", asset.ID, err)
	}
	if err := tx.SaveMarket(ctx, market); err != nil {
		return fmt.Errorf("save market %s: %w", market.ID, err)
	}
	return nil
}

func sideOpen(a storage.Asset, s side) bool {
	if s == supplySide {
		return a.SupplyPrincipal.Valid
	}
	return a.BorrowPrincipal.Valid
}
