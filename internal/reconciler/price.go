package reconciler

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"mmledger/internal/event"
	"mmledger/internal/registry"
	"mmledger/internal/storage"
)

// wethPrice is the fixed WETH price in wei: 1e15.
var wethPrice = decimal.New(1, 15)

// pricePosted records an oracle price. The reference asset's price is
// re-read from the oracle at the event block, since every other price is
// quoted against it.
func (r *Reconciler) pricePosted(ctx context.Context, tx storage.Tx, meta event.Meta, asset common.Address, price decimal.Decimal, kind event.Kind) error {
	if dai, ok := r.registry.Address(registry.SymbolDAI); ok {
		daiMarket, found, err := r.loadMarket(ctx, tx, kind, dai)
		if err != nil {
			return err
		}
		if found {
			daiPrice, err := r.gateway.At(meta.Contract, meta.BlockNumber).AssetPrice(ctx, dai)
			if err != nil {
				return err
			}
			daiMarket.PriceInWei = daiPrice
			if err := tx.SaveMarket(ctx, daiMarket); err != nil {
				return fmt.Errorf("save market %s: %w", daiMarket.ID, err)
			}
		}
	}

	market, found, err := r.loadMarket(ctx, tx, kind, asset)
	if err != nil {
		return err
	}
	if !found {
		r.logger.Warn().
			Str("kind", string(kind)).
			Str("asset", registry.Hex(asset)).
			Msg("price for unregistered market skipped")
		return nil
	}

	if market.Symbol == registry.SymbolWETH {
		market.PriceInWei = wethPrice
	} else {
		market.PriceInWei = price
	}
	if err := tx.SaveMarket(ctx, market); err != nil {
		return fmt.Errorf("save market %s: %w", market.ID, err)
	}
	return nil
}
