package reconciler

import (
	"context"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mmledger/internal/event"
	"mmledger/internal/gateway"
	"mmledger/internal/registry"
	"mmledger/internal/storage"
)

var carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")

// diffFields returns the names of the fields that differ between a and b.
func diffFields(a, b any) []string {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	var out []string
	for i := 0; i < va.NumField(); i++ {
		if !reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			out = append(out, va.Type().Field(i).Name)
		}
	}
	return out
}

func preMarket(asset common.Address, symbol string, seed int64) storage.Market {
	n := func(off int64) decimal.Decimal { return decimal.NewFromInt(seed*100 + off) }
	return storage.Market{
		ID:                 registry.Hex(asset),
		Symbol:             symbol,
		InterestRateModel:  registry.Hex(irm),
		IsSupported:        true,
		BlockNumber:        6300000 + seed,
		TotalSupply:        n(1),
		TotalBorrows:       n(2),
		SupplyRateMantissa: n(3),
		BorrowRateMantissa: n(4),
		SupplyIndex:        n(5),
		BorrowIndex:        n(6),
		PriceInWei:         n(7),
	}
}

func TestBorrowLiquidatedUpdatesDocumentedSubset(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.seed(func(tx storage.Tx) error {
		require.NoError(t, tx.SaveMarket(ctx, preMarket(dai, "DAI", 1)))
		require.NoError(t, tx.SaveMarket(ctx, preMarket(rep, "REP", 2)))
		require.NoError(t, tx.SaveMarket(ctx, preMarket(weth, "WETH", 3)))
		require.NoError(t, tx.SaveAsset(ctx, storage.Asset{
			ID:                  storage.AssetID("DAI", registry.Hex(alice)),
			Account:             registry.Hex(alice),
			BorrowPrincipal:     valid(d("90")),
			BorrowInterestIndex: valid(d("1")),
			TransactionHashes:   []string{"0x01"},
			TransactionTimes:    []int64{1},
		}))
		require.NoError(t, tx.SaveAsset(ctx, storage.Asset{
			ID:                  storage.AssetID("REP", registry.Hex(alice)),
			Account:             registry.Hex(alice),
			SupplyPrincipal:     valid(d("80")),
			SupplyInterestIndex: valid(d("1")),
			TransactionHashes:   []string{"0x02"},
			TransactionTimes:    []int64{2},
		}))
		require.NoError(t, tx.SaveAsset(ctx, storage.Asset{
			ID:              storage.AssetID("DAI", registry.Hex(bob)),
			Account:         registry.Hex(bob),
			SupplyPrincipal: valid(d("500")),
		}))
		return tx.SaveAsset(ctx, storage.Asset{
			ID:              storage.AssetID("REP", registry.Hex(carol)),
			Account:         registry.Hex(carol),
			SupplyPrincipal: valid(d("5")),
		})
	})

	marketsBefore, err := h.store.ListMarkets(ctx)
	require.NoError(t, err)
	assetsBefore := map[string]storage.Asset{}
	for _, acc := range []common.Address{alice, bob, carol} {
		list, err := h.store.ListAssetsByAccount(ctx, registry.Hex(acc))
		require.NoError(t, err)
		for _, a := range list {
			assetsBefore[a.ID] = a
		}
	}

	borrowSnap, collateralSnap := snapshot(20), snapshot(30)
	h.gw.SetMarket(dai, borrowSnap)
	h.gw.SetMarket(rep, collateralSnap)
	h.gw.SetBorrow(alice, dai, gateway.Balance{Principal: d("70"), InterestIndex: d("11")})
	h.gw.SetSupply(alice, rep, gateway.Balance{Principal: d("40"), InterestIndex: d("12")})
	h.gw.SetSupply(bob, rep, gateway.Balance{Principal: d("60"), InterestIndex: d("13")})

	h.mustApply(event.BorrowLiquidated{
		TargetAccount:                alice,
		AssetBorrow:                  dai,
		BorrowBalanceBefore:          d("90"),
		BorrowBalanceAccumulated:     d("91"),
		AmountRepaid:                 d("21"),
		BorrowBalanceAfter:           d("70"),
		Liquidator:                   bob,
		AssetCollateral:              rep,
		CollateralBalanceBefore:      d("80"),
		CollateralBalanceAccumulated: d("81"),
		AmountSeized:                 d("41"),
		CollateralBalanceAfter:       d("40"),
	})

	marketsAfter, err := h.store.ListMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, marketsAfter, len(marketsBefore))

	changedMarkets := 0
	for i, before := range marketsBefore {
		after := marketsAfter[i]
		diff := diffFields(before, after)
		switch before.Symbol {
		case "DAI":
			require.ElementsMatch(t, []string{"BlockNumber", "TotalBorrows", "SupplyRateMantissa", "SupplyIndex", "BorrowRateMantissa", "BorrowIndex"}, diff)
			require.Equal(t, borrowSnap.BlockNumber, after.BlockNumber)
			requireDec(t, borrowSnap.TotalBorrows.String(), after.TotalBorrows, "totalBorrows")
			requireDec(t, borrowSnap.SupplyRateMantissa.String(), after.SupplyRateMantissa, "supplyRate")
			requireDec(t, borrowSnap.SupplyIndex.String(), after.SupplyIndex, "supplyIndex")
			requireDec(t, borrowSnap.BorrowRateMantissa.String(), after.BorrowRateMantissa, "borrowRate")
			requireDec(t, borrowSnap.BorrowIndex.String(), after.BorrowIndex, "borrowIndex")
		case "REP":
			require.ElementsMatch(t, []string{"BlockNumber", "TotalSupply", "SupplyIndex", "BorrowIndex"}, diff)
			require.Equal(t, collateralSnap.BlockNumber, after.BlockNumber)
			requireDec(t, collateralSnap.TotalSupply.String(), after.TotalSupply, "totalSupply")
			requireDec(t, collateralSnap.SupplyIndex.String(), after.SupplyIndex, "supplyIndex")
			requireDec(t, collateralSnap.BorrowIndex.String(), after.BorrowIndex, "borrowIndex")
		default:
			require.Empty(t, diff, "%s market untouched", before.Symbol)
		}
		if len(diff) > 0 {
			changedMarkets++
		}
	}
	require.Equal(t, 2, changedMarkets)

	changedAssets := 0
	for _, acc := range []common.Address{alice, bob, carol} {
		list, err := h.store.ListAssetsByAccount(ctx, registry.Hex(acc))
		require.NoError(t, err)
		for _, after := range list {
			before, existed := assetsBefore[after.ID]
			if !existed || len(diffFields(before, after)) > 0 {
				changedAssets++
			}
		}
	}
	require.Equal(t, 3, changedAssets, "target borrow, target collateral and liquidator collateral")

	targetBorrow, _ := h.asset("DAI", alice)
	require.ElementsMatch(t, []string{"BorrowPrincipal", "BorrowInterestIndex"}, diffFields(assetsBefore[targetBorrow.ID], targetBorrow))
	requireNullDec(t, "70", targetBorrow.BorrowPrincipal, "target borrowPrincipal")
	requireNullDec(t, "11", targetBorrow.BorrowInterestIndex, "target borrowIndex")

	targetCollateral, _ := h.asset("REP", alice)
	require.ElementsMatch(t, []string{"SupplyPrincipal", "SupplyInterestIndex"}, diffFields(assetsBefore[targetCollateral.ID], targetCollateral))
	requireNullDec(t, "40", targetCollateral.SupplyPrincipal, "target supplyPrincipal")
	require.Len(t, targetCollateral.TransactionHashes, 1, "no history append")

	liquidatorCollateral, ok := h.asset("REP", bob)
	require.True(t, ok, "liquidator collateral asset created")
	require.Equal(t, registry.Hex(bob), liquidatorCollateral.Account)
	requireNullDec(t, "60", liquidatorCollateral.SupplyPrincipal, "liquidator supplyPrincipal")
	requireNullDec(t, "13", liquidatorCollateral.SupplyInterestIndex, "liquidator supplyIndex")
	require.False(t, liquidatorCollateral.BorrowPrincipal.Valid)
	require.Empty(t, liquidatorCollateral.TransactionHashes)

	h.seed(func(tx storage.Tx) error {
		_, found, err := tx.LoadAccount(ctx, registry.Hex(bob))
		require.NoError(t, err)
		require.False(t, found, "liquidation creates no account")
		return nil
	})
}

func TestBorrowLiquidatedRequiresTargetPositions(t *testing.T) {
	h := newHarness(t, Options{})
	h.register(dai, alice, bob)
	h.register(rep, alice, bob)

	err := h.apply(event.BorrowLiquidated{
		TargetAccount:   alice,
		AssetBorrow:     dai,
		Liquidator:      bob,
		AssetCollateral: rep,
	})
	require.ErrorIs(t, err, ErrPrerequisiteMissing)
	var pe *PrerequisiteError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, EntityTargetAsset, pe.Entity)

	_, created := h.asset("REP", bob)
	require.False(t, created)
}
