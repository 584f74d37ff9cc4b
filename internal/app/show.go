package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"mmledger/internal/registry"
	"mmledger/internal/storage"
)

// Show prints every market, or one account's positions.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.store(ctx, false)
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.Account == "" {
		markets, err := store.ListMarkets(ctx)
		if err != nil {
			return err
		}
		if err := writeMarkets(os.Stdout, markets); err != nil {
			return err
		}
		processed, err := store.CountProcessed(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "\n%d events processed\n", processed)
		return nil
	}

	if !common.IsHexAddress(opts.Account) {
		return fmt.Errorf("invalid --account %q", opts.Account)
	}
	assets, err := store.ListAssetsByAccount(ctx, registry.Hex(common.HexToAddress(opts.Account)))
	if err != nil {
		return err
	}
	return writeAssets(os.Stdout, assets)
}

func writeMarkets(out io.Writer, markets []storage.Market) error {
	if len(markets) == 0 {
		_, err := fmt.Fprintln(out, "no markets found")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Symbol\tAsset\tStatus\tBlock\tTotal Supply\tTotal Borrows\tSupply APR%\tBorrow APR%\tPrice (wei)")
	for _, m := range markets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			m.Symbol,
			m.ID,
			marketStatus(m),
			m.BlockNumber,
			m.TotalSupply.String(),
			m.TotalBorrows.String(),
			annualPercent(m.SupplyRateMantissa).StringFixed(2),
			annualPercent(m.BorrowRateMantissa).StringFixed(2),
			m.PriceInWei.String(),
		)
	}
	return w.Flush()
}

func writeAssets(out io.Writer, assets []storage.Asset) error {
	if len(assets) == 0 {
		_, err := fmt.Fprintln(out, "no positions found")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Asset\tSupply Principal\tSupply Interest\tBorrow Principal\tBorrow Interest\tTransactions")
	for _, asset := range assets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			strings.TrimSuffix(asset.ID, "-"+asset.Account),
			nullString(asset.SupplyPrincipal),
			nullString(asset.TotalSupplyInterest),
			nullString(asset.BorrowPrincipal),
			nullString(asset.TotalBorrowInterest),
			len(asset.TransactionHashes),
		)
	}
	return w.Flush()
}

func marketStatus(m storage.Market) string {
	switch {
	case m.IsSuspended:
		return "suspended"
	case m.IsSupported:
		return "supported"
	default:
		return "pending"
	}
}

var mantissaOne = decimal.New(1, 18)

// annualPercent converts a per-block rate mantissa to a simple annual percentage.
func annualPercent(rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(decimal.NewFromInt(storage.BlocksPerYear)).Div(mantissaOne).Mul(decimal.NewFromInt(100))
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}
