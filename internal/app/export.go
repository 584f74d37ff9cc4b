package app

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"mmledger/internal/storage"
)

// Export writes market state as CSV and/or a PNG bar chart of totals.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = a.Config.Export.MaxRows
	}

	store, err := a.store(ctx, false)
	if err != nil {
		return err
	}
	defer store.Close()

	markets, err := store.ListMarkets(ctx)
	if err != nil {
		return err
	}
	if len(markets) == 0 {
		a.Logger.Info().Msg("no markets to export")
		return nil
	}
	if len(markets) > opts.MaxRows {
		a.Logger.Warn().Int("total", len(markets)).Int("max_rows", opts.MaxRows).Msg("truncating export")
		markets = markets[:opts.MaxRows]
	}

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writeMarketsCSV(w, markets) }); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return writeTotalsPNG(w, markets) }); err != nil {
			return err
		}
	}

	a.Logger.Info().Int("markets", len(markets)).Str("csv", opts.CSVPath).Str("png", opts.PNGPath).Msg("export complete")
	return nil
}

func writeFile(path string, render func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeMarketsCSV(out io.Writer, markets []storage.Market) error {
	writer := csv.NewWriter(out)

	header := []string{
		"asset", "symbol", "is_supported", "is_suspended", "block_number", "interest_rate_model",
		"total_supply", "total_borrows", "supply_rate_mantissa", "borrow_rate_mantissa",
		"supply_index", "borrow_index", "supply_apr_pct", "borrow_apr_pct", "price_in_wei",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, m := range markets {
		record := []string{
			m.ID,
			m.Symbol,
			strconv.FormatBool(m.IsSupported),
			strconv.FormatBool(m.IsSuspended),
			strconv.FormatInt(m.BlockNumber, 10),
			m.InterestRateModel,
			m.TotalSupply.String(),
			m.TotalBorrows.String(),
			m.SupplyRateMantissa.String(),
			m.BorrowRateMantissa.String(),
			m.SupplyIndex.String(),
			m.BorrowIndex.String(),
			annualPercent(m.SupplyRateMantissa).StringFixed(4),
			annualPercent(m.BorrowRateMantissa).StringFixed(4),
			m.PriceInWei.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeTotalsPNG renders supply and borrow totals per market, in whole
// token units.
func writeTotalsPNG(out io.Writer, markets []storage.Market) error {
	bars := make([]chart.Value, 0, 2*len(markets))
	top := 0.0
	for _, m := range markets {
		supply := tokenUnits(m.TotalSupply)
		borrows := tokenUnits(m.TotalBorrows)
		bars = append(bars,
			chart.Value{Label: m.Symbol + " supply", Value: supply},
			chart.Value{Label: m.Symbol + " borrows", Value: borrows},
		)
		top = max(top, supply, borrows)
	}
	if top == 0 {
		top = 1
	}

	graph := chart.BarChart{
		Title:    "Market totals",
		Width:    1280,
		Height:   720,
		BarWidth: 40,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		YAxis: chart.YAxis{
			Name:  "Tokens",
			Range: &chart.ContinuousRange{Min: 0, Max: top * 1.1},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Bars: bars,
	}
	return graph.Render(chart.PNG, out)
}

func tokenUnits(wei decimal.Decimal) float64 {
	return wei.Div(mantissaOne).InexactFloat64()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
