package app

import (
	"context"
	"errors"
	"os"

	"mmledger/internal/source"
)

// Apply reconciles every event in a JSON-lines file, in file order. A dry
// run prints the resulting markets instead of persisting them.
func (a *App) Apply(ctx context.Context, opts ApplyOptions) error {
	if opts.Path == "" {
		return errors.New("--file must be provided")
	}

	store, err := a.store(ctx, opts.DryRun)
	if err != nil {
		return err
	}
	defer store.Close()

	gw := a.newGateway()
	defer gw.Close()

	pipeline, err := a.newPipeline(store, gw, nil)
	if err != nil {
		return err
	}
	if !opts.DryRun {
		unlock, err := a.lockIngestion(ctx, pipeline)
		if err != nil {
			return err
		}
		defer unlock()
	}

	var counts tally
	read, err := source.ReadFile(ctx, opts.Path, counts.handler(pipeline))
	a.Logger.Info().
		Str("file", opts.Path).
		Int("read", read).
		Int("applied", counts.applied).
		Int("duplicates", counts.duplicates).
		Msg("event file processed")
	if err != nil {
		return err
	}

	if opts.DryRun {
		markets, err := store.ListMarkets(ctx)
		if err != nil {
			return err
		}
		return writeMarkets(os.Stdout, markets)
	}
	return nil
}
