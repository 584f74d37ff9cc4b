package app

import (
	"context"
	"errors"

	"mmledger/internal/source"
)

// Backfill replays a closed block range through the chain source once. The
// sync cursor is neither read nor advanced.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.ToBlock < opts.FromBlock {
		return errors.New("--to-block must not be before --from-block")
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
	client, err := gw.Client(ctx)
	if err != nil {
		return err
	}

	chain := source.NewChain(client, nil, source.ChainOptions{
		Contracts: a.contracts(),
		BatchSize: a.Config.Ethereum.BatchSize,
	}, a.Logger)

	var counts tally
	handle := counts.handler(pipeline)
	batch := a.Config.Ethereum.BatchSize
	for from := opts.FromBlock; from <= opts.ToBlock; from += batch {
		to := from + batch - 1
		if to > opts.ToBlock || to < from {
			to = opts.ToBlock
		}
		if err := chain.Range(ctx, from, to, handle); err != nil {
			a.Logger.Error().Err(err).Uint64("from", from).Uint64("to", to).Int("applied", counts.applied).Msg("backfill stopped")
			return err
		}
		a.Logger.Info().Uint64("from", from).Uint64("to", to).Int("applied", counts.applied).Msg("range replayed")
		if to == opts.ToBlock {
			break
		}
	}

	a.Logger.Info().
		Uint64("from_block", opts.FromBlock).
		Uint64("to_block", opts.ToBlock).
		Int("applied", counts.applied).
		Int("duplicates", counts.duplicates).
		Bool("dry_run", opts.DryRun).
		Msg("backfill complete")
	return nil
}
