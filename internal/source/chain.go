package source

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"mmledger/internal/event"
)

// LogClient is the subset of ethclient.Client the follower needs.
type LogClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// CursorStore persists the last fully processed block.
type CursorStore interface {
	Cursor(ctx context.Context, name string) (int64, bool, error)
	SaveCursor(ctx context.Context, name string, block int64) error
}

// ChainOptions configure the log follower.
type ChainOptions struct {
	Contracts     []common.Address
	StartBlock    uint64
	Confirmations uint64
	BatchSize     uint64
	CursorName    string
}

// Chain follows contract logs on an Ethereum node.
type Chain struct {
	client LogClient
	cursor CursorStore
	opts   ChainOptions
	logger zerolog.Logger
	onHead func(uint64)
}

// NewChain builds a follower. cursor may be nil for one-off ranges.
func NewChain(client LogClient, cursor CursorStore, opts ChainOptions, logger zerolog.Logger) *Chain {
	if opts.BatchSize == 0 {
		opts.BatchSize = 1000
	}
	if opts.CursorName == "" {
		opts.CursorName = "chain"
	}
	return &Chain{
		client: client,
		cursor: cursor,
		opts:   opts,
		logger: logger.With().Str("component", "chain_source").Logger(),
	}
}

// OnHead registers a callback invoked with every observed chain head.
func (c *Chain) OnHead(fn func(uint64)) {
	c.onHead = fn
}

// Poll processes every confirmed block past the cursor, advancing the
// cursor after each batch. It is the scheduler's tick function.
func (c *Chain) Poll(ctx context.Context, handle Handler) error {
	if c.cursor == nil {
		return errors.New("chain source has no cursor store")
	}

	head, err := c.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read chain head: %w", err)
	}
	if c.onHead != nil {
		c.onHead(head)
	}
	if head < c.opts.Confirmations {
		return nil
	}
	safe := head - c.opts.Confirmations

	next, err := c.nextBlock(ctx)
	if err != nil {
		return err
	}

	for next <= safe {
		if err := ctx.Err(); err != nil {
			return err
		}
		to := next + c.opts.BatchSize - 1
		if to > safe {
			to = safe
		}
		if err := c.Range(ctx, next, to, handle); err != nil {
			return err
		}
		if err := c.cursor.SaveCursor(ctx, c.opts.CursorName, int64(to)); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
		c.logger.Debug().Uint64("from", next).Uint64("to", to).Uint64("safe_head", safe).Msg("range processed")
		next = to + 1
	}
	return nil
}

func (c *Chain) nextBlock(ctx context.Context) (uint64, error) {
	last, ok, err := c.cursor.Cursor(ctx, c.opts.CursorName)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if !ok || last < 0 {
		return c.opts.StartBlock, nil
	}
	if next := uint64(last) + 1; next > c.opts.StartBlock {
		return next, nil
	}
	return c.opts.StartBlock, nil
}

// Range fetches, decodes and hands over every tracked log in [from, to].
// It stops at the first handler error.
func (c *Chain) Range(ctx context.Context, from, to uint64, handle Handler) error {
	events, err := c.Fetch(ctx, from, to)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := handle(ctx, ev); err != nil {
			return fmt.Errorf("block %d log %d: %w", ev.BlockNumber, ev.LogIndex, err)
		}
	}
	return nil
}

// Fetch returns the decoded events in [from, to], sorted.
func (c *Chain) Fetch(ctx context.Context, from, to uint64) ([]event.Event, error) {
	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: c.opts.Contracts,
		Topics:    [][]common.Hash{Topics()},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	times := make(map[uint64]time.Time)
	events := make([]event.Event, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		at, ok := times[l.BlockNumber]
		if !ok {
			header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(l.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("header %d: %w", l.BlockNumber, err)
			}
			at = time.Unix(int64(header.Time), 0)
			times[l.BlockNumber] = at
		}

		ev, err := DecodeLog(l, at)
		if errors.Is(err, ErrUnknownLog) {
			c.logger.Debug().Str("tx", l.TxHash.Hex()).Uint("log_index", l.Index).Msg("skipping untracked log")
			continue
		}
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Before(events[j]) })
	return events, nil
}
