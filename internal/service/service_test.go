package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mmledger/internal/alerting"
	"mmledger/internal/event"
	"mmledger/internal/gateway"
	"mmledger/internal/metrics"
	"mmledger/internal/registry"
	"mmledger/internal/storage"
)

type countingApplier struct {
	calls int
	err   error
}

func (a *countingApplier) Apply(ctx context.Context, tx storage.Tx, ev event.Event) error {
	a.calls++
	if a.err != nil {
		return a.err
	}
	return tx.SaveMarket(ctx, storage.Market{ID: ev.TxHash.Hex(), Symbol: "X"})
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []alerting.Liquidation
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, liq alerting.Liquidation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, liq)
	return n.err
}

func testEvent(block uint64, logIndex uint, payload event.Payload) event.Event {
	return event.Event{
		Meta: event.Meta{
			Contract:    common.HexToAddress("0x3fda67f7583380e67ef93072294a7fac882fd7e7"),
			BlockNumber: block,
			BlockTime:   time.Unix(1540000000, 0).UTC(),
			TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
			LogIndex:    logIndex,
		},
		Payload: payload,
	}
}

func newPipeline(store storage.Store, applier Applier, n alerting.Notifier, m *metrics.Metrics, cacheSize int) *Pipeline {
	return New(store, applier, registry.MustNew(registry.Mainnet), m, n, Options{DedupeCacheSize: cacheSize, AlertsEnabled: true}, zerolog.Nop())
}

func TestProcessAppliesOnceAndJournals(t *testing.T) {
	store := storage.NewMemory()
	applier := &countingApplier{}
	m := metrics.New()
	p := newPipeline(store, applier, nil, m, 16)
	ev := testEvent(10, 0, event.SuspendedMarket{})

	outcome, err := p.Process(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, Applied, outcome)

	outcome, err = p.Process(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, Duplicate, outcome)
	require.Equal(t, 1, applier.calls)

	count, err := store.CountProcessed(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, float64(10), testutil.ToFloat64(m.LastBlock))
	require.Equal(t, float64(1), testutil.ToFloat64(m.DedupeHits.WithLabelValues("cache")))
}

func TestProcessFallsBackToJournal(t *testing.T) {
	store := storage.NewMemory()
	applier := &countingApplier{}
	m := metrics.New()
	ev := testEvent(11, 3, event.SuspendedMarket{})

	_, err := newPipeline(store, applier, nil, nil, 4).Process(context.Background(), ev)
	require.NoError(t, err)

	// A fresh pipeline has an empty cache, as after a restart.
	outcome, err := newPipeline(store, applier, nil, m, 4).Process(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, Duplicate, outcome)
	require.Equal(t, 1, applier.calls)
	require.Equal(t, float64(1), testutil.ToFloat64(m.DedupeHits.WithLabelValues("journal")))
}

func TestProcessFailureIsRetryable(t *testing.T) {
	store := storage.NewMemory()
	applier := &countingApplier{err: fmt.Errorf("read: %w", gateway.ErrUnavailable)}
	m := metrics.New()
	p := newPipeline(store, applier, nil, m, 4)
	ev := testEvent(12, 0, event.SuspendedMarket{})

	_, err := p.Process(context.Background(), ev)
	require.ErrorIs(t, err, gateway.ErrUnavailable)
	require.Equal(t, float64(1), testutil.ToFloat64(m.GatewayFailures))

	markets, err := store.ListMarkets(context.Background())
	require.NoError(t, err)
	require.Empty(t, markets)

	applier.err = nil
	outcome, err := p.Process(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, Applied, outcome)
	require.Equal(t, 2, applier.calls)
}

func TestLiquidationAlertAfterCommit(t *testing.T) {
	store := storage.NewMemory()
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	m := metrics.New()
	p := newPipeline(store, &countingApplier{}, notifier, m, 4)

	dai := common.HexToAddress("0x89d24a6b4ccb1b6faa2625fe562bdd9a23260359")
	weth := common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	ev := testEvent(13, 1, event.BorrowLiquidated{
		TargetAccount:   common.HexToAddress("0x01"),
		AssetBorrow:     dai,
		AmountRepaid:    decimal.NewFromInt(5),
		Liquidator:      common.HexToAddress("0x02"),
		AssetCollateral: weth,
		AmountSeized:    decimal.NewFromInt(6),
	})

	outcome, err := p.Process(context.Background(), ev)
	require.NoError(t, err, "alert failures do not fail the event")
	require.Equal(t, Applied, outcome)
	require.Len(t, notifier.sent, 1)
	require.Equal(t, "DAI", notifier.sent[0].BorrowSymbol)
	require.Equal(t, "WETH", notifier.sent[0].CollateralSymbol)
	require.Equal(t, "mainnet", notifier.sent[0].Network)
	require.Equal(t, float64(1), testutil.ToFloat64(m.AlertsDispatched.WithLabelValues("failed")))
}

func TestAcquireLockWithoutLocker(t *testing.T) {
	p := newPipeline(storage.NewMemory(), &countingApplier{}, nil, nil, 1)
	unlock, proceed, err := p.AcquireLock(context.Background())
	require.NoError(t, err)
	require.True(t, proceed)
	unlock()
}
