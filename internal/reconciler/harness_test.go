package reconciler

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mmledger/internal/event"
	"mmledger/internal/gateway"
	"mmledger/internal/gateway/gatewaytest"
	"mmledger/internal/registry"
	"mmledger/internal/storage"
)

var (
	moneyMarket = common.HexToAddress("0x3fda67f7583380e67ef93072294a7fac882fd7e7")
	priceOracle = common.HexToAddress("0x02557a5e05defeffd4cae6d83ea3d173b272c904")
	irm         = common.HexToAddress("0x00000000000000000000000000000000000001a0")

	dai  = common.HexToAddress("0x89d24a6b4ccb1b6faa2625fe562bdd9a23260359")
	rep  = common.HexToAddress("0x1985365e9f78359a9b6ad760e32412f4a445e862")
	weth = common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")

	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type harness struct {
	t     *testing.T
	store *storage.Memory
	gw    *gatewaytest.Fake
	rec   *Reconciler
	block uint64
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	gw := gatewaytest.New()
	gw.SetParameters(gateway.Parameters{
		OriginationFeeMantissa:      d("1000000000000000"),
		CollateralRatioMantissa:     d("2000000000000000000"),
		LiquidationDiscountMantissa: d("50000000000000000"),
	})
	return &harness{
		t:     t,
		store: storage.NewMemory(),
		gw:    gw,
		rec:   New(registry.MustNew(registry.Mainnet), gw, opts, zerolog.Nop()),
		block: 6400000,
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// meta returns the metadata of the next event, one block after the last.
func (h *harness) meta(contract common.Address) event.Meta {
	h.block++
	return event.Meta{
		Contract:    contract,
		BlockNumber: h.block,
		BlockTime:   time.Unix(1540000000+int64(h.block-6400000)*15, 0).UTC(),
		TxHash:      common.BigToHash(new(big.Int).SetUint64(h.block)),
		LogIndex:    0,
	}
}

func (h *harness) apply(p event.Payload) error {
	contract := moneyMarket
	if p.Kind() == event.KindPricePosted || p.Kind() == event.KindCappedPricePosted {
		contract = priceOracle
	}
	ev := event.Event{Meta: h.meta(contract), Payload: p}
	return h.store.Atomic(context.Background(), func(tx storage.Tx) error {
		return h.rec.Apply(context.Background(), tx, ev)
	})
}

func (h *harness) mustApply(p event.Payload) {
	h.t.Helper()
	require.NoError(h.t, h.apply(p))
}

func (h *harness) seed(fn func(tx storage.Tx) error) {
	h.t.Helper()
	require.NoError(h.t, h.store.Atomic(context.Background(), fn))
}

func (h *harness) market(asset common.Address) (storage.Market, bool) {
	h.t.Helper()
	var (
		m     storage.Market
		found bool
	)
	h.seed(func(tx storage.Tx) error {
		var err error
		m, found, err = tx.LoadMarket(context.Background(), registry.Hex(asset))
		return err
	})
	return m, found
}

func (h *harness) asset(symbol string, account common.Address) (storage.Asset, bool) {
	h.t.Helper()
	var (
		a     storage.Asset
		found bool
	)
	h.seed(func(tx storage.Tx) error {
		var err error
		a, found, err = tx.LoadAsset(context.Background(), storage.AssetID(symbol, registry.Hex(account)))
		return err
	})
	return a, found
}

func (h *harness) params() (storage.ProtocolParameters, bool) {
	h.t.Helper()
	var (
		p     storage.ProtocolParameters
		found bool
	)
	h.seed(func(tx storage.Tx) error {
		var err error
		p, found, err = tx.LoadProtocolParameters(context.Background())
		return err
	})
	return p, found
}

// register lists asset as a market and scripts the gateway for account.
func (h *harness) register(asset common.Address, accounts ...common.Address) {
	h.t.Helper()
	h.mustApply(event.SupportedMarket{Asset: asset, InterestRateModel: irm})
	h.gw.SetMarket(asset, snapshot(1))
	for _, acc := range accounts {
		h.gw.SetSupply(acc, asset, gateway.Balance{Principal: d("0"), InterestIndex: d("1000000000000000000")})
		h.gw.SetBorrow(acc, asset, gateway.Balance{Principal: d("0"), InterestIndex: d("1000000000000000000")})
	}
}

// snapshot builds a market snapshot whose figures are all distinct and
// derived from seed.
func snapshot(seed int64) gateway.MarketSnapshot {
	n := func(off int64) decimal.Decimal { return decimal.NewFromInt(seed*1000 + off) }
	return gateway.MarketSnapshot{
		IsSupported:        true,
		BlockNumber:        6400000 + seed,
		InterestRateModel:  irm,
		TotalSupply:        n(1),
		SupplyRateMantissa: n(2),
		SupplyIndex:        n(3),
		TotalBorrows:       n(4),
		BorrowRateMantissa: n(5),
		BorrowIndex:        n(6),
	}
}

func requireDec(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "%s = %s, want %s", field, got, want)
}

func requireNullDec(t *testing.T, want string, got decimal.NullDecimal, field string) {
	t.Helper()
	require.Truef(t, got.Valid, "%s is null", field)
	requireDec(t, want, got.Decimal, field)
}
