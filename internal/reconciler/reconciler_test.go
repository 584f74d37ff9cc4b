package reconciler

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"mmledger/internal/event"
	"mmledger/internal/gateway"
	"mmledger/internal/registry"
	"mmledger/internal/storage"
)

func TestSupportedMarketCreatesZeroedMarket(t *testing.T) {
	h := newHarness(t, Options{})
	h.mustApply(event.SupportedMarket{Asset: dai, InterestRateModel: irm})

	m, ok := h.market(dai)
	require.True(t, ok)
	require.Equal(t, "DAI", m.Symbol)
	require.Equal(t, registry.Hex(irm), m.InterestRateModel)
	require.True(t, m.IsSupported)
	require.False(t, m.IsSuspended)
	require.Zero(t, m.BlockNumber)
	for name, v := range map[string]decimal.Decimal{
		"totalSupply": m.TotalSupply, "totalBorrows": m.TotalBorrows,
		"supplyRate": m.SupplyRateMantissa, "borrowRate": m.BorrowRateMantissa,
		"supplyIndex": m.SupplyIndex, "borrowIndex": m.BorrowIndex, "price": m.PriceInWei,
	} {
		require.Truef(t, v.IsZero(), "%s = %s", name, v)
	}

	params, ok := h.params()
	require.True(t, ok, "first registration seeds protocol parameters")
	require.Equal(t, storage.ProtocolParametersID, params.ID)
	require.Equal(t, storage.BlocksPerYear, params.BlocksPerYear)
	requireDec(t, "2000000000000000000", params.CollateralRatioMantissa, "collateralRatio")
	requireDec(t, "1000000000000000", params.OriginationFeeMantissa, "originationFee")
}

func TestSecondRegistrationDoesNotReseedParameters(t *testing.T) {
	h := newHarness(t, Options{})
	h.mustApply(event.SupportedMarket{Asset: dai, InterestRateModel: irm})
	h.mustApply(event.NewOriginationFee{NewOriginationFeeMantissa: d("7")})

	h.mustApply(event.SupportedMarket{Asset: rep, InterestRateModel: irm})

	params, _ := h.params()
	requireDec(t, "7", params.OriginationFeeMantissa, "originationFee")
	parameterReads := 0
	for _, c := range h.gw.Calls() {
		if c.Method == "parameters" {
			parameterReads++
		}
	}
	require.Equal(t, 1, parameterReads)
}

func TestSupplyScenario(t *testing.T) {
	h := newHarness(t, Options{})
	h.register(dai, alice)

	h.mustApply(event.SupplyReceived{Account: alice, Asset: dai, Amount: d("100"), StartingBalance: d("0"), NewBalance: d("100")})
	a, ok := h.asset("DAI", alice)
	require.True(t, ok)
	require.Equal(t, registry.Hex(alice), a.Account)
	requireNullDec(t, "100", a.SupplyPrincipal, "supplyPrincipal")
	requireNullDec(t, "0", a.SupplyInterestLastChange, "supplyInterestLastChange")
	requireNullDec(t, "0", a.TotalSupplyInterest, "totalSupplyInterest")
	require.Len(t, a.TransactionHashes, 1)
	require.False(t, a.BorrowPrincipal.Valid, "borrow side stays null")

	h.mustApply(event.SupplyReceived{Account: alice, Asset: dai, Amount: d("50"), StartingBalance: d("100"), NewBalance: d("152")})
	a, _ = h.asset("DAI", alice)
	requireNullDec(t, "152", a.SupplyPrincipal, "supplyPrincipal")
	requireNullDec(t, "2", a.SupplyInterestLastChange, "supplyInterestLastChange")
	requireNullDec(t, "2", a.TotalSupplyInterest, "totalSupplyInterest")
	require.Len(t, a.TransactionHashes, 2)

	h.mustApply(event.SupplyWithdrawn{Account: alice, Asset: dai, Amount: d("50"), StartingBalance: d("152"), NewBalance: d("105")})
	a, _ = h.asset("DAI", alice)
	requireNullDec(t, "105", a.SupplyPrincipal, "supplyPrincipal")
	requireNullDec(t, "3", a.SupplyInterestLastChange, "supplyInterestLastChange")
	requireNullDec(t, "5", a.TotalSupplyInterest, "totalSupplyInterest")
	require.Len(t, a.TransactionHashes, 3)
	require.Len(t, a.TransactionTimes, 3)
}

func TestInterestSignPerKind(t *testing.T) {
	cases := []struct {
		name    string
		payload event.Payload
		borrow  bool
		want    string
	}{
		{
			name:    "supply adds amount",
			payload: event.SupplyReceived{Account: alice, Asset: dai, Amount: d("10"), StartingBalance: d("200"), NewBalance: d("213")},
			want:    "3",
		},
		{
			name:    "withdraw removes amount",
			payload: event.SupplyWithdrawn{Account: alice, Asset: dai, Amount: d("10"), StartingBalance: d("200"), NewBalance: d("194")},
			want:    "4",
		},
		{
			name:    "borrow adds amount with fee",
			payload: event.BorrowTaken{Account: alice, Asset: dai, Amount: d("10"), BorrowAmountWithFee: d("11"), StartingBalance: d("200"), NewBalance: d("216")},
			borrow:  true,
			want:    "5",
		},
		{
			name:    "repay removes amount",
			payload: event.BorrowRepaid{Account: alice, Asset: dai, Amount: d("10"), StartingBalance: d("200"), NewBalance: d("196")},
			borrow:  true,
			want:    "6",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.register(dai, alice)
			// Open both sides so withdraw and repay find their prerequisite.
			h.mustApply(event.SupplyReceived{Account: alice, Asset: dai, Amount: d("200"), StartingBalance: d("0"), NewBalance: d("200")})
			h.mustApply(event.BorrowTaken{Account: alice, Asset: dai, Amount: d("200"), BorrowAmountWithFee: d("200"), StartingBalance: d("0"), NewBalance: d("200")})

			h.mustApply(tc.payload)

			a, _ := h.asset("DAI", alice)
			if tc.borrow {
				requireNullDec(t, tc.want, a.BorrowInterestLastChange, "borrowInterestLastChange")
				requireNullDec(t, tc.want, a.TotalBorrowInterest, "totalBorrowInterest")
				requireNullDec(t, "0", a.SupplyInterestLastChange, "supplyInterestLastChange")
			} else {
				requireNullDec(t, tc.want, a.SupplyInterestLastChange, "supplyInterestLastChange")
				requireNullDec(t, tc.want, a.TotalSupplyInterest, "totalSupplyInterest")
				requireNullDec(t, "0", a.BorrowInterestLastChange, "borrowInterestLastChange")
			}
		})
	}
}

func TestCumulativeInterestIsSumOfChanges(t *testing.T) {
	h := newHarness(t, Options{})
	h.register(rep, bob)

	balance := decimal.Zero
	sum := decimal.Zero
	steps := []struct {
		amount   int64
		interest int64
		withdraw bool
	}{
		{100, 0, false}, {40, 3, false}, {25, 1, true}, {10, 7, false}, {60, 2, true},
	}
	for _, s := range steps {
		amount := decimal.NewFromInt(s.amount)
		interest := decimal.NewFromInt(s.interest)
		next := balance.Add(interest)
		if s.withdraw {
			next = next.Sub(amount)
			h.mustApply(event.SupplyWithdrawn{Account: bob, Asset: rep, Amount: amount, StartingBalance: balance, NewBalance: next})
		} else {
			next = next.Add(amount)
			h.mustApply(event.SupplyReceived{Account: bob, Asset: rep, Amount: amount, StartingBalance: balance, NewBalance: next})
		}
		balance = next
		sum = sum.Add(interest)

		a, _ := h.asset("REP", bob)
		require.Equal(t, len(a.TransactionHashes), len(a.TransactionTimes))
	}

	a, _ := h.asset("REP", bob)
	requireNullDec(t, sum.String(), a.TotalSupplyInterest, "totalSupplyInterest")
	requireNullDec(t, balance.String(), a.SupplyPrincipal, "supplyPrincipal")
	require.Len(t, a.TransactionHashes, len(steps))
}

func TestMovementRefreshesMarketAndPinsBlock(t *testing.T) {
	h := newHarness(t, Options{})
	h.register(dai, alice)
	h.gw.SetMarket(dai, snapshot(9))
	h.gw.SetSupply(alice, dai, gateway.Balance{Principal: d("100"), InterestIndex: d("1000000000000000042")})

	h.mustApply(event.SupplyReceived{Account: alice, Asset: dai, Amount: d("100"), StartingBalance: d("0"), NewBalance: d("100")})

	m, _ := h.market(dai)
	want := snapshot(9)
	require.Equal(t, want.BlockNumber, m.BlockNumber)
	requireDec(t, want.TotalSupply.String(), m.TotalSupply, "totalSupply")
	requireDec(t, want.TotalBorrows.String(), m.TotalBorrows, "totalBorrows")
	requireDec(t, want.SupplyRateMantissa.String(), m.SupplyRateMantissa, "supplyRate")
	requireDec(t, want.BorrowRateMantissa.String(), m.BorrowRateMantissa, "borrowRate")
	requireDec(t, want.SupplyIndex.String(), m.SupplyIndex, "supplyIndex")
	requireDec(t, want.BorrowIndex.String(), m.BorrowIndex, "borrowIndex")

	a, _ := h.asset("DAI", alice)
	requireNullDec(t, "1000000000000000042", a.SupplyInterestIndex, "supplyInterestIndex")
	require.Equal(t, []int64{1540000000 + 30}, a.TransactionTimes)

	for _, c := range h.gw.Calls() {
		if c.Method == "supplyBalances" || c.Method == "markets" {
			require.Equal(t, h.block, c.Block, "%s read off the event block", c.Method)
			require.Equal(t, moneyMarket, c.Contract)
		}
	}
}

func TestAccountCreatedOnSupplyOnly(t *testing.T) {
	h := newHarness(t, Options{})
	h.register(dai, alice, bob)

	h.mustApply(event.BorrowTaken{Account: bob, Asset: dai, Amount: d("5"), BorrowAmountWithFee: d("5"), StartingBalance: d("0"), NewBalance: d("5")})
	h.mustApply(event.SupplyReceived{Account: alice, Asset: dai, Amount: d("5"), StartingBalance: d("0"), NewBalance: d("5")})

	h.seed(func(tx storage.Tx) error {
		_, found, err := tx.LoadAccount(context.Background(), registry.Hex(bob))
		require.NoError(t, err)
		require.False(t, found)
		acc, found, err := tx.LoadAccount(context.Background(), registry.Hex(alice))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, int64(h.block), acc.CreatedBlock)
		return nil
	})
}

func TestPrerequisiteMissing(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(h *harness)
		payload event.Payload
		entity  Entity
	}{
		{
			name:    "withdraw on unseen asset",
			prepare: func(h *harness) { h.register(dai, alice) },
			payload: event.SupplyWithdrawn{Account: alice, Asset: dai, Amount: d("1"), StartingBalance: d("1"), NewBalance: d("0")},
			entity:  EntityAsset,
		},
		{
			name: "repay on supply-only asset",
			prepare: func(h *harness) {
				h.register(dai, alice)
				h.mustApply(event.SupplyReceived{Account: alice, Asset: dai, Amount: d("1"), StartingBalance: d("0"), NewBalance: d("1")})
			},
			payload: event.BorrowRepaid{Account: alice, Asset: dai, Amount: d("1"), StartingBalance: d("1"), NewBalance: d("0")},
			entity:  EntityAsset,
		},
		{
			name:    "supply into unlisted market",
			prepare: func(*harness) {},
			payload: event.SupplyReceived{Account: alice, Asset: dai, Amount: d("1"), StartingBalance: d("0"), NewBalance: d("1")},
			entity:  EntityMarket,
		},
		{
			name:    "suspend unlisted market",
			prepare: func(*harness) {},
			payload: event.SuspendedMarket{Asset: rep},
			entity:  EntityMarket,
		},
		{
			name:    "interest model on unlisted market",
			prepare: func(*harness) {},
			payload: event.SetMarketInterestRateModel{Asset: rep, InterestRateModel: irm},
			entity:  EntityMarket,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			tc.prepare(h)

			err := h.apply(tc.payload)
			require.ErrorIs(t, err, ErrPrerequisiteMissing)
			var pe *PrerequisiteError
			require.True(t, errors.As(err, &pe))
			require.Equal(t, tc.entity, pe.Entity)
			require.Equal(t, tc.payload.Kind(), pe.Kind)
		})
	}
}

func TestGatewayFailureLeavesNoWrites(t *testing.T) {
	h := newHarness(t, Options{})
	h.register(dai, alice)
	h.mustApply(event.SupplyReceived{Account: alice, Asset: dai, Amount: d("100"), StartingBalance: d("0"), NewBalance: d("100")})
	beforeAsset, _ := h.asset("DAI", alice)
	beforeMarket, _ := h.market(dai)

	h.gw.Fail(errors.New("rpc timeout"))
	err := h.apply(event.SupplyReceived{Account: alice, Asset: dai, Amount: d("10"), StartingBalance: d("100"), NewBalance: d("111")})
	require.ErrorIs(t, err, gateway.ErrUnavailable)

	afterAsset, _ := h.asset("DAI", alice)
	afterMarket, _ := h.market(dai)
	require.Equal(t, beforeAsset, afterAsset)
	require.Equal(t, beforeMarket, afterMarket)
}

func TestReregistrationPolicies(t *testing.T) {
	cases := []struct {
		policy  Reregistration
		wantErr error
		zeroed  bool
	}{
		{policy: Ignore},
		{policy: Overwrite, zeroed: true},
		{policy: Reject, wantErr: ErrDuplicateRegistration},
	}

	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			h := newHarness(t, Options{Reregistration: tc.policy})
			h.register(dai, alice)
			h.mustApply(event.SupplyReceived{Account: alice, Asset: dai, Amount: d("1"), StartingBalance: d("0"), NewBalance: d("1")})
			h.mustApply(event.SuspendedMarket{Asset: dai})

			err := h.apply(event.SupportedMarket{Asset: dai, InterestRateModel: common.HexToAddress("0x02")})
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}

			m, _ := h.market(dai)
			if tc.zeroed {
				require.True(t, m.TotalSupply.IsZero())
				require.False(t, m.IsSuspended)
				require.Equal(t, registry.Hex(common.HexToAddress("0x02")), m.InterestRateModel)
			} else {
				require.False(t, m.TotalSupply.IsZero())
				require.True(t, m.IsSuspended)
				require.Equal(t, registry.Hex(irm), m.InterestRateModel)
			}
		})
	}
}

func TestMarketConfigurationEvents(t *testing.T) {
	h := newHarness(t, Options{})
	h.register(rep)
	before, _ := h.market(rep)

	next := common.HexToAddress("0x00000000000000000000000000000000000001b0")
	h.mustApply(event.SetMarketInterestRateModel{Asset: rep, InterestRateModel: next})
	h.mustApply(event.SuspendedMarket{Asset: rep})

	after, _ := h.market(rep)
	require.True(t, after.IsSuspended)
	require.True(t, after.IsSupported)
	require.Equal(t, registry.Hex(next), after.InterestRateModel)

	after.IsSuspended = before.IsSuspended
	after.InterestRateModel = before.InterestRateModel
	require.Equal(t, before, after, "no other field changes")
}

func TestParameterTracker(t *testing.T) {
	h := newHarness(t, Options{})

	h.mustApply(event.NewRiskParameters{
		OldCollateralRatioMantissa:     d("0"),
		NewCollateralRatioMantissa:     d("1500000000000000000"),
		OldLiquidationDiscountMantissa: d("0"),
		NewLiquidationDiscountMantissa: d("100000000000000000"),
	})
	p, ok := h.params()
	require.True(t, ok)
	require.Equal(t, storage.BlocksPerYear, p.BlocksPerYear)
	requireDec(t, "1500000000000000000", p.CollateralRatioMantissa, "collateralRatio")
	requireDec(t, "100000000000000000", p.LiquidationDiscountMantissa, "liquidationDiscount")
	require.True(t, p.OriginationFeeMantissa.IsZero())

	h.mustApply(event.NewOriginationFee{OldOriginationFeeMantissa: d("0"), NewOriginationFeeMantissa: d("1000000000000000")})
	p, _ = h.params()
	requireDec(t, "1000000000000000", p.OriginationFeeMantissa, "originationFee")
	requireDec(t, "1500000000000000000", p.CollateralRatioMantissa, "collateralRatio")

	// Parameters exist, so registration must not overwrite them from chain.
	h.mustApply(event.SupportedMarket{Asset: dai, InterestRateModel: irm})
	p, _ = h.params()
	requireDec(t, "1500000000000000000", p.CollateralRatioMantissa, "collateralRatio")
}

func TestUnknownAssetsDoNotCollide(t *testing.T) {
	h := newHarness(t, Options{})
	first := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	second := common.HexToAddress("0x00000000000000000000000000000000000000f2")
	h.register(first, alice)
	h.register(second, alice)

	m1, _ := h.market(first)
	m2, _ := h.market(second)
	require.NotEqual(t, m1.Symbol, m2.Symbol)
	require.Equal(t, registry.UnknownPrefix+registry.Hex(first), m1.Symbol)

	h.mustApply(event.SupplyReceived{Account: alice, Asset: first, Amount: d("1"), StartingBalance: d("0"), NewBalance: d("1")})
	h.mustApply(event.SupplyReceived{Account: alice, Asset: second, Amount: d("2"), StartingBalance: d("0"), NewBalance: d("2")})

	a1, ok1 := h.asset(m1.Symbol, alice)
	a2, ok2 := h.asset(m2.Symbol, alice)
	require.True(t, ok1)
	require.True(t, ok2)
	requireNullDec(t, "1", a1.SupplyPrincipal, "first")
	requireNullDec(t, "2", a2.SupplyPrincipal, "second")
}

type unknownPayload struct{}

func (unknownPayload) Kind() event.Kind { return "Mystery" }

func TestUnsupportedPayload(t *testing.T) {
	h := newHarness(t, Options{})
	require.ErrorIs(t, h.apply(unknownPayload{}), ErrUnsupportedEvent)
}

func TestMissPoliciesCoverEveryKind(t *testing.T) {
	for _, kind := range event.Kinds {
		_, ok := MissPolicies[kind]
		require.Truef(t, ok, "no miss policy for %s", kind)
	}
	require.Equal(t, len(event.Kinds), len(MissPolicies))
}

func TestParseReregistration(t *testing.T) {
	p, err := ParseReregistration("")
	require.NoError(t, err)
	require.Equal(t, Ignore, p)
	p, err = ParseReregistration(" Reject ")
	require.NoError(t, err)
	require.Equal(t, Reject, p)
	_, err = ParseReregistration("merge")
	require.Error(t, err)
}
