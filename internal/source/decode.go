package source

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"mmledger/internal/event"
	"mmledger/internal/gateway"
)

// ErrUnknownLog marks a log whose topic is not one of the tracked events.
var ErrUnknownLog = errors.New("source: untracked log")

// Topics lists the signature hashes of every tracked event.
func Topics() []common.Hash {
	var out []common.Hash
	for _, contract := range []abi.ABI{gateway.MoneyMarketABI, gateway.PriceOracleABI} {
		for _, ev := range contract.Events {
			out = append(out, ev.ID)
		}
	}
	return out
}

func lookupEvent(topic common.Hash) (*abi.Event, abi.ABI, bool) {
	for _, contract := range []abi.ABI{gateway.MoneyMarketABI, gateway.PriceOracleABI} {
		if ev, err := contract.EventByID(topic); err == nil {
			return ev, contract, true
		}
	}
	return nil, abi.ABI{}, false
}

// DecodeLog turns a raw log into an Event stamped with blockTime.
func DecodeLog(l types.Log, blockTime time.Time) (event.Event, error) {
	if len(l.Topics) == 0 {
		return event.Event{}, fmt.Errorf("%w: log without topics", ErrUnknownLog)
	}
	abiEvent, contract, ok := lookupEvent(l.Topics[0])
	if !ok {
		return event.Event{}, fmt.Errorf("%w: topic %s", ErrUnknownLog, l.Topics[0].Hex())
	}

	fields := make(map[string]any, len(abiEvent.Inputs))
	if err := contract.UnpackIntoMap(fields, abiEvent.Name, l.Data); err != nil {
		return event.Event{}, fmt.Errorf("unpack %s: %w", abiEvent.Name, err)
	}
	f := fieldReader{name: abiEvent.Name, fields: fields}

	var payload event.Payload
	switch event.Kind(abiEvent.Name) {
	case event.KindSupplyReceived:
		payload = event.SupplyReceived{Account: f.addr("account"), Asset: f.addr("asset"), Amount: f.num("amount"), StartingBalance: f.num("startingBalance"), NewBalance: f.num("newBalance")}
	case event.KindSupplyWithdrawn:
		payload = event.SupplyWithdrawn{Account: f.addr("account"), Asset: f.addr("asset"), Amount: f.num("amount"), StartingBalance: f.num("startingBalance"), NewBalance: f.num("newBalance")}
	case event.KindBorrowTaken:
		payload = event.BorrowTaken{Account: f.addr("account"), Asset: f.addr("asset"), Amount: f.num("amount"), StartingBalance: f.num("startingBalance"), BorrowAmountWithFee: f.num("borrowAmountWithFee"), NewBalance: f.num("newBalance")}
	case event.KindBorrowRepaid:
		payload = event.BorrowRepaid{Account: f.addr("account"), Asset: f.addr("asset"), Amount: f.num("amount"), StartingBalance: f.num("startingBalance"), NewBalance: f.num("newBalance")}
	case event.KindBorrowLiquidated:
		payload = event.BorrowLiquidated{
			TargetAccount:                f.addr("targetAccount"),
			AssetBorrow:                  f.addr("assetBorrow"),
			BorrowBalanceBefore:          f.num("borrowBalanceBefore"),
			BorrowBalanceAccumulated:     f.num("borrowBalanceAccumulated"),
			AmountRepaid:                 f.num("amountRepaid"),
			BorrowBalanceAfter:           f.num("borrowBalanceAfter"),
			Liquidator:                   f.addr("liquidator"),
			AssetCollateral:              f.addr("assetCollateral"),
			CollateralBalanceBefore:      f.num("collateralBalanceBefore"),
			CollateralBalanceAccumulated: f.num("collateralBalanceAccumulated"),
			AmountSeized:                 f.num("amountSeized"),
			CollateralBalanceAfter:       f.num("collateralBalanceAfter"),
		}
	case event.KindSupportedMarket:
		payload = event.SupportedMarket{Asset: f.addr("asset"), InterestRateModel: f.addr("interestRateModel")}
	case event.KindSuspendedMarket:
		payload = event.SuspendedMarket{Asset: f.addr("asset")}
	case event.KindNewRiskParameters:
		payload = event.NewRiskParameters{
			OldCollateralRatioMantissa:     f.num("oldCollateralRatioMantissa"),
			NewCollateralRatioMantissa:     f.num("newCollateralRatioMantissa"),
			OldLiquidationDiscountMantissa: f.num("oldLiquidationDiscountMantissa"),
			NewLiquidationDiscountMantissa: f.num("newLiquidationDiscountMantissa"),
		}
	case event.KindNewOriginationFee:
		payload = event.NewOriginationFee{OldOriginationFeeMantissa: f.num("oldOriginationFeeMantissa"), NewOriginationFeeMantissa: f.num("newOriginationFeeMantissa")}
	case event.KindSetMarketInterestRateModel:
		payload = event.SetMarketInterestRateModel{Asset: f.addr("asset"), InterestRateModel: f.addr("interestRateModel")}
	case event.KindPricePosted:
		payload = event.PricePosted{Asset: f.addr("asset"), PreviousPriceMantissa: f.num("previousPriceMantissa"), RequestedPriceMantissa: f.num("requestedPriceMantissa"), NewPriceMantissa: f.num("newPriceMantissa")}
	case event.KindCappedPricePosted:
		payload = event.CappedPricePosted{Asset: f.addr("asset"), RequestedPriceMantissa: f.num("requestedPriceMantissa"), AnchorPriceMantissa: f.num("anchorPriceMantissa"), CappedPriceMantissa: f.num("cappedPriceMantissa")}
	default:
		return event.Event{}, fmt.Errorf("%w: %s", ErrUnknownLog, abiEvent.Name)
	}
	if f.err != nil {
		return event.Event{}, f.err
	}

	return event.Event{
		Meta: event.Meta{
			Contract:    l.Address,
			BlockNumber: l.BlockNumber,
			BlockTime:   blockTime.UTC(),
			TxHash:      l.TxHash,
			LogIndex:    l.Index,
		},
		Payload: payload,
	}, nil
}

// fieldReader extracts typed values from an unpacked log, keeping the first
// type mismatch.
type fieldReader struct {
	name   string
	fields map[string]any
	err    error
}

func (f *fieldReader) addr(key string) common.Address {
	v, ok := f.fields[key].(common.Address)
	if !ok {
		f.fail(key)
	}
	return v
}

func (f *fieldReader) num(key string) decimal.Decimal {
	v, ok := f.fields[key].(*big.Int)
	if !ok || v == nil {
		f.fail(key)
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}

func (f *fieldReader) fail(key string) {
	if f.err == nil {
		f.err = fmt.Errorf("decode %s: field %s has type %T", f.name, key, f.fields[key])
	}
}
