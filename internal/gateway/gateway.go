// Package gateway reads authoritative money market state from the chain.
//
// Every read is pinned to a block: the reconciler asks for the state as of
// the block that emitted the event being applied, never the chain head.
package gateway

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ErrUnavailable wraps every failed or undecodable on-chain read.
var ErrUnavailable = errors.New("gateway: on-chain read unavailable")

// Balance is one side of an (account, asset) position.
type Balance struct {
	Principal     decimal.Decimal
	InterestIndex decimal.Decimal
}

// MarketSnapshot mirrors the money market's markets(asset) getter.
type MarketSnapshot struct {
	IsSupported        bool
	BlockNumber        int64
	InterestRateModel  common.Address
	TotalSupply        decimal.Decimal
	SupplyRateMantissa decimal.Decimal
	SupplyIndex        decimal.Decimal
	TotalBorrows       decimal.Decimal
	BorrowRateMantissa decimal.Decimal
	BorrowIndex        decimal.Decimal
}

// Parameters are the protocol-wide risk and fee settings.
type Parameters struct {
	OriginationFeeMantissa      decimal.Decimal
	CollateralRatioMantissa     decimal.Decimal
	LiquidationDiscountMantissa decimal.Decimal
}

// Reader answers point-in-time questions about one contract at one block.
type Reader interface {
	SupplyBalance(ctx context.Context, account, asset common.Address) (Balance, error)
	BorrowBalance(ctx context.Context, account, asset common.Address) (Balance, error)
	Market(ctx context.Context, asset common.Address) (MarketSnapshot, error)
	Parameters(ctx context.Context) (Parameters, error)
	// AssetPrice is served by the price oracle contract.
	AssetPrice(ctx context.Context, asset common.Address) (decimal.Decimal, error)
}

// Gateway hands out readers pinned to a contract and block.
type Gateway interface {
	At(contract common.Address, block uint64) Reader
}
