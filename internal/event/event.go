package event

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Kind discriminates event payloads.
type Kind string

const (
	KindSupplyReceived             Kind = "SupplyReceived"
	KindSupplyWithdrawn            Kind = "SupplyWithdrawn"
	KindBorrowTaken                Kind = "BorrowTaken"
	KindBorrowRepaid               Kind = "BorrowRepaid"
	KindBorrowLiquidated           Kind = "BorrowLiquidated"
	KindSupportedMarket            Kind = "SupportedMarket"
	KindSuspendedMarket            Kind = "SuspendedMarket"
	KindNewRiskParameters          Kind = "NewRiskParameters"
	KindNewOriginationFee          Kind = "NewOriginationFee"
	KindSetMarketInterestRateModel Kind = "SetMarketInterestRateModel"
	KindPricePosted                Kind = "PricePosted"
	KindCappedPricePosted          Kind = "CappedPricePosted"
)

// Kinds lists every event kind the reconciler understands.
var Kinds = []Kind{
	KindSupplyReceived,
	KindSupplyWithdrawn,
	KindBorrowTaken,
	KindBorrowRepaid,
	KindBorrowLiquidated,
	KindSupportedMarket,
	KindSuspendedMarket,
	KindNewRiskParameters,
	KindNewOriginationFee,
	KindSetMarketInterestRateModel,
	KindPricePosted,
	KindCappedPricePosted,
}

// Meta is the log context every event carries.
type Meta struct {
	Contract    common.Address `json:"contract"`
	BlockNumber uint64         `json:"block_number"`
	BlockTime   time.Time      `json:"block_time"`
	TxHash      common.Hash    `json:"tx_hash"`
	LogIndex    uint           `json:"log_index"`
}

// Key identifies one log within the chain.
func (m Meta) Key() string {
	return fmt.Sprintf("%s:%d", m.TxHash.Hex(), m.LogIndex)
}

// Payload is implemented by every kind-specific body.
type Payload interface {
	Kind() Kind
}

// Event is one decoded contract log.
type Event struct {
	Meta
	Payload Payload
}

// Kind returns the payload discriminator.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Kind()
}

// Before reports whether e precedes other in (block, log index) order.
func (e Event) Before(other Event) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.LogIndex < other.LogIndex
}

// SupplyReceived is emitted when an account deposits into a market.
type SupplyReceived struct {
	Account         common.Address  `json:"account"`
	Asset           common.Address  `json:"asset"`
	Amount          decimal.Decimal `json:"amount"`
	StartingBalance decimal.Decimal `json:"startingBalance"`
	NewBalance      decimal.Decimal `json:"newBalance"`
}

// SupplyWithdrawn is emitted when an account withdraws supplied funds.
type SupplyWithdrawn struct {
	Account         common.Address  `json:"account"`
	Asset           common.Address  `json:"asset"`
	Amount          decimal.Decimal `json:"amount"`
	StartingBalance decimal.Decimal `json:"startingBalance"`
	NewBalance      decimal.Decimal `json:"newBalance"`
}

// BorrowTaken is emitted when an account opens or grows a borrow.
type BorrowTaken struct {
	Account             common.Address  `json:"account"`
	Asset               common.Address  `json:"asset"`
	Amount              decimal.Decimal `json:"amount"`
	StartingBalance     decimal.Decimal `json:"startingBalance"`
	BorrowAmountWithFee decimal.Decimal `json:"borrowAmountWithFee"`
	NewBalance          decimal.Decimal `json:"newBalance"`
}

// BorrowRepaid is emitted when an account pays down a borrow.
type BorrowRepaid struct {
	Account         common.Address  `json:"account"`
	Asset           common.Address  `json:"asset"`
	Amount          decimal.Decimal `json:"amount"`
	StartingBalance decimal.Decimal `json:"startingBalance"`
	NewBalance      decimal.Decimal `json:"newBalance"`
}

// BorrowLiquidated is emitted when a liquidator closes part of an
// under-collateralized borrow and seizes collateral.
type BorrowLiquidated struct {
	TargetAccount                common.Address  `json:"targetAccount"`
	AssetBorrow                  common.Address  `json:"assetBorrow"`
	BorrowBalanceBefore          decimal.Decimal `json:"borrowBalanceBefore"`
	BorrowBalanceAccumulated     decimal.Decimal `json:"borrowBalanceAccumulated"`
	AmountRepaid                 decimal.Decimal `json:"amountRepaid"`
	BorrowBalanceAfter           decimal.Decimal `json:"borrowBalanceAfter"`
	Liquidator                   common.Address  `json:"liquidator"`
	AssetCollateral              common.Address  `json:"assetCollateral"`
	CollateralBalanceBefore      decimal.Decimal `json:"collateralBalanceBefore"`
	CollateralBalanceAccumulated decimal.Decimal `json:"collateralBalanceAccumulated"`
	AmountSeized                 decimal.Decimal `json:"amountSeized"`
	CollateralBalanceAfter       decimal.Decimal `json:"collateralBalanceAfter"`
}

// SupportedMarket registers an asset as a market.
type SupportedMarket struct {
	Asset             common.Address `json:"asset"`
	InterestRateModel common.Address `json:"interestRateModel"`
}

// SuspendedMarket suspends a market.
type SuspendedMarket struct {
	Asset common.Address `json:"asset"`
}

// NewRiskParameters updates collateral ratio and liquidation discount.
type NewRiskParameters struct {
	OldCollateralRatioMantissa     decimal.Decimal `json:"oldCollateralRatioMantissa"`
	NewCollateralRatioMantissa     decimal.Decimal `json:"newCollateralRatioMantissa"`
	OldLiquidationDiscountMantissa decimal.Decimal `json:"oldLiquidationDiscountMantissa"`
	NewLiquidationDiscountMantissa decimal.Decimal `json:"newLiquidationDiscountMantissa"`
}

// NewOriginationFee updates the borrow origination fee.
type NewOriginationFee struct {
	OldOriginationFeeMantissa decimal.Decimal `json:"oldOriginationFeeMantissa"`
	NewOriginationFeeMantissa decimal.Decimal `json:"newOriginationFeeMantissa"`
}

// SetMarketInterestRateModel swaps a market's interest rate model.
type SetMarketInterestRateModel struct {
	Asset             common.Address `json:"asset"`
	InterestRateModel common.Address `json:"interestRateModel"`
}

// PricePosted is emitted by the price oracle for a direct price update.
type PricePosted struct {
	Asset                  common.Address  `json:"asset"`
	PreviousPriceMantissa  decimal.Decimal `json:"previousPriceMantissa"`
	RequestedPriceMantissa decimal.Decimal `json:"requestedPriceMantissa"`
	NewPriceMantissa       decimal.Decimal `json:"newPriceMantissa"`
}

// CappedPricePosted is emitted by the price oracle when a price was capped
// against its anchor.
type CappedPricePosted struct {
	Asset                  common.Address  `json:"asset"`
	RequestedPriceMantissa decimal.Decimal `json:"requestedPriceMantissa"`
	AnchorPriceMantissa    decimal.Decimal `json:"anchorPriceMantissa"`
	CappedPriceMantissa    decimal.Decimal `json:"cappedPriceMantissa"`
}

func (SupplyReceived) Kind() Kind             { return KindSupplyReceived }
func (SupplyWithdrawn) Kind() Kind            { return KindSupplyWithdrawn }
func (BorrowTaken) Kind() Kind                { return KindBorrowTaken }
func (BorrowRepaid) Kind() Kind               { return KindBorrowRepaid }
func (BorrowLiquidated) Kind() Kind           { return KindBorrowLiquidated }
func (SupportedMarket) Kind() Kind            { return KindSupportedMarket }
func (SuspendedMarket) Kind() Kind            { return KindSuspendedMarket }
func (NewRiskParameters) Kind() Kind          { return KindNewRiskParameters }
func (NewOriginationFee) Kind() Kind          { return KindNewOriginationFee }
func (SetMarketInterestRateModel) Kind() Kind { return KindSetMarketInterestRateModel }
func (PricePosted) Kind() Kind                { return KindPricePosted }
func (CappedPricePosted) Kind() Kind          { return KindCappedPricePosted }

// NewPayload returns an empty payload for kind, or an error if the kind is unknown.
func NewPayload(kind Kind) (Payload, error) {
	switch kind {
	case KindSupplyReceived:
		return &SupplyReceived{}, nil
	case KindSupplyWithdrawn:
		return &SupplyWithdrawn{}, nil
	case KindBorrowTaken:
		return &BorrowTaken{}, nil
	case KindBorrowRepaid:
		return &BorrowRepaid{}, nil
	case KindBorrowLiquidated:
		return &BorrowLiquidated{}, nil
	case KindSupportedMarket:
		return &SupportedMarket{}, nil
	case KindSuspendedMarket:
		return &SuspendedMarket{}, nil
	case KindNewRiskParameters:
		return &NewRiskParameters{}, nil
	case KindNewOriginationFee:
		return &NewOriginationFee{}, nil
	case KindSetMarketInterestRateModel:
		return &SetMarketInterestRateModel{}, nil
	case KindPricePosted:
		return &PricePosted{}, nil
	case KindCappedPricePosted:
		return &CappedPricePosted{}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
