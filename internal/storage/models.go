package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProtocolParametersID is the fixed key of the singleton parameters record.
const ProtocolParametersID = "1"

// BlocksPerYear is the block count used to annualise per-block rates.
const BlocksPerYear int64 = 2102400

// Market is the aggregate state of one lending asset pool.
type Market struct {
	ID                 string
	Symbol             string
	InterestRateModel  string
	IsSupported        bool
	IsSuspended        bool
	BlockNumber        int64
	TotalSupply        decimal.Decimal
	TotalBorrows       decimal.Decimal
	SupplyRateMantissa decimal.Decimal
	BorrowRateMantissa decimal.Decimal
	SupplyIndex        decimal.Decimal
	BorrowIndex        decimal.Decimal
	PriceInWei         decimal.Decimal
}

// Asset is one account's position in one market, keyed by AssetID.
// Supply and borrow sides stay invalid until first written.
type Asset struct {
	ID                       string
	Account                  string
	SupplyPrincipal          decimal.NullDecimal
	SupplyInterestLastChange decimal.NullDecimal
	TotalSupplyInterest      decimal.NullDecimal
	SupplyInterestIndex      decimal.NullDecimal
	BorrowPrincipal          decimal.NullDecimal
	BorrowInterestLastChange decimal.NullDecimal
	TotalBorrowInterest      decimal.NullDecimal
	BorrowInterestIndex      decimal.NullDecimal
	TransactionHashes        []string
	TransactionTimes         []int64
}

// AssetID derives the Asset key for a market symbol and account.
func AssetID(symbol, account string) string {
	return symbol + "-" + account
}

// AppendHistory records one transaction on both history sequences.
func (a *Asset) AppendHistory(txHash string, at time.Time) {
	a.TransactionHashes = append(a.TransactionHashes, txHash)
	a.TransactionTimes = append(a.TransactionTimes, at.Unix())
}

// Account is the identity record an Asset references.
type Account struct {
	ID           string
	CreatedBlock int64
}

// ProtocolParameters holds the protocol-wide risk and fee settings.
type ProtocolParameters struct {
	ID                          string
	CollateralRatioMantissa     decimal.Decimal
	LiquidationDiscountMantissa decimal.Decimal
	OriginationFeeMantissa      decimal.Decimal
	BlocksPerYear               int64
}

// NewProtocolParameters returns the zero-valued singleton.
func NewProtocolParameters() ProtocolParameters {
	return ProtocolParameters{ID: ProtocolParametersID, BlocksPerYear: BlocksPerYear}
}

// ProcessedEvent is one journal row for a reconciled log.
type ProcessedEvent struct {
	TxHash      string
	LogIndex    int64
	Kind        string
	BlockNumber int64
	ProcessedAt time.Time
}

func (a Asset) clone() Asset {
	a.TransactionHashes = append([]string(nil), a.TransactionHashes...)
	a.TransactionTimes = append([]int64(nil), a.TransactionTimes...)
	return a
}
