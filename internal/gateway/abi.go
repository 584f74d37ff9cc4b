package gateway

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract ABIs for the money market and its price oracle. Only the view
// functions and events the indexer consumes are listed.
const (
	moneyMarketABIJSON = `[{"type":"function","name":"supplyBalances","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"asset","type":"address"}],"outputs":[{"name":"principal","type":"uint256"},{"name":"interestIndex","type":"uint256"}]},{"type":"function","name":"borrowBalances","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"asset","type":"address"}],"outputs":[{"name":"principal","type":"uint256"},{"name":"interestIndex","type":"uint256"}]},{"type":"function","name":"markets","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"isSupported","type":"bool"},{"name":"blockNumber","type":"uint256"},{"name":"interestRateModel","type":"address"},{"name":"totalSupply","type":"uint256"},{"name":"supplyRateMantissa","type":"uint256"},{"name":"supplyIndex","type":"uint256"},{"name":"totalBorrows","type":"uint256"},{"name":"borrowRateMantissa","type":"uint256"},{"name":"borrowIndex","type":"uint256"}]},{"type":"function","name":"originationFee","stateMutability":"view","inputs":[],"outputs":[{"name":"mantissa","type":"uint256"}]},{"type":"function","name":"collateralRatio","stateMutability":"view","inputs":[],"outputs":[{"name":"mantissa","type":"uint256"}]},{"type":"function","name":"liquidationDiscount","stateMutability":"view","inputs":[],"outputs":[{"name":"mantissa","type":"uint256"}]},{"type":"event","name":"SupplyReceived","anonymous":false,"inputs":[{"name":"account","type":"address","indexed":false},{"name":"asset","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"startingBalance","type":"uint256","indexed":false},{"name":"newBalance","type":"uint256","indexed":false}]},{"type":"event","name":"SupplyWithdrawn","anonymous":false,"inputs":[{"name":"account","type":"address","indexed":false},{"name":"asset","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"startingBalance","type":"uint256","indexed":false},{"name":"newBalance","type":"uint256","indexed":false}]},{"type":"event","name":"BorrowTaken","anonymous":false,"inputs":[{"name":"account","type":"address","indexed":false},{"name":"asset","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"startingBalance","type":"uint256","indexed":false},{"name":"borrowAmountWithFee","type":"uint256","indexed":false},{"name":"newBalance","type":"uint256","indexed":false}]},{"type":"event","name":"BorrowRepaid","anonymous":false,"inputs":[{"name":"account","type":"address","indexed":false},{"name":"asset","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false},{"name":"startingBalance","type":"uint256","indexed":false},{"name":"newBalance","type":"uint256","indexed":false}]},{"type":"event","name":"BorrowLiquidated","anonymous":false,"inputs":[{"name":"targetAccount","type":"address","indexed":false},{"name":"assetBorrow","type":"address","indexed":false},{"name":"borrowBalanceBefore","type":"uint256","indexed":false},{"name":"borrowBalanceAccumulated","type":"uint256","indexed":false},{"name":"amountRepaid","type":"uint256","indexed":false},{"name":"borrowBalanceAfter","type":"uint256","indexed":false},{"name":"liquidator","type":"address","indexed":false},{"name":"assetCollateral","type":"address","indexed":false},{"name":"collateralBalanceBefore","type":"uint256","indexed":false},{"name":"collateralBalanceAccumulated","type":"uint256","indexed":false},{"name":"amountSeized","type":"uint256","indexed":false},{"name":"collateralBalanceAfter","type":"uint256","indexed":false}]},{"type":"event","name":"SupportedMarket","anonymous":false,"inputs":[{"name":"asset","type":"address","indexed":false},{"name":"interestRateModel","type":"address","indexed":false}]},{"type":"event","name":"SuspendedMarket","anonymous":false,"inputs":[{"name":"asset","type":"address","indexed":false}]},{"type":"event","name":"NewRiskParameters","anonymous":false,"inputs":[{"name":"oldCollateralRatioMantissa","type":"uint256","indexed":false},{"name":"newCollateralRatioMantissa","type":"uint256","indexed":false},{"name":"oldLiquidationDiscountMantissa","type":"uint256","indexed":false},{"name":"newLiquidationDiscountMantissa","type":"uint256","indexed":false}]},{"type":"event","name":"NewOriginationFee","anonymous":false,"inputs":[{"name":"oldOriginationFeeMantissa","type":"uint256","indexed":false},{"name":"newOriginationFeeMantissa","type":"uint256","indexed":false}]},{"type":"event","name":"SetMarketInterestRateModel","anonymous":false,"inputs":[{"name":"asset","type":"address","indexed":false},{"name":"interestRateModel","type":"address","indexed":false}]}]`
	priceOracleABIJSON = `[{"type":"function","name":"getPrice","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[{"name":"price","type":"uint256"}]},{"type":"event","name":"PricePosted","anonymous":false,"inputs":[{"name":"asset","type":"address","indexed":false},{"name":"previousPriceMantissa","type":"uint256","indexed":false},{"name":"requestedPriceMantissa","type":"uint256","indexed":false},{"name":"newPriceMantissa","type":"uint256","indexed":false}]},{"type":"event","name":"CappedPricePosted","anonymous":false,"inputs":[{"name":"asset","type":"address","indexed":false},{"name":"requestedPriceMantissa","type":"uint256","indexed":false},{"name":"anchorPriceMantissa","type":"uint256","indexed":false},{"name":"cappedPriceMantissa","type":"uint256","indexed":false}]}]`
)

var (
	// MoneyMarketABI describes the money market contract.
	MoneyMarketABI abi.ABI
	// PriceOracleABI describes the price oracle contract.
	PriceOracleABI abi.ABI
)

func init() {
	MoneyMarketABI = mustParse("money market", moneyMarketABIJSON)
	PriceOracleABI = mustParse("price oracle", priceOracleABIJSON)
}

func mustParse(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}
