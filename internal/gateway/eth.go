package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// EthOptions parameterise the RPC-backed gateway.
type EthOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// Eth implements Gateway over an Ethereum JSON-RPC endpoint.
type Eth struct {
	opts      EthOptions
	logger    zerolog.Logger
	caller    ethereum.ContractCaller
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewEth builds a gateway that dials opts.RPCURL on first use.
func NewEth(opts EthOptions, logger zerolog.Logger) *Eth {
	return &Eth{opts: opts, logger: logger.With().Str("component", "gateway").Logger()}
}

// NewEthWithCaller builds a gateway over an existing contract caller.
func NewEthWithCaller(caller ethereum.ContractCaller, timeout time.Duration, logger zerolog.Logger) *Eth {
	g := NewEth(EthOptions{Timeout: timeout}, logger)
	g.caller = caller
	return g
}

// At pins reads to contract at block.
func (g *Eth) At(contract common.Address, block uint64) Reader {
	return &ethReader{g: g, contract: contract, block: new(big.Int).SetUint64(block)}
}

// Client returns the shared RPC client, dialling it if needed.
func (g *Eth) Client(ctx context.Context) (*ethclient.Client, error) {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	if g.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, g.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	g.client = client
	return client, nil
}

// Close releases the RPC connection.
func (g *Eth) Close() {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()
	if g.client != nil {
		g.client.Close()
		g.client = nil
	}
}

func (g *Eth) contractCaller(ctx context.Context) (ethereum.ContractCaller, error) {
	if g.caller != nil {
		return g.caller, nil
	}
	return g.Client(ctx)
}

func (g *Eth) timeout() time.Duration {
	if g.opts.Timeout <= 0 {
		return 10 * time.Second
	}
	return g.opts.Timeout
}

type ethReader struct {
	g        *Eth
	contract common.Address
	block    *big.Int
}

func (r *ethReader) SupplyBalance(ctx context.Context, account, asset common.Address) (Balance, error) {
	return r.balance(ctx, "supplyBalances", account, asset)
}

func (r *ethReader) BorrowBalance(ctx context.Context, account, asset common.Address) (Balance, error) {
	return r.balance(ctx, "borrowBalances", account, asset)
}

func (r *ethReader) balance(ctx context.Context, method string, account, asset common.Address) (Balance, error) {
	out, err := r.call(ctx, MoneyMarketABI, method, account, asset)
	if err != nil {
		return Balance{}, err
	}
	principal, err := uintAt(out, 0, method)
	if err != nil {
		return Balance{}, err
	}
	index, err := uintAt(out, 1, method)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Principal: principal, InterestIndex: index}, nil
}

func (r *ethReader) Market(ctx context.Context, asset common.Address) (MarketSnapshot, error) {
	const method = "markets"
	out, err := r.call(ctx, MoneyMarketABI, method, asset)
	if err != nil {
		return MarketSnapshot{}, err
	}
	if len(out) != 9 {
		return MarketSnapshot{}, fmt.Errorf("%w: %s returned %d values", ErrUnavailable, method, len(out))
	}

	supported, ok := out[0].(bool)
	if !ok {
		return MarketSnapshot{}, fmt.Errorf("%w: %s: isSupported is %T", ErrUnavailable, method, out[0])
	}
	irm, ok := out[2].(common.Address)
	if !ok {
		return MarketSnapshot{}, fmt.Errorf("%w: %s: interestRateModel is %T", ErrUnavailable, method, out[2])
	}

	nums := make([]decimal.Decimal, 9)
	for _, i := range []int{1, 3, 4, 5, 6, 7, 8} {
		if nums[i], err = uintAt(out, i, method); err != nil {
			return MarketSnapshot{}, err
		}
	}

	// A never-listed asset reads back as the zero struct. Suspended markets
	// also report isSupported=false but keep their block and indices.
	if !supported && nums[1].IsZero() && nums[5].IsZero() && nums[8].IsZero() {
		return MarketSnapshot{}, fmt.Errorf("%w: %s: asset %s not supported", ErrUnavailable, method, asset.Hex())
	}

	return MarketSnapshot{
		IsSupported:        supported,
		BlockNumber:        nums[1].IntPart(),
		InterestRateModel:  irm,
		TotalSupply:        nums[3],
		SupplyRateMantissa: nums[4],
		SupplyIndex:        nums[5],
		TotalBorrows:       nums[6],
		BorrowRateMantissa: nums[7],
		BorrowIndex:        nums[8],
	}, nil
}

func (r *ethReader) Parameters(ctx context.Context) (Parameters, error) {
	var vals [3]decimal.Decimal
	for i, method := range []string{"originationFee", "collateralRatio", "liquidationDiscount"} {
		out, err := r.call(ctx, MoneyMarketABI, method)
		if err != nil {
			return Parameters{}, err
		}
		if vals[i], err = uintAt(out, 0, method); err != nil {
			return Parameters{}, err
		}
	}
	return Parameters{
		OriginationFeeMantissa:      vals[0],
		CollateralRatioMantissa:     vals[1],
		LiquidationDiscountMantissa: vals[2],
	}, nil
}

func (r *ethReader) AssetPrice(ctx context.Context, asset common.Address) (decimal.Decimal, error) {
	out, err := r.call(ctx, PriceOracleABI, "getPrice", asset)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return uintAt(out, 0, "getPrice")
}

func (r *ethReader) call(ctx context.Context, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	payload, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", ErrUnavailable, method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.g.timeout())
	defer cancel()

	caller, err := r.g.contractCaller(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: payload}, r.block)
	if err != nil {
		r.g.logger.Debug().Err(err).Str("method", method).Str("block", r.block.String()).Msg("contract call failed")
		return nil, fmt.Errorf("%w: %s at block %s: %v", ErrUnavailable, method, r.block, err)
	}

	out, err := contractABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", ErrUnavailable, method, err)
	}
	return out, nil
}

func uintAt(out []any, i int, method string) (decimal.Decimal, error) {
	if i >= len(out) {
		return decimal.Decimal{}, fmt.Errorf("%w: %s returned %d values", ErrUnavailable, method, len(out))
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s output %d is %T", ErrUnavailable, method, i, out[i])
	}
	return decimal.NewFromBigInt(v, 0), nil
}

var _ Gateway = (*Eth)(nil)
