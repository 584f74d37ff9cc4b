// Package gatewaytest provides a scripted gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"mmledger/internal/gateway"
)

// Call records one read served by the fake.
type Call struct {
	Contract common.Address
	Block    uint64
	Method   string
}

type position struct {
	account common.Address
	asset   common.Address
}

// Fake serves scripted values. Reads with no scripted value fail with
// gateway.ErrUnavailable, as does every read while Err is set.
type Fake struct {
	mu      sync.Mutex
	supply  map[position]gateway.Balance
	borrow  map[position]gateway.Balance
	markets map[common.Address]gateway.MarketSnapshot
	prices  map[common.Address]decimal.Decimal
	params  *gateway.Parameters
	err     error
	calls   []Call
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		supply:  make(map[position]gateway.Balance),
		borrow:  make(map[position]gateway.Balance),
		markets: make(map[common.Address]gateway.MarketSnapshot),
		prices:  make(map[common.Address]decimal.Decimal),
	}
}

func (f *Fake) SetSupply(account, asset common.Address, b gateway.Balance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.supply[position{account, asset}] = b
}

func (f *Fake) SetBorrow(account, asset common.Address, b gateway.Balance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.borrow[position{account, asset}] = b
}

func (f *Fake) SetMarket(asset common.Address, m gateway.MarketSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets[asset] = m
}

func (f *Fake) SetPrice(asset common.Address, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = price
}

func (f *Fake) SetParameters(p gateway.Parameters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = &p
}

// Fail makes every subsequent read return err wrapped in ErrUnavailable.
// Pass nil to recover.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns the reads served so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// At implements gateway.Gateway.
func (f *Fake) At(contract common.Address, block uint64) gateway.Reader {
	return &reader{f: f, contract: contract, block: block}
}

type reader struct {
	f        *Fake
	contract common.Address
	block    uint64
}

func (r *reader) record(method string) error {
	r.f.calls = append(r.f.calls, Call{Contract: r.contract, Block: r.block, Method: method})
	if r.f.err != nil {
		return fmt.Errorf("%w: %s: %v", gateway.ErrUnavailable, method, r.f.err)
	}
	return nil
}

func (r *reader) SupplyBalance(_ context.Context, account, asset common.Address) (gateway.Balance, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.record("supplyBalances"); err != nil {
		return gateway.Balance{}, err
	}
	b, ok := r.f.supply[position{account, asset}]
	if !ok {
		return gateway.Balance{}, fmt.Errorf("%w: no supply balance for %s/%s", gateway.ErrUnavailable, account.Hex(), asset.Hex())
	}
	return b, nil
}

func (r *reader) BorrowBalance(_ context.Context, account, asset common.Address) (gateway.Balance, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.record("borrowBalances"); err != nil {
		return gateway.Balance{}, err
	}
	b, ok := r.f.borrow[position{account, asset}]
	if !ok {
		return gateway.Balance{}, fmt.Errorf("%w: no borrow balance for %s/%s", gateway.ErrUnavailable, account.Hex(), asset.Hex())
	}
	return b, nil
}

func (r *reader) Market(_ context.Context, asset common.Address) (gateway.MarketSnapshot, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.record("markets"); err != nil {
		return gateway.MarketSnapshot{}, err
	}
	m, ok := r.f.markets[asset]
	if !ok {
		return gateway.MarketSnapshot{}, fmt.Errorf("%w: no market for %s", gateway.ErrUnavailable, asset.Hex())
	}
	return m, nil
}

func (r *reader) Parameters(context.Context) (gateway.Parameters, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.record("parameters"); err != nil {
		return gateway.Parameters{}, err
	}
	if r.f.params == nil {
		return gateway.Parameters{}, fmt.Errorf("%w: no parameters scripted", gateway.ErrUnavailable)
	}
	return *r.f.params, nil
}

func (r *reader) AssetPrice(_ context.Context, asset common.Address) (decimal.Decimal, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if err := r.record("getPrice"); err != nil {
		return decimal.Decimal{}, err
	}
	p, ok := r.f.prices[asset]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: no price for %s", gateway.ErrUnavailable, asset.Hex())
	}
	return p, nil
}

var _ gateway.Gateway = (*Fake)(nil)
