// Package registry resolves asset addresses to market symbols.
//
// Each supported network owns a static address→symbol table. Unknown
// addresses resolve to "Unknown-<address>" so that two unrecognised assets
// never share a symbol, and therefore never share a Market or Asset key.
package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Network names a chain the money market is deployed on.
type Network string

const (
	Mainnet Network = "mainnet"
	Rinkeby Network = "rinkeby"
)

// UnknownPrefix prefixes the symbol of every unrecognised asset.
const UnknownPrefix = "Unknown-"

// Symbols that carry special handling elsewhere.
const (
	SymbolDAI  = "DAI"
	SymbolWETH = "WETH"
)

var builtin = map[Network]map[string]string{
	Mainnet: {
		"0x89d24a6b4ccb1b6faa2625fe562bdd9a23260359": "DAI",
		"0x1985365e9f78359a9b6ad760e32412f4a445e862": "REP",
		"0x0d8775f648430679a709e98d2b0cb6250d2887ef": "BAT",
		"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": "WETH",
		"0xe41d2489571d322189246dafa5ebde1f4699f498": "ZRX",
	},
	Rinkeby: {
		"0xc778417e063141139fce010982780140aa0cd5ab": "WETH",
	},
}

// Networks returns the networks with a built-in table.
func Networks() []Network {
	return []Network{Mainnet, Rinkeby}
}

// ParseNetwork validates a configured network name.
func ParseNetwork(name string) (Network, error) {
	n := Network(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := builtin[n]; !ok {
		return "", fmt.Errorf("unsupported network %q", name)
	}
	return n, nil
}

// Registry is an immutable address→symbol table for one network.
type Registry struct {
	network  Network
	symbols  map[common.Address]string
	bySymbol map[string]common.Address
}

// New builds the registry for network, layering overrides (address hex →
// symbol) over the built-in table.
func New(network Network, overrides map[string]string) (*Registry, error) {
	base, ok := builtin[network]
	if !ok {
		return nil, fmt.Errorf("unsupported network %q", network)
	}

	r := &Registry{
		network:  network,
		symbols:  make(map[common.Address]string, len(base)+len(overrides)),
		bySymbol: make(map[string]common.Address, len(base)+len(overrides)),
	}
	for addr, sym := range base {
		r.symbols[common.HexToAddress(addr)] = sym
	}
	for addr, sym := range overrides {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("registry override %q is not an address", addr)
		}
		sym = strings.TrimSpace(sym)
		if sym == "" || strings.HasPrefix(sym, UnknownPrefix) {
			return nil, fmt.Errorf("registry override for %s has invalid symbol %q", addr, sym)
		}
		r.symbols[common.HexToAddress(addr)] = sym
	}
	for addr, sym := range r.symbols {
		if prev, dup := r.bySymbol[sym]; dup {
			return nil, fmt.Errorf("symbol %s mapped to both %s and %s", sym, prev.Hex(), addr.Hex())
		}
		r.bySymbol[sym] = addr
	}
	return r, nil
}

// MustNew is New for tables known to be valid.
func MustNew(network Network) *Registry {
	r, err := New(network, nil)
	if err != nil {
		panic(err)
	}
	return r
}

// Network reports the network the table belongs to.
func (r *Registry) Network() Network {
	return r.network
}

// Resolve returns the symbol for asset. known is false when the address is
// not in the table; the symbol is then the deterministic unknown label.
func (r *Registry) Resolve(asset common.Address) (symbol string, known bool) {
	if sym, ok := r.symbols[asset]; ok {
		return sym, true
	}
	return UnknownPrefix + Hex(asset), false
}

// Address returns the asset registered under symbol.
func (r *Registry) Address(symbol string) (common.Address, bool) {
	addr, ok := r.bySymbol[symbol]
	return addr, ok
}

// Hex renders an address in the lower-case form used for entity keys.
func Hex(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
