package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// Memory is an in-process Store used for dry runs and tests. Writes made
// inside Atomic are staged and only become visible when fn succeeds.
type Memory struct {
	mu       sync.Mutex
	markets  map[string]Market
	assets   map[string]Asset
	accounts map[string]Account
	params   *ProtocolParameters
	journal  map[string]ProcessedEvent
	cursors  map[string]int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		markets:  make(map[string]Market),
		assets:   make(map[string]Asset),
		accounts: make(map[string]Account),
		journal:  make(map[string]ProcessedEvent),
		cursors:  make(map[string]int64),
	}
}

// Atomic stages fn's writes and applies them only if fn returns nil.
func (m *Memory) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		base:     m,
		markets:  make(map[string]Market),
		assets:   make(map[string]Asset),
		accounts: make(map[string]Account),
		journal:  make(map[string]ProcessedEvent),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for k, v := range tx.markets {
		m.markets[k] = v
	}
	for k, v := range tx.assets {
		m.assets[k] = v
	}
	for k, v := range tx.accounts {
		m.accounts[k] = v
	}
	for k, v := range tx.journal {
		m.journal[k] = v
	}
	if tx.params != nil {
		p := *tx.params
		m.params = &p
	}
	return nil
}

// Cursor returns the last fully processed block recorded under name.
func (m *Memory) Cursor(_ context.Context, name string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	block, ok := m.cursors[name]
	return block, ok, nil
}

// SaveCursor records the last fully processed block under name.
func (m *Memory) SaveCursor(_ context.Context, name string, block int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[name] = block
	return nil
}

// ListMarkets returns every market ordered by symbol.
func (m *Memory) ListMarkets(context.Context) ([]Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Market, 0, len(m.markets))
	for _, market := range m.markets {
		out = append(out, market)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// ListAssetsByAccount returns an account's positions ordered by key.
func (m *Memory) ListAssetsByAccount(_ context.Context, account string) ([]Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Asset, 0)
	for _, asset := range m.assets {
		if asset.Account == account {
			out = append(out, asset.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountProcessed counts journaled events.
func (m *Memory) CountProcessed(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.journal)), nil
}

// Close is a no-op.
func (m *Memory) Close() {}

// memTx overlays staged writes on the committed maps. The parent's mutex is
// held for the lifetime of the unit.
type memTx struct {
	base     *Memory
	markets  map[string]Market
	assets   map[string]Asset
	accounts map[string]Account
	params   *ProtocolParameters
	journal  map[string]ProcessedEvent
}

func (t *memTx) LoadMarket(_ context.Context, id string) (Market, bool, error) {
	if v, ok := t.markets[id]; ok {
		return v, true, nil
	}
	v, ok := t.base.markets[id]
	return v, ok, nil
}

func (t *memTx) SaveMarket(_ context.Context, market Market) error {
	t.markets[market.ID] = market
	return nil
}

func (t *memTx) LoadAsset(_ context.Context, id string) (Asset, bool, error) {
	if v, ok := t.assets[id]; ok {
		return v.clone(), true, nil
	}
	v, ok := t.base.assets[id]
	if !ok {
		return Asset{}, false, nil
	}
	return v.clone(), true, nil
}

func (t *memTx) SaveAsset(_ context.Context, asset Asset) error {
	t.assets[asset.ID] = asset.clone()
	return nil
}

func (t *memTx) LoadAccount(_ context.Context, id string) (Account, bool, error) {
	if v, ok := t.accounts[id]; ok {
		return v, true, nil
	}
	v, ok := t.base.accounts[id]
	return v, ok, nil
}

func (t *memTx) SaveAccount(_ context.Context, account Account) error {
	if _, exists, _ := t.LoadAccount(context.Background(), account.ID); exists {
		return nil
	}
	t.accounts[account.ID] = account
	return nil
}

func (t *memTx) LoadProtocolParameters(context.Context) (ProtocolParameters, bool, error) {
	if t.params != nil {
		return *t.params, true, nil
	}
	if t.base.params != nil {
		return *t.base.params, true, nil
	}
	return ProtocolParameters{}, false, nil
}

func (t *memTx) SaveProtocolParameters(_ context.Context, params ProtocolParameters) error {
	params.ID = ProtocolParametersID
	t.params = &params
	return nil
}

func (t *memTx) IsProcessed(_ context.Context, txHash string, logIndex int64) (bool, error) {
	key := journalKey(txHash, logIndex)
	if _, ok := t.journal[key]; ok {
		return true, nil
	}
	_, ok := t.base.journal[key]
	return ok, nil
}

func (t *memTx) MarkProcessed(_ context.Context, rec ProcessedEvent) error {
	key := journalKey(rec.TxHash, rec.LogIndex)
	if ok, _ := t.IsProcessed(context.Background(), rec.TxHash, rec.LogIndex); ok {
		return nil
	}
	t.journal[key] = rec
	return nil
}

func journalKey(txHash string, logIndex int64) string {
	return txHash + ":" + strconv.FormatInt(logIndex, 10)
}

var (
	_ Store = (*Memory)(nil)
	_ Tx    = (*memTx)(nil)
)
