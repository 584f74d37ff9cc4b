package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"mmledger/internal/alerting"
	"mmledger/internal/config"
	"mmledger/internal/event"
	"mmledger/internal/gateway"
	"mmledger/internal/logging"
	"mmledger/internal/metrics"
	"mmledger/internal/reconciler"
	"mmledger/internal/registry"
	"mmledger/internal/service"
	"mmledger/internal/source"
	"mmledger/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	// stores overrides openStore; tests use it to inject a store.
	stores func(ctx context.Context, dryRun bool) (storage.Store, error)
}

// ErrLockHeld is returned when another process owns the ingestion lock.
var ErrLockHeld = errors.New("another mmledger instance holds the ingestion lock")

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) store(ctx context.Context, dryRun bool) (storage.Store, error) {
	if a.stores != nil {
		return a.stores(ctx, dryRun)
	}
	return a.openStore(ctx, dryRun)
}

// lockIngestion takes the single-consumer lock for every command that writes
// to the shared store.
func (a *App) lockIngestion(ctx context.Context, pipeline *service.Pipeline) (func(), error) {
	unlock, proceed, err := pipeline.AcquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !proceed {
		return nil, ErrLockHeld
	}
	return unlock, nil
}

// openStore connects to PostgreSQL and ensures the schema. Dry runs get a
// throwaway in-memory store instead.
func (a *App) openStore(ctx context.Context, dryRun bool) (storage.Store, error) {
	if dryRun {
		a.Logger.Warn().Msg("dry-run: changes are kept in memory and discarded")
		return storage.NewMemory(), nil
	}
	if a.Config.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn not configured: %w", storage.ErrNotConfigured)
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	store := storage.NewPostgres(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func (a *App) newGateway() *gateway.Eth {
	return gateway.NewEth(gateway.EthOptions{
		RPCURL:  a.Config.Ethereum.RPCURL,
		Timeout: a.Config.Ethereum.RequestTimeout,
	}, a.Logger)
}

func (a *App) newRegistry() (*registry.Registry, error) {
	network, err := registry.ParseNetwork(a.Config.Ethereum.Network)
	if err != nil {
		return nil, err
	}
	return registry.New(network, a.Config.RegistryOverrides(a.Config.Ethereum.Network))
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
}

// newPipeline wires the reconciler and dedupe pipeline over store. m may be nil.
func (a *App) newPipeline(store storage.Store, gw gateway.Gateway, m *metrics.Metrics) (*service.Pipeline, error) {
	reg, err := a.newRegistry()
	if err != nil {
		return nil, err
	}
	policy, err := reconciler.ParseReregistration(a.Config.Reconciler.Reregistration)
	if err != nil {
		return nil, err
	}

	rec := reconciler.New(reg, gw, reconciler.Options{Reregistration: policy}, a.Logger)
	return service.New(store, rec, reg, m, a.newNotifier(), service.Options{
		DedupeCacheSize: a.Config.Reconciler.DedupeCacheSize,
		AlertsEnabled:   a.Config.Alerting.Enabled,
		LockKey:         a.Config.Database.AdvisoryLockKey,
	}, a.Logger), nil
}

func (a *App) contracts() []common.Address {
	out := []common.Address{common.HexToAddress(a.Config.Ethereum.MoneyMarketAddress)}
	if a.Config.Ethereum.PriceOracleAddress != "" {
		out = append(out, common.HexToAddress(a.Config.Ethereum.PriceOracleAddress))
	}
	return out
}

// tally counts pipeline outcomes for command summaries.
type tally struct {
	applied    int
	duplicates int
}

func (t *tally) handler(p *service.Pipeline) source.Handler {
	return func(ctx context.Context, ev event.Event) error {
		outcome, err := p.Process(ctx, ev)
		if err != nil {
			return err
		}
		if outcome == service.Duplicate {
			t.duplicates++
		} else {
			t.applied++
		}
		return nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunOptions configure the long-running service.
type RunOptions struct {
	// SkipLock runs without the advisory lock. Only safe for a single consumer.
	SkipLock bool
}

// BackfillOptions configure a one-off block range replay.
type BackfillOptions struct {
	FromBlock uint64
	ToBlock   uint64
	DryRun    bool
}

// ApplyOptions configure applying a JSON-lines event file.
type ApplyOptions struct {
	Path   string
	DryRun bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Account string
}

// ExportOptions hold parameters for exporting market state.
type ExportOptions struct {
	CSVPath string
	PNGPath string
	MaxRows int
}
