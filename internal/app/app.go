package app

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bucketd/internal/alerting"
	"bucketd/internal/config"
	"bucketd/internal/custody"
	"bucketd/internal/engine"
	"bucketd/internal/executor"
	"bucketd/internal/oracle"
	"bucketd/internal/scheduler"
	"bucketd/internal/service"
	"bucketd/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newRouter groups configured feeds by asset into per-asset aggregators.
func (a *App) newRouter() *oracle.Router {
	oracleCfg := oracle.Config{
		StaleAfterSlots: a.Config.Oracle.StaleAfterSlots,
		TargetPrecision: a.Config.Oracle.TargetPrecision,
	}
	if a.Config.Oracle.MaxConfidence > 0 {
		oracleCfg.MaxConfidence = big.NewInt(a.Config.Oracle.MaxConfidence)
	}

	byAsset := make(map[string][]oracle.Source)
	order := make([]string, 0)
	for _, feed := range a.Config.Oracle.Feeds {
		source := oracle.NewFeed(oracle.FeedOptions{
			Name:         feed.Name,
			RPCURL:       feed.RPCURL,
			FeedAddress:  feed.FeedAddress,
			SlotDuration: a.Config.Oracle.SlotDuration,
			Timeout:      a.Config.Oracle.RequestTimeout,
		}, a.Logger)
		if _, seen := byAsset[feed.Asset]; !seen {
			order = append(order, feed.Asset)
		}
		byAsset[feed.Asset] = append(byAsset[feed.Asset], source)
	}

	router := oracle.NewRouter()
	for _, asset := range order {
		addr, err := parseAddress(asset)
		if err != nil {
			a.Logger.Warn().Str("asset", asset).Msg("skipping feed with invalid asset address")
			continue
		}
		router.Register(addr, oracle.NewAggregator(byAsset[asset], oracleCfg, nil, a.Logger))
	}
	return router
}

// newBalances builds the custody balance reader. Without an RPC endpoint the
// service falls back to an empty static table, which is only useful in tests
// and dry runs.
func (a *App) newBalances() custody.BalanceReader {
	if a.Config.Custody.RPCURL != "" {
		return custody.NewERC20(custody.ERC20Options{
			RPCURL:  a.Config.Custody.RPCURL,
			Timeout: a.Config.Custody.RequestTimeout,
		}, a.Logger)
	}
	a.Logger.Warn().Msg("custody.rpc_url not configured; balances read as zero")
	return &custody.Static{}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newService assembles the basket service over a store. All token movements
// the engines request are journaled rather than settled.
func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler) *service.Service {
	router := a.newRouter()
	balances := a.newBalances()
	notifier := a.newNotifier()

	var sink executor.Sink
	var ops storage.OperationStore
	var drifts storage.DriftStore
	if store != nil {
		ops = store
		drifts = store
		sink = func(ctx context.Context, m executor.Movement) error {
			raw, err := json.Marshal(m)
			if err != nil {
				return err
			}
			_, insertErr := store.InsertOperation(ctx, storage.OperationRecord{
				Kind:      storage.OpMovement,
				Caller:    m.From.Hex(),
				Asset:     m.Asset.Hex(),
				AmountIn:  decimal.NewFromUint64(m.Amount),
				AmountOut: decimal.NewFromUint64(m.AmountOut),
				Detail:    raw,
				Status:    "planned",
			})
			return insertErr
		}
	}
	planner := executor.NewPlanner(sink, a.Logger)

	staging, err := parseAddress(a.Config.Rebalance.StagingAddress)
	if err != nil && a.Config.Rebalance.StagingAddress != "" {
		a.Logger.Warn().Str("staging", a.Config.Rebalance.StagingAddress).Msg("invalid staging address; using zero address")
	}

	precision := a.Config.Oracle.TargetPrecision

	opts := service.Options{
		Baskets:    store,
		Ops:        ops,
		Drifts:     drifts,
		Issuance:   engine.NewIssuance(router, planner, staging, precision, a.Logger),
		Redemption: engine.NewRedemption(router, planner, planner, staging, precision, a.Logger),
		Rebalancer: engine.NewRebalance(planner, planner, planner, staging, staging, uint64(a.Config.Rebalance.MaxSlippageBps), a.Logger),
		Prices:     router,
		Balances:   balances,
		Notifier:   notifier,
		Scheduler:  sched,
	}
	return service.New(a.Config, opts, a.Logger)
}

// requireService opens the store and assembles a service for one-shot commands.
func (a *App) requireService(ctx context.Context) (*service.Service, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database not configured; set database.dsn")
	}
	return a.newService(store, nil), closeStore, nil
}

// Run executes the long-running drift monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; the drift monitor needs database.dsn")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newService(store, sched)

	a.Logger.Info().Msg("starting drift monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("drift monitoring service stopped")
	return nil
}

// SampleOnce executes a single drift sampling pass immediately.
func (a *App) SampleOnce(ctx context.Context) error {
	svc, closeStore, err := a.requireService(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	return svc.ProcessBucket(ctx, bucket)
}

// ExportOptions hold parameters for exporting drift history.
type ExportOptions struct {
	Basket    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Basket string
	Limit  int
}
