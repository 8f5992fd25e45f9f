package referrald

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"nameref/core/events"
	refstate "nameref/core/state"
	"nameref/crypto/merkle"
	"nameref/native/bank"
	"nameref/native/referral"
	"nameref/native/registrar"
	"nameref/observability"
	"nameref/storage"
)

const (
	metaNamespace = "referrald/meta"
	genesisKey    = "genesis"
)

// App wires the state manager, the registrar controller and the configured
// referral programs.
type App struct {
	db        storage.Database
	state     *refstate.Manager
	registrar *registrar.Memory
	receivers *bank.Registry
	programs  map[string]*referral.Program
	logger    *slog.Logger
}

// AppOption customises NewApp.
type AppOption func(*appOptions)

type appOptions struct {
	db      storage.Database
	emitter events.Emitter
	metrics referral.Metrics
}

// WithDatabase overrides the storage backend selected from the config.
func WithDatabase(db storage.Database) AppOption {
	return func(o *appOptions) { o.db = db }
}

// WithEmitter overrides the event emitter.
func WithEmitter(emitter events.Emitter) AppOption {
	return func(o *appOptions) { o.emitter = emitter }
}

// WithProgramMetrics overrides the metrics sink handed to programs.
func WithProgramMetrics(m referral.Metrics) AppOption {
	return func(o *appOptions) { o.metrics = m }
}

// NewApp opens storage, applies genesis balances once and instantiates the
// configured programs.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	options := appOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	db := options.db
	if db == nil {
		if dir := strings.TrimSpace(cfg.DataDir); dir != "" {
			level, err := storage.NewLevelDB(dir)
			if err != nil {
				return nil, fmt.Errorf("open state: %w", err)
			}
			db = level
		} else {
			logger.Warn("no data_dir configured; state is kept in memory")
			db = storage.NewMemDB()
		}
	}
	if options.emitter == nil {
		options.emitter = observability.NewEventSink(logger, observability.Referral())
	}
	if options.metrics == nil {
		options.metrics = observability.Referral()
	}

	app := &App{
		db:        db,
		state:     refstate.NewManager(db),
		receivers: bank.NewRegistry(),
		programs:  make(map[string]*referral.Program, len(cfg.Programs)),
		logger:    logger,
	}
	app.state.SetEmitter(options.emitter)

	ctrl, err := newController(cfg.Registrar)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	app.registrar = ctrl

	if err := app.applyGenesis(ctx, cfg.Genesis); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, pc := range cfg.Programs {
		program, err := app.newProgram(pc, options.metrics)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := app.seedAllowlist(ctx, program, pc.Allowlist); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("program %s: %w", program.ID(), err)
		}
		app.programs[program.ID()] = program
	}
	return app, nil
}

func newController(cfg RegistrarConfig) (*registrar.Memory, error) {
	prices := make(map[int]*uint256.Int, len(cfg.Prices))
	for _, tier := range cfg.Prices {
		amount, err := parseAmount(tier.Yearly)
		if err != nil {
			return nil, err
		}
		prices[tier.Length] = amount
	}
	ctrl, err := registrar.NewMemory(registrar.MemoryConfig{
		Address:      common.HexToAddress(cfg.Address),
		YearlyPrices: prices,
		MinDuration:  cfg.MinDuration.Seconds(),
		GracePeriod:  cfg.GracePeriod.Seconds(),
	})
	if err != nil {
		return nil, err
	}
	for name, raw := range cfg.Premiums {
		premium, err := parseAmount(raw)
		if err != nil {
			return nil, err
		}
		ctrl.SetPremium(name, premium)
	}
	return ctrl, nil
}

func (a *App) newProgram(pc ProgramConfig, metrics referral.Metrics) (*referral.Program, error) {
	strategy, err := pc.Strategy.Build()
	if err != nil {
		return nil, err
	}
	mode, err := referral.ParsePayoutMode(pc.PayoutMode)
	if err != nil {
		return nil, err
	}
	program, err := referral.NewProgram(a.state, referral.Config{
		ID:         pc.ID,
		Owner:      common.HexToAddress(pc.Owner),
		Controller: a.registrar,
		Strategy:   strategy,
		PayoutMode: mode,
		GasStipend: pc.GasStipend,
	},
		referral.WithReceivers(a.receivers),
		referral.WithLogger(a.logger),
		referral.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}
	a.logger.Info("referral program loaded",
		slog.String("program", program.ID()),
		slog.String("address", program.Address().Hex()),
		slog.String("strategy", referral.Describe(strategy)),
		slog.String("payout_mode", mode.String()))
	return program, nil
}

// applyGenesis credits the configured balances the first time the state is
// opened.
func (a *App) applyGenesis(ctx context.Context, genesis map[string]string) error {
	addrs := make([]string, 0, len(genesis))
	for addr := range genesis {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return a.state.Execute(ctx, func(tx *refstate.Txn) error {
		var applied bool
		if _, err := tx.GetRecord(metaNamespace, []byte(genesisKey), &applied); err != nil {
			return err
		}
		if applied {
			return nil
		}
		ledger := bank.NewLedger(tx, nil)
		for _, addr := range addrs {
			amount, err := parseAmount(genesis[addr])
			if err != nil {
				return err
			}
			if err := ledger.Credit(common.HexToAddress(addr), amount); err != nil {
				return fmt.Errorf("genesis %s: %w", addr, err)
			}
		}
		return tx.PutRecord(metaNamespace, []byte(genesisKey), true)
	})
}

// seedAllowlist commits the configured allowlist when it differs from the
// stored root.
func (a *App) seedAllowlist(ctx context.Context, program *referral.Program, members []string) error {
	if len(members) == 0 {
		return nil
	}
	addrs := make([]common.Address, len(members))
	for i, m := range members {
		addrs[i] = common.HexToAddress(m)
	}
	tree, err := merkle.NewTree(addrs)
	if err != nil {
		return err
	}
	current, err := program.AllowlistRoot()
	if err != nil {
		return err
	}
	if current == tree.Root() {
		return nil
	}
	return program.UpdateAllowlistRoot(ctx, program.Owner(), tree.Root())
}

// Program returns the program with the given id.
func (a *App) Program(id string) (*referral.Program, bool) {
	p, ok := a.programs[id]
	return p, ok
}

// Programs returns the ids of all programs in sorted order.
func (a *App) Programs() []string {
	ids := make([]string, 0, len(a.programs))
	for id := range a.programs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Registrar returns the reference controller.
func (a *App) Registrar() *registrar.Memory { return a.registrar }

// Receivers returns the registry of receive hooks.
func (a *App) Receivers() *bank.Registry { return a.receivers }

// State returns the state manager.
func (a *App) State() *refstate.Manager { return a.state }

// Balance returns the committed balance of addr.
func (a *App) Balance(addr common.Address) (*uint256.Int, error) {
	var balance *uint256.Int
	err := a.state.View(func(tx *refstate.Txn) error {
		var err error
		balance, err = tx.Balance(addr)
		return err
	})
	return balance, err
}

// Close releases the storage backend.
func (a *App) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}
