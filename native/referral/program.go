package referral

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nameref/core/events"
	refstate "nameref/core/state"
	"nameref/native/bank"
	"nameref/native/registrar"
)

// Metrics receives the outcome of every program operation.
type Metrics interface {
	Observe(program, operation string, duration time.Duration, err error)
	RecordCommission(program string, amount *uint256.Int)
}

type noopMetrics struct{}

func (noopMetrics) Observe(string, string, time.Duration, error) {}
func (noopMetrics) RecordCommission(string, *uint256.Int)        {}

// Config describes a referral program.
type Config struct {
	ID         string
	Owner      common.Address
	Controller registrar.Controller
	Strategy   Strategy
	PayoutMode PayoutMode
	// GasStipend bounds the work receiver hooks may perform on pushes.
	// Zero selects bank.DefaultGasStipend.
	GasStipend uint64
}

// Call carries the caller and the value attached to a program operation.
type Call struct {
	From  common.Address
	Value *uint256.Int
}

// RegisterRequest mirrors registrar.Registration plus the referral fields.
type RegisterRequest struct {
	Name         string
	Owner        common.Address
	Secret       common.Hash
	Subregistry  common.Address
	Resolver     common.Address
	Flags        registrar.Flags
	Duration     uint64
	Referrer     common.Address
	ReferrerData []byte
}

// RenewRequest carries the arguments of a renewal.
type RenewRequest struct {
	Name         string
	Duration     uint64
	Referrer     common.Address
	ReferrerData []byte
}

// Option customises a Program.
type Option func(*Program)

// WithReceivers installs the receiver hooks run on pushes.
func WithReceivers(r *bank.Registry) Option {
	return func(p *Program) {
		if r != nil {
			p.receivers = r
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Program) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(p *Program) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithTracer overrides the tracer, which defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(p *Program) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithClock overrides the clock used for latency measurements.
func WithClock(now func() time.Time) Option {
	return func(p *Program) {
		if now != nil {
			p.clock = now
		}
	}
}

// Program is a self-funded referral program. It forwards registrations and
// renewals to the registrar controller and pays referrers from its treasury.
// All operations are atomic: they either apply fully or leave no trace.
type Program struct {
	id         string
	address    common.Address
	escrow     common.Address
	owner      common.Address
	controller registrar.Controller
	strategy   Strategy
	mode       PayoutMode
	stipend    uint64

	state     *refstate.Manager
	receivers *bank.Registry
	logger    *slog.Logger
	metrics   Metrics
	tracer    trace.Tracer
	clock     func() time.Time
}

// ProgramAddress derives the treasury account of the program with the given id.
func ProgramAddress(id string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("referral-program:" + id))[12:])
}

// EscrowAddress derives the account holding credited, unwithdrawn claims.
func EscrowAddress(id string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("referral-claims:" + id))[12:])
}

// NewProgram validates cfg and binds the program to the state manager.
func NewProgram(state *refstate.Manager, cfg Config, opts ...Option) (*Program, error) {
	id := strings.TrimSpace(cfg.ID)
	switch {
	case state == nil:
		return nil, fmt.Errorf("%w: state manager required", ErrInvalidProgram)
	case id == "":
		return nil, fmt.Errorf("%w: id required", ErrInvalidProgram)
	case cfg.Owner == (common.Address{}):
		return nil, fmt.Errorf("%w: owner required", ErrInvalidProgram)
	case cfg.Owner == ProgramAddress(id) || cfg.Owner == EscrowAddress(id):
		return nil, fmt.Errorf("%w: owner cannot be a program account", ErrInvalidProgram)
	case cfg.Controller == nil:
		return nil, fmt.Errorf("%w: registrar controller required", ErrInvalidProgram)
	case cfg.Strategy == nil:
		return nil, fmt.Errorf("%w: strategy required", ErrInvalidProgram)
	case cfg.PayoutMode != PayoutPush && cfg.PayoutMode != PayoutPull:
		return nil, fmt.Errorf("%w: payout mode %d", ErrInvalidProgram, cfg.PayoutMode)
	}
	stipend := cfg.GasStipend
	if stipend == 0 {
		stipend = bank.DefaultGasStipend
	}
	p := &Program{
		id:         id,
		address:    ProgramAddress(id),
		escrow:     EscrowAddress(id),
		owner:      cfg.Owner,
		controller: cfg.Controller,
		strategy:   cfg.Strategy,
		mode:       cfg.PayoutMode,
		stipend:    stipend,
		state:      state,
		receivers:  bank.NewRegistry(),
		logger:     slog.Default(),
		metrics:    noopMetrics{},
		tracer:     otel.Tracer("referral/program"),
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = p.logger.With(slog.String("program", id))
	return p, nil
}

// ID returns the program identifier.
func (p *Program) ID() string { return p.id }

// Address returns the treasury account.
func (p *Program) Address() common.Address { return p.address }

// EscrowAddress returns the account backing credited claims.
func (p *Program) EscrowAddress() common.Address { return p.escrow }

// Owner returns the program owner.
func (p *Program) Owner() common.Address { return p.owner }

// Strategy returns the commission strategy fixed at construction.
func (p *Program) Strategy() Strategy { return p.strategy }

// PayoutMode returns how commissions are paid.
func (p *Program) PayoutMode() PayoutMode { return p.mode }

// Controller returns the wrapped registrar controller.
func (p *Program) Controller() registrar.Controller { return p.controller }

// AllowlistEnabled reports whether the strategy contains an allowlist gate.
func (p *Program) AllowlistEnabled() bool {
	return Contains[*AllowlistGated](p.strategy)
}

// Register forwards a registration to the controller and settles the
// referral. It returns the token id minted by the controller.
func (p *Program) Register(ctx context.Context, call Call, req RegisterRequest) (*big.Int, error) {
	var tokenID *big.Int
	rc := &Context{
		Name:         req.Name,
		Duration:     req.Duration,
		Referrer:     req.Referrer,
		ReferrerData: req.ReferrerData,
	}
	err := p.run(ctx, "register", []attribute.KeyValue{
		attribute.String("name", req.Name),
		attribute.String("referrer", req.Referrer.Hex()),
	}, func(ctx context.Context, tx *refstate.Txn) error {
		ledger, total, err := p.collect(tx, call, rc)
		if err != nil {
			return err
		}
		if err := ledger.Transfer(p.address, p.controller.Address(), total); err != nil {
			return fmt.Errorf("referral: forward payment: %w", err)
		}
		tokenID, err = p.controller.Register(ctx, tx, total, registrar.Registration{
			Name:        req.Name,
			Owner:       req.Owner,
			Secret:      req.Secret,
			Subregistry: req.Subregistry,
			Resolver:    req.Resolver,
			Flags:       req.Flags,
			Duration:    req.Duration,
		})
		if err != nil {
			return err
		}
		return p.finish(tx, ledger, call, total, rc)
	})
	if err != nil {
		return nil, err
	}
	return tokenID, nil
}

// Renew forwards a renewal to the controller and settles the referral.
func (p *Program) Renew(ctx context.Context, call Call, req RenewRequest) error {
	rc := &Context{
		Name:         req.Name,
		Duration:     req.Duration,
		Referrer:     req.Referrer,
		ReferrerData: req.ReferrerData,
		Renewal:      true,
	}
	return p.run(ctx, "renew", []attribute.KeyValue{
		attribute.String("name", req.Name),
		attribute.String("referrer", req.Referrer.Hex()),
	}, func(ctx context.Context, tx *refstate.Txn) error {
		ledger, total, err := p.collect(tx, call, rc)
		if err != nil {
			return err
		}
		if err := ledger.Transfer(p.address, p.controller.Address(), total); err != nil {
			return fmt.Errorf("referral: forward payment: %w", err)
		}
		if err := p.controller.Renew(ctx, tx, total, req.Name, req.Duration); err != nil {
			return err
		}
		return p.finish(tx, ledger, call, total, rc)
	})
}

// collect moves the attached value into the program account, quotes the
// price and checks the value covers it.
func (p *Program) collect(tx *refstate.Txn, call Call, rc *Context) (*bank.Ledger, *uint256.Int, error) {
	if p.internal(call.From) {
		return nil, nil, fmt.Errorf("%w: program accounts cannot pay", ErrUnauthorized)
	}
	ledger := bank.NewLedger(tx, p.receivers)
	value := call.Value
	if value == nil {
		value = new(uint256.Int)
	}
	if err := ledger.Transfer(call.From, p.address, value); err != nil {
		return nil, nil, fmt.Errorf("referral: attach value: %w", err)
	}
	price, err := p.controller.RentPrice(rc.Name, rc.Duration)
	if err != nil {
		return nil, nil, err
	}
	rc.Price = price
	total, err := price.Total()
	if err != nil {
		return nil, nil, err
	}
	if value.Lt(total) {
		return nil, nil, fmt.Errorf("%w: sent %s, price %s", ErrInsufficientValue, value.Dec(), total.Dec())
	}
	return ledger, total, nil
}

// finish refunds the excess, settles the commission and records the events.
func (p *Program) finish(tx *refstate.Txn, ledger *bank.Ledger, call Call, total *uint256.Int, rc *Context) error {
	if call.Value != nil && call.Value.Gt(total) {
		excess := new(uint256.Int).Sub(call.Value, total)
		if err := ledger.Send(p.address, call.From, excess, p.stipend); err != nil {
			return fmt.Errorf("%w: %w", ErrRefundFailed, err)
		}
	}
	amount, err := p.settle(tx, ledger, rc)
	if err != nil {
		return err
	}
	tx.AppendEvent(events.Referral{
		Program:  p.id,
		Name:     rc.Name,
		Referrer: rc.Referrer,
		Renewal:  rc.Renewal,
	})
	if rc.HasReferrer() {
		tx.AppendEvent(events.ReferralWithCommission{
			Program:  p.id,
			Name:     rc.Name,
			Referrer: rc.Referrer,
			Amount:   amount,
		})
	}
	return nil
}

// settle evaluates the strategy against the current treasury balance and pays
// the result. The treasury balance excludes funds held for the caller.
func (p *Program) settle(tx *refstate.Txn, ledger *bank.Ledger, rc *Context) (*uint256.Int, error) {
	if !rc.HasReferrer() {
		return zero(), nil
	}
	treasury := p.treasury(tx, ledger)
	balance, err := treasury.Balance()
	if err != nil {
		return nil, err
	}
	amount, err := p.strategy.Evaluate(p.env(tx), rc, balance)
	if err != nil {
		return nil, err
	}
	if amount == nil {
		amount = zero()
	}
	if err := treasury.Payout(rc.Referrer, amount); err != nil {
		return nil, err
	}
	if !amount.IsZero() {
		p.metrics.RecordCommission(p.id, amount)
	}
	return amount, nil
}

// Deposit funds the treasury from the caller's balance.
func (p *Program) Deposit(ctx context.Context, from common.Address, amount *uint256.Int) error {
	return p.run(ctx, "deposit", []attribute.KeyValue{
		attribute.String("from", from.Hex()),
	}, func(_ context.Context, tx *refstate.Txn) error {
		if p.internal(from) {
			return fmt.Errorf("%w: program accounts cannot deposit", ErrUnauthorized)
		}
		return p.treasury(tx, bank.NewLedger(tx, p.receivers)).Deposit(from, amount)
	})
}

// Close transfers the entire treasury balance to the recipient. Owner only.
func (p *Program) Close(ctx context.Context, caller, to common.Address) (*uint256.Int, error) {
	var withdrawn *uint256.Int
	err := p.run(ctx, "close", []attribute.KeyValue{
		attribute.String("to", to.Hex()),
	}, func(_ context.Context, tx *refstate.Txn) error {
		if err := p.requireOwner(caller); err != nil {
			return err
		}
		if to == (common.Address{}) || p.internal(to) {
			return fmt.Errorf("%w: %s", ErrInvalidRecipient, to.Hex())
		}
		amount, err := p.treasury(tx, bank.NewLedger(tx, p.receivers)).Close(to)
		if err != nil {
			return err
		}
		withdrawn = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

// UpdateAllowlistRoot replaces the allowlist commitment. Owner only; the new
// root applies to the next evaluation.
func (p *Program) UpdateAllowlistRoot(ctx context.Context, caller common.Address, root common.Hash) error {
	return p.run(ctx, "update_root", []attribute.KeyValue{
		attribute.String("root", root.Hex()),
	}, func(_ context.Context, tx *refstate.Txn) error {
		if err := p.requireOwner(caller); err != nil {
			return err
		}
		if !p.AllowlistEnabled() {
			return ErrAllowlistDisabled
		}
		if err := tx.SetAllowlistRoot(p.address, root); err != nil {
			return err
		}
		tx.AppendEvent(events.AllowlistRootUpdated{Program: p.id, Root: root})
		return nil
	})
}

// Withdraw pays the caller's credited claim to the recipient, which defaults
// to the caller. Only the referrer a claim was credited to can move it.
func (p *Program) Withdraw(ctx context.Context, caller, to common.Address) (*uint256.Int, error) {
	if to == (common.Address{}) {
		to = caller
	}
	var paid *uint256.Int
	err := p.run(ctx, "withdraw", []attribute.KeyValue{
		attribute.String("caller", caller.Hex()),
		attribute.String("to", to.Hex()),
	}, func(_ context.Context, tx *refstate.Txn) error {
		if p.internal(to) {
			return fmt.Errorf("%w: %s", ErrInvalidRecipient, to.Hex())
		}
		claim, err := tx.Claim(p.address, caller)
		if err != nil {
			return err
		}
		if claim.IsZero() {
			return ErrNothingToWithdraw
		}
		if err := tx.SetClaim(p.address, caller, new(uint256.Int)); err != nil {
			return err
		}
		ledger := bank.NewLedger(tx, p.receivers)
		if err := ledger.Send(p.escrow, to, claim, p.stipend); err != nil {
			return fmt.Errorf("%w: %w", ErrPayoutFailed, err)
		}
		tx.AppendEvent(events.ClaimWithdrawn{
			Program:  p.id,
			Referrer: caller,
			To:       to,
			Amount:   new(uint256.Int).Set(claim),
		})
		paid = claim
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// Balance returns the committed treasury balance.
func (p *Program) Balance() (*uint256.Int, error) {
	var balance *uint256.Int
	err := p.state.View(func(tx *refstate.Txn) error {
		var err error
		balance, err = tx.Balance(p.address)
		return err
	})
	return balance, err
}

// LoyaltyOf returns the cumulative duration referred by the referrer.
func (p *Program) LoyaltyOf(referrer common.Address) (*uint256.Int, error) {
	var total *uint256.Int
	err := p.state.View(func(tx *refstate.Txn) error {
		var err error
		total, err = NewLoyaltyLedger(txnLoyaltyStore{tx: tx, program: p.address}).CumulativeOf(referrer)
		return err
	})
	return total, err
}

// AllowlistRoot returns the current allowlist commitment.
func (p *Program) AllowlistRoot() (common.Hash, error) {
	var root common.Hash
	err := p.state.View(func(tx *refstate.Txn) error {
		var err error
		root, err = tx.AllowlistRoot(p.address)
		return err
	})
	return root, err
}

// Claimable returns the referrer's credited, unwithdrawn commission.
func (p *Program) Claimable(referrer common.Address) (*uint256.Int, error) {
	var claim *uint256.Int
	err := p.state.View(func(tx *refstate.Txn) error {
		var err error
		claim, err = tx.Claim(p.address, referrer)
		return err
	})
	return claim, err
}

// internal reports whether addr is the treasury or the claims escrow.
func (p *Program) internal(addr common.Address) bool {
	return addr == p.address || addr == p.escrow
}

func (p *Program) requireOwner(caller common.Address) error {
	if caller != p.owner {
		return fmt.Errorf("%w: %s is not the program owner", ErrUnauthorized, caller.Hex())
	}
	return nil
}

// run executes fn atomically and records the span, log line and metrics of
// the operation.
func (p *Program) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context, *refstate.Txn) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := p.clock()
	ctx, span := p.tracer.Start(ctx, "referral."+op,
		trace.WithAttributes(append(attrs, attribute.String("program", p.id))...))
	defer span.End()

	err := p.state.Execute(ctx, func(tx *refstate.Txn) error {
		return fn(ctx, tx)
	})
	elapsed := p.clock().Sub(start)
	p.metrics.Observe(p.id, op, elapsed, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("referral operation failed",
			slog.String("operation", op),
			slog.Any("error", err))
		return err
	}
	span.SetStatus(codes.Ok, "")
	p.logger.Debug("referral operation applied",
		slog.String("operation", op),
		slog.Duration("elapsed", elapsed))
	return nil
}
