package referral

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"nameref/core/events"
	refstate "nameref/core/state"
	"nameref/native/bank"
)

// PayoutMode selects how commissions reach referrers.
type PayoutMode uint8

const (
	// PayoutPush transfers the commission to the referrer inside the
	// registration. A referrer that rejects value fails the registration.
	PayoutPush PayoutMode = iota
	// PayoutPull credits the commission to a claim the referrer withdraws
	// separately, so referrer payability never affects registrations.
	PayoutPull
)

// String implements fmt.Stringer.
func (m PayoutMode) String() string {
	switch m {
	case PayoutPush:
		return "push"
	case PayoutPull:
		return "pull"
	default:
		return "unknown"
	}
}

// ParsePayoutMode parses "push" or "pull". The empty string selects push.
func ParsePayoutMode(s string) (PayoutMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "push":
		return PayoutPush, nil
	case "pull":
		return PayoutPull, nil
	default:
		return 0, fmt.Errorf("%w: unknown payout mode %q", ErrInvalidProgram, s)
	}
}

// Treasury is the fund balance of one program: the balance of the program's
// own account. It is bound to a single state transaction.
type Treasury struct {
	program *Program
	tx      *refstate.Txn
	ledger  *bank.Ledger
}

func (p *Program) treasury(tx *refstate.Txn, ledger *bank.Ledger) *Treasury {
	return &Treasury{program: p, tx: tx, ledger: ledger}
}

// Balance returns the funds available for payouts.
func (t *Treasury) Balance() (*uint256.Int, error) {
	return t.ledger.Balance(t.program.address)
}

// Deposit moves amount from the depositor into the treasury. Anyone may
// deposit; the depositor is not recorded in program state.
func (t *Treasury) Deposit(from common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := t.ledger.Transfer(from, t.program.address, amount); err != nil {
		return fmt.Errorf("referral: deposit: %w", err)
	}
	balance, err := t.Balance()
	if err != nil {
		return err
	}
	t.tx.AppendEvent(events.TreasuryDeposited{
		Program: t.program.id,
		From:    from,
		Amount:  new(uint256.Int).Set(amount),
		Balance: balance,
	})
	return nil
}

// Payout pays amount to the referrer. Callers clamp amount to the balance
// first; the check here is the last line of defence. A zero amount is a no-op.
func (t *Treasury) Payout(to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	balance, err := t.Balance()
	if err != nil {
		return err
	}
	if amount.Gt(balance) {
		return fmt.Errorf("%w: %s > %s", ErrInsufficientTreasury, amount.Dec(), balance.Dec())
	}
	if t.program.mode == PayoutPull {
		return t.credit(to, amount)
	}
	if err := t.ledger.Send(t.program.address, to, amount, t.program.stipend); err != nil {
		return fmt.Errorf("%w: %w", ErrPayoutFailed, err)
	}
	return nil
}

func (t *Treasury) credit(to common.Address, amount *uint256.Int) error {
	if err := t.ledger.Transfer(t.program.address, t.program.escrow, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrPayoutFailed, err)
	}
	claim, err := t.tx.Claim(t.program.address, to)
	if err != nil {
		return err
	}
	claim = new(uint256.Int).Add(claim, amount)
	if err := t.tx.SetClaim(t.program.address, to, claim); err != nil {
		return err
	}
	t.tx.AppendEvent(events.ClaimCredited{
		Program:  t.program.id,
		Referrer: to,
		Amount:   new(uint256.Int).Set(amount),
		Total:    claim,
	})
	return nil
}

// Close transfers the entire balance to the recipient. Credited claims stay in
// escrow. The program remains usable and can be funded again.
func (t *Treasury) Close(to common.Address) (*uint256.Int, error) {
	balance, err := t.Balance()
	if err != nil {
		return nil, err
	}
	if err := t.ledger.Send(t.program.address, to, balance, t.program.stipend); err != nil {
		return nil, fmt.Errorf("referral: close: %w", err)
	}
	t.tx.AppendEvent(events.TreasuryClosed{
		Program: t.program.id,
		To:      to,
		Amount:  new(uint256.Int).Set(balance),
	})
	return balance, nil
}
