package bank

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	refstate "nameref/core/state"
)

// DefaultGasStipend is the execution budget granted to a recipient's receive
// hook when value is pushed to it.
const DefaultGasStipend uint64 = 2300

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrBalanceOverflow     = errors.New("bank: balance overflow")
	ErrRejected            = errors.New("bank: transfer rejected by recipient")
	ErrNilState            = errors.New("bank: state not configured")
)

// Ledger moves native value between accounts inside a single state
// transaction. It does not commit anything itself; a failed operation is rolled
// back by discarding the transaction.
type Ledger struct {
	tx        *refstate.Txn
	receivers *Registry
}

// NewLedger binds a ledger to the supplied transaction. A nil registry means no
// account runs a receive hook.
func NewLedger(tx *refstate.Txn, receivers *Registry) *Ledger {
	return &Ledger{tx: tx, receivers: receivers}
}

// Balance returns the balance held by addr.
func (l *Ledger) Balance(addr common.Address) (*uint256.Int, error) {
	if l == nil || l.tx == nil {
		return nil, ErrNilState
	}
	return l.tx.Balance(addr)
}

// Credit mints amount into addr. It is used for genesis allocations.
func (l *Ledger) Credit(addr common.Address, amount *uint256.Int) error {
	if l == nil || l.tx == nil {
		return ErrNilState
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	current, err := l.tx.Balance(addr)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	return l.tx.SetBalance(addr, next)
}

// Transfer moves amount from one account to another without running any
// receive hook. A zero amount is a no-op.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if l == nil || l.tx == nil {
		return ErrNilState
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := l.ensureFunds(from, amount); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	fromBal, err := l.tx.Balance(from)
	if err != nil {
		return err
	}
	if err := l.tx.SetBalance(from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.Credit(to, amount)
}

// Send transfers amount and then runs the recipient's receive hook, if any,
// under a gas meter limited to stipend. A hook that fails or runs out of gas
// fails the send; the caller is expected to abort the enclosing operation.
func (l *Ledger) Send(from, to common.Address, amount *uint256.Int, stipend uint64) error {
	if err := l.Transfer(from, to, amount); err != nil {
		return err
	}
	receiver, ok := l.receivers.Lookup(to)
	if !ok {
		return nil
	}
	meter := NewGasMeter(stipend)
	if err := receiver.Receive(meter, from, amountOrZero(amount)); err != nil {
		if errors.Is(err, ErrOutOfGas) {
			return fmt.Errorf("bank: send to %s: %w", to.Hex(), err)
		}
		return fmt.Errorf("%w: %s: %v", ErrRejected, to.Hex(), err)
	}
	return nil
}

func (l *Ledger) ensureFunds(addr common.Address, amount *uint256.Int) error {
	bal, err := l.tx.Balance(addr)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, addr.Hex(), bal.Dec(), amount.Dec())
	}
	return nil
}

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
