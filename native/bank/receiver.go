package bank

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrOutOfGas is returned when a receive hook exceeds its stipend.
var ErrOutOfGas = errors.New("bank: out of gas")

// GasMeter bounds the work a receive hook may perform.
type GasMeter struct {
	limit uint64
	used  uint64
}

// NewGasMeter returns a meter allowing limit units of work.
func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Consume charges amount against the meter. Once exhausted the meter stays at
// its limit and every further charge fails.
func (m *GasMeter) Consume(amount uint64, descriptor string) error {
	if m == nil {
		return ErrOutOfGas
	}
	if amount > m.limit-m.used {
		m.used = m.limit
		return fmt.Errorf("%w: %s", ErrOutOfGas, descriptor)
	}
	m.used += amount
	return nil
}

// Used returns the gas consumed so far.
func (m *GasMeter) Used() uint64 {
	if m == nil {
		return 0
	}
	return m.used
}

// Remaining returns the gas left.
func (m *GasMeter) Remaining() uint64 {
	if m == nil {
		return 0
	}
	return m.limit - m.used
}

// Receiver is implemented by accounts that run logic when value is pushed to
// them. Returning an error rejects the transfer.
type Receiver interface {
	Receive(meter *GasMeter, from common.Address, amount *uint256.Int) error
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(meter *GasMeter, from common.Address, amount *uint256.Int) error

// Receive implements Receiver.
func (f ReceiverFunc) Receive(meter *GasMeter, from common.Address, amount *uint256.Int) error {
	return f(meter, from, amount)
}

// RejectAll is a receiver that refuses every transfer.
var RejectAll Receiver = ReceiverFunc(func(*GasMeter, common.Address, *uint256.Int) error {
	return errors.New("recipient does not accept value")
})

// Registry maps addresses to their receive hooks. It is safe for concurrent
// use.
type Registry struct {
	mu        sync.RWMutex
	receivers map[common.Address]Receiver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{receivers: make(map[common.Address]Receiver)}
}

// Register installs the receive hook for addr. Passing nil removes it.
func (r *Registry) Register(addr common.Address, receiver Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if receiver == nil {
		delete(r.receivers, addr)
		return
	}
	r.receivers[addr] = receiver
}

// Lookup returns the receive hook installed for addr.
func (r *Registry) Lookup(addr common.Address) (Receiver, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	receiver, ok := r.receivers[addr]
	return receiver, ok
}
