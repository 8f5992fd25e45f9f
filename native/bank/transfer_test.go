package bank

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	refstate "nameref/core/state"
	"nameref/storage"
)

var (
	payer = common.HexToAddress("0x0000000000000000000000000000000000000001")
	payee = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func withLedger(t *testing.T, receivers *Registry, fn func(*Ledger) error) (*refstate.Manager, error) {
	t.Helper()
	mgr := refstate.NewManager(storage.NewMemDB())
	require.NoError(t, mgr.Execute(context.Background(), func(tx *refstate.Txn) error {
		return NewLedger(tx, nil).Credit(payer, uint256.NewInt(100))
	}))
	err := mgr.Execute(context.Background(), func(tx *refstate.Txn) error {
		return fn(NewLedger(tx, receivers))
	})
	return mgr, err
}

func balances(t *testing.T, mgr *refstate.Manager) (uint64, uint64) {
	t.Helper()
	var a, b uint64
	require.NoError(t, mgr.View(func(tx *refstate.Txn) error {
		l := NewLedger(tx, nil)
		pa, err := l.Balance(payer)
		require.NoError(t, err)
		pb, err := l.Balance(payee)
		require.NoError(t, err)
		a, b = pa.Uint64(), pb.Uint64()
		return nil
	}))
	return a, b
}

func TestTransferMovesValue(t *testing.T) {
	mgr, err := withLedger(t, nil, func(l *Ledger) error {
		return l.Transfer(payer, payee, uint256.NewInt(30))
	})
	require.NoError(t, err)
	a, b := balances(t, mgr)
	require.Equal(t, uint64(70), a)
	require.Equal(t, uint64(30), b)
}

func TestTransferInsufficientBalance(t *testing.T) {
	mgr, err := withLedger(t, nil, func(l *Ledger) error {
		return l.Transfer(payer, payee, uint256.NewInt(101))
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	a, b := balances(t, mgr)
	require.Equal(t, uint64(100), a)
	require.Zero(t, b)
}

func TestSendRunsReceiverWithinStipend(t *testing.T) {
	receivers := NewRegistry()
	var seen *uint256.Int
	receivers.Register(payee, ReceiverFunc(func(meter *GasMeter, from common.Address, amount *uint256.Int) error {
		seen = amount
		return meter.Consume(2000, "log")
	}))

	mgr, err := withLedger(t, receivers, func(l *Ledger) error {
		return l.Send(payer, payee, uint256.NewInt(10), DefaultGasStipend)
	})
	require.NoError(t, err)
	require.Equal(t, uint64(10), seen.Uint64())
	_, b := balances(t, mgr)
	require.Equal(t, uint64(10), b)
}

func TestSendFailsWhenReceiverExceedsStipend(t *testing.T) {
	receivers := NewRegistry()
	receivers.Register(payee, ReceiverFunc(func(meter *GasMeter, _ common.Address, _ *uint256.Int) error {
		for {
			if err := meter.Consume(100, "loop"); err != nil {
				return err
			}
		}
	}))

	mgr, err := withLedger(t, receivers, func(l *Ledger) error {
		return l.Send(payer, payee, uint256.NewInt(10), DefaultGasStipend)
	})
	require.ErrorIs(t, err, ErrOutOfGas)
	a, b := balances(t, mgr)
	require.Equal(t, uint64(100), a)
	require.Zero(t, b)
}

func TestSendFailsWhenReceiverRejects(t *testing.T) {
	receivers := NewRegistry()
	receivers.Register(payee, RejectAll)

	_, err := withLedger(t, receivers, func(l *Ledger) error {
		return l.Send(payer, payee, uint256.NewInt(1), DefaultGasStipend)
	})
	require.ErrorIs(t, err, ErrRejected)
	require.False(t, errors.Is(err, ErrOutOfGas))
}

func TestGasMeterAccounting(t *testing.T) {
	meter := NewGasMeter(100)
	require.NoError(t, meter.Consume(60, "a"))
	require.Equal(t, uint64(40), meter.Remaining())
	require.ErrorIs(t, meter.Consume(41, "b"), ErrOutOfGas)
	require.Equal(t, uint64(100), meter.Used())
	require.Zero(t, meter.Remaining())
}
