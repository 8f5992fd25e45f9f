package registrar

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	refstate "nameref/core/state"
	"nameref/storage"
)

var owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newTestMemory(t *testing.T) (*Memory, *refstate.Manager, *time.Time) {
	t.Helper()
	ctrl, err := NewMemory(MemoryConfig{
		Address: common.HexToAddress("0x00000000000000000000000000000000000000ee"),
		YearlyPrices: map[int]*uint256.Int{
			3: uint256.NewInt(640),
			4: uint256.NewInt(160),
			5: uint256.NewInt(5),
		},
	})
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	ctrl.SetNowFunc(func() time.Time { return now })
	return ctrl, refstate.NewManager(storage.NewMemDB()), &now
}

func TestRentPriceUsesLengthTable(t *testing.T) {
	ctrl, _, _ := newTestMemory(t)

	cases := []struct {
		name string
		want uint64
	}{
		{"abc", 640},
		{"abcd", 160},
		{"abcde", 5},
		{"averylongname", 5},
	}
	for _, tc := range cases {
		price, err := ctrl.RentPrice(tc.name, SecondsPerYear)
		require.NoError(t, err)
		require.Equal(t, tc.want, price.Base.Uint64(), tc.name)
		require.True(t, price.Premium.IsZero())
	}

	price, err := ctrl.RentPrice("abcde", 2*SecondsPerYear)
	require.NoError(t, err)
	require.Equal(t, uint64(10), price.Base.Uint64())
}

func TestRentPriceIncludesPremium(t *testing.T) {
	ctrl, _, _ := newTestMemory(t)
	ctrl.SetPremium("abcde", uint256.NewInt(7))

	price, err := ctrl.RentPrice("abcde", SecondsPerYear)
	require.NoError(t, err)
	total, err := price.Total()
	require.NoError(t, err)
	require.Equal(t, uint64(12), total.Uint64())
}

func TestRentPriceRejectsInvalidNames(t *testing.T) {
	ctrl, _, _ := newTestMemory(t)
	for _, name := range []string{"", "ab", "a.b.c", "has space"} {
		_, err := ctrl.RentPrice(name, SecondsPerYear)
		require.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestRegisterAndRenew(t *testing.T) {
	ctrl, mgr, now := newTestMemory(t)
	ctx := context.Background()

	var tokenID string
	require.NoError(t, mgr.Execute(ctx, func(tx *refstate.Txn) error {
		id, err := ctrl.Register(ctx, tx, uint256.NewInt(5), Registration{
			Name:     "alice",
			Owner:    owner,
			Duration: SecondsPerYear,
		})
		tokenID = id.String()
		return err
	}))
	require.Equal(t, TokenID("alice").String(), tokenID)

	err := mgr.Execute(ctx, func(tx *refstate.Txn) error {
		_, err := ctrl.Register(ctx, tx, uint256.NewInt(5), Registration{Name: "alice", Owner: owner, Duration: SecondsPerYear})
		return err
	})
	require.ErrorIs(t, err, ErrUnavailable)

	require.NoError(t, mgr.Execute(ctx, func(tx *refstate.Txn) error {
		return ctrl.Renew(ctx, tx, uint256.NewInt(5), "alice", SecondsPerYear)
	}))
	require.NoError(t, mgr.View(func(tx *refstate.Txn) error {
		rec, ok, err := ctrl.Lookup(tx, "alice")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, owner, rec.Owner)
		require.Equal(t, uint64(now.Unix())+2*SecondsPerYear, rec.Expiry)
		return nil
	}))
}

func TestRegisterRequiresExactPayment(t *testing.T) {
	ctrl, mgr, _ := newTestMemory(t)
	ctx := context.Background()

	for _, value := range []uint64{4, 6} {
		err := mgr.Execute(ctx, func(tx *refstate.Txn) error {
			_, err := ctrl.Register(ctx, tx, uint256.NewInt(value), Registration{Name: "alice", Owner: owner, Duration: SecondsPerYear})
			return err
		})
		require.ErrorIs(t, err, ErrWrongPayment)
	}
}

func TestRegisterValidatesRequest(t *testing.T) {
	ctrl, mgr, _ := newTestMemory(t)
	ctx := context.Background()

	err := mgr.Execute(ctx, func(tx *refstate.Txn) error {
		_, err := ctrl.Register(ctx, tx, uint256.NewInt(0), Registration{Name: "alice", Owner: owner, Duration: 60})
		return err
	})
	require.ErrorIs(t, err, ErrDurationTooShort)

	err = mgr.Execute(ctx, func(tx *refstate.Txn) error {
		_, err := ctrl.Register(ctx, tx, uint256.NewInt(5), Registration{Name: "alice", Duration: SecondsPerYear})
		return err
	})
	require.ErrorIs(t, err, ErrInvalidOwner)
}

func TestRenewUnknownName(t *testing.T) {
	ctrl, mgr, _ := newTestMemory(t)
	ctx := context.Background()
	err := mgr.Execute(ctx, func(tx *refstate.Txn) error {
		return ctrl.Renew(ctx, tx, uint256.NewInt(5), "alice", SecondsPerYear)
	})
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestExpiryCannotWrap(t *testing.T) {
	ctrl, err := NewMemory(MemoryConfig{
		Address:      common.HexToAddress("0x00000000000000000000000000000000000000ee"),
		YearlyPrices: map[int]*uint256.Int{3: uint256.NewInt(0)},
	})
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	ctrl.SetNowFunc(func() time.Time { return now })
	mgr := refstate.NewManager(storage.NewMemDB())
	ctx := context.Background()
	huge := uint64(math.MaxUint64 - 10)

	err = mgr.Execute(ctx, func(tx *refstate.Txn) error {
		_, err := ctrl.Register(ctx, tx, uint256.NewInt(0), Registration{Name: "alice", Owner: owner, Duration: huge})
		return err
	})
	require.ErrorIs(t, err, ErrExpiryOverflow)
	require.NoError(t, mgr.View(func(tx *refstate.Txn) error {
		_, ok, err := ctrl.Lookup(tx, "alice")
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))

	require.NoError(t, mgr.Execute(ctx, func(tx *refstate.Txn) error {
		_, err := ctrl.Register(ctx, tx, uint256.NewInt(0), Registration{Name: "alice", Owner: owner, Duration: SecondsPerYear})
		return err
	}))
	err = mgr.Execute(ctx, func(tx *refstate.Txn) error {
		return ctrl.Renew(ctx, tx, uint256.NewInt(0), "alice", huge)
	})
	require.ErrorIs(t, err, ErrExpiryOverflow)

	// Fits in a uint64 but leaves no room for the grace period.
	err = mgr.Execute(ctx, func(tx *refstate.Txn) error {
		return ctrl.Renew(ctx, tx, uint256.NewInt(0), "alice", math.MaxUint64-uint64(now.Unix())-SecondsPerYear)
	})
	require.ErrorIs(t, err, ErrExpiryOverflow)

	require.NoError(t, mgr.View(func(tx *refstate.Txn) error {
		rec, ok, err := ctrl.Lookup(tx, "alice")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(now.Unix())+SecondsPerYear, rec.Expiry)
		return nil
	}))
}

func TestExpiredNameBecomesAvailableAfterGrace(t *testing.T) {
	ctrl, mgr, now := newTestMemory(t)
	ctx := context.Background()
	register := func() error {
		return mgr.Execute(ctx, func(tx *refstate.Txn) error {
			_, err := ctrl.Register(ctx, tx, uint256.NewInt(5), Registration{Name: "alice", Owner: owner, Duration: SecondsPerYear})
			return err
		})
	}
	require.NoError(t, register())

	*now = now.Add(time.Duration(SecondsPerYear+DefaultGracePeriod+1) * time.Second)
	require.NoError(t, register())
}
