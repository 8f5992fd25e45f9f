package referral

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"nameref/crypto/merkle"
	"nameref/native/registrar"
)

const day = 24 * 60 * 60

var (
	referrerA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	referrerB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	referrerC = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	outsider  = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

type mockLoyaltyStore struct {
	totals map[common.Address]*uint256.Int
	err    error
}

func newMockLoyaltyStore() *mockLoyaltyStore {
	return &mockLoyaltyStore{totals: make(map[common.Address]*uint256.Int)}
}

func (m *mockLoyaltyStore) Cumulative(referrer common.Address) (*uint256.Int, error) {
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.totals[referrer]; ok {
		return new(uint256.Int).Set(v), nil
	}
	return new(uint256.Int), nil
}

func (m *mockLoyaltyStore) SetCumulative(referrer common.Address, total *uint256.Int) error {
	if m.err != nil {
		return m.err
	}
	m.totals[referrer] = new(uint256.Int).Set(total)
	return nil
}

type mockAllowlistStore struct {
	root common.Hash
}

func (m *mockAllowlistStore) Root() (common.Hash, error) { return m.root, nil }

func testContext(total uint64, duration uint64, referrer common.Address) *Context {
	return &Context{
		Name:     "example",
		Duration: duration,
		Price:    registrar.Price{Base: uint256.NewInt(total), Premium: new(uint256.Int)},
		Referrer: referrer,
	}
}

func mustPercent(t *testing.T, bps uint32) *Percent {
	t.Helper()
	p, err := NewPercent(bps)
	require.NoError(t, err)
	return p
}

func TestPercentRejectsOutOfRangeRate(t *testing.T) {
	_, err := NewPercent(MaxCommissionBps + 1)
	require.ErrorIs(t, err, ErrInvalidRate)

	p, err := NewPercent(MaxCommissionBps)
	require.NoError(t, err)
	require.Equal(t, uint32(MaxCommissionBps), p.Bps())
}

func TestPercentCommission(t *testing.T) {
	p := mustPercent(t, 500)

	cases := []struct {
		name    string
		total   uint64
		balance uint64
		want    uint64
	}{
		{"funded", 100, 10, 5},
		{"clamped to balance", 100, 3, 3},
		{"empty treasury", 100, 0, 0},
		{"rounds down", 19, 10, 0},
		{"ample balance", 200, 1_000, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.Evaluate(Env{}, testContext(tc.total, registrar.SecondsPerYear, referrerA), uint256.NewInt(tc.balance))
			require.NoError(t, err)
			require.Equal(t, tc.want, got.Uint64())
		})
	}
}

func TestPercentCountsPremium(t *testing.T) {
	p := mustPercent(t, 1_000)
	rc := testContext(60, registrar.SecondsPerYear, referrerA)
	rc.Price.Premium = uint256.NewInt(40)

	got, err := p.Evaluate(Env{}, rc, uint256.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, uint64(10), got.Uint64())
}

func TestPercentDrainScenario(t *testing.T) {
	p := mustPercent(t, 500)
	balance := uint256.NewInt(3)

	first, err := p.Evaluate(Env{}, testContext(100, registrar.SecondsPerYear, referrerA), balance)
	require.NoError(t, err)
	require.Equal(t, uint64(3), first.Uint64())
	balance.Sub(balance, first)

	second, err := p.Evaluate(Env{}, testContext(100, registrar.SecondsPerYear, referrerA), balance)
	require.NoError(t, err)
	require.True(t, second.IsZero())
}

func TestAbsentReferrerYieldsZeroWithoutSideEffects(t *testing.T) {
	loyalty := newMockLoyaltyStore()
	env := Env{Loyalty: loyalty, Allowlist: &mockAllowlistStore{}}
	rc := testContext(100, 5*registrar.SecondsPerYear, common.Address{})
	rc.ReferrerData = []byte("not a proof")

	strategies := []Strategy{
		mustPercent(t, 10_000),
		NewLoyalty(),
		&DurationGated{inner: mustPercent(t, 500)},
		&AllowlistGated{inner: NewLoyalty()},
	}
	for _, s := range strategies {
		got, err := s.Evaluate(env, rc, uint256.NewInt(1_000))
		require.NoError(t, err, Describe(s))
		require.True(t, got.IsZero(), Describe(s))
	}
	require.Empty(t, loyalty.totals)
}

func TestDurationGate(t *testing.T) {
	gate, err := NewDurationGated(mustPercent(t, 500))
	require.NoError(t, err)

	short, err := gate.Evaluate(Env{}, testContext(100, registrar.SecondsPerYear-1, referrerA), uint256.NewInt(10))
	require.NoError(t, err)
	require.True(t, short.IsZero())

	exact, err := gate.Evaluate(Env{}, testContext(100, registrar.SecondsPerYear, referrerA), uint256.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, uint64(5), exact.Uint64())

	_, err = NewDurationGated(nil)
	require.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestDurationGateSkipsInnerSideEffects(t *testing.T) {
	loyalty := newMockLoyaltyStore()
	gate := &DurationGated{inner: NewLoyalty()}

	got, err := gate.Evaluate(Env{Loyalty: loyalty}, testContext(100, 30*day, referrerA), uint256.NewInt(10))
	require.NoError(t, err)
	require.True(t, got.IsZero())
	require.Empty(t, loyalty.totals)
}

func TestLoyaltyRate(t *testing.T) {
	cases := []struct {
		name       string
		cumulative uint64
		want       uint64
	}{
		{"zero", 0, 0},
		{"one year", registrar.SecondsPerYear, 1},
		{"one hundred years", 100 * registrar.SecondsPerYear, 100},
		{"9365 days", 9_365 * day, 25},
		{"at cap", 2_000 * 100 * registrar.SecondsPerYear / 100, LoyaltyCapBps},
		{"beyond cap", 10_000 * registrar.SecondsPerYear, LoyaltyCapBps},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, LoyaltyRateBps(uint256.NewInt(tc.cumulative)))
		})
	}
	saturated := new(uint256.Int).SetAllOne()
	require.Equal(t, uint64(LoyaltyCapBps), LoyaltyRateBps(saturated))
}

func TestLoyaltyScenario(t *testing.T) {
	loyalty := newMockLoyaltyStore()
	loyalty.totals[referrerA] = uint256.NewInt(9_000 * day)

	unit := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18))
	total := new(uint256.Int).Mul(uint256.NewInt(100), unit)
	rc := &Context{
		Name:     "example",
		Duration: 365 * day,
		Price:    registrar.Price{Base: total, Premium: new(uint256.Int)},
		Referrer: referrerA,
	}
	balance := new(uint256.Int).Mul(uint256.NewInt(1_000), unit)

	got, err := NewLoyalty().Evaluate(Env{Loyalty: loyalty}, rc, balance)
	require.NoError(t, err)

	// 0.25 units of the 100 unit price.
	want := new(uint256.Int).Div(unit, uint256.NewInt(4))
	require.Equal(t, want.Dec(), got.Dec())
	require.Equal(t, uint64(9_365*day), loyalty.totals[referrerA].Uint64())
}

func TestLoyaltyAccruesWithEmptyTreasury(t *testing.T) {
	loyalty := newMockLoyaltyStore()
	s := NewLoyalty()
	durations := []uint64{30 * day, 365 * day, 2 * 365 * day}

	var sum uint64
	for _, d := range durations {
		got, err := s.Evaluate(Env{Loyalty: loyalty}, testContext(100, d, referrerA), new(uint256.Int))
		require.NoError(t, err)
		require.True(t, got.IsZero())
		sum += d
		require.Equal(t, sum, loyalty.totals[referrerA].Uint64())
	}
	require.NotContains(t, loyalty.totals, referrerB)
}

func TestLoyaltyCapHolds(t *testing.T) {
	loyalty := newMockLoyaltyStore()
	loyalty.totals[referrerA] = uint256.NewInt(100_000 * registrar.SecondsPerYear)

	got, err := NewLoyalty().Evaluate(Env{Loyalty: loyalty}, testContext(10_000, registrar.SecondsPerYear, referrerA), uint256.NewInt(1_000_000))
	require.NoError(t, err)
	require.Equal(t, uint64(2_000), got.Uint64())
}

func TestLoyaltyLedgerSaturates(t *testing.T) {
	loyalty := newMockLoyaltyStore()
	loyalty.totals[referrerA] = new(uint256.Int).SetAllOne()

	total, err := NewLoyaltyLedger(loyalty).Accrue(referrerA, 10)
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int).SetAllOne(), total)
}

func TestLoyaltyStoreErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	loyalty := newMockLoyaltyStore()
	loyalty.err = boom

	_, err := NewLoyalty().Evaluate(Env{Loyalty: loyalty}, testContext(100, day, referrerA), uint256.NewInt(10))
	require.ErrorIs(t, err, boom)

	_, err = NewLoyalty().Evaluate(Env{}, testContext(100, day, referrerA), uint256.NewInt(10))
	require.ErrorIs(t, err, ErrMissingStore)
}

func allowlistFixture(t *testing.T, members ...common.Address) (*merkle.Tree, *mockAllowlistStore) {
	t.Helper()
	tree, err := merkle.NewTree(members)
	require.NoError(t, err)
	return tree, &mockAllowlistStore{root: tree.Root()}
}

func proofData(t *testing.T, tree *merkle.Tree, addr common.Address) []byte {
	t.Helper()
	proof, err := tree.Proof(addr)
	require.NoError(t, err)
	data, err := EncodeProof(proof)
	require.NoError(t, err)
	return data
}

func TestAllowlistGate(t *testing.T) {
	tree, store := allowlistFixture(t, referrerA, referrerB, referrerC)
	gate, err := NewAllowlistGated(mustPercent(t, 500))
	require.NoError(t, err)
	env := Env{Allowlist: store}

	rc := testContext(100, day, referrerB)
	rc.ReferrerData = proofData(t, tree, referrerB)
	got, err := gate.Evaluate(env, rc, uint256.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, uint64(5), got.Uint64())

	// A valid proof presented by another referrer does not verify.
	rc.Referrer = outsider
	got, err = gate.Evaluate(env, rc, uint256.NewInt(10))
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func TestAllowlistStaleProofAfterRootUpdate(t *testing.T) {
	oldTree, store := allowlistFixture(t, referrerA, referrerB)
	loyalty := newMockLoyaltyStore()
	gate := &AllowlistGated{inner: NewLoyalty()}
	env := Env{Loyalty: loyalty, Allowlist: store}

	rc := testContext(100, day, referrerA)
	rc.ReferrerData = proofData(t, oldTree, referrerA)
	_, err := gate.Evaluate(env, rc, uint256.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, uint64(day), loyalty.totals[referrerA].Uint64())

	newTree, err := merkle.NewTree([]common.Address{referrerB, referrerC})
	require.NoError(t, err)
	store.root = newTree.Root()

	got, err := gate.Evaluate(env, rc, uint256.NewInt(10))
	require.NoError(t, err)
	require.True(t, got.IsZero())
	require.Equal(t, uint64(day), loyalty.totals[referrerA].Uint64(), "inner strategy must not run")
}

func TestAllowlistWithoutRootPaysNothing(t *testing.T) {
	tree, _ := allowlistFixture(t, referrerA)
	rc := testContext(100, day, referrerA)
	rc.ReferrerData = proofData(t, tree, referrerA)

	got, err := (&AllowlistGated{inner: mustPercent(t, 500)}).Evaluate(Env{Allowlist: &mockAllowlistStore{}}, rc, uint256.NewInt(10))
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func TestAllowlistMalformedProofIsFatal(t *testing.T) {
	_, store := allowlistFixture(t, referrerA)
	gate := &AllowlistGated{inner: mustPercent(t, 500)}

	for name, data := range map[string][]byte{
		"empty":     nil,
		"truncated": {0x01, 0x02, 0x03},
	} {
		t.Run(name, func(t *testing.T) {
			rc := testContext(100, day, referrerA)
			rc.ReferrerData = data
			_, err := gate.Evaluate(Env{Allowlist: store}, rc, uint256.NewInt(10))
			require.ErrorIs(t, err, ErrMalformedProof)
		})
	}
}

func TestProofCodec(t *testing.T) {
	proof := []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}
	data, err := EncodeProof(proof)
	require.NoError(t, err)
	decoded, err := DecodeProof(data)
	require.NoError(t, err)
	require.Equal(t, proof, decoded)

	empty, err := EncodeProof(nil)
	require.NoError(t, err)
	decoded, err = DecodeProof(empty)
	require.NoError(t, err)
	require.Empty(t, decoded)

	long := make([]common.Hash, MaxProofLength+1)
	data, err = EncodeProof(long)
	require.NoError(t, err)
	_, err = DecodeProof(data)
	require.ErrorIs(t, err, ErrMalformedProof)
}

func TestDecodeProofRequiresCanonicalEncoding(t *testing.T) {
	proof := []common.Hash{common.HexToHash("0x01")}
	data, err := EncodeProof(proof)
	require.NoError(t, err)

	padded := append(append([]byte{}, data...), make([]byte, 32)...)
	_, err = DecodeProof(padded)
	require.ErrorIs(t, err, ErrMalformedProof)

	trailing := append(append([]byte{}, data...), 0xff)
	_, err = DecodeProof(trailing)
	require.ErrorIs(t, err, ErrMalformedProof)

	// Same proof behind a shifted head offset.
	shifted := make([]byte, 0, len(data)+32)
	shifted = append(shifted, common.LeftPadBytes([]byte{0x40}, 32)...)
	shifted = append(shifted, make([]byte, 32)...)
	shifted = append(shifted, data[32:]...)
	_, err = DecodeProof(shifted)
	require.ErrorIs(t, err, ErrMalformedProof)

	decoded, err := DecodeProof(data)
	require.NoError(t, err)
	require.Equal(t, proof, decoded)
}

func TestVerifierRejectsZeroRoot(t *testing.T) {
	tree, _ := allowlistFixture(t, referrerA)
	proof, err := tree.Proof(referrerA)
	require.NoError(t, err)

	var v AllowlistVerifier
	require.True(t, v.Verify(proof, tree.Root(), referrerA))
	require.False(t, v.Verify(proof, common.Hash{}, referrerA))
	require.False(t, v.Verify(proof, tree.Root(), outsider))
}

func TestStrategySpecBuild(t *testing.T) {
	spec := &StrategySpec{
		Kind: "allowlist",
		Inner: &StrategySpec{
			Kind:  "duration",
			Inner: &StrategySpec{Kind: "percent", Bps: 500},
		},
	}
	s, err := spec.Build()
	require.NoError(t, err)
	require.Equal(t, "allowlist(duration(percent(500)))", Describe(s))
	require.True(t, Contains[*AllowlistGated](s))
	require.True(t, Contains[*Percent](s))
	require.False(t, Contains[*Loyalty](s))

	loyalty, err := (&StrategySpec{Kind: " Loyalty "}).Build()
	require.NoError(t, err)
	require.Equal(t, "loyalty", Describe(loyalty))
}

func TestStrategySpecBuildErrors(t *testing.T) {
	cases := map[string]*StrategySpec{
		"nil":             nil,
		"unknown":         {Kind: "flat"},
		"rate":            {Kind: "percent", Bps: 10_001},
		"leaf wraps":      {Kind: "percent", Bps: 1, Inner: &StrategySpec{Kind: "loyalty"}},
		"missing inner":   {Kind: "duration"},
		"bad inner":       {Kind: "allowlist", Inner: &StrategySpec{Kind: "nope"}},
		"loyalty wraps":   {Kind: "loyalty", Inner: &StrategySpec{Kind: "loyalty"}},
		"nested bad rate": {Kind: "duration", Inner: &StrategySpec{Kind: "percent", Bps: 20_000}},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := spec.Build()
			require.Error(t, err)
			require.Nil(t, s)
		})
	}
}
