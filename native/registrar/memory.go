package registrar

import (
	"context"
	"fmt"
	"math/big"
	"math/bits"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	refstate "nameref/core/state"
)

const (
	recordNamespace = "registrar/name"

	// DefaultMinDuration is the shortest registration accepted.
	DefaultMinDuration uint64 = 28 * 24 * 60 * 60
	// DefaultGracePeriod is how long an expired name stays renewable and
	// unavailable for registration.
	DefaultGracePeriod uint64 = 90 * 24 * 60 * 60
	minLabelLength           = 3
)

// Record is the stored state of a registered name.
type Record struct {
	Owner       common.Address
	Resolver    common.Address
	Subregistry common.Address
	Flags       Flags
	Expiry      uint64
}

// MemoryConfig parameterises the reference controller.
type MemoryConfig struct {
	Address common.Address
	// YearlyPrices maps label length to the rent of one year. The entry for
	// the largest length applies to every longer label.
	YearlyPrices map[int]*uint256.Int
	MinDuration  uint64
	GracePeriod  uint64
}

// Memory is a reference controller keeping name records in program state. It
// validates payment and availability but implements neither commit/reveal nor
// price oracles.
type Memory struct {
	cfg     MemoryConfig
	lengths []int

	mu       sync.RWMutex
	premiums map[string]*uint256.Int
	nowFn    func() time.Time
}

// NewMemory creates a reference controller.
func NewMemory(cfg MemoryConfig) (*Memory, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("registrar: controller address required")
	}
	if len(cfg.YearlyPrices) == 0 {
		return nil, fmt.Errorf("registrar: price table required")
	}
	if cfg.MinDuration == 0 {
		cfg.MinDuration = DefaultMinDuration
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	lengths := make([]int, 0, len(cfg.YearlyPrices))
	for length, price := range cfg.YearlyPrices {
		if length <= 0 || price == nil {
			return nil, fmt.Errorf("registrar: invalid price entry for length %d", length)
		}
		lengths = append(lengths, length)
	}
	sort.Ints(lengths)
	return &Memory{
		cfg:      cfg,
		lengths:  lengths,
		premiums: make(map[string]*uint256.Int),
		nowFn:    time.Now,
	}, nil
}

// SetNowFunc overrides the clock. Primarily intended for tests.
func (m *Memory) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now == nil {
		m.nowFn = time.Now
		return
	}
	m.nowFn = now
}

// SetPremium configures a temporary premium charged on top of the base rent.
func (m *Memory) SetPremium(name string, premium *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if premium == nil || premium.IsZero() {
		delete(m.premiums, name)
		return
	}
	m.premiums[name] = new(uint256.Int).Set(premium)
}

// Address implements Controller.
func (m *Memory) Address() common.Address { return m.cfg.Address }

// RentPrice implements Pricer.
func (m *Memory) RentPrice(name string, duration uint64) (Price, error) {
	if err := validateLabel(name); err != nil {
		return Price{}, err
	}
	yearly := m.yearlyPrice(utf8.RuneCountInString(name))
	base, overflow := new(uint256.Int).MulOverflow(yearly, uint256.NewInt(duration))
	if overflow {
		return Price{}, ErrPriceOverflow
	}
	base.Div(base, uint256.NewInt(SecondsPerYear))

	m.mu.RLock()
	premium := new(uint256.Int)
	if p, ok := m.premiums[name]; ok {
		premium.Set(p)
	}
	m.mu.RUnlock()
	return Price{Base: base, Premium: premium}, nil
}

// Register implements Controller.
func (m *Memory) Register(_ context.Context, tx *refstate.Txn, value *uint256.Int, reg Registration) (*big.Int, error) {
	if reg.Owner == (common.Address{}) {
		return nil, ErrInvalidOwner
	}
	if reg.Duration < m.cfg.MinDuration {
		return nil, fmt.Errorf("%w: %d < %d", ErrDurationTooShort, reg.Duration, m.cfg.MinDuration)
	}
	if err := m.checkPayment(reg.Name, reg.Duration, value); err != nil {
		return nil, err
	}
	now := uint64(m.now().Unix())
	existing, ok, err := m.Lookup(tx, reg.Name)
	if err != nil {
		return nil, err
	}
	if ok && existing.Expiry+m.cfg.GracePeriod >= now {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, reg.Name)
	}
	expiry, err := m.extend(now, reg.Duration)
	if err != nil {
		return nil, err
	}
	record := &Record{
		Owner:       reg.Owner,
		Resolver:    reg.Resolver,
		Subregistry: reg.Subregistry,
		Flags:       reg.Flags,
		Expiry:      expiry,
	}
	if err := tx.PutRecord(recordNamespace, []byte(reg.Name), record); err != nil {
		return nil, err
	}
	return TokenID(reg.Name), nil
}

// Renew implements Controller.
func (m *Memory) Renew(_ context.Context, tx *refstate.Txn, value *uint256.Int, name string, duration uint64) error {
	if err := m.checkPayment(name, duration, value); err != nil {
		return err
	}
	record, ok, err := m.Lookup(tx, name)
	if err != nil {
		return err
	}
	now := uint64(m.now().Unix())
	if !ok || record.Expiry+m.cfg.GracePeriod < now {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	if record.Expiry, err = m.extend(record.Expiry, duration); err != nil {
		return err
	}
	return tx.PutRecord(recordNamespace, []byte(name), record)
}

// extend returns expiry+duration. The result plus the grace period must fit in
// a uint64 so availability checks never wrap.
func (m *Memory) extend(expiry, duration uint64) (uint64, error) {
	next, carry := bits.Add64(expiry, duration, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrExpiryOverflow, expiry, duration)
	}
	if _, carry = bits.Add64(next, m.cfg.GracePeriod, 0); carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrExpiryOverflow, expiry, duration)
	}
	return next, nil
}

// Lookup returns the stored record of name.
func (m *Memory) Lookup(tx *refstate.Txn, name string) (*Record, bool, error) {
	record := new(Record)
	ok, err := tx.GetRecord(recordNamespace, []byte(name), record)
	if err != nil || !ok {
		return nil, false, err
	}
	return record, true, nil
}

// TokenID returns keccak256(label) as an unsigned integer.
func TokenID(name string) *big.Int {
	return new(big.Int).SetBytes(ethcrypto.Keccak256([]byte(name)))
}

func (m *Memory) checkPayment(name string, duration uint64, value *uint256.Int) error {
	price, err := m.RentPrice(name, duration)
	if err != nil {
		return err
	}
	total, err := price.Total()
	if err != nil {
		return err
	}
	if value == nil || !value.Eq(total) {
		got := "0"
		if value != nil {
			got = value.Dec()
		}
		return fmt.Errorf("%w: got %s, want %s", ErrWrongPayment, got, total.Dec())
	}
	return nil
}

func (m *Memory) yearlyPrice(length int) *uint256.Int {
	chosen := m.lengths[0]
	for _, l := range m.lengths {
		if l <= length {
			chosen = l
		}
	}
	return m.cfg.YearlyPrices[chosen]
}

func (m *Memory) now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nowFn()
}

func validateLabel(name string) error {
	if !utf8.ValidString(name) || strings.ContainsAny(name, ". \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if utf8.RuneCountInString(name) < minLabelLength {
		return fmt.Errorf("%w: %q shorter than %d characters", ErrInvalidName, name, minLabelLength)
	}
	return nil
}
