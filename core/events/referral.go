package events

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"nameref/core/types"
)

const (
	// TypeReferral is emitted by every successful register or renew call.
	TypeReferral = "referral.base"
	// TypeReferralWithCommission is emitted when a referrer was supplied and the
	// program's strategy evaluated a commission (possibly zero).
	TypeReferralWithCommission = "referral.commission"
	// TypeAllowlistRootUpdated is emitted when the owner replaces the allowlist
	// commitment of a program.
	TypeAllowlistRootUpdated = "referral.allowlist.root_updated"
	// TypeTreasuryDeposited is emitted when funds are added to a program
	// treasury.
	TypeTreasuryDeposited = "referral.treasury.deposited"
	// TypeTreasuryClosed is emitted when the owner withdraws the remaining
	// treasury balance.
	TypeTreasuryClosed = "referral.treasury.closed"
	// TypeClaimCredited is emitted when a pull-mode program credits a
	// commission instead of pushing it.
	TypeClaimCredited = "referral.claim.credited"
	// TypeClaimWithdrawn is emitted when a referrer withdraws credited
	// commission.
	TypeClaimWithdrawn = "referral.claim.withdrawn"
)

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func hexAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// Referral is the base notification carrying the name and referrer.
type Referral struct {
	Program  string
	Name     string
	Referrer common.Address
	Renewal  bool
}

// EventType implements the Event interface.
func (Referral) EventType() string { return TypeReferral }

// Event converts the referral to the generic event payload.
func (e Referral) Event() *types.Event {
	return &types.Event{
		Type: TypeReferral,
		Attributes: map[string]string{
			"program":  e.Program,
			"name":     e.Name,
			"referrer": hexAddress(e.Referrer),
			"renewal":  strconv.FormatBool(e.Renewal),
		},
	}
}

// ReferralWithCommission extends Referral with the evaluated commission.
type ReferralWithCommission struct {
	Program  string
	Name     string
	Referrer common.Address
	Amount   *uint256.Int
}

// EventType implements the Event interface.
func (ReferralWithCommission) EventType() string { return TypeReferralWithCommission }

// Event converts the commission notice to the generic event payload.
func (e ReferralWithCommission) Event() *types.Event {
	return &types.Event{
		Type: TypeReferralWithCommission,
		Attributes: map[string]string{
			"program":  e.Program,
			"name":     e.Name,
			"referrer": hexAddress(e.Referrer),
			"amount":   amountString(e.Amount),
		},
	}
}

// AllowlistRootUpdated captures a replaced allowlist commitment.
type AllowlistRootUpdated struct {
	Program string
	Root    common.Hash
}

// EventType implements the Event interface.
func (AllowlistRootUpdated) EventType() string { return TypeAllowlistRootUpdated }

// Event converts the root update to the generic event payload.
func (e AllowlistRootUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeAllowlistRootUpdated,
		Attributes: map[string]string{
			"program": e.Program,
			"root":    e.Root.Hex(),
		},
	}
}

// TreasuryDeposited captures an open deposit. The depositor is not recorded in
// program state; it is only reported here.
type TreasuryDeposited struct {
	Program string
	From    common.Address
	Amount  *uint256.Int
	Balance *uint256.Int
}

// EventType implements the Event interface.
func (TreasuryDeposited) EventType() string { return TypeTreasuryDeposited }

// Event converts the deposit to the generic event payload.
func (e TreasuryDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeTreasuryDeposited,
		Attributes: map[string]string{
			"program": e.Program,
			"from":    hexAddress(e.From),
			"amount":  amountString(e.Amount),
			"balance": amountString(e.Balance),
		},
	}
}

// TreasuryClosed captures the owner withdrawal of the full balance.
type TreasuryClosed struct {
	Program string
	To      common.Address
	Amount  *uint256.Int
}

// EventType implements the Event interface.
func (TreasuryClosed) EventType() string { return TypeTreasuryClosed }

// Event converts the close to the generic event payload.
func (e TreasuryClosed) Event() *types.Event {
	return &types.Event{
		Type: TypeTreasuryClosed,
		Attributes: map[string]string{
			"program": e.Program,
			"to":      hexAddress(e.To),
			"amount":  amountString(e.Amount),
		},
	}
}

// ClaimCredited captures a commission credited to a referrer's claim.
type ClaimCredited struct {
	Program  string
	Referrer common.Address
	Amount   *uint256.Int
	Total    *uint256.Int
}

// EventType implements the Event interface.
func (ClaimCredited) EventType() string { return TypeClaimCredited }

// Event converts the credit to the generic event payload.
func (e ClaimCredited) Event() *types.Event {
	return &types.Event{
		Type: TypeClaimCredited,
		Attributes: map[string]string{
			"program":  e.Program,
			"referrer": hexAddress(e.Referrer),
			"amount":   amountString(e.Amount),
			"total":    amountString(e.Total),
		},
	}
}

// ClaimWithdrawn captures a referrer withdrawing credited commission.
type ClaimWithdrawn struct {
	Program  string
	Referrer common.Address
	To       common.Address
	Amount   *uint256.Int
}

// EventType implements the Event interface.
func (ClaimWithdrawn) EventType() string { return TypeClaimWithdrawn }

// Event converts the withdrawal to the generic event payload.
func (e ClaimWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeClaimWithdrawn,
		Attributes: map[string]string{
			"program":  e.Program,
			"referrer": hexAddress(e.Referrer),
			"to":       hexAddress(e.To),
			"amount":   amountString(e.Amount),
		},
	}
}
