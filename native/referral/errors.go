package referral

import "errors"

var (
	ErrInvalidProgram       = errors.New("referral: invalid program")
	ErrInvalidRate          = errors.New("referral: commission rate out of range")
	ErrInvalidStrategy      = errors.New("referral: invalid strategy")
	ErrUnauthorized         = errors.New("referral: unauthorized")
	ErrInsufficientValue    = errors.New("referral: attached value below price")
	ErrRefundFailed         = errors.New("referral: refund failed")
	ErrPayoutFailed         = errors.New("referral: payout failed")
	ErrInsufficientTreasury = errors.New("referral: payout exceeds treasury balance")
	ErrMalformedProof       = errors.New("referral: malformed allowlist proof")
	ErrAllowlistDisabled    = errors.New("referral: program has no allowlist")
	ErrMissingStore         = errors.New("referral: strategy store not configured")
	ErrNothingToWithdraw    = errors.New("referral: nothing to withdraw")
	ErrInvalidRecipient     = errors.New("referral: invalid recipient")
)
