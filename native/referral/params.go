package referral

import "nameref/native/registrar"

const (
	// BpsDenominator defines the scaling factor used for basis point math.
	BpsDenominator = 10_000
	// MaxCommissionBps is the highest accepted percent rate (100%).
	MaxCommissionBps = BpsDenominator

	// MinGatedDuration is the shortest duration the duration gate lets
	// through to its inner strategy (one 365-day year).
	MinGatedDuration = registrar.SecondsPerYear

	// LoyaltyBonusBps is the rate earned for every LoyaltyBonusPeriod of
	// cumulative referred duration (1% per 100 years).
	LoyaltyBonusBps = 100
	// LoyaltyBonusPeriod is the cumulative duration that earns LoyaltyBonusBps.
	LoyaltyBonusPeriod = 100 * registrar.SecondsPerYear
	// LoyaltyCapBps caps the loyalty rate at 20%.
	LoyaltyCapBps = 2_000

	// MaxProofLength bounds the number of siblings accepted in an allowlist
	// proof.
	MaxProofLength = 64
)
