// Package settlement computes pari-mutuel payouts: winners split the
// fee-adjusted pool in proportion to their stake on the winning outcome.
package settlement

import (
	"math/big"

	"github.com/betchain/settlementd/internal/domain"
)

const bpsDenominator = 10_000

// DefaultFeeRateBps is the protocol fee observed on the ledger (2%). The
// effective rate always comes from configuration; this is only the default.
const DefaultFeeRateBps = 200

// Calculator computes payouts at a fixed fee rate.
type Calculator struct {
	feeRateBps int
}

// NewCalculator creates a Calculator. Fee rates outside [0, 10000) fall
// back to the default.
func NewCalculator(feeRateBps int) *Calculator {
	if feeRateBps < 0 || feeRateBps >= bpsDenominator {
		feeRateBps = DefaultFeeRateBps
	}
	return &Calculator{feeRateBps: feeRateBps}
}

// FeeRateBps returns the configured fee rate in basis points.
func (c *Calculator) FeeRateBps() int { return c.feeRateBps }

// Payout computes the winner's share in integer wei:
//
//	netPool = pool * (10000 - feeRateBps) / 10000
//	payout  = stake * netPool / winningTotal
//
// The two multiplications happen before the divisions so no precision is
// lost beyond the final integer truncation. A zero winningTotal is
// impossible for a genuine winner (their own stake counts toward it) but is
// guarded and fails with ErrNoWinningStake.
func (c *Calculator) Payout(stake, winningTotal, pool *big.Int) (*big.Int, error) {
	if stake == nil || winningTotal == nil || pool == nil {
		return nil, domain.ErrNoWinningStake
	}
	if winningTotal.Sign() <= 0 || stake.Sign() < 0 || pool.Sign() < 0 {
		return nil, domain.ErrNoWinningStake
	}

	payout := new(big.Int).Mul(stake, pool)
	payout.Mul(payout, big.NewInt(int64(bpsDenominator-c.feeRateBps)))
	payout.Div(payout, big.NewInt(bpsDenominator))
	payout.Div(payout, winningTotal)
	return payout, nil
}
