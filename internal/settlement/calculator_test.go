package settlement_test

import (
	"math/big"
	"testing"

	"github.com/betchain/settlementd/internal/domain"
	"github.com/betchain/settlementd/internal/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eth converts a whole-unit amount into wei.
func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestPayout_DocumentedScenario(t *testing.T) {
	// Pool 100, outcome A staked 40, fee 2%. A user staked 10 on A, which
	// wins. Expected payout: 10 * (100 * 0.98) / 40 = 24.5.
	calc := settlement.NewCalculator(200)

	payout, err := calc.Payout(eth(10), eth(40), eth(100))
	require.NoError(t, err)

	want := new(big.Int).Mul(big.NewInt(245), big.NewInt(1e17)) // 24.5 in wei
	assert.Zero(t, payout.Cmp(want), "payout = %s, want %s", payout, want)
}

func TestPayout_LinearInStake(t *testing.T) {
	calc := settlement.NewCalculator(200)
	winningTotal := eth(40)
	pool := eth(100)

	p1, err := calc.Payout(eth(4), winningTotal, pool)
	require.NoError(t, err)
	p2, err := calc.Payout(eth(6), winningTotal, pool)
	require.NoError(t, err)
	sum, err := calc.Payout(eth(10), winningTotal, pool)
	require.NoError(t, err)

	assert.Zero(t, new(big.Int).Add(p1, p2).Cmp(sum))
}

func TestPayout_WholePoolToSoleWinner(t *testing.T) {
	// The only staker on the winning outcome takes the whole net pool.
	calc := settlement.NewCalculator(200)

	payout, err := calc.Payout(eth(40), eth(40), eth(100))
	require.NoError(t, err)
	assert.Zero(t, payout.Cmp(eth(98)))
}

func TestPayout_ZeroWinningTotal(t *testing.T) {
	calc := settlement.NewCalculator(200)

	_, err := calc.Payout(eth(10), big.NewInt(0), eth(100))
	assert.ErrorIs(t, err, domain.ErrNoWinningStake)
}

func TestPayout_NilInputs(t *testing.T) {
	calc := settlement.NewCalculator(200)

	_, err := calc.Payout(nil, eth(40), eth(100))
	assert.ErrorIs(t, err, domain.ErrNoWinningStake)
}

func TestPayout_ZeroFee(t *testing.T) {
	calc := settlement.NewCalculator(0)

	payout, err := calc.Payout(eth(10), eth(40), eth(100))
	require.NoError(t, err)
	assert.Zero(t, payout.Cmp(eth(25)))
}

func TestNewCalculator_InvalidFeeFallsBack(t *testing.T) {
	assert.Equal(t, settlement.DefaultFeeRateBps, settlement.NewCalculator(-1).FeeRateBps())
	assert.Equal(t, settlement.DefaultFeeRateBps, settlement.NewCalculator(10_000).FeeRateBps())
	assert.Equal(t, 200, settlement.NewCalculator(200).FeeRateBps())
}
