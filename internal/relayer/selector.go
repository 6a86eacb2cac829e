package relayer

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/meridianlabs/meridian/internal/model"
)

// ErrNoneEligible means no relayer has sufficient available balance. A
// normal, reportable condition - the caller decides whether to alert or
// retry later - but distinct from RPC failure for alerting purposes.
var ErrNoneEligible = errors.New("no relayer with sufficient available balance")

// Choose picks the payout relayer for a settlement of the required amount.
//
// Among relayers whose available balance covers the amount, it
// deterministically picks the one with the smallest sufficient balance, so
// large relayers stay unfragmented for large settlements. Ties go to input
// order. Pure function: no I/O, no clock.
func Choose(balances []model.AvailableBalance, required decimal.Decimal) (*model.AvailableBalance, error) {
	var best *model.AvailableBalance
	for i := range balances {
		b := &balances[i]
		if b.Available.LessThan(required) {
			continue
		}
		if best == nil || b.Available.LessThan(best.Available) {
			best = b
		}
	}
	if best == nil {
		return nil, ErrNoneEligible
	}
	return best, nil
}
