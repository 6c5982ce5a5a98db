package odds

import (
	"github.com/shopspring/decimal"
)

// StakeDollars renders a Leg's fractional stake_share against a bankroll as
// a precise 2dp dollar string. Kept out of the Leg struct itself: StakeShare
// stays an unrounded float64 so the sum(leg.stake_share) = 1.0 invariant
// holds exactly, and rounding only happens at this presentation boundary.
func (l Leg) StakeDollars(bankroll float64) string {
	share := decimal.NewFromFloat(l.StakeShare)
	amount := share.Mul(decimal.NewFromFloat(bankroll))
	return amount.Round(2).StringFixed(2)
}

// TotalStakeDollars sums StakeDollars across an Opportunity's legs, useful
// for a sanity check that the split exhausts the bankroll.
func (o Opportunity) TotalStakeDollars(bankroll float64) string {
	total := decimal.Zero
	for _, leg := range o.Legs {
		share := decimal.NewFromFloat(leg.StakeShare)
		total = total.Add(share.Mul(decimal.NewFromFloat(bankroll)))
	}
	return total.Round(2).StringFixed(2)
}
