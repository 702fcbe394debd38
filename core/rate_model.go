package core

import (
	"fmt"
	"math/big"
)

// fixedPoint is the 1e18 scaling factor shared by utilizations, rates and LP
// fee fractions. Refund arithmetic never leaves big.Int.
var fixedPoint = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// FixedPoint returns the 1e18 scaling constant.
func FixedPoint() *big.Int { return new(big.Int).Set(fixedPoint) }

// mulDivTrunc computes a*b/den truncated toward zero.
func mulDivTrunc(a, b, den *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// instantaneousRate evaluates the piecewise-linear rate curve at utilization
// util (1e18 fixed point).
func instantaneousRate(m *RateModel, util *big.Int) *big.Int {
	rate := new(big.Int).Set(m.R0)
	if util.Sign() <= 0 {
		return rate
	}
	belowKink := util
	if util.Cmp(m.UBar) > 0 {
		belowKink = m.UBar
	}
	if m.UBar.Sign() > 0 {
		rate.Add(rate, mulDivTrunc(m.R1, belowKink, m.UBar))
	}
	if util.Cmp(m.UBar) > 0 {
		span := new(big.Int).Sub(fixedPoint, m.UBar)
		if span.Sign() > 0 {
			above := new(big.Int).Sub(util, m.UBar)
			rate.Add(rate, mulDivTrunc(m.R2, above, span))
		} else {
			rate.Add(rate, m.R2)
		}
	}
	return rate
}

// segmentArea integrates the rate curve over [a, b] where both bounds lie on
// the same linear segment. The midpoint rate times the width is exact for a
// linear segment.
func segmentArea(m *RateModel, a, b *big.Int) *big.Int {
	mid := new(big.Int).Add(a, b)
	mid.Rsh(mid, 1)
	width := new(big.Int).Sub(b, a)
	return mulDivTrunc(instantaneousRate(m, mid), width, fixedPoint)
}

// averageRate integrates the rate curve between two utilizations and divides
// by the interval, splitting at the kink so each piece is linear.
func averageRate(m *RateModel, utilA, utilB *big.Int) *big.Int {
	if utilA.Cmp(utilB) == 0 {
		return instantaneousRate(m, utilA)
	}
	lo, hi := utilA, utilB
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}
	area := new(big.Int)
	if lo.Cmp(m.UBar) < 0 {
		upper := hi
		if upper.Cmp(m.UBar) > 0 {
			upper = m.UBar
		}
		area.Add(area, segmentArea(m, lo, upper))
	}
	if hi.Cmp(m.UBar) > 0 {
		lower := lo
		if lower.Cmp(m.UBar) < 0 {
			lower = m.UBar
		}
		area.Add(area, segmentArea(m, lower, hi))
	}
	width := new(big.Int).Sub(hi, lo)
	return mulDivTrunc(area, fixedPoint, width)
}

// CalculateRealizedLpFeePct computes the LP fee fraction charged for moving
// pool utilization from utilBefore to utilAfter under the given rate model.
// The result is clamped to [0, 1e18].
func CalculateRealizedLpFeePct(m *RateModel, utilBefore, utilAfter *big.Int) (*big.Int, error) {
	if m == nil || m.UBar == nil || m.R0 == nil || m.R1 == nil || m.R2 == nil {
		return nil, fmt.Errorf("incomplete rate model")
	}
	pct := averageRate(m, utilBefore, utilAfter)
	if pct.Sign() < 0 {
		return new(big.Int), nil
	}
	if pct.Cmp(fixedPoint) > 0 {
		return new(big.Int).Set(fixedPoint), nil
	}
	return pct, nil
}
