package core

import "math/big"

// BundleFillRefunds aggregates the validated fills of one (chain, token)
// bucket together with the refunds owed per relayer.
type BundleFillRefunds struct {
	Fills             []*Fill              `json:"fills"`
	TotalRefundAmount *big.Int             `json:"total_refund_amount"`
	RealizedLpFees    *big.Int             `json:"realized_lp_fees"`
	Refunds           map[Address]*big.Int `json:"refunds"`
}

func newBundleFillRefunds() *BundleFillRefunds {
	return &BundleFillRefunds{
		TotalRefundAmount: new(big.Int),
		RealizedLpFees:    new(big.Int),
		Refunds:           make(map[Address]*big.Int),
	}
}

// BundleDepositsMap groups deposits by origin chain then input token.
type BundleDepositsMap map[ChainID]map[Address][]*Deposit

// BundleFillsMap groups refunds by repayment chain then repayment token.
type BundleFillsMap map[ChainID]map[Address]*BundleFillRefunds

// BundleSlowFillsMap groups slow-fill leaves by destination chain then
// output token.
type BundleSlowFillsMap map[ChainID]map[Address][]*Deposit

func (m BundleDepositsMap) add(chain ChainID, token Address, d *Deposit) {
	byToken, ok := m[chain]
	if !ok {
		byToken = make(map[Address][]*Deposit)
		m[chain] = byToken
	}
	byToken[token] = append(byToken[token], d)
}

func (m BundleSlowFillsMap) add(chain ChainID, token Address, d *Deposit) {
	byToken, ok := m[chain]
	if !ok {
		byToken = make(map[Address][]*Deposit)
		m[chain] = byToken
	}
	byToken[token] = append(byToken[token], d)
}

func (m BundleFillsMap) bucket(chain ChainID, token Address) *BundleFillRefunds {
	byToken, ok := m[chain]
	if !ok {
		byToken = make(map[Address]*BundleFillRefunds)
		m[chain] = byToken
	}
	b, ok := byToken[token]
	if !ok {
		b = newBundleFillRefunds()
		byToken[token] = b
	}
	return b
}

// addFill appends a validated fill and folds its amounts into the bucket's
// totals. Slow fills carry LP fees but no relayer refund.
func (b *BundleFillRefunds) addFill(f *Fill) {
	b.Fills = append(b.Fills, f)
	lpFee := mulDivTrunc(orZero(f.InputAmount), orZero(f.LpFeePct), fixedPoint)
	b.RealizedLpFees.Add(b.RealizedLpFees, lpFee)
	if f.IsSlowFill() {
		return
	}
	refund := new(big.Int).Sub(orZero(f.InputAmount), lpFee)
	b.TotalRefundAmount.Add(b.TotalRefundAmount, refund)
	prior, ok := b.Refunds[f.Relayer]
	if !ok {
		prior = new(big.Int)
		b.Refunds[f.Relayer] = prior
	}
	prior.Add(prior, refund)
}

// LoadDataResult is the complete output of one bundle reconstruction. Every
// read hands the caller a defensive deep copy.
type LoadDataResult struct {
	BundleDeposits        BundleDepositsMap  `json:"bundle_deposits"`
	ExpiredDeposits       BundleDepositsMap  `json:"expired_deposits"`
	BundleFills           BundleFillsMap     `json:"bundle_fills"`
	BundleSlowFills       BundleSlowFillsMap `json:"bundle_slow_fills"`
	UnexecutableSlowFills BundleSlowFillsMap `json:"unexecutable_slow_fills"`
}

// NewLoadDataResult allocates an empty result.
func NewLoadDataResult() *LoadDataResult {
	return &LoadDataResult{
		BundleDeposits:        make(BundleDepositsMap),
		ExpiredDeposits:       make(BundleDepositsMap),
		BundleFills:           make(BundleFillsMap),
		BundleSlowFills:       make(BundleSlowFillsMap),
		UnexecutableSlowFills: make(BundleSlowFillsMap),
	}
}

func cloneDeposit(d *Deposit) *Deposit {
	out := *d
	out.InputAmount = cloneBig(d.InputAmount)
	out.OutputAmount = cloneBig(d.OutputAmount)
	out.DepositID = cloneBig(d.DepositID)
	out.LpFeePct = cloneBig(d.LpFeePct)
	out.UpdatedOutputAmount = cloneBig(d.UpdatedOutputAmount)
	out.Message = append([]byte(nil), d.Message...)
	out.UpdatedMessage = append([]byte(nil), d.UpdatedMessage...)
	out.SpeedUpSignature = append([]byte(nil), d.SpeedUpSignature...)
	return &out
}

func cloneDepositsMap(m BundleDepositsMap) BundleDepositsMap {
	out := make(BundleDepositsMap, len(m))
	for chain, byToken := range m {
		out[chain] = make(map[Address][]*Deposit, len(byToken))
		for token, deposits := range byToken {
			list := make([]*Deposit, len(deposits))
			for i, d := range deposits {
				list[i] = cloneDeposit(d)
			}
			out[chain][token] = list
		}
	}
	return out
}

func cloneSlowFillsMap(m BundleSlowFillsMap) BundleSlowFillsMap {
	out := make(BundleSlowFillsMap, len(m))
	for chain, byToken := range m {
		out[chain] = make(map[Address][]*Deposit, len(byToken))
		for token, deposits := range byToken {
			list := make([]*Deposit, len(deposits))
			for i, d := range deposits {
				list[i] = cloneDeposit(d)
			}
			out[chain][token] = list
		}
	}
	return out
}

// Clone deep-copies the result, amounts included.
func (r *LoadDataResult) Clone() *LoadDataResult {
	out := NewLoadDataResult()
	out.BundleDeposits = cloneDepositsMap(r.BundleDeposits)
	out.ExpiredDeposits = cloneDepositsMap(r.ExpiredDeposits)
	out.BundleSlowFills = cloneSlowFillsMap(r.BundleSlowFills)
	out.UnexecutableSlowFills = cloneSlowFillsMap(r.UnexecutableSlowFills)
	for chain, byToken := range r.BundleFills {
		out.BundleFills[chain] = make(map[Address]*BundleFillRefunds, len(byToken))
		for token, bucket := range byToken {
			cp := newBundleFillRefunds()
			cp.TotalRefundAmount.Set(bucket.TotalRefundAmount)
			cp.RealizedLpFees.Set(bucket.RealizedLpFees)
			for relayer, amt := range bucket.Refunds {
				cp.Refunds[relayer] = new(big.Int).Set(amt)
			}
			cp.Fills = make([]*Fill, len(bucket.Fills))
			for i, f := range bucket.Fills {
				cp.Fills[i] = f.Clone()
			}
			out.BundleFills[chain][token] = cp
		}
	}
	return out
}
