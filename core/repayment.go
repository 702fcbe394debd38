package core

import (
	"context"

	"go.uber.org/zap"
)

// RepaymentVerifier decides, for each candidate fill, which chain the relayer
// is repaid on and whether the relayer address is usable there, rewriting it
// to the fill transaction's sender when it is not.
type RepaymentVerifier struct {
	hub       *HubPoolClient
	providers map[ChainID]SpokeProvider
	lg        *zap.SugaredLogger
}

// NewRepaymentVerifier wires a verifier over the hub's route table and the
// spoke providers used for sender lookups.
func NewRepaymentVerifier(hub *HubPoolClient, providers map[ChainID]SpokeProvider, lg *zap.Logger) *RepaymentVerifier {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &RepaymentVerifier{hub: hub, providers: providers, lg: lg.Sugar()}
}

// VerifyFillRepayment validates fill against its matched deposit. It returns
// a copy with repayment chain and relayer rewritten as required, or nil when
// the fill cannot be repaid anywhere.
func (v *RepaymentVerifier) VerifyFillRepayment(ctx context.Context, fill *Fill, deposit *Deposit) (*Fill, error) {
	// Slow fills pay the recipient from pool liquidity; nothing to verify.
	if fill.IsSlowFill() {
		return fill, nil
	}
	out := fill.Clone()

	switch {
	case deposit.FromLiteChain:
		// Lite-chain deposits must be refunded where they originated.
		out.RepaymentChainID = deposit.OriginChainID
	case !v.hub.HasRouteForChain(deposit.InputToken, deposit.OriginChainID, fill.RepaymentChainID, deposit.QuoteBlockNumber, v.hub.LatestBlockSearched()):
		forced := deposit.DestinationChainID
		if !v.hub.HasRouteForChain(deposit.InputToken, deposit.OriginChainID, forced, deposit.QuoteBlockNumber, v.hub.LatestBlockSearched()) {
			forced = deposit.OriginChainID
		}
		v.lg.Debugw("forcing repayment chain: no pool rebalance route",
			"depositId", deposit.DepositID.String(),
			"requested", fill.RepaymentChainID,
			"forced", forced,
		)
		out.RepaymentChainID = forced
	}

	if !out.Relayer.ValidOn(out.RepaymentChainID) {
		sender, err := v.txSender(ctx, fill)
		if err != nil {
			return nil, err
		}
		if !sender.ValidOn(out.RepaymentChainID) {
			v.lg.Warnw("unrepayable fill: relayer and tx sender both invalid on repayment chain",
				"relayHash", fill.Hash().String(),
				"relayer", fill.Relayer.String(),
				"sender", sender.String(),
				"repaymentChainId", out.RepaymentChainID,
			)
			return nil, nil
		}
		out.Relayer = sender
	}
	return out, nil
}

func (v *RepaymentVerifier) txSender(ctx context.Context, fill *Fill) (Address, error) {
	provider, ok := v.providers[fill.DestinationChainID]
	if !ok {
		return Address{}, ErrOracleUnavailable
	}
	sender, err := provider.TxSender(ctx, fill.TxHash)
	if err != nil {
		return Address{}, err
	}
	return sender, nil
}
