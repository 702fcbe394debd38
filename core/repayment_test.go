package core

import (
	"context"
	"testing"
)

func verifierEnv(t *testing.T) (*testEnv, *RepaymentVerifier) {
	env := newTestEnv(t)
	env.build()
	return env, NewRepaymentVerifier(env.hub, env.providers, nil)
}

func enriched(d *Deposit) *Deposit {
	d.QuoteBlockNumber = 90
	return d
}

// TestVerifySlowFillPassesThrough leaves slow fills untouched.
func TestVerifySlowFillPassesThrough(t *testing.T) {
	_, v := verifierEnv(t)
	d := enriched(makeDeposit(1, 100, farFuture()))
	f := makeFill(d, 110, SlowFill, ChainID(999))
	out, err := v.VerifyFillRepayment(context.Background(), f, d)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out != f {
		t.Fatalf("slow fill must be returned unchanged")
	}
}

// TestVerifyLiteChainForcesOrigin rewrites the repayment chain for lite
// origins.
func TestVerifyLiteChainForcesOrigin(t *testing.T) {
	_, v := verifierEnv(t)
	d := enriched(makeDeposit(1, 100, farFuture()))
	d.FromLiteChain = true
	f := makeFill(d, 110, FastFill, tChainB)
	out, err := v.VerifyFillRepayment(context.Background(), f, d)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.RepaymentChainID != tChainA {
		t.Fatalf("repaymentChainId = %d, want origin %d", out.RepaymentChainID, tChainA)
	}
	if f.RepaymentChainID != tChainB {
		t.Fatalf("the original fill must not be mutated")
	}
}

// TestVerifyMissingRouteFallsBackToDestination forces an unrouted repayment
// chain to the destination.
func TestVerifyMissingRouteFallsBackToDestination(t *testing.T) {
	_, v := verifierEnv(t)
	d := enriched(makeDeposit(1, 100, farFuture()))
	f := makeFill(d, 110, FastFill, ChainID(999))
	out, err := v.VerifyFillRepayment(context.Background(), f, d)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.RepaymentChainID != tChainB {
		t.Fatalf("repaymentChainId = %d, want destination %d", out.RepaymentChainID, tChainB)
	}
}

// TestVerifyRelayerRewrittenToSender substitutes the transaction sender for
// a non-EVM relayer on an EVM repayment chain.
func TestVerifyRelayerRewrittenToSender(t *testing.T) {
	env, v := verifierEnv(t)
	d := enriched(makeDeposit(1, 100, farFuture()))
	f := makeFill(d, 110, FastFill, tChainA)
	f.Relayer = nonEVMAddr("odd")
	sender := evmAddr("sender")
	env.spokeFx[tChainB].TxSenders[f.TxHash.String()] = sender

	out, err := v.VerifyFillRepayment(context.Background(), f, d)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.Relayer != sender {
		t.Fatalf("relayer = %s, want %s", out.Relayer, sender)
	}
}

// TestVerifyUnrepayableReturnsNil drops fills whose relayer and sender are
// both unusable.
func TestVerifyUnrepayableReturnsNil(t *testing.T) {
	env, v := verifierEnv(t)
	d := enriched(makeDeposit(1, 100, farFuture()))
	f := makeFill(d, 110, FastFill, tChainA)
	f.Relayer = nonEVMAddr("odd")
	env.spokeFx[tChainB].TxSenders[f.TxHash.String()] = nonEVMAddr("odd-sender")

	out, err := v.VerifyFillRepayment(context.Background(), f, d)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil for an unrepayable fill, got %+v", out)
	}
}
