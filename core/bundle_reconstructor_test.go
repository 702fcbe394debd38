package core

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"interlink-network/internal/testutil"
)

func farFuture() uint32 { return tsAt(tLatest) + 3600 }

// TestLoadDataHappyPathFill covers one deposit matched by one fast fill in
// the same bundle: the deposit lands in bundleDeposits and the relayer is
// refunded input minus the LP fee.
func TestLoadDataHappyPathFill(t *testing.T) {
	env := newTestEnv(t)
	d := makeDeposit(1, 100, farFuture())
	env.spokeFx[tChainA].Deposits = []*Deposit{d}
	env.spokeFx[tChainB].Fills = []*Fill{makeFill(d, 110, FastFill, tChainA)}
	env.build()

	result := env.loadData(env.ranges(50, 200, 50, 200))

	deposits := result.BundleDeposits[tChainA][tTokenA]
	if len(deposits) != 1 || deposits[0].DepositID.Int64() != 1 {
		t.Fatalf("bundleDeposits = %+v, want the single deposit", deposits)
	}
	bucket := result.BundleFills[tChainA][tTokenA]
	if bucket == nil || len(bucket.Fills) != 1 {
		t.Fatalf("expected one validated fill, got %+v", bucket)
	}
	wantRefund := new(big.Int).Sub(testutil.Ether(100), onePercentFeeOn(testutil.Ether(100)))
	if got := bucket.Refunds[tRelayer]; got == nil || got.Cmp(wantRefund) != 0 {
		t.Fatalf("refund = %v, want %v", got, wantRefund)
	}
	if bucket.TotalRefundAmount.Cmp(wantRefund) != 0 {
		t.Fatalf("totalRefundAmount = %v, want %v", bucket.TotalRefundAmount, wantRefund)
	}
	if bucket.RealizedLpFees.Cmp(onePercentFeeOn(testutil.Ether(100))) != 0 {
		t.Fatalf("realizedLpFees = %v", bucket.RealizedLpFees)
	}
	if len(result.ExpiredDeposits) != 0 || len(result.BundleSlowFills) != 0 || len(result.UnexecutableSlowFills) != 0 {
		t.Fatalf("unexpected extra outputs: %+v", result)
	}
}

// TestLoadDataExpiredUnfilledDeposit covers a deposit whose deadline passes
// inside the bundle with no fill: the depositor is refunded exactly once.
func TestLoadDataExpiredUnfilledDeposit(t *testing.T) {
	env := newTestEnv(t)
	d := makeDeposit(1, 100, tsAt(60))
	env.spokeFx[tChainA].Deposits = []*Deposit{d}
	env.build()

	result := env.loadData(env.ranges(50, 200, 50, 200))

	expired := result.ExpiredDeposits[tChainA][tTokenA]
	if len(expired) != 1 || expired[0].DepositID.Int64() != 1 {
		t.Fatalf("expiredDeposits = %+v, want the single deposit", expired)
	}
	if len(result.BundleFills) != 0 {
		t.Fatalf("no fills expected, got %+v", result.BundleFills)
	}
}

// TestLoadDataReplacedSlowFillSameBundle: a slow fill request raced by a
// ReplacedSlowFill inside one bundle produces a refund and no leaves.
func TestLoadDataReplacedSlowFillSameBundle(t *testing.T) {
	env := newTestEnv(t)
	d := makeDeposit(1, 100, farFuture())
	env.spokeFx[tChainA].Deposits = []*Deposit{d}
	env.spokeFx[tChainB].SlowFillRequests = []*SlowFillRequest{makeSlowRequest(d, 120)}
	env.spokeFx[tChainB].Fills = []*Fill{makeFill(d, 130, ReplacedSlowFill, tChainA)}
	env.build()

	result := env.loadData(env.ranges(50, 200, 50, 200))

	if bucket := result.BundleFills[tChainA][tTokenA]; bucket == nil || len(bucket.Fills) != 1 {
		t.Fatalf("expected one validated fill, got %+v", bucket)
	}
	if len(result.BundleSlowFills) != 0 {
		t.Fatalf("bundleSlowFills should be empty, got %+v", result.BundleSlowFills)
	}
	if len(result.UnexecutableSlowFills) != 0 {
		t.Fatalf("unexecutableSlowFills should be empty, got %+v", result.UnexecutableSlowFills)
	}
}

// TestLoadDataPriorBundleSlowFillReplaced: the slow fill request sits in a
// prior bundle, so the replacement makes the old leaf unexecutable.
func TestLoadDataPriorBundleSlowFillReplaced(t *testing.T) {
	env := newTestEnv(t)
	d := makeDeposit(1, 40, farFuture())
	env.spokeFx[tChainA].Deposits = []*Deposit{d}
	env.spokeFx[tChainB].SlowFillRequests = []*SlowFillRequest{makeSlowRequest(d, 40)}
	env.spokeFx[tChainB].Fills = []*Fill{makeFill(d, 120, ReplacedSlowFill, tChainA)}
	env.build()

	result := env.loadData(env.ranges(50, 200, 50, 200))

	leaves := result.UnexecutableSlowFills[tChainB][tTokenB]
	if len(leaves) != 1 || leaves[0].DepositID.Int64() != 1 {
		t.Fatalf("unexecutableSlowFills = %+v, want the deposit", result.UnexecutableSlowFills)
	}
	if bucket := result.BundleFills[tChainA][tTokenA]; bucket == nil || len(bucket.Fills) != 1 {
		t.Fatalf("expected the replacement fill to be refunded, got %+v", bucket)
	}
}

// TestLoadDataDuplicateDepositsOneFastFill: both duplicates credit the
// relayer, each with its own quote timestamp.
func TestLoadDataDuplicateDepositsOneFastFill(t *testing.T) {
	env := newTestEnv(t)
	d1 := makeDeposit(1, 100, farFuture())
	d2 := makeDeposit(1, 101, farFuture())
	env.spokeFx[tChainA].Deposits = []*Deposit{d1, d2}
	env.spokeFx[tChainB].Fills = []*Fill{makeFill(d1, 110, FastFill, tChainA)}
	env.build()

	result := env.loadData(env.ranges(50, 200, 50, 200))

	if deposits := result.BundleDeposits[tChainA][tTokenA]; len(deposits) != 2 {
		t.Fatalf("bundleDeposits = %d entries, want 2", len(deposits))
	}
	bucket := result.BundleFills[tChainA][tTokenA]
	if bucket == nil || len(bucket.Fills) != 2 {
		t.Fatalf("expected the fill counted once per duplicate, got %+v", bucket)
	}
	refundEach := new(big.Int).Sub(testutil.Ether(100), onePercentFeeOn(testutil.Ether(100)))
	wantTotal := new(big.Int).Mul(refundEach, big.NewInt(2))
	if got := bucket.Refunds[tRelayer]; got == nil || got.Cmp(wantTotal) != 0 {
		t.Fatalf("refunds = %v, want %v", got, wantTotal)
	}
}

// TestLoadDataInvalidRelayerRewrite: a non-EVM relayer on an EVM repayment
// chain is rewritten to the fill transaction's sender.
func TestLoadDataInvalidRelayerRewrite(t *testing.T) {
	env := newTestEnv(t)
	d := makeDeposit(1, 100, farFuture())
	f := makeFill(d, 110, FastFill, tChainA)
	f.Relayer = nonEVMAddr("weird-relayer")
	sender := evmAddr("tx-sender")
	env.spokeFx[tChainA].Deposits = []*Deposit{d}
	env.spokeFx[tChainB].Fills = []*Fill{f}
	env.spokeFx[tChainB].TxSenders[f.TxHash.String()] = sender
	env.build()

	result := env.loadData(env.ranges(50, 200, 50, 200))

	bucket := result.BundleFills[tChainA][tTokenA]
	if bucket == nil || len(bucket.Fills) != 1 {
		t.Fatalf("expected one validated fill, got %+v", bucket)
	}
	if bucket.Fills[0].Relayer != sender {
		t.Fatalf("relayer = %s, want rewritten to %s", bucket.Fills[0].Relayer, sender)
	}
	if _, ok := bucket.Refunds[sender]; !ok {
		t.Fatalf("refund should credit the rewritten relayer, got %+v", bucket.Refunds)
	}
}

// TestLoadDataUnrepayableFillOmitted: when the tx sender is also invalid the
// fill is dropped from bundleFills entirely.
func TestLoadDataUnrepayableFillOmitted(t *testing.T) {
	env := newTestEnv(t)
	d := makeDeposit(1, 100, farFuture())
	f := makeFill(d, 110, FastFill, tChainA)
	f.Relayer = nonEVMAddr("weird-relayer")
	env.spokeFx[tChainA].Deposits = []*Deposit{d}
	env.spokeFx[tChainB].Fills = []*Fill{f}
	env.spokeFx[tChainB].TxSenders[f.TxHash.String()] = nonEVMAddr("weird-sender")
	env.build()

	result := env.loadData(env.ranges(50, 200, 50, 200))

	if len(result.BundleFills) != 0 {
		t.Fatalf("unrepayable fill must be omitted, got %+v", result.BundleFills)
	}
	if len(result.ExpiredDeposits) != 0 {
		t.Fatalf("deposit is filled, not expired: %+v", result.ExpiredDeposits)
	}
}

// TestLoadDataPrefillGate: a fill before the bundle window refunds only when
// the version gate passes, and the one-shot override forces it through.
func TestLoadDataPrefillGate(t *testing.T) {
	build := func(minVersion uint32) (*testEnv, *Reconstructor) {
		env := newTestEnv(t)
		env.opts.PreFillMinVersion = minVersion
		d := makeDeposit(1, 100, farFuture())
		env.spokeFx[tChainA].Deposits = []*Deposit{d}
		env.spokeFx[tChainB].Fills = []*Fill{makeFill(d, 30, FastFill, tChainA)}
		env.build()
		return env, env.reconstructor()
	}

	env, recon := build(1)
	result, err := recon.LoadData(context.Background(), env.ranges(50, 200, 50, 200), env.spokes, false)
	if err != nil {
		t.Fatalf("loadData: %v", err)
	}
	if bucket := result.BundleFills[tChainA][tTokenA]; bucket == nil || len(bucket.Fills) != 1 {
		t.Fatalf("pre-fill should be refunded under the gate, got %+v", result.BundleFills)
	}

	env, recon = build(9)
	result, err = recon.LoadData(context.Background(), env.ranges(50, 200, 50, 200), env.spokes, false)
	if err != nil {
		t.Fatalf("loadData: %v", err)
	}
	if len(result.BundleFills) != 0 {
		t.Fatalf("pre-fill refunds must be skipped below the version gate, got %+v", result.BundleFills)
	}

	env, recon = build(9)
	recon.ForcePrefillsOnce()
	result, err = recon.LoadData(context.Background(), env.ranges(50, 200, 50, 200), env.spokes, false)
	if err != nil {
		t.Fatalf("loadData: %v", err)
	}
	if bucket := result.BundleFills[tChainA][tTokenA]; bucket == nil || len(bucket.Fills) != 1 {
		t.Fatalf("forced pre-fill refund missing, got %+v", result.BundleFills)
	}
}

// TestLoadDataSlowFillRequestEmitsLeaf: an unfilled, unexpired request for
// an eligible deposit produces a slow fill leaf with its LP fee.
func TestLoadDataSlowFillRequestEmitsLeaf(t *testing.T) {
	env := newTestEnv(t)
	d := makeDeposit(1, 100, farFuture())
	env.spokeFx[tChainA].Deposits = []*Deposit{d}
	env.spokeFx[tChainB].SlowFillRequests = []*SlowFillRequest{makeSlowRequest(d, 120)}
	env.build()

	result := env.loadData(env.ranges(50, 200, 50, 200))

	leaves := result.BundleSlowFills[tChainB][tTokenB]
	if len(leaves) != 1 {
		t.Fatalf("bundleSlowFills = %+v, want one leaf", result.BundleSlowFills)
	}
	if leaves[0].LpFeePct == nil || leaves[0].LpFeePct.Cmp(testutil.MustBig("10000000000000000")) != 0 {
		t.Fatalf("slow fill leaf lpFeePct = %v", leaves[0].LpFeePct)
	}
}

// TestLoadDataLiteChainForcesOriginRepayment verifies the lite-chain rule
// end to end.
func TestLoadDataLiteChainForcesOriginRepayment(t *testing.T) {
	env := newTestEnv(t)
	env.hubFx.GlobalConfigs = append(env.hubFx.GlobalConfigs, &UpdatedGlobalConfig{
		Key: GlobalKeyLiteChainIndices, Value: `[10]`, Timestamp: tsAt(2), EventCoord: coordAt(2, 0, "lite"),
	})
	d := makeDeposit(1, 100, farFuture())
	env.spokeFx[tChainA].Deposits = []*Deposit{d}
	env.spokeFx[tChainB].Fills = []*Fill{makeFill(d, 110, FastFill, tChainB)}
	env.build()

	result := env.loadData(env.ranges(50, 200, 50, 200))

	bucket := result.BundleFills[tChainA][tTokenA]
	if bucket == nil || len(bucket.Fills) != 1 {
		t.Fatalf("expected repayment forced to origin chain, got %+v", result.BundleFills)
	}
	if bucket.Fills[0].RepaymentChainID != tChainA {
		t.Fatalf("repaymentChainId = %d, want %d", bucket.Fills[0].RepaymentChainID, tChainA)
	}
}

// TestLoadDataDeterministic runs the same fixture through two independent
// engines and requires byte-identical serialized output.
func TestLoadDataDeterministic(t *testing.T) {
	run := func() []byte {
		env := newTestEnv(t)
		d1 := makeDeposit(1, 100, farFuture())
		d2 := makeDeposit(2, 120, tsAt(60))
		d3 := makeDeposit(3, 130, farFuture())
		env.spokeFx[tChainA].Deposits = []*Deposit{d1, d2, d3}
		env.spokeFx[tChainB].Fills = []*Fill{makeFill(d1, 110, FastFill, tChainA)}
		env.spokeFx[tChainB].SlowFillRequests = []*SlowFillRequest{makeSlowRequest(d3, 140)}
		env.build()
		raw, err := EncodeBundleBlob(env.loadData(env.ranges(50, 200, 50, 200)))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return raw
	}
	if a, b := run(), run(); !bytes.Equal(a, b) {
		t.Fatalf("two runs produced different bytes:\n%s\n%s", a, b)
	}
}

// TestLoadDataCacheReturnsDefensiveCopies mutates a returned result and
// checks the cached copy is unaffected.
func TestLoadDataCacheReturnsDefensiveCopies(t *testing.T) {
	env := newTestEnv(t)
	d := makeDeposit(1, 100, farFuture())
	env.spokeFx[tChainA].Deposits = []*Deposit{d}
	env.spokeFx[tChainB].Fills = []*Fill{makeFill(d, 110, FastFill, tChainA)}
	env.build()

	recon := env.reconstructor()
	ranges := env.ranges(50, 200, 50, 200)
	first, err := recon.LoadData(context.Background(), ranges, env.spokes, false)
	if err != nil {
		t.Fatalf("loadData: %v", err)
	}
	first.BundleFills[tChainA][tTokenA].TotalRefundAmount.SetInt64(0)
	first.BundleDeposits[tChainA][tTokenA][0].InputAmount.SetInt64(0)

	second, err := recon.LoadData(context.Background(), ranges, env.spokes, false)
	if err != nil {
		t.Fatalf("loadData: %v", err)
	}
	if second.BundleFills[tChainA][tTokenA].TotalRefundAmount.Sign() == 0 {
		t.Fatalf("cache was mutated through a returned copy")
	}
	if second.BundleDeposits[tChainA][tTokenA][0].InputAmount.Sign() == 0 {
		t.Fatalf("cached deposit was mutated through a returned copy")
	}
}

// TestLoadDataStaleSpoke rejects reconstruction when a ranged chain has no
// updated client.
func TestLoadDataStaleSpoke(t *testing.T) {
	env := newTestEnv(t)
	env.build()
	delete(env.spokes, tChainB)
	_, err := env.reconstructor().LoadData(context.Background(), env.ranges(50, 200, 50, 200), env.spokes, false)
	if !errors.Is(err, ErrStaleClient) {
		t.Fatalf("err = %v, want ErrStaleClient", err)
	}
}

// TestLoadDataInvalidRanges rejects more ranges than chains.
func TestLoadDataInvalidRanges(t *testing.T) {
	env := newTestEnv(t)
	env.build()
	ranges := append(env.ranges(50, 200, 50, 200), BlockRange{Start: 1, End: 2})
	_, err := env.reconstructor().LoadData(context.Background(), ranges, env.spokes, false)
	if !errors.Is(err, ErrInvalidBlockRange) {
		t.Fatalf("err = %v, want ErrInvalidBlockRange", err)
	}
}
