package core

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"interlink-network/internal/testutil"
)

// TestSpokeClientDuplicateDepositClassification: a repeated relay hash is a
// duplicate deposit, an identical log is dropped.
func TestSpokeClientDuplicateDepositClassification(t *testing.T) {
	env := newTestEnv(t)
	d1 := makeDeposit(1, 100, farFuture())
	d2 := makeDeposit(1, 101, farFuture())
	exact := *d1 // same coordinates and payload
	env.spokeFx[tChainA].Deposits = []*Deposit{d1, d2, &exact}
	env.build()

	spoke := env.spokes[tChainA]
	hash := d1.Hash()
	if got := spoke.DepositsForHash(hash); len(got) != 2 {
		t.Fatalf("deposits for hash = %d, want 2 (exact duplicate dropped)", len(got))
	}
	if got := spoke.DuplicateDeposits(hash); len(got) != 1 || got[0].BlockNumber != 101 {
		t.Fatalf("duplicates = %+v, want the block-101 deposit", got)
	}
	if got := spoke.DepositsForDestination(tChainB, tLatest); len(got) != 2 {
		t.Fatalf("deposits for destination = %d, want 2", len(got))
	}
}

// TestSpokeClientSpeedUpLowestWins applies only the lowest signed update and
// only when it undercuts the deposit.
func TestSpokeClientSpeedUpLowestWins(t *testing.T) {
	env := newTestEnv(t)
	d := makeDeposit(1, 100, farFuture())
	mkSpeedUp := func(amount *big.Int, logIndex uint32) *SpeedUp {
		return &SpeedUp{
			Depositor:           d.Depositor,
			DepositID:           d.DepositID,
			UpdatedOutputAmount: amount,
			UpdatedRecipient:    tRecipient,
			DepositorSignature:  testutil.DeterministicBytes("sig", 65),
			OriginChainID:       tChainA,
			EventCoord:          coordAt(120, logIndex, "speedup"),
		}
	}
	env.spokeFx[tChainA].Deposits = []*Deposit{d}
	env.spokeFx[tChainA].SpeedUps = []*SpeedUp{
		mkSpeedUp(testutil.Ether(98), 0),
		mkSpeedUp(testutil.Ether(97), 1),
		mkSpeedUp(testutil.Ether(120), 2),
	}
	env.build()

	got := env.spokes[tChainA].DepositsForDestination(tChainB, tLatest)[0]
	if got.UpdatedOutputAmount == nil || got.UpdatedOutputAmount.Cmp(testutil.Ether(97)) != 0 {
		t.Fatalf("updatedOutputAmount = %v, want 97e18", got.UpdatedOutputAmount)
	}
	if len(got.SpeedUpSignature) == 0 {
		t.Fatalf("speed-up signature not applied")
	}
}

// TestSpokeClientSpeedUpAboveOutputIgnored leaves the deposit untouched when
// no speed-up undercuts it.
func TestSpokeClientSpeedUpAboveOutputIgnored(t *testing.T) {
	env := newTestEnv(t)
	d := makeDeposit(1, 100, farFuture())
	env.spokeFx[tChainA].Deposits = []*Deposit{d}
	env.spokeFx[tChainA].SpeedUps = []*SpeedUp{{
		Depositor:           d.Depositor,
		DepositID:           d.DepositID,
		UpdatedOutputAmount: testutil.Ether(99), // equal, not lower
		DepositorSignature:  testutil.DeterministicBytes("sig", 65),
		OriginChainID:       tChainA,
		EventCoord:          coordAt(120, 0, "speedup-eq"),
	}}
	env.build()

	got := env.spokes[tChainA].DepositsForDestination(tChainB, tLatest)[0]
	if got.UpdatedOutputAmount != nil {
		t.Fatalf("equal-amount speed-up must be ignored, got %v", got.UpdatedOutputAmount)
	}
}

// TestSpokeClientZeroOutputTokenSubstituted resolves the hub-mapped token.
func TestSpokeClientZeroOutputTokenSubstituted(t *testing.T) {
	env := newTestEnv(t)
	d := makeDeposit(1, 100, farFuture())
	d.OutputToken = ZeroAddress
	env.spokeFx[tChainA].Deposits = []*Deposit{d}
	env.build()

	got := env.spokes[tChainA].DepositsForDestination(tChainB, tLatest)[0]
	if got.OutputToken != tTokenB {
		t.Fatalf("outputToken = %s, want hub-mapped %s", got.OutputToken, tTokenB)
	}
	if got.QuoteBlockNumber != 90 {
		t.Fatalf("quoteBlockNumber = %d, want 90", got.QuoteBlockNumber)
	}
}

// TestSpokeClientFindDepositBinarySearch locates a deposit outside the
// client's searched window through the deposit counter.
func TestSpokeClientFindDepositBinarySearch(t *testing.T) {
	env := newTestEnv(t)
	d := makeDeposit(0, 200, farFuture())
	env.spokeFx[tChainA].Deposits = []*Deposit{d}
	env.spokeFx[tChainA].NumberOfDeposits = map[string]uint64{"0": 0, "200": 1}
	env.build()

	spoke := env.spokes[tChainA]
	// Simulate a client whose lookback starts after the deposit.
	fresh := NewSpokeClient(tChainA, 0, spoke.Provider(), env.hub, env.configStore, nil)
	fresh.firstBlockToSearch = 400
	if err := fresh.Update(context.Background()); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := fresh.DepositsForDestination(tChainB, tLatest); len(got) != 0 {
		t.Fatalf("deposit should be outside the searched window, got %+v", got)
	}

	found, err := fresh.FindDeposit(context.Background(), big.NewInt(0))
	if err != nil {
		t.Fatalf("findDeposit: %v", err)
	}
	if found.BlockNumber != 200 || found.QuoteBlockNumber != 90 {
		t.Fatalf("found = %+v, want the enriched block-200 deposit", found)
	}
}

// TestSpokeClientFindDepositUnsafeID refuses the counter search for ids
// beyond 32 bits.
func TestSpokeClientFindDepositUnsafeID(t *testing.T) {
	env := newTestEnv(t)
	env.build()
	unsafe := new(big.Int).Lsh(big.NewInt(1), 40)
	_, err := env.spokes[tChainA].FindDeposit(context.Background(), unsafe)
	if !errors.Is(err, ErrDepositNotFound) {
		t.Fatalf("err = %v, want ErrDepositNotFound", err)
	}
}

// TestSpokeClientTimeRegression surfaces a chain reporting an earlier
// current time.
func TestSpokeClientTimeRegression(t *testing.T) {
	env := newTestEnv(t)
	env.build()
	env.spokeFx[tChainA].CurrentTime = tsAt(10)
	err := env.spokes[tChainA].Update(context.Background())
	if !errors.Is(err, ErrChainTimeRegression) {
		t.Fatalf("err = %v, want ErrChainTimeRegression", err)
	}
}

// TestSpokeClientAuxTables ingests the supporting event tables.
func TestSpokeClientAuxTables(t *testing.T) {
	env := newTestEnv(t)
	fx := env.spokeFx[tChainA]
	fx.RootBundleRelays = []*RelayedRootBundle{{
		RootBundleID:      3,
		RelayerRefundRoot: txh("refund-root"),
		SlowRelayRoot:     txh("slow-root"),
		EventCoord:        coordAt(150, 0, "relayed-bundle"),
	}}
	fx.RefundExecutions = []*RelayerRefundExecution{{
		RootBundleID:    3,
		LeafID:          0,
		L2Token:         tTokenA,
		AmountToReturn:  testutil.Ether(5),
		RefundAddresses: []Address{tRelayer},
		RefundAmounts:   []*big.Int{testutil.Ether(5)},
		EventCoord:      coordAt(160, 0, "refund-exec"),
	}}
	fx.TokensBridged = []*TokensBridged{{
		L2Token:    tTokenA,
		Amount:     testutil.Ether(7),
		ChainID:    tChainA,
		EventCoord: coordAt(170, 0, "tokens-bridged"),
	}}
	fx.EnabledRoutes = []*EnabledDepositRoute{{
		OriginToken:        tTokenA,
		DestinationChainID: tChainB,
		Enabled:            true,
		EventCoord:         coordAt(10, 0, "enable-route"),
	}}
	env.build()

	spoke := env.spokes[tChainA]
	if got := spoke.RootBundleRelays(); len(got) != 1 || got[0].RootBundleID != 3 {
		t.Fatalf("rootBundleRelays = %+v", got)
	}
	if got := spoke.RelayerRefundExecutions(); len(got) != 1 || got[0].L2Token != tTokenA {
		t.Fatalf("refundExecutions = %+v", got)
	}
	if got := spoke.TokensBridgedEvents(); len(got) != 1 || got[0].Amount.Cmp(testutil.Ether(7)) != 0 {
		t.Fatalf("tokensBridged = %+v", got)
	}
	if got := spoke.EnabledDepositRoutes(); len(got) != 1 || !got[0].Enabled {
		t.Fatalf("enabledRoutes = %+v", got)
	}
}
