package core

import (
	"context"
	"math/big"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"interlink-network/internal/testutil"
)

// Test topology: hub chain 1, origin spoke 10, destination spoke 42161. All
// chains share a 10 second block time starting at t0 so timestamps are easy
// to reason about.
const (
	tHub    ChainID = 1
	tChainA ChainID = 10
	tChainB ChainID = 42161

	t0         uint32 = 1_700_000_000
	tBlockTime uint32 = 10
	tLatest    uint64 = 1000
)

var (
	tL1Token   = evmAddr("l1-token")
	tTokenA    = evmAddr("token-a")
	tTokenB    = evmAddr("token-b")
	tDepositor = evmAddr("depositor")
	tRecipient = evmAddr("recipient")
	tRelayer   = evmAddr("relayer")
)

func evmAddr(seed string) Address {
	a, err := AddressFromBytes(testutil.DeterministicBytes(seed, 20))
	if err != nil {
		panic(err)
	}
	return a
}

func nonEVMAddr(seed string) Address {
	raw := testutil.DeterministicBytes(seed, 32)
	raw[0] |= 0x01
	a, err := AddressFromBytes(raw)
	if err != nil {
		panic(err)
	}
	return a
}

func txh(seed string) Hash {
	var h Hash
	copy(h[:], testutil.DeterministicBytes(seed, 32))
	return h
}

func tsAt(block uint64) uint32 { return t0 + uint32(block)*tBlockTime }

func fullTimestamps(latest uint64) map[string]uint32 {
	out := make(map[string]uint32, latest+1)
	for b := uint64(0); b <= latest; b++ {
		out[strconv.FormatUint(b, 10)] = tsAt(b)
	}
	return out
}

func coordAt(block uint64, logIndex uint32, txSeed string) EventCoord {
	return EventCoord{BlockNumber: block, TxIndex: 0, LogIndex: logIndex, TxHash: txh(txSeed)}
}

// testRateModelJSON charges a flat 1% at zero utilization (R0 = 1e16).
const testRateModelJSON = `{"rateModel":{"UBar":"750000000000000000","R0":"10000000000000000","R1":"0","R2":"0"}}`

type testEnv struct {
	t           *testing.T
	hubFx       *ReplayFixture
	spokeFx     map[ChainID]*ReplayFixture
	configStore *ConfigStoreClient
	hub         *HubPoolClient
	spokes      map[ChainID]*SpokeClient
	providers   map[ChainID]SpokeProvider
	chainList   []ChainID
	opts        ReconstructorConfig
}

func newTestEnv(t *testing.T) *testEnv {
	hubFx := &ReplayFixture{
		ChainID:     tHub,
		LatestBlock: tLatest,
		CurrentTime: tsAt(tLatest),
		Timestamps:  fullTimestamps(tLatest),
		Routes: []*PoolRebalanceRoute{
			{DestinationChainID: tChainA, L1Token: tL1Token, DestinationToken: tTokenA, EventCoord: coordAt(1, 0, "route-a")},
			{DestinationChainID: tChainB, L1Token: tL1Token, DestinationToken: tTokenB, EventCoord: coordAt(1, 1, "route-b")},
		},
		GlobalConfigs: []*UpdatedGlobalConfig{
			{Key: GlobalKeyVersion, Value: "1", Timestamp: tsAt(1), EventCoord: coordAt(1, 2, "version-1")},
		},
		TokenConfigs: []*UpdatedTokenConfig{
			{Token: tL1Token, Value: testRateModelJSON, Timestamp: tsAt(1), EventCoord: coordAt(1, 3, "token-config")},
		},
	}
	env := &testEnv{
		t:       t,
		hubFx:   hubFx,
		spokeFx: make(map[ChainID]*ReplayFixture),
		opts:    ReconstructorConfig{PreFillMinVersion: 1},
	}
	for _, chain := range []ChainID{tChainA, tChainB} {
		env.spokeFx[chain] = &ReplayFixture{
			ChainID:     chain,
			LatestBlock: tLatest,
			CurrentTime: tsAt(tLatest),
			Timestamps:  fullTimestamps(tLatest),
			TxSenders:   make(map[string]Address),
		}
	}
	env.chainList = []ChainID{tHub, tChainA, tChainB}
	return env
}

// build updates every client against the fixtures.
func (e *testEnv) build() {
	e.t.Helper()
	ctx := context.Background()
	lg := logrus.New()

	e.configStore = NewConfigStoreClient(lg, 12*time.Second)
	e.configStore.Update(e.hubFx.GlobalConfigs, e.hubFx.TokenConfigs, e.hubFx.LatestBlock)

	e.hub = NewHubPoolClient(tHub, 0, NewReplayProvider(e.hubFx), e.configStore, lg)
	if err := e.hub.Update(ctx); err != nil {
		e.t.Fatalf("hub update: %v", err)
	}

	e.spokes = make(map[ChainID]*SpokeClient)
	e.providers = make(map[ChainID]SpokeProvider)
	for chain, fx := range e.spokeFx {
		provider := NewReplayProvider(fx)
		spoke := NewSpokeClient(chain, 0, provider, e.hub, e.configStore, lg)
		if err := spoke.Update(ctx); err != nil {
			e.t.Fatalf("spoke %d update: %v", chain, err)
		}
		e.spokes[chain] = spoke
		e.providers[chain] = provider
	}
}

func (e *testEnv) reconstructor() *Reconstructor {
	verifier := NewRepaymentVerifier(e.hub, e.providers, nil)
	return NewReconstructor(e.hub, verifier, e.chainList, e.opts, nil, nil)
}

// ranges builds [hub empty, A, B] block ranges.
func (e *testEnv) ranges(aStart, aEnd, bStart, bEnd uint64) []BlockRange {
	return []BlockRange{
		{Start: tLatest, End: tLatest},
		{Start: aStart, End: aEnd},
		{Start: bStart, End: bEnd},
	}
}

func (e *testEnv) loadData(ranges []BlockRange) *LoadDataResult {
	e.t.Helper()
	result, err := e.reconstructor().LoadData(context.Background(), ranges, e.spokes, false)
	if err != nil {
		e.t.Fatalf("loadData: %v", err)
	}
	return result
}

// makeDeposit builds a deposit from A to B for 100 tokens with a 1e18-scaled
// output of 99.
func makeDeposit(id int64, block uint64, fillDeadline uint32) *Deposit {
	return &Deposit{
		RelayData: RelayData{
			Depositor:     tDepositor,
			Recipient:     tRecipient,
			InputToken:    tTokenA,
			OutputToken:   tTokenB,
			InputAmount:   testutil.Ether(100),
			OutputAmount:  testutil.Ether(99),
			OriginChainID: tChainA,
			DepositID:     big.NewInt(id),
			FillDeadline:  fillDeadline,
		},
		DestinationChainID: tChainB,
		QuoteTimestamp:     tsAt(90),
		EventCoord:         coordAt(block, 0, "deposit-"+strconv.FormatInt(id, 10)+"-"+strconv.FormatUint(block, 10)),
	}
}

// makeFill satisfies d on chain B.
func makeFill(d *Deposit, block uint64, fillType FillType, repayment ChainID) *Fill {
	return &Fill{
		RelayData:          d.RelayData,
		DestinationChainID: d.DestinationChainID,
		Relayer:            tRelayer,
		RepaymentChainID:   repayment,
		ExecutionInfo: RelayExecutionInfo{
			UpdatedRecipient:    d.Recipient,
			UpdatedOutputAmount: d.OutputAmount,
			FillType:            fillType,
		},
		EventCoord: coordAt(block, 1, "fill-"+d.DepositID.String()+"-"+strconv.FormatUint(block, 10)),
	}
}

// makeSlowRequest asks for a slow fill of d on chain B.
func makeSlowRequest(d *Deposit, block uint64) *SlowFillRequest {
	return &SlowFillRequest{
		RelayData:          d.RelayData,
		DestinationChainID: d.DestinationChainID,
		EventCoord:         coordAt(block, 2, "slowreq-"+d.DepositID.String()+"-"+strconv.FormatUint(block, 10)),
	}
}

// onePercentFeeOn returns the flat test LP fee for amount.
func onePercentFeeOn(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, testutil.MustBig("10000000000000000"))
	return fee.Quo(fee, FixedPoint())
}
