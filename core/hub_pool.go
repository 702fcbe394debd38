package core

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// HubProvider is the transport-facing surface of the hub chain.
type HubProvider interface {
	LatestBlock(ctx context.Context) (uint64, error)
	CurrentTime(ctx context.Context) (uint32, error)
	BlockTimestamp(ctx context.Context, block uint64) (uint32, error)
	ReadEvents(ctx context.Context, kind EventKind, fromBlock, toBlock uint64) ([]ChainEvent, error)
	// LiquidityUtilization returns the pool utilization for l1Token at block
	// before and after relaying amount, both 1e18 fixed point.
	LiquidityUtilization(ctx context.Context, l1Token Address, block uint64, amount *big.Int) (*big.Int, *big.Int, error)
}

// LpFeeRequest pairs a deposit with the chain the relayer is repaid on.
type LpFeeRequest struct {
	Deposit        *Deposit
	PaymentChainID ChainID
}

// HubPoolClient tracks L1-L2 token routes, proposed and executed root bundles
// and the timestamp-to-block resolver used to fix a deposit's quote block.
type HubPoolClient struct {
	chainID         ChainID
	deploymentBlock uint64
	lg              *logrus.Logger
	provider        HubProvider
	configStore     *ConfigStoreClient
	store           *EventStore

	mu                  sync.RWMutex
	proposals           []*RootBundle
	executedLeaves      []*ExecutedRootBundleLeaf
	routes              []*PoolRebalanceRoute
	tsCache             map[uint32]uint64
	currentTime         uint32
	latestBlockSearched uint64
	firstBlockToSearch  uint64
	updated             bool
}

// NewHubPoolClient creates a hub client reading through provider.
func NewHubPoolClient(chainID ChainID, deploymentBlock uint64, provider HubProvider, configStore *ConfigStoreClient, lg *logrus.Logger) *HubPoolClient {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &HubPoolClient{
		chainID:            chainID,
		deploymentBlock:    deploymentBlock,
		lg:                 lg,
		provider:           provider,
		configStore:        configStore,
		store:              NewEventStore(chainID, lg),
		tsCache:            make(map[uint32]uint64),
		firstBlockToSearch: deploymentBlock,
	}
}

// ChainID returns the hub chain id.
func (h *HubPoolClient) ChainID() ChainID { return h.chainID }

// ConfigStore exposes the config store view the hub was built with.
func (h *HubPoolClient) ConfigStore() *ConfigStoreClient { return h.configStore }

// IsUpdated reports whether Update has completed at least once.
func (h *HubPoolClient) IsUpdated() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.updated
}

// LatestBlockSearched returns the hub block state is current to.
func (h *HubPoolClient) LatestBlockSearched() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latestBlockSearched
}

// CurrentTime returns the hub's last observed header timestamp.
func (h *HubPoolClient) CurrentTime() uint32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentTime
}

// Update reads new hub events and folds them into the client state.
func (h *HubPoolClient) Update(ctx context.Context) error {
	head, err := h.provider.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("hub head: %w", err)
	}
	now, err := h.provider.CurrentTime(ctx)
	if err != nil {
		return fmt.Errorf("hub time: %w", err)
	}
	if err := h.store.SetCurrentTime(now); err != nil {
		return err
	}
	from := h.firstBlockToSearch
	if head < from {
		h.mu.Lock()
		h.updated = true
		h.mu.Unlock()
		return nil
	}
	for _, kind := range []EventKind{KindProposedRootBundle, KindExecutedRootBundle, KindPoolRebalanceRoute} {
		evs, err := h.provider.ReadEvents(ctx, kind, from, head)
		if err != nil {
			return fmt.Errorf("hub events kind %d: %w", kind, err)
		}
		h.store.AppendBatch(kind, evs)
	}
	h.store.SetSearchEndBlock(head)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.proposals = h.proposals[:0]
	for _, ev := range h.store.All(KindProposedRootBundle) {
		h.proposals = append(h.proposals, ev.(*RootBundle))
	}
	h.executedLeaves = h.executedLeaves[:0]
	for _, ev := range h.store.All(KindExecutedRootBundle) {
		h.executedLeaves = append(h.executedLeaves, ev.(*ExecutedRootBundleLeaf))
	}
	h.routes = h.routes[:0]
	for _, ev := range h.store.All(KindPoolRebalanceRoute) {
		h.routes = append(h.routes, ev.(*PoolRebalanceRoute))
	}
	h.currentTime = now
	h.latestBlockSearched = head
	h.firstBlockToSearch = head + 1
	h.updated = true
	h.lg.Debugf("hubpool: updated to block %d (%d proposals, %d routes)", head, len(h.proposals), len(h.routes))
	return nil
}

// executedLeafCountLocked counts pool-rebalance leaf executions attributable to
// proposal, i.e. after it and before the next proposal.
func (h *HubPoolClient) executedLeafCountLocked(proposal *RootBundle, nextProposalBlock uint64) uint32 {
	var n uint32
	for _, leaf := range h.executedLeaves {
		if leaf.BlockNumber > proposal.BlockNumber && leaf.BlockNumber <= nextProposalBlock {
			n++
		}
	}
	return n
}

// HasPendingProposal reports whether the latest proposal still has
// unexecuted pool-rebalance leaves.
func (h *HubPoolClient) HasPendingProposal() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.proposals)
	if n == 0 {
		return false
	}
	latest := h.proposals[n-1]
	executed := h.executedLeafCountLocked(latest, h.latestBlockSearched)
	return executed < latest.PoolRebalanceLeafCount
}

// GetLatestProposedRootBundle returns the most recent proposal.
func (h *HubPoolClient) GetLatestProposedRootBundle() (*RootBundle, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.proposals) == 0 {
		return nil, fmt.Errorf("no root bundle proposals: %w", ErrNotFound)
	}
	return h.proposals[len(h.proposals)-1], nil
}

// GetLatestFullyExecutedRootBundle returns the newest proposal before
// beforeBlock whose pool-rebalance leaves have all executed.
func (h *HubPoolClient) GetLatestFullyExecutedRootBundle(beforeBlock uint64) (*RootBundle, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.proposals) - 1; i >= 0; i-- {
		p := h.proposals[i]
		if p.BlockNumber >= beforeBlock {
			continue
		}
		next := h.latestBlockSearched
		if i+1 < len(h.proposals) {
			next = h.proposals[i+1].BlockNumber
		}
		if h.executedLeafCountLocked(p, next) >= p.PoolRebalanceLeafCount {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no fully executed root bundle before block %d: %w", beforeBlock, ErrNotFound)
}

// GetNextBundleStartBlockNumber returns the first unprocessed block for chain
// given the canonical chain list, i.e. the previous validated end block plus
// one, or zero when the chain has never been bundled.
func (h *HubPoolClient) GetNextBundleStartBlockNumber(chainList []ChainID, atBlock uint64, chain ChainID) uint64 {
	idx := -1
	for i, id := range chainList {
		if id == chain {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0
	}
	prev, err := h.GetLatestFullyExecutedRootBundle(atBlock)
	if err != nil || idx >= len(prev.BundleEvaluationBlockNumbers) {
		return 0
	}
	return prev.BundleEvaluationBlockNumbers[idx] + 1
}

// BlockNumberForTimestamp resolves the greatest hub block whose header
// timestamp does not exceed ts, by monotonic binary search cached per
// timestamp.
func (h *HubPoolClient) BlockNumberForTimestamp(ctx context.Context, ts uint32) (uint64, error) {
	h.mu.RLock()
	cached, ok := h.tsCache[ts]
	hi := h.latestBlockSearched
	h.mu.RUnlock()
	if ok {
		return cached, nil
	}
	lo := h.deploymentBlock
	if hi < lo {
		hi = lo
	}
	// Invariant: timestamp(lo) <= ts < timestamp(hi+1); shrink to a block.
	loTS, err := h.provider.BlockTimestamp(ctx, lo)
	if err != nil {
		return 0, fmt.Errorf("hub timestamp at %d: %w", lo, err)
	}
	if ts < loTS {
		return 0, fmt.Errorf("timestamp %d precedes hub deployment: %w", ts, ErrNotFound)
	}
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		midTS, err := h.provider.BlockTimestamp(ctx, mid)
		if err != nil {
			return 0, fmt.Errorf("hub timestamp at %d: %w", mid, err)
		}
		if midTS <= ts {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	h.mu.Lock()
	h.tsCache[ts] = lo
	h.mu.Unlock()
	return lo, nil
}

// routeAtBlockLocked returns the latest route entry at or before atBlock
// matching pred.
func (h *HubPoolClient) routeAtBlockLocked(atBlock uint64, pred func(*PoolRebalanceRoute) bool) *PoolRebalanceRoute {
	var out *PoolRebalanceRoute
	for _, r := range h.routes {
		if r.BlockNumber <= atBlock && pred(r) {
			out = r
		}
	}
	return out
}

// L2TokenForL1Token maps an L1 token to its pool-rebalance counterpart on
// chain as of atBlock.
func (h *HubPoolClient) L2TokenForL1Token(l1Token Address, chain ChainID, atBlock uint64) (Address, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r := h.routeAtBlockLocked(atBlock, func(r *PoolRebalanceRoute) bool {
		return r.DestinationChainID == chain && r.L1Token == l1Token
	})
	if r == nil {
		return Address{}, false
	}
	return r.DestinationToken, true
}

// L1TokenForL2Token is the inverse mapping.
func (h *HubPoolClient) L1TokenForL2Token(l2Token Address, chain ChainID, atBlock uint64) (Address, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r := h.routeAtBlockLocked(atBlock, func(r *PoolRebalanceRoute) bool {
		return r.DestinationChainID == chain && r.DestinationToken == l2Token
	})
	if r == nil {
		return Address{}, false
	}
	return r.L1Token, true
}

// HasRouteForChain reports whether any pool-rebalance route exists to chain
// for the L1 token backing the given origin-chain input token, as of atBlock.
func (h *HubPoolClient) HasRouteForChain(inputToken Address, origin, repayment ChainID, quoteBlock, atBlock uint64) bool {
	l1, ok := h.L1TokenForL2Token(inputToken, origin, quoteBlock)
	if !ok {
		if origin != h.chainID || inputToken == (Address{}) {
			return false
		}
		l1 = inputToken
	}
	_, ok = h.L2TokenForL1Token(l1, repayment, atBlock)
	if !ok && repayment == h.chainID {
		// Repayment on the hub itself needs no outbound route.
		ok = true
	}
	return ok
}

// AreTokensEquivalent reports whether two spoke tokens map to the same L1
// token as of atBlock.
func (h *HubPoolClient) AreTokensEquivalent(inputToken Address, origin ChainID, outputToken Address, destination ChainID, atBlock uint64) bool {
	l1In, okIn := h.L1TokenForL2Token(inputToken, origin, atBlock)
	l1Out, okOut := h.L1TokenForL2Token(outputToken, destination, atBlock)
	return okIn && okOut && l1In == l1Out
}

// L2TokenForDeposit resolves the destination-chain token a deposit pays out
// in, used when the on-chain output token is the zero address.
func (h *HubPoolClient) L2TokenForDeposit(d *Deposit) (Address, error) {
	l1, ok := h.L1TokenForL2Token(d.InputToken, d.OriginChainID, d.QuoteBlockNumber)
	if !ok {
		return Address{}, fmt.Errorf("deposit %s input token %s: %w", d.DepositID, d.InputToken, ErrMissingRoute)
	}
	l2, ok := h.L2TokenForL1Token(l1, d.DestinationChainID, d.QuoteBlockNumber)
	if !ok {
		return Address{}, fmt.Errorf("deposit %s l1 token %s on chain %d: %w", d.DepositID, l1, d.DestinationChainID, ErrMissingRoute)
	}
	return l2, nil
}

// L1TokenForDeposit resolves the hub-side token backing a deposit at its
// quote block.
func (h *HubPoolClient) L1TokenForDeposit(d *Deposit) (Address, error) {
	l1, ok := h.L1TokenForL2Token(d.InputToken, d.OriginChainID, d.QuoteBlockNumber)
	if !ok {
		return Address{}, fmt.Errorf("deposit %s input token %s: %w", d.DepositID, d.InputToken, ErrMissingRoute)
	}
	return l1, nil
}

type lpFeeKey struct {
	token      Address
	quoteBlock uint64
	amount     string
	payment    ChainID
	origin     ChainID
}

// BatchComputeRealizedLpFeePct computes the 1e18 LP fee fraction for each
// request at its deposit's quote block. The computation is referentially
// transparent with respect to the rate-model state at that block, so repeat
// requests are served from a per-batch memo.
func (h *HubPoolClient) BatchComputeRealizedLpFeePct(ctx context.Context, reqs []LpFeeRequest) ([]*big.Int, error) {
	out := make([]*big.Int, len(reqs))
	memo := make(map[lpFeeKey]*big.Int)
	for i, req := range reqs {
		d := req.Deposit
		if d.OriginChainID == req.PaymentChainID && d.FromLiteChain {
			// Lite-chain deposits repay on origin without touching the pool.
			out[i] = new(big.Int)
			continue
		}
		l1, err := h.L1TokenForDeposit(d)
		if err != nil {
			return nil, err
		}
		key := lpFeeKey{token: l1, quoteBlock: d.QuoteBlockNumber, amount: orZero(d.InputAmount).String(), payment: req.PaymentChainID, origin: d.OriginChainID}
		if pct, ok := memo[key]; ok {
			out[i] = new(big.Int).Set(pct)
			continue
		}
		model, err := h.configStore.RateModel(l1, d.OriginChainID, req.PaymentChainID, d.QuoteBlockNumber)
		if err != nil {
			return nil, fmt.Errorf("rate model for %s: %w", l1, err)
		}
		utilBefore, utilAfter, err := h.provider.LiquidityUtilization(ctx, l1, d.QuoteBlockNumber, orZero(d.InputAmount))
		if err != nil {
			return nil, fmt.Errorf("utilization for %s at %d: %w", l1, d.QuoteBlockNumber, err)
		}
		pct, err := CalculateRealizedLpFeePct(model, utilBefore, utilAfter)
		if err != nil {
			return nil, err
		}
		memo[key] = pct
		out[i] = new(big.Int).Set(pct)
	}
	return out, nil
}

// ProposalsInRange returns proposals within [fromBlock, toBlock], oldest
// first.
func (h *HubPoolClient) ProposalsInRange(fromBlock, toBlock uint64) []*RootBundle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*RootBundle
	for _, p := range h.proposals {
		if p.BlockNumber >= fromBlock && p.BlockNumber <= toBlock {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j].EventCoord) })
	return out
}
