package core

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultMaxBinarySearchProbes bounds the deposit-count probes issued by
// FindDeposit before falling back to a single range log query.
const DefaultMaxBinarySearchProbes = 7

// defaultUpdateKinds are the event tables refreshed when Update is called
// with no explicit kinds.
var defaultUpdateKinds = []EventKind{
	KindDeposit,
	KindFill,
	KindSlowFillRequest,
	KindSpeedUp,
	KindRelayedRootBundle,
	KindRelayerRefundExecution,
	KindTokensBridged,
	KindEnabledDepositRoute,
}

// SpokeClient is the per-spoke event reader. It owns the chain's event
// tables; everything else borrows read-only snapshots.
type SpokeClient struct {
	chainID         ChainID
	deploymentBlock uint64
	lg              *logrus.Logger
	provider        SpokeProvider
	hub             HubView
	config          ConfigView
	store           *EventStore
	maxProbes       int

	mu                     sync.RWMutex
	firstBlockToSearch     uint64
	latestBlockSearched    uint64
	toBlockOverride        uint64
	depositHashes          map[Hash][]*Deposit
	duplicateDepositHashes map[Hash][]*Deposit
	depositsByID           map[string]*Deposit
	depositsByDestination  map[ChainID][]*Deposit
	fillsByHash            map[Hash]*Fill
	fillsByOrigin          map[ChainID][]*Fill
	slowFillRequests       map[Hash]*SlowFillRequest
	slowFillRequestsList   []*SlowFillRequest
	speedUps               map[Address]map[string][]*SpeedUp
	rootBundleRelays       []*RelayedRootBundle
	refundExecutions       []*RelayerRefundExecution
	tokensBridged          []*TokensBridged
	enabledRoutes          []*EnabledDepositRoute
	earliestDepositID      *big.Int
	latestDepositID        *big.Int
	currentTime            uint32
	updated                bool
}

// NewSpokeClient creates a client for one spoke chain.
func NewSpokeClient(chainID ChainID, deploymentBlock uint64, provider SpokeProvider, hub HubView, config ConfigView, lg *logrus.Logger) *SpokeClient {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &SpokeClient{
		chainID:                chainID,
		deploymentBlock:        deploymentBlock,
		lg:                     lg,
		provider:               provider,
		hub:                    hub,
		config:                 config,
		store:                  NewEventStore(chainID, lg),
		maxProbes:              DefaultMaxBinarySearchProbes,
		firstBlockToSearch:     deploymentBlock,
		depositHashes:          make(map[Hash][]*Deposit),
		duplicateDepositHashes: make(map[Hash][]*Deposit),
		depositsByID:           make(map[string]*Deposit),
		depositsByDestination:  make(map[ChainID][]*Deposit),
		fillsByHash:            make(map[Hash]*Fill),
		fillsByOrigin:          make(map[ChainID][]*Fill),
		slowFillRequests:       make(map[Hash]*SlowFillRequest),
		speedUps:               make(map[Address]map[string][]*SpeedUp),
	}
}

// SetMaxBinarySearchProbes overrides the FindDeposit probe budget.
func (c *SpokeClient) SetMaxBinarySearchProbes(n int) {
	if n > 0 {
		c.maxProbes = n
	}
}

// SetToBlockOverride caps the next Update at block. Cleared after one use.
func (c *SpokeClient) SetToBlockOverride(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toBlockOverride = block
}

// ChainID returns the spoke chain id.
func (c *SpokeClient) ChainID() ChainID { return c.chainID }

// DeploymentBlock returns the spoke contract deployment block.
func (c *SpokeClient) DeploymentBlock() uint64 { return c.deploymentBlock }

// IsUpdated reports whether Update has completed at least once.
func (c *SpokeClient) IsUpdated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}

// LatestBlockSearched returns the block the tables are current to.
func (c *SpokeClient) LatestBlockSearched() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latestBlockSearched
}

// CurrentTime returns the spoke's last observed header timestamp.
func (c *SpokeClient) CurrentTime() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentTime
}

// BlockTimestamp returns the header timestamp at block, consulting the local
// store first and the provider for blocks not yet cached.
func (c *SpokeClient) BlockTimestamp(ctx context.Context, block uint64) (uint32, error) {
	if ts, err := c.store.BlockTimestamp(block); err == nil {
		return ts, nil
	}
	ts, err := c.provider.BlockTimestamp(ctx, block)
	if err != nil {
		return 0, fmt.Errorf("chain %d timestamp at %d: %w", c.chainID, block, err)
	}
	c.store.SetBlockTimestamp(block, ts)
	return ts, nil
}

// Update refreshes the requested event tables (all of them by default). Reads
// are issued in parallel per kind; results are folded in deterministic order.
func (c *SpokeClient) Update(ctx context.Context, kinds ...EventKind) error {
	if len(kinds) == 0 {
		kinds = defaultUpdateKinds
	}
	head, err := c.provider.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("chain %d head: %w", c.chainID, err)
	}
	now, err := c.provider.CurrentTime(ctx)
	if err != nil {
		return fmt.Errorf("chain %d time: %w", c.chainID, err)
	}
	if err := c.store.SetCurrentTime(now); err != nil {
		return err
	}

	c.mu.Lock()
	from := c.firstBlockToSearch
	to := head
	if c.toBlockOverride != 0 && c.toBlockOverride < to {
		to = c.toBlockOverride
	}
	c.mu.Unlock()
	if to < from {
		c.mu.Lock()
		c.currentTime = now
		c.updated = true
		c.mu.Unlock()
		return nil
	}

	results := make([][]ChainEvent, len(kinds))
	errs := make([]error, len(kinds))
	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind EventKind) {
			defer wg.Done()
			results[i], errs[i] = c.provider.ReadEvents(ctx, kind, from, to)
		}(i, kind)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("chain %d events kind %d: %w", c.chainID, kinds[i], err)
		}
	}

	for i, kind := range kinds {
		// The store re-sorts, so out-of-order transport results are fine.
		c.store.AppendBatch(kind, results[i])
		metricEventsIngested.WithLabelValues(fmt.Sprint(c.chainID), fmt.Sprint(kind)).Add(float64(len(results[i])))
	}
	c.store.SetSearchEndBlock(to)

	if err := c.rebuildIndexes(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.firstBlockToSearch = to + 1
	c.latestBlockSearched = to
	c.toBlockOverride = 0
	c.currentTime = now
	c.updated = true
	c.mu.Unlock()
	c.lg.Debugf("spoke %d: updated to block %d", c.chainID, to)
	return nil
}

// rebuildIndexes folds the stored events into the derived tables. Events are
// replayed in full; the derived maps are cheap relative to I/O and rebuilding
// keeps duplicate classification deterministic.
func (c *SpokeClient) rebuildIndexes(ctx context.Context) error {
	deposits := c.store.All(KindDeposit)
	enriched := make([]*Deposit, 0, len(deposits))
	for _, ev := range deposits {
		d := ev.(*Deposit)
		if err := c.enrichDeposit(ctx, d); err != nil {
			return err
		}
		enriched = append(enriched, d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.depositHashes = make(map[Hash][]*Deposit)
	c.duplicateDepositHashes = make(map[Hash][]*Deposit)
	c.depositsByID = make(map[string]*Deposit)
	c.depositsByDestination = make(map[ChainID][]*Deposit)
	c.earliestDepositID, c.latestDepositID = nil, nil
	for _, d := range enriched {
		hash := d.Hash()
		if prior := c.depositHashes[hash]; len(prior) > 0 {
			c.duplicateDepositHashes[hash] = append(c.duplicateDepositHashes[hash], d)
		}
		c.depositHashes[hash] = append(c.depositHashes[hash], d)
		c.depositsByDestination[d.DestinationChainID] = append(c.depositsByDestination[d.DestinationChainID], d)
		idKey := d.DepositID.String()
		if _, ok := c.depositsByID[idKey]; !ok {
			c.depositsByID[idKey] = d
		}
		if !IsUnsafeDepositID(d.DepositID) {
			if c.earliestDepositID == nil || d.DepositID.Cmp(c.earliestDepositID) < 0 {
				c.earliestDepositID = d.DepositID
			}
			if c.latestDepositID == nil || d.DepositID.Cmp(c.latestDepositID) > 0 {
				c.latestDepositID = d.DepositID
			}
		}
	}

	// Apply speed-ups: per deposit, only the single lowest updated output
	// amount counts, and only when strictly below the current amount.
	c.speedUps = make(map[Address]map[string][]*SpeedUp)
	for _, ev := range c.store.All(KindSpeedUp) {
		su := ev.(*SpeedUp)
		byID, ok := c.speedUps[su.Depositor]
		if !ok {
			byID = make(map[string][]*SpeedUp)
			c.speedUps[su.Depositor] = byID
		}
		byID[su.DepositID.String()] = append(byID[su.DepositID.String()], su)
	}
	for _, d := range enriched {
		candidates := c.speedUps[d.Depositor][d.DepositID.String()]
		var best *SpeedUp
		for _, su := range candidates {
			if len(su.DepositorSignature) == 0 {
				continue
			}
			if best == nil || su.UpdatedOutputAmount.Cmp(best.UpdatedOutputAmount) < 0 {
				best = su
			}
		}
		if best != nil && best.UpdatedOutputAmount.Cmp(d.OutputAmount) < 0 {
			d.SpeedUpSignature = best.DepositorSignature
			d.UpdatedOutputAmount = best.UpdatedOutputAmount
			d.UpdatedRecipient = best.UpdatedRecipient
			d.UpdatedMessage = best.UpdatedMessage
		}
	}

	c.fillsByHash = make(map[Hash]*Fill)
	c.fillsByOrigin = make(map[ChainID][]*Fill)
	for _, ev := range c.store.All(KindFill) {
		f := ev.(*Fill)
		if f.MessageHash == (Hash{}) {
			f.MessageHash = HashMessage(f.Message)
		}
		hash := f.Hash()
		if prior, ok := c.fillsByHash[hash]; ok && prior.Compare(f.EventCoord) != 0 {
			// A relay fills at most once on chain; a second distinct fill is
			// an upstream fault. Keep the first, log the rest.
			c.lg.Errorf("spoke %d: duplicate fill for relay hash %s at block %d", c.chainID, hash, f.BlockNumber)
			continue
		}
		c.fillsByHash[hash] = f
		c.fillsByOrigin[f.OriginChainID] = append(c.fillsByOrigin[f.OriginChainID], f)
	}

	c.slowFillRequests = make(map[Hash]*SlowFillRequest)
	c.slowFillRequestsList = c.slowFillRequestsList[:0]
	for _, ev := range c.store.All(KindSlowFillRequest) {
		r := ev.(*SlowFillRequest)
		if r.MessageHash == (Hash{}) {
			r.MessageHash = HashMessage(r.Message)
		}
		hash := r.Hash()
		if prior, ok := c.slowFillRequests[hash]; ok && prior.Compare(r.EventCoord) != 0 {
			c.lg.Errorf("spoke %d: duplicate slow fill request for relay hash %s at block %d", c.chainID, hash, r.BlockNumber)
			continue
		}
		c.slowFillRequests[hash] = r
		c.slowFillRequestsList = append(c.slowFillRequestsList, r)
	}

	c.rootBundleRelays = c.rootBundleRelays[:0]
	for _, ev := range c.store.All(KindRelayedRootBundle) {
		c.rootBundleRelays = append(c.rootBundleRelays, ev.(*RelayedRootBundle))
	}
	c.refundExecutions = c.refundExecutions[:0]
	for _, ev := range c.store.All(KindRelayerRefundExecution) {
		c.refundExecutions = append(c.refundExecutions, ev.(*RelayerRefundExecution))
	}
	c.tokensBridged = c.tokensBridged[:0]
	for _, ev := range c.store.All(KindTokensBridged) {
		c.tokensBridged = append(c.tokensBridged, ev.(*TokensBridged))
	}
	c.enabledRoutes = c.enabledRoutes[:0]
	for _, ev := range c.store.All(KindEnabledDepositRoute) {
		c.enabledRoutes = append(c.enabledRoutes, ev.(*EnabledDepositRoute))
	}
	return nil
}

// enrichDeposit resolves the quote block, substitutes a zero output token
// with the hub-mapped token and stamps the lite-chain flags. Idempotent; a
// deposit's quote block never decreases as new events arrive.
func (c *SpokeClient) enrichDeposit(ctx context.Context, d *Deposit) error {
	if d.MessageHash == (Hash{}) {
		d.MessageHash = HashMessage(d.Message)
	}
	if d.QuoteBlockNumber == 0 {
		qb, err := c.hub.BlockNumberForTimestamp(ctx, d.QuoteTimestamp)
		if err != nil {
			return fmt.Errorf("deposit %s quote block: %w", d.DepositID, err)
		}
		d.QuoteBlockNumber = qb
	}
	if d.OutputToken.IsZero() {
		l1, ok := c.hub.L1TokenForL2Token(d.InputToken, d.OriginChainID, d.QuoteBlockNumber)
		if !ok {
			return fmt.Errorf("deposit %s input token %s: %w", d.DepositID, d.InputToken, ErrMissingRoute)
		}
		l2, ok := c.hub.L2TokenForL1Token(l1, d.DestinationChainID, d.QuoteBlockNumber)
		if !ok {
			return fmt.Errorf("deposit %s destination token for %s: %w", d.DepositID, l1, ErrMissingRoute)
		}
		d.OutputToken = l2
	}
	d.FromLiteChain = c.config.IsChainLiteAtTimestamp(d.OriginChainID, d.QuoteTimestamp)
	d.ToLiteChain = c.config.IsChainLiteAtTimestamp(d.DestinationChainID, d.QuoteTimestamp)
	return nil
}

// DepositsForDestination returns every deposit (duplicates included) destined
// for chain with block number at or below maxBlock, in chain order.
func (c *SpokeClient) DepositsForDestination(destination ChainID, maxBlock uint64) []*Deposit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Deposit
	for _, d := range c.depositsByDestination[destination] {
		if d.BlockNumber <= maxBlock {
			out = append(out, d)
		}
	}
	return out
}

// DepositsForHash returns the ordered deposit list sharing a relay hash.
func (c *SpokeClient) DepositsForHash(hash Hash) []*Deposit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Deposit(nil), c.depositHashes[hash]...)
}

// DuplicateDeposits returns the duplicate deposits recorded for a hash.
func (c *SpokeClient) DuplicateDeposits(hash Hash) []*Deposit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Deposit(nil), c.duplicateDepositHashes[hash]...)
}

// FillsForOrigin returns fills matching deposits from origin, in chain order.
func (c *SpokeClient) FillsForOrigin(origin ChainID, maxBlock uint64) []*Fill {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Fill
	for _, f := range c.fillsByOrigin[origin] {
		if f.BlockNumber <= maxBlock {
			out = append(out, f)
		}
	}
	return out
}

// FillForHash returns the unique fill recorded for a relay hash.
func (c *SpokeClient) FillForHash(hash Hash) (*Fill, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.fillsByHash[hash]
	return f, ok
}

// SlowFillRequestForHash returns the slow fill request for a relay hash.
func (c *SpokeClient) SlowFillRequestForHash(hash Hash) (*SlowFillRequest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.slowFillRequests[hash]
	return r, ok
}

// SlowFillRequestsForOrigin returns stored requests for deposits from origin
// with block number at or below maxBlock, in chain order.
func (c *SpokeClient) SlowFillRequestsForOrigin(origin ChainID, maxBlock uint64) []*SlowFillRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*SlowFillRequest
	for _, r := range c.slowFillRequestsList {
		if r.OriginChainID == origin && r.BlockNumber <= maxBlock {
			out = append(out, r)
		}
	}
	return out
}

// RootBundleRelays returns the root bundles relayed to this spoke.
func (c *SpokeClient) RootBundleRelays() []*RelayedRootBundle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*RelayedRootBundle(nil), c.rootBundleRelays...)
}

// RelayerRefundExecutions returns the executed refund leaves on this spoke.
func (c *SpokeClient) RelayerRefundExecutions() []*RelayerRefundExecution {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*RelayerRefundExecution(nil), c.refundExecutions...)
}

// TokensBridgedEvents returns liquidity returns recorded on this spoke.
func (c *SpokeClient) TokensBridgedEvents() []*TokensBridged {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*TokensBridged(nil), c.tokensBridged...)
}

// EnabledDepositRoutes returns the route toggles recorded on this spoke.
func (c *SpokeClient) EnabledDepositRoutes() []*EnabledDepositRoute {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*EnabledDepositRoute(nil), c.enabledRoutes...)
}

// Provider exposes the spoke's transport for fill-status and sender lookups.
func (c *SpokeClient) Provider() SpokeProvider { return c.provider }

// FindDeposit locates a deposit by id. In-memory state is consulted first;
// safe ids outside the searched window fall back to a bounded binary search
// over the spoke's deposit counter followed by one range log query.
func (c *SpokeClient) FindDeposit(ctx context.Context, depositID *big.Int) (*Deposit, error) {
	c.mu.RLock()
	d, ok := c.depositsByID[depositID.String()]
	latest := c.latestBlockSearched
	c.mu.RUnlock()
	if ok {
		return d, nil
	}
	if IsUnsafeDepositID(depositID) {
		// Unsafe ids are not covered by the monotonic deposit counter.
		return nil, fmt.Errorf("deposit %s: %w", depositID, ErrDepositNotFound)
	}

	id := depositID.Uint64()
	lo, hi := c.deploymentBlock, latest
	for probe := 0; probe < c.maxProbes && lo < hi; probe++ {
		mid := lo + (hi-lo)/2
		n, err := c.provider.NumberOfDeposits(ctx, mid)
		if err != nil {
			return nil, fmt.Errorf("deposit counter at %d: %w", mid, err)
		}
		if n > id {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	evs, err := c.provider.ReadEvents(ctx, KindDeposit, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("deposit scan [%d,%d]: %w", lo, hi, err)
	}
	for _, ev := range evs {
		cand := ev.(*Deposit)
		if cand.DepositID.Cmp(depositID) != 0 {
			continue
		}
		if err := c.enrichDeposit(ctx, cand); err != nil {
			return nil, err
		}
		return cand, nil
	}
	return nil, fmt.Errorf("deposit %s in [%d,%d]: %w", depositID, lo, hi, ErrDepositNotFound)
}
