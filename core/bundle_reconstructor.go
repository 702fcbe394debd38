package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReconstructorConfig enumerates the engine knobs governing a reconstruction.
type ReconstructorConfig struct {
	AttemptBlobCache  bool
	PreFillMinVersion uint32
}

// Reconstructor joins deposits, fills and slow fill requests across every
// spoke for a bundle's block ranges and emits the refund, slow-fill and
// unexecutable-leaf dictionaries. Outputs are a pure function of client state
// at call time and must match bit-for-bit across independent proposers.
type Reconstructor struct {
	lg        *zap.SugaredLogger
	hub       *HubPoolClient
	config    *ConfigStoreClient
	verifier  *RepaymentVerifier
	chainList []ChainID
	opts      ReconstructorConfig
	blob      *BlobCache

	mu           sync.Mutex
	cache        map[string]*LoadDataResult
	inflight     map[string]*inflightLoad
	forcePrefill bool
}

type inflightLoad struct {
	done   chan struct{}
	result *LoadDataResult
	err    error
}

// NewReconstructor wires the core algorithm over the hub and config clients.
// blob may be nil to disable persistent caching.
func NewReconstructor(hub *HubPoolClient, verifier *RepaymentVerifier, chainList []ChainID, opts ReconstructorConfig, blob *BlobCache, lg *zap.Logger) *Reconstructor {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Reconstructor{
		lg:        lg.Sugar(),
		hub:       hub,
		config:    hub.ConfigStore(),
		verifier:  verifier,
		chainList: chainList,
		opts:      opts,
		blob:      blob,
		cache:     make(map[string]*LoadDataResult),
		inflight:  make(map[string]*inflightLoad),
	}
}

// ForcePrefillsOnce arms the out-of-band pre-fill override for exactly one
// subsequent reconstruction.
func (r *Reconstructor) ForcePrefillsOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forcePrefill = true
}

// ClearCache drops the in-memory reconstruction cache.
func (r *Reconstructor) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*LoadDataResult)
}

// LoadData returns the bundle dictionaries for blockRanges. Results are
// cached by the canonical range key; concurrent calls for the same key share
// one in-flight computation, and every return is a defensive deep copy.
func (r *Reconstructor) LoadData(ctx context.Context, blockRanges []BlockRange, spokes map[ChainID]*SpokeClient, attemptCache bool) (*LoadDataResult, error) {
	key := CanonicalRangeKey(blockRanges)

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		metricReconstructionCacheHits.Inc()
		return cached.Clone(), nil
	}
	if call, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if call.err != nil {
			return nil, call.err
		}
		return call.result.Clone(), nil
	}
	call := &inflightLoad{done: make(chan struct{})}
	r.inflight[key] = call
	r.mu.Unlock()

	result, err := r.loadDataUncached(ctx, blockRanges, spokes, attemptCache)
	call.result, call.err = result, err
	close(call.done)

	r.mu.Lock()
	delete(r.inflight, key)
	if err == nil {
		r.cache[key] = result
	}
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return result.Clone(), nil
}

func (r *Reconstructor) loadDataUncached(ctx context.Context, blockRanges []BlockRange, spokes map[ChainID]*SpokeClient, attemptCache bool) (*LoadDataResult, error) {
	if err := r.checkPreconditions(blockRanges, spokes); err != nil {
		return nil, err
	}
	if attemptCache && r.opts.AttemptBlobCache && r.blob != nil {
		endBlock := r.mainnetEndBlock(blockRanges)
		if cached, err := r.blob.Get(endBlock); err == nil {
			metricBlobCacheHits.Inc()
			return cached, nil
		}
		// Miss or malformed blob: recompute from scratch.
		metricBlobCacheMisses.Inc()
	}
	result, err := r.reconstruct(ctx, blockRanges, spokes)
	if err != nil {
		return nil, err
	}
	if attemptCache && r.opts.AttemptBlobCache && r.blob != nil {
		if err := r.blob.Put(r.mainnetEndBlock(blockRanges), result); err != nil {
			r.lg.Warnw("persisting bundle blob failed", "error", err)
		}
	}
	return result, nil
}

func (r *Reconstructor) checkPreconditions(blockRanges []BlockRange, spokes map[ChainID]*SpokeClient) error {
	if !r.config.IsUpdated() {
		return fmt.Errorf("config store: %w", ErrStaleClient)
	}
	if !r.hub.IsUpdated() {
		return fmt.Errorf("hub pool: %w", ErrStaleClient)
	}
	if err := ValidateBlockRanges(blockRanges, r.chainList); err != nil {
		return err
	}
	for i, rng := range blockRanges {
		if rng.IsEmpty() {
			continue
		}
		chain := r.chainList[i]
		spoke, ok := spokes[chain]
		if !ok || !spoke.IsUpdated() {
			return fmt.Errorf("spoke %d: %w", chain, ErrStaleClient)
		}
	}
	return nil
}

func (r *Reconstructor) mainnetEndBlock(blockRanges []BlockRange) uint64 {
	if rng, ok := RangeForChain(blockRanges, r.chainList, r.hub.ChainID()); ok {
		return rng.End
	}
	return blockRanges[0].End
}

// relayEntry is one RelayHashIndex slot: the ordered deposits sharing the
// hash (duplicates legal), plus at most one fill and one slow fill request.
type relayEntry struct {
	deposits        []*Deposit
	fill            *Fill
	slowFillRequest *SlowFillRequest
}

// depositRef addresses one deposit inside its hash's duplicate list.
type depositRef struct {
	hash  Hash
	index int
}

// validatedFill pairs the rewritten fill with the deposit instance it repays.
type validatedFill struct {
	fill    *Fill
	deposit *Deposit
}

// reconstructionState carries the working set of one loadData pass. All of
// it is local to the pass; caller-visible state is never touched until the
// result is complete.
type reconstructionState struct {
	ranges     map[ChainID]BlockRange
	timestamps map[ChainID][2]uint32
	index      map[Hash]*relayEntry

	bundleDepositRefs []depositRef
	olderDepositRefs  []depositRef

	validatedFills        []*validatedFill
	expiredDeposits       []*Deposit
	validatedSlowFills    []*Deposit
	slowFillSeen          map[Hash]bool
	fastFillsReplacing    []Hash
	unexecutableSlowFills []*Deposit
	unrepayableFills      []*Fill
	oracleStatus          map[Hash]FillStatus

	prefillsEnabled bool
}

func (st *reconstructionState) entry(hash Hash) *relayEntry {
	e, ok := st.index[hash]
	if !ok {
		e = &relayEntry{}
		st.index[hash] = e
	}
	return e
}

func (st *reconstructionState) pushSlowFill(hash Hash, d *Deposit) {
	if st.slowFillSeen[hash] {
		return
	}
	st.slowFillSeen[hash] = true
	st.validatedSlowFills = append(st.validatedSlowFills, d)
}

// depositMaySlowFill reports whether a slow fill leaf may exist for the
// deposit: equivalent tokens at the quote block and no lite chain on either
// side.
func (r *Reconstructor) depositMaySlowFill(d *Deposit) bool {
	if d.FromLiteChain || d.ToLiteChain {
		return false
	}
	return r.hub.AreTokensEquivalent(d.InputToken, d.OriginChainID, d.OutputToken, d.DestinationChainID, d.QuoteBlockNumber)
}

func (r *Reconstructor) reconstruct(ctx context.Context, blockRanges []BlockRange, spokes map[ChainID]*SpokeClient) (*LoadDataResult, error) {
	runID := uuid.New().String()
	metricReconstructions.Inc()

	st := &reconstructionState{
		ranges:       make(map[ChainID]BlockRange),
		index:        make(map[Hash]*relayEntry),
		slowFillSeen: make(map[Hash]bool),
		oracleStatus: make(map[Hash]FillStatus),
	}
	for i := range blockRanges {
		st.ranges[r.chainList[i]] = blockRanges[i]
	}
	timestamps, err := BundleBlockTimestamps(ctx, blockRanges, r.chainList, spokes)
	if err != nil {
		return nil, err
	}
	st.timestamps = timestamps

	// The pre-fill gate reads the version at the bundle's hub start block.
	hubRange, _ := RangeForChain(blockRanges, r.chainList, r.hub.ChainID())
	version := r.config.VersionAtBlock(hubRange.Start)
	r.mu.Lock()
	st.prefillsEnabled = version >= r.opts.PreFillMinVersion || r.forcePrefill
	r.forcePrefill = false
	r.mu.Unlock()

	r.lg.Infow("reconstructing bundle",
		"run", runID,
		"ranges", CanonicalRangeKey(blockRanges),
		"prefillsEnabled", st.prefillsEnabled,
	)

	result := NewLoadDataResult()
	if err := r.phaseIngestDeposits(st, spokes, result); err != nil {
		return nil, err
	}
	if err := r.phaseBundleFills(ctx, st, spokes); err != nil {
		return nil, err
	}
	if err := r.phaseSlowFillRequests(st, spokes); err != nil {
		return nil, err
	}
	if err := r.phaseResweepDeposits(ctx, st, spokes); err != nil {
		return nil, err
	}
	r.phaseUnexecutableLeaves(st)
	if err := r.phaseOlderDeposits(ctx, st, spokes); err != nil {
		return nil, err
	}
	if err := r.phaseAssignLpFees(ctx, st, result); err != nil {
		return nil, err
	}
	sortResult(result)

	r.lg.Infow("bundle reconstructed",
		"run", runID,
		"validatedFills", len(st.validatedFills),
		"expiredDeposits", len(st.expiredDeposits),
		"slowFills", len(st.validatedSlowFills),
		"unexecutableSlowFills", len(st.unexecutableSlowFills),
		"unrepayableFills", len(st.unrepayableFills),
	)
	return result, nil
}

// chainPairs iterates (origin, destination) pairs in canonical list order so
// every proposer walks the join identically.
func (r *Reconstructor) chainPairs(st *reconstructionState) [][2]ChainID {
	var out [][2]ChainID
	for _, origin := range r.chainList {
		if _, ok := st.ranges[origin]; !ok {
			continue
		}
		for _, destination := range r.chainList {
			if origin == destination {
				continue
			}
			if _, ok := st.ranges[destination]; !ok {
				continue
			}
			out = append(out, [2]ChainID{origin, destination})
		}
	}
	return out
}

// Phase 1: index every deposit visible to the bundle and split them into
// in-bundle and older sets.
func (r *Reconstructor) phaseIngestDeposits(st *reconstructionState, spokes map[ChainID]*SpokeClient, result *LoadDataResult) error {
	for _, pair := range r.chainPairs(st) {
		origin, destination := pair[0], pair[1]
		originRange := st.ranges[origin]
		spoke := spokes[origin]
		if spoke == nil {
			continue
		}
		for _, d := range spoke.DepositsForDestination(destination, originRange.End) {
			if d.IsZeroValue() {
				continue
			}
			hash := d.Hash()
			e := st.entry(hash)
			e.deposits = append(e.deposits, d)
			ref := depositRef{hash: hash, index: len(e.deposits) - 1}
			if !originRange.IsEmpty() && originRange.Contains(d.BlockNumber) {
				st.bundleDepositRefs = append(st.bundleDepositRefs, ref)
				result.BundleDeposits.add(origin, d.InputToken, d)
			} else if d.BlockNumber < originRange.Start {
				st.olderDepositRefs = append(st.olderDepositRefs, ref)
			}
		}
	}
	return nil
}

// Phase 2: match destination-side fills against the index.
func (r *Reconstructor) phaseBundleFills(ctx context.Context, st *reconstructionState, spokes map[ChainID]*SpokeClient) error {
	for _, pair := range r.chainPairs(st) {
		origin, destination := pair[0], pair[1]
		destRange := st.ranges[destination]
		spoke := spokes[destination]
		if spoke == nil {
			continue
		}
		for _, f := range spoke.FillsForOrigin(origin, destRange.End) {
			if f.IsZeroValue() {
				continue
			}
			hash := f.Hash()
			e := st.entry(hash)
			if e.fill != nil {
				return fmt.Errorf("fill for relay %s at block %d: %w", hash, f.BlockNumber, ErrDuplicateEvent)
			}
			if len(e.deposits) == 0 {
				e.fill = f
				if destRange.IsEmpty() || f.BlockNumber < destRange.Start {
					continue
				}
				if f.FillDeadline != InfiniteFillDeadline {
					// The deposit lookback covers every finite deadline; a
					// missing deposit means the fill is invalid.
					continue
				}
				originSpoke := spokes[origin]
				if originSpoke == nil {
					continue
				}
				d, err := originSpoke.FindDeposit(ctx, f.DepositID)
				if err != nil || d.Hash() != hash {
					continue
				}
				if originRange, ok := st.ranges[origin]; ok && d.BlockNumber > originRange.End {
					// Deposit sits in a future bundle; defer it there.
					continue
				}
				e.deposits = append(e.deposits, d)
			} else {
				e.fill = f
			}
			if destRange.IsEmpty() || f.BlockNumber < destRange.Start {
				continue
			}
			if err := r.admitFill(ctx, st, e, f, hash); err != nil {
				return err
			}
		}
	}
	return nil
}

// admitFill validates an in-bundle fill against its deposits and records the
// refund entries, including the duplicate-deposit re-credits.
func (r *Reconstructor) admitFill(ctx context.Context, st *reconstructionState, e *relayEntry, f *Fill, hash Hash) error {
	first := e.deposits[0]
	verified, err := r.verifier.VerifyFillRepayment(ctx, f, first)
	if err != nil {
		return err
	}
	if verified == nil {
		st.unrepayableFills = append(st.unrepayableFills, f)
	} else {
		vf := verified.Clone()
		vf.QuoteTimestamp = first.QuoteTimestamp
		st.validatedFills = append(st.validatedFills, &validatedFill{fill: vf, deposit: first})
	}
	for _, dup := range e.deposits[1:] {
		if f.IsSlowFill() {
			st.expiredDeposits = append(st.expiredDeposits, dup)
		} else if verified != nil {
			vf := verified.Clone()
			vf.QuoteTimestamp = dup.QuoteTimestamp
			st.validatedFills = append(st.validatedFills, &validatedFill{fill: vf, deposit: dup})
		}
	}
	if f.ExecutionInfo.FillType == ReplacedSlowFill && r.depositMaySlowFill(first) {
		st.fastFillsReplacing = append(st.fastFillsReplacing, hash)
	}
	return nil
}

// Phase 3: match in-bundle slow fill requests.
func (r *Reconstructor) phaseSlowFillRequests(st *reconstructionState, spokes map[ChainID]*SpokeClient) error {
	for _, pair := range r.chainPairs(st) {
		origin, destination := pair[0], pair[1]
		destRange := st.ranges[destination]
		spoke := spokes[destination]
		if spoke == nil {
			continue
		}
		for _, req := range spoke.SlowFillRequestsForOrigin(origin, destRange.End) {
			hash := req.Hash()
			e := st.entry(hash)
			if e.slowFillRequest != nil {
				return fmt.Errorf("slow fill request for relay %s at block %d: %w", hash, req.BlockNumber, ErrDuplicateEvent)
			}
			e.slowFillRequest = req
			if e.fill != nil {
				// A fill supersedes the request, but the request stays on the
				// entry so replaced leaves can be traced to their bundle.
				continue
			}
			if len(e.deposits) == 0 || destRange.IsEmpty() || !destRange.Contains(req.BlockNumber) {
				continue
			}
			d := e.deposits[0]
			if !r.depositMaySlowFill(d) {
				continue
			}
			if d.FillDeadline < st.timestamps[destination][1] {
				// Expired in this bundle; the re-sweep refunds the depositor.
				continue
			}
			st.pushSlowFill(hash, d)
		}
	}
	return nil
}

// relayStatus memoizes the destination fill-status oracle per relay hash.
func (r *Reconstructor) relayStatus(ctx context.Context, st *reconstructionState, spoke *SpokeClient, d *Deposit, hash Hash, atBlock uint64) (FillStatus, error) {
	if status, ok := st.oracleStatus[hash]; ok {
		return status, nil
	}
	metricOracleLookups.WithLabelValues(fmt.Sprint(d.DestinationChainID)).Inc()
	status, err := spoke.Provider().RelayFillStatus(ctx, &d.RelayData, d.DestinationChainID, atBlock)
	if err != nil {
		return 0, fmt.Errorf("relay %s at block %d: %w", hash, atBlock, ErrOracleUnavailable)
	}
	st.oracleStatus[hash] = status
	return status, nil
}

// findFillEvent locates the historical fill for a deposit whose on-chain
// status is Filled. A miss is a hard error.
func (r *Reconstructor) findFillEvent(ctx context.Context, spoke *SpokeClient, d *Deposit, hash Hash, toBlock uint64) (*Fill, error) {
	if f, ok := spoke.FillForHash(hash); ok && f.BlockNumber <= toBlock {
		return f, nil
	}
	evs, err := spoke.Provider().ReadEvents(ctx, KindFill, spoke.DeploymentBlock(), toBlock)
	if err != nil {
		return nil, fmt.Errorf("fill scan for relay %s: %w", hash, err)
	}
	for _, ev := range evs {
		f := ev.(*Fill)
		if f.Hash() == hash {
			return f, nil
		}
	}
	return nil, fmt.Errorf("relay %s reported filled: %w", hash, ErrPrefillLookupFailed)
}

// Phase 4: re-sweep the bundle's deposits to settle pre-fills, expirations
// and on-chain-only state.
func (r *Reconstructor) phaseResweepDeposits(ctx context.Context, st *reconstructionState, spokes map[ChainID]*SpokeClient) error {
	for _, ref := range st.bundleDepositRefs {
		e := st.index[ref.hash]
		d := e.deposits[ref.index]
		destination := d.DestinationChainID
		destRange, ok := st.ranges[destination]
		if !ok {
			continue
		}
		endTime := st.timestamps[destination][1]

		switch {
		case e.fill != nil:
			f := e.fill
			if f.BlockNumber >= destRange.Start && !destRange.IsEmpty() {
				// Settled in phase 2.
				continue
			}
			if st.prefillsEnabled && !f.IsSlowFill() {
				verified, err := r.verifier.VerifyFillRepayment(ctx, f, d)
				if err != nil {
					return err
				}
				if verified == nil {
					st.unrepayableFills = append(st.unrepayableFills, f)
					continue
				}
				vf := verified.Clone()
				vf.QuoteTimestamp = d.QuoteTimestamp
				st.validatedFills = append(st.validatedFills, &validatedFill{fill: vf, deposit: d})
			}
			if f.IsSlowFill() && ref.index > 0 {
				// A slow fill pays the recipient once; duplicate deposits
				// give their funds back to the depositor.
				st.expiredDeposits = append(st.expiredDeposits, d)
			}

		case e.slowFillRequest != nil:
			req := e.slowFillRequest
			if d.FillDeadline < endTime {
				st.expiredDeposits = append(st.expiredDeposits, d)
				continue
			}
			if st.prefillsEnabled && req.BlockNumber < destRange.Start && r.depositMaySlowFill(d) {
				st.pushSlowFill(ref.hash, d)
			}

		default:
			spoke := spokes[destination]
			if spoke == nil {
				continue
			}
			status, err := r.relayStatus(ctx, st, spoke, d, ref.hash, destRange.End)
			if err != nil {
				return err
			}
			switch status {
			case StatusFilled:
				if !st.prefillsEnabled {
					continue
				}
				f, err := r.findFillEvent(ctx, spoke, d, ref.hash, destRange.End)
				if err != nil {
					return err
				}
				verified, err := r.verifier.VerifyFillRepayment(ctx, f, d)
				if err != nil {
					return err
				}
				switch {
				case verified == nil:
					st.unrepayableFills = append(st.unrepayableFills, f)
				case verified.IsSlowFill():
					st.expiredDeposits = append(st.expiredDeposits, d)
				default:
					vf := verified.Clone()
					vf.QuoteTimestamp = d.QuoteTimestamp
					st.validatedFills = append(st.validatedFills, &validatedFill{fill: vf, deposit: d})
				}
			case StatusUnfilled:
				if d.FillDeadline < endTime {
					st.expiredDeposits = append(st.expiredDeposits, d)
				}
			case StatusRequestedSlowFill:
				if d.FillDeadline < endTime {
					st.expiredDeposits = append(st.expiredDeposits, d)
					continue
				}
				if st.prefillsEnabled && r.depositMaySlowFill(d) {
					st.pushSlowFill(ref.hash, d)
				}
			}
		}
	}
	return nil
}

// Phase 5: fast fills that replaced a slow fill leave the earlier leaf
// unexecutable when the request sits in a prior bundle.
func (r *Reconstructor) phaseUnexecutableLeaves(st *reconstructionState) {
	for _, hash := range st.fastFillsReplacing {
		e := st.index[hash]
		d := e.deposits[0]
		destRange := st.ranges[d.DestinationChainID]
		req := e.slowFillRequest
		if req == nil || req.BlockNumber < destRange.Start {
			st.unexecutableSlowFills = append(st.unexecutableSlowFills, d)
		}
	}
}

// Phase 6: deposits older than the bundle that expire inside it.
func (r *Reconstructor) phaseOlderDeposits(ctx context.Context, st *reconstructionState, spokes map[ChainID]*SpokeClient) error {
	for _, ref := range st.olderDepositRefs {
		e := st.index[ref.hash]
		if e.fill != nil {
			continue
		}
		d := e.deposits[ref.index]
		destination := d.DestinationChainID
		destRange, ok := st.ranges[destination]
		if !ok {
			continue
		}
		window := st.timestamps[destination]
		if d.FillDeadline >= window[1] || d.FillDeadline < window[0] {
			// Not newly expired in this bundle.
			continue
		}
		spoke := spokes[destination]
		if spoke == nil {
			continue
		}
		status, err := r.relayStatus(ctx, st, spoke, d, ref.hash, destRange.End)
		if err != nil {
			return err
		}
		if status == StatusFilled {
			continue
		}
		st.expiredDeposits = append(st.expiredDeposits, d)
		if status == StatusRequestedSlowFill && r.depositMaySlowFill(d) {
			req := e.slowFillRequest
			if req == nil || req.BlockNumber < destRange.Start {
				st.unexecutableSlowFills = append(st.unexecutableSlowFills, d)
			}
		}
	}
	return nil
}

// Phase 7: batch LP-fee assignment and final dictionary emission.
func (r *Reconstructor) phaseAssignLpFees(ctx context.Context, st *reconstructionState, result *LoadDataResult) error {
	reqs := make([]LpFeeRequest, 0, len(st.validatedFills)+len(st.validatedSlowFills)+len(st.unexecutableSlowFills))
	for _, vf := range st.validatedFills {
		reqs = append(reqs, LpFeeRequest{Deposit: vf.deposit, PaymentChainID: vf.fill.RepaymentChainID})
	}
	for _, d := range st.validatedSlowFills {
		reqs = append(reqs, LpFeeRequest{Deposit: d, PaymentChainID: d.DestinationChainID})
	}
	for _, d := range st.unexecutableSlowFills {
		reqs = append(reqs, LpFeeRequest{Deposit: d, PaymentChainID: d.DestinationChainID})
	}
	fees, err := r.hub.BatchComputeRealizedLpFeePct(ctx, reqs)
	if err != nil {
		return err
	}

	cursor := 0
	for _, vf := range st.validatedFills {
		vf.fill.LpFeePct = fees[cursor]
		cursor++
		token, err := r.repaymentToken(vf.fill, vf.deposit)
		if err != nil {
			return err
		}
		result.BundleFills.bucket(vf.fill.RepaymentChainID, token).addFill(vf.fill)
	}
	for _, d := range st.validatedSlowFills {
		leaf := cloneDeposit(d)
		leaf.LpFeePct = fees[cursor]
		cursor++
		result.BundleSlowFills.add(d.DestinationChainID, d.OutputToken, leaf)
	}
	for _, d := range st.unexecutableSlowFills {
		leaf := cloneDeposit(d)
		leaf.LpFeePct = fees[cursor]
		cursor++
		result.UnexecutableSlowFills.add(d.DestinationChainID, d.OutputToken, leaf)
	}
	for _, d := range st.expiredDeposits {
		result.ExpiredDeposits.add(d.OriginChainID, d.InputToken, d)
	}
	return nil
}

// repaymentToken resolves the token the relayer is refunded in on the
// repayment chain. A routed L2 token is used when one exists; repayment on the
// hub falls back to the L1 token, and repayment on the deposit's origin chain
// falls back to the origin input token. Any other repayment chain needs a live
// pool rebalance route.
func (r *Reconstructor) repaymentToken(f *Fill, d *Deposit) (Address, error) {
	l1, ok := r.hub.L1TokenForL2Token(d.InputToken, d.OriginChainID, d.QuoteBlockNumber)
	if ok {
		if token, ok := r.hub.L2TokenForL1Token(l1, f.RepaymentChainID, r.hub.LatestBlockSearched()); ok {
			return token, nil
		}
		if f.RepaymentChainID == r.hub.ChainID() {
			return l1, nil
		}
	}
	if f.RepaymentChainID == d.OriginChainID {
		return d.InputToken, nil
	}
	return Address{}, fmt.Errorf("input token %s on chain %d: %w", d.InputToken, f.RepaymentChainID, ErrMissingRoute)
}

// sortResult fixes every per-(chain, token) list into ascending order of its
// triggering event so independent proposers emit identical dictionaries.
func sortResult(result *LoadDataResult) {
	sortDeposits := func(m BundleDepositsMap) {
		for _, byToken := range m {
			for _, list := range byToken {
				sort.SliceStable(list, func(i, j int) bool {
					return list[i].Before(list[j].EventCoord)
				})
			}
		}
	}
	sortDeposits(result.BundleDeposits)
	sortDeposits(result.ExpiredDeposits)
	sortDeposits(BundleDepositsMap(result.BundleSlowFills))
	sortDeposits(BundleDepositsMap(result.UnexecutableSlowFills))
	for _, byToken := range result.BundleFills {
		for _, bucket := range byToken {
			sort.SliceStable(bucket.Fills, func(i, j int) bool {
				return bucket.Fills[i].Before(bucket.Fills[j].EventCoord)
			})
		}
	}
}
