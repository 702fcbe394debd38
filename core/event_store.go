package core

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// EventKind discriminates the per-chain event tables.
type EventKind uint8

const (
	KindDeposit EventKind = iota
	KindFill
	KindSlowFillRequest
	KindSpeedUp
	KindRelayedRootBundle
	KindRelayerRefundExecution
	KindTokensBridged
	KindEnabledDepositRoute
	KindProposedRootBundle
	KindExecutedRootBundle
	KindPoolRebalanceRoute
	KindUpdatedGlobalConfig
	KindUpdatedTokenConfig
)

// ChainEvent is anything locatable by chain coordinates. Concrete event types
// satisfy it by embedding EventCoord.
type ChainEvent interface {
	EventKey() EventCoord
}

// EventStore is a per-chain, append-only, sorted event log. Events are keyed
// by (block, txIndex, logIndex); exact duplicates are no-ops. The store never
// exposes events beyond the search end block.
type EventStore struct {
	chainID ChainID
	lg      *logrus.Logger

	mu             sync.RWMutex
	events         map[EventKind][]ChainEvent
	seen           map[EventKind]map[string]struct{}
	timestamps     map[uint64]uint32
	currentTime    uint32
	searchEndBlock uint64
}

// NewEventStore creates an empty store for one chain.
func NewEventStore(chainID ChainID, lg *logrus.Logger) *EventStore {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &EventStore{
		chainID:    chainID,
		lg:         lg,
		events:     make(map[EventKind][]ChainEvent),
		seen:       make(map[EventKind]map[string]struct{}),
		timestamps: make(map[uint64]uint32),
	}
}

// ChainID returns the chain this store belongs to.
func (s *EventStore) ChainID() ChainID { return s.chainID }

// eventDigest folds the payload into the dedupe key so that replayed logs
// with identical coordinates and content are dropped silently.
func eventDigest(ev ChainEvent) string {
	raw, err := json.Marshal(ev)
	if err != nil {
		raw = []byte(fmt.Sprintf("%+v", ev))
	}
	sum := sha256.Sum256(raw)
	coord := ev.EventKey()
	return string(coord.SortKeyBytes()) + string(sum[:])
}

// Append inserts an event preserving ascending (block, txIndex, logIndex)
// order. Upstream transports may deliver logs out of order; the store sorts
// and proceeds. An exact duplicate is a no-op.
func (s *EventStore) Append(kind EventKind, ev ChainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(kind, ev)
}

// AppendBatch inserts several events of one kind.
func (s *EventStore) AppendBatch(kind EventKind, evs []ChainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range evs {
		s.appendLocked(kind, ev)
	}
}

func (s *EventStore) appendLocked(kind EventKind, ev ChainEvent) {
	key := eventDigest(ev)
	bucket, ok := s.seen[kind]
	if !ok {
		bucket = make(map[string]struct{})
		s.seen[kind] = bucket
	}
	if _, dup := bucket[key]; dup {
		return
	}
	bucket[key] = struct{}{}

	list := s.events[kind]
	coord := ev.EventKey()
	idx := sort.Search(len(list), func(i int) bool {
		return coord.Compare(list[i].EventKey()) < 0
	})
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = ev
	s.events[kind] = list
	if coord.BlockNumber > s.searchEndBlock {
		s.searchEndBlock = coord.BlockNumber
	}
}

// Query returns the sorted events of kind within [fromBlock, toBlock],
// bounded by the search end block.
func (s *EventStore) Query(kind EventKind, fromBlock, toBlock uint64) []ChainEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if toBlock > s.searchEndBlock {
		toBlock = s.searchEndBlock
	}
	list := s.events[kind]
	lo := sort.Search(len(list), func(i int) bool {
		return list[i].EventKey().BlockNumber >= fromBlock
	})
	hi := sort.Search(len(list), func(i int) bool {
		return list[i].EventKey().BlockNumber > toBlock
	})
	if lo >= hi {
		return nil
	}
	out := make([]ChainEvent, hi-lo)
	copy(out, list[lo:hi])
	return out
}

// All returns every stored event of kind, in order.
func (s *EventStore) All(kind EventKind) []ChainEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChainEvent, len(s.events[kind]))
	copy(out, s.events[kind])
	return out
}

// SetBlockTimestamp records the header timestamp of a block.
func (s *EventStore) SetBlockTimestamp(block uint64, ts uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timestamps[block] = ts
}

// BlockTimestamp returns the chain's header timestamp at block.
func (s *EventStore) BlockTimestamp(block uint64) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.timestamps[block]
	if !ok {
		return 0, fmt.Errorf("chain %d block %d: %w", s.chainID, block, ErrNotFound)
	}
	return ts, nil
}

// SetCurrentTime advances the chain's observed current time. A lower value
// than previously observed fails with ErrChainTimeRegression.
func (s *EventStore) SetCurrentTime(ts uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts < s.currentTime {
		return fmt.Errorf("chain %d time %d < %d: %w", s.chainID, ts, s.currentTime, ErrChainTimeRegression)
	}
	s.currentTime = ts
	return nil
}

// CurrentTime returns the last observed chain time.
func (s *EventStore) CurrentTime() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTime
}

// SetSearchEndBlock raises the visibility cap to block. A block below the
// current cap is ignored; appending an event also raises the cap to that
// event's block.
func (s *EventStore) SetSearchEndBlock(block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if block > s.searchEndBlock {
		s.searchEndBlock = block
	}
}

// SearchEndBlock returns the visibility cap.
func (s *EventStore) SearchEndBlock() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchEndBlock
}
