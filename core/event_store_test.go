package core

import (
	"errors"
	"math/big"
	"testing"
)

func storeDeposit(block uint64, logIndex uint32, id int64) *Deposit {
	return &Deposit{
		RelayData: RelayData{
			DepositID:     big.NewInt(id),
			InputAmount:   big.NewInt(1),
			OutputAmount:  big.NewInt(1),
			OriginChainID: tChainA,
		},
		DestinationChainID: tChainB,
		EventCoord:         EventCoord{BlockNumber: block, LogIndex: logIndex},
	}
}

// TestEventStoreSortsOutOfOrder verifies the store reorders transport
// results into ascending (block, txIndex, logIndex).
func TestEventStoreSortsOutOfOrder(t *testing.T) {
	s := NewEventStore(tChainA, nil)
	s.Append(KindDeposit, storeDeposit(30, 0, 3))
	s.Append(KindDeposit, storeDeposit(10, 1, 1))
	s.Append(KindDeposit, storeDeposit(10, 0, 0))
	s.Append(KindDeposit, storeDeposit(20, 0, 2))

	got := s.Query(KindDeposit, 0, 100)
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].EventKey().Before(got[i].EventKey()) {
			t.Fatalf("events out of order at %d: %+v", i, got)
		}
	}
}

// TestEventStoreExactDuplicateIsNoop appends the same event twice.
func TestEventStoreExactDuplicateIsNoop(t *testing.T) {
	s := NewEventStore(tChainA, nil)
	d := storeDeposit(10, 0, 1)
	s.Append(KindDeposit, d)
	s.Append(KindDeposit, d)
	if got := s.Query(KindDeposit, 0, 100); len(got) != 1 {
		t.Fatalf("duplicate not dropped: %d events", len(got))
	}
}

// TestEventStoreRangeQuery bounds results by block and search end.
func TestEventStoreRangeQuery(t *testing.T) {
	s := NewEventStore(tChainA, nil)
	for _, block := range []uint64{5, 15, 25, 35} {
		s.Append(KindDeposit, storeDeposit(block, 0, int64(block)))
	}
	if got := s.Query(KindDeposit, 10, 30); len(got) != 2 {
		t.Fatalf("range query returned %d events, want 2", len(got))
	}
	// Nothing beyond the search end block is visible.
	if got := s.Query(KindDeposit, 0, 1000); len(got) != 4 {
		t.Fatalf("full query returned %d events", len(got))
	}
}

// TestEventStoreChainTimeRegression rejects a current time below a
// previously observed one.
func TestEventStoreChainTimeRegression(t *testing.T) {
	s := NewEventStore(tChainA, nil)
	if err := s.SetCurrentTime(100); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := s.SetCurrentTime(100); err != nil {
		t.Fatalf("equal time must be accepted: %v", err)
	}
	err := s.SetCurrentTime(99)
	if !errors.Is(err, ErrChainTimeRegression) {
		t.Fatalf("err = %v, want ErrChainTimeRegression", err)
	}
}

// TestEventStoreBlockTimestamps round-trips header timestamps.
func TestEventStoreBlockTimestamps(t *testing.T) {
	s := NewEventStore(tChainA, nil)
	s.SetBlockTimestamp(7, 700)
	ts, err := s.BlockTimestamp(7)
	if err != nil || ts != 700 {
		t.Fatalf("ts = %d err = %v", ts, err)
	}
	if _, err := s.BlockTimestamp(8); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing block should be ErrNotFound, got %v", err)
	}
}
