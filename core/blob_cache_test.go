package core

import (
	"bytes"
	"errors"
	"testing"
)

func sampleResult(t *testing.T) *LoadDataResult {
	env := newTestEnv(t)
	d1 := makeDeposit(1, 100, farFuture())
	d2 := makeDeposit(2, 120, tsAt(60))
	env.spokeFx[tChainA].Deposits = []*Deposit{d1, d2}
	env.spokeFx[tChainB].Fills = []*Fill{makeFill(d1, 110, FastFill, tChainA)}
	env.build()
	return env.loadData(env.ranges(50, 200, 50, 200))
}

// TestBlobRoundTrip encodes and decodes a bundle without losing amounts.
func TestBlobRoundTrip(t *testing.T) {
	result := sampleResult(t)
	raw, err := EncodeBundleBlob(result)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeBundleBlob(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	again, err := EncodeBundleBlob(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(raw, again) {
		t.Fatalf("blob round trip is lossy:\n%s\n%s", raw, again)
	}
	if !bytes.Contains(raw, []byte(`"100000000000000000000"`)) {
		t.Fatalf("amounts must serialize as decimal strings: %s", raw)
	}
}

// TestBlobCacheMissAndMalformed distinguishes the two recoverable errors.
func TestBlobCacheMissAndMalformed(t *testing.T) {
	cache := NewBlobCache(NewInMemoryStore(), nil)
	if _, err := cache.Get(123); !errors.Is(err, ErrBlobCacheMiss) {
		t.Fatalf("miss err = %v", err)
	}
	store := NewInMemoryStore()
	cache = NewBlobCache(store, nil)
	if err := store.Set(blobKey(123), []byte(`{"bundleFillsV3": 7}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := cache.Get(123); !errors.Is(err, ErrMalformedBlob) {
		t.Fatalf("malformed err = %v", err)
	}
}

// TestBlobCachePutGetClear persists through the file store.
func TestBlobCachePutGetClear(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	cache := NewBlobCache(store, nil)
	result := sampleResult(t)
	if err := cache.Put(777, result); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := cache.Get(777)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	a, _ := EncodeBundleBlob(result)
	b, _ := EncodeBundleBlob(got)
	if !bytes.Equal(a, b) {
		t.Fatalf("persisted bundle differs")
	}
	if err := cache.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := cache.Get(777); !errors.Is(err, ErrBlobCacheMiss) {
		t.Fatalf("expected miss after clear, got %v", err)
	}
}

// TestBundleFillsRefundConservation: per bucket, the refunds sum to the
// total refund amount and LP fees follow the fixed point formula.
func TestBundleFillsRefundConservation(t *testing.T) {
	result := sampleResult(t)
	for _, byToken := range result.BundleFills {
		for _, bucket := range byToken {
			sum := newBundleFillRefunds().TotalRefundAmount
			for _, amt := range bucket.Refunds {
				sum.Add(sum, amt)
			}
			if sum.Cmp(bucket.TotalRefundAmount) != 0 {
				t.Fatalf("refunds sum %s != totalRefundAmount %s", sum, bucket.TotalRefundAmount)
			}
			lp := newBundleFillRefunds().RealizedLpFees
			for _, f := range bucket.Fills {
				lp.Add(lp, mulDivTrunc(f.InputAmount, f.LpFeePct, fixedPoint))
			}
			if lp.Cmp(bucket.RealizedLpFees) != 0 {
				t.Fatalf("lp fee sum %s != realizedLpFees %s", lp, bucket.RealizedLpFees)
			}
		}
	}
}
