package core

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// KVStore is the minimal storage contract the blob cache writes through.
type KVStore interface {
	Set(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Iterator(prefix []byte) Iterator
}

// Iterator walks a key range in ascending key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

// InMemoryStore is a map-backed KVStore for tests and CLI tooling.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string][]byte)}
}

func (s *InMemoryStore) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *InMemoryStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *InMemoryStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *InMemoryStore) Iterator(prefix []byte) Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	it := &sliceIterator{index: -1}
	for _, k := range keys {
		it.keys = append(it.keys, []byte(k))
		it.values = append(it.values, append([]byte(nil), s.data[k]...))
	}
	return it
}

type sliceIterator struct {
	keys   [][]byte
	values [][]byte
	index  int
	err    error
}

func (it *sliceIterator) Next() bool {
	it.index++
	return it.index < len(it.keys)
}
func (it *sliceIterator) Key() []byte   { return it.keys[it.index] }
func (it *sliceIterator) Value() []byte { return it.values[it.index] }
func (it *sliceIterator) Error() error  { return it.err }
func (it *sliceIterator) Close() error  { return nil }

// FileStore persists each key as one file under dir, named by the hex form
// of the key so arbitrary keys stay path-safe.
type FileStore struct {
	dir string
}

// NewFileStore creates the backing directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key []byte) string {
	return filepath.Join(s.dir, hex.EncodeToString(key))
}

func (s *FileStore) Set(key, value []byte) error {
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(key))
}

func (s *FileStore) Get(key []byte) ([]byte, error) {
	raw, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return raw, err
}

func (s *FileStore) Delete(key []byte) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) Iterator(prefix []byte) Iterator {
	it := &sliceIterator{index: -1}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		it.err = err
		return it
	}
	var keys [][]byte
	for _, e := range entries {
		key, err := hex.DecodeString(e.Name())
		if err != nil || !bytes.HasPrefix(key, prefix) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	for _, key := range keys {
		value, err := os.ReadFile(s.path(key))
		if err != nil {
			it.err = err
			break
		}
		it.keys = append(it.keys, key)
		it.values = append(it.values, value)
	}
	return it
}

// BigStr serializes a big.Int as a decimal string, the blob schema's numeric
// form.
type BigStr struct {
	*big.Int
}

func (b BigStr) MarshalJSON() ([]byte, error) {
	if b.Int == nil {
		return []byte(`"0"`), nil
	}
	return []byte(`"` + b.Int.String() + `"`), nil
}

func (b *BigStr) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("amount %q is not a decimal integer", s)
	}
	b.Int = v
	return nil
}

type blobDeposit struct {
	Depositor           Address `json:"depositor"`
	Recipient           Address `json:"recipient"`
	ExclusiveRelayer    Address `json:"exclusiveRelayer"`
	InputToken          Address `json:"inputToken"`
	OutputToken         Address `json:"outputToken"`
	InputAmount         BigStr  `json:"inputAmount"`
	OutputAmount        BigStr  `json:"outputAmount"`
	OriginChainID       ChainID `json:"originChainId"`
	DestinationChainID  ChainID `json:"destinationChainId"`
	DepositID           BigStr  `json:"depositId"`
	QuoteTimestamp      uint32  `json:"quoteTimestamp"`
	FillDeadline        uint32  `json:"fillDeadline"`
	ExclusivityDeadline uint32  `json:"exclusivityDeadline"`
	Message             []byte  `json:"message"`
	QuoteBlockNumber    uint64  `json:"quoteBlockNumber"`
	FromLiteChain       bool    `json:"fromLiteChain"`
	ToLiteChain         bool    `json:"toLiteChain"`
	BlockNumber         uint64  `json:"blockNumber"`
	TxIndex             uint32  `json:"transactionIndex"`
	LogIndex            uint32  `json:"logIndex"`
	TxHash              Hash    `json:"transactionHash"`
}

type blobFill struct {
	blobDeposit
	Relayer          Address  `json:"relayer"`
	RepaymentChainID ChainID  `json:"repaymentChainId"`
	FillType         FillType `json:"fillType"`
	LpFeePct         BigStr   `json:"lpFeePct"`
}

type blobFillBucket struct {
	Fills             []blobFill        `json:"fills"`
	TotalRefundAmount BigStr            `json:"totalRefundAmount"`
	RealizedLpFees    BigStr            `json:"realizedLpFees"`
	Refunds           map[string]BigStr `json:"refunds"`
}

type blobDocument struct {
	BundleDeposits        map[string]map[string][]blobDeposit   `json:"bundleDepositsV3"`
	ExpiredDeposits       map[string]map[string][]blobDeposit   `json:"expiredDepositsToRefundV3"`
	BundleFills           map[string]map[string]blobFillBucket  `json:"bundleFillsV3"`
	BundleSlowFills       map[string]map[string][]blobDeposit   `json:"bundleSlowFillsV3"`
	UnexecutableSlowFills map[string]map[string][]blobDeposit   `json:"unexecutableSlowFills"`
}

func depositToBlob(d *Deposit) blobDeposit {
	return blobDeposit{
		Depositor:           d.Depositor,
		Recipient:           d.Recipient,
		ExclusiveRelayer:    d.ExclusiveRelayer,
		InputToken:          d.InputToken,
		OutputToken:         d.OutputToken,
		InputAmount:         BigStr{orZero(d.InputAmount)},
		OutputAmount:        BigStr{orZero(d.OutputAmount)},
		OriginChainID:       d.OriginChainID,
		DestinationChainID:  d.DestinationChainID,
		DepositID:           BigStr{orZero(d.DepositID)},
		QuoteTimestamp:      d.QuoteTimestamp,
		FillDeadline:        d.FillDeadline,
		ExclusivityDeadline: d.ExclusivityDeadline,
		Message:             d.Message,
		QuoteBlockNumber:    d.QuoteBlockNumber,
		FromLiteChain:       d.FromLiteChain,
		ToLiteChain:         d.ToLiteChain,
		BlockNumber:         d.BlockNumber,
		TxIndex:             d.TxIndex,
		LogIndex:            d.LogIndex,
		TxHash:              d.TxHash,
	}
}

func blobToDeposit(b blobDeposit) *Deposit {
	return &Deposit{
		RelayData: RelayData{
			Depositor:           b.Depositor,
			Recipient:           b.Recipient,
			ExclusiveRelayer:    b.ExclusiveRelayer,
			InputToken:          b.InputToken,
			OutputToken:         b.OutputToken,
			InputAmount:         b.InputAmount.Int,
			OutputAmount:        b.OutputAmount.Int,
			OriginChainID:       b.OriginChainID,
			DepositID:           b.DepositID.Int,
			FillDeadline:        b.FillDeadline,
			ExclusivityDeadline: b.ExclusivityDeadline,
			Message:             b.Message,
		},
		DestinationChainID: b.DestinationChainID,
		QuoteTimestamp:     b.QuoteTimestamp,
		MessageHash:        HashMessage(b.Message),
		QuoteBlockNumber:   b.QuoteBlockNumber,
		FromLiteChain:      b.FromLiteChain,
		ToLiteChain:        b.ToLiteChain,
		EventCoord: EventCoord{
			BlockNumber: b.BlockNumber,
			TxIndex:     b.TxIndex,
			LogIndex:    b.LogIndex,
			TxHash:      b.TxHash,
		},
	}
}

func fillToBlob(f *Fill) blobFill {
	return blobFill{
		blobDeposit: blobDeposit{
			Depositor:           f.Depositor,
			Recipient:           f.Recipient,
			ExclusiveRelayer:    f.ExclusiveRelayer,
			InputToken:          f.InputToken,
			OutputToken:         f.OutputToken,
			InputAmount:         BigStr{orZero(f.InputAmount)},
			OutputAmount:        BigStr{orZero(f.OutputAmount)},
			OriginChainID:       f.OriginChainID,
			DestinationChainID:  f.DestinationChainID,
			DepositID:           BigStr{orZero(f.DepositID)},
			QuoteTimestamp:      f.QuoteTimestamp,
			FillDeadline:        f.FillDeadline,
			ExclusivityDeadline: f.ExclusivityDeadline,
			Message:             f.Message,
			BlockNumber:         f.BlockNumber,
			TxIndex:             f.TxIndex,
			LogIndex:            f.LogIndex,
			TxHash:              f.TxHash,
		},
		Relayer:          f.Relayer,
		RepaymentChainID: f.RepaymentChainID,
		FillType:         f.ExecutionInfo.FillType,
		LpFeePct:         BigStr{orZero(f.LpFeePct)},
	}
}

func blobToFill(b blobFill) *Fill {
	return &Fill{
		RelayData: RelayData{
			Depositor:           b.Depositor,
			Recipient:           b.Recipient,
			ExclusiveRelayer:    b.ExclusiveRelayer,
			InputToken:          b.InputToken,
			OutputToken:         b.OutputToken,
			InputAmount:         b.InputAmount.Int,
			OutputAmount:        b.OutputAmount.Int,
			OriginChainID:       b.OriginChainID,
			DepositID:           b.DepositID.Int,
			FillDeadline:        b.FillDeadline,
			ExclusivityDeadline: b.ExclusivityDeadline,
			Message:             b.Message,
		},
		DestinationChainID: b.DestinationChainID,
		Relayer:            b.Relayer,
		RepaymentChainID:   b.RepaymentChainID,
		ExecutionInfo:      RelayExecutionInfo{FillType: b.FillType},
		MessageHash:        HashMessage(b.Message),
		EventCoord: EventCoord{
			BlockNumber: b.BlockNumber,
			TxIndex:     b.TxIndex,
			LogIndex:    b.LogIndex,
			TxHash:      b.TxHash,
		},
		LpFeePct:       b.LpFeePct.Int,
		QuoteTimestamp: b.QuoteTimestamp,
	}
}

func depositsMapToBlob(m BundleDepositsMap) map[string]map[string][]blobDeposit {
	out := make(map[string]map[string][]blobDeposit, len(m))
	for chain, byToken := range m {
		chainKey := strconv.FormatUint(uint64(chain), 10)
		out[chainKey] = make(map[string][]blobDeposit, len(byToken))
		for token, deposits := range byToken {
			list := make([]blobDeposit, len(deposits))
			for i, d := range deposits {
				list[i] = depositToBlob(d)
			}
			out[chainKey][token.String()] = list
		}
	}
	return out
}

func blobToDepositsMap(m map[string]map[string][]blobDeposit) (BundleDepositsMap, error) {
	out := make(BundleDepositsMap, len(m))
	for chainKey, byToken := range m {
		chain, err := strconv.ParseUint(chainKey, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chain key %q: %w", chainKey, err)
		}
		for tokenKey, deposits := range byToken {
			token, err := ParseAddress(tokenKey)
			if err != nil {
				return nil, err
			}
			for i := range deposits {
				out.add(ChainID(chain), token, blobToDeposit(deposits[i]))
			}
		}
	}
	return out, nil
}

// EncodeBundleBlob renders a result into the persisted blob schema: chain ids
// as string keys, tokens as addresses, amounts as decimal strings.
func EncodeBundleBlob(r *LoadDataResult) ([]byte, error) {
	doc := blobDocument{
		BundleDeposits:        depositsMapToBlob(r.BundleDeposits),
		ExpiredDeposits:       depositsMapToBlob(r.ExpiredDeposits),
		BundleFills:           make(map[string]map[string]blobFillBucket),
		BundleSlowFills:       depositsMapToBlob(BundleDepositsMap(r.BundleSlowFills)),
		UnexecutableSlowFills: depositsMapToBlob(BundleDepositsMap(r.UnexecutableSlowFills)),
	}
	for chain, byToken := range r.BundleFills {
		chainKey := strconv.FormatUint(uint64(chain), 10)
		doc.BundleFills[chainKey] = make(map[string]blobFillBucket, len(byToken))
		for token, bucket := range byToken {
			bb := blobFillBucket{
				TotalRefundAmount: BigStr{bucket.TotalRefundAmount},
				RealizedLpFees:    BigStr{bucket.RealizedLpFees},
				Refunds:           make(map[string]BigStr, len(bucket.Refunds)),
			}
			for relayer, amt := range bucket.Refunds {
				bb.Refunds[relayer.String()] = BigStr{amt}
			}
			for _, f := range bucket.Fills {
				bb.Fills = append(bb.Fills, fillToBlob(f))
			}
			doc.BundleFills[chainKey][token.String()] = bb
		}
	}
	return json.Marshal(&doc)
}

// DecodeBundleBlob parses a persisted blob back into a result. Any parse
// failure is reported as ErrMalformedBlob.
func DecodeBundleBlob(raw []byte) (*LoadDataResult, error) {
	var doc blobDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	out := NewLoadDataResult()
	var err error
	if out.BundleDeposits, err = blobToDepositsMap(doc.BundleDeposits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	if out.ExpiredDeposits, err = blobToDepositsMap(doc.ExpiredDeposits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	slow, err := blobToDepositsMap(doc.BundleSlowFills)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	out.BundleSlowFills = BundleSlowFillsMap(slow)
	unexec, err := blobToDepositsMap(doc.UnexecutableSlowFills)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	out.UnexecutableSlowFills = BundleSlowFillsMap(unexec)
	for chainKey, byToken := range doc.BundleFills {
		chain, err := strconv.ParseUint(chainKey, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: chain key %q", ErrMalformedBlob, chainKey)
		}
		for tokenKey, bb := range byToken {
			token, err := ParseAddress(tokenKey)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
			}
			bucket := out.BundleFills.bucket(ChainID(chain), token)
			bucket.TotalRefundAmount = orZero(bb.TotalRefundAmount.Int)
			bucket.RealizedLpFees = orZero(bb.RealizedLpFees.Int)
			for relayerKey, amt := range bb.Refunds {
				relayer, err := ParseAddress(relayerKey)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
				}
				bucket.Refunds[relayer] = orZero(amt.Int)
			}
			for i := range bb.Fills {
				bucket.Fills = append(bucket.Fills, blobToFill(bb.Fills[i]))
			}
		}
	}
	return out, nil
}

// BlobCache is the content-addressed persistence layer for reconstructed
// bundles, keyed by the bundle's mainnet end block.
type BlobCache struct {
	store KVStore
	lg    *logrus.Logger
}

var blobKeyPrefix = []byte("bundles-")

// NewBlobCache wraps a KVStore.
func NewBlobCache(store KVStore, lg *logrus.Logger) *BlobCache {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &BlobCache{store: store, lg: lg}
}

func blobKey(mainnetEndBlock uint64) []byte {
	return append(append([]byte(nil), blobKeyPrefix...), []byte(strconv.FormatUint(mainnetEndBlock, 10))...)
}

// Get loads the cached bundle for a mainnet end block. A missing entry is
// ErrBlobCacheMiss; an unparsable one warns and is ErrMalformedBlob. Both are
// recoverable by recomputation.
func (b *BlobCache) Get(mainnetEndBlock uint64) (*LoadDataResult, error) {
	raw, err := b.store.Get(blobKey(mainnetEndBlock))
	if err != nil {
		return nil, fmt.Errorf("end block %d: %w", mainnetEndBlock, ErrBlobCacheMiss)
	}
	result, err := DecodeBundleBlob(raw)
	if err != nil {
		b.lg.WithError(err).Warnf("blobcache: malformed bundle blob for end block %d", mainnetEndBlock)
		return nil, err
	}
	return result, nil
}

// Put persists a reconstructed bundle.
func (b *BlobCache) Put(mainnetEndBlock uint64, r *LoadDataResult) error {
	raw, err := EncodeBundleBlob(r)
	if err != nil {
		return err
	}
	return b.store.Set(blobKey(mainnetEndBlock), raw)
}

// Clear drops every cached bundle blob.
func (b *BlobCache) Clear() error {
	it := b.store.Iterator(blobKeyPrefix)
	defer it.Close()
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	if err := it.Error(); err != nil {
		return err
	}
	for _, key := range keys {
		if err := b.store.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
