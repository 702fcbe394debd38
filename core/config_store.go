package core

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Recognized global config keys.
const (
	GlobalKeyVersion                 = "VERSION"
	GlobalKeyDisabledChains          = "DISABLED_CHAINS"
	GlobalKeyLiteChainIndices        = "LITE_CHAIN_ID_INDICES"
	GlobalKeyMaxRelayerRepaymentLeaf = "MAX_RELAYER_REPAYMENT_LEAF_SIZE"
	GlobalKeyMaxPoolRebalanceLeaf    = "MAX_POOL_REBALANCE_LEAF_SIZE"
)

// malformedWarningHorizon bounds how far back a malformed token config update
// still deserves a warning. Older entries are skipped silently.
const malformedWarningHorizon = 24 * time.Hour

// UpdatedGlobalConfig is a hub config-store event updating one global key.
type UpdatedGlobalConfig struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Timestamp uint32 `json:"timestamp"`
	EventCoord
}

// UpdatedTokenConfig is a hub config-store event carrying a JSON document for
// one L1 token.
type UpdatedTokenConfig struct {
	Token     Address `json:"token"`
	Value     string  `json:"value"`
	Timestamp uint32  `json:"timestamp"`
	EventCoord
}

// RateModel is the piecewise-linear interest rate curve used for LP fees.
// All four parameters are 1e18 fixed-point.
type RateModel struct {
	UBar *big.Int `json:"UBar"`
	R0   *big.Int `json:"R0"`
	R1   *big.Int `json:"R1"`
	R2   *big.Int `json:"R2"`
}

// UnmarshalJSON accepts the on-chain convention of decimal strings or raw
// numbers for each parameter.
func (m *RateModel) UnmarshalJSON(data []byte) error {
	var raw struct {
		UBar json.RawMessage `json:"UBar"`
		R0   json.RawMessage `json:"R0"`
		R1   json.RawMessage `json:"R1"`
		R2   json.RawMessage `json:"R2"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	if m.UBar, err = bigFromJSON(raw.UBar); err != nil {
		return fmt.Errorf("UBar: %w", err)
	}
	if m.R0, err = bigFromJSON(raw.R0); err != nil {
		return fmt.Errorf("R0: %w", err)
	}
	if m.R1, err = bigFromJSON(raw.R1); err != nil {
		return fmt.Errorf("R1: %w", err)
	}
	if m.R2, err = bigFromJSON(raw.R2); err != nil {
		return fmt.Errorf("R2: %w", err)
	}
	return nil
}

func bigFromJSON(raw json.RawMessage) (*big.Int, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing value")
	}
	s := string(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", s)
	}
	return v, nil
}

// SpokeTargetBalance configures the liquidity target kept on one spoke.
type SpokeTargetBalance struct {
	Target    *big.Int `json:"target"`
	Threshold *big.Int `json:"threshold"`
}

// UnmarshalJSON accepts decimal strings or raw numbers.
func (b *SpokeTargetBalance) UnmarshalJSON(data []byte) error {
	var raw struct {
		Target    json.RawMessage `json:"target"`
		Threshold json.RawMessage `json:"threshold"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	if b.Target, err = bigFromJSON(raw.Target); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if b.Threshold, err = bigFromJSON(raw.Threshold); err != nil {
		return fmt.Errorf("threshold: %w", err)
	}
	return nil
}

// TokenConfig is the parsed form of an UpdatedTokenConfig payload.
type TokenConfig struct {
	RateModel           *RateModel                     `json:"rateModel"`
	RouteRateModels     map[string]*RateModel          `json:"routeRateModel"`
	TransferThreshold   *big.Int                       `json:"-"`
	SpokeTargetBalances map[ChainID]*SpokeTargetBalance `json:"spokeTargetBalances"`
}

func parseTokenConfig(value string) (*TokenConfig, error) {
	var raw struct {
		RateModel           *RateModel                     `json:"rateModel"`
		RouteRateModels     map[string]*RateModel          `json:"routeRateModel"`
		TransferThreshold   json.RawMessage                `json:"transferThreshold"`
		SpokeTargetBalances map[ChainID]*SpokeTargetBalance `json:"spokeTargetBalances"`
	}
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return nil, err
	}
	if raw.RateModel == nil {
		return nil, fmt.Errorf("token config has no rateModel")
	}
	cfg := &TokenConfig{
		RateModel:           raw.RateModel,
		RouteRateModels:     raw.RouteRateModels,
		SpokeTargetBalances: raw.SpokeTargetBalances,
	}
	if len(raw.TransferThreshold) > 0 {
		v, err := bigFromJSON(raw.TransferThreshold)
		if err != nil {
			return nil, fmt.Errorf("transferThreshold: %w", err)
		}
		cfg.TransferThreshold = v
	}
	return cfg, nil
}

// routeKey is the document key for per-route rate model overrides.
func routeKey(origin, destination ChainID) string {
	return strconv.FormatUint(uint64(origin), 10) + "-" + strconv.FormatUint(uint64(destination), 10)
}

type versionEntry struct {
	version   uint32
	timestamp uint32
	coord     EventCoord
}

type chainListEntry struct {
	chains    []ChainID
	timestamp uint32
	coord     EventCoord
}

type uintEntry struct {
	value     uint64
	timestamp uint32
	coord     EventCoord
}

type tokenConfigEntry struct {
	cfg       *TokenConfig
	timestamp uint32
	coord     EventCoord
}

// ConfigStoreClient maintains time- and block-indexed histories of the hub
// config store: version gates, disabled chains, lite chain set, rate models
// and per-spoke target balances. The version is strictly increasing; equal or
// lesser updates are ignored.
type ConfigStoreClient struct {
	lg           *logrus.Logger
	avgBlockTime time.Duration

	mu                  sync.RWMutex
	versions            []versionEntry
	disabled            []chainListEntry
	lite                []chainListEntry
	maxRefundLeaf       []uintEntry
	maxPoolLeaf         []uintEntry
	tokenConfigs        map[Address][]tokenConfigEntry
	latestBlockSearched uint64
	updated             bool
}

// NewConfigStoreClient creates an empty client. avgBlockTime calibrates the
// malformed-payload warning horizon; zero falls back to 12s.
func NewConfigStoreClient(lg *logrus.Logger, avgBlockTime time.Duration) *ConfigStoreClient {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	if avgBlockTime <= 0 {
		avgBlockTime = 12 * time.Second
	}
	return &ConfigStoreClient{
		lg:           lg,
		avgBlockTime: avgBlockTime,
		tokenConfigs: make(map[Address][]tokenConfigEntry),
	}
}

// Update ingests a batch of config events in ascending chain order and
// advances the search cursor.
func (c *ConfigStoreClient) Update(globals []*UpdatedGlobalConfig, tokens []*UpdatedTokenConfig, latestBlock uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if latestBlock > c.latestBlockSearched {
		c.latestBlockSearched = latestBlock
	}
	sort.SliceStable(globals, func(i, j int) bool { return globals[i].Before(globals[j].EventCoord) })
	sort.SliceStable(tokens, func(i, j int) bool { return tokens[i].Before(tokens[j].EventCoord) })
	for _, ev := range globals {
		c.ingestGlobalLocked(ev)
	}
	for _, ev := range tokens {
		c.ingestTokenLocked(ev)
	}
	c.updated = true
}

// IsUpdated reports whether Update has run at least once.
func (c *ConfigStoreClient) IsUpdated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}

// LatestBlockSearched returns the hub block the histories are current to.
func (c *ConfigStoreClient) LatestBlockSearched() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latestBlockSearched
}

func (c *ConfigStoreClient) ingestGlobalLocked(ev *UpdatedGlobalConfig) {
	switch ev.Key {
	case GlobalKeyVersion:
		v, err := strconv.ParseUint(ev.Value, 10, 32)
		if err != nil {
			c.warnMalformed(ev.EventCoord, fmt.Errorf("version %q is not an integer", ev.Value))
			return
		}
		if n := len(c.versions); n > 0 && uint32(v) <= c.versions[n-1].version {
			// Equal or decreasing versions are dropped; the gate only moves up.
			return
		}
		c.versions = append(c.versions, versionEntry{version: uint32(v), timestamp: ev.Timestamp, coord: ev.EventCoord})
	case GlobalKeyDisabledChains:
		chains, err := parseChainList(ev.Value)
		if err != nil {
			c.warnMalformed(ev.EventCoord, err)
			return
		}
		// The hub can never be disabled.
		filtered := chains[:0]
		for _, id := range chains {
			if id != HubChainID {
				filtered = append(filtered, id)
			}
		}
		c.disabled = append(c.disabled, chainListEntry{chains: filtered, timestamp: ev.Timestamp, coord: ev.EventCoord})
	case GlobalKeyLiteChainIndices:
		chains, err := parseChainList(ev.Value)
		if err != nil {
			c.warnMalformed(ev.EventCoord, err)
			return
		}
		c.lite = append(c.lite, chainListEntry{chains: chains, timestamp: ev.Timestamp, coord: ev.EventCoord})
	case GlobalKeyMaxRelayerRepaymentLeaf:
		c.ingestUintLocked(&c.maxRefundLeaf, ev)
	case GlobalKeyMaxPoolRebalanceLeaf:
		c.ingestUintLocked(&c.maxPoolLeaf, ev)
	default:
		c.lg.Debugf("configstore: ignoring unrecognized global key %q at block %d", ev.Key, ev.BlockNumber)
	}
}

func (c *ConfigStoreClient) ingestUintLocked(dst *[]uintEntry, ev *UpdatedGlobalConfig) {
	v, err := strconv.ParseUint(ev.Value, 10, 64)
	if err != nil {
		c.warnMalformed(ev.EventCoord, fmt.Errorf("%s %q is not an integer", ev.Key, ev.Value))
		return
	}
	*dst = append(*dst, uintEntry{value: v, timestamp: ev.Timestamp, coord: ev.EventCoord})
}

func (c *ConfigStoreClient) ingestTokenLocked(ev *UpdatedTokenConfig) {
	cfg, err := parseTokenConfig(ev.Value)
	if err != nil {
		c.warnMalformed(ev.EventCoord, fmt.Errorf("token %s config: %w", ev.Token, err))
		return
	}
	c.tokenConfigs[ev.Token] = append(c.tokenConfigs[ev.Token], tokenConfigEntry{cfg: cfg, timestamp: ev.Timestamp, coord: ev.EventCoord})
}

// warnMalformed logs malformed updates younger than the warning horizon and
// stays silent for older ones.
func (c *ConfigStoreClient) warnMalformed(coord EventCoord, err error) {
	if coord.BlockNumber > c.latestBlockSearched {
		c.lg.WithError(err).Warnf("configstore: malformed update at block %d", coord.BlockNumber)
		return
	}
	age := time.Duration(c.latestBlockSearched-coord.BlockNumber) * c.avgBlockTime
	if age <= malformedWarningHorizon {
		c.lg.WithError(err).Warnf("configstore: malformed update at block %d", coord.BlockNumber)
	}
}

func parseChainList(value string) ([]ChainID, error) {
	var raw []uint64
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return nil, fmt.Errorf("chain list %q: %w", value, err)
	}
	out := make([]ChainID, 0, len(raw))
	for _, id := range raw {
		out = append(out, ChainID(id))
	}
	return out, nil
}

// VersionAtBlock returns the active version gate at a hub block.
func (c *ConfigStoreClient) VersionAtBlock(block uint64) uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := uint32(0)
	for i := range c.versions {
		if c.versions[i].coord.BlockNumber <= block {
			v = c.versions[i].version
		}
	}
	return v
}

// VersionAtTimestamp returns the active version gate at a hub timestamp.
func (c *ConfigStoreClient) VersionAtTimestamp(ts uint32) uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := uint32(0)
	for i := range c.versions {
		if c.versions[i].timestamp <= ts {
			v = c.versions[i].version
		}
	}
	return v
}

// DisabledChainsAtBlock returns the disabled chain set at a hub block.
func (c *ConfigStoreClient) DisabledChainsAtBlock(block uint64) []ChainID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ChainID
	for i := range c.disabled {
		if c.disabled[i].coord.BlockNumber <= block {
			out = c.disabled[i].chains
		}
	}
	return append([]ChainID(nil), out...)
}

// EnabledChainsInRange returns the candidates that were enabled at any point
// in [fromBlock, toBlock].
func (c *ConfigStoreClient) EnabledChainsInRange(fromBlock, toBlock uint64, candidates []ChainID) []ChainID {
	disabledAll := make(map[ChainID]bool)
	for _, id := range c.DisabledChainsAtBlock(fromBlock) {
		disabledAll[id] = true
	}
	c.mu.RLock()
	for i := range c.disabled {
		block := c.disabled[i].coord.BlockNumber
		if block <= fromBlock || block > toBlock {
			continue
		}
		// A chain stays "enabled in range" once any in-range entry omits it.
		next := make(map[ChainID]bool)
		for _, id := range c.disabled[i].chains {
			next[id] = true
		}
		for id := range disabledAll {
			if !next[id] {
				delete(disabledAll, id)
			}
		}
	}
	c.mu.RUnlock()
	var out []ChainID
	for _, id := range candidates {
		if !disabledAll[id] {
			out = append(out, id)
		}
	}
	return out
}

// LiteChainsAtTimestamp returns the lite chain set active at a timestamp.
func (c *ConfigStoreClient) LiteChainsAtTimestamp(ts uint32) []ChainID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ChainID
	for i := range c.lite {
		if c.lite[i].timestamp <= ts {
			out = c.lite[i].chains
		}
	}
	return append([]ChainID(nil), out...)
}

// IsChainLiteAtTimestamp reports whether chain was a lite chain at ts.
func (c *ConfigStoreClient) IsChainLiteAtTimestamp(chain ChainID, ts uint32) bool {
	for _, id := range c.LiteChainsAtTimestamp(ts) {
		if id == chain {
			return true
		}
	}
	return false
}

// RateModel returns the rate model for l1Token on the origin→destination
// route at a hub block, preferring a route-specific override.
func (c *ConfigStoreClient) RateModel(l1Token Address, origin, destination ChainID, block uint64) (*RateModel, error) {
	entry, err := c.tokenConfigAtBlock(l1Token, block)
	if err != nil {
		return nil, err
	}
	if override, ok := entry.cfg.RouteRateModels[routeKey(origin, destination)]; ok {
		return override, nil
	}
	return entry.cfg.RateModel, nil
}

// TransferThreshold returns the token's rebalance threshold at a hub block.
func (c *ConfigStoreClient) TransferThreshold(l1Token Address, block uint64) (*big.Int, error) {
	entry, err := c.tokenConfigAtBlock(l1Token, block)
	if err != nil {
		return nil, err
	}
	if entry.cfg.TransferThreshold == nil {
		return nil, fmt.Errorf("token %s has no transferThreshold at block %d: %w", l1Token, block, ErrNotFound)
	}
	return entry.cfg.TransferThreshold, nil
}

// SpokeTargetBalances returns the target balance config for l1Token on chain
// at a hub block. Tokens without the section get a zero target.
func (c *ConfigStoreClient) SpokeTargetBalances(l1Token Address, chain ChainID, block uint64) (*SpokeTargetBalance, error) {
	entry, err := c.tokenConfigAtBlock(l1Token, block)
	if err != nil {
		return nil, err
	}
	if tb, ok := entry.cfg.SpokeTargetBalances[chain]; ok {
		return tb, nil
	}
	return &SpokeTargetBalance{Target: new(big.Int), Threshold: new(big.Int)}, nil
}

// MaxRefundCountAtBlock returns MAX_RELAYER_REPAYMENT_LEAF_SIZE at block.
func (c *ConfigStoreClient) MaxRefundCountAtBlock(block uint64) (uint64, error) {
	return c.uintAtBlock(c.maxRefundLeaf, block)
}

// MaxL1TokenCountAtBlock returns MAX_POOL_REBALANCE_LEAF_SIZE at block.
func (c *ConfigStoreClient) MaxL1TokenCountAtBlock(block uint64) (uint64, error) {
	return c.uintAtBlock(c.maxPoolLeaf, block)
}

func (c *ConfigStoreClient) uintAtBlock(entries []uintEntry, block uint64) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	found := false
	var v uint64
	for i := range entries {
		if entries[i].coord.BlockNumber <= block {
			v = entries[i].value
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("no value at block %d: %w", block, ErrNotFound)
	}
	return v, nil
}

func (c *ConfigStoreClient) tokenConfigAtBlock(l1Token Address, block uint64) (*tokenConfigEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := c.tokenConfigs[l1Token]
	var out *tokenConfigEntry
	for i := range entries {
		if entries[i].coord.BlockNumber <= block {
			out = &entries[i]
		}
	}
	if out == nil {
		return nil, fmt.Errorf("token %s has no config at block %d: %w", l1Token, block, ErrNotFound)
	}
	return out, nil
}
