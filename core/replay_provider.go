package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strconv"
)

// ReplayFixture is the JSON document a ReplayProvider serves a chain from.
// It captures everything the engine would otherwise pull over RPC, which
// makes reconstructions replayable offline and byte-for-byte comparable.
type ReplayFixture struct {
	ChainID     ChainID           `json:"chain_id"`
	LatestBlock uint64            `json:"latest_block"`
	CurrentTime uint32            `json:"current_time"`
	Timestamps  map[string]uint32 `json:"timestamps"`

	Deposits         []*Deposit           `json:"deposits,omitempty"`
	Fills            []*Fill              `json:"fills,omitempty"`
	SlowFillRequests []*SlowFillRequest   `json:"slow_fill_requests,omitempty"`
	SpeedUps         []*SpeedUp           `json:"speed_ups,omitempty"`
	Proposals        []*RootBundle        `json:"proposals,omitempty"`
	ExecutedLeaves   []*ExecutedRootBundleLeaf `json:"executed_leaves,omitempty"`
	Routes           []*PoolRebalanceRoute `json:"routes,omitempty"`
	GlobalConfigs    []*UpdatedGlobalConfig `json:"global_configs,omitempty"`
	TokenConfigs     []*UpdatedTokenConfig  `json:"token_configs,omitempty"`

	RootBundleRelays []*RelayedRootBundle      `json:"root_bundle_relays,omitempty"`
	RefundExecutions []*RelayerRefundExecution `json:"refund_executions,omitempty"`
	TokensBridged    []*TokensBridged          `json:"tokens_bridged,omitempty"`
	EnabledRoutes    []*EnabledDepositRoute    `json:"enabled_routes,omitempty"`

	NumberOfDeposits map[string]uint64     `json:"number_of_deposits,omitempty"`
	TxSenders        map[string]Address    `json:"tx_senders,omitempty"`
	FillStatuses     map[string]FillStatus `json:"fill_statuses,omitempty"`
	Utilization      map[string]struct {
		Before string `json:"before"`
		After  string `json:"after"`
	} `json:"utilization,omitempty"`
}

// ReplayProvider implements SpokeProvider and HubProvider over a static
// fixture.
type ReplayProvider struct {
	fx *ReplayFixture
}

// NewReplayProvider wraps an already-parsed fixture.
func NewReplayProvider(fx *ReplayFixture) *ReplayProvider {
	return &ReplayProvider{fx: fx}
}

// LoadReplayFixture parses a fixture file.
func LoadReplayFixture(path string) (*ReplayFixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	var fx ReplayFixture
	if err := json.Unmarshal(raw, &fx); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return &fx, nil
}

// ChainID returns the fixture's chain.
func (p *ReplayProvider) ChainID() ChainID { return p.fx.ChainID }

// Fixture exposes the backing document.
func (p *ReplayProvider) Fixture() *ReplayFixture { return p.fx }

func (p *ReplayProvider) LatestBlock(ctx context.Context) (uint64, error) {
	return p.fx.LatestBlock, nil
}

func (p *ReplayProvider) CurrentTime(ctx context.Context) (uint32, error) {
	return p.fx.CurrentTime, nil
}

// BlockTimestamp serves recorded timestamps, falling back to the timestamp of
// the nearest recorded block at or below the request when the exact block is
// absent.
func (p *ReplayProvider) BlockTimestamp(ctx context.Context, block uint64) (uint32, error) {
	if ts, ok := p.fx.Timestamps[strconv.FormatUint(block, 10)]; ok {
		return ts, nil
	}
	var bestBlock uint64
	var bestTS uint32
	found := false
	for key, ts := range p.fx.Timestamps {
		b, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			continue
		}
		if b <= block && (!found || b > bestBlock) {
			bestBlock, bestTS, found = b, ts, true
		}
	}
	if !found {
		return 0, fmt.Errorf("chain %d has no timestamp at or below block %d: %w", p.fx.ChainID, block, ErrNotFound)
	}
	return bestTS, nil
}

func inRange(coord EventCoord, from, to uint64) bool {
	return coord.BlockNumber >= from && coord.BlockNumber <= to
}

func (p *ReplayProvider) ReadEvents(ctx context.Context, kind EventKind, fromBlock, toBlock uint64) ([]ChainEvent, error) {
	var out []ChainEvent
	switch kind {
	case KindDeposit:
		for _, e := range p.fx.Deposits {
			if inRange(e.EventCoord, fromBlock, toBlock) {
				out = append(out, e)
			}
		}
	case KindFill:
		for _, e := range p.fx.Fills {
			if inRange(e.EventCoord, fromBlock, toBlock) {
				out = append(out, e)
			}
		}
	case KindSlowFillRequest:
		for _, e := range p.fx.SlowFillRequests {
			if inRange(e.EventCoord, fromBlock, toBlock) {
				out = append(out, e)
			}
		}
	case KindSpeedUp:
		for _, e := range p.fx.SpeedUps {
			if inRange(e.EventCoord, fromBlock, toBlock) {
				out = append(out, e)
			}
		}
	case KindProposedRootBundle:
		for _, e := range p.fx.Proposals {
			if inRange(e.EventCoord, fromBlock, toBlock) {
				out = append(out, e)
			}
		}
	case KindExecutedRootBundle:
		for _, e := range p.fx.ExecutedLeaves {
			if inRange(e.EventCoord, fromBlock, toBlock) {
				out = append(out, e)
			}
		}
	case KindPoolRebalanceRoute:
		for _, e := range p.fx.Routes {
			if inRange(e.EventCoord, fromBlock, toBlock) {
				out = append(out, e)
			}
		}
	case KindRelayedRootBundle:
		for _, e := range p.fx.RootBundleRelays {
			if inRange(e.EventCoord, fromBlock, toBlock) {
				out = append(out, e)
			}
		}
	case KindRelayerRefundExecution:
		for _, e := range p.fx.RefundExecutions {
			if inRange(e.EventCoord, fromBlock, toBlock) {
				out = append(out, e)
			}
		}
	case KindTokensBridged:
		for _, e := range p.fx.TokensBridged {
			if inRange(e.EventCoord, fromBlock, toBlock) {
				out = append(out, e)
			}
		}
	case KindEnabledDepositRoute:
		for _, e := range p.fx.EnabledRoutes {
			if inRange(e.EventCoord, fromBlock, toBlock) {
				out = append(out, e)
			}
		}
	case KindUpdatedGlobalConfig:
		for _, e := range p.fx.GlobalConfigs {
			if inRange(e.EventCoord, fromBlock, toBlock) {
				out = append(out, e)
			}
		}
	case KindUpdatedTokenConfig:
		for _, e := range p.fx.TokenConfigs {
			if inRange(e.EventCoord, fromBlock, toBlock) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// NumberOfDeposits serves the deposit counter recorded at the nearest block
// at or below the request.
func (p *ReplayProvider) NumberOfDeposits(ctx context.Context, block uint64) (uint64, error) {
	type entry struct {
		block uint64
		count uint64
	}
	entries := make([]entry, 0, len(p.fx.NumberOfDeposits))
	for key, count := range p.fx.NumberOfDeposits {
		b, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, entry{block: b, count: count})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].block < entries[j].block })
	var out uint64
	for _, e := range entries {
		if e.block <= block {
			out = e.count
		}
	}
	return out, nil
}

func (p *ReplayProvider) TxSender(ctx context.Context, tx Hash) (Address, error) {
	sender, ok := p.fx.TxSenders[tx.String()]
	if !ok {
		return Address{}, fmt.Errorf("tx %s sender: %w", tx, ErrNotFound)
	}
	return sender, nil
}

func (p *ReplayProvider) RelayFillStatus(ctx context.Context, rd *RelayData, destination ChainID, block uint64) (FillStatus, error) {
	hash := RelayDataHash(rd, destination)
	if status, ok := p.fx.FillStatuses[hash.String()]; ok {
		return status, nil
	}
	return StatusUnfilled, nil
}

func (p *ReplayProvider) LiquidityUtilization(ctx context.Context, l1Token Address, block uint64, amount *big.Int) (*big.Int, *big.Int, error) {
	u, ok := p.fx.Utilization[l1Token.String()]
	if !ok {
		return new(big.Int), new(big.Int), nil
	}
	before, okB := new(big.Int).SetString(u.Before, 10)
	after, okA := new(big.Int).SetString(u.After, 10)
	if !okB || !okA {
		return nil, nil, fmt.Errorf("token %s utilization fixture is not decimal", l1Token)
	}
	return before, after, nil
}
