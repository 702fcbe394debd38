package core

import (
	"math"
	"math/big"
)

// InfiniteFillDeadline marks a fill whose matching deposit may live in any
// past bundle; finite deadlines bound the lookback.
const InfiniteFillDeadline uint32 = math.MaxUint32

// FillType describes how a relay was satisfied on the destination chain.
type FillType uint8

const (
	// FastFill is a competitive relayer fill.
	FastFill FillType = iota
	// ReplacedSlowFill is a fast fill that raced an earlier slow fill request.
	ReplacedSlowFill
	// SlowFill is an execution of a slow relay leaf out of pool liquidity.
	SlowFill
)

// FillStatus is the destination spoke's on-chain view of a relay.
type FillStatus uint8

const (
	StatusUnfilled FillStatus = iota
	StatusRequestedSlowFill
	StatusFilled
)

// RelayData carries the fields shared by deposits, fills and slow fill
// requests. Equal RelayData means the same bridge intent.
type RelayData struct {
	Depositor           Address  `json:"depositor"`
	Recipient           Address  `json:"recipient"`
	ExclusiveRelayer    Address  `json:"exclusive_relayer"`
	InputToken          Address  `json:"input_token"`
	OutputToken         Address  `json:"output_token"`
	InputAmount         *big.Int `json:"input_amount"`
	OutputAmount        *big.Int `json:"output_amount"`
	OriginChainID       ChainID  `json:"origin_chain_id"`
	DepositID           *big.Int `json:"deposit_id"`
	FillDeadline        uint32   `json:"fill_deadline"`
	ExclusivityDeadline uint32   `json:"exclusivity_deadline"`
	Message             []byte   `json:"message"`
}

// IsUnsafeDepositID reports whether the id exceeds 32 bits. Unsafe ids are
// assigned out of band and are excluded from min/max id tracking and from the
// deposit-count binary search.
func IsUnsafeDepositID(id *big.Int) bool {
	return id.Sign() < 0 || id.BitLen() > 32
}

// Deposit is a transfer intent emitted on its origin spoke.
type Deposit struct {
	RelayData
	DestinationChainID ChainID `json:"destination_chain_id"`
	QuoteTimestamp     uint32  `json:"quote_timestamp"`
	MessageHash        Hash    `json:"message_hash"`
	QuoteBlockNumber   uint64  `json:"quote_block_number"`
	FromLiteChain      bool    `json:"from_lite_chain"`
	ToLiteChain        bool    `json:"to_lite_chain"`
	EventCoord

	// Set during reconstruction on slow-fill leaves, never by ingestion.
	LpFeePct *big.Int `json:"lp_fee_pct,omitempty"`

	// Populated when the depositor signs a valid speed-up.
	SpeedUpSignature    []byte   `json:"speed_up_signature,omitempty"`
	UpdatedOutputAmount *big.Int `json:"updated_output_amount,omitempty"`
	UpdatedRecipient    Address  `json:"updated_recipient,omitempty"`
	UpdatedMessage      []byte   `json:"updated_message,omitempty"`
}

// IsZeroValue reports whether the deposit moves no value and carries no
// message. Zero-value deposits are excluded from all processing.
func (d *Deposit) IsZeroValue() bool {
	return (d.InputAmount == nil || d.InputAmount.Sign() == 0) && len(d.Message) == 0
}

// RelayExecutionInfo records the relayer-updated relay parameters applied at
// fill time.
type RelayExecutionInfo struct {
	UpdatedRecipient    Address  `json:"updated_recipient"`
	UpdatedOutputAmount *big.Int `json:"updated_output_amount"`
	UpdatedMessageHash  Hash     `json:"updated_message_hash"`
	FillType            FillType `json:"fill_type"`
}

// Fill is a relay execution emitted on the destination spoke.
type Fill struct {
	RelayData
	DestinationChainID ChainID            `json:"destination_chain_id"`
	Relayer            Address            `json:"relayer"`
	RepaymentChainID   ChainID            `json:"repayment_chain_id"`
	ExecutionInfo      RelayExecutionInfo `json:"relay_execution_info"`
	MessageHash        Hash               `json:"message_hash"`
	EventCoord

	// Set during reconstruction, never by ingestion.
	LpFeePct       *big.Int `json:"lp_fee_pct,omitempty"`
	QuoteTimestamp uint32   `json:"quote_timestamp,omitempty"`
}

// IsSlowFill reports whether the fill executed a slow relay leaf.
func (f *Fill) IsSlowFill() bool { return f.ExecutionInfo.FillType == SlowFill }

// IsZeroValue mirrors Deposit.IsZeroValue for the fill's relay data.
func (f *Fill) IsZeroValue() bool {
	return (f.InputAmount == nil || f.InputAmount.Sign() == 0) && f.MessageHash == emptyMessageHash
}

// Clone returns a deep copy; reconstruction rewrites relayer and repayment
// chain on copies only.
func (f *Fill) Clone() *Fill {
	out := *f
	out.InputAmount = cloneBig(f.InputAmount)
	out.OutputAmount = cloneBig(f.OutputAmount)
	out.DepositID = cloneBig(f.DepositID)
	out.ExecutionInfo.UpdatedOutputAmount = cloneBig(f.ExecutionInfo.UpdatedOutputAmount)
	out.LpFeePct = cloneBig(f.LpFeePct)
	out.Message = append([]byte(nil), f.Message...)
	return &out
}

// SlowFillRequest asks the pool to satisfy an unfilled relay.
type SlowFillRequest struct {
	RelayData
	DestinationChainID ChainID `json:"destination_chain_id"`
	MessageHash        Hash    `json:"message_hash"`
	EventCoord
}

// SpeedUp is a depositor-signed update lowering the output amount of a
// pending deposit.
type SpeedUp struct {
	Depositor           Address  `json:"depositor"`
	DepositID           *big.Int `json:"deposit_id"`
	UpdatedOutputAmount *big.Int `json:"updated_output_amount"`
	UpdatedRecipient    Address  `json:"updated_recipient"`
	UpdatedMessage      []byte   `json:"updated_message"`
	DepositorSignature  []byte   `json:"depositor_signature"`
	OriginChainID       ChainID  `json:"origin_chain_id"`
	EventCoord
}

// RelayedRootBundle is a root bundle mirrored onto a spoke.
type RelayedRootBundle struct {
	RootBundleID     uint32 `json:"root_bundle_id"`
	RelayerRefundRoot Hash  `json:"relayer_refund_root"`
	SlowRelayRoot    Hash   `json:"slow_relay_root"`
	EventCoord
}

// RelayerRefundExecution records an executed relayer refund leaf on a spoke.
type RelayerRefundExecution struct {
	RootBundleID    uint32     `json:"root_bundle_id"`
	LeafID          uint32     `json:"leaf_id"`
	L2Token         Address    `json:"l2_token"`
	AmountToReturn  *big.Int   `json:"amount_to_return"`
	RefundAddresses []Address  `json:"refund_addresses"`
	RefundAmounts   []*big.Int `json:"refund_amounts"`
	EventCoord
}

// TokensBridged records liquidity returned from a spoke to the hub.
type TokensBridged struct {
	L2Token      Address  `json:"l2_token"`
	Amount       *big.Int `json:"amount"`
	ChainID      ChainID  `json:"chain_id"`
	LeafID       uint32   `json:"leaf_id"`
	EventCoord
}

// EnabledDepositRoute toggles an origin token route on a spoke.
type EnabledDepositRoute struct {
	OriginToken        Address `json:"origin_token"`
	DestinationChainID ChainID `json:"destination_chain_id"`
	Enabled            bool    `json:"enabled"`
	EventCoord
}

// RootBundle is a hub-chain bundle proposal.
type RootBundle struct {
	Proposer                     Address  `json:"proposer"`
	RequestExpirationTimestamp   uint32   `json:"request_expiration_timestamp"`
	UnclaimedPoolRebalanceLeaves uint32   `json:"unclaimed_pool_rebalance_leaves"`
	PoolRebalanceLeafCount       uint32   `json:"pool_rebalance_leaf_count"`
	BundleEvaluationBlockNumbers []uint64 `json:"bundle_evaluation_block_numbers"`
	PoolRebalanceRoot            Hash     `json:"pool_rebalance_root"`
	RelayerRefundRoot            Hash     `json:"relayer_refund_root"`
	SlowRelayRoot                Hash     `json:"slow_relay_root"`
	EventCoord
}

// ExecutedRootBundleLeaf is one executed pool-rebalance leaf of a proposal.
type ExecutedRootBundleLeaf struct {
	GroupIndex uint32  `json:"group_index"`
	LeafID     uint32  `json:"leaf_id"`
	ChainID    ChainID `json:"chain_id"`
	EventCoord
}

// PoolRebalanceRoute maps an L1 token to its L2 counterpart on one chain.
type PoolRebalanceRoute struct {
	DestinationChainID ChainID `json:"destination_chain_id"`
	L1Token            Address `json:"l1_token"`
	DestinationToken   Address `json:"destination_token"`
	EventCoord
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
