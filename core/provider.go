package core

import "context"

// SpokeProvider is the transport-facing surface of a spoke chain. Connection
// management, retries and rate limiting live behind it.
type SpokeProvider interface {
	// LatestBlock returns the chain head visible to the provider.
	LatestBlock(ctx context.Context) (uint64, error)
	// CurrentTime returns the chain's current header timestamp.
	CurrentTime(ctx context.Context) (uint32, error)
	// BlockTimestamp returns the header timestamp at block.
	BlockTimestamp(ctx context.Context, block uint64) (uint32, error)
	// ReadEvents returns the logs of one kind in [fromBlock, toBlock],
	// possibly out of order.
	ReadEvents(ctx context.Context, kind EventKind, fromBlock, toBlock uint64) ([]ChainEvent, error)
	// NumberOfDeposits returns the spoke's deposit counter at a block tag.
	NumberOfDeposits(ctx context.Context, block uint64) (uint64, error)
	// TxSender resolves the sender of a transaction.
	TxSender(ctx context.Context, tx Hash) (Address, error)
	// RelayFillStatus is the destination spoke's fill-status oracle.
	RelayFillStatus(ctx context.Context, rd *RelayData, destination ChainID, block uint64) (FillStatus, error)
}

// HubView is the read-only hub surface the spoke clients depend on. It breaks
// the client reference cycle: the hub owns the full client, spokes see this.
type HubView interface {
	BlockNumberForTimestamp(ctx context.Context, ts uint32) (uint64, error)
	L2TokenForL1Token(l1Token Address, chain ChainID, atBlock uint64) (Address, bool)
	L1TokenForL2Token(l2Token Address, chain ChainID, atBlock uint64) (Address, bool)
	AreTokensEquivalent(inputToken Address, origin ChainID, outputToken Address, destination ChainID, atBlock uint64) bool
	LatestBlockSearched() uint64
}

// ConfigView is the pure-query surface of the config store.
type ConfigView interface {
	VersionAtBlock(block uint64) uint32
	VersionAtTimestamp(ts uint32) uint32
	IsChainLiteAtTimestamp(chain ChainID, ts uint32) bool
	DisabledChainsAtBlock(block uint64) []ChainID
}
