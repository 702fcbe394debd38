package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// relayTuple is the canonical field ordering hashed into a RelayDataHash. The
// order is part of the wire contract and must never change.
type relayTuple struct {
	Depositor           Address
	Recipient           Address
	ExclusiveRelayer    Address
	InputToken          Address
	OutputToken         Address
	InputAmount         *big.Int
	OutputAmount        *big.Int
	OriginChainID       uint64
	DepositID           *big.Int
	FillDeadline        uint32
	ExclusivityDeadline uint32
	Message             []byte
	DestinationChainID  uint64
}

// RelayDataHash derives the collision-resistant key identifying a bridge
// intent. Equal hashes mean the same intent regardless of which chain emitted
// the event.
func RelayDataHash(rd *RelayData, destination ChainID) Hash {
	tuple := relayTuple{
		Depositor:           rd.Depositor,
		Recipient:           rd.Recipient,
		ExclusiveRelayer:    rd.ExclusiveRelayer,
		InputToken:          rd.InputToken,
		OutputToken:         rd.OutputToken,
		InputAmount:         orZero(rd.InputAmount),
		OutputAmount:        orZero(rd.OutputAmount),
		OriginChainID:       uint64(rd.OriginChainID),
		DepositID:           orZero(rd.DepositID),
		FillDeadline:        rd.FillDeadline,
		ExclusivityDeadline: rd.ExclusivityDeadline,
		Message:             rd.Message,
		DestinationChainID:  uint64(destination),
	}
	raw, err := rlp.EncodeToBytes(&tuple)
	if err != nil {
		// All tuple fields are RLP-encodable; this cannot fail at runtime.
		panic(err)
	}
	var out Hash
	copy(out[:], crypto.Keccak256(raw))
	return out
}

// HashMessage derives the message hash carried on fills and slow fill
// requests.
func HashMessage(message []byte) Hash {
	var out Hash
	copy(out[:], crypto.Keccak256(message))
	return out
}

var emptyMessageHash = HashMessage(nil)

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Hash is the RelayDataHash of the deposit.
func (d *Deposit) Hash() Hash { return RelayDataHash(&d.RelayData, d.DestinationChainID) }

// Hash is the RelayDataHash of the fill's relay data.
func (f *Fill) Hash() Hash { return RelayDataHash(&f.RelayData, f.DestinationChainID) }

// Hash is the RelayDataHash of the requested relay.
func (r *SlowFillRequest) Hash() Hash { return RelayDataHash(&r.RelayData, r.DestinationChainID) }
