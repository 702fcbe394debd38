package core

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Address is the canonical 32-byte account identifier used on every chain the
// engine tracks. On EVM chains only the low 20 bytes are significant; the
// address is EVM-valid iff the high 12 bytes are zero.
type Address [32]byte

// Hash is a 32-byte cryptographic hash.
type Hash [32]byte

// ChainID identifies a chain. The hub is a chain like any other.
type ChainID uint64

// HubChainID is the chain that hosts the pool and the config store. It can
// never be disabled.
const HubChainID ChainID = 1

// ZeroAddress is the all-zero address. Deposits carrying it as output token
// have their output token resolved from the hub token mapping.
var ZeroAddress Address

// AddressFromEVM widens a 20-byte EVM address into its canonical form.
func AddressFromEVM(a common.Address) Address {
	var out Address
	copy(out[12:], a[:])
	return out
}

// AddressFromBytes builds an address from raw bytes. Inputs of 20 bytes are
// treated as EVM addresses, inputs of 32 bytes as already canonical.
func AddressFromBytes(b []byte) (Address, error) {
	var out Address
	switch len(b) {
	case 20:
		copy(out[12:], b)
	case 32:
		copy(out[:], b)
	default:
		return out, fmt.Errorf("address must be 20 or 32 bytes, got %d", len(b))
	}
	return out, nil
}

// ParseAddress decodes a 0x-prefixed hex address of either width.
func ParseAddress(s string) (Address, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	return AddressFromBytes(raw)
}

// IsEVMValid reports whether the address fits into 20 bytes.
func (a Address) IsEVMValid() bool {
	for _, b := range a[:12] {
		if b != 0 {
			return false
		}
	}
	return true
}

// EVM truncates the address to its EVM form. Only meaningful when IsEVMValid.
func (a Address) EVM() common.Address {
	var out common.Address
	copy(out[:], a[12:])
	return out
}

// IsZero reports whether the address is all zero bytes.
func (a Address) IsZero() bool { return a == ZeroAddress }

// String renders EVM-valid addresses in their checksummed 20-byte form and
// everything else as full-width hex.
func (a Address) String() string {
	if a.IsEVMValid() {
		return a.EVM().Hex()
	}
	return hexutil.Encode(a[:])
}

// MarshalText implements encoding.TextMarshaler so addresses can key JSON maps.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// String renders the hash as 0x-prefixed hex.
func (h Hash) String() string { return hexutil.Encode(h[:]) }

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	raw, err := hexutil.Decode(string(text))
	if err != nil {
		return err
	}
	if len(raw) != 32 {
		return fmt.Errorf("hash must be 32 bytes, got %d", len(raw))
	}
	copy(h[:], raw)
	return nil
}

// ChainFamily distinguishes address formats across chains.
type ChainFamily uint8

const (
	FamilyEVM ChainFamily = iota
	FamilySVM
)

var (
	familyMu sync.RWMutex
	families = map[ChainID]ChainFamily{}
)

// RegisterChainFamily records the address family of a chain. Unregistered
// chains default to EVM.
func RegisterChainFamily(chain ChainID, fam ChainFamily) {
	familyMu.Lock()
	defer familyMu.Unlock()
	families[chain] = fam
}

// ChainFamilyOf returns the registered family for chain, defaulting to EVM.
func ChainFamilyOf(chain ChainID) ChainFamily {
	familyMu.RLock()
	defer familyMu.RUnlock()
	if fam, ok := families[chain]; ok {
		return fam
	}
	return FamilyEVM
}

// IsEVMChain reports whether addresses on chain are 20-byte EVM addresses.
func IsEVMChain(chain ChainID) bool { return ChainFamilyOf(chain) == FamilyEVM }

// ValidOn reports whether the address is usable on the given chain.
func (a Address) ValidOn(chain ChainID) bool {
	if IsEVMChain(chain) {
		return a.IsEVMValid()
	}
	return true
}

// EventCoord locates an event on its chain. The triple (BlockNumber, TxIndex,
// LogIndex) totally orders events within a chain.
type EventCoord struct {
	BlockNumber uint64 `json:"block_number"`
	TxIndex     uint32 `json:"tx_index"`
	LogIndex    uint32 `json:"log_index"`
	TxHash      Hash   `json:"tx_hash"`
}

// Compare orders two coordinates; negative means c precedes o.
func (c EventCoord) Compare(o EventCoord) int {
	switch {
	case c.BlockNumber != o.BlockNumber:
		if c.BlockNumber < o.BlockNumber {
			return -1
		}
		return 1
	case c.TxIndex != o.TxIndex:
		if c.TxIndex < o.TxIndex {
			return -1
		}
		return 1
	case c.LogIndex != o.LogIndex:
		if c.LogIndex < o.LogIndex {
			return -1
		}
		return 1
	}
	return 0
}

// Before reports whether c strictly precedes o in chain order.
func (c EventCoord) Before(o EventCoord) bool { return c.Compare(o) < 0 }

// EventKey lets concrete events satisfy ChainEvent by embedding EventCoord.
func (c EventCoord) EventKey() EventCoord { return c }

// SortKeyBytes is the coordinate's fixed-width byte form, used for dedupe keys.
func (c EventCoord) SortKeyBytes() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%020d:%010d:%010d", c.BlockNumber, c.TxIndex, c.LogIndex)
	return buf.Bytes()
}
