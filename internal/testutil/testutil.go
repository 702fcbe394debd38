// Package testutil provides deterministic fixture helpers shared by tests.
// Helpers here must never pull in engine packages so that any package can use
// them without import cycles.
package testutil

import (
	"crypto/sha256"
	"fmt"
	"math/big"
)

// DeterministicBytes derives n pseudo-random bytes from a string seed. The
// same seed always yields the same bytes, keeping fixtures reproducible
// across runs and machines.
func DeterministicBytes(seed string, n int) []byte {
	out := make([]byte, 0, n)
	counter := 0
	for len(out) < n {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", seed, counter)))
		out = append(out, sum[:]...)
		counter++
	}
	return out[:n]
}

// MustBig parses a decimal string into a big.Int and panics on failure. For
// test fixtures only.
func MustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(fmt.Sprintf("testutil: %q is not a decimal integer", s))
	}
	return v
}

// Ether scales a whole-unit amount into 1e18 fixed point.
func Ether(units int64) *big.Int {
	out := big.NewInt(units)
	return out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}
