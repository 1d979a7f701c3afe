// Package random provides Random implementations.
package random

import (
	"crypto/rand"
	"sync"

	"github.com/artpar/poolgate/ports"
)

// Real uses crypto/rand; issued secrets depend on it.
type Real struct{}

// Bytes generates n cryptographically secure random bytes.
func (Real) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Fake returns preset byte strings, then a counter-derived sequence.
// Each call yields different bytes so successive secrets never collide.
type Fake struct {
	mu      sync.Mutex
	counter int
	values  [][]byte
}

// NewFake creates a fake random source returning values first.
func NewFake(values ...[]byte) *Fake {
	return &Fake{values: values}
}

// Bytes returns the next preset value (truncated or zero padded to n)
// or deterministic counter bytes.
func (f *Fake) Bytes(n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := make([]byte, n)
	if len(f.values) > 0 {
		copy(b, f.values[0])
		f.values = f.values[1:]
		return b, nil
	}

	f.counter++
	for i := range b {
		b[i] = byte((f.counter*31 + i) % 256)
	}
	return b, nil
}

// Ensure interface compliance.
var (
	_ ports.Random = Real{}
	_ ports.Random = (*Fake)(nil)
)
