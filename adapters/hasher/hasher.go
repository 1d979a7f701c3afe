// Package hasher provides secret and password hashing implementations.
package hasher

import (
	"encoding/hex"

	"github.com/artpar/poolgate/ports"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/blake2b"
)

// Keyed derives index hashes with keyed BLAKE2b-256.
// The same secret always maps to the same hex digest under one key,
// so the digest can serve as the reverse-index field.
type Keyed struct {
	key []byte
}

// NewKeyed creates a keyed hasher. Keys longer than 64 bytes are
// folded with an unkeyed BLAKE2b-512 first.
func NewKeyed(key string) *Keyed {
	k := []byte(key)
	if len(k) > blake2b.Size {
		sum := blake2b.Sum512(k)
		k = sum[:]
	}
	return &Keyed{key: k}
}

// Hash returns the hex digest of secret.
func (h *Keyed) Hash(secret string) string {
	d, err := blake2b.New256(h.key)
	if err != nil {
		// only reachable for keys over 64 bytes, which NewKeyed folds
		panic(err)
	}
	d.Write([]byte(secret))
	return hex.EncodeToString(d.Sum(nil))
}

// Ensure interface compliance.
var _ ports.SecretHasher = (*Keyed)(nil)

// Fake tags secrets instead of hashing them (NOT FOR PRODUCTION).
type Fake struct{}

// Hash returns "h:" + secret.
func (Fake) Hash(secret string) string {
	return "h:" + secret
}

// Ensure interface compliance.
var _ ports.SecretHasher = Fake{}

// Bcrypt hashes and verifies the admin password.
type Bcrypt struct {
	cost int
}

// NewBcrypt creates a bcrypt hasher with the given cost.
func NewBcrypt(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Bcrypt{cost: cost}
}

// HashPassword generates a bcrypt hash from plaintext.
func (h *Bcrypt) HashPassword(plaintext string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	return string(b), err
}

// ComparePassword checks if plaintext matches hash.
func (h *Bcrypt) ComparePassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
