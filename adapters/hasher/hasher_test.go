package hasher_test

import (
	"strings"
	"testing"

	"github.com/artpar/poolgate/adapters/hasher"
)

func TestKeyed_Deterministic(t *testing.T) {
	h := hasher.NewKeyed("server-key")

	a := h.Hash("cr_abc")
	b := h.Hash("cr_abc")
	if a != b {
		t.Errorf("Hash not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("len(Hash) = %d, want 64", len(a))
	}
	if strings.Contains(a, "cr_abc") {
		t.Error("hash should not contain the secret")
	}
}

func TestKeyed_DependsOnSecretAndKey(t *testing.T) {
	h1 := hasher.NewKeyed("k1")
	h2 := hasher.NewKeyed("k2")

	if h1.Hash("a") == h1.Hash("b") {
		t.Error("different secrets should hash differently")
	}
	if h1.Hash("a") == h2.Hash("a") {
		t.Error("different keys should hash differently")
	}
}

func TestKeyed_LongKey(t *testing.T) {
	h := hasher.NewKeyed(strings.Repeat("x", 200))
	if got := h.Hash("s"); len(got) != 64 {
		t.Errorf("len(Hash) = %d, want 64", len(got))
	}
}

func TestFake(t *testing.T) {
	if got := (hasher.Fake{}).Hash("cr_1"); got != "h:cr_1" {
		t.Errorf("Hash = %q, want %q", got, "h:cr_1")
	}
}

func TestBcrypt_RoundTrip(t *testing.T) {
	h := hasher.NewBcrypt(4)

	hash, err := h.HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !h.ComparePassword(hash, "secret") {
		t.Error("ComparePassword should accept the right password")
	}
	if h.ComparePassword(hash, "wrong") {
		t.Error("ComparePassword should reject the wrong password")
	}
}

func TestNewBcrypt_InvalidCost(t *testing.T) {
	h := hasher.NewBcrypt(100)
	hash, err := h.HashPassword("x")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !h.ComparePassword(hash, "x") {
		t.Error("default cost hasher should still round-trip")
	}
}
