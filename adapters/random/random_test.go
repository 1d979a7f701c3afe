package random_test

import (
	"bytes"
	"testing"

	"github.com/artpar/poolgate/adapters/random"
)

func TestReal_Bytes(t *testing.T) {
	r := random.Real{}

	a, err := r.Bytes(32)
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	b, _ := r.Bytes(32)

	if len(a) != 32 {
		t.Errorf("len = %d, want 32", len(a))
	}
	if bytes.Equal(a, b) {
		t.Error("two reads should differ")
	}
}

func TestFake_PresetThenCounter(t *testing.T) {
	f := random.NewFake([]byte{1, 2, 3}, []byte{9, 9, 9, 9, 9})

	got, _ := f.Bytes(4)
	if !bytes.Equal(got, []byte{1, 2, 3, 0}) {
		t.Errorf("first = %v, want padded preset", got)
	}
	got, _ = f.Bytes(2)
	if !bytes.Equal(got, []byte{9, 9}) {
		t.Errorf("second = %v, want truncated preset", got)
	}

	x, _ := f.Bytes(8)
	y, _ := f.Bytes(8)
	if bytes.Equal(x, y) {
		t.Error("counter bytes should differ between calls")
	}
}

func TestFake_Deterministic(t *testing.T) {
	a, _ := random.NewFake().Bytes(16)
	b, _ := random.NewFake().Bytes(16)
	if !bytes.Equal(a, b) {
		t.Error("fresh fakes should produce the same sequence")
	}
}
