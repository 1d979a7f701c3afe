package idgen_test

import (
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/artpar/poolgate/adapters/idgen"
)

var uuidV4 = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func TestUUID_New(t *testing.T) {
	id := idgen.UUID{}.New()
	if !uuidV4.MatchString(id) {
		t.Errorf("ID %s doesn't match UUID v4 format", id)
	}
}

func TestUUID_Prefix(t *testing.T) {
	id := idgen.UUID{Prefix: "usage_"}.New()
	if !strings.HasPrefix(id, "usage_") {
		t.Fatalf("ID %s missing prefix", id)
	}
	if !uuidV4.MatchString(strings.TrimPrefix(id, "usage_")) {
		t.Errorf("ID %s doesn't end in a UUID", id)
	}
}

func TestSequential_New(t *testing.T) {
	g := idgen.NewSequential("key-")

	for _, want := range []string{"key-1", "key-2", "key-3"} {
		if got := g.New(); got != want {
			t.Errorf("New() = %q, want %q", got, want)
		}
	}
}

func TestSequential_ConcurrentAccess(t *testing.T) {
	g := idgen.NewSequential("")

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := g.New()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate ID: %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 1000 {
		t.Errorf("generated %d unique IDs, want 1000", len(seen))
	}
}
