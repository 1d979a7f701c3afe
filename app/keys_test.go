package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/adapters/clock"
	"github.com/artpar/poolgate/adapters/hasher"
	"github.com/artpar/poolgate/adapters/idgen"
	"github.com/artpar/poolgate/adapters/memory"
	"github.com/artpar/poolgate/adapters/random"
	"github.com/artpar/poolgate/app"
	"github.com/artpar/poolgate/domain/apikey"
	"github.com/artpar/poolgate/ports"
)

var admin = apikey.Actor{ID: "admin-1", Type: "admin"}

func newKeyService() (*app.KeyService, *memory.KeyStore, *clock.Fake) {
	store := memory.NewKeyStore()
	clk := clock.NewFake(baseTime)
	svc := app.NewKeyService(app.KeyDeps{
		Store:  store,
		Hasher: hasher.NewKeyed("test-key"),
		Random: random.NewFake(),
		IDGen:  idgen.NewSequential("key-"),
		Clock:  clk,
		Logger: zerolog.Nop(),
	})
	return svc, store, clk
}

// assertIndexed checks that id owns exactly want index entries.
func assertIndexed(t *testing.T, store *memory.KeyStore, id string, want int) {
	t.Helper()
	if got := store.EntriesFor(id); got != want {
		t.Errorf("index entries for %s = %d, want %d", id, got, want)
	}
}

func mustValidate(t *testing.T, svc *app.KeyService, secret string) *apikey.Record {
	t.Helper()
	rec, err := svc.Validate(context.Background(), secret)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return rec
}

func TestKeyService_Create(t *testing.T) {
	svc, store, _ := newKeyService()

	rec, secret, err := svc.Create(context.Background(), apikey.CreateParams{Name: "ci", OwnerID: "u1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !apikey.LooksLikeSecret(secret) {
		t.Errorf("secret %q has the wrong shape", secret)
	}
	if rec.SecretHash == "" || rec.SecretHash == secret {
		t.Error("record must store a hash, not the secret")
	}
	if !rec.IsActive || rec.OwnerType != "user" || !rec.CreatedAt.Equal(baseTime) {
		t.Errorf("Create() = %+v", rec)
	}
	assertIndexed(t, store, rec.ID, 1)

	got := mustValidate(t, svc, secret)
	if got == nil || got.ID != rec.ID {
		t.Errorf("Validate(secret) = %v, want %s", got, rec.ID)
	}
}

func TestKeyService_CreateValidation(t *testing.T) {
	svc, _, _ := newKeyService()

	tests := []struct {
		name  string
		p     apikey.CreateParams
		field string
	}{
		{"no owner", apikey.CreateParams{}, "ownerId"},
		{"negative limit", apikey.CreateParams{OwnerID: "u", Limits: apikey.Limits{WeeklyCostLimit: -1}}, "weeklyCostLimit"},
		{"unknown platform", apikey.CreateParams{OwnerID: "u", AllowedPlatforms: []string{"mainframe"}}, "allowedPlatforms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Create(context.Background(), tt.p)
			var ve *apikey.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Create() error = %v, want ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestKeyService_ScenarioA_Regenerate(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newKeyService()

	k1, oldSecret, _ := svc.Create(ctx, apikey.CreateParams{OwnerID: "u1"})
	_, newSecret, err := svc.Regenerate(ctx, k1.ID)
	if err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	assertIndexed(t, store, k1.ID, 1)

	if rec := mustValidate(t, svc, oldSecret); rec != nil {
		t.Errorf("Validate(old) = %v, want nil", rec.ID)
	}
	rec := mustValidate(t, svc, newSecret)
	if rec == nil || rec.ID != k1.ID || !rec.IsActive {
		t.Errorf("Validate(new) = %+v, want active %s", rec, k1.ID)
	}
}

func TestKeyService_ScenarioB_SoftDeleteRestore(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newKeyService()

	k1, secret, _ := svc.Create(ctx, apikey.CreateParams{OwnerID: "u1"})

	deleted, err := svc.SoftDelete(ctx, k1.ID, admin)
	if err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}
	if !deleted.IsDeleted || deleted.DeletedBy != admin.ID || deleted.DeletedByType != "admin" {
		t.Errorf("SoftDelete() = %+v", deleted)
	}
	assertIndexed(t, store, k1.ID, 0)
	if rec := mustValidate(t, svc, secret); rec != nil {
		t.Error("deleted key must not validate")
	}

	restored, err := svc.Restore(ctx, k1.ID, admin)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.IsDeleted || restored.RestoredBy != admin.ID || restored.DeletedAt != nil {
		t.Errorf("Restore() = %+v", restored)
	}
	assertIndexed(t, store, k1.ID, 1)
	if rec := mustValidate(t, svc, secret); rec == nil || rec.ID != k1.ID {
		t.Error("restored key must validate again")
	}
}

func TestKeyService_Idempotence(t *testing.T) {
	ctx := context.Background()
	svc, store, clk := newKeyService()
	k1, _, _ := svc.Create(ctx, apikey.CreateParams{OwnerID: "u1"})

	first, _ := svc.SoftDelete(ctx, k1.ID, admin)
	clk.Advance(1)
	second, err := svc.SoftDelete(ctx, k1.ID, apikey.Actor{ID: "other"})
	if err != nil {
		t.Fatalf("second SoftDelete() error = %v", err)
	}
	if !second.DeletedAt.Equal(*first.DeletedAt) || second.DeletedBy != admin.ID {
		t.Error("second SoftDelete must not change the record")
	}
	assertIndexed(t, store, k1.ID, 0)

	_, _ = svc.Restore(ctx, k1.ID, admin)
	if _, err := svc.Restore(ctx, k1.ID, admin); err != nil {
		t.Fatalf("second Restore() error = %v", err)
	}
	assertIndexed(t, store, k1.ID, 1)

	if err := svc.HardDelete(ctx, k1.ID, admin); err != nil {
		t.Fatalf("HardDelete() error = %v", err)
	}
	if err := svc.HardDelete(ctx, k1.ID, admin); err != nil {
		t.Fatalf("second HardDelete() error = %v", err)
	}
	assertIndexed(t, store, k1.ID, 0)
	if _, err := svc.Get(ctx, k1.ID); !errors.Is(err, apikey.ErrNotFound) {
		t.Errorf("Get after HardDelete error = %v", err)
	}
}

func TestKeyService_IndexInvariantAcrossLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newKeyService()
	k, _, _ := svc.Create(ctx, apikey.CreateParams{OwnerID: "u1"})

	steps := []struct {
		name string
		run  func() error
		want int
	}{
		{"regenerate", func() error { _, _, err := svc.Regenerate(ctx, k.ID); return err }, 1},
		{"disable", func() error { _, err := svc.SetActive(ctx, k.ID, false); return err }, 1},
		{"enable", func() error { _, err := svc.SetActive(ctx, k.ID, true); return err }, 1},
		{"soft delete", func() error { _, err := svc.SoftDelete(ctx, k.ID, admin); return err }, 0},
		{"regenerate deleted", func() error { _, _, err := svc.Regenerate(ctx, k.ID); return err }, 0},
		{"restore", func() error { _, err := svc.Restore(ctx, k.ID, admin); return err }, 1},
		{"regenerate again", func() error { _, _, err := svc.Regenerate(ctx, k.ID); return err }, 1},
		{"hard delete", func() error { return svc.HardDelete(ctx, k.ID, admin) }, 0},
	}

	for _, s := range steps {
		if err := s.run(); err != nil {
			t.Fatalf("%s: error = %v", s.name, err)
		}
		if got := store.EntriesFor(k.ID); got != s.want {
			t.Errorf("after %s: entries = %d, want %d", s.name, got, s.want)
		}
	}
}

func TestKeyService_RegenerateDeletedThenRestore(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newKeyService()
	k, oldSecret, _ := svc.Create(ctx, apikey.CreateParams{OwnerID: "u1"})

	_, _ = svc.SoftDelete(ctx, k.ID, admin)
	_, newSecret, err := svc.Regenerate(ctx, k.ID)
	if err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	if rec := mustValidate(t, svc, newSecret); rec != nil {
		t.Error("regenerated deleted key must not validate before restore")
	}

	_, _ = svc.Restore(ctx, k.ID, admin)
	if rec := mustValidate(t, svc, newSecret); rec == nil {
		t.Error("new secret should validate after restore")
	}
	if rec := mustValidate(t, svc, oldSecret); rec != nil {
		t.Error("old secret must stay invalid")
	}
}

func TestKeyService_Validate(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown secret", func(t *testing.T) {
		svc, _, _ := newKeyService()
		if rec := mustValidate(t, svc, apikey.FormatSecret(make([]byte, apikey.SecretSize()))); rec != nil {
			t.Error("unknown secret must not validate")
		}
	})

	t.Run("malformed secret", func(t *testing.T) {
		svc, _, _ := newKeyService()
		if rec := mustValidate(t, svc, "sk-nope"); rec != nil {
			t.Error("malformed secret must not validate")
		}
	})

	t.Run("inactive keeps entry", func(t *testing.T) {
		svc, store, _ := newKeyService()
		k, secret, _ := svc.Create(ctx, apikey.CreateParams{OwnerID: "u1"})
		_, _ = svc.SetActive(ctx, k.ID, false)

		if rec := mustValidate(t, svc, secret); rec != nil {
			t.Error("inactive key must not validate")
		}
		assertIndexed(t, store, k.ID, 1)
	})

	t.Run("stale entry removed", func(t *testing.T) {
		svc, store, _ := newKeyService()
		k, secret, _ := svc.Create(ctx, apikey.CreateParams{OwnerID: "u1"})
		// drop the record behind the service's back, leaving the entry
		rec, _ := store.Get(ctx, k.ID)
		_ = store.Delete(ctx, k.ID)
		_ = store.SetIndexEntry(ctx, rec.SecretHash, k.ID)

		if got := mustValidate(t, svc, secret); got != nil {
			t.Error("orphaned entry must not validate")
		}
		assertIndexed(t, store, k.ID, 0)
	})
}

func TestKeyService_NotFound(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newKeyService()

	if _, _, err := svc.Regenerate(ctx, "missing"); !errors.Is(err, apikey.ErrNotFound) {
		t.Errorf("Regenerate error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Restore(ctx, "missing", admin); !errors.Is(err, apikey.ErrNotFound) {
		t.Errorf("Restore error = %v, want ErrNotFound", err)
	}
}

func TestKeyService_ListByTag(t *testing.T) {
	ctx := context.Background()
	svc, _, clk := newKeyService()

	_, _, _ = svc.Create(ctx, apikey.CreateParams{OwnerID: "u1", Tags: []string{"team-a"}})
	clk.Advance(1)
	_, _, _ = svc.Create(ctx, apikey.CreateParams{OwnerID: "u2", Tags: []string{"team-b"}})
	clk.Advance(1)
	_, _, _ = svc.Create(ctx, apikey.CreateParams{OwnerID: "u3", Tags: []string{"team-a", "vip"}})

	got, err := svc.ListByTag(ctx, "team-a")
	if err != nil {
		t.Fatalf("ListByTag() error = %v", err)
	}
	if len(got) != 2 || got[0].OwnerID != "u1" || got[1].OwnerID != "u3" {
		t.Errorf("ListByTag() = %v", got)
	}
}

// interleavingStore runs beforeMutate once, ahead of the next Mutate, to
// land a competing write between the service's decision and its commit.
type interleavingStore struct {
	*memory.KeyStore
	beforeMutate func()
}

func (s *interleavingStore) Mutate(ctx context.Context, id string, change func(apikey.Record) (apikey.Record, bool)) (apikey.Record, error) {
	if hook := s.beforeMutate; hook != nil {
		s.beforeMutate = nil
		hook()
	}
	return s.KeyStore.Mutate(ctx, id, change)
}

var _ ports.KeyStore = (*interleavingStore)(nil)

func TestKeyService_RegenerateKeepsConcurrentSoftDelete(t *testing.T) {
	ctx := context.Background()
	store := &interleavingStore{KeyStore: memory.NewKeyStore()}
	svc := app.NewKeyService(app.KeyDeps{
		Store:  store,
		Hasher: hasher.NewKeyed("test-key"),
		Random: random.NewFake(),
		IDGen:  idgen.NewSequential("key-"),
		Clock:  clock.NewFake(baseTime),
		Logger: zerolog.Nop(),
	})
	k, _, _ := svc.Create(ctx, apikey.CreateParams{OwnerID: "u1"})

	store.beforeMutate = func() {
		if _, err := svc.SoftDelete(ctx, k.ID, admin); err != nil {
			t.Fatalf("SoftDelete() error = %v", err)
		}
	}
	rec, newSecret, err := svc.Regenerate(ctx, k.ID)
	if err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}

	if !rec.IsDeleted {
		t.Error("Regenerate returned a record that undid the soft delete")
	}
	stored, _ := store.Get(ctx, k.ID)
	if !stored.IsDeleted || stored.DeletedBy != admin.ID {
		t.Errorf("stored record = %+v, want deleted by %s", stored, admin.ID)
	}
	if got := mustValidate(t, svc, newSecret); got != nil {
		t.Error("new secret of a deleted key must not validate")
	}
	assertIndexed(t, store.KeyStore, k.ID, 0)
}

func TestKeyService_RestoreKeepsConcurrentRegenerate(t *testing.T) {
	ctx := context.Background()
	store := &interleavingStore{KeyStore: memory.NewKeyStore()}
	svc := app.NewKeyService(app.KeyDeps{
		Store:  store,
		Hasher: hasher.NewKeyed("test-key"),
		Random: random.NewFake(),
		IDGen:  idgen.NewSequential("key-"),
		Clock:  clock.NewFake(baseTime),
		Logger: zerolog.Nop(),
	})
	k, _, _ := svc.Create(ctx, apikey.CreateParams{OwnerID: "u1"})
	_, _ = svc.SoftDelete(ctx, k.ID, admin)

	var newSecret string
	store.beforeMutate = func() {
		_, newSecret, _ = svc.Regenerate(ctx, k.ID)
	}
	if _, err := svc.Restore(ctx, k.ID, admin); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	got := mustValidate(t, svc, newSecret)
	if got == nil || got.ID != k.ID {
		t.Errorf("Validate(regenerated secret) = %v, want %s", got, k.ID)
	}
	assertIndexed(t, store.KeyStore, k.ID, 1)
}

func TestKeyService_ConcurrentRegenerateAndValidate(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newKeyService()
	k, first, _ := svc.Create(ctx, apikey.CreateParams{OwnerID: "u1"})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		secrets = []string{first}
		done    atomic.Bool
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer done.Store(true)
		for i := 0; i < 50; i++ {
			_, secret, err := svc.Regenerate(ctx, k.ID)
			if err != nil {
				t.Errorf("Regenerate() error = %v", err)
				return
			}
			mu.Lock()
			secrets = append(secrets, secret)
			mu.Unlock()
		}
	}()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !done.Load() {
				if n := store.EntriesFor(k.ID); n > 1 {
					t.Errorf("index entries for %s = %d, want at most 1", k.ID, n)
					return
				}
				mu.Lock()
				secret := secrets[len(secrets)-1]
				mu.Unlock()
				if _, err := svc.Validate(ctx, secret); err != nil {
					t.Errorf("Validate() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assertIndexed(t, store, k.ID, 1)
	valid := 0
	for _, secret := range secrets {
		if mustValidate(t, svc, secret) != nil {
			valid++
		}
	}
	if valid != 1 {
		t.Errorf("valid secrets = %d, want exactly the last one", valid)
	}
	if mustValidate(t, svc, secrets[len(secrets)-1]) == nil {
		t.Error("last issued secret should validate")
	}
}

func TestKeyService_ConcurrentLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newKeyService()
	k, _, _ := svc.Create(ctx, apikey.CreateParams{OwnerID: "u1"})

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				_, _ = svc.SoftDelete(ctx, k.ID, admin)
			case 1:
				_, _ = svc.Restore(ctx, k.ID, admin)
			default:
				_, _, _ = svc.Regenerate(ctx, k.ID)
			}
			if n := store.EntriesFor(k.ID); n > 1 {
				t.Errorf("index entries = %d, want at most 1", n)
			}
		}(i)
	}
	wg.Wait()

	rec, _ := svc.Get(ctx, k.ID)
	want := 1
	if rec.IsDeleted {
		want = 0
	}
	assertIndexed(t, store, k.ID, want)
}
