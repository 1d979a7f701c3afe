package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/artpar/poolgate/adapters/memory"
	"github.com/artpar/poolgate/domain/account"
	"github.com/artpar/poolgate/ports"
)

func TestAccountStore_MarkError(t *testing.T) {
	ctx := context.Background()
	acc := account.Account{ID: "a1", Platform: account.PlatformClaude, Status: account.StatusActive, Schedulable: true}
	s := memory.NewAccountStore(acc)

	if err := s.MarkError(ctx, acc.Ref(), "401 unauthorized", baseTime); err != nil {
		t.Fatalf("MarkError() error = %v", err)
	}

	got, _ := s.Get(ctx, acc.Ref())
	if got.Status != account.StatusError || got.Schedulable {
		t.Errorf("got status %s schedulable %v", got.Status, got.Schedulable)
	}
	if got.ErrorMessage != "401 unauthorized" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestAccountStore_UnknownRef(t *testing.T) {
	ctx := context.Background()
	s := memory.NewAccountStore()
	ref := account.Ref{Platform: account.PlatformOpenAI, ID: "x"}

	if _, err := s.Get(ctx, ref); !errors.Is(err, ports.ErrAccountNotFound) {
		t.Errorf("Get error = %v, want ErrAccountNotFound", err)
	}
	if err := s.MarkUsed(ctx, ref, baseTime); !errors.Is(err, ports.ErrAccountNotFound) {
		t.Errorf("MarkUsed error = %v, want ErrAccountNotFound", err)
	}
}

func TestAccountStore_ListOrdered(t *testing.T) {
	ctx := context.Background()
	s := memory.NewAccountStore(
		account.Account{ID: "b", Platform: account.PlatformOpenAI},
		account.Account{ID: "a", Platform: account.PlatformOpenAI},
		account.Account{ID: "z", Platform: account.PlatformClaude},
	)

	list, _ := s.List(ctx)
	want := []string{"claude:z", "openai:a", "openai:b"}
	for i, a := range list {
		if a.Ref().String() != want[i] {
			t.Errorf("List[%d] = %s, want %s", i, a.Ref(), want[i])
		}
	}
}
