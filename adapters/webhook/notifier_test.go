package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/poolgate/adapters/clock"
	adapter "github.com/artpar/poolgate/adapters/webhook"
	"github.com/artpar/poolgate/domain/webhook"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type received struct {
	body      []byte
	signature string
	event     string
}

func receiver(t *testing.T, status int) (*httptest.Server, func() []received) {
	t.Helper()
	var mu sync.Mutex
	var got []received
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, received{body: body, signature: r.Header.Get(adapter.HeaderSignature), event: r.Header.Get(adapter.HeaderEvent)})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

func TestNotifier_Delivers(t *testing.T) {
	srv, got := receiver(t, http.StatusOK)
	n := adapter.New(adapter.Config{Endpoints: []adapter.Endpoint{{URL: srv.URL, Secret: "s3cret"}}}, clock.NewFake(baseTime), zerolog.Nop())

	alert := webhook.Alert{
		APIKeyID:     "key-1",
		APIKeyName:   "ci",
		AccountID:    "acc-1",
		AccountName:  "primary",
		AccountType:  "claude-console",
		ErrorCode:    "overloaded_error",
		StatusCode:   529,
		ErrorMessage: "busy",
		Round:        3,
		MaxRounds:    3,
		IsFinal:      true,
	}
	if err := n.Notify(context.Background(), alert); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	n.Wait()

	deliveries := got()
	if len(deliveries) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliveries))
	}
	d := deliveries[0]
	if !webhook.VerifySignature(d.body, d.signature, "s3cret") {
		t.Error("signature does not verify")
	}
	if d.event != webhook.MessageType {
		t.Errorf("event header = %q, want %q", d.event, webhook.MessageType)
	}

	var msg webhook.Message
	if err := json.Unmarshal(d.body, &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if !msg.IsFinal || msg.Retry.Round != 3 || msg.APIKey.ID != "key-1" || msg.Timestamp != baseTime.Format(time.RFC3339) {
		t.Errorf("message = %+v", msg)
	}
	if msg.Account.ID == nil || *msg.Account.ID != "acc-1" || msg.Error.HTTPStatus == nil || *msg.Error.HTTPStatus != 529 {
		t.Errorf("account/error = %+v / %+v", msg.Account, msg.Error)
	}
}

func TestNotifier_FailuresAreSwallowed(t *testing.T) {
	srv, got := receiver(t, http.StatusInternalServerError)
	n := adapter.New(adapter.Config{Endpoints: []adapter.Endpoint{
		{URL: srv.URL},
		{URL: "http://127.0.0.1:1/unreachable"},
	}, Timeout: time.Second}, clock.NewFake(baseTime), zerolog.Nop())

	if err := n.Notify(context.Background(), webhook.Alert{APIKeyID: "k"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	n.Close()

	d := got()
	if len(d) != 1 || d[0].signature != "" {
		t.Errorf("deliveries = %+v, want one unsigned", d)
	}
}

func TestNotifier_NoEndpoints(t *testing.T) {
	n := adapter.New(adapter.Config{}, clock.NewFake(baseTime), zerolog.Nop())
	if err := n.Notify(context.Background(), webhook.Alert{}); err != nil {
		t.Errorf("Notify() error = %v", err)
	}
	n.Close()
}
