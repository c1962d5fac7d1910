package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PolarWolf314/muna/internal/cryptoprovider"
	"github.com/PolarWolf314/muna/internal/directory"
	"github.com/PolarWolf314/muna/internal/envelope"
	kerrors "github.com/PolarWolf314/muna/internal/errors"
	"github.com/PolarWolf314/muna/internal/group"
	"github.com/PolarWolf314/muna/internal/identity"
	"github.com/PolarWolf314/muna/internal/keystore"
	logger "github.com/PolarWolf314/muna/internal/logging"
	"github.com/PolarWolf314/muna/internal/metrics"
	"github.com/PolarWolf314/muna/internal/retry"
	"github.com/PolarWolf314/muna/internal/storage"
)

func newTestServer(t *testing.T, cfg Config, backend directory.Backend) (*httptest.Server, *directory.Client) {
	t.Helper()
	srv := New(cfg, backend, metrics.New(), logger.Logger{})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	client, err := directory.NewClient(ts.URL, directory.WithRetryPolicy(retry.Policy{}))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return ts, client
}

func TestServer_DirectoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t, Config{}, directory.NewMemory())

	v, err := client.Publish(ctx, "alice", []byte("pk1"), "suite")
	if err != nil || v != 1 {
		t.Fatalf("Publish() = %d, %v", v, err)
	}
	if v, _ := client.Publish(ctx, "alice", []byte("pk2"), "suite"); v != 2 {
		t.Fatalf("second Publish() = %d, want 2", v)
	}
	if err := client.Deactivate(ctx, "alice", 2); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	key, err := client.Fetch(ctx, "alice")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if key.Version != 2 || string(key.PublicKey) != "pk2" {
		t.Errorf("Fetch() = %+v", key)
	}
	old, err := client.FetchVersion(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("FetchVersion failed: %v", err)
	}
	if old.Active {
		t.Error("version 1 should be inactive")
	}
	if _, err := client.Fetch(ctx, "nobody"); !errors.Is(err, kerrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServer_ConversationRoutes(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t, Config{}, directory.NewMemory())

	if err := client.SetMembers(ctx, "team/chat", []string{"bob", "alice"}); err != nil {
		t.Fatalf("SetMembers failed: %v", err)
	}
	members, err := client.Members(ctx, "team/chat")
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 2 || members[0] != "alice" {
		t.Errorf("Members() = %v", members)
	}

	rec := directory.ConversationKeyRecord{ConversationID: "team/chat", UserID: "alice", WrappedKey: []byte("w"), KeyVersion: 1, Epoch: 1}
	if err := client.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if n, err := client.LatestEpoch(ctx, "team/chat"); err != nil || n != 1 {
		t.Errorf("LatestEpoch() = %d, %v", n, err)
	}
	got, err := client.FetchEpoch(ctx, "team/chat", "alice", 1)
	if err != nil {
		t.Fatalf("FetchEpoch failed: %v", err)
	}
	if string(got.WrappedKey) != "w" {
		t.Errorf("FetchEpoch() wrapped key = %q", got.WrappedKey)
	}
	list, err := client.ListEpoch(ctx, "team/chat", 1)
	if err != nil || len(list) != 1 {
		t.Errorf("ListEpoch() = %v, %v", list, err)
	}
	if empty, err := client.ListEpoch(ctx, "team/chat", 9); err != nil || len(empty) != 0 {
		t.Errorf("ListEpoch() of unknown epoch = %v, %v", empty, err)
	}
	if _, err := client.FetchLatest(ctx, "team/chat", "bob"); !errors.Is(err, kerrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServer_RejectsMismatchedUpsertPath(t *testing.T) {
	ts, _ := newTestServer(t, Config{}, directory.NewMemory())

	body := `{"conversation_id":"c2","user_id":"alice","wrapped_key":"dw==","key_version":1,"epoch":1}`
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/conversations/c1/keys/alice/1", strings.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_RateLimit(t *testing.T) {
	ts, _ := newTestServer(t, Config{RateLimit: 1, Burst: 2}, directory.NewMemory())

	var limited bool
	for i := 0; i < 5; i++ {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Error("expected a 429 after exceeding the burst")
	}
}

func TestClientLimiter_NilAllowsEverything(t *testing.T) {
	var l *clientLimiter = newClientLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !l.allow("x", time.Now()) {
			t.Fatal("nil limiter denied a request")
		}
	}
}

func TestServer_Metrics(t *testing.T) {
	ts, client := newTestServer(t, Config{}, directory.NewMemory())
	client.Fetch(context.Background(), "nobody")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `muna_http_requests_total{code="404",route="GET /v1/keys/{user}"}`) {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}

// Two users rotate and exchange epoch messages through the HTTP server backed by SQLite.
func TestServer_EndToEndGroupRotation(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	_, client := newTestServer(t, Config{}, db)

	provider, _ := cryptoprovider.New(cryptoprovider.SuiteX25519)
	coordinators := make(map[string]*group.Coordinator)
	for _, name := range []string{"alice", "bob"} {
		mgr := identity.NewManager(keystore.NewLocalKeyStore(keystore.NewMemoryStorage(), name), client, provider,
			identity.WithRetryPolicy(retry.Policy{}))
		if _, err := mgr.RegisterIdentity(ctx); err != nil {
			t.Fatalf("RegisterIdentity(%s) failed: %v", name, err)
		}
		cipher := envelope.New(provider, envelope.WithKeys(mgr), envelope.WithDirectory(client), envelope.WithRetryPolicy(retry.Policy{}))
		coordinators[name] = group.New(name, cipher, client, client, group.WithRetryPolicy(retry.Policy{}))
	}

	if err := client.SetMembers(ctx, "c1", []string{"alice", "bob"}); err != nil {
		t.Fatalf("SetMembers failed: %v", err)
	}
	res, err := coordinators["alice"].RotateGroupKey(ctx, "c1", group.RotateOptions{})
	if err != nil {
		t.Fatalf("RotateGroupKey failed: %v", err)
	}
	if res.Epoch != 1 || !res.Complete() {
		t.Fatalf("rotation = %+v", res)
	}

	env, err := coordinators["alice"].EncryptWithEpoch(ctx, "c1", []byte("over http"))
	if err != nil {
		t.Fatalf("EncryptWithEpoch failed: %v", err)
	}
	got, err := coordinators["bob"].DecryptEpoch(ctx, env)
	if err != nil {
		t.Fatalf("DecryptEpoch failed: %v", err)
	}
	if string(got) != "over http" {
		t.Errorf("DecryptEpoch() = %q", got)
	}
}
