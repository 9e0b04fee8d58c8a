package queue

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"webpushrelay/internal/logging"
	"webpushrelay/internal/model"
	"webpushrelay/internal/push"
	"webpushrelay/internal/store"
)

func newValidSubscriberKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()
	curve := ecdh.P256()
	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate subscriber key: %v", err)
	}
	authBytes := make([]byte, 16)
	if _, err := rand.Read(authBytes); err != nil {
		t.Fatalf("generate auth secret: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(authBytes)
}

func newTestVAPID(t *testing.T) *push.VAPIDKeys {
	t.Helper()
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("generate vapid scalar: %v", err)
	}
	keys, err := push.LoadVAPIDKeys(base64.RawURLEncoding.EncodeToString(raw), "mailto:test@example.com")
	if err != nil {
		t.Fatalf("load vapid keys: %v", err)
	}
	return keys
}

// TestDeadSubscriptionIsReapedOnPushDispatch covers spec.md §8 scenario S6:
// a push service response of 404/410 must delete the subscription row and
// drop the queue record (push.OutcomeDeadSubscription), not retry it.
func TestDeadSubscriptionIsReapedOnPushDispatch(t *testing.T) {
	deadEndpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer deadEndpoint.Close()

	db, err := store.OpenDB(filepath.Join(t.TempDir(), "worker_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	subs := store.NewSubscriptionStore(db)
	qstore := NewStore(db, 0)
	ctx := context.Background()
	if err := qstore.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	p256dh, auth := newValidSubscriberKeys(t)
	stored := model.StoredSubscription{
		UUID: "dead-sub-1",
		Subscription: model.PushSubscription{
			Endpoint: deadEndpoint.URL,
			P256dh:   p256dh,
			Auth:     auth,
		},
		CreatedAt:   time.Now().UTC(),
		DeleteToken: "token",
	}
	if err := subs.Create(ctx, stored); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	rec := Record{UUID: stored.UUID, SendAfterMS: 0, Payload: []byte(`{"chunk_index":1,"is_last":true,"data":""}`)}
	if err := qstore.Enqueue(ctx, rec); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, ok, err := qstore.Claim(ctx, time.Now().UnixMilli())
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	sender := push.NewSender(newTestVAPID(t), 5*time.Second)
	pool := NewPool(qstore, subs, sender, 1, logging.Nop)
	pool.dispatch(ctx, claimed)

	if _, err := subs.Get(ctx, stored.UUID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected subscription to be deleted, got err=%v", err)
	}
	if _, ok, err := qstore.Claim(ctx, time.Now().UnixMilli()); err != nil || ok {
		t.Fatalf("expected no remaining queued records: ok=%v err=%v", ok, err)
	}
	bytesLeft, err := qstore.Bytes(ctx)
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if bytesLeft != 0 {
		t.Fatalf("expected queue_bytes to be zero after drop, got %d", bytesLeft)
	}
}
