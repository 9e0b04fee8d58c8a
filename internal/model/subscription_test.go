package model

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func validKeys() (p256dh, auth string) {
	return base64.RawURLEncoding.EncodeToString(make([]byte, 65)),
		base64.RawURLEncoding.EncodeToString(make([]byte, 16))
}

func TestValidateAcceptsWellFormedSubscription(t *testing.T) {
	p256dh, auth := validKeys()
	sub := PushSubscription{
		Endpoint: "https://fcm.googleapis.com/fcm/send/abc",
		P256dh:   p256dh,
		Auth:     auth,
	}
	if err := sub.Validate(nil); err != nil {
		t.Fatalf("expected valid subscription, got: %v", err)
	}
}

func TestValidateRejectsNonHTTPSEndpoint(t *testing.T) {
	p256dh, auth := validKeys()
	sub := PushSubscription{Endpoint: "http://fcm.googleapis.com/fcm/send/abc", P256dh: p256dh, Auth: auth}
	if err := sub.Validate(nil); err == nil {
		t.Fatalf("expected error for non-https endpoint")
	}
}

func TestValidateRejectsDisallowedHost(t *testing.T) {
	p256dh, auth := validKeys()
	sub := PushSubscription{Endpoint: "https://evil.example.com/x", P256dh: p256dh, Auth: auth}
	if err := sub.Validate([]string{"fcm.googleapis.com"}); err == nil {
		t.Fatalf("expected error for disallowed host")
	}
}

func TestValidateRejectsWrongKeyLengths(t *testing.T) {
	badP256dh := base64.RawURLEncoding.EncodeToString(make([]byte, 64))
	badAuth := base64.RawURLEncoding.EncodeToString(make([]byte, 17))
	goodP256dh, goodAuth := validKeys()

	sub := PushSubscription{Endpoint: "https://fcm.googleapis.com/x", P256dh: badP256dh, Auth: goodAuth}
	if err := sub.Validate(nil); err == nil {
		t.Fatalf("expected error for 64-byte p256dh")
	}
	sub = PushSubscription{Endpoint: "https://fcm.googleapis.com/x", P256dh: goodP256dh, Auth: badAuth}
	if err := sub.Validate(nil); err == nil {
		t.Fatalf("expected error for 17-byte auth")
	}
}

func TestValidateRejectsOverlongEndpoint(t *testing.T) {
	p256dh, auth := validKeys()
	sub := PushSubscription{
		Endpoint: "https://fcm.googleapis.com/" + strings.Repeat("a", 2048),
		P256dh:   p256dh,
		Auth:     auth,
	}
	if err := sub.Validate(nil); err == nil {
		t.Fatalf("expected error for overlong endpoint")
	}
}

func TestExpiredRespectsTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stored := StoredSubscription{CreatedAt: now.AddDate(0, 0, -91)}
	if !stored.Expired(now, 90) {
		t.Fatalf("expected subscription older than 90 days to be expired")
	}
	fresh := StoredSubscription{CreatedAt: now.AddDate(0, 0, -1)}
	if fresh.Expired(now, 90) {
		t.Fatalf("expected 1-day-old subscription not to be expired")
	}
	if stored.Expired(now, 0) {
		t.Fatalf("ttlDays=0 should disable expiry")
	}
}
