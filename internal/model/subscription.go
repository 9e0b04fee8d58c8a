// Package model holds the subscription data types shared across the relay:
// push subscriptions and their stored records. The metadata captured for
// each inbound hook (HookMeta) lives in package framing.
package model

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// PushSubscription is the triple a browser hands the server so the server
// can encrypt and address pushes to it.
type PushSubscription struct {
	Endpoint       string `json:"endpoint"`
	P256dh         string `json:"p256dh"`
	Auth           string `json:"auth"`
	ExpirationTime *int64 `json:"expirationTime,omitempty"`
}

const maxEndpointLen = 2048

// Validate checks the subscription against the invariants in the data
// model: https scheme, allow-listed host, bounded length, and key sizes.
func (s PushSubscription) Validate(allowedHosts []string) error {
	if len(s.Endpoint) == 0 || len(s.Endpoint) > maxEndpointLen {
		return fmt.Errorf("endpoint must be 1..%d bytes", maxEndpointLen)
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return fmt.Errorf("endpoint is not a valid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("endpoint scheme must be https")
	}
	if len(allowedHosts) > 0 && !hostAllowed(u.Hostname(), allowedHosts) {
		return fmt.Errorf("endpoint host %q is not allow-listed", u.Hostname())
	}
	p256dh, err := decodeURLSafeB64(s.P256dh)
	if err != nil || len(p256dh) != 65 {
		return fmt.Errorf("p256dh must decode to exactly 65 bytes")
	}
	auth, err := decodeURLSafeB64(s.Auth)
	if err != nil || len(auth) != 16 {
		return fmt.Errorf("auth must decode to exactly 16 bytes")
	}
	return nil
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, a := range allowed {
		if strings.ToLower(strings.TrimSpace(a)) == host {
			return true
		}
	}
	return false
}

// decodeURLSafeB64 accepts both padded and unpadded URL-safe base64, which
// is what browsers commonly send for PushSubscription keys.
func decodeURLSafeB64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// StoredSubscription is the persisted record for a registered subscription.
type StoredSubscription struct {
	UUID         string
	Subscription PushSubscription
	CreatedAt    time.Time
	DeleteToken  string
}

// Expired reports whether the subscription has aged past ttlDays.
func (s StoredSubscription) Expired(now time.Time, ttlDays int64) bool {
	if ttlDays <= 0 {
		return false
	}
	return s.CreatedAt.Before(now.AddDate(0, 0, -int(ttlDays)))
}
