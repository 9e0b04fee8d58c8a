// Package push sends envelope chunks to browser push services. VAPID
// signing, RFC 8291 aes128gcm content encryption, and the HTTP delivery
// itself are delegated to github.com/daaku/webpush (spec §1 names both as
// "assumed to exist as a library"); this package wires that library
// against the relay's subscription model and classifies its results into
// the Outcome contract the dispatch queue drains.
package push

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/daaku/webpush"
)

// VAPIDKeys holds the relay's own ES256 keypair plus the subject claim
// bound into every signed push request.
type VAPIDKeys struct {
	Private *ecdsa.PrivateKey
	Subject string
}

// LoadVAPIDKeys parses the URL-safe base64 VAPID private key (the format
// webpush.GenerateVAPIDKey produces, and what the standard web-push
// tooling's VAPID_PRIVATE_KEY already uses) via the library's own
// ParseVAPIDKey.
func LoadVAPIDKeys(privateKeyB64, subject string) (*VAPIDKeys, error) {
	priv, err := webpush.ParseVAPIDKey(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("push: parsing VAPID private key: %w", err)
	}
	return &VAPIDKeys{Private: priv, Subject: subject}, nil
}
