package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	dwebpush "github.com/daaku/webpush"

	"webpushrelay/internal/model"
)

// ttl is the Web Push TTL the relay advertises: how long a push service
// should hold the message if the user agent is offline.
const ttl = 60 * time.Second

// vapidExpiry bounds how long a signed VAPID JWT is valid for; well under
// the push services' own 24h ceiling.
const vapidExpiry = 12 * time.Hour

// Outcome classifies the result of one delivery attempt so the dispatch
// queue knows whether to Complete, Drop, or Retry the record.
type Outcome int

const (
	// OutcomeDelivered is a 2xx response: the push service accepted it.
	OutcomeDelivered Outcome = iota
	// OutcomeDeadSubscription is a 404/410: the endpoint no longer exists.
	OutcomeDeadSubscription
	// OutcomeTerminal is a non-retryable client error (400/401/403/413, or
	// a local encryption/encoding failure) that will never succeed on retry.
	OutcomeTerminal
	// OutcomeRetryable is a timeout, connection error, or 5xx/429.
	OutcomeRetryable
)

// Sender delivers encrypted envelope chunks to push services through
// github.com/daaku/webpush, reusing a shared, pooled HTTP client.
type Sender struct {
	client *http.Client
	vapid  *VAPIDKeys
}

func NewSender(vapid *VAPIDKeys, timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{Timeout: timeout},
		vapid:  vapid,
	}
}

// Send encrypts payload for sub and POSTs it to the subscription's
// endpoint via webpush.Send, returning the classified Outcome.
func (s *Sender) Send(ctx context.Context, sub model.PushSubscription, payload []byte) (Outcome, error) {
	conf := &dwebpush.Config{
		Client:          s.client,
		VAPIDKey:        s.vapid.Private,
		Subscriber:      s.vapid.Subject,
		TTL:             ttl,
		VAPIDExpiration: time.Now().Add(vapidExpiry),
	}
	wsub := &dwebpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: dwebpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}

	resp, err := dwebpush.Send(ctx, payload, wsub, conf)
	if err != nil {
		return classifySendError(ctx, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return classify(resp.StatusCode), nil
}

// classifySendError distinguishes transport-level failures (timeouts,
// connection errors — retryable) from the library's own local validation
// failures (malformed keys, oversized message for the record size —
// terminal, since retrying changes nothing).
func classifySendError(ctx context.Context, err error) (Outcome, error) {
	if ctx.Err() != nil {
		return OutcomeRetryable, ctx.Err()
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return OutcomeRetryable, fmt.Errorf("push: request failed: %w", err)
	}
	return OutcomeTerminal, err
}

func classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeDelivered
	case status == http.StatusNotFound || status == http.StatusGone:
		return OutcomeDeadSubscription
	case status == http.StatusRequestEntityTooLarge,
		status == http.StatusBadRequest,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden:
		return OutcomeTerminal
	default:
		return OutcomeRetryable
	}
}
