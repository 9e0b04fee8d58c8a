package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"webpushrelay/internal/model"
)

var ErrNotFound = errors.New("store: subscription not found")

// SubscriptionStore persists StoredSubscription rows keyed by uuid.
type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// NewUUID returns a random 8-hex-character identifier, matching the short
// form spec.md's S1 scenario shows in subscribe responses.
func NewUUID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// NewDeleteToken returns an unguessable 32-hex-character opaque token.
func NewDeleteToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// Create persists a brand new subscription; uuid and delete token are
// generated by the caller (handlers own id-allocation failure handling).
func (s *SubscriptionStore) Create(ctx context.Context, rec model.StoredSubscription) error {
	subJSON, err := json.Marshal(rec.Subscription)
	if err != nil {
		return fmt.Errorf("store: marshal subscription: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (uuid, subscription_json, created_at_unix_ms, delete_token) VALUES (?, ?, ?, ?)`,
		rec.UUID, subJSON, rec.CreatedAt.UnixMilli(), rec.DeleteToken)
	if err != nil {
		return fmt.Errorf("store: insert subscription: %w", err)
	}
	return nil
}

// Get returns the stored subscription for uuid, or ErrNotFound.
func (s *SubscriptionStore) Get(ctx context.Context, uuid string) (model.StoredSubscription, error) {
	var (
		subJSON     []byte
		createdMS   int64
		deleteToken string
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT subscription_json, created_at_unix_ms, delete_token FROM subscriptions WHERE uuid = ?`, uuid)
	if err := row.Scan(&subJSON, &createdMS, &deleteToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.StoredSubscription{}, ErrNotFound
		}
		return model.StoredSubscription{}, fmt.Errorf("store: get subscription: %w", err)
	}
	var sub model.PushSubscription
	if err := json.Unmarshal(subJSON, &sub); err != nil {
		return model.StoredSubscription{}, fmt.Errorf("store: decode subscription: %w", err)
	}
	return model.StoredSubscription{
		UUID:         uuid,
		Subscription: sub,
		CreatedAt:    time.UnixMilli(createdMS).UTC(),
		DeleteToken:  deleteToken,
	}, nil
}

// Delete removes the subscription row for uuid. It is not an error to
// delete a uuid that no longer exists (idempotent).
func (s *SubscriptionStore) Delete(ctx context.Context, uuid string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE uuid = ?`, uuid)
	if err != nil {
		return fmt.Errorf("store: delete subscription: %w", err)
	}
	return nil
}

// ReapExpired deletes subscriptions whose created_at is older than
// ttlDays and returns how many rows were removed.
func (s *SubscriptionStore) ReapExpired(ctx context.Context, now time.Time, ttlDays int64) (int64, error) {
	if ttlDays <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -int(ttlDays)).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE created_at_unix_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: reap expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
