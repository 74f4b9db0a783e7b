package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore keeps reviews in Redis between the review and confirm requests.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(customerID, reviewID string) string {
	return "checkout:review:" + customerID + ":" + reviewID
}

func (s *SessionStore) Save(ctx context.Context, r Review) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal review: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(r.CustomerID, r.ReviewID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save review: %w", err)
	}
	return nil
}

// Load returns ErrReviewNotFound when the review is unknown, expired or
// belongs to another customer.
func (s *SessionStore) Load(ctx context.Context, customerID, reviewID string) (*Review, error) {
	b, err := s.client.Get(ctx, sessionKey(customerID, reviewID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrReviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load review: %w", err)
	}
	var r Review
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("unmarshal review: %w", err)
	}
	return &r, nil
}

func (s *SessionStore) Delete(ctx context.Context, customerID, reviewID string) error {
	if err := s.client.Del(ctx, sessionKey(customerID, reviewID)).Err(); err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	return nil
}
