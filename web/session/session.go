// Package session tracks issued login tokens so they can expire and be
// revoked before their JWT expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrUnknownToken = errors.New("session not found or expired")

type Store interface {
	Put(ctx context.Context, token, userID string, ttl time.Duration) error
	// Lookup returns the user the token was issued to, or ErrUnknownToken.
	Lookup(ctx context.Context, token string) (string, error)
	Revoke(ctx context.Context, token string) error
}

type entry struct {
	userID    string
	expiresAt time.Time
}

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]entry
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]entry),
		now:      time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, token, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = entry{userID: userID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[token]
	if !ok {
		return "", ErrUnknownToken
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.sessions, token)
		return "", ErrUnknownToken
	}
	return e.userID, nil
}

func (s *MemoryStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for token, e := range s.sessions {
		if !now.Before(e.expiresAt) {
			delete(s.sessions, token)
		}
	}
}

// StartCleanup drops expired sessions every interval until ctx is done.
func (s *MemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

const redisPrefix = "referral:session:"

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, token, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return s.client.Set(ctx, redisPrefix+token, userID, ttl).Err()
}

func (s *RedisStore) Lookup(ctx context.Context, token string) (string, error) {
	userID, err := s.client.Get(ctx, redisPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnknownToken
	}
	return userID, err
}

func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, redisPrefix+token).Err()
}

// Connect builds a client from a redis:// URL or a plain host:port.
func Connect(addr, password string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password}), nil
}
