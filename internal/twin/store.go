package twin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/checkoutparity/internal/config"
	"github.com/pitabwire/checkoutparity/model"
)

// Store errors.
var (
	ErrDuplicateEmail = errors.New("twin: email already registered")
	ErrUserNotFound   = errors.New("twin: user not found")
)

// Order is a recorded checkout.
type Order struct {
	ID        string                `json:"id"`
	CreatedAt time.Time             `json:"created_at"`
	Summary   model.CheckoutSummary `json:"summary"`
}

// Store persists accounts and orders for the reference service.
type Store interface {
	// CreateUser stores u. It returns ErrDuplicateEmail if the email is
	// already registered.
	CreateUser(ctx context.Context, u *model.User) error
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	UserByID(ctx context.Context, id string) (*model.User, error)
	SaveOrder(ctx context.Context, o Order) error
	// Orders returns a user's orders, oldest first.
	Orders(ctx context.Context, userID string) ([]Order, error)
	HealthCheck(ctx context.Context) error
}

// userRecord is the stored form of a user; model.User hides the hash from
// JSON.
type userRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

func toRecord(u *model.User) userRecord {
	return userRecord{ID: u.ID, Name: u.Name, Email: u.Email, PasswordHash: u.PasswordHash}
}

func (r userRecord) user() *model.User {
	return &model.User{ID: r.ID, Name: r.Name, Email: r.Email, PasswordHash: r.PasswordHash}
}

// normalizeEmail makes email lookups case-insensitive.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewStore builds the store selected by cfg. The redis address is read from
// the environment variable named by cfg.AddrEnv.
func NewStore(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.StoreMemory, "":
		return NewMemoryStore(), nil
	case config.StoreRedis:
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, fmt.Errorf("store driver redis requires %s", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		return NewRedisStore(client, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// --- MemoryStore ---

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]userRecord
	byID    map[string]string
	orders  map[string][]Order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEmail: make(map[string]userRecord),
		byID:    make(map[string]string),
		orders:  make(map[string][]Order),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	email := normalizeEmail(u.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return ErrDuplicateEmail
	}
	s.byEmail[email] = toRecord(u)
	s.byID[u.ID] = email
	return nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return rec.user(), nil
}

func (s *MemoryStore) UserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return s.byEmail[email].user(), nil
}

func (s *MemoryStore) SaveOrder(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.Summary.UserID] = append(s.orders[o.Summary.UserID], o)
	return nil
}

func (s *MemoryStore) Orders(_ context.Context, userID string) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Order(nil), s.orders[userID]...), nil
}

func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of registered users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byEmail)
}

// --- RedisStore ---

// RedisStore keeps users and orders in Redis so several twin processes can
// share accounts. Keys are:
//
//	{prefix}user:{email}   JSON user record
//	{prefix}uid:{id}       email
//	{prefix}orders:{id}    list of JSON orders
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) userKey(email string) string { return s.prefix + "user:" + normalizeEmail(email) }
func (s *RedisStore) idKey(id string) string       { return s.prefix + "uid:" + id }
func (s *RedisStore) ordersKey(id string) string   { return s.prefix + "orders:" + id }

func (s *RedisStore) CreateUser(ctx context.Context, u *model.User) error {
	data, err := json.Marshal(toRecord(u))
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	key := s.userKey(u.Email)
	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %q: %w", key, err)
	}
	if !ok {
		return ErrDuplicateEmail
	}

	if err := s.client.Set(ctx, s.idKey(u.ID), normalizeEmail(u.Email), 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", s.idKey(u.ID), err)
	}
	return nil
}

func (s *RedisStore) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	key := s.userKey(email)
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}

	var rec userRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal user %q: %w", key, err)
	}
	return rec.user(), nil
}

func (s *RedisStore) UserByID(ctx context.Context, id string) (*model.User, error) {
	email, err := s.client.Get(ctx, s.idKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", s.idKey(id), err)
	}
	return s.UserByEmail(ctx, email)
}

func (s *RedisStore) SaveOrder(ctx context.Context, o Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	key := s.ordersKey(o.Summary.UserID)
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("redis rpush %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Orders(ctx context.Context, userID string) ([]Order, error) {
	key := s.ordersKey(userID)
	raws, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %q: %w", key, err)
	}

	orders := make([]Order, 0, len(raws))
	for _, raw := range raws {
		var o Order
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("unmarshal order in %q: %w", key, err)
		}
		orders = append(orders, o)
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
