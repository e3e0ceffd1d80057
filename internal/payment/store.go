package payment

import (
	"context"
	"errors"
	"sync"
)

// ErrIntentNotFound is returned when an intent id has no in-flight record.
var ErrIntentNotFound = errors.New("payment: intent not found")

// IntentStore is the Get/Set capability the core needs for in-flight intents.
// Long-term persistence is owned by the order collaborator; implementations
// here only need to cover the window between intent creation and a terminal
// status.
type IntentStore interface {
	Get(ctx context.Context, id string) (PaymentIntent, error)
	Put(ctx context.Context, intent PaymentIntent) error
}

// MemoryStore is a concurrency-safe in-memory IntentStore.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]PaymentIntent
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]PaymentIntent)}
}

// Get returns the intent for the given id or ErrIntentNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.intents[id]
	if !ok {
		return PaymentIntent{}, ErrIntentNotFound
	}
	return intent, nil
}

// Put stores or replaces the intent record.
func (s *MemoryStore) Put(_ context.Context, intent PaymentIntent) error {
	if intent.ID == "" {
		return errors.New("payment: intent id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intent.ID] = intent
	return nil
}
