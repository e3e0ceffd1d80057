package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/noah-isme/payment-core/internal/payment"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, payment.ErrIntentNotFound) {
		t.Fatalf("expected ErrIntentNotFound, got %v", err)
	}

	intent := payment.PaymentIntent{ID: "pi_1", Amount: 10, Currency: "USD", Status: payment.StatusProcessing}
	if err := store.Put(ctx, intent); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(ctx, "pi_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != payment.StatusProcessing {
		t.Fatalf("unexpected status: %q", got.Status)
	}

	if err := store.Put(ctx, payment.PaymentIntent{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := payment.NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Put(ctx, payment.PaymentIntent{ID: "pi_shared", Amount: 1, Currency: "USD", Status: payment.StatusProcessing})
			_, _ = store.Get(ctx, "pi_shared")
		}()
	}
	wg.Wait()

	if _, err := store.Get(ctx, "pi_shared"); err != nil {
		t.Fatalf("get after concurrent writes: %v", err)
	}
}
