package payment

import (
	"fmt"
	"testing"
)

func TestAppliedSetStaysBounded(t *testing.T) {
	d := &Dispatcher{}
	for i := 0; i < maxAppliedEntries+500; i++ {
		d.markApplied(fmt.Sprintf("evt_%d", i))
	}
	if len(d.applied) != maxAppliedEntries {
		t.Fatalf("applied set grew to %d entries", len(d.applied))
	}
	if len(d.appliedOrder) != maxAppliedEntries {
		t.Fatalf("eviction order slice holds %d entries", len(d.appliedOrder))
	}
	if _, ok := d.applied["evt_0"]; ok {
		t.Fatal("oldest entry must have been evicted")
	}
	newest := fmt.Sprintf("evt_%d", maxAppliedEntries+499)
	if _, ok := d.applied[newest]; !ok {
		t.Fatal("newest entry must survive eviction")
	}

	d.markApplied(newest)
	if len(d.appliedOrder) != maxAppliedEntries {
		t.Fatal("re-marking a known key must not grow the set")
	}
}
