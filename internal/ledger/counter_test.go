package ledger

import (
	"context"
	"os"
	"sync"
	"testing"
)

func TestCounter_Monotonic(t *testing.T) {
	ctx := context.Background()
	c, err := NewCounter(t.TempDir(), "ledger")
	if err != nil {
		t.Fatalf("NewCounter failed: %v", err)
	}

	for want := int32(1); want <= 5; want++ {
		got, err := c.Next(ctx, 0)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if got != want {
			t.Errorf("Next() = %d, want %d", got, want)
		}
	}

	peek, err := c.Peek()
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if peek != 5 {
		t.Errorf("Peek() = %d, want 5", peek)
	}

	info, err := os.Stat(c.Path())
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != counterSize {
		t.Errorf("counter size = %d, want %d", info.Size(), counterSize)
	}
}

func TestCounter_ResyncsToLedgerMax(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, _ := NewCounter(dir, "ledger")
	got, err := c.Next(ctx, 41)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got != 42 {
		t.Errorf("Next(41) = %d, want 42", got)
	}

	// Only the first call in a process resyncs.
	got, _ = c.Next(ctx, 100)
	if got != 43 {
		t.Errorf("second Next(100) = %d, want 43", got)
	}

	// A stale ledger max never moves the counter backwards.
	c2, _ := NewCounter(dir, "ledger")
	got, _ = c2.Next(ctx, 10)
	if got != 44 {
		t.Errorf("Next(10) on fresh counter = %d, want 44", got)
	}
}

func TestCounter_ConcurrentUnique(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Two instances on one directory stand in for two processes.
	a, _ := NewCounter(dir, "ledger")
	b, _ := NewCounter(dir, "ledger")

	const perWorker = 20
	var (
		mu   sync.Mutex
		seen = make(map[int32]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		c := a
		if i%2 == 1 {
			c = b
		}
		wg.Add(1)
		go func(c *Counter) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id, err := c.Next(ctx, 0)
				if err != nil {
					t.Errorf("Next failed: %v", err)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("id %d minted twice", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	if len(seen) != 8*perWorker {
		t.Errorf("minted %d ids, want %d", len(seen), 8*perWorker)
	}
	last, _ := a.Peek()
	if last != 8*perWorker {
		t.Errorf("Peek() = %d, want %d", last, 8*perWorker)
	}
}

func TestCounter_CorruptFile(t *testing.T) {
	c, _ := NewCounter(t.TempDir(), "ledger")
	if err := os.WriteFile(c.Path(), []byte{1, 2}, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := c.Next(context.Background(), 0); err == nil {
		t.Error("Next on corrupt counter succeeded, want error")
	}
}
