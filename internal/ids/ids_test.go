package ids

import "testing"

func TestNew(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("want 26-char ulid, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewIsConcurrencySafe(t *testing.T) {
	const workers = 8
	out := make(chan string, workers*100)
	for w := 0; w < workers; w++ {
		go func() {
			for i := 0; i < 100; i++ {
				out <- New()
			}
		}()
	}
	seen := make(map[string]bool)
	for i := 0; i < workers*100; i++ {
		id := <-out
		if seen[id] {
			t.Fatalf("duplicate id %q under concurrency", id)
		}
		seen[id] = true
	}
}
