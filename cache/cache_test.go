package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/ann82/havenline/models"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Shelter Near Austin  ": "shelter near austin",
		"FOOD   bank":             "food bank",
		"":                        "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPutGet(t *testing.T) {
	c := New(time.Minute, 10)
	c.Put("Shelter near Austin", models.Answer{Text: "found one", Source: models.SourceSearch})

	got, ok := c.Get("  shelter NEAR austin ")
	if !ok {
		t.Fatal("expected a hit for the normalized key")
	}
	if got.Text != "found one" {
		t.Fatalf("got text %q", got.Text)
	}
	if got.Source != models.SourceCache {
		t.Fatalf("hit should report cache source, got %q", got.Source)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	c.Put("old query", models.Answer{Text: "stale"})
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("old query"); ok {
		t.Fatal("stale entry should be a miss")
	}
	if c.Len() != 0 {
		t.Fatalf("stale entry should be dropped on lookup, len=%d", c.Len())
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	c := New(time.Minute, 3)
	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("query %d", i), models.Answer{Text: "x"})
		if c.Len() > 3 {
			t.Fatalf("after insert %d the cache holds %d entries", i, c.Len())
		}
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", c.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(time.Minute, 2)
	c.Put("a", models.Answer{Text: "a"})
	c.Put("b", models.Answer{Text: "b"})

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}
	c.Put("c", models.Answer{Text: "c"})

	if _, ok := c.Get("a"); !ok {
		t.Fatal("recently used entry was evicted")
	}
	if _, ok := c.Get("b"); ok {
		t.Fatal("least recently used entry survived")
	}
}

func TestSweeperRemovesStaleEntries(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	defer c.Stop()
	c.Put("one", models.Answer{Text: "1"})
	c.Put("two", models.Answer{Text: "2"})
	c.StartSweeper(5 * time.Millisecond)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if c.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sweeper left %d stale entries", c.Len())
}

func TestStats(t *testing.T) {
	c := New(time.Minute, 10)
	c.Put("q", models.Answer{Text: "x"})
	c.Get("q")
	c.Get("missing")

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Fatalf("got hits=%d misses=%d, want 1/1", hits, misses)
	}
}
