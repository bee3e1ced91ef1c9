package cache

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ggonzalez94/xswap-cli/internal/metrics"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func openTestCache(t *testing.T) (*Store, *clock) {
	t.Helper()
	tmp := t.TempDir()
	store, err := Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"))
	if err != nil {
		t.Fatalf("Open cache failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	store.now = c.now
	return store, c
}

func TestCacheSetGetFreshAndStale(t *testing.T) {
	store, c := openTestCache(t)
	if err := store.Set("k1", []byte(`{"v":1}`), time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	hits := testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("hit"))
	res, err := store.Get("k1", 5*time.Second)
	if err != nil {
		t.Fatalf("Get fresh failed: %v", err)
	}
	if !res.Hit || res.Stale {
		t.Fatalf("expected fresh hit, got %+v", res)
	}
	if got := testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("hit")); got != hits+1 {
		t.Fatalf("expected hit counter %v, got %v", hits+1, got)
	}

	c.t = c.t.Add(1500 * time.Millisecond)
	res, err = store.Get("k1", 5*time.Second)
	if err != nil {
		t.Fatalf("Get stale failed: %v", err)
	}
	if !res.Hit || !res.Stale || res.TooStale {
		t.Fatalf("expected stale within budget, got %+v", res)
	}
}

func TestCacheTooStale(t *testing.T) {
	store, c := openTestCache(t)
	if err := store.Set("k2", []byte(`{"v":2}`), time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	c.t = c.t.Add(2 * time.Second)
	res, err := store.Get("k2", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !res.TooStale {
		t.Fatalf("expected too stale, got %+v", res)
	}
}

func TestCacheMissAndInvalidate(t *testing.T) {
	store, _ := openTestCache(t)
	res, err := store.Get(QuoteKey("swap quote", map[string]any{"amount": "1"}), time.Minute)
	if err != nil || res.Hit {
		t.Fatalf("expected miss, got %+v err=%v", res, err)
	}

	keyA := QuoteKey("swap quote", map[string]any{"amount": "1"})
	keyB := QuoteKey("swap quote", map[string]any{"amount": "2"})
	keyC := QuoteKey("route find", map[string]any{"amount": "1"})
	if keyA == keyB || keyA == keyC {
		t.Fatal("expected distinct keys per command and request")
	}
	for _, entry := range []struct{ cmd, key string }{{"swap quote", keyA}, {"swap quote", keyB}, {"route find", keyC}} {
		if err := store.SetFor(entry.cmd, entry.key, []byte(`{}`), time.Minute); err != nil {
			t.Fatalf("SetFor failed: %v", err)
		}
	}
	n, err := store.Invalidate("swap quote")
	if err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries dropped, got %d", n)
	}
	if res, _ := store.Get(keyC, time.Minute); !res.Hit {
		t.Fatal("expected other command's entry to survive")
	}
}

func TestCachePruneDropsExpired(t *testing.T) {
	store, c := openTestCache(t)
	if err := store.Set("short", []byte(`{}`), time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set("long", []byte(`{}`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	c.t = c.t.Add(time.Minute)
	if err := store.Prune(); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if res, _ := store.Get("short", -1); res.Hit {
		t.Fatal("expected expired entry to be pruned")
	}
	if res, _ := store.Get("long", -1); !res.Hit {
		t.Fatal("expected live entry to remain")
	}
}

func TestCacheConcurrentOpenAndSet(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "cache.db")
	lockPath := filepath.Join(tmp, "cache.lock")

	const workers = 8
	const iterations = 20

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			store, err := Open(dbPath, lockPath)
			if err != nil {
				errCh <- fmt.Errorf("worker %d open: %w", workerID, err)
				return
			}
			defer store.Close()
			for i := 0; i < iterations; i++ {
				key := QuoteKey("swap quote", []int{workerID, i})
				if err := store.Set(key, []byte(`{"ok":true}`), time.Minute); err != nil {
					errCh <- fmt.Errorf("worker %d set iter %d: %w", workerID, i, err)
					return
				}
				res, err := store.Get(key, time.Minute)
				if err != nil || !res.Hit {
					errCh <- fmt.Errorf("worker %d get iter %d: hit=%v err=%v", workerID, i, res.Hit, err)
					return
				}
			}
		}(worker)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}

func TestOpenSetsBusyTimeout(t *testing.T) {
	store, _ := openTestCache(t)
	var timeout int
	if err := store.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("read busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("expected busy_timeout 5000, got %d", timeout)
	}
}
