package coord

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

// runContract exercises the Client contract. advance moves the store's clock
// forward so TTL and window expiry can be observed without sleeping.
func runContract(t *testing.T, c Client, advance func(time.Duration)) {
	ctx := context.Background()

	t.Run("get set del", func(t *testing.T) {
		if _, ok, err := c.Get(ctx, "k:missing"); ok || err != nil {
			t.Fatalf("miss expected, got ok=%v err=%v", ok, err)
		}
		if err := c.Set(ctx, "k:1", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
		v, ok, err := c.Get(ctx, "k:1")
		if err != nil || !ok || string(v) != "v1" {
			t.Fatalf("Get = %q, %v, %v", v, ok, err)
		}
		n, err := c.Del(ctx, "k:1", "k:missing")
		if err != nil || n != 1 {
			t.Fatalf("Del = %d, %v", n, err)
		}
		if _, ok, _ := c.Get(ctx, "k:1"); ok {
			t.Fatalf("key should be gone after Del")
		}
		if n, err := c.Del(ctx); n != 0 || err != nil {
			t.Fatalf("Del() with no keys = %d, %v", n, err)
		}
	})

	t.Run("ttl expiry", func(t *testing.T) {
		if err := c.Set(ctx, "ttl:1", []byte("x"), 2*time.Second); err != nil {
			t.Fatalf("Set: %v", err)
		}
		advance(3 * time.Second)
		if _, ok, _ := c.Get(ctx, "ttl:1"); ok {
			t.Fatalf("value must not outlive its ttl")
		}
	})

	t.Run("pattern delete", func(t *testing.T) {
		for _, k := range []string{"resp:GET:/api/v1/certificates:a", "resp:GET:/api/v1/certificates:b", "resp:GET:/api/v1/certificates/CERT-1:a", "verify:CERT-1"} {
			if err := c.Set(ctx, k, []byte("x"), time.Minute); err != nil {
				t.Fatalf("Set %s: %v", k, err)
			}
		}
		n, err := c.DelPattern(ctx, "resp:GET:/api/v1/certificates:*")
		if err != nil || n != 2 {
			t.Fatalf("DelPattern = %d, %v; want 2", n, err)
		}
		var left []string
		for _, k := range []string{"resp:GET:/api/v1/certificates/CERT-1:a", "verify:CERT-1"} {
			if _, ok, _ := c.Get(ctx, k); ok {
				left = append(left, k)
			}
		}
		sort.Strings(left)
		if len(left) != 2 {
			t.Fatalf("non-matching keys must survive, left=%v", left)
		}
	})

	t.Run("consume budget and reset", func(t *testing.T) {
		const points = 3
		for i := 0; i < points; i++ {
			res, err := c.Consume(ctx, "rl:test", points, time.Minute)
			if err != nil || !res.Allowed || res.Remaining != points-1-i {
				t.Fatalf("call %d: %+v, %v", i+1, res, err)
			}
		}
		res, err := c.Consume(ctx, "rl:test", points, time.Minute)
		if err != nil || res.Allowed || res.Remaining != 0 {
			t.Fatalf("budget+1 call must be rejected: %+v, %v", res, err)
		}
		if res.ResetAt.IsZero() {
			t.Fatalf("ResetAt must be set")
		}
		advance(61 * time.Second)
		res, err = c.Consume(ctx, "rl:test", points, time.Minute)
		if err != nil || !res.Allowed || res.Remaining != points-1 {
			t.Fatalf("window should reset: %+v, %v", res, err)
		}
	})

	t.Run("consume is atomic under concurrency", func(t *testing.T) {
		const points, callers = 10, 40
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			allowed int
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := c.Consume(ctx, "rl:concurrent", points, time.Minute)
				if err != nil {
					t.Errorf("Consume: %v", err)
					return
				}
				if res.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if allowed != points {
			t.Fatalf("allowed %d requests, want exactly %d", allowed, points)
		}
	})

	t.Run("publish subscribe", func(t *testing.T) {
		sub, err := c.Subscribe(ctx, "chan:test")
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		defer sub.Close()
		if err := c.Publish(ctx, "chan:test", []byte("hello")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case m := <-sub.Messages():
			if m.Channel != "chan:test" || string(m.Payload) != "hello" {
				t.Fatalf("unexpected message %+v", m)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("message not delivered")
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := c.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}
