package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestAcquire_SpacesConcurrentCallersPerDomain(t *testing.T) {
	const interval = 60 * time.Millisecond
	l := New(Config{DefaultInterval: interval, MaxInFlight: 8})

	var (
		mu     sync.Mutex
		grants []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.Acquire(context.Background(), "www.Example.com")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			grants = append(grants, time.Now())
			mu.Unlock()
			p.Release()
		}()
	}
	wg.Wait()

	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
	if len(grants) != 4 {
		t.Fatalf("grants = %d", len(grants))
	}
	total := grants[3].Sub(grants[0])
	if total < 3*interval-15*time.Millisecond {
		t.Fatalf("4 grants within %v, want >= ~%v", total, 3*interval)
	}
}

func TestAcquire_DomainsAreIndependent(t *testing.T) {
	l := New(Config{DefaultInterval: time.Hour, MaxInFlight: 4})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for _, d := range []string{"a.com", "b.com", "c.com"} {
		p, err := l.Acquire(ctx, d)
		if err != nil {
			t.Fatalf("acquire %s: %v", d, err)
		}
		p.Release()
	}
}

func TestAcquire_GlobalCap(t *testing.T) {
	l := New(Config{DefaultInterval: time.Millisecond, MaxInFlight: 1})

	p1, err := l.Acquire(context.Background(), "a.com")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "b.com"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while global slot held, got %v", err)
	}

	p1.Release()
	p1.Release() // idempotent

	p2, err := l.Acquire(context.Background(), "b.com")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	p2.Release()
}

func TestAcquire_SpacingHoldsWhileGlobalCapSaturated(t *testing.T) {
	const interval = 200 * time.Millisecond
	l := New(Config{DefaultInterval: interval, MaxInFlight: 1})

	held, err := l.Acquire(context.Background(), "other.com")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(3 * interval)
		held.Release()
	}()

	var (
		mu     sync.Mutex
		grants []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.Acquire(context.Background(), "agency.com")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			grants = append(grants, time.Now())
			mu.Unlock()
			p.Release()
		}()
	}
	wg.Wait()

	if len(grants) != 2 {
		t.Fatalf("grants = %d", len(grants))
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
	if gap := grants[1].Sub(grants[0]); gap < interval-15*time.Millisecond {
		t.Fatalf("gap between agency.com grants = %v, want >= %v", gap, interval)
	}
}

func TestAcquire_CancelledWaitReturnsContextError(t *testing.T) {
	l := New(Config{DefaultInterval: time.Hour, MaxInFlight: 2})
	p, err := l.Acquire(context.Background(), "slow.com")
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Acquire(ctx, "slow.com"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDelayAndOverrides(t *testing.T) {
	l := New(Config{
		DefaultInterval: 10 * time.Millisecond,
		Intervals:       map[string]time.Duration{"slow.com": time.Minute},
	})
	if d := l.Delay("slow.com"); d != 0 {
		t.Fatalf("unseen domain delay = %v", d)
	}
	p, err := l.Acquire(context.Background(), "www.slow.com")
	if err != nil {
		t.Fatal(err)
	}
	p.Release()

	d := l.Delay("slow.com")
	if d <= 0 || d > time.Minute {
		t.Fatalf("delay = %v, want (0, 1m]", d)
	}
	if got := l.Interval("fast.com"); got != 10*time.Millisecond {
		t.Fatalf("default interval = %v", got)
	}
	if _, ok := l.Delays()["slow.com"]; !ok {
		t.Fatalf("Delays missing slow.com: %v", l.Delays())
	}
}

func TestNormalize(t *testing.T) {
	for in, want := range map[string]string{
		"WWW.Example.com":      "example.com",
		"example.com:8080":     "example.com",
		" tours.example.org ": "tours.example.org",
	} {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
