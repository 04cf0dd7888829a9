package credential

import "testing"

func TestRotatorRoundRobin(t *testing.T) {
	r := NewRotator([]Pair{
		{ID: "a", Cookie: "ca", UserAgent: "ua"},
		{ID: "b", Cookie: "cb", UserAgent: "ub"},
	})

	first, ok := r.Next()
	if !ok {
		t.Fatal("expected a pair")
	}
	second, ok := r.Next()
	if !ok {
		t.Fatal("expected a pair")
	}
	third, ok := r.Next()
	if !ok {
		t.Fatal("expected a pair")
	}

	if first.ID == second.ID {
		t.Error("expected round robin to alternate pairs")
	}
	if first.ID != third.ID {
		t.Error("expected round robin to wrap back to the first pair")
	}
}

func TestRotatorDisableSkipsPair(t *testing.T) {
	r := NewRotator([]Pair{
		{ID: "a", Cookie: "ca", UserAgent: "ua"},
		{ID: "b", Cookie: "cb", UserAgent: "ub"},
	})
	r.Disable("a")

	for i := 0; i < 5; i++ {
		p, ok := r.Next()
		if !ok {
			t.Fatal("expected a pair")
		}
		if p.ID == "a" {
			t.Fatal("disabled pair should never be returned")
		}
	}
}

func TestRotatorEmptyPool(t *testing.T) {
	r := NewRotator(nil)
	if _, ok := r.Next(); ok {
		t.Error("expected no pair from an empty pool")
	}
}

func TestRotatorReplaceReenables(t *testing.T) {
	r := NewRotator([]Pair{{ID: "a", Cookie: "ca", UserAgent: "ua"}})
	r.Disable("a")
	if _, ok := r.Next(); ok {
		t.Fatal("expected no enabled pairs")
	}

	if err := r.Replace("a", "ca2", "ua2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, ok := r.Next()
	if !ok {
		t.Fatal("expected replaced pair to be enabled")
	}
	if p.Cookie != "ca2" {
		t.Errorf("expected refreshed cookie, got %q", p.Cookie)
	}
}

func TestProxyManagerLeastUsed(t *testing.T) {
	m := NewProxyManager()
	m.Add("proxy1", "c1", "u1")
	m.Add("proxy2", "c2", "u2")

	first, ok := m.LeastUsed()
	if !ok {
		t.Fatal("expected a proxy")
	}
	second, ok := m.LeastUsed()
	if !ok {
		t.Fatal("expected a proxy")
	}
	if first.ID == second.ID {
		t.Error("expected distinct least-used proxies on first two calls")
	}
}

func TestProxyManagerEmptyPool(t *testing.T) {
	m := NewProxyManager()
	if _, ok := m.LeastUsed(); ok {
		t.Error("expected no proxy from an empty pool")
	}
}
