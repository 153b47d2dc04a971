package ident

import (
	"strconv"
	"strings"
	"testing"
)

func TestSaleIDsAreUniqueAndOrdered(t *testing.T) {
	gen, err := NewGenerator(1)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	seen := map[string]bool{}
	var prev int64
	for i := 0; i < 100; i++ {
		id := gen.SaleID()
		if seen[id] {
			t.Fatalf("duplicate sale id %s", id)
		}
		seen[id] = true

		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			t.Fatalf("sale id %s is not numeric: %v", id, err)
		}
		if n <= prev {
			t.Fatalf("sale ids must be monotonically increasing: %d after %d", n, prev)
		}
		prev = n
	}
}

func TestNewGeneratorWrapsNodeIndex(t *testing.T) {
	// Register indexes above the snowflake node range wrap instead of failing.
	if _, err := NewGenerator(1500); err != nil {
		t.Fatalf("expected wrapped node index to work, got %v", err)
	}
}

func TestSessionID(t *testing.T) {
	a, b := SessionID(), SessionID()
	if !strings.HasPrefix(a, "sess-") {
		t.Fatalf("unexpected session id format: %s", a)
	}
	if a == b {
		t.Fatal("session ids must be unique")
	}
}
