package idgen

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		id := New()
		if id <= prev {
			t.Fatalf("id %s not greater than %s", id, prev)
		}
		if _, err := ulid.ParseStrict(id); err != nil {
			t.Fatalf("invalid ulid %s: %v", id, err)
		}
		prev = id
	}
}

func TestGenerator(t *testing.T) {
	var g Generator
	if a, b := g.NewID(), g.NewID(); a == b {
		t.Errorf("expected distinct ids, got %s twice", a)
	}
}
