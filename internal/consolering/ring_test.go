package consolering

import (
	"errors"
	"reflect"
	"testing"
)

func TestHistoryLimits(t *testing.T) {
	r := New(5)
	for i := 0; i < 10; i++ {
		r.Append("L" + string(rune('0'+i)))
	}

	got := r.History(3)
	want := []string{"L7", "L8", "L9"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("History(3) = %v, want %v", got, want)
	}

	all := r.History(0)
	if len(all) != 5 {
		t.Fatalf("History(0) len = %d, want 5", len(all))
	}

	none := r.History(-1)
	if len(none) != 0 {
		t.Fatalf("History(-1) len = %d, want 0", len(none))
	}
}

func TestCapacityInvariant(t *testing.T) {
	r := New(5)
	for i := 0; i < 23; i++ {
		r.Append("x")
	}
	if r.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", r.Len())
	}
}

func TestSubscriberIsolation(t *testing.T) {
	r := New(10)
	var goodLines []string

	badID := r.Subscribe(func(line string) {
		panic(errors.New("bad subscriber"))
	})
	_ = r.Subscribe(func(line string) {
		goodLines = append(goodLines, line)
	})

	r.Append("x")
	if len(goodLines) != 1 || goodLines[0] != "x" {
		t.Fatalf("good subscriber did not receive first append: %v", goodLines)
	}

	// The panicking subscriber should have been removed.
	r.Unsubscribe(badID) // no-op, already removed, must not panic

	r.Append("y")
	if len(goodLines) != 2 || goodLines[1] != "y" {
		t.Fatalf("good subscriber did not receive second append: %v", goodLines)
	}
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	r := New(10)
	r.Unsubscribe(999)
}

func TestClearPreservesSubscribers(t *testing.T) {
	r := New(10)
	var n int
	r.Subscribe(func(string) { n++ })
	r.Append("a")
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", r.Len())
	}
	r.Append("b")
	if n != 2 {
		t.Fatalf("subscriber call count = %d, want 2", n)
	}
}
