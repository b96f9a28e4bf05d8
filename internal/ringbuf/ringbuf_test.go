package ringbuf

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRing_BasicPushPop(t *testing.T) {
	r := New(4) // rounds to 4

	f1 := []byte(`{"m":"quote_create_session","p":["qs_1"]}`)
	f2 := []byte(`{"m":"quote_add_symbols","p":["qs_1","NASDAQ:AAPL"]}`)

	if !r.Push(f1) {
		t.Fatal("push f1 should succeed")
	}
	if !r.Push(f2) {
		t.Fatal("push f2 should succeed")
	}

	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got, ok := r.Pop()
	if !ok || string(got) != string(f1) {
		t.Fatalf("expected f1, got %s ok=%v", got, ok)
	}

	got, ok = r.Pop()
	if !ok || string(got) != string(f2) {
		t.Fatalf("expected f2, got %s ok=%v", got, ok)
	}

	_, ok = r.Pop()
	if ok {
		t.Fatal("pop from empty should return false")
	}
}

func TestRing_Overflow(t *testing.T) {
	r := New(2) // capacity = 2

	r.Push([]byte("1"))
	r.Push([]byte("2"))

	// Buffer is full
	ok := r.Push([]byte("3"))
	if ok {
		t.Fatal("push to full buffer should return false")
	}
	if r.Overflow() != 1 {
		t.Fatalf("expected overflow=1, got %d", r.Overflow())
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New(4)

	// Fill and drain multiple times to test wraparound
	for round := 0; round < 5; round++ {
		for i := 0; i < 4; i++ {
			if !r.Push([]byte(fmt.Sprintf("%d", round*10+i))) {
				t.Fatalf("round %d push %d failed", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			frame, ok := r.Pop()
			if !ok {
				t.Fatalf("round %d pop %d failed", round, i)
			}
			if string(frame) != fmt.Sprintf("%d", round*10+i) {
				t.Fatalf("round %d pop %d: expected %d, got %s", round, i, round*10+i, frame)
			}
		}
	}
}

func TestRing_SPSC_Concurrent(t *testing.T) {
	const count = 100_000
	r := New(1024)

	var wg sync.WaitGroup
	wg.Add(2)

	// Producer
	go func() {
		defer wg.Done()
		for i := 0; i < count; i++ {
			frame := []byte(fmt.Sprintf("%d", i))
			for !r.Push(frame) {
				// spin-wait (busy loop for test only)
			}
		}
	}()

	// Consumer
	received := make([]int, 0, count)
	go func() {
		defer wg.Done()
		for len(received) < count {
			frame, ok := r.Pop()
			if ok {
				var v int
				fmt.Sscanf(string(frame), "%d", &v)
				received = append(received, v)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("SPSC test timed out")
	}

	// Verify ordering
	for i, v := range received {
		if v != i {
			t.Fatalf("at index %d: expected %d, got %d", i, i, v)
		}
	}
}

func TestRing_NextPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {7, 8}, {8, 8}, {9, 16}, {1023, 1024},
	}
	for _, tc := range cases {
		got := nextPow2(tc.in)
		if got != tc.want {
			t.Errorf("nextPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
