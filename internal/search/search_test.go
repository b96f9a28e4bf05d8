package search

import (
	"context"
	"testing"
)

type countingClient struct {
	calls   int
	results []Result
}

func (c *countingClient) Search(ctx context.Context, query string) ([]Result, error) {
	c.calls++
	return c.results, nil
}

func TestCachingClientCachesByQuery(t *testing.T) {
	inner := &countingClient{results: []Result{{Symbol: "THYAO", Exchange: "BIST"}}}
	client := NewCachingClient(inner, 10)

	for i := 0; i < 3; i++ {
		results, err := client.Search(context.Background(), "thyao")
		if err != nil {
			t.Fatalf("Search returned error: %v", err)
		}
		if len(results) != 1 || results[0].Symbol != "THYAO" {
			t.Fatalf("Search returned %+v", results)
		}
	}

	if inner.calls != 1 {
		t.Errorf("inner.Search called %d times, want 1 (cache miss only on first call)", inner.calls)
	}

	if _, err := client.Search(context.Background(), "garan"); err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner.Search called %d times after a distinct query, want 2", inner.calls)
	}
}
