package embedding

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestCache_GetSet(t *testing.T) {
	c := NewCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	mock := NewMockEmbedder(8)
	e := NewCachedEmbedder(mock, 10)

	first, err := e.Embed(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Embed(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("cached embedding differs")
		}
	}
	if e.cache.Len() != 1 {
		t.Errorf("cache len = %d", e.cache.Len())
	}

	batch, err := e.EmbedBatch(ctx, []string{"hello", "world"})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 2 || len(batch[0]) != 8 {
		t.Errorf("batch shape wrong: %d", len(batch))
	}
}

func TestCache_ConcurrentGet(t *testing.T) {
	c := NewCache(16)
	keys := make([]string, 8)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		c.Set(keys[i], []float32{float32(i)})
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				k := keys[i%len(keys)]
				v, ok := c.Get(k)
				if !ok || len(v) != 1 {
					t.Errorf("Get(%s): got %v, %v", k, v, ok)
					return
				}
			}
		}()
	}
	wg.Wait()
}
