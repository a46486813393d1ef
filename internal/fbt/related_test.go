package fbt

import (
	"context"
	"testing"
	"time"
)

func TestRecommender_Related(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	rec := NewRecorder(st, RecorderOptions{Dedupe: true})
	rec.Record(ctx, 1, "test", items(5, 7))
	rec.Record(ctx, 2, "test", items(5, 7, 9))
	rec.Record(ctx, 3, "test", items(5, 11))
	rec.Record(ctx, 4, "test", items(5))

	r := NewRecommender(st, RecommenderOptions{DefaultLimit: 4})
	got, err := r.Related(ctx, 5, 0)
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len: got %d, want 3", len(got))
	}
	if got[0].ProductID != 7 || got[0].Count != 2 {
		t.Errorf("first: got %+v, want product 7 with count 2", got[0])
	}
	if got[0].Confidence != 0.5 {
		t.Errorf("Confidence: got %v, want 0.5", got[0].Confidence)
	}
}

func TestRecommender_MinCount(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	rec := NewRecorder(st, RecorderOptions{Dedupe: true})
	rec.Record(ctx, 1, "test", items(1, 2))
	rec.Record(ctx, 2, "test", items(1, 2, 3))

	r := NewRecommender(st, RecommenderOptions{MinCount: 2})
	got, err := r.Related(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	if len(got) != 1 || got[0].ProductID != 2 {
		t.Errorf("got %+v, want only product 2", got)
	}
}

func TestRecommender_CacheAndInvalidate(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	r := NewRecommender(st, RecommenderOptions{CacheSize: 16, CacheTTL: time.Minute})
	rec := NewRecorder(st, RecorderOptions{Dedupe: true, Invalidator: r})

	rec.Record(ctx, 1, "test", items(1, 2))
	first, _ := r.Related(ctx, 1, 4)
	if len(first) != 1 {
		t.Fatalf("first: got %d relations, want 1", len(first))
	}

	// Written behind the cache's back: the cached answer is still served.
	st.ApplyOrder(ctx, Contribution{OrderID: 2, Products: []int64{1, 3}, Pairs: []Pair{{1, 3}}})
	cached, _ := r.Related(ctx, 1, 4)
	if len(cached) != 1 {
		t.Errorf("cached: got %d relations, want 1", len(cached))
	}

	// Through the recorder the entry is invalidated.
	rec.Record(ctx, 3, "test", items(1, 4))
	fresh, _ := r.Related(ctx, 1, 4)
	if len(fresh) != 3 {
		t.Errorf("fresh: got %d relations, want 3", len(fresh))
	}
}

func TestRecommender_UnknownProduct(t *testing.T) {
	r := NewRecommender(newMemStore(), RecommenderOptions{})
	got, err := r.Related(context.Background(), 404, 0)
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d relations, want 0", len(got))
	}
}
