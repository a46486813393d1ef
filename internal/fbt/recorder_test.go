package fbt

import (
	"context"
	"errors"
	"testing"
)

type recordingInvalidator struct {
	ids []int64
}

func (r *recordingInvalidator) Invalidate(ids ...int64) { r.ids = append(r.ids, ids...) }

func TestRecorder_TwoOrders(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	rec := NewRecorder(st, RecorderOptions{Dedupe: true})

	if _, err := rec.Record(ctx, 1, "test", items(5, 7)); err != nil {
		t.Fatalf("Record O1: %v", err)
	}
	if _, err := rec.Record(ctx, 2, "test", items(5, 7, 9)); err != nil {
		t.Fatalf("Record O2: %v", err)
	}

	pairWants := map[[2]int64]int64{{5, 7}: 2, {5, 9}: 1, {7, 9}: 1}
	for p, want := range pairWants {
		if got := st.pair(p[0], p[1]); got != want {
			t.Errorf("pair %v: got %d, want %d", p, got, want)
		}
	}
	statWants := map[int64]int64{5: 2, 7: 2, 9: 1}
	for id, want := range statWants {
		if got := st.products[id]; got != want {
			t.Errorf("order_count[%d]: got %d, want %d", id, got, want)
		}
	}
}

func TestRecorder_SingleProduct(t *testing.T) {
	st := newMemStore()
	rec := NewRecorder(st, RecorderOptions{Dedupe: true})

	outcome, err := rec.Record(context.Background(), 1, "test", items(4, 4))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if outcome != OutcomeRecorded {
		t.Errorf("outcome: got %s, want %s", outcome, OutcomeRecorded)
	}
	if len(st.pairs) != 0 {
		t.Errorf("pairs: got %d, want 0", len(st.pairs))
	}
	if st.products[4] != 1 {
		t.Errorf("order_count[4]: got %d, want 1", st.products[4])
	}
}

func TestRecorder_EmptyOrderNotLedgered(t *testing.T) {
	st := newMemStore()
	rec := NewRecorder(st, RecorderOptions{Dedupe: true})

	outcome, err := rec.Record(context.Background(), 1, "test", nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if outcome != OutcomeEmpty {
		t.Errorf("outcome: got %s, want %s", outcome, OutcomeEmpty)
	}
	if st.applyCall != 0 {
		t.Errorf("store calls: got %d, want 0", st.applyCall)
	}
}

func TestRecorder_DuplicateTrigger(t *testing.T) {
	ctx := context.Background()

	t.Run("dedupe skips second trigger", func(t *testing.T) {
		st := newMemStore()
		rec := NewRecorder(st, RecorderOptions{Dedupe: true})
		rec.Record(ctx, 1, "test", items(1, 2))
		outcome, err := rec.Record(ctx, 1, "test", items(1, 2))
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		if outcome != OutcomeDuplicate {
			t.Errorf("outcome: got %s, want %s", outcome, OutcomeDuplicate)
		}
		if got := st.pair(1, 2); got != 1 {
			t.Errorf("pair count: got %d, want 1", got)
		}
	})

	t.Run("legacy mode inflates counts", func(t *testing.T) {
		st := newMemStore()
		rec := NewRecorder(st, RecorderOptions{Dedupe: false})
		rec.Record(ctx, 1, "test", items(1, 2))
		rec.Record(ctx, 1, "test", items(1, 2))
		if got := st.pair(1, 2); got != 2 {
			t.Errorf("pair count: got %d, want 2", got)
		}
		if got := st.products[1]; got != 2 {
			t.Errorf("order_count[1]: got %d, want 2", got)
		}
	})
}

func TestRecorder_InvalidatesProducts(t *testing.T) {
	inv := &recordingInvalidator{}
	rec := NewRecorder(newMemStore(), RecorderOptions{Dedupe: true, Invalidator: inv})

	rec.Record(context.Background(), 1, "test", items(3, 1))
	if len(inv.ids) != 2 || inv.ids[0] != 1 || inv.ids[1] != 3 {
		t.Errorf("invalidated: got %v, want [1 3]", inv.ids)
	}
}

func TestOnOrderCompleted_SwallowsErrors(t *testing.T) {
	st := newMemStore()
	st.applyErr[9] = errBoom
	rec := NewRecorder(st, RecorderOptions{Dedupe: true})

	outcome := rec.OnOrderCompleted(context.Background(), completedOrder(9, 1, 2), "test")
	if outcome != OutcomeFailed {
		t.Errorf("outcome: got %s, want %s", outcome, OutcomeFailed)
	}
}

func TestOnOrderCompleted_IgnoresOtherStatuses(t *testing.T) {
	st := newMemStore()
	rec := NewRecorder(st, RecorderOptions{Dedupe: true})

	o := completedOrder(1, 1, 2)
	o.Status = "processing"
	if outcome := rec.OnOrderCompleted(context.Background(), o, "test"); outcome != OutcomeIgnored {
		t.Errorf("outcome: got %s, want %s", outcome, OutcomeIgnored)
	}
	if st.applyCall != 0 {
		t.Errorf("store calls: got %d, want 0", st.applyCall)
	}
}

func TestOnOrderCompleted_ConfiguredStatuses(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	rec := NewRecorder(st, RecorderOptions{Dedupe: true, CompletedStatuses: []string{"completed", "wc-processing"}})

	o := completedOrder(1, 1, 2)
	o.Status = "processing"
	if outcome := rec.OnOrderCompleted(ctx, o, "test"); outcome != OutcomeRecorded {
		t.Errorf("processing outcome: got %s, want %s", outcome, OutcomeRecorded)
	}
	if got := st.pair(1, 2); got != 1 {
		t.Errorf("pair count: got %d, want 1", got)
	}

	done := completedOrder(2, 1, 2)
	if outcome := rec.OnOrderCompleted(ctx, done, "test"); outcome != OutcomeRecorded {
		t.Errorf("completed outcome: got %s, want %s", outcome, OutcomeRecorded)
	}

	held := completedOrder(3, 1, 2)
	held.Status = "on-hold"
	if outcome := rec.OnOrderCompleted(ctx, held, "test"); outcome != OutcomeIgnored {
		t.Errorf("on-hold outcome: got %s, want %s", outcome, OutcomeIgnored)
	}
	if got := st.pair(1, 2); got != 2 {
		t.Errorf("pair count after on-hold: got %d, want 2", got)
	}
}

func TestRecord_WrapsStoreError(t *testing.T) {
	st := newMemStore()
	st.applyErr[1] = errBoom
	rec := NewRecorder(st, RecorderOptions{})

	_, err := rec.Record(context.Background(), 1, "test", items(1, 2))
	if !errors.Is(err, errBoom) {
		t.Errorf("err: got %v, want wrapped errBoom", err)
	}
}
