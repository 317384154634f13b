package smc

import (
	"testing"

	"smc-engine/internal/model"
)

func block(low float64, side model.Side) model.OrderBlock {
	return model.OrderBlock{Low: low, High: low + 1, TS: baseTS, Side: side}
}

func TestLedger_PruneKeepsDoubleCapacity(t *testing.T) {
	l := NewLedger(3)
	for i := 0; i < 10; i++ {
		l.Append(block(float64(i), model.SideBuy))
	}
	if n := l.Prune(); n != 4 {
		t.Fatalf("expected 4 pruned, got %d", n)
	}
	if l.Len() != 6 {
		t.Fatalf("expected len=6, got %d", l.Len())
	}
	all := l.All()
	if all[0].Low != 4 || all[5].Low != 9 {
		t.Fatalf("expected oldest pruned first, got %v", all)
	}
	if n := l.Prune(); n != 0 {
		t.Fatalf("expected nothing left to prune, got %d", n)
	}
}

func TestLedger_VisibleSuffix(t *testing.T) {
	l := NewLedger(3)
	if len(l.Visible()) != 0 {
		t.Fatal("expected empty visible list")
	}
	l.Append(block(1, model.SideBuy))
	l.Append(block(2, model.SideSell))
	if v := l.Visible(); len(v) != 2 || v[0].Low != 1 || v[1].Low != 2 {
		t.Fatalf("expected both blocks oldest first, got %v", v)
	}
	for i := 3; i <= 5; i++ {
		l.Append(block(float64(i), model.SideBuy))
	}
	v := l.Visible()
	if len(v) != 3 || v[0].Low != 3 || v[2].Low != 5 {
		t.Fatalf("expected last 3 blocks, got %v", v)
	}

	// Callers get a copy
	v[0].Low = 99
	if l.Visible()[0].Low != 3 {
		t.Fatal("Visible exposed internal storage")
	}
}

func TestLedger_InvalidatePreservesOrder(t *testing.T) {
	l := NewLedger(5)
	l.Append(block(10, model.SideBuy))  // 10-11, breaks below 10
	l.Append(block(20, model.SideSell)) // 20-21, breaks above 21
	l.Append(block(5, model.SideBuy))   // 5-6
	l.Append(block(12, model.SideSell)) // 12-13

	dropped := l.Invalidate(15)
	if len(dropped) != 1 || dropped[0].Low != 12 {
		t.Fatalf("expected only the 12-13 SELL dropped, got %v", dropped)
	}

	dropped = l.Invalidate(8)
	if len(dropped) != 1 || dropped[0].Low != 10 {
		t.Fatalf("expected the 10-11 BUY dropped, got %v", dropped)
	}

	all := l.All()
	if len(all) != 2 || all[0].Low != 20 || all[1].Low != 5 {
		t.Fatalf("expected survivors in insertion order, got %v", all)
	}

	// Exactly at the boundary is not a break
	if dropped := l.Invalidate(5); len(dropped) != 0 {
		t.Fatalf("close on the boundary should not break, got %v", dropped)
	}
}

func TestLedger_Reset(t *testing.T) {
	l := NewLedger(2)
	l.Append(block(1, model.SideBuy))
	l.Reset()
	if l.Len() != 0 || len(l.Visible()) != 0 {
		t.Fatal("expected empty ledger after reset")
	}
}
