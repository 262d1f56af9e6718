package models

import "testing"

func TestNormalizePositions(t *testing.T) {
	in := []Position{
		{OrderID: "low", Price: 90000, Qty: 0.0001},
		{OrderID: "high", Price: 100000, Qty: 0.0001},
		{OrderID: "low", Price: 95000, Qty: 0.0002},
		{OrderID: "", Price: 95000, Qty: 0.0001},
		{OrderID: "neg", Price: 95000, Qty: -1},
	}
	got := NormalizePositions(in)
	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got[0].OrderID != "high" || got[1].OrderID != "low" || got[1].Price != 90000 {
		t.Fatalf("got %+v", got)
	}
	if in[0].OrderID != "low" || len(in) != 5 {
		t.Fatal("input mutated")
	}
	if NormalizePositions(nil) != nil {
		t.Fatal("nil in, nil out")
	}
}
