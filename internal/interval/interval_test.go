// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package interval

import "testing"

func TestSetAddMerge(t *testing.T) {
	var s Set
	s.Add(Interval{0, 10})
	s.Add(Interval{20, 30})
	s.Add(Interval{10, 20})
	if len(s.Intervals()) != 1 {
		t.Fatalf("want merged single interval, got %v", s.Intervals())
	}
	if s.Intervals()[0] != (Interval{0, 30}) {
		t.Fatalf("want [0,30), got %v", s.Intervals()[0])
	}
}

func TestSetSubtract(t *testing.T) {
	var s Set
	s.Add(Interval{0, 100})
	s.Subtract(Interval{40, 60})
	want := []Interval{{0, 40}, {60, 100}}
	got := s.Intervals()
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}

func TestSetFullyCovered(t *testing.T) {
	var s Set
	s.Add(Interval{0, 100})
	s.Subtract(Interval{0, 100})
	if !s.Empty() {
		t.Fatalf("want empty set after full subtract, got %v", s.Intervals())
	}
}

func TestSetContains(t *testing.T) {
	var s Set
	s.Add(Interval{0, 10})
	s.Add(Interval{20, 30})
	if !s.Contains(Interval{2, 8}) {
		t.Fatalf("want contains [2,8)")
	}
	if s.Contains(Interval{5, 25}) {
		t.Fatalf("want not contains [5,25), spans the gap")
	}
}

func TestMapLastWriterWins(t *testing.T) {
	var m Map[string]
	m.Set(Interval{0, 100}, "a")
	m.Set(Interval{40, 60}, "b")
	entries := m.Intersecting(Interval{0, 100})
	want := []Entry[string]{
		{Interval{0, 40}, "a"},
		{Interval{40, 60}, "b"},
		{Interval{60, 100}, "a"},
	}
	if len(entries) != len(want) {
		t.Fatalf("want %v, got %v", want, entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("want %v, got %v", want, entries)
		}
	}
}

func TestMapErase(t *testing.T) {
	var m Map[int]
	m.Set(Interval{0, 100}, 1)
	m.Erase(Interval{25, 75})
	entries := m.Intersecting(Interval{0, 100})
	if len(entries) != 2 {
		t.Fatalf("want 2 remaining entries, got %v", entries)
	}
}

func TestMultimapIntersecting(t *testing.T) {
	var m Multimap[string]
	m.Add(Interval{0, 50}, "x")
	m.Add(Interval{40, 90}, "y")
	m.Add(Interval{200, 300}, "z")

	got := m.Intersecting(Interval{30, 60})
	set := map[string]bool{}
	for _, v := range got {
		set[v] = true
	}
	if !set["x"] || !set["y"] || set["z"] {
		t.Fatalf("want {x,y}, got %v", got)
	}
}

func TestMultimapRemove(t *testing.T) {
	var m Multimap[int]
	m.Add(Interval{0, 10}, 1)
	m.Add(Interval{0, 10}, 2)
	m.Remove(1)
	got := m.Intersecting(Interval{0, 10})
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("want [2], got %v", got)
	}
}

func TestIntersect(t *testing.T) {
	iv, ok := Intersect(Interval{0, 10}, Interval{5, 20})
	if !ok || iv != (Interval{5, 10}) {
		t.Fatalf("want [5,10), got %v ok=%v", iv, ok)
	}
	_, ok = Intersect(Interval{0, 10}, Interval{10, 20})
	if ok {
		t.Fatalf("want no overlap for abutting half-open intervals")
	}
}
