package registry

import "testing"

func TestTableInsertGetRemove(t *testing.T) {
	tbl := New[string]()
	h1 := tbl.Insert("alpha")
	h2 := tbl.Insert("beta")

	if v, ok := tbl.Get(h1); !ok || v != "alpha" {
		t.Fatalf("Get(h1) = %q, %v", v, ok)
	}
	if v, ok := tbl.Get(h2); !ok || v != "beta" {
		t.Fatalf("Get(h2) = %q, %v", v, ok)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tbl.Len())
	}

	tbl.Remove(h1)
	if _, ok := tbl.Get(h1); ok {
		t.Fatal("Get(h1) should fail after Remove")
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
}

func TestTableReusesFreedSlot(t *testing.T) {
	tbl := New[int]()
	h1 := tbl.Insert(1)
	tbl.Remove(h1)
	h2 := tbl.Insert(2)
	if h2 != h1 {
		t.Errorf("Insert after Remove got handle %d, want reused handle %d", h2, h1)
	}
	if v, ok := tbl.Get(h2); !ok || v != 2 {
		t.Errorf("Get(h2) = %d, %v", v, ok)
	}
}

func TestTableGetMissingHandle(t *testing.T) {
	tbl := New[int]()
	if _, ok := tbl.Get(Handle(0)); ok {
		t.Error("Get on empty table should fail")
	}
	if _, ok := tbl.Get(Handle(-1)); ok {
		t.Error("Get with negative handle should fail")
	}
}

func TestTableReplace(t *testing.T) {
	tbl := New[int]()
	h := tbl.Insert(1)
	tbl.Replace(h, 42)
	if v, _ := tbl.Get(h); v != 42 {
		t.Errorf("Get after Replace = %d, want 42", v)
	}
}

func TestTableEachSkipsFreed(t *testing.T) {
	tbl := New[string]()
	h1 := tbl.Insert("keep")
	h2 := tbl.Insert("drop")
	tbl.Remove(h2)

	seen := map[Handle]string{}
	tbl.Each(func(h Handle, v string) { seen[h] = v })
	if len(seen) != 1 || seen[h1] != "keep" {
		t.Errorf("Each visited %v, want only h1=keep", seen)
	}
}
