package hashtable

import "testing"

func TestSetGet(t *testing.T) {
	ht := MkHash(8)
	if !ht.Set(1, "fork") {
		t.Fatal("set failed")
	}
	if v, ok := ht.Get(1); !ok || v.(string) != "fork" {
		t.Fatalf("get mismatch: %v %v", v, ok)
	}
	if _, ok := ht.Get(2); ok {
		t.Fatal("expected miss for unset key")
	}
}

func TestSetRejectsDuplicate(t *testing.T) {
	ht := MkHash(4)
	ht.Set(5, "a")
	if ht.Set(5, "b") {
		t.Fatal("expected duplicate Set to fail")
	}
	v, _ := ht.Get(5)
	if v.(string) != "a" {
		t.Fatal("duplicate Set must not overwrite")
	}
}
