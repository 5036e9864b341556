package headers

import "testing"

func TestHeadersCaseInsensitiveGetSet(t *testing.T) {
	h := New()
	h.Set("Content-Type", "text/plain")

	v, ok := h.Get("content-type")
	if !ok || v != "text/plain" {
		t.Fatalf("Get(content-type) = (%q, %v), want (text/plain, true)", v, ok)
	}
	if !h.Has("CONTENT-TYPE") {
		t.Fatal("Has(CONTENT-TYPE) = false, want true")
	}
}

func TestHeadersSetOverwritesKeepsLastCasing(t *testing.T) {
	h := New()
	h.Set("X-Trace", "1")
	h.Set("x-trace", "2")

	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", h.Len())
	}

	var gotKey, gotVal string
	h.Items(func(k, v string) { gotKey, gotVal = k, v })
	if gotKey != "x-trace" || gotVal != "2" {
		t.Fatalf("Items yielded (%q, %q), want (x-trace, 2)", gotKey, gotVal)
	}
}

func TestHeadersDel(t *testing.T) {
	h := New()
	h.Set("A", "1")
	h.Set("B", "2")
	h.Del("a")

	if h.Has("A") {
		t.Fatal("Has(A) = true after Del, want false")
	}
	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", h.Len())
	}
}

func TestHeadersItemsInsertionOrder(t *testing.T) {
	h := New()
	h.Set("Z", "1")
	h.Set("A", "2")
	h.Set("M", "3")

	var keys []string
	h.Items(func(k, v string) { keys = append(keys, k) })

	want := []string{"Z", "A", "M"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}

func TestHeadersClone(t *testing.T) {
	h := New()
	h.Set("A", "1")
	c := h.Clone()
	c.Set("A", "2")

	if v, _ := h.Get("A"); v != "1" {
		t.Fatalf("original mutated by clone: Get(A) = %q, want 1", v)
	}
	if v, _ := c.Get("A"); v != "2" {
		t.Fatalf("Get(A) on clone = %q, want 2", v)
	}
}

func TestHeadersGetDefault(t *testing.T) {
	h := New()
	if got := h.GetDefault("Missing", "fallback"); got != "fallback" {
		t.Fatalf("GetDefault = %q, want fallback", got)
	}
}
