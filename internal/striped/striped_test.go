package striped

import (
	"sync"
	"testing"
)

func TestMap_SetGetDelete(t *testing.T) {
	m := New[int](8)
	m.Set("a", 1)
	v, ok := m.Get("a")
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", v, ok)
	}
	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatal("expected key to be gone after Delete")
	}
}

func TestMap_GetOrSet(t *testing.T) {
	m := New[int](4)
	v, loaded := m.GetOrSet("k", 10)
	if loaded || v != 10 {
		t.Fatalf("expected (10, false), got (%d, %v)", v, loaded)
	}
	v, loaded = m.GetOrSet("k", 20)
	if !loaded || v != 10 {
		t.Fatalf("expected existing (10, true), got (%d, %v)", v, loaded)
	}
}

func TestMap_ConcurrentAccess(t *testing.T) {
	m := New[int](16)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Set(string(rune('a'+i%26)), i)
			m.Get(string(rune('a' + i%26)))
		}(i)
	}
	wg.Wait()
	if m.Len() > 26 {
		t.Fatalf("expected at most 26 distinct keys, got %d", m.Len())
	}
}

func TestMap_Clear(t *testing.T) {
	m := New[int](4)
	m.Set("a", 1)
	m.Set("b", 2)
	m.Clear()
	if m.Len() != 0 {
		t.Fatalf("expected 0 entries after Clear, got %d", m.Len())
	}
}
