package dashmap

import (
	"fmt"
	"sync"
	"testing"
)

func TestSetBasic(t *testing.T) {
	s := NewSet[string](nil)

	if !s.Insert("a") {
		t.Error("Первая вставка должна вернуть true")
	}
	if s.Insert("a") {
		t.Error("Повторная вставка должна вернуть false")
	}

	if !s.Contains("a") {
		t.Error("Элемент должен присутствовать")
	}
	if s.Contains("b") {
		t.Error("Элемента не должно быть")
	}

	if !s.Remove("a") {
		t.Error("Remove существующего элемента должен вернуть true")
	}
	if s.Remove("a") {
		t.Error("Повторный Remove должен вернуть false")
	}
}

func TestSetLenAndClear(t *testing.T) {
	s := NewSet[int](nil)
	if !s.IsEmpty() {
		t.Error("Новое множество должно быть пустым")
	}

	for i := 0; i < 100; i++ {
		s.Insert(i)
	}
	if s.Len() != 100 {
		t.Errorf("Ожидалось 100 элементов, получено %d", s.Len())
	}

	s.Clear()
	if !s.IsEmpty() {
		t.Errorf("После Clear множество должно быть пустым, len=%d", s.Len())
	}
}

func TestSetFromKeys(t *testing.T) {
	s := FromKeys(nil, []string{"x", "y", "z", "x"})
	if s.Len() != 3 {
		t.Errorf("Дубликаты должны схлопнуться: ожидалось 3, получено %d", s.Len())
	}
	for _, k := range []string{"x", "y", "z"} {
		if !s.Contains(k) {
			t.Errorf("Элемент %q потерян", k)
		}
	}
}

func TestSetIterAndKeys(t *testing.T) {
	s := NewSet[int](nil)
	for i := 0; i < 50; i++ {
		s.Insert(i)
	}

	seen := make(map[int]bool)
	for k := range s.Iter() {
		if seen[k] {
			t.Fatalf("Элемент %d посещён дважды", k)
		}
		seen[k] = true
	}
	if len(seen) != 50 {
		t.Fatalf("Ожидалось 50 элементов, посещено %d", len(seen))
	}

	if got := len(s.Keys()); got != 50 {
		t.Errorf("Keys: ожидалось 50, получено %d", got)
	}
}

func TestSetRetain(t *testing.T) {
	s := NewSet[int](nil)
	for i := 0; i < 100; i++ {
		s.Insert(i)
	}

	s.Retain(func(k int) bool { return k < 10 })
	if s.Len() != 10 {
		t.Errorf("Ожидалось 10 элементов, получено %d", s.Len())
	}
}

func TestSetRangeEarlyStop(t *testing.T) {
	s := NewSet[int](nil)
	for i := 0; i < 100; i++ {
		s.Insert(i)
	}

	count := 0
	s.Range(func(int) bool {
		count++
		return count < 5
	})
	if count != 5 {
		t.Errorf("Ожидалось 5 вызовов, получено %d", count)
	}
}

func TestSetConcurrentInsertExactlyOneWinner(t *testing.T) {
	s := NewSet[string](nil)

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan int, workers)
	start := make(chan struct{})
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			<-start
			if s.Insert("contested") {
				wins <- w
			}
		}(w)
	}
	close(start)
	wg.Wait()
	close(wins)

	winners := 0
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Errorf("Ожидался ровно один победитель, получено %d", winners)
	}
	if s.Len() != 1 {
		t.Errorf("Ожидался 1 элемент, получено %d", s.Len())
	}
}

func TestSetDistinctConcurrent(t *testing.T) {
	s := NewSet[string](nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				s.Insert(fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()

	if s.Len() != 8000 {
		t.Errorf("Ожидалось 8000 элементов, получено %d", s.Len())
	}
}
