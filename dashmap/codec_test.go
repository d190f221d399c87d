package dashmap

import (
	"fmt"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestCodecRoundTrip(t *testing.T) {
	src := New[string, int](nil)
	for i := 0; i < 1000; i++ {
		src.Insert(fmt.Sprintf("key-%d", i), i)
	}

	data, err := src.Marshal()
	if err != nil {
		t.Fatalf("Не удалось сериализовать карту: %v", err)
	}

	dst := New[string, int](nil)
	if err := dst.Unmarshal(data); err != nil {
		t.Fatalf("Не удалось десериализовать карту: %v", err)
	}

	if dst.Len() != src.Len() {
		t.Fatalf("Ожидалось %d элементов, получено %d", src.Len(), dst.Len())
	}
	for k, v := range src.Iter() {
		if got, ok := dst.Get(k); !ok || got != v {
			t.Fatalf("Ключ %q: ожидалось %d, получено (%d, %v)", k, v, got, ok)
		}
	}
}

// Содержимое не зависит от топологии: сериализуем с одним числом шардов,
// восстанавливаем с другим
func TestCodecAcrossShardCounts(t *testing.T) {
	src := New[string, int](&Config[string]{ShardCount: 64})
	for i := 0; i < 500; i++ {
		src.Insert(fmt.Sprintf("k%d", i), i)
	}

	data, err := src.Marshal()
	if err != nil {
		t.Fatalf("Не удалось сериализовать: %v", err)
	}

	for _, shards := range []uint{1, 4, 16} {
		dst := New[string, int](&Config[string]{ShardCount: shards, MinShards: 1})
		if err := dst.Unmarshal(data); err != nil {
			t.Fatalf("shards=%d: не удалось десериализовать: %v", shards, err)
		}
		if dst.Len() != 500 {
			t.Fatalf("shards=%d: ожидалось 500 элементов, получено %d", shards, dst.Len())
		}
		for i := 0; i < 500; i++ {
			if v, ok := dst.Get(fmt.Sprintf("k%d", i)); !ok || v != i {
				t.Fatalf("shards=%d, k%d: получено (%d, %v)", shards, i, v, ok)
			}
		}
	}
}

func TestCodecEmptyMap(t *testing.T) {
	src := New[string, int](nil)

	data, err := src.Marshal()
	if err != nil {
		t.Fatalf("Не удалось сериализовать пустую карту: %v", err)
	}

	dst := New[string, int](nil)
	if err := dst.Unmarshal(data); err != nil {
		t.Fatalf("Не удалось десериализовать пустую карту: %v", err)
	}
	if !dst.IsEmpty() {
		t.Errorf("Ожидалась пустая карта, len=%d", dst.Len())
	}
}

func TestCodecStructValues(t *testing.T) {
	type record struct {
		Name  string `msgpack:"n"`
		Score int64  `msgpack:"s"`
	}

	src := New[string, record](nil)
	src.Insert("alice", record{Name: "Alice", Score: 100})
	src.Insert("bob", record{Name: "Bob", Score: -5})

	data, err := msgpack.Marshal(src)
	if err != nil {
		t.Fatalf("Не удалось сериализовать: %v", err)
	}

	dst := New[string, record](nil)
	if err := msgpack.Unmarshal(data, dst); err != nil {
		t.Fatalf("Не удалось десериализовать: %v", err)
	}

	if v, ok := dst.Get("alice"); !ok || v.Name != "Alice" || v.Score != 100 {
		t.Errorf("alice: получено %+v (ok=%v)", v, ok)
	}
	if v, ok := dst.Get("bob"); !ok || v.Score != -5 {
		t.Errorf("bob: получено %+v (ok=%v)", v, ok)
	}
}

func TestCodecDecodeIntoUninitialized(t *testing.T) {
	src := New[string, int](nil)
	src.Insert("k", 1)
	data, err := src.Marshal()
	if err != nil {
		t.Fatalf("Не удалось сериализовать: %v", err)
	}

	var dst Map[string, int]
	if err := dst.Unmarshal(data); err == nil {
		t.Error("Десериализация в несконструированную карту должна вернуть ошибку")
	}
}
