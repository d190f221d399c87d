package dashmap

import (
	"sync"
)

// shard — независимая единица хранения и конкуренции: одна таблица
// под одним RWMutex. Таблица никогда не читается без RLock и не
// мутируется без Lock; рост/ужатие таблицы одного шарда не затрагивает
// соседей.
type shard[K comparable, V any] struct {
	mu sync.RWMutex
	t  table[K, V]
	// cache line padding: RWMutex=24b + table=64b → добиваем до 128
	_ [40]byte
}

// shardIndex выбирает шард по старшим битам хеша. Биты слота (младшие,
// см. table.go) и биты шарда не пересекаются — соседние по слоту ключи
// не слипаются в один шард и наоборот.
func shardIndex(hash uint64, shift uint) uint64 {
	return hash >> shift
}

func (m *Map[K, V]) shardFor(hash uint64) *shard[K, V] {
	return &m.shards[shardIndex(hash, m.shardShift)]
}
