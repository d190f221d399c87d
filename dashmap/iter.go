package dashmap

import (
	"iter"
)

// ============================================
// Итерация — weakly consistent
// ============================================
//
// Обход идёт по шардам в порядке индексов, блокируя один шард за раз.
// Гарантии: ни один элемент не наблюдается "порванным" (каждый читается
// под блокировкой своего шарда); снимка всей карты нет — конкурентные
// изменения в ещё не посещённых шардах видны, в уже посещённых — нет.
// Глобальный снимок потребовал бы держать все блокировки сразу и убил
// бы масштабируемость — принятый компромисс.

// Iter — borrowing-итерация на чтение: RLock шарда держится, пока тело
// range обрабатывает его элементы. Не вызывайте из тела операции карты —
// попадание в текущий шард ждёт вечно.
func (m *Map[K, V]) Iter() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for i := range m.shards {
			if !m.iterShard(i, yield) {
				return
			}
		}
	}
}

func (m *Map[K, V]) iterShard(idx int, yield func(K, V) bool) bool {
	s := &m.shards[idx]
	s.mu.RLock()
	defer s.mu.RUnlock()
	cont := true
	s.t.scan(func(i int) bool {
		cont = yield(s.t.buckets[i].key, s.t.buckets[i].value)
		return cont
	})
	return cont
}

// IterMut — borrowing-итерация с мутацией: шард под Lock, значение
// отдаётся указателем и правится на месте. Те же ограничения, что у Iter.
func (m *Map[K, V]) IterMut() iter.Seq2[K, *V] {
	return func(yield func(K, *V) bool) {
		for i := range m.shards {
			if !m.iterShardMut(i, yield) {
				return
			}
		}
	}
}

func (m *Map[K, V]) iterShardMut(idx int, yield func(K, *V) bool) bool {
	s := &m.shards[idx]
	s.mu.Lock()
	defer s.mu.Unlock()
	cont := true
	s.t.scan(func(i int) bool {
		cont = yield(s.t.buckets[i].key, &s.t.buckets[i].value)
		return cont
	})
	return cont
}

// Keys — проекция Iter на ключи
func (m *Map[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range m.Iter() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values — проекция Iter на значения
func (m *Map[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range m.Iter() {
			if !yield(v) {
				return
			}
		}
	}
}

// Range — owning-обход: пары шарда копируются под короткой
// RLock-блокировкой, колбэк вызывается уже без неё. Из fn можно
// свободно дёргать операции карты. false из fn останавливает обход.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for i := range m.shards {
		if !m.rangeShard(i, fn) {
			return
		}
	}
}

// RangeShard — owning-обход одного шарда. Граница для внешних
// параллельных обходчиков: воркеры берут непересекающиеся шарды и не
// конкурируют ни за одну блокировку (см. parallel.go).
func (m *Map[K, V]) RangeShard(idx int, fn func(key K, value V) bool) {
	m.rangeShard(idx, fn)
}

func (m *Map[K, V]) rangeShard(idx int, fn func(key K, value V) bool) bool {
	pairs := m.appendShardPairs(nil, idx)
	for _, p := range pairs {
		if !fn(p.Key, p.Value) {
			return false
		}
	}
	return true
}

// Retain оставляет только пары, одобренные предикатом. Шард за шардом,
// предикат выполняется под exclusive-блокировкой шарда.
func (m *Map[K, V]) Retain(pred func(key K, value V) bool) {
	for si := range m.shards {
		s := &m.shards[si]
		s.mu.Lock()
		// собираем жертв, потом удаляем: backward-shift двигает бакеты,
		// удалять прямо из scan нельзя
		var victims []uint64
		var keys []K
		s.t.scan(func(i int) bool {
			b := &s.t.buckets[i]
			if !pred(b.key, b.value) {
				victims = append(victims, b.hash())
				keys = append(keys, b.key)
			}
			return true
		})
		for i, h := range victims {
			s.t.delete(h, keys[i])
			m.removeCount.Add(1)
		}
		s.mu.Unlock()
	}
}
