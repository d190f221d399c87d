package dashmap

// ============================================
// Entry API — атомарный check-then-act
// ============================================

// Entry — handle на слот конкретного ключа, занятый (Occupied) или
// пустой (Vacant). Создаётся одним захватом exclusive-блокировки шарда;
// все последующие операции переиспользуют её, не перехешируя и не
// перезахватывая. Завершайте работу через Release (defer) либо через
// OrInsert*/Remove, которые забирают владение блокировкой на себя.
type Entry[K comparable, V any] struct {
	m       *Map[K, V]
	s       *shard[K, V]
	key     K
	hash    uint64
	idx     int // валиден только при present
	present bool
	done    bool // блокировка отдана или отпущена
}

// Entry захватывает exclusive-блокировку шарда ключа, пробирует таблицу
// и классифицирует слот. Не вызывайте методы карты для ключей этого же
// шарда, пока Entry жив — дедлок (см. ref.go).
func (m *Map[K, V]) Entry(key K) *Entry[K, V] {
	h := m.hasher(key)
	s := m.shardFor(h)
	s.mu.Lock()
	i, ok := s.t.find(h, key)
	return &Entry[K, V]{m: m, s: s, key: key, hash: h, idx: i, present: ok}
}

// Key возвращает ключ, для которого создан Entry
func (e *Entry[K, V]) Key() K {
	return e.key
}

// Exists сообщает, занят ли слот
func (e *Entry[K, V]) Exists() bool {
	return e.present
}

// Get возвращает текущее значение занятого слота
func (e *Entry[K, V]) Get() (V, bool) {
	if !e.present {
		var zero V
		return zero, false
	}
	return e.s.t.buckets[e.idx].value, true
}

// Set вставляет или перезаписывает значение, возвращая прежнее.
// Entry остаётся живым и занятым.
func (e *Entry[K, V]) Set(value V) (prev V, replaced bool) {
	prev, replaced = e.s.t.set(e.hash, e.key, value)
	// вставка могла вызвать рост таблицы — индекс ищем заново
	e.idx, _ = e.s.t.find(e.hash, e.key)
	e.present = true
	e.m.insertCount.Add(1)
	return prev, replaced
}

// AndModify мутирует значение на месте, если слот занят. Возвращает
// e для цепочки: m.Entry(k).AndModify(...).OrInsert(v).
func (e *Entry[K, V]) AndModify(fn func(value *V)) *Entry[K, V] {
	if e.present {
		fn(&e.s.t.buckets[e.idx].value)
	}
	return e
}

// Remove удаляет занятый слот и завершает Entry (блокировка
// отпускается). Для пустого слота просто завершает Entry.
func (e *Entry[K, V]) Remove() (prev V, ok bool) {
	if e.present {
		prev, ok = e.s.t.delete(e.hash, e.key)
		e.m.removeCount.Add(1)
	}
	e.release()
	return prev, ok
}

// OrInsert возвращает exclusive-guard на значение, вставляя value,
// если слот пуст. Владение блокировкой переходит guard'у — тот же
// захват, никакого второго round-trip'а.
func (e *Entry[K, V]) OrInsert(value V) *RefMut[K, V] {
	return e.OrInsertWith(func() V { return value })
}

// OrInsertWith — как OrInsert, но фабрика вызывается только на пустом
// слоте и ровно один раз: блокировка держится всё время, конкуренты
// этого ключа стоят на ней (ключ всегда разрешается в один шард).
func (e *Entry[K, V]) OrInsertWith(factory func() V) *RefMut[K, V] {
	if !e.present {
		e.s.t.set(e.hash, e.key, factory())
		e.idx, _ = e.s.t.find(e.hash, e.key)
		e.present = true
		e.m.insertCount.Add(1)
	}
	e.done = true // блокировка теперь принадлежит guard'у
	return newRefMut(e.s, &e.s.t.buckets[e.idx])
}

// Release отпускает блокировку шарда, если она ещё за Entry. Идемпотентен.
func (e *Entry[K, V]) Release() {
	e.release()
}

func (e *Entry[K, V]) release() {
	if e.done {
		return
	}
	e.done = true
	e.s.mu.Unlock()
}
