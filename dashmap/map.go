package dashmap

import (
	"math/bits"
	"runtime"
	"sync/atomic"
)

// ============================================
// Map — шардированная конкурентная карта
// ============================================

const (
	// DefaultMinShards — нижняя граница числа шардов по умолчанию.
	DefaultMinShards = 2

	// MaxShards — верхняя граница (старшие 16 бит хеша зарезервированы
	// под выбор шарда, см. table.go).
	MaxShards = 1 << dibBitSize
)

// Pair — пара ключ/значение для bulk-операций и сериализации.
type Pair[K comparable, V any] struct {
	Key   K `msgpack:"k"`
	Value V `msgpack:"v"`
}

// Config содержит параметры конфигурации карты
type Config[K comparable] struct {
	ShardCount uint      // Явное число шардов (0 = от числа CPU), округляется вверх до 2^n
	MinShards  uint      // Нижняя граница числа шардов (0 = DefaultMinShards)
	Capacity   int       // Ожидаемое число элементов на всю карту
	Hasher     Hasher[K] // nil = универсальный maphash-хешер
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig[K comparable]() *Config[K] {
	return &Config[K]{}
}

// Map — конкурентная карта поверх массива независимо блокируемых шардов.
// Число шардов фиксируется при создании; хешер один на все шарды, так
// что ключ всегда разрешается в один и тот же шард.
//
// Блокировки не "отравляются": паника горутины, держащей guard без
// defer Release, оставляет шард заблокированным, но не делает карту
// невалидной для остальных. Повторный захват того же шарда из одного
// стека (guard поверх guard, вызов карты из колбэка IterMut и т.п.) —
// дедлок; это обязанность вызывающего, не библиотеки.
type Map[K comparable, V any] struct {
	shards     []shard[K, V]
	shardShift uint // 64 - log2(len(shards))
	hasher     Hasher[K]

	// Метрики (lock-free)
	getCount    atomic.Uint64
	missCount   atomic.Uint64
	insertCount atomic.Uint64
	removeCount atomic.Uint64
}

// New создает карту. nil-конфиг означает значения по умолчанию:
// число шардов = NumCPU*4, округлённое вверх до степени двойки.
// Параллелизм опрашивается один раз здесь и больше никогда —
// поведение карты детерминировано после конструирования.
func New[K comparable, V any](cfg *Config[K]) *Map[K, V] {
	if cfg == nil {
		cfg = DefaultConfig[K]()
	}

	n := shardCountFor(cfg.ShardCount, cfg.MinShards)

	m := &Map[K, V]{
		shards:     make([]shard[K, V], n),
		shardShift: uint(64 - bits.TrailingZeros64(uint64(n))),
		hasher:     cfg.Hasher,
	}
	if m.hasher == nil {
		m.hasher = defaultHasher[K]()
	}

	perShard := cfg.Capacity / n
	for i := range m.shards {
		m.shards[i].t.init(perShard)
	}
	return m
}

// shardCountFor приводит запрошенное число шардов к степени двойки
// в пределах [minShards, MaxShards].
func shardCountFor(requested, minShards uint) int {
	if minShards == 0 {
		minShards = DefaultMinShards
	}
	n := requested
	if n == 0 {
		n = uint(runtime.NumCPU()) * 4
	}
	if n < minShards {
		n = minShards
	}
	n = nextPowerOfTwo(n)
	if n > MaxShards {
		n = MaxShards
	}
	return int(n)
}

func nextPowerOfTwo(n uint) uint {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(n-1)
}

// FromPairs конструирует карту из готового набора пар (границa для
// fuzz/property-тестов и десериализации). Поздние дубликаты ключей
// перезаписывают ранние.
func FromPairs[K comparable, V any](cfg *Config[K], pairs []Pair[K, V]) *Map[K, V] {
	if cfg == nil {
		cfg = DefaultConfig[K]()
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = len(pairs)
	}
	m := New[K, V](cfg)
	m.AppendPairs(pairs)
	return m
}

// ============================================
// Операции по ключу
// ============================================

// Get возвращает копию значения. Короткая shared-блокировка шарда,
// никаких guard'ов наружу.
func (m *Map[K, V]) Get(key K) (V, bool) {
	h := m.hasher(key)
	s := m.shardFor(h)
	s.mu.RLock()
	i, ok := s.t.find(h, key)
	if !ok {
		s.mu.RUnlock()
		m.missCount.Add(1)
		var zero V
		return zero, false
	}
	v := s.t.buckets[i].value
	s.mu.RUnlock()
	m.getCount.Add(1)
	return v, true
}

// GetRef возвращает shared-guard на значение: шард остаётся под
// RLock до Release. Обязательно defer ref.Release().
func (m *Map[K, V]) GetRef(key K) (*Ref[K, V], bool) {
	h := m.hasher(key)
	s := m.shardFor(h)
	s.mu.RLock()
	i, ok := s.t.find(h, key)
	if !ok {
		s.mu.RUnlock()
		m.missCount.Add(1)
		return nil, false
	}
	m.getCount.Add(1)
	return newRef(s, &s.t.buckets[i]), true
}

// GetMut возвращает exclusive-guard: значение можно менять на месте,
// шард под Lock до Release.
func (m *Map[K, V]) GetMut(key K) (*RefMut[K, V], bool) {
	h := m.hasher(key)
	s := m.shardFor(h)
	s.mu.Lock()
	i, ok := s.t.find(h, key)
	if !ok {
		s.mu.Unlock()
		m.missCount.Add(1)
		return nil, false
	}
	m.getCount.Add(1)
	return newRefMut(s, &s.t.buckets[i]), true
}

// ContainsKey проверяет наличие ключа
func (m *Map[K, V]) ContainsKey(key K) bool {
	h := m.hasher(key)
	s := m.shardFor(h)
	s.mu.RLock()
	_, ok := s.t.find(h, key)
	s.mu.RUnlock()
	return ok
}

// Insert вставляет или перезаписывает, возвращая вытесненное значение.
// Один лукап под одной exclusive-блокировкой.
func (m *Map[K, V]) Insert(key K, value V) (prev V, replaced bool) {
	h := m.hasher(key)
	s := m.shardFor(h)
	s.mu.Lock()
	prev, replaced = s.t.set(h, key, value)
	s.mu.Unlock()
	m.insertCount.Add(1)
	return prev, replaced
}

// Remove удаляет ключ, возвращая удалённое значение
func (m *Map[K, V]) Remove(key K) (prev V, ok bool) {
	h := m.hasher(key)
	s := m.shardFor(h)
	s.mu.Lock()
	prev, ok = s.t.delete(h, key)
	s.mu.Unlock()
	if ok {
		m.removeCount.Add(1)
	}
	return prev, ok
}

// RemoveIf удаляет ключ, только если предикат одобрил текущее значение.
// Проверка и удаление — под одной блокировкой, без гонки check-then-act.
func (m *Map[K, V]) RemoveIf(key K, pred func(key K, value V) bool) (prev V, ok bool) {
	h := m.hasher(key)
	s := m.shardFor(h)
	s.mu.Lock()
	defer s.mu.Unlock()
	i, found := s.t.find(h, key)
	if !found || !pred(s.t.buckets[i].key, s.t.buckets[i].value) {
		return prev, false
	}
	prev, ok = s.t.delete(h, key)
	if ok {
		m.removeCount.Add(1)
	}
	return prev, ok
}

// ============================================
// Bulk-операции
// ============================================

// AppendPairs вставляет набор пар через обычный путь вставки:
// принадлежность шардам пересчитывается, что позволяет заливать
// данные, снятые с карты с другим числом шардов.
func (m *Map[K, V]) AppendPairs(pairs []Pair[K, V]) {
	for _, p := range pairs {
		m.Insert(p.Key, p.Value)
	}
}

// Pairs снимает все пары карты (weakly consistent, см. iter.go).
func (m *Map[K, V]) Pairs() []Pair[K, V] {
	out := make([]Pair[K, V], 0, m.Len())
	for i := range m.shards {
		out = m.appendShardPairs(out, i)
	}
	return out
}

// appendShardPairs копирует пары одного шарда под его RLock.
func (m *Map[K, V]) appendShardPairs(dst []Pair[K, V], idx int) []Pair[K, V] {
	s := &m.shards[idx]
	s.mu.RLock()
	s.t.scan(func(i int) bool {
		dst = append(dst, Pair[K, V]{Key: s.t.buckets[i].key, Value: s.t.buckets[i].value})
		return true
	})
	s.mu.RUnlock()
	return dst
}

// Len возвращает число элементов. Шарды опрашиваются по очереди,
// значение может устареть к моменту возврата.
func (m *Map[K, V]) Len() int {
	total := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		total += s.t.length
		s.mu.RUnlock()
	}
	return total
}

// IsEmpty проверяет карту на пустоту
func (m *Map[K, V]) IsEmpty() bool {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n := s.t.length
		s.mu.RUnlock()
		if n > 0 {
			return false
		}
	}
	return true
}

// Clear очищает все шарды. Каждый шард чистится под своей блокировкой;
// конкурентные вставки в уже очищенные шарды переживут Clear.
func (m *Map[K, V]) Clear() {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		s.t.init(0)
		s.mu.Unlock()
	}
}

// ShrinkToFit ужимает таблицы всех шардов до текущего содержимого
func (m *Map[K, V]) ShrinkToFit() {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		s.t.shrinkToFit()
		s.mu.Unlock()
	}
}

// ============================================
// Интроспекция
// ============================================

// Capacity возвращает суммарную ёмкость таблиц (число бакетов)
func (m *Map[K, V]) Capacity() int {
	total := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		total += len(s.t.buckets)
		s.mu.RUnlock()
	}
	return total
}

// ShardCount возвращает число шардов (фиксировано после создания)
func (m *Map[K, V]) ShardCount() int {
	return len(m.shards)
}
