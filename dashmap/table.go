package dashmap

// ============================================
// Robin-Hood open addressing
// ============================================
//
// Таблица одного шарда. Все методы вызываются строго под блокировкой
// шарда (RLock для чтения, Lock для мутаций) — сама таблица ничего
// не синхронизирует.
//
// Распределение бит хеша: старшие shardBits выбирают шард (см. shard.go),
// в таблицу попадают младшие 48 бит — домашний слот берётся по маске от
// них, поэтому выбор шарда не обедняет распределение по слотам.

const (
	tableLoadFactor = 0.85 // должен быть > 0.5
	dibBitSize      = 16   // биты под distance-to-initial-bucket
	hashBitSize     = 64 - dibBitSize
	maxHash         = ^uint64(0) >> dibBitSize // младшие 48 бит хеша
	maxDIB          = ^uint64(0) >> hashBitSize
	minTableLen     = 8
)

// bucket упаковывает хеш и DIB в одно слово: { hash:48; dib:16 }.
// dib == 0 — пустой слот, dib >= 1 — занятый (1 = домашний слот).
type bucket[K comparable, V any] struct {
	hdib  uint64
	key   K
	value V
}

func (b *bucket[K, V]) hash() uint64 { return b.hdib >> dibBitSize }
func (b *bucket[K, V]) dib() uint64  { return b.hdib & maxDIB }

func packHDIB(hash, dib uint64) uint64 {
	return hash<<dibBitSize | dib&maxDIB
}

type table[K comparable, V any] struct {
	buckets  []bucket[K, V]
	length   int
	mask     int
	growAt   int
	shrinkAt int
	minLen   int // не ужимаемся ниже начального размера
}

// init выделяет таблицу под capacity элементов с учётом load factor.
func (t *table[K, V]) init(capacity int) {
	sz := minTableLen
	for sz < capacity {
		sz *= 2
	}
	if capacity > 0 && float64(capacity) > float64(sz)*tableLoadFactor {
		sz *= 2
	}
	t.buckets = make([]bucket[K, V], sz)
	t.length = 0
	t.mask = sz - 1
	t.growAt = int(float64(sz) * tableLoadFactor)
	t.shrinkAt = int(float64(sz) * (1 - tableLoadFactor))
	t.minLen = sz
}

func (t *table[K, V]) resize(capacity int) {
	var nt table[K, V]
	nt.init(capacity)
	for i := range t.buckets {
		if t.buckets[i].dib() > 0 {
			nt.set(t.buckets[i].hash(), t.buckets[i].key, t.buckets[i].value)
		}
	}
	minLen := t.minLen
	*t = nt
	t.minLen = minLen
}

// find возвращает индекс бакета с ключом. Linear probing: слот может
// находиться только в пределах непрерывной цепочки занятых бакетов.
func (t *table[K, V]) find(hash uint64, key K) (int, bool) {
	h := hash & maxHash
	i := int(h) & t.mask
	for {
		b := &t.buckets[i]
		if b.dib() == 0 {
			return 0, false
		}
		if b.hash() == h && b.key == key {
			return i, true
		}
		i = (i + 1) & t.mask
	}
}

// set вставляет или перезаписывает, возвращая прежнее значение.
// Вытеснение по robin-hood: "богатый" (с меньшим DIB) уступает слот.
func (t *table[K, V]) set(hash uint64, key K, value V) (prev V, replaced bool) {
	if t.length >= t.growAt {
		t.resize(len(t.buckets) * 2)
	}
	e := bucket[K, V]{hdib: packHDIB(hash&maxHash, 1), key: key, value: value}
	i := int(e.hash()) & t.mask
	for {
		b := &t.buckets[i]
		if b.dib() == 0 {
			*b = e
			t.length++
			return
		}
		if b.hash() == e.hash() && b.key == e.key {
			prev, replaced = b.value, true
			b.value = e.value
			return
		}
		if b.dib() < e.dib() {
			e, *b = *b, e
		}
		i = (i + 1) & t.mask
		e.hdib = packHDIB(e.hash(), e.dib()+1)
	}
}

// delete удаляет ключ backward-shift'ом: сдвигаем хвост цепочки назад,
// чтобы не оставлять надгробий.
func (t *table[K, V]) delete(hash uint64, key K) (prev V, ok bool) {
	h := hash & maxHash
	i := int(h) & t.mask
	for {
		b := &t.buckets[i]
		if b.dib() == 0 {
			return
		}
		if b.hash() == h && b.key == key {
			prev, ok = b.value, true
			t.remove(i)
			return
		}
		i = (i + 1) & t.mask
	}
}

func (t *table[K, V]) remove(i int) {
	t.buckets[i].hdib = packHDIB(t.buckets[i].hash(), 0)
	for {
		pi := i
		i = (i + 1) & t.mask
		if t.buckets[i].dib() <= 1 {
			t.buckets[pi] = bucket[K, V]{}
			break
		}
		t.buckets[pi] = t.buckets[i]
		t.buckets[pi].hdib = packHDIB(t.buckets[pi].hash(), t.buckets[pi].dib()-1)
	}
	t.length--
	if len(t.buckets) > t.minLen && t.length <= t.shrinkAt {
		t.resize(t.length)
	}
}

// scan обходит занятые бакеты в порядке индексов.
func (t *table[K, V]) scan(fn func(i int) bool) {
	for i := range t.buckets {
		if t.buckets[i].dib() > 0 {
			if !fn(i) {
				return
			}
		}
	}
}

// shrinkToFit пересобирает таблицу под текущее число элементов,
// сбрасывая и начальный размер (в отличие от авто-ужатия в remove).
func (t *table[K, V]) shrinkToFit() {
	t.minLen = minTableLen
	sz := minTableLen
	for sz < t.length {
		sz *= 2
	}
	if float64(t.length) > float64(sz)*tableLoadFactor {
		sz *= 2
	}
	if sz < len(t.buckets) {
		t.resize(t.length)
	}
}
