package dashmap

// ============================================
// Guard-типы
// ============================================
//
// Guard связывает время жизни блокировки шарда со ссылкой внутрь его
// таблицы. Пока guard жив, слот не может быть перемещён или освобождён
// другой операцией (блокировка держится), поэтому указатели внутрь
// таблицы безопасны.
//
// Guard — single-owner: не копируйте его, освобождайте ровно один раз
// (Release идемпотентен). Блокировка не "отравляется" паникой —
// освобождение при панике обеспечивает только defer у вызывающего.
//
// Захват второго guard'а того же шарда из того же стека (любая
// комбинация с exclusive) — дедлок без таймаута. Осознанный компромисс:
// реентрантность не отслеживается, чтобы не утяжелять горячий путь.

// Ref — shared-guard: значение доступно на чтение, шард под RLock.
type Ref[K comparable, V any] struct {
	s *shard[K, V] // nil после Release
	b *bucket[K, V]
}

func newRef[K comparable, V any](s *shard[K, V], b *bucket[K, V]) *Ref[K, V] {
	return &Ref[K, V]{s: s, b: b}
}

// Key возвращает ключ
func (r *Ref[K, V]) Key() K {
	return r.b.key
}

// Value возвращает значение
func (r *Ref[K, V]) Value() V {
	return r.b.value
}

// Pair возвращает пару ключ/значение
func (r *Ref[K, V]) Pair() (K, V) {
	return r.b.key, r.b.value
}

// Release отпускает блокировку шарда. Идемпотентен.
func (r *Ref[K, V]) Release() {
	if r.s == nil {
		return
	}
	r.s.mu.RUnlock()
	r.s = nil
	r.b = nil
}

// RefMut — exclusive-guard: значение можно менять на месте, шард под
// Lock. Пока RefMut жив, других guard'ов на этот шард не существует.
type RefMut[K comparable, V any] struct {
	s *shard[K, V] // nil после Release
	b *bucket[K, V]
}

func newRefMut[K comparable, V any](s *shard[K, V], b *bucket[K, V]) *RefMut[K, V] {
	return &RefMut[K, V]{s: s, b: b}
}

// Key возвращает ключ
func (r *RefMut[K, V]) Key() K {
	return r.b.key
}

// Value возвращает указатель на значение в таблице — мутации видны
// карте сразу. Указатель действителен только до Release.
func (r *RefMut[K, V]) Value() *V {
	return &r.b.value
}

// Set перезаписывает значение на месте
func (r *RefMut[K, V]) Set(value V) {
	r.b.value = value
}

// Pair возвращает ключ и указатель на значение
func (r *RefMut[K, V]) Pair() (K, *V) {
	return r.b.key, &r.b.value
}

// Release отпускает блокировку шарда. Идемпотентен.
func (r *RefMut[K, V]) Release() {
	if r.s == nil {
		return
	}
	r.s.mu.Unlock()
	r.s = nil
	r.b = nil
}
