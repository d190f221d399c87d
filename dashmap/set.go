package dashmap

import (
	"iter"
)

// Set — множество поверх Map с пустым значением. Вся конкурентная
// механика (шарды, guard'ы, слабая консистентность обхода) — та же.
type Set[K comparable] struct {
	m *Map[K, struct{}]
}

// NewSet создает множество. nil-конфиг — значения по умолчанию.
func NewSet[K comparable](cfg *Config[K]) *Set[K] {
	return &Set[K]{m: New[K, struct{}](cfg)}
}

// FromKeys конструирует множество из набора ключей
func FromKeys[K comparable](cfg *Config[K], keys []K) *Set[K] {
	if cfg == nil {
		cfg = DefaultConfig[K]()
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = len(keys)
	}
	s := NewSet[K](cfg)
	for _, k := range keys {
		s.Insert(k)
	}
	return s
}

// Insert добавляет ключ; true — если ключа раньше не было
func (s *Set[K]) Insert(key K) bool {
	_, replaced := s.m.Insert(key, struct{}{})
	return !replaced
}

// Contains проверяет наличие ключа
func (s *Set[K]) Contains(key K) bool {
	return s.m.ContainsKey(key)
}

// Remove удаляет ключ; true — если ключ был
func (s *Set[K]) Remove(key K) bool {
	_, ok := s.m.Remove(key)
	return ok
}

// Len возвращает число ключей
func (s *Set[K]) Len() int {
	return s.m.Len()
}

// IsEmpty проверяет множество на пустоту
func (s *Set[K]) IsEmpty() bool {
	return s.m.IsEmpty()
}

// Clear очищает множество
func (s *Set[K]) Clear() {
	s.m.Clear()
}

// Iter — borrowing-итерация по ключам (см. Map.Iter)
func (s *Set[K]) Iter() iter.Seq[K] {
	return s.m.Keys()
}

// Range — owning-обход ключей (см. Map.Range)
func (s *Set[K]) Range(fn func(key K) bool) {
	s.m.Range(func(k K, _ struct{}) bool {
		return fn(k)
	})
}

// Retain оставляет только ключи, одобренные предикатом
func (s *Set[K]) Retain(pred func(key K) bool) {
	s.m.Retain(func(k K, _ struct{}) bool {
		return pred(k)
	})
}

// Keys снимает все ключи множества
func (s *Set[K]) Keys() []K {
	pairs := s.m.Pairs()
	keys := make([]K, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key
	}
	return keys
}
