package dashmap

import (
	"hash/maphash"

	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"
)

// Hasher вычисляет 64-битный хеш ключа.
// Требования: детерминизм (равные ключи → равный хеш в рамках одного
// экземпляра карты) и равномерное распределение по всем 64 битам —
// старшие биты выбирают шард, младшие идут в слот таблицы.
type Hasher[K comparable] func(key K) uint64

// defaultHasher строит хешер для произвольного comparable-ключа.
// Seed создаётся один раз на карту: хеш стабилен в пределах экземпляра,
// но различается между запусками (защита от hash-flooding).
func defaultHasher[K comparable]() Hasher[K] {
	seed := maphash.MakeSeed()
	return func(key K) uint64 {
		return maphash.Comparable(seed, key)
	}
}

// XXH3Hasher возвращает хешер строковых ключей на базе xxh3.
// Быстрее универсального хешера на длинных строках.
func XXH3Hasher() Hasher[string] {
	return func(key string) uint64 {
		return xxh3.HashString(key)
	}
}

// Murmur3Hasher возвращает хешер строковых ключей на базе murmur3.
func Murmur3Hasher() Hasher[string] {
	return func(key string) uint64 {
		return murmur3.Sum64([]byte(key))
	}
}
