package dashmap

import (
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
)

// ============================================
// Интроспекция и метрики
// ============================================

// ShardStats — срез одного шарда
type ShardStats struct {
	Len      int // число элементов
	Capacity int // число бакетов
}

// MapStats — сводная статистика карты
type MapStats struct {
	Entries   int
	Capacity  int
	Shards    int
	SizeBytes uint64 // приблизительный footprint таблиц
	PerShard  []ShardStats

	// Накопительные счётчики операций
	Gets    uint64
	Misses  uint64
	Inserts uint64
	Removes uint64
}

// Stats снимает статистику, опрашивая шарды по очереди (weakly
// consistent: шарды фиксируются в разные моменты времени).
func (m *Map[K, V]) Stats() MapStats {
	stats := MapStats{
		Shards:   len(m.shards),
		PerShard: make([]ShardStats, len(m.shards)),
		Gets:     m.getCount.Load(),
		Misses:   m.missCount.Load(),
		Inserts:  m.insertCount.Load(),
		Removes:  m.removeCount.Load(),
	}

	bucketSize := uint64(unsafe.Sizeof(bucket[K, V]{}))
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		ss := ShardStats{Len: s.t.length, Capacity: len(s.t.buckets)}
		s.mu.RUnlock()

		stats.PerShard[i] = ss
		stats.Entries += ss.Len
		stats.Capacity += ss.Capacity
		stats.SizeBytes += bucketSize * uint64(ss.Capacity)
	}
	return stats
}

// SizeBytes — приблизительный объём памяти под таблицами карты.
// Не учитывает память, на которую ссылаются ключи и значения
// (строки, срезы, указатели) — только сами бакеты.
func (m *Map[K, V]) SizeBytes() uint64 {
	bucketSize := uint64(unsafe.Sizeof(bucket[K, V]{}))
	total := uint64(0)
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		total += bucketSize * uint64(len(s.t.buckets))
		s.mu.RUnlock()
	}
	return total
}

// ============================================
// Prometheus collector
// ============================================

// Collector отдаёт статистику карты в Prometheus. Снимает Stats()
// на каждый scrape; generics стёрты замыканием, так что один тип
// Collector обслуживает карты любых типов.
type Collector struct {
	stats func() MapStats

	entries   *prometheus.Desc
	capacity  *prometheus.Desc
	shards    *prometheus.Desc
	sizeBytes *prometheus.Desc
	gets      *prometheus.Desc
	misses    *prometheus.Desc
	inserts   *prometheus.Desc
	removes   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector создает коллектор для карты. name попадает в лейбл map
// каждой метрики — на один registry можно повесить несколько карт.
func NewCollector[K comparable, V any](name string, m *Map[K, V]) *Collector {
	labels := prometheus.Labels{"map": name}
	return &Collector{
		stats: m.Stats,
		entries: prometheus.NewDesc("dashmap_entries",
			"Current number of entries in the map", nil, labels),
		capacity: prometheus.NewDesc("dashmap_capacity_buckets",
			"Total bucket capacity across all shards", nil, labels),
		shards: prometheus.NewDesc("dashmap_shards",
			"Number of shards (fixed at construction)", nil, labels),
		sizeBytes: prometheus.NewDesc("dashmap_size_bytes",
			"Approximate memory footprint of the shard tables", nil, labels),
		gets: prometheus.NewDesc("dashmap_gets_total",
			"Total successful lookups", nil, labels),
		misses: prometheus.NewDesc("dashmap_misses_total",
			"Total lookups of absent keys", nil, labels),
		inserts: prometheus.NewDesc("dashmap_inserts_total",
			"Total insert operations", nil, labels),
		removes: prometheus.NewDesc("dashmap_removes_total",
			"Total successful removals", nil, labels),
	}
}

// Describe реализует prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.capacity
	ch <- c.shards
	ch <- c.sizeBytes
	ch <- c.gets
	ch <- c.misses
	ch <- c.inserts
	ch <- c.removes
}

// Collect реализует prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(st.Entries))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Capacity))
	ch <- prometheus.MustNewConstMetric(c.shards, prometheus.GaugeValue, float64(st.Shards))
	ch <- prometheus.MustNewConstMetric(c.sizeBytes, prometheus.GaugeValue, float64(st.SizeBytes))
	ch <- prometheus.MustNewConstMetric(c.gets, prometheus.CounterValue, float64(st.Gets))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(st.Misses))
	ch <- prometheus.MustNewConstMetric(c.inserts, prometheus.CounterValue, float64(st.Inserts))
	ch <- prometheus.MustNewConstMetric(c.removes, prometheus.CounterValue, float64(st.Removes))
}
