package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/yshui-forks/dashmap/dashmap"
)

func main() {
	// Карта с настройками по умолчанию: число шардов от числа CPU
	m := dashmap.New[string, int64](nil)

	fmt.Println("=== Шардированная конкурентная карта ===")
	fmt.Printf("Shards: %d\n", m.ShardCount())

	// Конкурентные вставки из 8 горутин
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10000; i++ {
				m.Insert(fmt.Sprintf("key-%d-%d", w, i), int64(w*10000+i))
			}
		}(w)
	}
	wg.Wait()
	fmt.Printf("Inserted: %d items\n", m.Len())

	// Атомарный check-then-act через Entry API
	counter := m.Entry("visits").OrInsert(0)
	*counter.Value()++
	counter.Release()

	if v, ok := m.Get("visits"); ok {
		fmt.Printf("visits = %d\n", v)
	}

	// Параллельный обход: воркеры получают непересекающиеся шарды
	var total int64
	var mu sync.Mutex
	_ = m.ForEachParallel(context.Background(), 0, func(_ string, v int64) error {
		mu.Lock()
		total += v
		mu.Unlock()
		return nil
	})
	fmt.Printf("Sum of values: %d\n", total)

	// Статистика
	stats := m.Stats()
	fmt.Printf("Entries: %d | Capacity: %d | Footprint: %d KB\n",
		stats.Entries, stats.Capacity, stats.SizeBytes/1024)

	// Снапшот в PebbleDB и загрузка в карту с другим числом шардов
	dir, err := os.MkdirTemp("", "dashmap-snap-*")
	if err != nil {
		fmt.Printf("[WARN] temp dir: %v\n", err)
		return
	}
	defer os.RemoveAll(dir)

	store, err := dashmap.OpenSnapshotStore(dir)
	if err != nil {
		fmt.Printf("[WARN] snapshot store: %v\n", err)
		return
	}
	defer store.Close()

	version, err := dashmap.SaveSnapshot(store, m)
	if err != nil {
		fmt.Printf("[WARN] save: %v\n", err)
		return
	}
	fmt.Printf("Snapshot version: %x\n", version[:8])
	fmt.Printf("Snapshot timings: %s\n", store.Metrics())

	restored := dashmap.New[string, int64](&dashmap.Config[string]{ShardCount: 4})
	if err := dashmap.LoadSnapshot(store, restored, &version); err != nil {
		fmt.Printf("[WARN] load: %v\n", err)
		return
	}
	fmt.Printf("Restored into %d shards: %d items\n", restored.ShardCount(), restored.Len())

	fmt.Println("\n=== Готово! ===")
}
