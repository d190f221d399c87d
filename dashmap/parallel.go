package dashmap

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ============================================
// Параллельный обход по шардам
// ============================================

// ForEachParallel раздаёт шарды воркерам errgroup: каждый шард целиком
// обрабатывается одним воркером, так что воркеры никогда не конкурируют
// за одну блокировку. Пары снимаются owning-способом (см. rangeShard),
// fn выполняется без блокировок. Первая ошибка отменяет контекст и
// останавливает группу; уже запущенные шарды дорабатывают.
func (m *Map[K, V]) ForEachParallel(ctx context.Context, workers int, fn func(key K, value V) error) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(m.shards) {
		workers = len(m.shards)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for idx := range m.shards {
		g.Go(func() error {
			// не начинаем шард, если группа уже отменена
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			for _, p := range m.appendShardPairs(nil, idx) {
				if err := fn(p.Key, p.Value); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}
