package dashmap

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/bloom"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

// ============================================
// Snapshot Store (PebbleDB)
// ============================================
//
// Версионированные снапшоты карты. Три фазы:
//   1. Capture  — пары каждого шарда снимаются под короткой RLock
//   2. Serialize — msgpack по шардам, параллельно (CPU-bound)
//   3. Write    — один батч в pebble
// Версия снапшота — blake3 от сериализованных шардов в порядке индексов.
// Загрузка идёт через обычный Insert, так что число шардов у читающей
// карты может отличаться от числа шардов на момент записи.

const (
	SnapshotSchemaVersion = 1

	// Префиксы ключей
	prefixSnapMeta = "snap:meta:" // snap:meta:{version} → метаданные
	prefixSnapData = "snap:data:" // snap:data:{version}:{shard} → msgpack пары
	prefixGlobal   = "global:"    // global:first, global:last, global:count
)

var snapHasherPool = sync.Pool{
	New: func() any { return blake3.New() },
}

// SnapshotStore — хранилище снапшотов поверх PebbleDB
type SnapshotStore struct {
	db      *pebble.DB
	workers int

	// Метрики (lock-free)
	writtenBytes    atomic.Uint64
	readBytes       atomic.Uint64
	writeCount      atomic.Uint64
	readCount       atomic.Uint64
	captureTimeNs   atomic.Int64
	serializeTimeNs atomic.Int64
	writeTimeNs     atomic.Int64
	snapshotCount   atomic.Uint64
}

// OpenSnapshotStore открывает (или создает) хранилище по пути dbPath
func OpenSnapshotStore(dbPath string) (*SnapshotStore, error) {
	// Block cache шарится между DB; свой ref освобождаем сразу,
	// иначе cache переживёт db.Close()
	blockCache := pebble.NewCache(128 << 20) // 128MB
	defer blockCache.Unref()

	opts := &pebble.Options{
		Cache: blockCache,

		// Крупный write buffer: снапшот пишется одним батчем
		MemTableSize:                64 << 20, // 64MB
		MemTableStopWritesThreshold: 4,

		// Агрессивный compaction против фрагментации версий
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 36,

		LBaseMaxBytes: 128 << 20, // 128MB

		CompactionConcurrencyRange: func() (int, int) { return 1, 4 },

		// fsync WAL раз в 1MB вместо каждой записи
		WALBytesPerSync: 1 << 20,
		BytesPerSync:    4 << 20,

		MaxOpenFiles:       2000,
		FormatMajorVersion: pebble.FormatNewest,
		DisableWAL:         false,
	}

	opts.ApplyCompressionSettings(func() pebble.DBCompressionSettings {
		return pebble.DBCompressionBalanced
	})

	for i := range opts.Levels {
		opts.Levels[i].BlockSize = 32 << 10
		opts.Levels[i].IndexBlockSize = 256 << 10
		opts.Levels[i].FilterPolicy = bloom.FilterPolicy(10)
		opts.Levels[i].FilterType = pebble.TableFilter
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	workers := runtime.NumCPU()
	if workers > 16 {
		workers = 16
	}

	return &SnapshotStore{db: db, workers: workers}, nil
}

// Close закрывает хранилище, предварительно сбросив memtable
func (st *SnapshotStore) Close() error {
	if err := st.db.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return st.db.Close()
}

// SnapshotInfo — метаданные одного снапшота
type SnapshotInfo struct {
	Version    [32]byte
	Timestamp  int64
	ShardCount int
	PairCount  uint64
}

// SnapshotMetadata — сводка по всем снапшотам хранилища
type SnapshotMetadata struct {
	FirstVersion [32]byte
	LastVersion  [32]byte
	Count        int
	TotalSize    int64
}

// SnapshotMetrics — тайминги последнего снапшота
type SnapshotMetrics struct {
	CaptureTimeNs   int64
	SerializeTimeNs int64
	WriteTimeNs     int64
	TotalTimeNs     int64
}

func (sm SnapshotMetrics) String() string {
	return fmt.Sprintf("Capture: %dµs | Serialize: %dµs | Write: %dµs | Total: %dµs",
		sm.CaptureTimeNs/1000,
		sm.SerializeTimeNs/1000,
		sm.WriteTimeNs/1000,
		sm.TotalTimeNs/1000)
}

// SnapshotResult — результат асинхронного снапшота
type SnapshotResult struct {
	Version  [32]byte
	Duration time.Duration
	Error    error
}

// ============================================
// Save
// ============================================

// SaveSnapshot снимает и сохраняет снапшот карты, возвращая версию.
// Блокировки карты — только короткие RLock по одному шарду в фазе
// capture; сериализация и запись идут без них.
func SaveSnapshot[K comparable, V any](st *SnapshotStore, m *Map[K, V]) ([32]byte, error) {
	totalStart := time.Now()

	// ФАЗА 1: Capture
	captureStart := time.Now()
	shardPairs := make([][]Pair[K, V], m.ShardCount())
	pairCount := uint64(0)
	for i := range shardPairs {
		shardPairs[i] = m.appendShardPairs(nil, i)
		pairCount += uint64(len(shardPairs[i]))
	}
	st.captureTimeNs.Store(time.Since(captureStart).Nanoseconds())

	// ФАЗА 2: Serialize (параллельно, без блокировок карты)
	serializeStart := time.Now()
	payloads, err := serializeShards(st.workers, shardPairs)
	if err != nil {
		return [32]byte{}, fmt.Errorf("serialize failed: %w", err)
	}
	st.serializeTimeNs.Store(time.Since(serializeStart).Nanoseconds())

	// Версия — blake3 от payload'ов в порядке шардов
	version := snapshotVersion(payloads)

	// ФАЗА 3: Batch write
	writeStart := time.Now()
	if err := st.writeSnapshot(version, time.Now().Unix(), pairCount, payloads); err != nil {
		return [32]byte{}, fmt.Errorf("write failed: %w", err)
	}
	st.writeTimeNs.Store(time.Since(writeStart).Nanoseconds())

	st.snapshotCount.Add(1)

	totalDuration := time.Since(totalStart)
	if totalDuration > 10*time.Millisecond {
		fmt.Printf("[WARN] Snapshot %x took %v (%s)\n",
			version[:4], totalDuration, st.Metrics())
	}

	return version, nil
}

// SaveSnapshotAsync снимает снапшот в фоне (fire-and-forget)
func SaveSnapshotAsync[K comparable, V any](st *SnapshotStore, m *Map[K, V]) <-chan SnapshotResult {
	resultChan := make(chan SnapshotResult, 1)

	go func() {
		defer close(resultChan)
		start := time.Now()
		version, err := SaveSnapshot(st, m)
		resultChan <- SnapshotResult{
			Version:  version,
			Duration: time.Since(start),
			Error:    err,
		}
	}()

	return resultChan
}

// serializeShards кодирует пары шардов в msgpack пулом воркеров
func serializeShards[K comparable, V any](workers int, shardPairs [][]Pair[K, V]) ([][]byte, error) {
	type job struct {
		idx   int
		pairs []Pair[K, V]
	}
	type result struct {
		idx  int
		data []byte
		err  error
	}

	jobs := make(chan job, len(shardPairs))
	results := make(chan result, len(shardPairs))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				data, err := msgpack.Marshal(j.pairs)
				results <- result{idx: j.idx, data: data, err: err}
			}
		}()
	}

	for i, pairs := range shardPairs {
		jobs <- job{idx: i, pairs: pairs}
	}
	close(jobs)

	wg.Wait()
	close(results)

	payloads := make([][]byte, len(shardPairs))
	for res := range results {
		if res.err != nil {
			return nil, fmt.Errorf("failed to marshal shard %d: %w", res.idx, res.err)
		}
		payloads[res.idx] = res.data
	}
	return payloads, nil
}

// snapshotVersion — blake3 по payload'ам в порядке индексов шардов
func snapshotVersion(payloads [][]byte) [32]byte {
	hasher := snapHasherPool.Get().(*blake3.Hasher)
	hasher.Reset()

	var idx [4]byte
	for i, p := range payloads {
		binary.BigEndian.PutUint32(idx[:], uint32(i))
		hasher.Write(idx[:])
		hasher.Write(p)
	}

	var version [32]byte
	copy(version[:], hasher.Sum(nil))
	snapHasherPool.Put(hasher)
	return version
}

func (st *SnapshotStore) writeSnapshot(version [32]byte, timestamp int64, pairCount uint64, payloads [][]byte) error {
	batch := st.db.NewBatch()
	defer batch.Close()

	metaKey := makeSnapMetaKey(version)
	metaValue := encodeSnapMeta(timestamp, len(payloads), pairCount)
	if err := batch.Set(metaKey, metaValue, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to set metadata: %w", err)
	}

	totalSize := uint64(0)
	for i, p := range payloads {
		if err := batch.Set(makeSnapDataKey(version, i), p, pebble.NoSync); err != nil {
			return fmt.Errorf("failed to set shard %d: %w", i, err)
		}
		totalSize += uint64(len(p))
	}

	if err := st.updateGlobalMeta(batch, version); err != nil {
		return fmt.Errorf("failed to update global meta: %w", err)
	}

	// NoSync для скорости, fsync в фоне; pebble.Sync — если критична
	// надежность каждого снапшота
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	st.writtenBytes.Add(totalSize)
	st.writeCount.Add(1)
	return nil
}

// ============================================
// Load
// ============================================

// LoadSnapshot загружает снапшот в карту. version == nil — последний.
// Шарды читаются параллельно; пары заливаются через обычный Insert,
// так что распределение по шардам пересчитывается под текущую карту.
func LoadSnapshot[K comparable, V any](st *SnapshotStore, m *Map[K, V], version *[32]byte) error {
	targetVersion := version
	if targetVersion == nil {
		lastVer, err := st.getLastVersion()
		if err != nil {
			return fmt.Errorf("no snapshots found: %w", err)
		}
		targetVersion = lastVer
	}

	info, err := st.Info(*targetVersion)
	if err != nil {
		return err
	}

	// errgroup: первая ошибка отменяет контекст, лишние чтения не стартуют
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(st.workers)

	for i := 0; i < info.ShardCount; i++ {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			data, closer, err := st.db.Get(makeSnapDataKey(*targetVersion, i))
			if err != nil {
				return fmt.Errorf("failed to read shard %d: %w", i, err)
			}

			// декодируем до closer.Close: pebble освобождает буфер
			var pairs []Pair[K, V]
			err = msgpack.Unmarshal(data, &pairs)
			st.readBytes.Add(uint64(len(data)))
			closer.Close()
			if err != nil {
				return fmt.Errorf("failed to unmarshal shard %d: %w", i, err)
			}

			// Insert сам берёт блокировки нужных шардов — никакой
			// координации между воркерами не требуется
			m.AppendPairs(pairs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	st.readCount.Add(1)
	return nil
}

// Info возвращает метаданные одного снапшота
func (st *SnapshotStore) Info(version [32]byte) (*SnapshotInfo, error) {
	metaData, closer, err := st.db.Get(makeSnapMetaKey(version))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, fmt.Errorf("snapshot not found: %x", version)
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	timestamp, shardCount, pairCount := decodeSnapMeta(metaData)
	closer.Close()

	return &SnapshotInfo{
		Version:    version,
		Timestamp:  timestamp,
		ShardCount: shardCount,
		PairCount:  pairCount,
	}, nil
}

// ============================================
// Metadata Operations
// ============================================

// Metadata возвращает сводные метаданные хранилища
func (st *SnapshotStore) Metadata() (*SnapshotMetadata, error) {
	metadata := &SnapshotMetadata{}

	firstData, closer, err := st.db.Get([]byte(prefixGlobal + "first"))
	if err == nil {
		copy(metadata.FirstVersion[:], firstData)
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return nil, err
	}

	lastData, closer, err := st.db.Get([]byte(prefixGlobal + "last"))
	if err == nil {
		copy(metadata.LastVersion[:], lastData)
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return nil, err
	}

	countData, closer, err := st.db.Get([]byte(prefixGlobal + "count"))
	if err == nil {
		metadata.Count = int(binary.BigEndian.Uint32(countData))
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return nil, err
	}

	iter, err := st.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixSnapData),
		UpperBound: []byte(prefixSnapData + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		metadata.TotalSize += int64(len(iter.Value()))
	}

	return metadata, iter.Error()
}

// ListVersions возвращает версии всех снапшотов
func (st *SnapshotStore) ListVersions() ([][32]byte, error) {
	var versions [][32]byte

	iter, err := st.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixSnapMeta),
		UpperBound: []byte(prefixSnapMeta + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) < len(prefixSnapMeta)+32 {
			continue
		}

		var version [32]byte
		copy(version[:], key[len(prefixSnapMeta):])
		versions = append(versions, version)
	}

	return versions, iter.Error()
}

// DeleteSnapshot удаляет снапшот целиком
func (st *SnapshotStore) DeleteSnapshot(version [32]byte) error {
	info, err := st.Info(version)
	if err != nil {
		return err
	}

	batch := st.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(makeSnapMetaKey(version), pebble.NoSync); err != nil {
		return err
	}
	for i := 0; i < info.ShardCount; i++ {
		if err := batch.Delete(makeSnapDataKey(version, i), pebble.NoSync); err != nil {
			return err
		}
	}

	if err := st.decrementCount(batch); err != nil {
		return err
	}

	return batch.Commit(pebble.Sync)
}

// ============================================
// Utilities
// ============================================

// Compact принудительно сжимает пространство данных снапшотов
func (st *SnapshotStore) Compact() error {
	start := []byte(prefixSnapData)
	end := []byte(prefixSnapData + "\xff")
	return st.db.Compact(context.Background(), start, end, true)
}

// Flush сбрасывает memtable на диск
func (st *SnapshotStore) Flush() error {
	return st.db.Flush()
}

// Metrics возвращает тайминги последнего снапшота
func (st *SnapshotStore) Metrics() SnapshotMetrics {
	return SnapshotMetrics{
		CaptureTimeNs:   st.captureTimeNs.Load(),
		SerializeTimeNs: st.serializeTimeNs.Load(),
		WriteTimeNs:     st.writeTimeNs.Load(),
		TotalTimeNs:     st.captureTimeNs.Load() + st.serializeTimeNs.Load() + st.writeTimeNs.Load(),
	}
}

// StoreStats — статистика хранилища
type StoreStats struct {
	WrittenBytes    uint64
	ReadBytes       uint64
	WriteCount      uint64
	ReadCount       uint64
	SnapshotCount   uint64
	CacheHitRate    float64
	CompactionCount int64
	MemtableSize    uint64
	WALSize         uint64
}

// Stats возвращает статистику хранилища
func (st *SnapshotStore) Stats() StoreStats {
	metrics := st.db.Metrics()

	hits := metrics.BlockCache.Hits
	misses := metrics.BlockCache.Misses
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses) * 100
	}

	return StoreStats{
		WrittenBytes:    st.writtenBytes.Load(),
		ReadBytes:       st.readBytes.Load(),
		WriteCount:      st.writeCount.Load(),
		ReadCount:       st.readCount.Load(),
		SnapshotCount:   st.snapshotCount.Load(),
		CacheHitRate:    hitRate,
		CompactionCount: metrics.Compact.Count,
		MemtableSize:    metrics.MemTable.Size,
		WALSize:         metrics.WAL.Size,
	}
}

// ============================================
// Internal helpers
// ============================================

func makeSnapMetaKey(version [32]byte) []byte {
	key := make([]byte, len(prefixSnapMeta)+32)
	copy(key, prefixSnapMeta)
	copy(key[len(prefixSnapMeta):], version[:])
	return key
}

func makeSnapDataKey(version [32]byte, shardIdx int) []byte {
	return []byte(fmt.Sprintf("%s%x:%06d", prefixSnapData, version, shardIdx))
}

// encodeSnapMeta: timestamp(8) + shardCount(4) + pairCount(8)
func encodeSnapMeta(timestamp int64, shardCount int, pairCount uint64) []byte {
	buf := make([]byte, 8+4+8)
	binary.BigEndian.PutUint64(buf[0:8], uint64(timestamp))
	binary.BigEndian.PutUint32(buf[8:12], uint32(shardCount))
	binary.BigEndian.PutUint64(buf[12:20], pairCount)
	return buf
}

func decodeSnapMeta(data []byte) (timestamp int64, shardCount int, pairCount uint64) {
	timestamp = int64(binary.BigEndian.Uint64(data[0:8]))
	shardCount = int(binary.BigEndian.Uint32(data[8:12]))
	pairCount = binary.BigEndian.Uint64(data[12:20])
	return
}

func (st *SnapshotStore) getLastVersion() (*[32]byte, error) {
	data, closer, err := st.db.Get([]byte(prefixGlobal + "last"))
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var version [32]byte
	copy(version[:], data)
	return &version, nil
}

func (st *SnapshotStore) updateGlobalMeta(batch *pebble.Batch, version [32]byte) error {
	_, closer, err := st.db.Get([]byte(prefixGlobal + "first"))
	isFirst := err == pebble.ErrNotFound
	if closer != nil {
		closer.Close()
	}

	if isFirst {
		batch.Set([]byte(prefixGlobal+"first"), version[:], pebble.NoSync)
	}

	// last обновляем всегда
	batch.Set([]byte(prefixGlobal+"last"), version[:], pebble.NoSync)

	return st.incrementCount(batch)
}

func (st *SnapshotStore) incrementCount(batch *pebble.Batch) error {
	count, err := st.readCountValue()
	if err != nil {
		return err
	}
	return st.setCountValue(batch, count+1)
}

func (st *SnapshotStore) decrementCount(batch *pebble.Batch) error {
	count, err := st.readCountValue()
	if err != nil {
		return err
	}
	if count > 0 {
		count--
	}
	return st.setCountValue(batch, count)
}

func (st *SnapshotStore) readCountValue() (uint32, error) {
	data, closer, err := st.db.Get([]byte(prefixGlobal + "count"))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count := binary.BigEndian.Uint32(data)
	closer.Close()
	return count, nil
}

func (st *SnapshotStore) setCountValue(batch *pebble.Batch, count uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, count)
	return batch.Set([]byte(prefixGlobal+"count"), buf, pebble.NoSync)
}
