package dashmap

import (
	"testing"
)

func TestTableSetFindDelete(t *testing.T) {
	var tb table[int, string]
	tb.init(0)

	h := func(k int) uint64 { return uint64(k) * 0x9e3779b97f4a7c15 }

	for i := 0; i < 100; i++ {
		if _, replaced := tb.set(h(i), i, "v"); replaced {
			t.Fatalf("Ключ %d не должен вытеснять", i)
		}
	}
	if tb.length != 100 {
		t.Fatalf("Ожидалось 100 элементов, получено %d", tb.length)
	}

	for i := 0; i < 100; i++ {
		if _, ok := tb.find(h(i), i); !ok {
			t.Fatalf("Ключ %d не найден", i)
		}
	}
	if _, ok := tb.find(h(500), 500); ok {
		t.Fatal("Отсутствующий ключ найден")
	}

	prev, replaced := tb.set(h(7), 7, "new")
	if !replaced || prev != "v" {
		t.Fatalf(`Перезапись ключа 7: ожидалось ("v", true), получено (%q, %v)`, prev, replaced)
	}
	if tb.length != 100 {
		t.Fatalf("Перезапись не должна менять длину: %d", tb.length)
	}

	for i := 0; i < 100; i++ {
		if _, ok := tb.delete(h(i), i); !ok {
			t.Fatalf("Ключ %d не удалился", i)
		}
	}
	if tb.length != 0 {
		t.Fatalf("Таблица должна быть пустой, length=%d", tb.length)
	}
}

// Все ключи в один домашний слот: проверяем цепочку robin-hood
// и backward-shift при удалении из середины
func TestTableCollisionChain(t *testing.T) {
	var tb table[int, int]
	tb.init(64)

	const sameHash = uint64(5)
	for i := 0; i < 20; i++ {
		tb.set(sameHash, i, i*10)
	}

	// Удаляем из середины цепочки
	if prev, ok := tb.delete(sameHash, 10); !ok || prev != 100 {
		t.Fatalf("delete(10): ожидалось (100, true), получено (%d, %v)", prev, ok)
	}

	// Остальные обязаны остаться достижимыми после сдвига
	for i := 0; i < 20; i++ {
		idx, ok := tb.find(sameHash, i)
		if i == 10 {
			if ok {
				t.Fatal("Удалённый ключ 10 всё ещё находится")
			}
			continue
		}
		if !ok {
			t.Fatalf("Ключ %d потерян после backward-shift", i)
		}
		if got := tb.buckets[idx].value; got != i*10 {
			t.Fatalf("Ключ %d: ожидалось %d, получено %d", i, i*10, got)
		}
	}
}

func TestTableGrowth(t *testing.T) {
	var tb table[int, int]
	tb.init(0)

	initial := len(tb.buckets)
	h := func(k int) uint64 { return uint64(k) * 0x9e3779b97f4a7c15 }

	for i := 0; i < 10000; i++ {
		tb.set(h(i), i, i)
	}
	if len(tb.buckets) <= initial {
		t.Fatalf("Таблица должна была вырасти: %d -> %d", initial, len(tb.buckets))
	}

	// Рост не теряет элементы
	for i := 0; i < 10000; i++ {
		idx, ok := tb.find(h(i), i)
		if !ok || tb.buckets[idx].value != i {
			t.Fatalf("Ключ %d потерян при росте", i)
		}
	}

	// Нагрузка не превышает load factor
	if tb.length > tb.growAt {
		t.Fatalf("length=%d превышает growAt=%d", tb.length, tb.growAt)
	}
}

func TestTableAutoShrinkRespectsMinLen(t *testing.T) {
	var tb table[int, int]
	tb.init(1024)
	initial := len(tb.buckets)

	h := func(k int) uint64 { return uint64(k) * 0x9e3779b97f4a7c15 }
	for i := 0; i < 1000; i++ {
		tb.set(h(i), i, i)
	}
	for i := 0; i < 1000; i++ {
		tb.delete(h(i), i)
	}

	// Авто-ужатие не опускается ниже размера, заданного при init
	if len(tb.buckets) < initial {
		t.Fatalf("Таблица ужалась ниже начального размера: %d < %d", len(tb.buckets), initial)
	}

	// Явный shrinkToFit сбрасывает нижнюю границу
	tb.shrinkToFit()
	if len(tb.buckets) != minTableLen {
		t.Fatalf("После shrinkToFit ожидалось %d бакетов, получено %d", minTableLen, len(tb.buckets))
	}
}

func TestTableHighBitsIgnored(t *testing.T) {
	// В таблицу попадают только младшие 48 бит: хеши, различающиеся
	// лишь старшими битами, обязаны считаться одинаковыми
	var tb table[int, int]
	tb.init(0)

	low := uint64(0x0000_1234_5678_9abc)
	high := low | (uint64(0xdead) << hashBitSize)

	tb.set(low, 1, 100)
	if idx, ok := tb.find(high, 1); !ok || tb.buckets[idx].value != 100 {
		t.Fatal("Хеш со старшими битами должен находить запись, вставленную без них")
	}

	if prev, ok := tb.delete(high, 1); !ok || prev != 100 {
		t.Fatalf("delete по хешу со старшими битами: получено (%d, %v)", prev, ok)
	}
}

func TestPackHDIB(t *testing.T) {
	b := bucket[int, int]{hdib: packHDIB(maxHash, maxDIB)}
	if b.hash() != maxHash {
		t.Errorf("hash: ожидалось %x, получено %x", maxHash, b.hash())
	}
	if b.dib() != maxDIB {
		t.Errorf("dib: ожидалось %x, получено %x", maxDIB, b.dib())
	}

	b.hdib = packHDIB(0xabc, 3)
	if b.hash() != 0xabc || b.dib() != 3 {
		t.Errorf("Распаковка: получено (%x, %d)", b.hash(), b.dib())
	}
}
