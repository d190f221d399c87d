package dashmap

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ============================================
// Сериализация (msgpack)
// ============================================
//
// Формат на проводе — обычная msgpack-карта ключ→значение: без номеров
// шардов и внутренних индексов. При декодировании пары идут через
// обычный Insert, так что принадлежность шардам пересчитывается —
// число шардов у пишущей и читающей стороны может различаться.

var (
	_ msgpack.CustomEncoder = (*Map[string, int])(nil)
	_ msgpack.CustomDecoder = (*Map[string, int])(nil)
)

// EncodeMsgpack реализует msgpack.CustomEncoder. Снимок пар —
// weakly consistent (см. iter.go).
func (m *Map[K, V]) EncodeMsgpack(enc *msgpack.Encoder) error {
	pairs := m.Pairs()
	if err := enc.EncodeMapLen(len(pairs)); err != nil {
		return fmt.Errorf("failed to encode map len: %w", err)
	}
	for _, p := range pairs {
		if err := enc.Encode(p.Key); err != nil {
			return fmt.Errorf("failed to encode key: %w", err)
		}
		if err := enc.Encode(p.Value); err != nil {
			return fmt.Errorf("failed to encode value: %w", err)
		}
	}
	return nil
}

// DecodeMsgpack реализует msgpack.CustomDecoder. Декодировать следует
// в карту, созданную New: хешер и число шардов берутся её собственные.
func (m *Map[K, V]) DecodeMsgpack(dec *msgpack.Decoder) error {
	if m.shards == nil {
		return fmt.Errorf("decode target must be constructed with New")
	}
	n, err := dec.DecodeMapLen()
	if err != nil {
		return fmt.Errorf("failed to decode map len: %w", err)
	}
	for i := 0; i < n; i++ {
		var k K
		var v V
		if err := dec.Decode(&k); err != nil {
			return fmt.Errorf("failed to decode key %d: %w", i, err)
		}
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("failed to decode value %d: %w", i, err)
		}
		m.Insert(k, v)
	}
	return nil
}

// Marshal сериализует карту в msgpack
func (m *Map[K, V]) Marshal() ([]byte, error) {
	return msgpack.Marshal(m)
}

// Unmarshal десериализует msgpack-данные в карту (поверх текущего
// содержимого; для чистой загрузки берите свежую карту)
func (m *Map[K, V]) Unmarshal(data []byte) error {
	return msgpack.Unmarshal(data, m)
}
