package addr

import (
	"github.com/mit-pdos/go-fsrepair/common"
)

// Map is one contiguous segment of a buffer, in basic blocks.
type Map struct {
	Bn  common.Daddr
	Len uint64
}

// Key identifies a buffer: the device it lives on, the address of its first
// segment and the total length of all its segments.
//
// Two buffers with equal keys are the same buffer as far as transactions are
// concerned, even if their segment lists differ; the transaction layer treats
// that case as an invariant violation.
type Key struct {
	Dev uint64
	Bn  common.Daddr
	Len uint64
}

func MkMap(bn common.Daddr, l uint64) Map {
	return Map{Bn: bn, Len: l}
}

// TotalLen sums the lengths of all segments.
func TotalLen(maps []Map) uint64 {
	var n uint64
	for _, m := range maps {
		n += m.Len
	}
	return n
}

func MkKey(dev uint64, maps []Map) Key {
	return Key{Dev: dev, Bn: maps[0].Bn, Len: TotalLen(maps)}
}

// Flatid folds a key into a single number for sharding and lock tables.
// Distinct keys may collide; callers only use it to pick a shard.
func (k Key) Flatid() uint64 {
	return k.Dev<<56 ^ k.Bn<<8 ^ k.Len
}
