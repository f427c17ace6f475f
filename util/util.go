package util

import (
	"log"
	"sync/atomic"
)

var debug uint64 = 0

// SetDebug sets the level below which DPrintf messages are emitted.
func SetDebug(level uint64) {
	atomic.StoreUint64(&debug, level)
}

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= atomic.LoadUint64(&debug) {
		log.Printf(format, a...)
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

// SumOverflows reports whether a+b does not fit in a uint64.
func SumOverflows(a uint64, b uint64) bool {
	return a+b < a
}

func IsPowerOf2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
