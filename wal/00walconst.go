//  wal describes the on-disk write-ahead log of a filesystem image and the
//  primitives the repair tool needs from it: resolving its geometry,
//  finding its head and tail, and destroying it.
//
//  The layout of the log:
//  [ older records | ... | newest record | never written / previous cycle ]
//   ^                      ^               ^
//   0                      tail .. head    head
//
//  The log is a circular array of basic blocks. Every basic block starts
//  with the cycle number of the pass that wrote it, so the head is where the
//  cycle number drops. Record headers carry the tail LSN at the time they
//  were written.
package wal

const (
	HEADER_MAGIC uint64 = 0xFEEDBABE
	INIT_CYCLE   uint64 = 1
	FMT_LINUX    uint64 = 1

	VERSION_1 uint64 = 1
	VERSION_2 uint64 = 2

	// record flags
	FLAG_UNMOUNT uint64 = 1 << 0

	// bytes at the start of each data basic block reserved for the cycle
	CYCLESZ = uint64(8)

	crcOff = uint64(7 * 8) // offset of the crc word in the header
)
