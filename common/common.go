package common

const (
	BBSHIFT uint64 = 9
	BBSIZE  uint64 = 1 << BBSHIFT

	INODESZ        uint64 = 512 // on-disk size
	InodesPerChunk uint64 = 64

	NULLFSBLOCK Fsblock = ^Fsblock(0)
)

// Daddr is a device address in basic blocks (BBSIZE bytes).
type Daddr = uint64

// Fsblock is a filesystem block number, either absolute or AG-relative
// depending on context.
type Fsblock = uint64

type Inum uint64
type Agnumber = uint32
type Agino = uint32

const NULLINUM Inum = 0

// BBToBytes converts a count of basic blocks to bytes.
func BBToBytes(bbs uint64) uint64 {
	return bbs << BBSHIFT
}

// BytesToBB rounds a byte count up to whole basic blocks.
func BytesToBB(n uint64) uint64 {
	return (n + BBSIZE - 1) >> BBSHIFT
}
