package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/disk"
)

var ErrBadHeader = errors.New("bad log record header")

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// LSN is a log sequence number: the cycle in the high word, the block
// within the log in the low word.
type LSN uint64

func MkLSN(cycle uint64, blk common.Daddr) LSN {
	return LSN(cycle<<32 | blk&0xffffffff)
}

func (l LSN) Cycle() uint64 {
	return uint64(l) >> 32
}

func (l LSN) Block() common.Daddr {
	return uint64(l) & 0xffffffff
}

func (l LSN) String() string {
	return fmt.Sprintf("%d:%d", l.Cycle(), l.Block())
}

// recHeader is the first basic block of a log record.
type recHeader struct {
	cycle   uint64
	version uint64
	len     uint64 // payload bytes
	bbs     uint64 // basic blocks the whole record occupies
	lsn     LSN
	tailLSN LSN
	crc     uint64
	flags   uint64
	fmt     uint64
	uuid    uuid.UUID
}

func (h *recHeader) encode() []byte {
	enc := marshal.NewEnc(common.BBSIZE)
	enc.PutInt(HEADER_MAGIC)
	enc.PutInt(h.cycle)
	enc.PutInt(h.version)
	enc.PutInt(h.len)
	enc.PutInt(h.bbs)
	enc.PutInt(uint64(h.lsn))
	enc.PutInt(uint64(h.tailLSN))
	enc.PutInt(0) // crc
	enc.PutInt(h.flags)
	enc.PutInt(h.fmt)
	common.PutUUID(&enc, h.uuid)
	b := enc.Finish()
	h.crc = uint64(crc32.Checksum(b, crcTable))
	binary.LittleEndian.PutUint64(b[crcOff:], h.crc)
	return b
}

func isHeader(bb []byte) bool {
	return binary.LittleEndian.Uint64(bb) == HEADER_MAGIC
}

// decodeHeader parses and verifies a record header basic block.
func decodeHeader(bb []byte) (*recHeader, error) {
	dec := marshal.NewDec(bb)
	if dec.GetInt() != HEADER_MAGIC {
		return nil, fmt.Errorf("%w: magic", ErrBadHeader)
	}
	h := &recHeader{}
	h.cycle = dec.GetInt()
	h.version = dec.GetInt()
	h.len = dec.GetInt()
	h.bbs = dec.GetInt()
	h.lsn = LSN(dec.GetInt())
	h.tailLSN = LSN(dec.GetInt())
	h.crc = dec.GetInt()
	h.flags = dec.GetInt()
	h.fmt = dec.GetInt()
	h.uuid = common.GetUUID(&dec)

	b := make([]byte, common.BBSIZE)
	copy(b, bb[:common.BBSIZE])
	binary.LittleEndian.PutUint64(b[crcOff:], 0)
	if uint64(crc32.Checksum(b, crcTable)) != h.crc {
		return nil, fmt.Errorf("%w: checksum mismatch at lsn %v", ErrBadHeader, h.lsn)
	}
	if h.version != VERSION_1 && h.version != VERSION_2 {
		return nil, fmt.Errorf("%w: version %d", ErrBadHeader, h.version)
	}
	if h.bbs == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrBadHeader)
	}
	return h, nil
}

// cycleOf returns the cycle stamped on a basic block. Header blocks keep
// their magic first and the cycle second.
func cycleOf(bb []byte) uint64 {
	if isHeader(bb) {
		return binary.LittleEndian.Uint64(bb[8:])
	}
	return binary.LittleEndian.Uint64(bb)
}

func stampCycle(bb []byte, cycle uint64) {
	binary.LittleEndian.PutUint64(bb, cycle)
}

func readBB(d disk.Disk, g Geometry, blk common.Daddr) ([]byte, error) {
	return disk.ReadBytes(d, common.BBToBytes(g.LogBBStart+blk), common.BBSIZE)
}

func writeBB(d disk.Disk, g Geometry, blk common.Daddr, bb []byte) error {
	return disk.WriteBytes(d, common.BBToBytes(g.LogBBStart+blk), bb)
}

func readCycle(d disk.Disk, g Geometry, blk common.Daddr) (uint64, error) {
	bb, err := readBB(d, g, blk)
	if err != nil {
		return 0, err
	}
	return cycleOf(bb), nil
}
