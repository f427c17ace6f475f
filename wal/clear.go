package wal

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/disk"
	"github.com/mit-pdos/go-fsrepair/util"
)

// ClearParams describe the log a clear should leave behind.
type ClearParams struct {
	UUID    uuid.UUID
	Version uint64
	SUnit   uint64 // log stripe unit in bytes, v2 logs only
	Fmt     uint64
	Cycle   uint64
}

// Record is one log record to be written by AppendRecord.
type Record struct {
	Cycle   uint64
	Block   common.Daddr
	TailLSN LSN
	Payload []byte
	Unmount bool
	UUID    uuid.UUID
	Version uint64
}

// recordBBs is the number of basic blocks a record of n payload bytes
// occupies: one header sector plus cycle-stamped data sectors, padded to
// the stripe unit on v2 logs.
func recordBBs(g Geometry, n uint64, version uint64, sunit uint64) uint64 {
	dataBBs := util.RoundUp(n, common.BBSIZE-CYCLESZ)
	bbs := g.sectRound(1) + g.sectRound(dataBBs)
	if version == VERSION_2 && sunit > common.BBSIZE {
		unit := common.BytesToBB(sunit)
		bbs = util.RoundUp(bbs, unit) * unit
	}
	return bbs
}

// AppendRecord writes r at r.Block, wrapping at the end of the log. Blocks
// that wrap to the start are stamped with the next cycle. It returns the
// block following the record.
func AppendRecord(d disk.Disk, g Geometry, r Record) (common.Daddr, error) {
	n := g.LogBBSize
	bbs := recordBBs(g, uint64(len(r.Payload)), r.Version, 0)
	if bbs > n || r.Block >= n {
		return 0, fmt.Errorf("record of %d blocks at %d does not fit a %d block log",
			bbs, r.Block, n)
	}
	h := &recHeader{
		cycle:   r.Cycle,
		version: r.Version,
		len:     uint64(len(r.Payload)),
		bbs:     bbs,
		lsn:     MkLSN(r.Cycle, r.Block),
		tailLSN: r.TailLSN,
		fmt:     FMT_LINUX,
		uuid:    r.UUID,
	}
	if r.Unmount {
		h.flags |= FLAG_UNMOUNT
	}
	if err := writeBB(d, g, r.Block, h.encode()); err != nil {
		return 0, err
	}
	payload := r.Payload
	for i := uint64(1); i < bbs; i++ {
		blk := r.Block + i
		cycle := r.Cycle
		if blk >= n {
			blk -= n
			cycle += 1
		}
		bb := make([]byte, common.BBSIZE)
		stampCycle(bb, cycle)
		payload = payload[copy(bb[CYCLESZ:], payload):]
		if err := writeBB(d, g, blk, bb); err != nil {
			return 0, err
		}
	}
	return (r.Block + bbs) % n, nil
}

// clearChunkBBs bounds how much of the log is written per call.
const clearChunkBBs = uint64(128)

// ClearLog destroys the log contents: an unmount record at block 0 stamped
// with p.Cycle, and the rest of the log either zeroed (initial cycle) or
// stamped with the previous cycle so the head search lands after the
// unmount record.
func ClearLog(d disk.Disk, g Geometry, p ClearParams) error {
	if p.Cycle < INIT_CYCLE {
		return fmt.Errorf("clear log: cycle %d below %d", p.Cycle, INIT_CYCLE)
	}
	n := g.LogBBSize
	bbs := recordBBs(g, 0, p.Version, p.SUnit)
	if bbs > n {
		return fmt.Errorf("clear log: unmount record of %d blocks exceeds %d block log",
			bbs, n)
	}
	util.DPrintf(1, "ClearLog: %d blocks at %d cycle %d\n", n, g.LogBBStart, p.Cycle)

	fill := p.Cycle - 1
	for start := uint64(0); start < n; start += clearChunkBBs {
		cnt := util.Min(clearChunkBBs, n-start)
		chunk := make([]byte, common.BBToBytes(cnt))
		if fill != 0 {
			for i := uint64(0); i < cnt; i++ {
				stampCycle(chunk[common.BBToBytes(i):], fill)
			}
		}
		err := disk.WriteBytes(d, common.BBToBytes(g.LogBBStart+start), chunk)
		if err != nil {
			return err
		}
	}

	h := &recHeader{
		cycle:   p.Cycle,
		version: p.Version,
		bbs:     bbs,
		lsn:     MkLSN(p.Cycle, 0),
		tailLSN: MkLSN(p.Cycle, 0),
		flags:   FLAG_UNMOUNT,
		fmt:     p.Fmt,
		uuid:    p.UUID,
	}
	if err := writeBB(d, g, 0, h.encode()); err != nil {
		return err
	}
	for i := uint64(1); i < bbs; i++ {
		bb := make([]byte, common.BBSIZE)
		stampCycle(bb, p.Cycle)
		if err := writeBB(d, g, i, bb); err != nil {
			return err
		}
	}
	return d.Barrier()
}
