package wal

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/disk"
	"github.com/mit-pdos/go-fsrepair/util"
)

var (
	ErrNoTail   = errors.New("cannot find log tail")
	ErrBadCycle = errors.New("inconsistent log cycle numbers")
)

// Tail is what a scan of the log found. Head and Tail are basic blocks
// relative to the start of the log; Head == Tail means nothing to replay.
type Tail struct {
	Head        common.Daddr
	Tail        common.Daddr
	LastSyncLSN LSN
	Zeroed      bool
}

// bisect returns the first block in [lo, hi) whose cycle satisfies pred,
// assuming pred is false then true across the range. Returns hi if none.
func bisect(d disk.Disk, g Geometry, lo, hi common.Daddr,
	pred func(uint64) bool) (common.Daddr, error) {
	for lo < hi {
		mid := lo + (hi-lo)/2
		c, err := readCycle(d, g, mid)
		if err != nil {
			return 0, err
		}
		if pred(c) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

func findHead(d disk.Disk, g Geometry) (common.Daddr, uint64, error) {
	n := g.LogBBSize
	first, err := readCycle(d, g, 0)
	if err != nil {
		return 0, 0, err
	}
	if first == 0 {
		return 0, 0, nil
	}
	last, err := readCycle(d, g, n-1)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case last == 0:
		// never wrapped: head is the first block never written
		head, err := bisect(d, g, 0, n, func(c uint64) bool { return c == 0 })
		return head, first, err
	case last == first:
		// the whole log carries one cycle; the next write wraps to 0
		return 0, first, nil
	case last+1 == first:
		head, err := bisect(d, g, 0, n, func(c uint64) bool { return c == last })
		return head, first, err
	default:
		return 0, 0, fmt.Errorf("%w: first block cycle %d, last block cycle %d",
			ErrBadCycle, first, last)
	}
}

// findLastHeader searches backwards from head for the newest record header.
func findLastHeader(d disk.Disk, g Geometry, head common.Daddr) (*recHeader, common.Daddr, error) {
	n := g.LogBBSize
	for i := uint64(1); i <= n; i++ {
		blk := (head + n - i) % n
		bb, err := readBB(d, g, blk)
		if err != nil {
			return nil, 0, err
		}
		if !isHeader(bb) {
			continue
		}
		h, err := decodeHeader(bb)
		if err != nil {
			return nil, 0, fmt.Errorf("log block %d: %w", blk, err)
		}
		return h, blk, nil
	}
	return nil, 0, fmt.Errorf("%w: no record header in %d blocks", ErrNoTail, n)
}

// FindTail locates the head and tail of the log on d. fsUUID is the
// filesystem's UUID; a record written for another filesystem is an error.
func FindTail(d disk.Disk, g Geometry, fsUUID uuid.UUID) (Tail, error) {
	head, cycle, err := findHead(d, g)
	if err != nil {
		return Tail{}, err
	}
	if cycle == 0 {
		util.DPrintf(1, "FindTail: totally zeroed log\n")
		return Tail{Zeroed: true}, nil
	}

	h, rblk, err := findLastHeader(d, g, head)
	if err != nil {
		return Tail{}, err
	}
	if h.uuid != fsUUID {
		return Tail{}, fmt.Errorf("%w: log uuid %v does not match filesystem %v",
			ErrBadHeader, h.uuid, fsUUID)
	}
	tail := h.tailLSN.Block()
	if tail >= g.LogBBSize {
		return Tail{}, fmt.Errorf("%w: tail lsn %v beyond log end", ErrBadHeader, h.tailLSN)
	}

	// a clean unmount record directly before the head leaves nothing to
	// replay
	if h.flags&FLAG_UNMOUNT != 0 && (rblk+h.bbs)%g.LogBBSize == head {
		tail = head
	}
	util.DPrintf(3, "FindTail: head %d tail %d last record %d lsn %v\n",
		head, tail, rblk, h.lsn)
	return Tail{Head: head, Tail: tail, LastSyncLSN: h.lsn}, nil
}
