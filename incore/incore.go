// incore holds what the repair scan learns about each allocation group:
// which inode chunks exist and which inodes in them are in use, and what
// every block is used for.
//
// Each allocation group is owned by one scan worker at a time, so nothing
// here is locked. The orchestrator only reads or updates the index before
// and after the parallel scan.
package incore

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"

	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/util"
)

var (
	ErrOverlap    = errors.New("inode chunk overlaps an existing chunk")
	ErrOutOfRange = errors.New("block range outside allocation group")
	ErrNoAG       = errors.New("no such allocation group")
)

// BlockState is what a block is used for.
type BlockState uint8

const (
	XR_E_UNKNOWN  BlockState = iota // not seen yet
	XR_E_FREE                       // free space
	XR_E_INUSE                      // in use by some file
	XR_E_INO                        // inode chunk
	XR_E_FS_MAP                     // allocation group headers
	XR_E_INUSE_FS                   // filesystem metadata such as the log
	XR_E_BAD_STATE
)

func (s BlockState) String() string {
	switch s {
	case XR_E_UNKNOWN:
		return "unknown"
	case XR_E_FREE:
		return "free"
	case XR_E_INUSE:
		return "inuse"
	case XR_E_INO:
		return "inode"
	case XR_E_FS_MAP:
		return "fsmap"
	case XR_E_INUSE_FS:
		return "inuse-fs"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// InoRec is the usage of one chunk of InodesPerChunk inodes. A set bit in
// Free means the slot is free.
type InoRec struct {
	Startino common.Agino
	Free     uint64
}

// MkInoRec makes a record for the chunk at startino with every slot free.
func MkInoRec(startino common.Agino) *InoRec {
	return &InoRec{Startino: startino, Free: ^uint64(0)}
}

func (r *InoRec) IsFree(slot uint64) bool {
	return r.Free&(1<<slot) != 0
}

func (r *InoRec) SetUsed(slot uint64) {
	r.Free &^= 1 << slot
}

func (r *InoRec) SetFree(slot uint64) {
	r.Free |= 1 << slot
}

func (r *InoRec) FreeCount() uint64 {
	return uint64(bits.OnesCount64(r.Free))
}

// Contains reports whether agino falls in this chunk.
func (r *InoRec) Contains(agino common.Agino) bool {
	return agino >= r.Startino &&
		uint64(agino) < uint64(r.Startino)+common.InodesPerChunk
}

type agIndex struct {
	recs []*InoRec // sorted by Startino
	bmap []BlockState
}

type Index struct {
	ags      []*agIndex
	agblocks uint64
}

func MkIndex(agcount uint64, agblocks uint64) *Index {
	idx := &Index{
		ags:      make([]*agIndex, agcount),
		agblocks: agblocks,
	}
	for i := range idx.ags {
		idx.ags[i] = &agIndex{
			recs: make([]*InoRec, 0),
			bmap: make([]BlockState, agblocks),
		}
	}
	return idx
}

func (idx *Index) AGCount() uint64 {
	return uint64(len(idx.ags))
}

func (idx *Index) ag(agno common.Agnumber) *agIndex {
	if uint64(agno) >= uint64(len(idx.ags)) {
		return nil
	}
	return idx.ags[agno]
}

// search returns the position of the first record starting after agino.
func (ag *agIndex) search(agino common.Agino) int {
	return sort.Search(len(ag.recs), func(i int) bool {
		return ag.recs[i].Startino > agino
	})
}

// FindInodeRec returns the record of the chunk holding agino, or nil.
func (idx *Index) FindInodeRec(agno common.Agnumber, agino common.Agino) *InoRec {
	ag := idx.ag(agno)
	if ag == nil {
		return nil
	}
	i := ag.search(agino)
	if i == 0 {
		return nil
	}
	if r := ag.recs[i-1]; r.Contains(agino) {
		return r
	}
	return nil
}

// AddInodeRec inserts rec into allocation group agno.
func (idx *Index) AddInodeRec(agno common.Agnumber, rec *InoRec) error {
	ag := idx.ag(agno)
	if ag == nil {
		return fmt.Errorf("%w: %d", ErrNoAG, agno)
	}
	i := ag.search(rec.Startino)
	end := uint64(rec.Startino) + common.InodesPerChunk
	if (i > 0 && ag.recs[i-1].Contains(rec.Startino)) ||
		(i < len(ag.recs) && uint64(ag.recs[i].Startino) < end) {
		return fmt.Errorf("%w: ag %d agino %d", ErrOverlap, agno, rec.Startino)
	}
	ag.recs = append(ag.recs, nil)
	copy(ag.recs[i+1:], ag.recs[i:])
	ag.recs[i] = rec
	util.DPrintf(10, "ag %d: add chunk %d free 0x%x\n", agno, rec.Startino, rec.Free)
	return nil
}

// SetInodeUsedAlloc creates the record for the chunk holding agino, with
// every slot free except agino's.
func (idx *Index) SetInodeUsedAlloc(agno common.Agnumber, agino common.Agino) (*InoRec, error) {
	start := common.Agino(uint64(agino) &^ (common.InodesPerChunk - 1))
	rec := MkInoRec(start)
	rec.SetUsed(uint64(agino - start))
	if err := idx.AddInodeRec(agno, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// InodeRecs lists agno's records in order.
func (idx *Index) InodeRecs(agno common.Agnumber) []*InoRec {
	ag := idx.ag(agno)
	if ag == nil {
		return nil
	}
	return ag.recs
}

// SetBmapExt records the state of n blocks starting at agbno.
func (idx *Index) SetBmapExt(agno common.Agnumber, agbno common.Fsblock, n uint64,
	state BlockState) error {
	ag := idx.ag(agno)
	if ag == nil {
		return fmt.Errorf("%w: %d", ErrNoAG, agno)
	}
	if util.SumOverflows(agbno, n) || agbno+n > idx.agblocks {
		return fmt.Errorf("%w: ag %d blocks [%d, +%d)", ErrOutOfRange, agno, agbno, n)
	}
	bmap := ag.bmap
	for b := agbno; b < agbno+n; b++ {
		bmap[b] = state
	}
	return nil
}

func (idx *Index) GetBmap(agno common.Agnumber, agbno common.Fsblock) BlockState {
	ag := idx.ag(agno)
	if ag == nil || agbno >= idx.agblocks {
		return XR_E_BAD_STATE
	}
	return ag.bmap[agbno]
}
