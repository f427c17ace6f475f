package super

import (
	"errors"
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/disk"
)

const (
	AGI_MAGIC uint64 = 0x58414749 // "XAGI"

	// AG-relative block holding the inode chunk table
	AGI_BLOCK common.Fsblock = 1

	agiHdrSize  = 6 * 8
	agiRecSize  = 2 * 8
	AGI_MAXRECS = (disk.BlockSize - agiHdrSize) / agiRecSize
)

var ErrBadAGI = errors.New("bad AGI")

// AGIRec is one inode chunk: its first AG inode and a free bitmask.
type AGIRec struct {
	Startino common.Agino
	Free     uint64
}

// AGI is the per-allocation-group inode chunk table.
type AGI struct {
	Magic     uint64
	Seqno     uint64
	Length    uint64 // blocks in the AG
	Count     uint64 // allocated inodes
	Freecount uint64
	Recs      []AGIRec
}

func (a *AGI) Encode() []byte {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(a.Magic)
	enc.PutInt(a.Seqno)
	enc.PutInt(a.Length)
	enc.PutInt(a.Count)
	enc.PutInt(a.Freecount)
	enc.PutInt(uint64(len(a.Recs)))
	for _, r := range a.Recs {
		enc.PutInt(uint64(r.Startino))
		enc.PutInt(r.Free)
	}
	return enc.Finish()
}

// DecodeAGI parses an AGI block. A bad magic or record count is an error;
// the records themselves are not checked.
func DecodeAGI(b []byte) (*AGI, error) {
	dec := marshal.NewDec(b)
	a := &AGI{}
	a.Magic = dec.GetInt()
	if a.Magic != AGI_MAGIC {
		return nil, fmt.Errorf("%w: magic 0x%x", ErrBadAGI, a.Magic)
	}
	a.Seqno = dec.GetInt()
	a.Length = dec.GetInt()
	a.Count = dec.GetInt()
	a.Freecount = dec.GetInt()
	n := dec.GetInt()
	if n > AGI_MAXRECS {
		return nil, fmt.Errorf("%w: %d records", ErrBadAGI, n)
	}
	a.Recs = make([]AGIRec, n)
	for i := range a.Recs {
		a.Recs[i].Startino = common.Agino(dec.GetInt())
		a.Recs[i].Free = dec.GetInt()
	}
	return a, nil
}

// AGIDaddr is the address of agno's AGI.
func (sb *Superblock) AGIDaddr(agno common.Agnumber) common.Daddr {
	return sb.AgbToDaddr(agno, AGI_BLOCK)
}
