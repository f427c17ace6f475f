// mkfs lays down a fresh filesystem image: superblocks, per-AG inode
// tables, the root inode chunk with its reserved inodes, and a clean log.
package mkfs

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/google/uuid"

	"github.com/mit-pdos/go-fsrepair/addr"
	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/disk"
	"github.com/mit-pdos/go-fsrepair/incore"
	"github.com/mit-pdos/go-fsrepair/inode"
	"github.com/mit-pdos/go-fsrepair/mount"
	"github.com/mit-pdos/go-fsrepair/super"
	"github.com/mit-pdos/go-fsrepair/txn"
	"github.com/mit-pdos/go-fsrepair/util"
	"github.com/mit-pdos/go-fsrepair/wal"
)

const (
	// AG 0 layout, in filesystem blocks
	ROOT_CHUNK_AGBNO common.Fsblock = 16
	LOG_AGBNO        common.Fsblock = 24
)

var ErrBadParams = errors.New("bad format parameters")

type Params struct {
	UUID        uuid.UUID
	Agcount     uint64
	Agblocks    uint64
	Logblocks   uint64
	ExternalLog bool
	Logsectlog  uint64 // 0 means BBSHIFT
	Logsunit    uint64 // bytes

	V5         bool
	Finobt     bool
	InobtCount bool
	Bigtime    bool
}

func DefaultParams() Params {
	return Params{
		UUID:      uuid.New(),
		Agcount:   4,
		Agblocks:  256,
		Logblocks: 64,
		V5:        true,
		Finobt:    true,
	}
}

// Blocks is the size of the data device p describes, in disk blocks.
func (p Params) Blocks() uint64 {
	return p.Agcount * p.Agblocks
}

func (p Params) check() error {
	if p.Agcount == 0 || p.Agblocks <= ROOT_CHUNK_AGBNO+common.InodesPerChunk/8 {
		return fmt.Errorf("%w: %d ags of %d blocks", ErrBadParams, p.Agcount, p.Agblocks)
	}
	if p.Logblocks == 0 {
		return fmt.Errorf("%w: empty log", ErrBadParams)
	}
	if !p.ExternalLog && LOG_AGBNO+p.Logblocks > p.Agblocks {
		return fmt.Errorf("%w: log of %d blocks does not fit ag 0", ErrBadParams, p.Logblocks)
	}
	if !p.V5 && (p.Finobt || p.InobtCount || p.Bigtime) {
		return fmt.Errorf("%w: features need a v5 filesystem", ErrBadParams)
	}
	if p.InobtCount && !p.Finobt {
		return fmt.Errorf("%w: inode btree counts need the free inode btree", ErrBadParams)
	}
	return nil
}

// MkSuper builds the superblock for p.
func MkSuper(p Params) *super.Superblock {
	agblklog := uint64(bits.Len64(p.Agblocks - 1))
	logsectlog := p.Logsectlog
	if logsectlog == 0 {
		logsectlog = common.BBSHIFT
	}
	sb := &super.Superblock{
		Magic:      super.MAGIC,
		Blocksize:  disk.BlockSize,
		Dblocks:    p.Blocks(),
		UUID:       p.UUID,
		Agblocks:   p.Agblocks,
		Agcount:    p.Agcount,
		Logblocks:  p.Logblocks,
		Versionnum: super.VERSION_4 | super.VERSION_LOGV2BIT,
		Sectsize:   common.BBSIZE,
		Inodesize:  common.INODESZ,
		Inopblock:  disk.BlockSize / common.INODESZ,
		Blocklog:   12,
		Sectlog:    common.BBSHIFT,
		Inodelog:   9,
		Inopblog:   3,
		Agblklog:   agblklog,
		Logsectlog: logsectlog,
		Logsectsz:  uint64(1) << logsectlog,
		Logsunit:   p.Logsunit,
	}
	if logsectlog != common.BBSHIFT {
		sb.Versionnum |= super.VERSION_SECTBIT
	}
	if !p.ExternalLog {
		sb.Logstart = sb.AgbToFsb(0, LOG_AGBNO)
	}
	if p.V5 {
		sb.Versionnum = super.VERSION_5 | super.VERSION_LOGV2BIT
		if p.Finobt {
			sb.FeaturesRoCompat |= super.FEAT_RO_COMPAT_FINOBT
		}
		if p.InobtCount {
			sb.FeaturesRoCompat |= super.FEAT_RO_COMPAT_INOBTCNT
		}
		if p.Bigtime {
			sb.FeaturesIncompat |= super.FEAT_INCOMPAT_BIGTIME
		}
	}
	rootAgino := sb.AgbToAgino(ROOT_CHUNK_AGBNO)
	sb.Rootino = sb.AginoToIno(0, rootAgino)
	sb.Rbmino = sb.Rootino + 1
	sb.Rsumino = sb.Rootino + 2
	return sb
}

// Format writes a new filesystem to d. logd is the external log device
// and must be nil unless p asks for an external log.
func Format(d disk.Disk, logd disk.Disk, p Params) (*super.Superblock, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if p.ExternalLog != (logd != nil) {
		return nil, fmt.Errorf("%w: external log device mismatch", ErrBadParams)
	}
	sz, err := d.Size()
	if err != nil {
		return nil, err
	}
	if sz < p.Blocks() {
		return nil, fmt.Errorf("%w: device has %d blocks, need %d", ErrBadParams, sz, p.Blocks())
	}
	sb := MkSuper(p)
	util.DPrintf(1, "Format: %d ags of %d blocks, root %d\n", sb.Agcount, sb.Agblocks, sb.Rootino)

	if err := disk.WriteBytes(d, 0, sb.Encode()); err != nil {
		return nil, err
	}
	mp, err := mount.MkMount(d, "data", logd, "log")
	if err != nil {
		return nil, err
	}
	if err := writeAGs(mp); err != nil {
		return nil, err
	}
	if err := clearLog(mp); err != nil {
		return nil, err
	}
	return sb, nil
}

func writeAGs(mp *mount.Mount) error {
	sb := mp.Sb
	tp := txn.Alloc(mp)
	for agno := uint64(0); agno < sb.Agcount; agno++ {
		agno := common.Agnumber(agno)
		// secondary superblocks; AG 0 already has the primary
		if agno != 0 {
			bp, err := tp.GetBuf(mp.DDev, []addr.Map{addr.MkMap(sb.AgbToDaddr(agno, 0), 1)})
			if err != nil {
				tp.Cancel()
				return err
			}
			copy(bp.Data, sb.Encode())
			tp.LogBuf(bp, 0, common.BBSIZE-1)
		}

		agi := &super.AGI{
			Magic:  super.AGI_MAGIC,
			Seqno:  uint64(agno),
			Length: sb.Agblocks,
			Recs:   make([]super.AGIRec, 0),
		}
		if agno == 0 {
			rec := incore.MkInoRec(sb.InoToAgino(sb.Rootino))
			for slot := uint64(0); slot < 3; slot++ {
				rec.SetUsed(slot)
			}
			agi.Recs = append(agi.Recs, super.AGIRec{Startino: rec.Startino, Free: rec.Free})
			agi.Count = common.InodesPerChunk
			agi.Freecount = rec.FreeCount()
		}
		maps := []addr.Map{addr.MkMap(sb.AGIDaddr(agno), sb.FsbToBB(1))}
		bp, err := tp.GetBuf(mp.DDev, maps)
		if err != nil {
			tp.Cancel()
			return err
		}
		copy(bp.Data, agi.Encode())
		tp.LogBuf(bp, 0, uint64(len(bp.Data))-1)
	}

	// zero the root chunk, then lay the reserved inodes into it
	chunk := []addr.Map{addr.MkMap(sb.AgbToDaddr(0, ROOT_CHUNK_AGBNO),
		sb.FsbToBB(sb.IallocBlocks()))}
	bp, err := tp.GetBuf(mp.DDev, chunk)
	if err != nil {
		tp.Cancel()
		return err
	}
	for i := range bp.Data {
		bp.Data[i] = 0
	}
	tp.LogBuf(bp, 0, uint64(len(bp.Data))-1)

	reserved := []struct {
		ino   common.Inum
		mode  uint64
		nlink uint64
	}{
		{sb.Rootino, inode.S_IFDIR | 0755, 2},
		{sb.Rbmino, inode.S_IFREG, 1},
		{sb.Rsumino, inode.S_IFREG, 1},
	}
	for _, r := range reserved {
		if _, err := inode.Ialloc(tp, r.ino, r.mode, r.nlink); err != nil {
			tp.Cancel()
			return err
		}
	}
	return tp.Commit()
}

func clearLog(mp *mount.Mount) error {
	g, err := wal.ResolveGeometry(mp.LogGeometryParams())
	if err != nil {
		return err
	}
	return wal.ClearLog(mp.LogDev.Disk, g, wal.ClearParams{
		UUID:    mp.Sb.UUID,
		Version: g.Version,
		SUnit:   mp.Sb.Logsunit,
		Fmt:     wal.FMT_LINUX,
		Cycle:   wal.INIT_CYCLE,
	})
}
