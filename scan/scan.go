// scan walks every allocation group's headers and records what it finds
// in the incore index. It is read-only: anything wrong is warned about and
// left for later repair stages.
package scan

import (
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/mit-pdos/go-fsrepair/addr"
	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/incore"
	"github.com/mit-pdos/go-fsrepair/mount"
	"github.com/mit-pdos/go-fsrepair/super"
	"github.com/mit-pdos/go-fsrepair/txn"
	"github.com/mit-pdos/go-fsrepair/util"
)

// Warner receives diagnostics from concurrent scan workers.
type Warner interface {
	Warn(format string, a ...interface{})
}

// agHeaderBlocks are the AG-relative blocks holding the superblock copy
// and the AGI.
const agHeaderBlocks = super.AGI_BLOCK + 1

// ScanAGs scans all allocation groups with at most threads workers. Each
// worker owns one allocation group at a time and runs its own read-only
// transaction. An I/O error stops the scan; damaged headers only warn.
func ScanAGs(mp *mount.Mount, idx *incore.Index, threads int, w Warner) error {
	if threads < 1 {
		threads = 1
	}
	p := pool.New().WithErrors().WithMaxGoroutines(threads)
	for agno := uint64(0); agno < mp.Sb.Agcount; agno++ {
		agno := common.Agnumber(agno)
		p.Go(func() error {
			return scanAG(mp, idx, agno, w)
		})
	}
	return p.Wait()
}

func scanAG(mp *mount.Mount, idx *incore.Index, agno common.Agnumber, w Warner) error {
	sb := mp.Sb
	tp := txn.Alloc(mp)
	defer tp.Cancel()

	maps := []addr.Map{addr.MkMap(sb.AGIDaddr(agno), sb.FsbToBB(1))}
	bp, err := tp.ReadBuf(mp.DDev, maps)
	if err != nil {
		return fmt.Errorf("ag %d: read agi: %w", agno, err)
	}
	if err := idx.SetBmapExt(agno, 0, agHeaderBlocks, incore.XR_E_FS_MAP); err != nil {
		return err
	}
	if err := markLog(mp, idx, agno); err != nil {
		return err
	}

	agi, err := super.DecodeAGI(bp.Data)
	if err != nil {
		w.Warn("bad agi in ag %d: %v, skipping inode chunks\n", agno, err)
		return nil
	}
	if agi.Seqno != uint64(agno) {
		w.Warn("bad agi seqno %d in ag %d\n", agi.Seqno, agno)
	}

	iblocks := sb.IallocBlocks()
	for _, r := range agi.Recs {
		if uint64(r.Startino)%common.InodesPerChunk != 0 {
			w.Warn("misaligned inode chunk %d in ag %d\n", r.Startino, agno)
			continue
		}
		agbno := sb.AginoToAgbno(r.Startino)
		if agbno < agHeaderBlocks || agbno+iblocks > sb.Agblocks {
			w.Warn("inode chunk %d in ag %d outside data area\n", r.Startino, agno)
			continue
		}
		rec := incore.MkInoRec(r.Startino)
		rec.Free = r.Free
		if err := idx.AddInodeRec(agno, rec); err != nil {
			w.Warn("%v\n", err)
			continue
		}
		if err := idx.SetBmapExt(agno, agbno, iblocks, incore.XR_E_INO); err != nil {
			return err
		}
	}
	util.DPrintf(3, "scan ag %d: %d inode chunks\n", agno, len(idx.InodeRecs(agno)))
	return nil
}

// markLog marks the internal log's blocks if they fall in agno.
func markLog(mp *mount.Mount, idx *incore.Index, agno common.Agnumber) error {
	sb := mp.Sb
	if mp.LogIsExternal() {
		return nil
	}
	logAgno := common.Agnumber(sb.Logstart >> sb.Agblklog)
	if logAgno != agno {
		return nil
	}
	agbno := sb.Logstart & (uint64(1)<<sb.Agblklog - 1)
	return idx.SetBmapExt(agno, agbno, sb.Logblocks, incore.XR_E_INUSE_FS)
}
