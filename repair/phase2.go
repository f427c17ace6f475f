package repair

import (
	"fmt"

	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/incore"
	"github.com/mit-pdos/go-fsrepair/mount"
	"github.com/mit-pdos/go-fsrepair/scan"
	"github.com/mit-pdos/go-fsrepair/util"
	"github.com/mit-pdos/go-fsrepair/wal"
)

type State int

const (
	Start State = iota
	LogResolved
	LogZeroed
	AGsScanned
	RootChecked
	Upgraded
	Done
)

func (s State) String() string {
	switch s {
	case Start:
		return "start"
	case LogResolved:
		return "log resolved"
	case LogZeroed:
		return "log zeroed"
	case AGsScanned:
		return "ags scanned"
	case RootChecked:
		return "root checked"
	case Upgraded:
		return "upgraded"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ScanFunc fills idx with the inode chunks and block usage of every
// allocation group of mp.
type ScanFunc func(mp *mount.Mount, idx *incore.Index, threads int, w scan.Warner) error

// Phase2 runs the early-recovery stage once. Its stages run in order on
// the calling goroutine; only the AG scan fans out to workers.
type Phase2 struct {
	opts  Options
	rep   *Reporter
	zero  *Zeroer
	scan  ScanFunc
	state State

	Log       *wal.State
	LogStatus LogStatus
	Index     *incore.Index
}

// MkPhase2 builds the stage. A nil ops or scanner selects the on-disk log
// and the AG header scan.
func MkPhase2(opts Options, rep *Reporter, ops LogOps, scanner ScanFunc) *Phase2 {
	if scanner == nil {
		scanner = scan.ScanAGs
	}
	return &Phase2{
		opts:  opts,
		rep:   rep,
		zero:  MkZeroer(opts, rep, ops),
		scan:  scanner,
		state: Start,
	}
}

func (p *Phase2) State() State {
	return p.state
}

func (p *Phase2) advance(s State) {
	util.DPrintf(1, "phase2: %v -> %v\n", p.state, s)
	p.state = s
}

// Run takes mp from Start to Done, or stops at the first fatal error.
func (p *Phase2) Run(mp *mount.Mount) error {
	if p.state != Start {
		return fmt.Errorf("phase2 already run (state %v)", p.state)
	}

	if mp.LogIsExternal() {
		if mp.LogDev == nil {
			return fatal(StageConfig, EXIT_FATAL, ErrExternalLogNoDevice)
		}
		p.rep.Log("Phase 2 - using external log on %s\n", mp.LogDev.Name)
	} else {
		p.rep.Log("Phase 2 - using internal log\n")
	}
	p.advance(LogResolved)

	p.rep.Log("        - zero log...\n")
	st, status, err := p.zero.ZeroLog(mp)
	if err != nil {
		return err
	}
	p.Log = st
	p.LogStatus = status
	p.advance(LogZeroed)

	p.rep.Log("        - scan filesystem freespace and inode maps...\n")
	p.Index = incore.MkIndex(mp.Sb.Agcount, mp.Sb.Agblocks)
	if err := p.scan(mp, p.Index, p.opts.ScanThreads, p.rep); err != nil {
		return fatal(StageScan, EXIT_FATAL, err)
	}
	p.advance(AGsScanned)

	if err := p.checkRoot(mp); err != nil {
		return err
	}
	p.advance(RootChecked)

	if err := p.UpgradeFilesystem(mp); err != nil {
		return err
	}
	p.advance(Upgraded)
	p.advance(Done)
	return nil
}

// checkRoot makes sure the root inode chunk is known and the reserved
// inodes in it are marked used.
func (p *Phase2) checkRoot(mp *mount.Mount) error {
	sb := mp.Sb
	agno := sb.InoToAgno(sb.Rootino)
	agino := sb.InoToAgino(sb.Rootino)
	if uint64(agno) >= p.Index.AGCount() {
		return fatal(StageRoot, EXIT_FATAL, fmt.Errorf("%w: root %d ag %d of %d",
			ErrRootOutsideFS, sb.Rootino, agno, p.Index.AGCount()))
	}

	rec := p.Index.FindInodeRec(agno, agino)
	if rec == nil {
		if sb.Rbmino != sb.Rootino+1 || sb.Rsumino != sb.Rootino+2 {
			return fatal(StageRoot, EXIT_FATAL, fmt.Errorf("%w: root %d rbm %d rsum %d",
				ErrReservedInodes, sb.Rootino, sb.Rbmino, sb.Rsumino))
		}
		p.rep.Warn("root inode chunk not found\n")
		rec, err := fabricateRootRec(p.Index, agno, agino)
		if err != nil {
			return fatal(StageRoot, EXIT_FATAL, err)
		}
		agbno := sb.AginoToAgbno(rec.Startino)
		if err := p.Index.SetBmapExt(agno, agbno, sb.IallocBlocks(), incore.XR_E_INO); err != nil {
			return fatal(StageRoot, EXIT_FATAL, err)
		}
		return nil
	}

	p.rep.Log("        - found root inode chunk\n")
	reserved := []struct {
		ino  common.Inum
		name string
	}{
		{sb.Rootino, "root inode"},
		{sb.Rbmino, "realtime bitmap inode"},
		{sb.Rsumino, "realtime summary inode"},
	}
	for _, r := range reserved {
		ragino := sb.InoToAgino(r.ino)
		if sb.InoToAgno(r.ino) != agno || !rec.Contains(ragino) {
			p.rep.Warn("%s %d outside the root inode chunk\n", r.name, r.ino)
			continue
		}
		slot := uint64(ragino - rec.Startino)
		if !rec.IsFree(slot) {
			continue
		}
		p.rep.Warn("%s marked free, ", r.name)
		if p.opts.NoModify {
			p.rep.Warn("would correct\n")
		} else {
			rec.SetUsed(slot)
			p.rep.Warn("correcting\n")
		}
	}
	return nil
}

// fabricateRootRec makes the record for a root chunk the scan did not
// find: the root inode and the two that follow it in use, the rest free.
func fabricateRootRec(idx *incore.Index, agno common.Agnumber,
	agino common.Agino) (*incore.InoRec, error) {
	first := uint64(agino) & (common.InodesPerChunk - 1)
	if first+2 >= common.InodesPerChunk {
		return nil, fmt.Errorf("%w: root agino %d too close to chunk end",
			ErrReservedInodes, agino)
	}
	rec, err := idx.SetInodeUsedAlloc(agno, agino)
	if err != nil {
		return nil, err
	}
	for slot := uint64(0); slot < common.InodesPerChunk; slot++ {
		if slot >= first && slot <= first+2 {
			rec.SetUsed(slot)
		} else {
			rec.SetFree(slot)
		}
	}
	return rec, nil
}
