package wal

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/util"
)

var ErrBadGeometry = errors.New("bad log geometry")

// GeometryParams are the superblock fields the log geometry is derived from.
type GeometryParams struct {
	Logstart   common.Fsblock // 0 for an external log
	Logblocks  uint64
	Logsectlog uint64
	Blocklog   uint64
	Agblocks   uint64
	Agblklog   uint64

	DataSectBBLog uint64 // data device sector size, as a shift over BBSIZE
	HasSector     bool
	HasLogV2      bool
}

// Geometry locates the log on its device. Block addresses are in basic
// blocks; LogBBStart is absolute on the log device.
type Geometry struct {
	BlockSize  uint64
	LogBBStart common.Daddr
	LogBBSize  uint64
	SectorSize uint64 // bytes
	SectBBLog  uint64
	SectBBSize uint64
	Version    uint64
	External   bool
}

// ResolveGeometry is pure: no I/O, only the superblock fields in p.
func ResolveGeometry(p GeometryParams) (Geometry, error) {
	if p.Blocklog < common.BBSHIFT {
		return Geometry{}, fmt.Errorf("%w: block log %d", ErrBadGeometry, p.Blocklog)
	}
	bbPerFsb := p.Blocklog - common.BBSHIFT
	g := Geometry{
		BlockSize:  uint64(1) << p.Blocklog,
		LogBBSize:  p.Logblocks << bbPerFsb,
		SectorSize: common.BBSIZE,
		Version:    VERSION_1,
		External:   p.Logstart == 0,
	}
	if p.HasLogV2 {
		g.Version = VERSION_2
	}
	if !g.External {
		agno := p.Logstart >> p.Agblklog
		agbno := p.Logstart & (uint64(1)<<p.Agblklog - 1)
		g.LogBBStart = (agno*p.Agblocks + agbno) << bbPerFsb
	}

	if p.HasSector {
		if p.Logsectlog < common.BBSHIFT {
			return Geometry{}, fmt.Errorf("%w: log sector log %d below %d",
				ErrBadGeometry, p.Logsectlog, common.BBSHIFT)
		}
		g.SectBBLog = p.Logsectlog - common.BBSHIFT
		if g.SectBBLog > p.DataSectBBLog {
			return Geometry{}, fmt.Errorf("%w: log sector log %d exceeds data sector log %d",
				ErrBadGeometry, g.SectBBLog, p.DataSectBBLog)
		}
		// larger sectors need a v2 or external log
		if g.SectBBLog != 0 && !g.External && !p.HasLogV2 {
			return Geometry{}, fmt.Errorf("%w: %d byte log sectors need a v2 or external log",
				ErrBadGeometry, common.BBSIZE<<g.SectBBLog)
		}
		g.SectorSize = common.BBSIZE << g.SectBBLog
	}
	g.SectBBSize = uint64(1) << g.SectBBLog

	if !util.IsPowerOf2(g.SectorSize) || g.LogBBSize == 0 || g.LogBBSize%g.SectBBSize != 0 {
		return Geometry{}, fmt.Errorf("%w: %d blocks of %d byte sectors",
			ErrBadGeometry, g.LogBBSize, g.SectorSize)
	}
	return g, nil
}

// sectRound rounds a basic block count up to whole log sectors.
func (g Geometry) sectRound(bbs uint64) uint64 {
	return util.RoundUp(bbs, g.SectBBSize) * g.SectBBSize
}
