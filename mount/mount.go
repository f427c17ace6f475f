// mount ties an opened filesystem image together: its superblock, the
// devices holding data and log, the buffer cache, and the process-wide
// log sequence high-water mark.
package mount

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mit-pdos/go-fsrepair/addr"
	"github.com/mit-pdos/go-fsrepair/buf"
	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/disk"
	"github.com/mit-pdos/go-fsrepair/super"
	"github.com/mit-pdos/go-fsrepair/util"
	"github.com/mit-pdos/go-fsrepair/wal"
)

const (
	DEV_DATA uint64 = 1
	DEV_LOG  uint64 = 2
)

type Mount struct {
	Sb     *super.Superblock
	DDev   *buf.Target
	LogDev *buf.Target // nil for an external log that was not supplied
	Cache  *buf.Cache

	maxLSNOnce *sync.Once
	maxLSN     uint64
}

// ReadSuper reads and validates the primary superblock of d.
func ReadSuper(d disk.Disk) (*super.Superblock, error) {
	b, err := disk.ReadBytes(d, 0, common.BBSIZE)
	if err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	sb := super.Decode(b)
	if err := sb.Validate(); err != nil {
		return nil, err
	}
	return sb, nil
}

// MkMount opens the filesystem on ddev. logd is the external log device,
// or nil; an internal log always lives on ddev.
func MkMount(ddev disk.Disk, name string, logd disk.Disk, logName string) (*Mount, error) {
	sb, err := ReadSuper(ddev)
	if err != nil {
		return nil, err
	}
	mp := &Mount{
		Sb:         sb,
		DDev:       buf.MkTarget(DEV_DATA, name, ddev),
		Cache:      buf.MkCache(),
		maxLSNOnce: new(sync.Once),
	}
	switch {
	case !mp.LogIsExternal():
		mp.LogDev = mp.DDev
	case logd != nil:
		mp.LogDev = buf.MkTarget(DEV_LOG, logName, logd)
	}
	util.DPrintf(1, "mount %s: %d ags of %d blocks, log %d blocks at %d\n",
		name, sb.Agcount, sb.Agblocks, sb.Logblocks, sb.Logstart)
	return mp, nil
}

func (mp *Mount) LogIsExternal() bool {
	return mp.Sb.Logstart == 0
}

// LogGeometryParams collects the superblock fields the log geometry is
// derived from.
func (mp *Mount) LogGeometryParams() wal.GeometryParams {
	sb := mp.Sb
	return wal.GeometryParams{
		Logstart:      sb.Logstart,
		Logblocks:     sb.Logblocks,
		Logsectlog:    sb.Logsectlog,
		Blocklog:      sb.Blocklog,
		Agblocks:      sb.Agblocks,
		Agblklog:      sb.Agblklog,
		DataSectBBLog: sb.SectBBLog(),
		HasSector:     sb.HasSector(),
		HasLogV2:      sb.HasLogV2(),
	}
}

// SBMap is the buffer map of the primary superblock: one sector at 0.
func (mp *Mount) SBMap() []addr.Map {
	return []addr.Map{addr.MkMap(0, common.BytesToBB(mp.Sb.Sectsize))}
}

// SetMaxLSN seeds the log sequence high-water mark. Only the first call
// has an effect; it reports whether this call set it.
func (mp *Mount) SetMaxLSN(lsn wal.LSN) bool {
	set := false
	mp.maxLSNOnce.Do(func() {
		atomic.StoreUint64(&mp.maxLSN, uint64(lsn))
		set = true
	})
	return set
}

// MaxLSN is safe to call from any goroutine.
func (mp *Mount) MaxLSN() wal.LSN {
	return wal.LSN(atomic.LoadUint64(&mp.maxLSN))
}
