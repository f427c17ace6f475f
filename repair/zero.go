package repair

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mit-pdos/go-fsrepair/disk"
	"github.com/mit-pdos/go-fsrepair/mount"
	"github.com/mit-pdos/go-fsrepair/util"
	"github.com/mit-pdos/go-fsrepair/wal"
)

// LogOps are the log primitives the zeroer drives.
type LogOps interface {
	FindTail(d disk.Disk, g wal.Geometry, fsUUID uuid.UUID) (wal.Tail, error)
	Clear(d disk.Disk, g wal.Geometry, p wal.ClearParams) error
}

type walOps struct{}

func (walOps) FindTail(d disk.Disk, g wal.Geometry, fsUUID uuid.UUID) (wal.Tail, error) {
	return wal.FindTail(d, g, fsUUID)
}

func (walOps) Clear(d disk.Disk, g wal.Geometry, p wal.ClearParams) error {
	return wal.ClearLog(d, g, p)
}

// WalOps operates on the on-disk log.
var WalOps LogOps = walOps{}

type LogStatus int

const (
	LogClean               LogStatus = iota // nothing to replay, left alone
	LogCleanDestroyed                       // nothing to replay, cleared on request
	LogPendingIgnored                       // changes left in place by a dry run
	LogPendingDestroyed                     // changes discarded on request
	LogScanFailedIgnored                    // unreadable, left in place by a dry run
	LogScanFailedDestroyed                  // unreadable, cleared on request
)

func (s LogStatus) String() string {
	switch s {
	case LogClean:
		return "clean"
	case LogCleanDestroyed:
		return "clean, destroyed"
	case LogPendingIgnored:
		return "pending, ignored"
	case LogPendingDestroyed:
		return "pending, destroyed"
	case LogScanFailedIgnored:
		return "unreadable, ignored"
	case LogScanFailedDestroyed:
		return "unreadable, destroyed"
	}
	return fmt.Sprintf("LogStatus(%d)", int(s))
}

// Zeroer finds the log's head and tail and, when told to, destroys it.
type Zeroer struct {
	opts Options
	rep  *Reporter
	ops  LogOps
}

func MkZeroer(opts Options, rep *Reporter, ops LogOps) *Zeroer {
	if ops == nil {
		ops = WalOps
	}
	return &Zeroer{opts: opts, rep: rep, ops: ops}
}

func (z *Zeroer) destroy() bool {
	return !z.opts.NoModify && z.opts.ZapLog
}

// ZeroLog checks the log of mp. Without -L a log that cannot be scanned
// or holds changes is fatal, unless this is a dry run. With -L (and not a
// dry run) the log is cleared and must scan clean afterwards. On a
// checksummed filesystem the last synced LSN seeds mp's max LSN.
func (z *Zeroer) ZeroLog(mp *mount.Mount) (*wal.State, LogStatus, error) {
	if mp.LogDev == nil {
		return nil, 0, fatal(StageConfig, EXIT_FATAL, ErrExternalLogNoDevice)
	}
	g, err := wal.ResolveGeometry(mp.LogGeometryParams())
	if err != nil {
		return nil, 0, fatal(StageLog, EXIT_LOG, err)
	}
	st := wal.MkState(g)
	d := mp.LogDev.Disk

	status := LogClean
	t, err := z.ops.FindTail(d, g, mp.Sb.UUID)
	if err != nil {
		z.rep.Warn("zero_log: cannot find log head/tail (%v)\n", err)
		if !z.opts.NoModify && !z.opts.ZapLog {
			z.rep.Warn("ERROR: The log head and/or tail cannot be discovered. " +
				"Attempt to mount the\nfilesystem to replay the log or use the " +
				"-L option to destroy the log and\nattempt a repair.\n")
			return nil, 0, fatal(StageLog, EXIT_LOG, fmt.Errorf("%w: %v", ErrLogScan, err))
		}
		status = LogScanFailedIgnored
		if z.destroy() {
			status = LogScanFailedDestroyed
		}
	} else {
		st.Update(t)
		if z.opts.Verbose > 0 {
			z.rep.Log("zero_log: head block %d tail block %d\n", st.HeadBlk, st.TailBlk)
		}
		if !st.Clean() {
			switch {
			case z.destroy():
				z.rep.Warn("ALERT: The filesystem has valuable metadata changes in a " +
					"log which is being\ndestroyed because the -L option was used.\n")
				status = LogPendingDestroyed
			case z.opts.NoModify:
				z.rep.Warn("ALERT: The filesystem has valuable metadata changes in a " +
					"log which is being\nignored because the -n option was used.  " +
					"Expect spurious inconsistencies\nwhich may be resolved by first " +
					"mounting the filesystem to replay the log.\n")
				status = LogPendingIgnored
			default:
				z.rep.Warn("ERROR: The filesystem has valuable metadata changes in a " +
					"log which needs to\nbe replayed.  Mount the filesystem to replay " +
					"the log, and unmount it before\nre-running repair.  If you are " +
					"unable to mount the filesystem, then use\nthe -L option to " +
					"destroy the log and attempt a repair.\nNote that destroying the " +
					"log may cause corruption -- please attempt a mount\nof the " +
					"filesystem before doing this.\n")
				return nil, 0, fatal(StageLog, EXIT_LOG, fmt.Errorf("%w: head %d tail %d",
					ErrLogPending, st.HeadBlk, st.TailBlk))
			}
		} else if z.destroy() {
			status = LogCleanDestroyed
		}
	}

	if z.destroy() {
		if err := z.clear(mp, st); err != nil {
			return nil, 0, err
		}
	}

	if mp.Sb.HasCRC() {
		mp.SetMaxLSN(st.LastSyncLSN)
	}
	util.DPrintf(1, "ZeroLog: %v head %d tail %d lsn %v\n", status,
		st.HeadBlk, st.TailBlk, st.LastSyncLSN)
	return st, status, nil
}

// clear destroys the log and checks that a fresh scan finds it empty.
func (z *Zeroer) clear(mp *mount.Mount, st *wal.State) error {
	d := mp.LogDev.Disk
	err := z.ops.Clear(d, st.Geo, wal.ClearParams{
		UUID:    mp.Sb.UUID,
		Version: st.Geo.Version,
		SUnit:   mp.Sb.Logsunit,
		Fmt:     wal.FMT_LINUX,
		Cycle:   wal.INIT_CYCLE,
	})
	if err != nil {
		return fatal(StageLog, EXIT_LOG, fmt.Errorf("%w: %v", ErrLogClearFailed, err))
	}
	t, err := z.ops.FindTail(d, st.Geo, mp.Sb.UUID)
	if err != nil {
		return fatal(StageLog, EXIT_LOG, fmt.Errorf("%w: rescan: %v", ErrLogClearFailed, err))
	}
	if t.Head != t.Tail {
		return fatal(StageLog, EXIT_LOG, fmt.Errorf("%w: head %d tail %d after clear",
			ErrLogClearFailed, t.Head, t.Tail))
	}
	st.Update(t)
	return nil
}
