package repair

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/disk"
	"github.com/mit-pdos/go-fsrepair/incore"
	"github.com/mit-pdos/go-fsrepair/mkfs"
	"github.com/mit-pdos/go-fsrepair/mount"
	"github.com/mit-pdos/go-fsrepair/scan"
	"github.com/mit-pdos/go-fsrepair/super"
	"github.com/mit-pdos/go-fsrepair/wal"
)

// fakeLog replays canned scan results and counts clears.
type fakeLog struct {
	tails  []wal.Tail
	errs   []error
	scans  int
	clears []wal.ClearParams
}

func (f *fakeLog) FindTail(d disk.Disk, g wal.Geometry, fsUUID uuid.UUID) (wal.Tail, error) {
	i := f.scans
	f.scans++
	if i < len(f.errs) && f.errs[i] != nil {
		return wal.Tail{}, f.errs[i]
	}
	if i < len(f.tails) {
		return f.tails[i], nil
	}
	return wal.Tail{}, nil
}

func (f *fakeLog) Clear(d disk.Disk, g wal.Geometry, p wal.ClearParams) error {
	f.clears = append(f.clears, p)
	return nil
}

func noScan(mp *mount.Mount, idx *incore.Index, threads int, w scan.Warner) error {
	return nil
}

type RepairSuite struct {
	suite.Suite
	p   mkfs.Params
	d   disk.Disk
	mp  *mount.Mount
	out *bytes.Buffer
	err *bytes.Buffer
}

func (suite *RepairSuite) SetupTest() {
	suite.p = mkfs.DefaultParams()
	suite.format()
}

func (suite *RepairSuite) format() {
	suite.d = disk.NewMemDisk(suite.p.Blocks())
	_, err := mkfs.Format(suite.d, nil, suite.p)
	suite.Require().NoError(err)
	suite.remount()
}

func (suite *RepairSuite) remount() {
	mp, err := mount.MkMount(suite.d, "data", nil, "")
	suite.Require().NoError(err)
	suite.mp = mp
	suite.out = new(bytes.Buffer)
	suite.err = new(bytes.Buffer)
}

func (suite *RepairSuite) phase2(opts Options, ops LogOps, scanner ScanFunc) *Phase2 {
	if opts.ScanThreads == 0 {
		opts.ScanThreads = 2
	}
	return MkPhase2(opts, MkReporter(suite.out, suite.err), ops, scanner)
}

func (suite *RepairSuite) superBytes() []byte {
	b, err := disk.ReadBytes(suite.d, 0, common.BBSIZE)
	suite.Require().NoError(err)
	return b
}

func TestRepair(t *testing.T) {
	suite.Run(t, new(RepairSuite))
}

func (suite *RepairSuite) TestCleanLog() {
	log := &fakeLog{tails: []wal.Tail{{Head: 500, Tail: 500}}}
	p := suite.phase2(Options{}, log, nil)
	suite.Require().NoError(p.Run(suite.mp))

	suite.Equal(Done, p.State())
	suite.Equal(LogClean, p.LogStatus)
	suite.Empty(log.clears)
	suite.Equal(uint64(500), p.Log.HeadBlk)
	suite.Equal(uint64(500), p.Log.TailBlk)
	suite.Contains(suite.out.String(), "Phase 2 - using internal log")
	suite.Contains(suite.out.String(), "found root inode chunk")
	suite.Empty(suite.err.String())
}

func (suite *RepairSuite) TestZapPendingLog() {
	log := &fakeLog{tails: []wal.Tail{{Head: 500, Tail: 200}, {Head: 0, Tail: 0}}}
	p := suite.phase2(Options{ZapLog: true}, log, nil)
	suite.Require().NoError(p.Run(suite.mp))

	suite.Equal(Done, p.State())
	suite.Equal(LogPendingDestroyed, p.LogStatus)
	suite.Require().Len(log.clears, 1)
	suite.Equal(wal.INIT_CYCLE, log.clears[0].Cycle)
	suite.Equal(suite.mp.Sb.UUID, log.clears[0].UUID)
	suite.Equal(2, log.scans)
	suite.True(p.Log.Clean())
	suite.Contains(suite.err.String(), "being\ndestroyed because the -L option was used")
}

func (suite *RepairSuite) TestZapCleanLog() {
	p := suite.phase2(Options{ZapLog: true}, nil, nil)
	suite.Require().NoError(p.Run(suite.mp))
	suite.Equal(LogCleanDestroyed, p.LogStatus)

	g, err := wal.ResolveGeometry(suite.mp.LogGeometryParams())
	suite.Require().NoError(err)
	tail, err := wal.FindTail(suite.d, g, suite.mp.Sb.UUID)
	suite.Require().NoError(err)
	suite.Equal(tail.Head, tail.Tail)
}

func (suite *RepairSuite) TestClearStillDirty() {
	log := &fakeLog{tails: []wal.Tail{{Head: 500, Tail: 200}, {Head: 9, Tail: 1}}}
	p := suite.phase2(Options{ZapLog: true}, log, nil)
	err := p.Run(suite.mp)
	suite.ErrorIs(err, ErrLogClearFailed)
	suite.Equal(EXIT_LOG, ExitCode(err))
	suite.Equal(LogResolved, p.State())
}

func (suite *RepairSuite) TestPendingLogFatal() {
	log := &fakeLog{tails: []wal.Tail{{Head: 500, Tail: 200}}}
	p := suite.phase2(Options{}, log, nil)
	err := p.Run(suite.mp)
	suite.ErrorIs(err, ErrLogPending)
	suite.Equal(EXIT_LOG, ExitCode(err))
	suite.Equal(LogResolved, p.State())
	suite.Empty(log.clears)
	suite.Contains(suite.err.String(), "needs to\nbe replayed")
}

func (suite *RepairSuite) TestPendingLogDryRun() {
	before := suite.superBytes()
	log := &fakeLog{tails: []wal.Tail{{Head: 500, Tail: 200}}}
	p := suite.phase2(Options{NoModify: true, ZapLog: true}, log, nil)
	suite.Require().NoError(p.Run(suite.mp))
	suite.Equal(LogPendingIgnored, p.LogStatus)
	suite.Empty(log.clears)
	suite.Equal(before, suite.superBytes())
	suite.Contains(suite.err.String(), "ignored because the -n option was used")
}

func (suite *RepairSuite) TestLogScanError() {
	boom := errors.New("bad cycle")

	log := &fakeLog{errs: []error{boom}}
	p := suite.phase2(Options{}, log, nil)
	err := p.Run(suite.mp)
	suite.ErrorIs(err, ErrLogScan)
	suite.Equal(EXIT_LOG, ExitCode(err))

	suite.remount()
	log = &fakeLog{errs: []error{boom}}
	p = suite.phase2(Options{NoModify: true}, log, nil)
	suite.Require().NoError(p.Run(suite.mp))
	suite.Equal(LogScanFailedIgnored, p.LogStatus)
	suite.Empty(log.clears)

	suite.remount()
	log = &fakeLog{errs: []error{boom}}
	p = suite.phase2(Options{ZapLog: true}, log, nil)
	suite.Require().NoError(p.Run(suite.mp))
	suite.Equal(LogScanFailedDestroyed, p.LogStatus)
	suite.Len(log.clears, 1)
}

func (suite *RepairSuite) TestMaxLSNSeeded() {
	lsn := wal.MkLSN(3, 40)
	log := &fakeLog{tails: []wal.Tail{{Head: 40, Tail: 40, LastSyncLSN: lsn}}}
	p := suite.phase2(Options{}, log, nil)
	suite.Require().NoError(p.Run(suite.mp))
	suite.Equal(lsn, suite.mp.MaxLSN())
}

func (suite *RepairSuite) TestMaxLSNNotSeededV4() {
	suite.p.V5 = false
	suite.p.Finobt = false
	suite.format()
	log := &fakeLog{tails: []wal.Tail{{Head: 40, Tail: 40, LastSyncLSN: wal.MkLSN(3, 40)}}}
	p := suite.phase2(Options{}, log, nil)
	suite.Require().NoError(p.Run(suite.mp))
	suite.Equal(wal.LSN(0), suite.mp.MaxLSN())
}

func (suite *RepairSuite) TestExternalLogNoDevice() {
	suite.p.ExternalLog = true
	suite.d = disk.NewMemDisk(suite.p.Blocks())
	_, err := mkfs.Format(suite.d, disk.NewMemDisk(suite.p.Logblocks), suite.p)
	suite.Require().NoError(err)
	suite.remount()

	p := suite.phase2(Options{}, nil, nil)
	err = p.Run(suite.mp)
	suite.ErrorIs(err, ErrExternalLogNoDevice)
	suite.Equal(EXIT_FATAL, ExitCode(err))
	suite.Equal(Start, p.State())
}

func (suite *RepairSuite) TestRunOnce() {
	p := suite.phase2(Options{}, nil, nil)
	suite.Require().NoError(p.Run(suite.mp))
	suite.Error(p.Run(suite.mp))
}

func (suite *RepairSuite) TestBigtimeOnV4() {
	suite.p.V5 = false
	suite.p.Finobt = false
	suite.format()
	before := suite.superBytes()

	p := suite.phase2(Options{AddBigtime: true}, nil, nil)
	err := p.Run(suite.mp)
	var noop *NoopError
	suite.Require().True(errors.As(err, &noop))
	suite.Equal("Large timestamp feature only supported on V5 filesystems.", noop.Msg)
	suite.Equal(EXIT_OK, ExitCode(err))
	suite.Equal(RootChecked, p.State())
	suite.Equal(before, suite.superBytes())
}

func (suite *RepairSuite) TestUpgradeNoops() {
	p := suite.phase2(Options{AddInobtCount: true}, nil, nil)
	suite.mp.Sb.FeaturesRoCompat |= super.FEAT_RO_COMPAT_INOBTCNT
	err := p.Run(suite.mp)
	suite.EqualError(err, "Filesystem already has inode btree counts.")

	suite.remount()
	suite.mp.Sb.FeaturesRoCompat &^= super.FEAT_RO_COMPAT_FINOBT
	p = suite.phase2(Options{AddInobtCount: true}, nil, nil)
	err = p.Run(suite.mp)
	suite.EqualError(err, "Inode btree count feature requires free inode btree.")

	suite.remount()
	suite.mp.Sb.FeaturesIncompat |= super.FEAT_INCOMPAT_BIGTIME
	p = suite.phase2(Options{AddBigtime: true}, nil, nil)
	err = p.Run(suite.mp)
	suite.EqualError(err, "Filesystem already supports large timestamps.")
	suite.Equal(EXIT_OK, ExitCode(err))
}

func (suite *RepairSuite) TestUpgradeWritesSuper() {
	p := suite.phase2(Options{AddInobtCount: true, AddBigtime: true}, nil, nil)
	suite.Require().NoError(p.Run(suite.mp))
	suite.Contains(suite.out.String(), "Adding inode btree counts to filesystem.")
	suite.Contains(suite.out.String(), "Adding large timestamp support to filesystem.")

	sb, err := mount.ReadSuper(suite.d)
	suite.Require().NoError(err)
	suite.True(sb.HasInobtCounts())
	suite.True(sb.HasBigtime())
	suite.True(sb.HasNeedsRepair())
}

func (suite *RepairSuite) TestUpgradeDryRun() {
	before := suite.superBytes()
	p := suite.phase2(Options{NoModify: true, AddBigtime: true}, nil, nil)
	suite.Require().NoError(p.Run(suite.mp))
	suite.True(suite.mp.Sb.HasBigtime())
	suite.Equal(before, suite.superBytes())
}

func (suite *RepairSuite) TestUpgradeKeepsRestOfSector() {
	suite.Require().NoError(disk.WriteBytes(suite.d, 4000, []byte{0xa5}))
	suite.remount()
	suite.mp.Sb.Sectsize = disk.BlockSize
	suite.mp.Sb.Sectlog = 12

	p := suite.phase2(Options{AddBigtime: true}, nil, nil)
	suite.Require().NoError(p.Run(suite.mp))

	b, err := disk.ReadBytes(suite.d, 4000, 1)
	suite.Require().NoError(err)
	suite.Equal(byte(0xa5), b[0])
	sb, err := mount.ReadSuper(suite.d)
	suite.Require().NoError(err)
	suite.True(sb.HasBigtime())
	suite.Equal(uint64(disk.BlockSize), sb.Sectsize)
}

func (suite *RepairSuite) TestUpgradeSectorTooSmall() {
	before := suite.superBytes()
	suite.mp.Sb.Sectsize = 0
	p := suite.phase2(Options{AddBigtime: true}, nil, nil)
	err := p.Run(suite.mp)

	var fe *FatalError
	suite.Require().True(errors.As(err, &fe))
	suite.Equal(StageUpgrade, fe.Stage)
	suite.Equal(EXIT_FATAL, ExitCode(err))
	suite.Equal(RootChecked, p.State())
	suite.Equal(before, suite.superBytes())
}

func (suite *RepairSuite) TestRootBeyondAGCount() {
	sb := suite.mp.Sb
	sb.Rootino = sb.AginoToIno(common.Agnumber(sb.Agcount+3), 0)
	sb.Rbmino = sb.Rootino + 1
	sb.Rsumino = sb.Rootino + 2

	for _, scanner := range []ScanFunc{nil, noScan} {
		suite.out.Reset()
		suite.err.Reset()
		p := suite.phase2(Options{}, nil, scanner)
		var err error
		suite.NotPanics(func() { err = p.Run(suite.mp) })

		var fe *FatalError
		suite.Require().True(errors.As(err, &fe))
		suite.Equal(StageRoot, fe.Stage)
		suite.ErrorIs(err, ErrRootOutsideFS)
		suite.Equal(EXIT_FATAL, ExitCode(err))
		suite.Equal(AGsScanned, p.State())
	}
}

func (suite *RepairSuite) TestRootChunkMissing() {
	p := suite.phase2(Options{}, nil, noScan)
	suite.Require().NoError(p.Run(suite.mp))
	suite.Contains(suite.err.String(), "root inode chunk not found")

	sb := suite.mp.Sb
	rec := p.Index.FindInodeRec(0, sb.InoToAgino(sb.Rootino))
	suite.Require().NotNil(rec)
	for slot := uint64(0); slot < common.InodesPerChunk; slot++ {
		suite.Equal(slot >= 3, rec.IsFree(slot), "slot %d", slot)
	}
	suite.Equal(incore.XR_E_INO, p.Index.GetBmap(0, mkfs.ROOT_CHUNK_AGBNO))
}

func (suite *RepairSuite) TestReservedInodesOutOfOrder() {
	suite.mp.Sb.Rsumino = suite.mp.Sb.Rootino + 5
	p := suite.phase2(Options{}, nil, noScan)
	err := p.Run(suite.mp)
	suite.ErrorIs(err, ErrReservedInodes)
	suite.Equal(EXIT_FATAL, ExitCode(err))
	suite.Equal(AGsScanned, p.State())
}

func freeRootChunk(mp *mount.Mount, idx *incore.Index, threads int, w scan.Warner) error {
	sb := mp.Sb
	return idx.AddInodeRec(0, incore.MkInoRec(sb.InoToAgino(sb.Rootino)))
}

func (suite *RepairSuite) TestReservedInodesFree() {
	p := suite.phase2(Options{}, nil, freeRootChunk)
	suite.Require().NoError(p.Run(suite.mp))
	suite.Equal(3, bytes.Count(suite.err.Bytes(), []byte("correcting")))
	rec := p.Index.FindInodeRec(0, suite.mp.Sb.InoToAgino(suite.mp.Sb.Rootino))
	suite.Require().NotNil(rec)
	suite.Equal(uint64(61), rec.FreeCount())
}

func (suite *RepairSuite) TestReservedInodesFreeDryRun() {
	p := suite.phase2(Options{NoModify: true}, nil, freeRootChunk)
	suite.Require().NoError(p.Run(suite.mp))
	suite.Equal(3, bytes.Count(suite.err.Bytes(), []byte("would correct")))
	rec := p.Index.FindInodeRec(0, suite.mp.Sb.InoToAgino(suite.mp.Sb.Rootino))
	suite.Require().NotNil(rec)
	suite.Equal(common.InodesPerChunk, rec.FreeCount())
}

func TestFabricateRootRec(t *testing.T) {
	for _, tc := range []struct {
		name     string
		agino    common.Agino
		startino common.Agino
		used     []uint64
		err      error
	}{
		{"chunk aligned", 128, 128, []uint64{0, 1, 2}, nil},
		{"inside chunk", 130, 128, []uint64{2, 3, 4}, nil},
		{"last fit", 189, 128, []uint64{61, 62, 63}, nil},
		{"past chunk end", 190, 0, nil, ErrReservedInodes},
		{"last slot", 191, 0, nil, ErrReservedInodes},
	} {
		idx := incore.MkIndex(1, 256)
		rec, err := fabricateRootRec(idx, 0, tc.agino)
		if tc.err != nil {
			assert.ErrorIs(t, err, tc.err, tc.name)
			assert.Nil(t, rec, tc.name)
			assert.Empty(t, idx.InodeRecs(0), tc.name)
			continue
		}
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.startino, rec.Startino, tc.name)
		assert.Same(t, rec, idx.FindInodeRec(0, tc.agino), tc.name)
		assert.Equal(t, common.InodesPerChunk-3, rec.FreeCount(), tc.name)
		for _, slot := range tc.used {
			assert.False(t, rec.IsFree(slot), "%s: slot %d", tc.name, slot)
		}
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, EXIT_OK, ExitCode(nil))
	assert.Equal(t, EXIT_OK, ExitCode(&NoopError{Msg: "x"}))
	assert.Equal(t, EXIT_LOG, ExitCode(fatal(StageLog, EXIT_LOG, ErrLogPending)))
	assert.Equal(t, EXIT_FATAL, ExitCode(errors.New("other")))

	err := fatal(StageRoot, EXIT_FATAL, ErrReservedInodes)
	assert.ErrorIs(t, err, ErrReservedInodes)
	assert.Equal(t, "root inode chunk: "+ErrReservedInodes.Error(), err.Error())
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "pending, destroyed", LogPendingDestroyed.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "State(42)", State(42).String())
	require.Equal(t, "LogStatus(42)", LogStatus(42).String())
}
