package txn

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-fsrepair/addr"
	"github.com/mit-pdos/go-fsrepair/buf"
	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/disk"
	"github.com/mit-pdos/go-fsrepair/mount"
	"github.com/mit-pdos/go-fsrepair/super"
)

func mkTestMount(t *testing.T) *mount.Mount {
	d := disk.NewMemDisk(256)
	sb := &super.Superblock{
		Magic:      super.MAGIC,
		Blocksize:  disk.BlockSize,
		Dblocks:    256,
		UUID:       uuid.New(),
		Logstart:   24,
		Rootino:    128,
		Agblocks:   256,
		Agcount:    1,
		Logblocks:  32,
		Versionnum: super.VERSION_5 | super.VERSION_LOGV2BIT,
		Sectsize:   common.BBSIZE,
		Inodesize:  common.INODESZ,
		Inopblock:  disk.BlockSize / common.INODESZ,
		Blocklog:   12,
		Sectlog:    common.BBSHIFT,
		Inodelog:   9,
		Inopblog:   3,
		Agblklog:   8,
		Logsectlog: common.BBSHIFT,
		Logsectsz:  common.BBSIZE,
	}
	require.NoError(t, disk.WriteBytes(d, 0, sb.Encode()))
	mp, err := mount.MkMount(d, "data", nil, "")
	require.NoError(t, err)
	return mp
}

func blockMaps(blk uint64) []addr.Map {
	return []addr.Map{addr.MkMap(blk*8, 8)}
}

func readBlock(t *testing.T, mp *mount.Mount, blk uint64) disk.Block {
	b, err := mp.DDev.Disk.Read(blk)
	require.NoError(t, err)
	return b
}

type testInode struct {
	ino     common.Inum
	itemp   *InodeLogItem
	flushes int
	err     error
}

func (ip *testInode) Ino() common.Inum { return ip.ino }
func (ip *testInode) LogItem() *InodeLogItem { return ip.itemp }
func (ip *testInode) SetLogItem(iip *InodeLogItem) { ip.itemp = iip }
func (ip *testInode) Flush(tp *Trans) error {
	ip.flushes++
	return ip.err
}

func TestBufItemInitReuses(t *testing.T) {
	mp := mkTestMount(t)
	tp := Alloc(mp)
	bp, err := tp.GetBuf(mp.DDev, blockMaps(10))
	require.NoError(t, err)

	bip := bufItem(bp)
	require.NotNil(t, bip)
	assert.Equal(t, LI_BUF, bip.Type())
	assert.Equal(t, common.Daddr(80), bip.Format.Blkno)
	assert.Equal(t, uint64(8), bip.Format.Len)
	assert.Equal(t, bp.Key(), bip.Owner())
	assert.Same(t, mp, bip.Mount())

	tp.LogBuf(bp, 0, 99)
	again := BufItemInit(bp, mp)
	assert.Same(t, bip, again)
	assert.True(t, again.IsDirty())
	assert.Len(t, bp.Items(), 1)
	tp.Cancel()
	assert.Empty(t, bp.Items())
}

type tagItem struct{}

func (tagItem) Type() buf.ItemType { return 0x99 }

func TestBufItemInitBehindOtherItem(t *testing.T) {
	mp := mkTestMount(t)
	tp := Alloc(mp)
	bp, err := tp.GetBuf(mp.DDev, blockMaps(11))
	require.NoError(t, err)
	bip := bufItem(bp)
	require.NotNil(t, bip)

	tag := tagItem{}
	bp.PushItem(tag)
	assert.Equal(t, tag, bp.LogItem())

	again := BufItemInit(bp, mp)
	assert.Same(t, bip, again)
	n := 0
	for _, it := range bp.Items() {
		if _, ok := it.(*BufLogItem); ok {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Len(t, bp.Items(), 2)

	tp.LogBuf(bp, 0, 7)
	assert.True(t, bip.IsDirty())
	tp.Cancel()
	assert.Equal(t, []buf.Item{tag}, bp.Items())
}

func TestBufItemMatch(t *testing.T) {
	mp := mkTestMount(t)
	tp := Alloc(mp)
	defer tp.Cancel()

	none, err := tp.BufItemMatch(mp.DDev, blockMaps(10))
	assert.NoError(t, err)
	assert.Nil(t, none)

	bp, err := tp.GetBuf(mp.DDev, blockMaps(10))
	require.NoError(t, err)
	m, err := tp.BufItemMatch(mp.DDev, blockMaps(10))
	assert.NoError(t, err)
	assert.Same(t, bp, m)

	// same start, different length
	m, err = tp.BufItemMatch(mp.DDev, []addr.Map{addr.MkMap(80, 4)})
	assert.NoError(t, err)
	assert.Nil(t, m)

	// same range on another device
	other := *mp.DDev
	other.Dev = mount.DEV_LOG
	m, err = tp.BufItemMatch(&other, blockMaps(10))
	assert.NoError(t, err)
	assert.Nil(t, m)

	// same key, split differently
	_, err = tp.BufItemMatch(mp.DDev, []addr.Map{addr.MkMap(80, 4), addr.MkMap(200, 4)})
	assert.ErrorIs(t, err, ErrMapCountMismatch)

	// a second GetBuf returns the held buffer instead of blocking
	again, err := tp.GetBuf(mp.DDev, blockMaps(10))
	assert.NoError(t, err)
	assert.Same(t, bp, again)
	assert.Len(t, tp.Items(), 1)
	assert.Same(t, bp, tp.ItemBuf(bufItem(bp)))
}

func TestCommitWritesDirtyOnly(t *testing.T) {
	mp := mkTestMount(t)
	tp := Alloc(mp)
	a, err := tp.GetBuf(mp.DDev, blockMaps(10))
	require.NoError(t, err)
	b, err := tp.ReadBuf(mp.DDev, blockMaps(11))
	require.NoError(t, err)
	a.Data[0] = 0xaa
	b.Data[0] = 0xbb
	tp.LogBuf(a, 0, 0)
	require.NoError(t, tp.Commit())

	assert.Equal(t, byte(0xaa), readBlock(t, mp, 10)[0])
	assert.Equal(t, byte(0), readBlock(t, mp, 11)[0])
	assert.Empty(t, tp.Items())
	assert.Empty(t, a.Items())
}

func TestReadBufKeepsLoggedChanges(t *testing.T) {
	mp := mkTestMount(t)
	tp := Alloc(mp)
	defer tp.Cancel()
	bp, err := tp.GetBuf(mp.DDev, blockMaps(12))
	require.NoError(t, err)
	bp.Data[7] = 7
	tp.LogBuf(bp, 7, 7)

	again, err := tp.ReadBuf(mp.DDev, blockMaps(12))
	require.NoError(t, err)
	assert.Same(t, bp, again)
	assert.Equal(t, byte(7), again.Data[7])
}

func TestCancelPurgesDirty(t *testing.T) {
	mp := mkTestMount(t)
	tp := Alloc(mp)
	bp, err := tp.GetBuf(mp.DDev, blockMaps(10))
	require.NoError(t, err)
	bp.Data[0] = 0xaa
	tp.LogBuf(bp, 0, 0)
	tp.Cancel()

	assert.Equal(t, byte(0), readBlock(t, mp, 10)[0])
	tp = Alloc(mp)
	bp, err = tp.ReadBuf(mp.DDev, blockMaps(10))
	require.NoError(t, err)
	assert.Equal(t, byte(0), bp.Data[0])
	tp.Cancel()
}

func TestLogBufNotJoined(t *testing.T) {
	mp := mkTestMount(t)
	tp := Alloc(mp)
	bp := mp.Cache.Get(mp.DDev, blockMaps(10))
	assert.Panics(t, func() { tp.LogBuf(bp, 0, 0) })
	mp.Cache.Release(bp)
}

func TestInodeItem(t *testing.T) {
	mp := mkTestMount(t)
	ip := &testInode{ino: 128}

	iip, err := InodeItemInit(ip, mp)
	require.NoError(t, err)
	assert.Equal(t, LI_INODE, iip.Type())
	assert.Equal(t, common.Inum(128), iip.Ino())
	assert.Same(t, iip, ip.LogItem())
	_, err = InodeItemInit(ip, mp)
	assert.ErrorIs(t, err, ErrInodeItemExists)

	tp := Alloc(mp)
	require.NoError(t, tp.Ijoin(ip))
	require.NoError(t, tp.Ijoin(ip))
	assert.Len(t, tp.Items(), 1)
	assert.Same(t, tp, iip.Trans())

	tp2 := Alloc(mp)
	assert.ErrorIs(t, tp2.Ijoin(ip), ErrInodeJoined)

	tp.LogInode(ip, ILOG_CORE)
	assert.True(t, iip.IsDirty())
	require.NoError(t, tp.Commit())
	assert.Equal(t, 1, ip.flushes)
	assert.False(t, iip.IsDirty())
	assert.Nil(t, iip.Trans())

	// clean inodes are not flushed
	require.NoError(t, tp2.Ijoin(ip))
	require.NoError(t, tp2.Commit())
	assert.Equal(t, 1, ip.flushes)

	bare := &testInode{ino: 129}
	assert.Error(t, Alloc(mp).Ijoin(bare))
	assert.Panics(t, func() { Alloc(mp).LogInode(ip, ILOG_CORE) })
}

func TestCommitFlushError(t *testing.T) {
	mp := mkTestMount(t)
	boom := errors.New("boom")
	ip := &testInode{ino: 128, err: boom}
	_, err := InodeItemInit(ip, mp)
	require.NoError(t, err)

	tp := Alloc(mp)
	bp, err := tp.GetBuf(mp.DDev, blockMaps(10))
	require.NoError(t, err)
	bp.Data[0] = 1
	tp.LogBuf(bp, 0, 0)
	require.NoError(t, tp.Ijoin(ip))
	tp.LogInode(ip, ILOG_CORE)

	err = tp.Commit()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, byte(0), readBlock(t, mp, 10)[0])
	assert.Nil(t, ip.LogItem().Trans())
}

func TestConcurrentTransactions(t *testing.T) {
	mp := mkTestMount(t)
	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tp := Alloc(mp)
			bp, err := tp.ReadBuf(mp.DDev, blockMaps(uint64(100+i)))
			if err != nil {
				tp.Cancel()
				errs[i] = err
				return
			}
			bp.Data[0] = byte(i + 1)
			tp.LogBuf(bp, 0, 0)
			errs[i] = tp.Commit()
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, byte(i+1), readBlock(t, mp, uint64(100+i))[0])
	}
}
