package txn

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-fsrepair/addr"
	"github.com/mit-pdos/go-fsrepair/buf"
	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/mount"
	"github.com/mit-pdos/go-fsrepair/util"
)

//
// A transaction collects the buffers and inodes one unit of work touches,
// with the log items tracking what it changed. Buffers stay held until the
// transaction commits or is cancelled. Commit writes changed buffers in
// place; there is no logging of its own at this stage of repair.
//
// A Trans belongs to one goroutine. Different goroutines may run their own
// transactions concurrently as long as they touch disjoint buffers and
// inodes.
//

var ErrMapCountMismatch = errors.New("buffer map count mismatch")

type Trans struct {
	mp     *mount.Mount
	items  []LogItem   // in the order they joined
	bufs   *buf.BufMap // held buffers by key
	inodes map[common.Inum]InodeOwner
}

func Alloc(mp *mount.Mount) *Trans {
	tp := &Trans{
		mp:     mp,
		items:  make([]LogItem, 0),
		bufs:   buf.MkBufMap(),
		inodes: make(map[common.Inum]InodeOwner),
	}
	util.DPrintf(5, "trans alloc %p\n", tp)
	return tp
}

func (tp *Trans) Mount() *mount.Mount {
	return tp.mp
}

// Items lists the transaction's log items in join order.
func (tp *Trans) Items() []LogItem {
	return tp.items
}

// BufItemMatch returns the buffer already in tp that covers the same
// device, start address and total length as maps, or nil. A buffer that
// matches but is split into a different number of segments is an error.
func (tp *Trans) BufItemMatch(t *buf.Target, maps []addr.Map) (*buf.Buf, error) {
	bp := tp.bufs.Lookup(addr.MkKey(t.Dev, maps))
	if bp == nil {
		return nil, nil
	}
	if bp.MapCount() != len(maps) {
		return nil, fmt.Errorf("%w: buffer %v has %d maps, lookup has %d",
			ErrMapCountMismatch, bp.Key(), bp.MapCount(), len(maps))
	}
	return bp, nil
}

// ItemBuf looks up the buffer a buf log item belongs to, if tp holds it.
func (tp *Trans) ItemBuf(bip *BufLogItem) *buf.Buf {
	return tp.bufs.Lookup(bip.owner)
}

// GetBuf returns the held buffer for maps without reading it, joined to tp.
func (tp *Trans) GetBuf(t *buf.Target, maps []addr.Map) (*buf.Buf, error) {
	bp, err := tp.BufItemMatch(t, maps)
	if err != nil || bp != nil {
		return bp, err
	}
	bp = tp.mp.Cache.Get(t, maps)
	tp.Bjoin(bp)
	return bp, nil
}

// ReadBuf returns the held buffer for maps with its contents loaded,
// joined to tp.
func (tp *Trans) ReadBuf(t *buf.Target, maps []addr.Map) (*buf.Buf, error) {
	bp, err := tp.BufItemMatch(t, maps)
	if err != nil {
		return nil, err
	}
	if bp != nil {
		// a logged buffer holds the caller's changes; never reread it
		if bip := bufItem(bp); bip != nil && bip.IsDirty() {
			return bp, nil
		}
		return bp, tp.mp.Cache.Load(bp)
	}
	bp, err = tp.mp.Cache.Read(t, maps)
	if err != nil {
		return nil, err
	}
	tp.Bjoin(bp)
	return bp, nil
}

// Bjoin adds a held buffer to tp, attaching its log item.
func (tp *Trans) Bjoin(bp *buf.Buf) {
	bip := BufItemInit(bp, tp.mp)
	tp.bufs.Insert(bp)
	tp.items = append(tp.items, bip)
}

// LogBuf marks bytes first through last of a joined buffer as changed.
func (tp *Trans) LogBuf(bp *buf.Buf, first, last uint64) {
	bip := bufItem(bp)
	if bip == nil || tp.bufs.Lookup(bp.Key()) != bp {
		panic("LogBuf: buffer not joined")
	}
	bip.Log(first, last)
}

// Ijoin adds an inode with a log item to tp.
func (tp *Trans) Ijoin(ip InodeOwner) error {
	iip := ip.LogItem()
	if iip == nil {
		return fmt.Errorf("inode %d has no log item", ip.Ino())
	}
	if iip.tp == tp {
		return nil
	}
	if iip.tp != nil {
		return fmt.Errorf("%w: inode %d", ErrInodeJoined, ip.Ino())
	}
	iip.tp = tp
	tp.inodes[ip.Ino()] = ip
	tp.items = append(tp.items, iip)
	return nil
}

// LogInode marks fields of a joined inode as changed.
func (tp *Trans) LogInode(ip InodeOwner, fields uint32) {
	iip := ip.LogItem()
	if iip == nil || iip.tp != tp {
		panic("LogInode: inode not joined")
	}
	iip.Fields |= fields
}

// Commit flushes changed inodes into their buffers, writes every changed
// buffer and waits for the devices. All buffers are released, even on
// error.
func (tp *Trans) Commit() error {
	err := tp.commit()
	tp.release(err != nil)
	return err
}

func (tp *Trans) commit() error {
	for _, it := range tp.items {
		iip, ok := it.(*InodeLogItem)
		if !ok || !iip.IsDirty() {
			continue
		}
		if err := tp.inodes[iip.ino].Flush(tp); err != nil {
			return fmt.Errorf("flush inode %d: %w", iip.ino, err)
		}
		iip.Fields = 0
	}

	targets := make(map[uint64]*buf.Target)
	nwritten := 0
	for _, bp := range tp.bufs.Bufs() {
		bip := bufItem(bp)
		if bip == nil || !bip.IsDirty() {
			continue
		}
		if err := tp.mp.Cache.Write(bp); err != nil {
			return fmt.Errorf("write buffer %v: %w", bp.Key(), err)
		}
		targets[bp.Target.Dev] = bp.Target
		nwritten++
	}
	for _, t := range targets {
		if err := t.Disk.Barrier(); err != nil {
			return fmt.Errorf("flush %s: %w", t.Name, err)
		}
	}
	util.DPrintf(5, "trans commit %p: %d bufs, %d written\n", tp,
		tp.bufs.Len(), nwritten)
	return nil
}

// Cancel releases everything tp holds without writing.
func (tp *Trans) Cancel() {
	util.DPrintf(5, "trans cancel %p\n", tp)
	tp.release(true)
}

// release detaches tp's log items and gives up its buffers. A buffer's
// log item goes away with the last hold on the buffer, and a transaction
// holds its buffers exclusively. With abort set, changed buffers are
// dropped from the cache so their unwritten contents are not seen again.
func (tp *Trans) release(abort bool) {
	for _, bp := range tp.bufs.Bufs() {
		bip := bufItem(bp)
		if bip != nil {
			bp.DelItem(bip)
		}
		tp.bufs.Del(bp.Key())
		if abort && bip != nil && bip.IsDirty() {
			tp.mp.Cache.Purge(bp)
		} else {
			tp.mp.Cache.Release(bp)
		}
	}
	for ino, ip := range tp.inodes {
		ip.LogItem().tp = nil
		delete(tp.inodes, ino)
	}
	tp.items = tp.items[:0]
}
