package txn

import (
	"errors"

	"github.com/mit-pdos/go-fsrepair/addr"
	"github.com/mit-pdos/go-fsrepair/buf"
	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/mount"
	"github.com/mit-pdos/go-fsrepair/util"
)

const (
	LI_INODE buf.ItemType = 0x123b
	LI_BUF   buf.ItemType = 0x123c
)

// buf log item flags
const (
	BliDirty uint32 = 1 << 0
)

var (
	ErrInodeItemExists = errors.New("inode already has a log item")
	ErrInodeJoined     = errors.New("inode joined to another transaction")
)

// A LogItem records pending metadata changes to one buffer or inode.
type LogItem interface {
	buf.Item
	Mount() *mount.Mount
}

type logItem struct {
	typ buf.ItemType
	mp  *mount.Mount
}

func (li *logItem) Type() buf.ItemType {
	return li.typ
}

func (li *logItem) Mount() *mount.Mount {
	return li.mp
}

// BufFormat describes the buffer range the item covers.
type BufFormat struct {
	Type  buf.ItemType
	Blkno common.Daddr
	Len   uint64 // basic blocks
}

// BufLogItem tracks pending changes to one buffer. It names its buffer by
// key; the buffer owns the item through its item chain.
type BufLogItem struct {
	logItem
	Format BufFormat
	Flags  uint32
	owner  addr.Key
}

// Owner is the key of the buffer the item belongs to.
func (bip *BufLogItem) Owner() addr.Key {
	return bip.owner
}

// Log marks bytes first through last of the buffer as changed. Dirtiness
// is tracked for the whole buffer, not per range; once set it stays set
// for the life of the item.
func (bip *BufLogItem) Log(first, last uint64) {
	util.DPrintf(10, "buf item %v log [%d, %d]\n", bip.owner, first, last)
	bip.Flags |= BliDirty
}

func (bip *BufLogItem) IsDirty() bool {
	return bip.Flags&BliDirty != 0
}

// BufItemInit returns the buffer's log item, creating it if the buffer
// has none. An existing buf log item anywhere in the item chain is
// returned as is, whatever range it records.
func BufItemInit(bp *buf.Buf, mp *mount.Mount) *BufLogItem {
	if bip := bufItem(bp); bip != nil {
		util.DPrintf(10, "reuse buf item for %v\n", bp.Key())
		return bip
	}
	bip := &BufLogItem{
		logItem: logItem{typ: LI_BUF, mp: mp},
		Format: BufFormat{
			Type:  LI_BUF,
			Blkno: bp.Daddr(),
			Len:   bp.Length,
		},
		owner: bp.Key(),
	}
	bp.PushItem(bip)
	util.DPrintf(10, "new buf item for %v\n", bp.Key())
	return bip
}

// bufItem returns the buf log item attached to bp, or nil.
func bufItem(bp *buf.Buf) *BufLogItem {
	for _, li := range bp.Items() {
		if bip, ok := li.(*BufLogItem); ok {
			return bip
		}
	}
	return nil
}

// Inode field flags for InodeLogItem.Fields.
const (
	ILOG_CORE uint32 = 1 << 0
)

// An InodeOwner is an in-core inode that can carry a log item.
type InodeOwner interface {
	Ino() common.Inum
	LogItem() *InodeLogItem
	SetLogItem(iip *InodeLogItem)
	// Flush writes the in-core inode into its cluster buffer within tp.
	Flush(tp *Trans) error
}

// InodeLogItem tracks pending changes to one in-core inode. The inode owns
// the item; the item only remembers the inode number.
type InodeLogItem struct {
	logItem
	ino    common.Inum
	tp     *Trans
	Fields uint32
}

func (iip *InodeLogItem) Ino() common.Inum {
	return iip.ino
}

// Trans is the transaction the inode is joined to, or nil.
func (iip *InodeLogItem) Trans() *Trans {
	return iip.tp
}

func (iip *InodeLogItem) IsDirty() bool {
	return iip.Fields != 0
}

// InodeItemInit attaches a new log item to ip. An inode gets exactly one
// item per in-core lifetime.
func InodeItemInit(ip InodeOwner, mp *mount.Mount) (*InodeLogItem, error) {
	if ip.LogItem() != nil {
		return nil, ErrInodeItemExists
	}
	iip := &InodeLogItem{
		logItem: logItem{typ: LI_INODE, mp: mp},
		ino:     ip.Ino(),
	}
	ip.SetLogItem(iip)
	util.DPrintf(10, "inode item for %d\n", iip.ino)
	return iip, nil
}
