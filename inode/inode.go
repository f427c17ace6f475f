// inode is the in-core inode: the on-disk core decoded from its cluster
// buffer plus the log item tracking changes to it.
package inode

import (
	"errors"
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-fsrepair/addr"
	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/mount"
	"github.com/mit-pdos/go-fsrepair/super"
	"github.com/mit-pdos/go-fsrepair/txn"
	"github.com/mit-pdos/go-fsrepair/util"
)

const (
	MAGIC   uint64 = 0x494e // "IN"
	VERSION uint64 = 3

	S_IFMT  uint64 = 0170000
	S_IFDIR uint64 = 0040000
	S_IFREG uint64 = 0100000
)

var ErrBadInode = errors.New("bad inode")

// Core is the fixed part of an on-disk inode.
type Core struct {
	Magic   uint64
	Mode    uint64
	Version uint64
	Nlink   uint64
	Size    uint64
	Gen     uint64
	Flags   uint64
	Ino     common.Inum
}

func (c *Core) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt(c.Magic)
	enc.PutInt(c.Mode)
	enc.PutInt(c.Version)
	enc.PutInt(c.Nlink)
	enc.PutInt(c.Size)
	enc.PutInt(c.Gen)
	enc.PutInt(c.Flags)
	enc.PutInt(uint64(c.Ino))
	return enc.Finish()
}

func DecodeCore(b []byte) *Core {
	dec := marshal.NewDec(b)
	c := &Core{}
	c.Magic = dec.GetInt()
	c.Mode = dec.GetInt()
	c.Version = dec.GetInt()
	c.Nlink = dec.GetInt()
	c.Size = dec.GetInt()
	c.Gen = dec.GetInt()
	c.Flags = dec.GetInt()
	c.Ino = common.Inum(dec.GetInt())
	return c
}

func (c *Core) IsDir() bool {
	return c.Mode&S_IFMT == S_IFDIR
}

// Inode is an in-core inode. It owns its log item.
type Inode struct {
	Inum  common.Inum
	Core  *Core
	mp    *mount.Mount
	itemp *txn.InodeLogItem
}

var _ txn.InodeOwner = (*Inode)(nil)

func (ip *Inode) LogItem() *txn.InodeLogItem {
	return ip.itemp
}

func (ip *Inode) SetLogItem(iip *txn.InodeLogItem) {
	ip.itemp = iip
}

// clusterMap is the buffer holding ino's whole inode chunk.
func clusterMap(sb *super.Superblock, ino common.Inum) []addr.Map {
	agno := sb.InoToAgno(ino)
	agino := sb.InoToAgino(ino)
	chunk := common.Agino(uint64(agino) &^ (common.InodesPerChunk - 1))
	bno := sb.AginoToAgbno(chunk)
	return []addr.Map{addr.MkMap(sb.AgbToDaddr(agno, bno),
		sb.FsbToBB(sb.IallocBlocks()))}
}

// clusterOffset is ino's byte offset within its cluster buffer.
func clusterOffset(sb *super.Superblock, ino common.Inum) uint64 {
	agino := sb.InoToAgino(ino)
	return (uint64(agino) & (common.InodesPerChunk - 1)) * sb.Inodesize
}

func (ip *Inode) String() string {
	return fmt.Sprintf("ino %d", ip.Inum)
}

func mkInode(mp *mount.Mount, ino common.Inum, c *Core) (*Inode, error) {
	ip := &Inode{Inum: ino, Core: c, mp: mp}
	if _, err := txn.InodeItemInit(ip, mp); err != nil {
		return nil, err
	}
	return ip, nil
}

// Iget reads inode ino through tp. The inode's cluster buffer joins tp.
func Iget(tp *txn.Trans, ino common.Inum) (*Inode, error) {
	mp := tp.Mount()
	bp, err := tp.ReadBuf(mp.DDev, clusterMap(mp.Sb, ino))
	if err != nil {
		return nil, err
	}
	off := clusterOffset(mp.Sb, ino)
	c := DecodeCore(bp.Data[off : off+mp.Sb.Inodesize])
	if c.Magic != MAGIC || c.Ino != ino {
		return nil, fmt.Errorf("%w: ino %d magic 0x%x self %d", ErrBadInode,
			ino, c.Magic, c.Ino)
	}
	util.DPrintf(5, "Iget %d mode %o\n", ino, c.Mode)
	return mkInode(mp, ino, c)
}

// Ialloc makes a fresh in-core inode, joined to tp and logged, so that
// the commit of tp writes it out.
func Ialloc(tp *txn.Trans, ino common.Inum, mode uint64, nlink uint64) (*Inode, error) {
	c := &Core{
		Magic:   MAGIC,
		Mode:    mode,
		Version: VERSION,
		Nlink:   nlink,
		Gen:     1,
		Ino:     ino,
	}
	ip, err := mkInode(tp.Mount(), ino, c)
	if err != nil {
		return nil, err
	}
	if err := tp.Ijoin(ip); err != nil {
		return nil, err
	}
	tp.LogInode(ip, txn.ILOG_CORE)
	return ip, nil
}

// Flush copies the core into the cluster buffer and logs that range.
func (ip *Inode) Flush(tp *txn.Trans) error {
	sb := ip.mp.Sb
	bp, err := tp.ReadBuf(ip.mp.DDev, clusterMap(sb, ip.Inum))
	if err != nil {
		return err
	}
	off := clusterOffset(sb, ip.Inum)
	copy(bp.Data[off:off+sb.Inodesize], ip.Core.Encode())
	tp.LogBuf(bp, off, off+sb.Inodesize-1)
	util.DPrintf(5, "Iflush %d\n", ip.Inum)
	return nil
}

func (ip *Inode) Ino() common.Inum {
	return ip.Inum
}
