// buf is the buffer cache: in-memory copies of device ranges that callers
// hold exclusively while they read or modify them.
package buf

import (
	"github.com/mit-pdos/go-fsrepair/addr"
	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/disk"
)

// ItemType tags the records that other layers attach to a buffer.
type ItemType uint16

// An Item is an opaque record attached to a buffer by a higher layer (for
// example a transaction's log item). The buffer only keeps the chain.
type Item interface {
	Type() ItemType
}

// Target is a device that buffers are read from and written to.
type Target struct {
	Dev  uint64
	Name string
	Disk disk.Disk
}

func MkTarget(dev uint64, name string, d disk.Disk) *Target {
	return &Target{Dev: dev, Name: name, Disk: d}
}

// A Buf is a cached copy of one or more device segments.
type Buf struct {
	Target *Target
	Maps   []addr.Map
	Length uint64 // total length in basic blocks
	Data   []byte
	Err    error

	uptodate bool
	items    []Item // items[0] is the primary item
}

func mkBuf(t *Target, maps []addr.Map) *Buf {
	l := addr.TotalLen(maps)
	m := make([]addr.Map, len(maps))
	copy(m, maps)
	return &Buf{
		Target: t,
		Maps:   m,
		Length: l,
		Data:   make([]byte, common.BBToBytes(l)),
	}
}

func (bp *Buf) Key() addr.Key {
	return addr.MkKey(bp.Target.Dev, bp.Maps)
}

// Daddr is the address of the first segment.
func (bp *Buf) Daddr() common.Daddr {
	return bp.Maps[0].Bn
}

func (bp *Buf) MapCount() int {
	return len(bp.Maps)
}

// LogItem returns the primary attached item, or nil.
func (bp *Buf) LogItem() Item {
	if len(bp.items) == 0 {
		return nil
	}
	return bp.items[0]
}

// PushItem attaches it in front of any items already on the buffer.
func (bp *Buf) PushItem(it Item) {
	bp.items = append([]Item{it}, bp.items...)
}

// DelItem detaches it, if attached.
func (bp *Buf) DelItem(it Item) {
	for i, x := range bp.items {
		if x == it {
			bp.items = append(bp.items[:i], bp.items[i+1:]...)
			return
		}
	}
}

// Uptodate reports whether Data matches the device (or a pending write).
func (bp *Buf) Uptodate() bool {
	return bp.uptodate
}

func (bp *Buf) Items() []Item {
	return bp.items
}

func (bp *Buf) load() error {
	var off uint64
	for _, m := range bp.Maps {
		data, err := disk.ReadBytes(bp.Target.Disk, common.BBToBytes(m.Bn),
			common.BBToBytes(m.Len))
		if err != nil {
			return err
		}
		copy(bp.Data[off:], data)
		off += uint64(len(data))
	}
	bp.uptodate = true
	return nil
}

func (bp *Buf) store() error {
	var off uint64
	for _, m := range bp.Maps {
		n := common.BBToBytes(m.Len)
		err := disk.WriteBytes(bp.Target.Disk, common.BBToBytes(m.Bn),
			bp.Data[off:off+n])
		if err != nil {
			return err
		}
		off += n
	}
	bp.uptodate = true
	return nil
}
