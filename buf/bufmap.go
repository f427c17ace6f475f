package buf

import (
	"github.com/mit-pdos/go-fsrepair/addr"
)

//
// A map from buffer keys to held bufs, in the order they were added.
//

type BufMap struct {
	addrs *AddrMap
}

func MkBufMap() *BufMap {
	return &BufMap{
		addrs: MkAddrMap(),
	}
}

func (bmap *BufMap) Insert(bp *Buf) {
	bmap.addrs.Insert(bp.Key(), bp)
}

func (bmap *BufMap) Lookup(k addr.Key) *Buf {
	e := bmap.addrs.Lookup(k)
	if e != nil {
		return e.(*Buf)
	}
	return nil
}

func (bmap *BufMap) Del(k addr.Key) {
	bmap.addrs.Del(k)
}

func (bmap *BufMap) Len() int {
	return bmap.addrs.Len()
}

func (bmap *BufMap) Bufs() []*Buf {
	bufs := make([]*Buf, 0, bmap.addrs.Len())
	bmap.addrs.Apply(func(a addr.Key, e interface{}) {
		bufs = append(bufs, e.(*Buf))
	})
	return bufs
}
