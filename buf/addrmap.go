package buf

import (
	"github.com/mit-pdos/go-fsrepair/addr"
)

//
// an insertion-ordered map from buffer keys to objects
//

type aentry struct {
	key addr.Key
	obj interface{}
}

type AddrMap struct {
	order []*aentry
	idx   map[addr.Key]*aentry
}

func MkAddrMap() *AddrMap {
	return &AddrMap{
		idx: make(map[addr.Key]*aentry),
	}
}

func (amap *AddrMap) Lookup(k addr.Key) interface{} {
	e, ok := amap.idx[k]
	if !ok {
		return nil
	}
	return e.obj
}

// Insert adds obj under k. Inserting an existing key is a caller bug.
func (amap *AddrMap) Insert(k addr.Key, obj interface{}) {
	if _, ok := amap.idx[k]; ok {
		panic("addrmap: duplicate insert")
	}
	e := &aentry{key: k, obj: obj}
	amap.order = append(amap.order, e)
	amap.idx[k] = e
}

func (amap *AddrMap) Del(k addr.Key) {
	e, ok := amap.idx[k]
	if !ok {
		panic("addrmap: delete of missing key")
	}
	delete(amap.idx, k)
	for i, x := range amap.order {
		if x == e {
			amap.order = append(amap.order[:i], amap.order[i+1:]...)
			break
		}
	}
}

func (amap *AddrMap) Len() int {
	return len(amap.order)
}

// Apply visits entries in insertion order.
func (amap *AddrMap) Apply(f func(addr.Key, interface{})) {
	for _, e := range amap.order {
		f(e.key, e.obj)
	}
}
