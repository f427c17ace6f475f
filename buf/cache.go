package buf

import (
	"github.com/mit-pdos/go-fsrepair/addr"
	"github.com/mit-pdos/go-fsrepair/lockmap"
	"github.com/mit-pdos/go-fsrepair/shardmap"
	"github.com/mit-pdos/go-fsrepair/util"
)

// Cache hands out exclusively held buffers. A buffer stays cached after
// release so a later Get sees the same contents and attached items.
//
// A caller must not Get a buffer it already holds; transactions look their
// own buffers up first for that reason.
type Cache struct {
	index *shardmap.ShardMap
	holds *lockmap.LockMap
}

func MkCache() *Cache {
	return &Cache{
		index: shardmap.MkShardMap(),
		holds: lockmap.MkLockMap(),
	}
}

// Get returns the held buffer for maps on t without reading it.
func (c *Cache) Get(t *Target, maps []addr.Map) *Buf {
	k := addr.MkKey(t.Dev, maps)
	c.holds.Acquire(k)
	v := c.index.LookupOrInsert(k, func() interface{} {
		return mkBuf(t, maps)
	})
	bp := v.(*Buf)
	util.DPrintf(10, "buf get %v maps %d\n", k, len(bp.Maps))
	return bp
}

// Read returns the held buffer with its contents loaded from the device.
// On I/O error the buffer is released and the error returned.
func (c *Cache) Read(t *Target, maps []addr.Map) (*Buf, error) {
	bp := c.Get(t, maps)
	if err := c.Load(bp); err != nil {
		c.Release(bp)
		return nil, err
	}
	return bp, nil
}

// Load fills a held buffer from the device unless it is already up to date.
func (c *Cache) Load(bp *Buf) error {
	if bp.uptodate {
		return nil
	}
	err := bp.load()
	bp.Err = err
	return err
}

// Write stores the buffer synchronously. The caller keeps its hold.
func (c *Cache) Write(bp *Buf) error {
	util.DPrintf(5, "buf write %v\n", bp.Key())
	err := bp.store()
	bp.Err = err
	return err
}

func (c *Cache) Release(bp *Buf) {
	c.holds.Release(bp.Key())
}

// Purge drops a held buffer from the cache and releases it.
func (c *Cache) Purge(bp *Buf) {
	k := bp.Key()
	c.index.Delete(k)
	c.holds.Release(k)
}

// NCached reports how many buffers are cached.
func (c *Cache) NCached() uint64 {
	var n uint64
	c.index.Apply(func(addr.Key, interface{}) { n++ })
	return n
}
