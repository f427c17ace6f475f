package repair

import (
	"fmt"

	"github.com/mit-pdos/go-fsrepair/mount"
	"github.com/mit-pdos/go-fsrepair/super"
	"github.com/mit-pdos/go-fsrepair/txn"
	"github.com/mit-pdos/go-fsrepair/util"
)

func (p *Phase2) setInobtcount(sb *super.Superblock) error {
	if !sb.HasCRC() {
		return &NoopError{Msg: "Inode btree count feature only supported on V5 filesystems."}
	}
	if !sb.HasFinobt() {
		return &NoopError{Msg: "Inode btree count feature requires free inode btree."}
	}
	if sb.HasInobtCounts() {
		return &NoopError{Msg: "Filesystem already has inode btree counts."}
	}
	p.rep.Log("Adding inode btree counts to filesystem.\n")
	sb.FeaturesRoCompat |= super.FEAT_RO_COMPAT_INOBTCNT
	sb.FeaturesIncompat |= super.FEAT_INCOMPAT_NEEDSREPAIR
	return nil
}

func (p *Phase2) setBigtime(sb *super.Superblock) error {
	if !sb.HasCRC() {
		return &NoopError{Msg: "Large timestamp feature only supported on V5 filesystems."}
	}
	if sb.HasBigtime() {
		return &NoopError{Msg: "Filesystem already supports large timestamps."}
	}
	p.rep.Log("Adding large timestamp support to filesystem.\n")
	sb.FeaturesIncompat |= super.FEAT_INCOMPAT_NEEDSREPAIR | super.FEAT_INCOMPAT_BIGTIME
	return nil
}

// UpgradeFilesystem applies the requested feature upgrades to mp's
// superblock. A request that cannot apply ends the run with a NoopError.
// The changed superblock is written at once, so an interrupted repair
// leaves the needs-repair flag on disk.
func (p *Phase2) UpgradeFilesystem(mp *mount.Mount) error {
	dirty := false
	if p.opts.AddInobtCount {
		if err := p.setInobtcount(mp.Sb); err != nil {
			return err
		}
		dirty = true
	}
	if p.opts.AddBigtime {
		if err := p.setBigtime(mp.Sb); err != nil {
			return err
		}
		dirty = true
	}
	if p.opts.NoModify || !dirty {
		return nil
	}
	if err := writeSuper(mp); err != nil {
		return fatal(StageUpgrade, EXIT_FATAL,
			fmt.Errorf("filesystem feature upgrade failed: %w", err))
	}
	return nil
}

// writeSuper persists mp's in-core superblock synchronously.
func writeSuper(mp *mount.Mount) error {
	b := mp.Sb.Encode()
	if mp.Sb.Sectsize < uint64(len(b)) {
		return fmt.Errorf("sector size %d cannot hold the superblock", mp.Sb.Sectsize)
	}
	tp := txn.Alloc(mp)
	bp, err := tp.ReadBuf(mp.DDev, mp.SBMap())
	if err != nil {
		tp.Cancel()
		return fmt.Errorf("couldn't read superblock: %w", err)
	}
	if len(bp.Data) < len(b) {
		tp.Cancel()
		return fmt.Errorf("superblock buffer holds %d of %d bytes", len(bp.Data), len(b))
	}
	copy(bp.Data, b)
	bip := txn.BufItemInit(bp, mp)
	bip.Log(0, uint64(len(b))-1)
	util.DPrintf(1, "writeSuper: features ro 0x%x incompat 0x%x\n",
		mp.Sb.FeaturesRoCompat, mp.Sb.FeaturesIncompat)
	return tp.Commit()
}
