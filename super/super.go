// super holds the on-disk superblock, its codec, feature predicates and the
// address arithmetic derived from it.
package super

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-fsrepair/common"
	"github.com/mit-pdos/go-fsrepair/disk"
)

const (
	MAGIC uint64 = 0x58465342 // "XFSB"

	VERSION_NUMBITS  uint64 = 0x000f
	VERSION_4        uint64 = 4
	VERSION_5        uint64 = 5
	VERSION_LOGV2BIT uint64 = 0x0400
	VERSION_SECTBIT  uint64 = 0x0800
)

// read-only compatible features
const (
	FEAT_RO_COMPAT_FINOBT   uint64 = 1 << 0
	FEAT_RO_COMPAT_RMAPBT   uint64 = 1 << 1
	FEAT_RO_COMPAT_REFLINK  uint64 = 1 << 2
	FEAT_RO_COMPAT_INOBTCNT uint64 = 1 << 3
)

// incompatible features
const (
	FEAT_INCOMPAT_FTYPE       uint64 = 1 << 0
	FEAT_INCOMPAT_SPINODES    uint64 = 1 << 1
	FEAT_INCOMPAT_META_UUID   uint64 = 1 << 2
	FEAT_INCOMPAT_BIGTIME     uint64 = 1 << 3
	FEAT_INCOMPAT_NEEDSREPAIR uint64 = 1 << 4
)

var ErrBadSuperblock = errors.New("bad superblock")

// Superblock is the in-core copy of the primary superblock. Field names
// follow their on-disk counterparts.
type Superblock struct {
	Magic      uint64
	Blocksize  uint64
	Dblocks    uint64
	UUID       uuid.UUID
	Logstart   common.Fsblock // 0 means the log is on an external device
	Rootino    common.Inum
	Rbmino     common.Inum
	Rsumino    common.Inum
	Agblocks   uint64
	Agcount    uint64
	Logblocks  uint64
	Versionnum uint64
	Sectsize   uint64
	Inodesize  uint64
	Inopblock  uint64
	Blocklog   uint64
	Sectlog    uint64
	Inodelog   uint64
	Inopblog   uint64
	Agblklog   uint64
	Logsectlog uint64
	Logsectsz  uint64
	Logsunit   uint64

	FeaturesCompat      uint64
	FeaturesRoCompat    uint64
	FeaturesIncompat    uint64
	FeaturesLogIncompat uint64

	Lsn uint64
}

// Decode parses the superblock at the start of b.
func Decode(b []byte) *Superblock {
	dec := marshal.NewDec(b)
	sb := &Superblock{}
	sb.Magic = dec.GetInt()
	sb.Blocksize = dec.GetInt()
	sb.Dblocks = dec.GetInt()
	sb.UUID = common.GetUUID(&dec)
	sb.Logstart = dec.GetInt()
	sb.Rootino = common.Inum(dec.GetInt())
	sb.Rbmino = common.Inum(dec.GetInt())
	sb.Rsumino = common.Inum(dec.GetInt())
	sb.Agblocks = dec.GetInt()
	sb.Agcount = dec.GetInt()
	sb.Logblocks = dec.GetInt()
	sb.Versionnum = dec.GetInt()
	sb.Sectsize = dec.GetInt()
	sb.Inodesize = dec.GetInt()
	sb.Inopblock = dec.GetInt()
	sb.Blocklog = dec.GetInt()
	sb.Sectlog = dec.GetInt()
	sb.Inodelog = dec.GetInt()
	sb.Inopblog = dec.GetInt()
	sb.Agblklog = dec.GetInt()
	sb.Logsectlog = dec.GetInt()
	sb.Logsectsz = dec.GetInt()
	sb.Logsunit = dec.GetInt()
	sb.FeaturesCompat = dec.GetInt()
	sb.FeaturesRoCompat = dec.GetInt()
	sb.FeaturesIncompat = dec.GetInt()
	sb.FeaturesLogIncompat = dec.GetInt()
	sb.Lsn = dec.GetInt()
	return sb
}

// Encode returns the superblock as one basic block.
func (sb *Superblock) Encode() []byte {
	enc := marshal.NewEnc(common.BBSIZE)
	enc.PutInt(sb.Magic)
	enc.PutInt(sb.Blocksize)
	enc.PutInt(sb.Dblocks)
	common.PutUUID(&enc, sb.UUID)
	enc.PutInt(sb.Logstart)
	enc.PutInt(uint64(sb.Rootino))
	enc.PutInt(uint64(sb.Rbmino))
	enc.PutInt(uint64(sb.Rsumino))
	enc.PutInt(sb.Agblocks)
	enc.PutInt(sb.Agcount)
	enc.PutInt(sb.Logblocks)
	enc.PutInt(sb.Versionnum)
	enc.PutInt(sb.Sectsize)
	enc.PutInt(sb.Inodesize)
	enc.PutInt(sb.Inopblock)
	enc.PutInt(sb.Blocklog)
	enc.PutInt(sb.Sectlog)
	enc.PutInt(sb.Inodelog)
	enc.PutInt(sb.Inopblog)
	enc.PutInt(sb.Agblklog)
	enc.PutInt(sb.Logsectlog)
	enc.PutInt(sb.Logsectsz)
	enc.PutInt(sb.Logsunit)
	enc.PutInt(sb.FeaturesCompat)
	enc.PutInt(sb.FeaturesRoCompat)
	enc.PutInt(sb.FeaturesIncompat)
	enc.PutInt(sb.FeaturesLogIncompat)
	enc.PutInt(sb.Lsn)
	return enc.Finish()
}

// Validate checks the fields the repair stages rely on. It is not a full
// superblock verifier.
func (sb *Superblock) Validate() error {
	if sb.Magic != MAGIC {
		return fmt.Errorf("%w: magic 0x%x", ErrBadSuperblock, sb.Magic)
	}
	if sb.Blocksize != disk.BlockSize || uint64(1)<<sb.Blocklog != sb.Blocksize {
		return fmt.Errorf("%w: block size %d (log %d)", ErrBadSuperblock,
			sb.Blocksize, sb.Blocklog)
	}
	if sb.Inodesize == 0 || sb.Inopblock*sb.Inodesize != sb.Blocksize ||
		uint64(1)<<sb.Inopblog != sb.Inopblock {
		return fmt.Errorf("%w: inode geometry %d/%d", ErrBadSuperblock,
			sb.Inodesize, sb.Inopblock)
	}
	if sb.Agcount == 0 || sb.Agblocks == 0 || sb.Agblocks > uint64(1)<<sb.Agblklog {
		return fmt.Errorf("%w: ag geometry %d x %d", ErrBadSuperblock,
			sb.Agcount, sb.Agblocks)
	}
	if sb.Sectlog < common.BBSHIFT || sb.Sectlog > sb.Blocklog ||
		sb.Sectsize != uint64(1)<<sb.Sectlog {
		return fmt.Errorf("%w: sector size %d (log %d)", ErrBadSuperblock,
			sb.Sectsize, sb.Sectlog)
	}
	if sb.Logblocks == 0 {
		return fmt.Errorf("%w: empty log", ErrBadSuperblock)
	}
	for _, ino := range []common.Inum{sb.Rootino, sb.Rbmino, sb.Rsumino} {
		if uint64(sb.InoToAgno(ino)) >= sb.Agcount {
			return fmt.Errorf("%w: inode %d beyond ag count %d", ErrBadSuperblock,
				ino, sb.Agcount)
		}
	}
	return nil
}

func (sb *Superblock) Version() uint64 {
	return sb.Versionnum & VERSION_NUMBITS
}

// HasCRC reports the checksum-capable (v5) format.
func (sb *Superblock) HasCRC() bool {
	return sb.Version() == VERSION_5
}

func (sb *Superblock) HasLogV2() bool {
	return sb.HasCRC() || sb.Versionnum&VERSION_LOGV2BIT != 0
}

func (sb *Superblock) HasSector() bool {
	return sb.HasCRC() || sb.Versionnum&VERSION_SECTBIT != 0
}

func (sb *Superblock) HasFinobt() bool {
	return sb.HasCRC() && sb.FeaturesRoCompat&FEAT_RO_COMPAT_FINOBT != 0
}

func (sb *Superblock) HasInobtCounts() bool {
	return sb.HasCRC() && sb.FeaturesRoCompat&FEAT_RO_COMPAT_INOBTCNT != 0
}

func (sb *Superblock) HasBigtime() bool {
	return sb.HasCRC() && sb.FeaturesIncompat&FEAT_INCOMPAT_BIGTIME != 0
}

func (sb *Superblock) HasNeedsRepair() bool {
	return sb.HasCRC() && sb.FeaturesIncompat&FEAT_INCOMPAT_NEEDSREPAIR != 0
}
