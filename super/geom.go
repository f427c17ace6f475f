package super

import (
	"github.com/mit-pdos/go-fsrepair/common"
)

func (sb *Superblock) inoAgbits() uint64 {
	return sb.Agblklog + sb.Inopblog
}

func (sb *Superblock) InoToAgno(ino common.Inum) common.Agnumber {
	return common.Agnumber(uint64(ino) >> sb.inoAgbits())
}

func (sb *Superblock) InoToAgino(ino common.Inum) common.Agino {
	return common.Agino(uint64(ino) & (uint64(1)<<sb.inoAgbits() - 1))
}

func (sb *Superblock) AginoToAgbno(agino common.Agino) common.Fsblock {
	return uint64(agino) >> sb.Inopblog
}

// AginoToOffset is the inode's slot within its block.
func (sb *Superblock) AginoToOffset(agino common.Agino) uint64 {
	return uint64(agino) & (sb.Inopblock - 1)
}

func (sb *Superblock) InoToAgbno(ino common.Inum) common.Fsblock {
	return sb.AginoToAgbno(sb.InoToAgino(ino))
}

func (sb *Superblock) AginoToIno(agno common.Agnumber, agino common.Agino) common.Inum {
	return common.Inum(uint64(agno)<<sb.inoAgbits() | uint64(agino))
}

func (sb *Superblock) AgbToAgino(agbno common.Fsblock) common.Agino {
	return common.Agino(agbno << sb.Inopblog)
}

// FsbToBB converts a count of filesystem blocks to basic blocks.
func (sb *Superblock) FsbToBB(n uint64) uint64 {
	return n << (sb.Blocklog - common.BBSHIFT)
}

func (sb *Superblock) AgbToDaddr(agno common.Agnumber, agbno common.Fsblock) common.Daddr {
	return sb.FsbToBB(uint64(agno)*sb.Agblocks + agbno)
}

// FsbToDaddr converts an absolute (AG-encoded) filesystem block number.
func (sb *Superblock) FsbToDaddr(fsb common.Fsblock) common.Daddr {
	agno := common.Agnumber(fsb >> sb.Agblklog)
	agbno := fsb & (uint64(1)<<sb.Agblklog - 1)
	return sb.AgbToDaddr(agno, agbno)
}

// AgbToFsb builds an absolute filesystem block number.
func (sb *Superblock) AgbToFsb(agno common.Agnumber, agbno common.Fsblock) common.Fsblock {
	return uint64(agno)<<sb.Agblklog | agbno
}

// IallocBlocks is the number of blocks in one inode chunk.
func (sb *Superblock) IallocBlocks() uint64 {
	return common.InodesPerChunk / sb.Inopblock
}

// SectBBLog is the data device sector size as a shift over BBSIZE.
func (sb *Superblock) SectBBLog() uint64 {
	return sb.Sectlog - common.BBSHIFT
}
