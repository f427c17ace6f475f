package disk

import (
	"fmt"

	gdisk "github.com/tchajed/goose/machine/disk"
	"golang.org/x/sys/unix"
)

var _ Disk = (*fileDisk)(nil)

type fileDisk struct {
	fd        int
	numBlocks uint64
}

// OpenFileDisk opens an existing device or image file. The size is taken
// from the file (or block device) itself.
func OpenFileDisk(path string, readOnly bool) (Disk, error) {
	flags := unix.O_RDWR
	if readOnly {
		flags = unix.O_RDONLY
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	sz, err := unix.Seek(fd, 0, 2)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("size of %s: %w", path, err)
	}
	return &fileDisk{fd: fd, numBlocks: uint64(sz) / BlockSize}, nil
}

// NewFileDisk creates (or resizes) an image file of numBlocks blocks.
func NewFileDisk(path string, numBlocks uint64) (Disk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, err
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if (stat.Mode&unix.S_IFMT) == unix.S_IFREG && uint64(stat.Size) != numBlocks*BlockSize {
		err = unix.Ftruncate(fd, int64(numBlocks*BlockSize))
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	return &fileDisk{fd, numBlocks}, nil
}

func (d *fileDisk) ReadTo(a uint64, buf Block) error {
	if uint64(len(buf)) != BlockSize {
		panic("buffer is not block-sized")
	}
	if a >= d.numBlocks {
		return fmt.Errorf("out-of-bounds read at %v", a)
	}
	_, err := unix.Pread(d.fd, buf, int64(a*BlockSize))
	if err != nil {
		return fmt.Errorf("read block %d: %w", a, err)
	}
	return nil
}

func (d *fileDisk) Read(a uint64) (Block, error) {
	buf := make([]byte, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *fileDisk) Write(a uint64, v Block) error {
	if uint64(len(v)) != BlockSize {
		panic(fmt.Errorf("v is not block sized (%d bytes)", len(v)))
	}
	if a >= d.numBlocks {
		return fmt.Errorf("out-of-bounds write at %v", a)
	}
	_, err := unix.Pwrite(d.fd, v, int64(a*BlockSize))
	if err != nil {
		return fmt.Errorf("write block %d: %w", a, err)
	}
	return nil
}

func (d *fileDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

func (d *fileDisk) Barrier() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; the correct replacement is fcntl with F_FULLFSYNC.
	err := unix.Fsync(d.fd)
	if err != nil {
		return fmt.Errorf("file sync failed: %w", err)
	}
	return nil
}

func (d *fileDisk) Close() error {
	return unix.Close(d.fd)
}

/////////////////////////

var _ Disk = (*gooseDisk)(nil)

// gooseDisk adapts a goose disk, whose operations cannot fail, to Disk.
type gooseDisk struct {
	d gdisk.Disk
}

// FromGoose wraps a goose disk. Out-of-range accesses become errors instead
// of panics.
func FromGoose(d gdisk.Disk) Disk {
	if gdisk.BlockSize != BlockSize {
		panic("goose block size mismatch")
	}
	return &gooseDisk{d: d}
}

// NewMemDisk returns an all-zero in-memory disk of numBlocks blocks.
func NewMemDisk(numBlocks uint64) Disk {
	return FromGoose(gdisk.NewMemDisk(numBlocks))
}

func (g *gooseDisk) ReadTo(a uint64, buf Block) error {
	if a >= g.d.Size() {
		return fmt.Errorf("out-of-bounds read at %v", a)
	}
	copy(buf, g.d.Read(a))
	return nil
}

func (g *gooseDisk) Read(a uint64) (Block, error) {
	buf := make(Block, BlockSize)
	err := g.ReadTo(a, buf)
	return buf, err
}

func (g *gooseDisk) Write(a uint64, v Block) error {
	if uint64(len(v)) != BlockSize {
		panic(fmt.Errorf("v is not block-sized (%d bytes)", len(v)))
	}
	if a >= g.d.Size() {
		return fmt.Errorf("out-of-bounds write at %v", a)
	}
	g.d.Write(a, v)
	return nil
}

func (g *gooseDisk) Size() (uint64, error) {
	return g.d.Size(), nil
}

func (g *gooseDisk) Barrier() error {
	g.d.Barrier()
	return nil
}

func (g *gooseDisk) Close() error {
	g.d.Close()
	return nil
}
