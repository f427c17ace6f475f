// disk is the block device under repair: the data device, or the external
// log device. Addresses are in 4KB blocks; callers that work in 512-byte
// basic blocks go through ReadBytes and WriteBytes.
package disk

type Block = []byte

const BlockSize uint64 = 4096

// Disk is a device image opened for repair. A dry run opens it read-only,
// in which case Write fails.
type Disk interface {
	// Read returns a copy of block a. Errors if a >= Size().
	Read(a uint64) (Block, error)

	// ReadTo fills b, which must be BlockSize long, with block a.
	ReadTo(a uint64, b Block) error

	// Write stores v at block a. v is not retained.
	Write(a uint64, v Block) error

	// Size is the device size in blocks.
	Size() (uint64, error)

	// Barrier returns once every completed Write is durable.
	Barrier() error

	Close() error
}
