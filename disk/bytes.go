package disk

// ReadBytes reads n bytes starting at byte offset off, spanning as many
// blocks as needed.
func ReadBytes(d Disk, off uint64, n uint64) ([]byte, error) {
	data := make([]byte, n)
	blk := make(Block, BlockSize)
	var done uint64
	for done < n {
		pos := off + done
		a := pos / BlockSize
		boff := pos % BlockSize
		if err := d.ReadTo(a, blk); err != nil {
			return nil, err
		}
		done += uint64(copy(data[done:], blk[boff:]))
	}
	return data, nil
}

// WriteBytes writes data at byte offset off. Blocks only partially covered
// by data are read first so their remaining bytes survive.
func WriteBytes(d Disk, off uint64, data []byte) error {
	n := uint64(len(data))
	var done uint64
	for done < n {
		pos := off + done
		a := pos / BlockSize
		boff := pos % BlockSize
		blk := make(Block, BlockSize)
		if boff == 0 && n-done >= BlockSize {
			copy(blk, data[done:done+BlockSize])
		} else {
			if err := d.ReadTo(a, blk); err != nil {
				return err
			}
			copy(blk[boff:], data[done:])
		}
		if err := d.Write(a, blk); err != nil {
			return err
		}
		done += BlockSize - boff
	}
	return nil
}
