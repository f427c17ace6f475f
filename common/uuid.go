package common

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/tchajed/marshal"
)

// PutUUID encodes u as two little-endian words.
func PutUUID(enc *marshal.Enc, u uuid.UUID) {
	enc.PutInt(binary.LittleEndian.Uint64(u[0:8]))
	enc.PutInt(binary.LittleEndian.Uint64(u[8:16]))
}

func GetUUID(dec *marshal.Dec) uuid.UUID {
	var u uuid.UUID
	binary.LittleEndian.PutUint64(u[0:8], dec.GetInt())
	binary.LittleEndian.PutUint64(u[8:16], dec.GetInt())
	return u
}
