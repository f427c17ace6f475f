package wal

import (
	"github.com/mit-pdos/go-fsrepair/common"
)

// State is the in-core view of the log for one repair run: where it lives,
// and where its head and tail were last found.
type State struct {
	Geo         Geometry
	HeadBlk     common.Daddr
	TailBlk     common.Daddr
	LastSyncLSN LSN
}

func MkState(g Geometry) *State {
	return &State{Geo: g}
}

// Update records the outcome of a scan.
func (s *State) Update(t Tail) {
	s.HeadBlk = t.Head
	s.TailBlk = t.Tail
	s.LastSyncLSN = t.LastSyncLSN
}

// Clean reports whether the log holds nothing to replay.
func (s *State) Clean() bool {
	return s.HeadBlk == s.TailBlk
}
