package model

import "sync/atomic"

// AccessStatistics counts storage reads and the reads that returned at least
// one result. Safe for concurrent use.
type AccessStatistics struct {
	numReads atomic.Int64
	numHits  atomic.Int64
}

type AccessSnapshot struct {
	NumReads int64 `json:"num_reads"`
	NumHits  int64 `json:"num_hits"`
}

// RecordRead counts one read and, if hit is set, one hit.
func (s *AccessStatistics) RecordRead(hit bool) {
	s.numReads.Add(1)
	if hit {
		s.numHits.Add(1)
	}
}

func (s *AccessStatistics) Snapshot() AccessSnapshot {
	if s == nil {
		return AccessSnapshot{}
	}
	return AccessSnapshot{NumReads: s.numReads.Load(), NumHits: s.numHits.Load()}
}
