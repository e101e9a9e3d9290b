package ledger

import (
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/NamanBalaji/prepfetch/internal/common"
)

// Ledger is the resume state of one destination.
type Ledger struct {
	Resource   common.RemoteResource
	ChunkSize  int64
	ChunkCount int
	Completed  *roaring.Bitmap
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func newLedger(resource common.RemoteResource, chunkSize int64, chunkCount int) *Ledger {
	now := time.Now().UTC()

	return &Ledger{
		Resource:   resource,
		ChunkSize:  chunkSize,
		ChunkCount: chunkCount,
		Completed:  roaring.New(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Empty reports whether the ledger has never been bound to a resource.
func (l *Ledger) Empty() bool {
	return l.ChunkCount == 0
}

// IsComplete reports whether the chunk with the given ordinal is durably recorded.
func (l *Ledger) IsComplete(ordinal int) bool {
	if ordinal < 0 {
		return false
	}

	return l.Completed.Contains(uint32(ordinal))
}

// CompletedCount returns the number of recorded chunks.
func (l *Ledger) CompletedCount() int {
	return int(l.Completed.GetCardinality())
}

// Ordinals returns the recorded ordinals in ascending order.
func (l *Ledger) Ordinals() []int {
	out := make([]int, 0, l.Completed.GetCardinality())

	it := l.Completed.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}

	return out
}

// Describes reports whether the ledger was written for the same remote bytes and chunking.
func (l *Ledger) Describes(resource common.RemoteResource, chunkSize int64) bool {
	return !l.Empty() && l.ChunkSize == chunkSize && l.Resource.Matches(resource)
}
