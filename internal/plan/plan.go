package plan

import (
	"errors"
	"fmt"

	"github.com/NamanBalaji/prepfetch/internal/common"
)

var (
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	ErrInvalidSize      = errors.New("expected size must not be negative")
)

// Unbounded is the End value of a range whose length is not known.
const Unbounded int64 = -1

// Range is a closed byte interval [Start, End] identified by its ordinal.
type Range struct {
	Ordinal int   `json:"ordinal"`
	Start   int64 `json:"start"`
	End     int64 `json:"end"`
}

// Unbounded reports whether the range extends to the end of the resource.
func (r Range) Unbounded() bool {
	return r.End == Unbounded
}

// Length returns the number of bytes in the range, or -1 if unbounded.
func (r Range) Length() int64 {
	if r.Unbounded() {
		return -1
	}

	return r.End - r.Start + 1
}

// Header returns the value of the Range request header for this interval.
func (r Range) Header() string {
	if r.Unbounded() {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}

	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// ChunkPlan is a contiguous, non-overlapping partition of a resource.
type ChunkPlan struct {
	TotalSize int64
	ChunkSize int64
	Ranged    bool
	Ranges    []Range
}

// New partitions the resource into fixed-size ranges.
// A resource of unknown size yields a single unbounded range, and a resource
// without ranged fetch support yields a single range covering all of it.
func New(resource common.RemoteResource, chunkSize int64) (ChunkPlan, error) {
	if chunkSize <= 0 {
		return ChunkPlan{}, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}

	size := resource.ExpectedSize
	if size < 0 {
		return ChunkPlan{}, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	p := ChunkPlan{
		TotalSize: size,
		ChunkSize: chunkSize,
		Ranged:    resource.SupportsRangedFetch && size > 0,
	}

	if size == 0 {
		p.Ranges = []Range{{Ordinal: 0, Start: 0, End: Unbounded}}
		return p, nil
	}

	if !resource.SupportsRangedFetch {
		p.Ranges = []Range{{Ordinal: 0, Start: 0, End: size - 1}}
		return p, nil
	}

	count := int((size + chunkSize - 1) / chunkSize)
	p.Ranges = make([]Range, 0, count)

	for i := range count {
		start := int64(i) * chunkSize
		end := min(start+chunkSize, size) - 1

		p.Ranges = append(p.Ranges, Range{Ordinal: i, Start: start, End: end})
	}

	return p, nil
}

// Count returns the number of chunks.
func (p ChunkPlan) Count() int {
	return len(p.Ranges)
}

// Resumable reports whether completed chunks can be kept across attempts.
func (p ChunkPlan) Resumable() bool {
	return p.Ranged
}

// Outstanding returns the ranges not yet completed, in ordinal order.
func (p ChunkPlan) Outstanding(isComplete func(ordinal int) bool) []Range {
	var out []Range

	for _, r := range p.Ranges {
		if isComplete == nil || !isComplete(r.Ordinal) {
			out = append(out, r)
		}
	}

	return out
}

// Bytes returns the total bytes covered by the given ordinals.
func (p ChunkPlan) Bytes(isComplete func(ordinal int) bool) int64 {
	var n int64

	for _, r := range p.Ranges {
		if r.Unbounded() || !isComplete(r.Ordinal) {
			continue
		}

		n += r.Length()
	}

	return n
}
