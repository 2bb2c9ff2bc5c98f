// Package block implements the §4.5 Block Splitter/Aggregator pair: the
// iterator that carves a section's chunk into ≤max_slices sub-slabs
// along its slicing dimension, and the dual that writes block outputs
// back into a freshly-sized per-chunk buffer.
package block

import (
	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/errs"
	"github.com/team-gpu/httomo/internal/pattern"
)

// Splitter yields ⌈chunk_len/max_slices⌉ blocks in increasing order,
// each a zero-copy view (dataset.MakeBlock never allocates); the last
// block may be shorter than MaxSlices. Per §4.5 the chunk is transferred
// to host before iteration starts, since a splitter only ever hands
// blocks to the first wrapper of a section and every section's method
// transfer happens per-block thereafter.
type Splitter struct {
	chunk     *dataset.Dataset
	dim       int
	maxSlices int
	cursor    int
	total     int
}

// NewSplitter builds a Splitter over chunk along pattern's slicing dim.
func NewSplitter(chunk *dataset.Dataset, p pattern.Pattern, maxSlices int) (*Splitter, error) {
	if maxSlices <= 0 {
		return nil, errs.PlanErr("", "splitter: max_slices must be positive, got %d", maxSlices)
	}
	chunk.ToHost()
	dim := p.SlicingDim()
	return &Splitter{
		chunk:     chunk,
		dim:       dim,
		maxSlices: maxSlices,
		total:     chunk.ChunkShape()[dim],
	}, nil
}

// SlicesPerBlock is the configured max_slices this splitter was built with.
func (s *Splitter) SlicesPerBlock() int { return s.maxSlices }

// NumBlocks is ⌈chunk_len/max_slices⌉, the number of blocks this splitter
// will yield in total.
func (s *Splitter) NumBlocks() int {
	if s.total == 0 {
		return 0
	}
	return (s.total + s.maxSlices - 1) / s.maxSlices
}

// Next returns the next block, or ok=false once the chunk is exhausted.
func (s *Splitter) Next() (blk *dataset.Dataset, ok bool, err error) {
	if s.cursor >= s.total {
		return nil, false, nil
	}
	n := s.maxSlices
	if s.cursor+n > s.total {
		n = s.total - s.cursor
	}
	blk, err = s.chunk.MakeBlock(s.dim, s.cursor, n)
	if err != nil {
		return nil, false, err
	}
	s.cursor += n
	return blk, true, nil
}
