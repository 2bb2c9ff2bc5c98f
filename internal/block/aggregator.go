package block

import (
	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/errs"
	"github.com/team-gpu/httomo/internal/pattern"
)

// Aggregator is the dual of Splitter: it appends wrapper-processed
// blocks, in the order a Splitter would hand them out, into a single
// host-resident chunk buffer. The first append fixes the buffer's
// non-slice shape (and implicitly its dtype, always float32 in this
// module); every later append must match on every dim but the slicing
// one, or the aggregation fails with a DataError (§8 "Shape-change
// containment").
type Aggregator struct {
	dim    int
	total  int
	cursor int
	buf    *dataset.Array
}

// NewAggregator builds an Aggregator that expects totalLen slices along
// pattern's slicing dimension before it is complete.
func NewAggregator(p pattern.Pattern, totalLen int) *Aggregator {
	return &Aggregator{dim: p.SlicingDim(), total: totalLen}
}

// Append writes block's current data into the next contiguous range of
// the destination buffer along the slicing dim, in call order.
func (a *Aggregator) Append(blk *dataset.Dataset) error {
	data := blk.Data()
	if data.Placement != pattern.Host {
		data = data.Contiguous()
		data.Placement = pattern.Host
	}

	if a.buf == nil {
		shape := data.Shape
		shape[a.dim] = a.total
		a.buf = dataset.NewArray(shape)
	} else if err := a.checkNonSliceDims(data.Shape); err != nil {
		return err
	}

	view, err := a.buf.Slice(a.dim, a.cursor, data.Shape[a.dim])
	if err != nil {
		return errs.Data(errs.PhaseBlock, "", "aggregator: append past chunk end: %w", err)
	}
	if err := dataset.CopyInto(view, data); err != nil {
		return errs.Data(errs.PhaseBlock, "", "aggregator: %w", err)
	}
	a.cursor += data.Shape[a.dim]
	return nil
}

func (a *Aggregator) checkNonSliceDims(shape dataset.Shape) error {
	for d := 0; d < 3; d++ {
		if d == a.dim {
			continue
		}
		if shape[d] != a.buf.Shape[d] {
			return errs.Data(errs.PhaseBlock, "", "aggregator: block non-slice dim %d is %d, does not match the shape fixed by the first append (%d)", d, shape[d], a.buf.Shape[d])
		}
	}
	return nil
}

// Done reports whether every slice along the slicing dim has been
// appended.
func (a *Aggregator) Done() bool { return a.cursor == a.total }

// Chunk returns the assembled buffer; it fails if the aggregation is not
// yet complete (§4.5 "premature access fails").
func (a *Aggregator) Chunk() (*dataset.Array, error) {
	if !a.Done() {
		return nil, errs.InternalErr(errs.PhaseBlock, "", "aggregator: chunk accessed before completion (%d/%d slices appended)", a.cursor, a.total)
	}
	return a.buf, nil
}
