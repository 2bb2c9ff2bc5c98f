package reslice

import (
	"sync"
	"testing"

	"github.com/team-gpu/httomo/internal/comm"
	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/runctx"
)

func fixtureGlobal(shape dataset.Shape) *dataset.Dataset {
	data := dataset.NewArray(shape)
	for i := 0; i < shape[0]; i++ {
		for j := 0; j < shape[1]; j++ {
			for k := 0; k < shape[2]; k++ {
				data.Set(i, j, k, float32(i*1000+j*10+k))
			}
		}
	}
	darks := dataset.NewArray(dataset.Shape{2, shape[1], shape[2]})
	flats := dataset.NewArray(dataset.Shape{2, shape[1], shape[2]})
	angles := make([]float64, shape[0])
	return dataset.NewGlobal(data, darks, flats, angles)
}

// runAcrossRanks runs fn once per rank of a fresh size-rank Group
// concurrently and returns each rank's result in rank order; errors are
// collected and must be checked by the caller back on the test goroutine
// (t.Fatal is unsafe to call from a spawned goroutine).
func runAcrossRanks(size int, fn func(ctx *runctx.Context, rank int) (*dataset.Dataset, error)) ([]*dataset.Dataset, []error) {
	g := comm.NewGroup(size)
	out := make([]*dataset.Dataset, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			ctx := &runctx.Context{GPUID: -1, Comm: g.Rank(rank)}
			out[rank], errs[rank] = fn(ctx, rank)
		}(r)
	}
	wg.Wait()
	return out, errs
}

func requireNoErrors(t *testing.T, errs []error) {
	t.Helper()
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
	}
}

func TestInMemoryResliceMatchesGlobalAtNewBoundaries(t *testing.T) {
	const size = 2
	global := fixtureGlobal(dataset.Shape{4, 6, 8})
	r := New(InMemory)

	results, errs := runAcrossRanks(size, func(ctx *runctx.Context, rank int) (*dataset.Dataset, error) {
		start, length := partition(4, rank, size)
		chunkData, err := global.Data().Slice(0, start, length)
		if err != nil {
			return nil, err
		}
		chunk := global.NewChunk(dataset.Shape{start, 0, 0}, chunkData.Contiguous())
		return r.Reslice(ctx, chunk, 0, 1)
	})
	requireNoErrors(t, errs)

	for rank, resliced := range results {
		tgtStart, tgtLen := partition(6, rank, size)
		if resliced.ChunkShape() != (dataset.Shape{4, tgtLen, 8}) {
			t.Fatalf("rank %d: chunk shape = %v, want {4 %d 8}", rank, resliced.ChunkShape(), tgtLen)
		}
		if resliced.ChunkStart() != (dataset.Shape{0, tgtStart, 0}) {
			t.Fatalf("rank %d: chunk start = %v, want {0 %d 0}", rank, resliced.ChunkStart(), tgtStart)
		}
		for i := 0; i < 4; i++ {
			for j := 0; j < tgtLen; j++ {
				for k := 0; k < 8; k++ {
					want := global.Data().At(i, tgtStart+j, k)
					got := resliced.Data().At(i, j, k)
					if got != want {
						t.Fatalf("rank %d: [%d,%d,%d] = %v, want %v", rank, i, j, k, got, want)
					}
				}
			}
		}
	}
}

func TestResliceIsInvolution(t *testing.T) {
	const size = 2
	global := fixtureGlobal(dataset.Shape{4, 6, 8})
	r := New(InMemory)

	originals, errs := runAcrossRanks(size, func(ctx *runctx.Context, rank int) (*dataset.Dataset, error) {
		start, length := partition(4, rank, size)
		chunkData, err := global.Data().Slice(0, start, length)
		if err != nil {
			return nil, err
		}
		return global.NewChunk(dataset.Shape{start, 0, 0}, chunkData.Contiguous()), nil
	})
	requireNoErrors(t, errs)

	g := comm.NewGroup(size)
	results := make([]*dataset.Dataset, size)
	roundTripErrs := make([]error, size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			ctx := &runctx.Context{GPUID: -1, Comm: g.Rank(rank)}
			resliced, err := r.Reslice(ctx, originals[rank], 0, 1)
			if err != nil {
				roundTripErrs[rank] = err
				return
			}
			results[rank], roundTripErrs[rank] = r.Reslice(ctx, resliced, 1, 0)
		}(rank)
	}
	wg.Wait()
	requireNoErrors(t, roundTripErrs)

	for rank, back := range results {
		if !back.Data().Equal(originals[rank].Data()) {
			t.Fatalf("rank %d: reslicing to dim 1 and back to dim 0 did not reproduce the original chunk", rank)
		}
	}
}

func TestPartitionCoversExtentExactly(t *testing.T) {
	const extent = 11
	const size = 3
	covered := 0
	for r := 0; r < size; r++ {
		_, length := partition(extent, r, size)
		covered += length
	}
	if covered != extent {
		t.Fatalf("partition lengths sum to %d, want %d", covered, extent)
	}
}

func TestPartitionAssignsRemainderToLastRanks(t *testing.T) {
	const extent = 10
	const size = 3
	wantLengths := []int{3, 3, 4}
	wantStarts := []int{0, 3, 6}
	for r := 0; r < size; r++ {
		start, length := partition(extent, r, size)
		if start != wantStarts[r] || length != wantLengths[r] {
			t.Fatalf("rank %d: partition = (start=%d, length=%d), want (start=%d, length=%d)", r, start, length, wantStarts[r], wantLengths[r])
		}
	}
}
