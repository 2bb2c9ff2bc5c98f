package methods

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/dchest/siphash"
	"golang.org/x/image/tiff"

	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/wrapper"
)

// imageBuckets shards a run's .tif output across subdirectories rather
// than one flat directory, the same distribute-by-hash idiom
// ion/zion/hash.go's sym2bucket uses to spread symbols across a fixed
// number of buckets for parallel processing.
const imageBuckets = 16

// imageBucket assigns (rank, slice) to one of imageBuckets directories.
// siphash.Hash is keyed on the rank so a run's files land in the same
// buckets on a re-run, matching sym2bucket's "reproducible keyed hash"
// property.
func imageBucket(rank, slice int) int {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(rank))
	binary.LittleEndian.PutUint32(buf[4:], uint32(slice))
	return int(siphash.Hash(0, uint64(rank), buf[:]) % imageBuckets)
}

// writeImages writes one grayscale .tif per slice along the block's
// axis 0, normalized to the block's own min/max, matching
// save_to_images' "one file per slice, scaled for viewing" contract.
func writeImages(args wrapper.Args) (any, error) {
	data, ok := args["data"].(*dataset.Array)
	if !ok {
		return nil, fmt.Errorf("methods: save_to_images expected *dataset.Array, got %T", args["data"])
	}
	outDir, _ := args["out_dir"].(string)
	rank, _ := args["comm_rank"].(int)
	if outDir == "" {
		return nil, nil
	}
	imagesDir := filepath.Join(outDir, "images")

	lo, hi := sliceExtrema(data)
	for i := 0; i < data.Shape[0]; i++ {
		img := image.NewGray16(image.Rect(0, 0, data.Shape[2], data.Shape[1]))
		for j := 0; j < data.Shape[1]; j++ {
			for k := 0; k < data.Shape[2]; k++ {
				v := scaleTo16(data.At(i, j, k), lo, hi)
				img.SetGray16(k, j, color.Gray16{Y: v})
			}
		}
		bucketDir := filepath.Join(imagesDir, fmt.Sprintf("bucket-%02d", imageBucket(rank, i)))
		if err := os.MkdirAll(bucketDir, 0o755); err != nil {
			return nil, err
		}
		path := filepath.Join(bucketDir, fmt.Sprintf("rank%d-slice%04d.tif", rank, i))
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		err = tiff.Encode(f, img, nil)
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func sliceExtrema(a *dataset.Array) (lo, hi float32) {
	a = a.Contiguous()
	if len(a.Data) == 0 {
		return 0, 1
	}
	lo, hi = a.Data[0], a.Data[0]
	for _, v := range a.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi
}

func scaleTo16(v, lo, hi float32) uint16 {
	norm := (v - lo) / (hi - lo)
	if norm < 0 {
		norm = 0
	}
	if norm > 1 {
		norm = 1
	}
	return uint16(norm * 65535)
}
