package methods

import (
	"math"
	"testing"

	"github.com/team-gpu/httomo/internal/dataset"
	"github.com/team-gpu/httomo/internal/wrapper"
)

func TestLookupResolvesBuiltinCatalogue(t *testing.T) {
	for key := range table {
		module, method := key, key
		for i := len(key) - 1; i >= 0; i-- {
			if key[i] == '.' {
				module, method = key[:i], key[i+1:]
				break
			}
		}
		if _, err := Lookup(module, method); err != nil {
			t.Fatalf("Lookup(%q, %q): %v", module, method, err)
		}
	}
}

func TestLookupUnknownMethodErrors(t *testing.T) {
	if _, err := Lookup("nonexistent.module", "nope"); err == nil {
		t.Fatal("expected an error for an unregistered method")
	}
}

func TestNormalizeMethodDividesByFlatMinusDark(t *testing.T) {
	data := dataset.NewArray(dataset.Shape{1, 1, 1})
	data.Set(0, 0, 0, 50)
	darks := dataset.NewArray(dataset.Shape{1, 1, 1})
	darks.Set(0, 0, 0, 10)
	flats := dataset.NewArray(dataset.Shape{1, 1, 1})
	flats.Set(0, 0, 0, 110)

	ret, err := normalizeMethod{}.Call(wrapper.Args{"data": data, "darks": darks, "flats": flats})
	if err != nil {
		t.Fatal(err)
	}
	out := ret.(*dataset.Array)
	want := float32(0.4) // (50-10)/(110-10)
	if diff := out.At(0, 0, 0) - want; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("normalized = %v, want %v", out.At(0, 0, 0), want)
	}
}

func TestMinusLogMethodNegatesNaturalLog(t *testing.T) {
	data := dataset.NewArray(dataset.Shape{1, 1, 1})
	data.Set(0, 0, 0, float32(math.E))

	ret, err := minusLogMethod{}.Call(wrapper.Args{"data": data})
	if err != nil {
		t.Fatal(err)
	}
	out := ret.(*dataset.Array)
	if diff := out.At(0, 0, 0) - (-1); diff > 1e-5 || diff < -1e-5 {
		t.Fatalf("-ln(e) = %v, want -1", out.At(0, 0, 0))
	}
}

func TestResamplerMethodBoxAveragesByFactor(t *testing.T) {
	data := dataset.NewArray(dataset.Shape{1, 2, 2})
	data.Set(0, 0, 0, 10)
	data.Set(0, 0, 1, 20)
	data.Set(0, 1, 0, 30)
	data.Set(0, 1, 1, 40)

	ret, err := resamplerMethod{}.Call(wrapper.Args{"data": data, "bin": 2})
	if err != nil {
		t.Fatal(err)
	}
	out := ret.(*dataset.Array)
	if out.Shape != (dataset.Shape{1, 1, 1}) {
		t.Fatalf("shape = %v, want {1,1,1}", out.Shape)
	}
	if want := float32(25); out.At(0, 0, 0) != want {
		t.Fatalf("averaged = %v, want %v", out.At(0, 0, 0), want)
	}
}

func TestImageBucketIsDeterministicAndInRange(t *testing.T) {
	for rank := 0; rank < 4; rank++ {
		for slice := 0; slice < 40; slice++ {
			b := imageBucket(rank, slice)
			if b < 0 || b >= imageBuckets {
				t.Fatalf("imageBucket(%d,%d) = %d, out of [0,%d)", rank, slice, b, imageBuckets)
			}
			if again := imageBucket(rank, slice); again != b {
				t.Fatalf("imageBucket(%d,%d) not deterministic: %d vs %d", rank, slice, b, again)
			}
		}
	}
}

func TestImageBucketSpreadsAcrossDistinctSlices(t *testing.T) {
	seen := make(map[int]bool)
	for slice := 0; slice < imageBuckets*4; slice++ {
		seen[imageBucket(0, slice)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("imageBucket assigned only %d distinct bucket(s) across %d slices, want spread", len(seen), imageBuckets*4)
	}
}

func TestCenterMethodCentroidOfSymmetricRowIsMidpoint(t *testing.T) {
	sino := dataset.NewArray(dataset.Shape{1, 1, 5})
	vals := []float32{1, 2, 3, 2, 1}
	for k, v := range vals {
		sino.Set(0, 0, k, v)
	}
	ret, err := centerMethod{}.Call(wrapper.Args{"sino": sino})
	if err != nil {
		t.Fatal(err)
	}
	center := ret.(float64)
	if diff := center - 2.0; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("center = %v, want 2.0 (symmetric row centers at index 2)", center)
	}
}
