package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/team-gpu/httomo/internal/errs"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesLoaderAndMethods(t *testing.T) {
	path := writeYAML(t, `
- httomo.data.hdf.loaders:
    standard_tomo:
      name: tomo
      data_path: /entry/data/data
- httomolibgpu.prep.normalize:
    normalize:
      cutoff: 10
- tomopy.recon.algorithm:
    recon:
      algorithm: gridrec
      center: 128.5
`)
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Loader.Module != "httomo.data.hdf.loaders" || p.Loader.Method != "standard_tomo" {
		t.Fatalf("loader = %+v", p.Loader)
	}
	if p.Loader.Params["name"] != "tomo" {
		t.Fatalf("loader params = %+v", p.Loader.Params)
	}
	if len(p.Methods) != 2 {
		t.Fatalf("methods = %d, want 2", len(p.Methods))
	}
	if p.Methods[0].Module != "httomolibgpu.prep.normalize" || p.Methods[0].Method != "normalize" {
		t.Fatalf("methods[0] = %+v", p.Methods[0])
	}
	if p.Methods[0].Params["cutoff"] != 10 {
		t.Fatalf("methods[0] params = %+v", p.Methods[0].Params)
	}
	if p.Methods[1].Params["center"] != 128.5 {
		t.Fatalf("methods[1] params = %+v", p.Methods[1].Params)
	}
}

func TestLoadRejectsParameterSweep(t *testing.T) {
	path := writeYAML(t, `
- httomo.data.hdf.loaders:
    standard_tomo:
      name: tomo
- tomopy.misc.corr:
    median_filter:
      kernel_size:
        sweep: [3, 5, 7]
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected a ConfigurationError for a parameter sweep")
	}
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.Configuration {
		t.Fatalf("err = %v, want a ConfigurationError", err)
	}
}

func TestLoadRejectsEmptyPipeline(t *testing.T) {
	path := writeYAML(t, `[]`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected a ConfigurationError for an empty pipeline")
	}
}

func TestLoadParsesOutputRefBinding(t *testing.T) {
	path := writeYAML(t, `
- httomo.data.hdf.loaders:
    standard_tomo:
      name: tomo
- httomolibgpu.recon.rotation:
    find_center_vo: {}
- tomopy.recon.algorithm:
    recon:
      algorithm: gridrec
      center:
        from: find_center_vo.cor
`)
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	ref, ok := p.Methods[1].Params["center"].(OutputRefBinding)
	if !ok {
		t.Fatalf("center param = %#v, want an OutputRefBinding", p.Methods[1].Params["center"])
	}
	if ref.Method != "find_center_vo" || ref.Key != "cor" {
		t.Fatalf("ref = %+v, want {find_center_vo cor}", ref)
	}
}

func TestLoadRejectsMultiKeyStep(t *testing.T) {
	path := writeYAML(t, `
- httomo.data.hdf.loaders:
    standard_tomo:
      name: tomo
- tomopy.misc.corr:
    median_filter: {}
  tomopy.misc.other:
    other: {}
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected a ConfigurationError for a step declaring two module keys")
	}
}
