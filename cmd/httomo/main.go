// Command httomo drives the pipeline engine from the command line, in
// the flag-based style of cmd/sdb/main.go: a global usage block, a
// positional subcommand, and a per-subcommand flag.FlagSet rather than a
// CLI framework dependency.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/team-gpu/httomo/internal/archive"
	"github.com/team-gpu/httomo/internal/comm"
	"github.com/team-gpu/httomo/internal/config"
	"github.com/team-gpu/httomo/internal/errs"
	"github.com/team-gpu/httomo/internal/methods"
	"github.com/team-gpu/httomo/internal/obslog"
	"github.com/team-gpu/httomo/internal/planner"
	"github.com/team-gpu/httomo/internal/registry"
	"github.com/team-gpu/httomo/internal/reslice"
	"github.com/team-gpu/httomo/internal/runctx"
	"github.com/team-gpu/httomo/internal/runner"
)

// defaultDeviceMemory stands in for a cupy/cudaMemGetInfo query: no CUDA
// binding exists anywhere in this module's dependency corpus (device
// execution is contract-only, out of scope per §1), so a bound device is
// assumed to report this much free memory rather than actually querying
// one.
const defaultDeviceMemory = 4 << 30 // 4 GiB

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "    %s run <in_data_file> <pipeline_config> <out_dir> [--save-all] [--gpu-id N] [--reslice-dir DIR] [--max-cpu-slices M] [--output-folder NAME]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "        run a pipeline end to end\n")
	fmt.Fprintf(os.Stderr, "    %s check <pipeline_config> [<in_data>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "        validate a pipeline's structure without executing it\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "check":
		err = checkCmd(os.Args[2:])
	case "-h", "-help", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errs.ExitCode(err))
	}
}

func runCmd(args []string) error {
	if len(args) < 3 {
		usage()
		os.Exit(1)
	}
	inDataFile, pipelineFile, outDir := args[0], args[1], args[2]

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	saveAll := fs.Bool("save-all", false, "force save_result on every method")
	gpuID := fs.Int("gpu-id", -1, "device id to bind, or -1 for host-only execution")
	resliceDir := fs.String("reslice-dir", "", "directory for file-backed reslice staging; empty means in-memory")
	maxCPUSlices := fs.Int("max-cpu-slices", planner.DefaultCPUCap(), "maximum slices per block on host-placed sections")
	outputFolder := fs.String("output-folder", "", "name suffix appended to the run's output directory")
	if err := fs.Parse(args[3:]); err != nil {
		return err
	}

	pipeline, err := config.Load(pipelineFile)
	if err != nil {
		return err
	}

	reg := registry.Builtin()
	loaderInfo, _ := reg.Query(pipeline.Loader.Module, pipeline.Loader.Method)

	resliceMode := reslice.InMemory
	if *resliceDir != "" {
		resliceMode = reslice.FileBacked
	}

	g := comm.NewGroup(1)
	ctx := &runctx.Context{
		GPUID:        *gpuID,
		MaxCPUSlices: *maxCPUSlices,
		ResliceDir:   *resliceDir,
		SaveAll:      *saveAll,
		Comm:         g.Rank(0),
	}
	memQuery := func() (int64, error) {
		if !ctx.HasDevice() {
			return 0, errs.Capability("", "a device-placed method requires --gpu-id, none was bound")
		}
		return defaultDeviceMemory, nil
	}

	r := runner.New(reg, methods.Lookup, memQuery, resliceMode, 0.1)

	if err := r.Init(ctx, outDir, *outputFolder, pipelineFile, true); err != nil {
		return err
	}

	reader := archive.NewFlatFileReader(inDataFile, loaderInfo.Pattern.SlicingDim())
	info, err := reader.Open()
	if err != nil {
		return errs.IOErr(errs.PhasePlan, "", "opening archive %s: %w", inDataFile, err)
	}
	ctx.Log.Once(0, obslog.LevelInfo, obslog.ColourNone, fmt.Sprintf("global shape %v, angle units %v", info.GlobalShape, info.AngleUnits))

	chunk, err := reader.ReadChunk(ctx.Rank(), ctx.Comm.Size())
	if err != nil {
		return errs.IOErr(errs.PhasePlan, "", "reading chunk: %w", err)
	}

	built, err := r.BuildWrappers(pipeline.Methods, *saveAll)
	if err != nil {
		return err
	}
	globalShape := chunk.GlobalShape()
	built = r.InsertIntermediateWriters(built, ctx.RunOutDir, globalShape, globalShape[2], globalShape[1], chunk.Angles())

	started := time.Now()
	stats, err := r.Run(ctx, chunk, loaderInfo.Pattern, built)
	if err != nil {
		return err
	}
	elapsed := time.Since(started)

	if err := r.Finish(ctx, elapsed); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d section(s), %d block(s), %s\n", stats.SectionsRun, stats.BlocksRun, elapsed)
	return nil
}

func checkCmd(args []string) error {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	pipelineFile := args[0]

	pipeline, err := config.Load(pipelineFile)
	if err != nil {
		return err
	}

	reg := registry.Builtin()
	loaderInfo, _ := reg.Query(pipeline.Loader.Module, pipeline.Loader.Method)

	r := runner.New(reg, methods.Lookup, nil, reslice.InMemory, 0.1)
	result, err := r.Check(pipeline.Methods, loaderInfo.Pattern)
	if err != nil {
		return err
	}

	if len(args) >= 2 {
		reader := archive.NewFlatFileReader(args[1], loaderInfo.Pattern.SlicingDim())
		info, err := reader.Open()
		if err != nil {
			return errs.IOErr(errs.PhasePlan, "", "opening archive %s: %w", args[1], err)
		}
		fmt.Printf("ok: %d section(s), global shape %v\n", len(result.Sections), info.GlobalShape)
		return nil
	}

	fmt.Printf("ok: %d section(s)\n", len(result.Sections))
	return nil
}
