// heatseq-map is the CLI front end wiring the library's layers together:
// probe.ParseTSV loads the probe set, genome.Open opens the reference,
// probeindex.Build indexes the probes' capture targets, pipeline.Run
// classifies/dedups/extends every read pair, and bamio.Writer emits the
// resulting BAM. Modeled on cmd/bio-fusion/main.go and
// cmd/bio-pileup/main.go's flag/grail.Init/vcontext.Background shape.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"

	"github.com/bpow/heatseq/bamio"
	"github.com/bpow/heatseq/genome"
	"github.com/bpow/heatseq/internal/config"
	"github.com/bpow/heatseq/pipeline"
	"github.com/bpow/heatseq/probe"
	"github.com/bpow/heatseq/probeindex"
	"github.com/bpow/heatseq/readio"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [OPTIONS]

heatseq-map maps paired-end targeted-resequencing reads to their capture
probes, collapses PCR/optical duplicates by UID, extends each surviving
pair to its probe's reference coordinates, and writes a sorted BAM.

`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	configPath := scanConfigFlag(os.Args[1:])
	ctx := vcontext.Background()
	base, err := config.Load(ctx, configPath)
	if err != nil {
		log.Fatalf("heatseq-map: %v", err)
	}

	opts := *base
	var probesFlag, r1Flag, r2Flag string
	flag.StringVar(&configPath, "config", configPath, "Optional YAML file supplying any of these options; flags explicitly given on the command line take precedence.")
	flag.StringVar(&probesFlag, "probes", strings.Join(opts.ProbesPath, ","), "Comma-separated probe TSV file paths (see probe.ParseTSV).")
	flag.StringVar(&opts.GenomePath, "genome", opts.GenomePath, "Compact genome file path.")
	flag.StringVar(&r1Flag, "r1", strings.Join(opts.R1Paths, ","), "Comma-separated mate-one FASTQ file paths.")
	flag.StringVar(&r2Flag, "r2", strings.Join(opts.R2Paths, ","), "Comma-separated mate-two FASTQ file paths.")
	flag.StringVar(&opts.OutputPath, "output", opts.OutputPath, "Output BAM path.")
	flag.StringVar(&opts.ReadGroupID, "read-group-id", opts.ReadGroupID, "Output read group ID.")
	flag.StringVar(&opts.Sample, "sample", opts.Sample, "Output read group sample name.")
	flag.StringVar(&opts.AmbiguousPath, "ambiguous-output", opts.AmbiguousPath, "Optional ambiguous-mapping side-channel TSV path.")
	flag.StringVar(&opts.ProbeUIDPath, "probe-uid-quality-output", opts.ProbeUIDPath, "Optional probe/UID/quality side-channel TSV path.")
	flag.StringVar(&opts.UnableAlignPath, "unable-to-align-output", opts.UnableAlignPath, "Optional unable-to-align-primer side-channel TSV path.")
	flag.StringVar(&opts.UnmappedPath, "unmapped-output", opts.UnmappedPath, "Optional unmapped-pairs side-channel TSV path.")
	flag.StringVar(&opts.PrimerDetail, "primer-detail-output", opts.PrimerDetail, "Optional primer-alignment-detail side-channel TSV path.")
	flag.IntVar(&opts.UIDLength, "uid-length", opts.UIDLength, "Nominal UID length.")
	flag.BoolVar(&opts.VariableLengthUIDs, "variable-length-uids", opts.VariableLengthUIDs, "Re-derive the UID boundary by aligning against each probe's primer.")
	flag.IntVar(&opts.Workers, "workers", opts.Workers, "Worker pool size for phase 1 classification and phase 2 extension.")
	flag.IntVar(&opts.KmerSize, "kmer-size", opts.KmerSize, "Probe index k-mer size (8-16).")
	flag.IntVar(&opts.MinKmerHits, "min-kmer-hits", opts.MinKmerHits, "Minimum diagonal-consistent k-mer hit count to accept a probe candidate.")
	flag.IntVar(&opts.PrimerEditDistanceCutoffDivisor, "primer-edit-distance-cutoff-divisor", opts.PrimerEditDistanceCutoffDivisor, "Reject primer alignment when edit distance >= primer_length/this.")
	flag.IntVar(&opts.MappingQualityDefault, "mapping-quality-default", opts.MappingQualityDefault, "MAPQ assigned to every mapped output record.")
	flag.Parse()

	if probesFlag != "" {
		opts.ProbesPath = splitPaths(probesFlag)
	}
	if r1Flag != "" {
		opts.R1Paths = splitPaths(r1Flag)
	}
	if r2Flag != "" {
		opts.R2Paths = splitPaths(r2Flag)
	}
	if len(opts.ProbesPath) == 0 || opts.GenomePath == "" || len(opts.R1Paths) == 0 || len(opts.R2Paths) == 0 || opts.OutputPath == "" {
		log.Fatalf("heatseq-map: -probes, -genome, -r1, -r2, and -output (or their config-file equivalents) are all required")
	}
	if len(opts.R1Paths) != len(opts.R2Paths) {
		log.Fatalf("heatseq-map: -r1 and -r2 must name the same number of files (%d vs %d)", len(opts.R1Paths), len(opts.R2Paths))
	}

	if err := run(ctx, &opts); err != nil {
		log.Fatalf("heatseq-map: %v", err)
	}
}

// scanConfigFlag pre-scans argv for -config/--config so its value is known
// before the rest of the flags are declared with YAML-resolved defaults;
// it is re-registered as a normal flag below so flag.Parse and -h still
// see it.
func scanConfigFlag(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func splitPaths(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func run(ctx context.Context, opts *config.Opts) error {
	probes, err := loadProbes(ctx, opts.ProbesPath)
	if err != nil {
		return errors.Wrap(err, "load probes")
	}
	log.Printf("heatseq-map: loaded %d probes", probes.Len())

	store, err := genome.Open(ctx, opts.GenomePath)
	if err != nil {
		return errors.Wrap(err, "open genome")
	}
	defer store.Close()

	idx, err := probeindex.Build(probes, opts.KmerSize, probeindex.FetchFromGenome(ctx, store))
	if err != nil {
		return errors.Wrap(err, "build probe index")
	}

	p := pipeline.New(opts.PipelineOpts(), probes, idx, store)

	channels, closeChannels, err := openSideChannels(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "open side channels")
	}
	defer closeChannels()

	newSource := func() (readio.PairSource, error) {
		return newFastqChain(ctx, opts.R1Paths, opts.R2Paths)
	}
	records, err := p.Run(ctx, newSource, channels)
	if err != nil {
		return errors.Wrap(err, "run pipeline")
	}
	log.Printf("heatseq-map: %s", p.Metrics.String())

	if err := writeOutput(ctx, opts, probes, records); err != nil {
		return errors.Wrap(err, "write output")
	}
	return nil
}

func loadProbes(ctx context.Context, paths []string) (probe.Set, error) {
	var all []probe.Probe
	for _, path := range paths {
		data, err := file.ReadFile(ctx, path)
		if err != nil {
			return probe.Set{}, errors.Wrapf(err, "read %s", path)
		}
		set, err := probe.ParseTSV(bytes.NewReader(data))
		if err != nil {
			return probe.Set{}, errors.Wrapf(err, "parse %s", path)
		}
		all = append(all, set.All()...)
	}
	return probe.NewSet(all)
}

func writeOutput(ctx context.Context, opts *config.Opts, probes probe.Set, records []*sam.Record) error {
	names, lengths := sequenceDictionary(probes)
	header, err := bamio.NewHeader(bamio.HeaderConfig{
		SequenceNames:   names,
		SequenceLengths: lengths,
		ReadGroupID:     opts.ReadGroupID,
		Sample:          opts.Sample,
	})
	if err != nil {
		return err
	}
	out, err := file.Create(ctx, opts.OutputPath)
	if err != nil {
		return errors.Wrapf(err, "create %s", opts.OutputPath)
	}
	w, err := bamio.NewBAMWriter(out.Writer(ctx), header)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	return out.Close(ctx)
}

// sequenceDictionary derives the output header's sequence dictionary from
// the probe set's distinct sequence_name values, per spec.md §6. Since
// probe.Probe does not carry a full contig length, each distinct sequence
// is given a nominal length of its furthest probe capture-target stop;
// bamio.NewHeader only needs a length large enough for valid BAI indexing
// of positions this run can actually emit.
func sequenceDictionary(probes probe.Set) (names []string, lengths []int) {
	order := make([]string, 0)
	maxEnd := make(map[string]int)
	seen := make(map[string]bool)
	for _, p := range probes.All() {
		if !seen[p.SequenceName] {
			seen[p.SequenceName] = true
			order = append(order, p.SequenceName)
		}
		if p.CaptureTargetStop > maxEnd[p.SequenceName] {
			maxEnd[p.SequenceName] = p.CaptureTargetStop
		}
	}
	names = order
	lengths = make([]int, len(order))
	for i, name := range order {
		lengths[i] = maxEnd[name]
	}
	return names, lengths
}
