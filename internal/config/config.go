// Package config loads and merges the run configuration spec.md §6 names:
// a set of command-line flags (bound directly to an Opts value, the same
// fusion.Opts/markduplicates.Opts flat-struct-with-DefaultOpts convention
// pipeline.Opts itself follows) and an optional YAML file supplying the
// same fields, consulted only for flags the caller left at their default.
package config

import (
	"context"
	"runtime"

	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/bpow/heatseq/align"
	"github.com/bpow/heatseq/pipeline"
	"github.com/bpow/heatseq/probeindex"
	"github.com/bpow/heatseq/uidextract"
)

// OneOrMany decodes a YAML scalar or a YAML sequence into a slice, the
// tagged-variant replacement for the source's instanceof-style
// single-value-or-list discrimination (spec.md §9). A bare scalar becomes a
// one-element slice; a sequence decodes element-wise.
type OneOrMany[T any] []T

// UnmarshalYAML implements yaml.Unmarshaler (github.com/go-yaml/yaml v3's
// node-based hook, the same library's package path gopkg.in/yaml.v3 this
// repo takes the dependency on for exactly this shape).
func (o *OneOrMany[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var many []T
		if err := node.Decode(&many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	var one T
	if err := node.Decode(&one); err != nil {
		return err
	}
	*o = OneOrMany[T]{one}
	return nil
}

// Opts is the full set of run options, spanning both spec.md §6's
// recognized pipeline options and the file paths a run needs that the
// pipeline package itself is silent on (probe/genome/read inputs, output
// destinations).
type Opts struct {
	ProbesPath OneOrMany[string] `yaml:"probes"`
	GenomePath string            `yaml:"genome"`
	R1Paths    OneOrMany[string] `yaml:"r1"`
	R2Paths    OneOrMany[string] `yaml:"r2"`

	OutputPath      string `yaml:"output"`
	ReadGroupID     string `yaml:"read_group_id"`
	Sample          string `yaml:"sample"`
	AmbiguousPath   string `yaml:"ambiguous_path"`
	ProbeUIDPath    string `yaml:"probe_uid_quality_path"`
	UnableAlignPath string `yaml:"unable_to_align_path"`
	UnmappedPath    string `yaml:"unmapped_path"`
	PrimerDetail    string `yaml:"primer_detail_path"`

	UIDLength                       int  `yaml:"uid_length"`
	VariableLengthUIDs              bool `yaml:"variable_length_uids"`
	Workers                         int  `yaml:"workers"`
	KmerSize                        int  `yaml:"kmer_size"`
	MinKmerHits                     int  `yaml:"min_kmer_hits"`
	PrimerEditDistanceCutoffDivisor int  `yaml:"primer_edit_distance_cutoff_divisor"`
	MappingQualityDefault           int  `yaml:"mapping_quality_default"`
}

// DefaultOpts mirrors pipeline.DefaultOpts for the fields config shares
// with it, except UIDLength, which defaults to 8 here; it adds default read
// group and sample names, and leaves the file paths a caller must supply
// empty.
var DefaultOpts = Opts{
	Workers:                         runtime.NumCPU(),
	UIDLength:                       8,
	KmerSize:                        pipeline.DefaultOpts.KmerSize,
	MinKmerHits:                     probeindex.DefaultMinHits,
	PrimerEditDistanceCutoffDivisor: uidextract.DefaultEditDistanceDivisor,
	MappingQualityDefault:           pipeline.DefaultOpts.MappingQualityDefault,
	ReadGroupID:                     "heatseq",
	Sample:                          "sample",
}

// Load reads a YAML configuration file at path into a copy of DefaultOpts,
// so any field the file omits keeps its built-in default. An empty path is
// not an error: it returns DefaultOpts unchanged, matching spec.md's "a
// config file is optional."
func Load(ctx context.Context, path string) (*Opts, error) {
	opts := DefaultOpts
	if path == "" {
		return &opts, nil
	}
	data, err := file.ReadFile(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}
	return &opts, nil
}

// PipelineOpts projects the pipeline-relevant subset of o into a
// pipeline.Opts, filling in align.Align/align.AlignFreeReferenceEnds's
// scorer from pipeline.DefaultOpts since spec.md §6 does not name the
// match/mismatch/gap scores as configurable options.
func (o *Opts) PipelineOpts() pipeline.Opts {
	opts := pipeline.DefaultOpts
	opts.UIDLength = o.UIDLength
	opts.VariableLengthUIDs = o.VariableLengthUIDs
	if o.Workers > 0 {
		opts.Workers = o.Workers
	}
	if o.KmerSize > 0 {
		opts.KmerSize = o.KmerSize
	}
	if o.MinKmerHits > 0 {
		opts.MinKmerHits = o.MinKmerHits
	}
	if o.PrimerEditDistanceCutoffDivisor > 0 {
		opts.PrimerEditDistanceCutoffDivisor = o.PrimerEditDistanceCutoffDivisor
	}
	if o.MappingQualityDefault > 0 {
		opts.MappingQualityDefault = o.MappingQualityDefault
	}
	return opts
}

// Scorer exposes the fixed alignment scorer alongside PipelineOpts, for
// callers that build an uidextract.Extractor directly rather than going
// through pipeline.Pipeline.
func Scorer() align.Scorer { return pipeline.DefaultOpts.Scorer }
