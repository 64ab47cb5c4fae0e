// Package bamio is the narrow external output contract: a BAM writer
// accepting a sorted stream of records plus a header carrying the probe
// set's sequences and a single read group, and a family of tab-separated
// side-channel writers. The default implementations are adapters over
// github.com/grailbio/hts/sam and github.com/grailbio/hts/bam, following
// encoding/bam's record/tag conventions.
package bamio

import (
	"bufio"
	"io"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// Writer is the pipeline's only view onto the output BAM stream: write
// records in the order OutputAssembler hands them over, then close.
type Writer interface {
	Write(r *sam.Record) error
	Close() error
}

// Custom BAM tags per the run's output contract.
var (
	TagExtensionUID = sam.NewTag("EI")
	TagLigationUID  = sam.NewTag("LI")
	TagUIDGroup     = sam.NewTag("UG")
	TagProbeID      = sam.NewTag("PI")
	TagMappedLength = sam.NewTag("ML")
	TagExtensionErr = sam.NewTag("EE")
)

// SetAux appends or replaces an auxiliary tag value on r. sam.Record's
// AuxFields is a plain slice (see encoding/bam's ClearAuxTags convention),
// so this both adds new tags and clears old values for tags being
// overwritten.
func SetAux(r *sam.Record, tag sam.Tag, value interface{}) error {
	aux, err := sam.NewAux(tag, value)
	if err != nil {
		return errors.Wrapf(err, "bamio: set tag %s", tag)
	}
	for i, existing := range r.AuxFields {
		if existing.Tag() == tag {
			r.AuxFields[i] = aux
			return nil
		}
	}
	r.AuxFields = append(r.AuxFields, aux)
	return nil
}

// HeaderConfig describes the fixed pieces of the output header: the
// sequence dictionary (from the probe set's distinct sequence_name
// values, see probe.Set) and the single read group derived from the
// input file names.
type HeaderConfig struct {
	SequenceNames   []string
	SequenceLengths []int
	ReadGroupID     string
	Sample          string
}

// NewHeader builds a *sam.Header carrying cfg's sequence dictionary and
// one read-group line, the way markduplicates' tests build one via
// sam.NewReference/sam.NewHeader, generalized here to a run-time-built
// dictionary instead of a fixed test fixture.
func NewHeader(cfg HeaderConfig) (*sam.Header, error) {
	if len(cfg.SequenceNames) != len(cfg.SequenceLengths) {
		return nil, errors.New("bamio: sequence name/length count mismatch")
	}
	refs := make([]*sam.Reference, len(cfg.SequenceNames))
	for i, name := range cfg.SequenceNames {
		ref, err := sam.NewReference(name, "", "", cfg.SequenceLengths[i], nil, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "bamio: reference %s", name)
		}
		refs[i] = ref
	}
	rgLine := "@RG\tID:" + cfg.ReadGroupID + "\tSM:" + cfg.Sample + "\n"
	header, err := sam.NewHeader([]byte(rgLine), refs)
	if err != nil {
		return nil, errors.Wrap(err, "bamio: build header")
	}
	return header, nil
}

// bamWriter is the default Writer, a thin adapter over bam.Writer.
type bamWriter struct {
	w *bam.Writer
}

// NewBAMWriter opens a BGZF-compressed BAM stream on w using header,
// matching encoding/bam's shardedbam_test.go NewWriter(out, header,
// parallelism) call shape; parallelism 1 keeps output deterministic
// record-for-record, which Finalize's stable sort already guarantees.
func NewBAMWriter(w io.Writer, header *sam.Header) (Writer, error) {
	bw, err := bam.NewWriter(w, header, 1)
	if err != nil {
		return nil, errors.Wrap(err, "bamio: open BAM writer")
	}
	return &bamWriter{w: bw}, nil
}

func (b *bamWriter) Write(r *sam.Record) error {
	if err := b.w.Write(r); err != nil {
		return errors.Wrap(err, "bamio: write record")
	}
	return nil
}

func (b *bamWriter) Close() error {
	return errors.Wrap(b.w.Close(), "bamio: close BAM writer")
}

// SideChannel is one of the five optional tab-separated report streams
// (§6): ambiguous mappings, probe/UID/quality per pair, unable-to-align
// primer, unmapped pairs, and primer-alignment detail. Absence of a
// SideChannel must never impair the core pipeline, so every call site
// nil-checks before writing.
type SideChannel struct {
	w      *bufio.Writer
	closer io.Closer
}

// NewSideChannel wraps w with a header row, matching pileup/snp/output.go's
// "write the header line once, then one WriteString-joined row per record"
// convention.
func NewSideChannel(w io.Writer, header string) *SideChannel {
	bw := bufio.NewWriter(w)
	bw.WriteString(header)
	bw.WriteByte('\n')
	closer, _ := w.(io.Closer)
	return &SideChannel{w: bw, closer: closer}
}

// WriteRow writes one tab-joined row.
func (s *SideChannel) WriteRow(fields ...string) error {
	for i, f := range fields {
		if i > 0 {
			if err := s.w.WriteByte('\t'); err != nil {
				return err
			}
		}
		if _, err := s.w.WriteString(f); err != nil {
			return err
		}
	}
	return s.w.WriteByte('\n')
}

// Close flushes buffered output and closes the underlying writer if it
// implements io.Closer.
func (s *SideChannel) Close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Header rows for each of the five side channels named in §6.
const (
	AmbiguousHeader          = "pair_ordinal\tprobe_ids\tstrands"
	ProbeUIDQualityHeader    = "pair_ordinal\tprobe_id\tuid\ttotal_quality"
	UnableToAlignHeader      = "pair_ordinal\tprobe_id\tuid\tedit_distance"
	UnmappedHeader           = "pair_ordinal\theader\tbases1\tbases2"
	PrimerAlignmentDetail    = "pair_ordinal\tprobe_id\tcigar\tscore"
)
