package probe

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Parser produces a probe Set from an input stream. It is a narrow
// interface so callers can swap in a richer probe-info-file parser without
// the rest of the pipeline noticing.
type Parser interface {
	Parse(r io.Reader) (Set, error)
}

// tsvFields lists the column order ParseTSV expects, matching the Probe
// tuple's field order.
var tsvFields = []string{
	"id", "sequence_name",
	"extension_primer_start", "extension_primer_stop",
	"capture_target_start", "capture_target_stop",
	"ligation_primer_start", "ligation_primer_stop",
	"strand",
	"extension_primer_sequence", "ligation_primer_sequence",
}

// TSVParser parses the minimal tab-separated probe-info format: a header
// line naming tsvFields's columns (in that order) followed by one data line
// per probe.
type TSVParser struct{}

// Parse implements Parser.
func (TSVParser) Parse(r io.Reader) (Set, error) { return ParseTSV(r) }

// ParseTSV reads probe records from r, modeled on encoding/fasta's
// bufio.Scanner-based line parser: scan lines, split on tabs, no quoting.
func ParseTSV(r io.Reader) (Set, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(bufio.ScanLines)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Set{}, errors.Wrap(err, "probe: read header")
		}
		return Set{}, errors.New("probe: empty probe file")
	}
	header := strings.Split(scanner.Text(), "\t")
	if len(header) != len(tsvFields) {
		return Set{}, errors.Errorf("probe: expected %d columns, header has %d", len(tsvFields), len(header))
	}
	for i, want := range tsvFields {
		if header[i] != want {
			return Set{}, errors.Errorf("probe: column %d: expected %q, got %q", i, want, header[i])
		}
	}

	var probes []Probe
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != len(tsvFields) {
			return Set{}, errors.Errorf("probe: line %d: expected %d columns, got %d", lineNo, len(tsvFields), len(fields))
		}
		p, err := parseProbeLine(fields)
		if err != nil {
			return Set{}, errors.Wrapf(err, "probe: line %d", lineNo)
		}
		probes = append(probes, p)
	}
	if err := scanner.Err(); err != nil {
		return Set{}, errors.Wrap(err, "probe: scan")
	}
	return NewSet(probes)
}

func parseProbeLine(fields []string) (Probe, error) {
	ints := make([]int, 6)
	positions := []string{
		fields[2], fields[3], fields[4], fields[5], fields[6], fields[7],
	}
	for i, s := range positions {
		v, err := strconv.Atoi(s)
		if err != nil {
			return Probe{}, errors.Wrapf(err, "malformed coordinate %q", s)
		}
		ints[i] = v
	}
	var strand Strand
	switch fields[8] {
	case "+":
		strand = Forward
	case "-":
		strand = Reverse
	default:
		return Probe{}, errors.Errorf("malformed strand %q", fields[8])
	}
	return Probe{
		ID:                      fields[0],
		SequenceName:            fields[1],
		ExtensionPrimerStart:    ints[0],
		ExtensionPrimerStop:     ints[1],
		CaptureTargetStart:      ints[2],
		CaptureTargetStop:       ints[3],
		LigationPrimerStart:     ints[4],
		LigationPrimerStop:      ints[5],
		Strand:                  strand,
		ExtensionPrimerSequence: fields[9],
		LigationPrimerSequence:  fields[10],
	}, nil
}
