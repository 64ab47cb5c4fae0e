// Package probe holds the capture-probe data model: the immutable Probe and
// ProbeReference value types, and the ordered Set the rest of the pipeline
// iterates over.
package probe

import "github.com/pkg/errors"

// Strand is the genomic strand a probe's capture target lies on.
type Strand byte

const (
	Forward Strand = '+'
	Reverse Strand = '-'
)

// Opposite returns the other strand.
func (s Strand) Opposite() Strand {
	if s == Forward {
		return Reverse
	}
	return Forward
}

// Probe is one capture-probe definition: an extension primer and a ligation
// primer bracketing a capture target on a named reference sequence. All
// coordinates are 1-based inclusive, matching the genome store's external
// API.
type Probe struct {
	ID           string
	SequenceName string

	ExtensionPrimerStart int
	ExtensionPrimerStop  int
	CaptureTargetStart   int
	CaptureTargetStop    int
	LigationPrimerStart  int
	LigationPrimerStop   int

	Strand Strand

	ExtensionPrimerSequence string
	LigationPrimerSequence  string
}

// Reference pairs a Probe with the strand used to index one of its two
// capture-target orientations; the forward and reverse-complement k-mers of
// a single probe's capture target are indexed as two independent
// References.
type Reference struct {
	Probe      Probe
	StrandUsed Strand
}

// Set is an ordered, id-keyed collection of probes, iterated in insertion
// order by All and looked up by id via ByID.
type Set struct {
	byID  map[string]Probe
	order []string
}

// ErrDuplicateProbeID is returned by NewSet when two probes share an id.
var ErrDuplicateProbeID = errors.New("probe: duplicate probe id")

// NewSet builds a Set from probes, preserving their given order. Probe ids
// must be unique.
func NewSet(probes []Probe) (Set, error) {
	s := Set{byID: make(map[string]Probe, len(probes)), order: make([]string, 0, len(probes))}
	for _, p := range probes {
		if _, dup := s.byID[p.ID]; dup {
			return Set{}, errors.Wrapf(ErrDuplicateProbeID, "%s", p.ID)
		}
		s.byID[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	return s, nil
}

// ByID looks up a probe by id.
func (s Set) ByID(id string) (Probe, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// All returns every probe in the set's insertion order.
func (s Set) All() []Probe {
	out := make([]Probe, len(s.order))
	for i, id := range s.order {
		out[i] = s.byID[id]
	}
	return out
}

// Len returns the number of probes in the set.
func (s Set) Len() int { return len(s.order) }
