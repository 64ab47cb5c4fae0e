// Package uidextract implements the two UID-parsing modes a probe set can
// specify: a fixed-length UID taken verbatim from the read's prefix, and a
// variable-length UID whose boundary is found by aligning the probe's primer
// sequence in full against the read, with the read's ends left unscored.
package uidextract

import (
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"

	"github.com/bpow/heatseq/align"
	"github.com/bpow/heatseq/readio"
	"github.com/bpow/heatseq/seq"
)

// ErrPrimerMisaligned is returned by RecomputeWithPrimer when the read's
// primer region edit distance against the expected primer sequence is too
// high to trust the discovered UID boundary.
var ErrPrimerMisaligned = errors.New("uidextract: primer misaligned")

// DefaultEditDistanceDivisor is the spec's recommended cutoff divisor:
// a pair fails primer alignment when edit distance >= primer_length/4.
const DefaultEditDistanceDivisor = 4

// Extractor carries the configuration shared by both UID modes.
type Extractor struct {
	// NominalLength is the expected UID length L, used verbatim in fixed
	// mode and as the pre-classification approximation in variable mode
	// (before the specific probe, and hence its primer, is known).
	NominalLength int

	// Variable enables primer-anchored variable-length UID extraction;
	// when false, InitialTrim's result is final.
	Variable bool

	// Scorer configures RecomputeWithPrimer's alignment.
	Scorer align.Scorer

	// EditDistanceDivisor is the primer_length divisor past which
	// RecomputeWithPrimer fails with ErrPrimerMisaligned.
	EditDistanceDivisor int
}

// NewFixedLength returns an Extractor in fixed-length mode.
func NewFixedLength(length int) *Extractor {
	return &Extractor{NominalLength: length}
}

// NewVariableLength returns an Extractor in primer-anchored variable-length
// mode, falling back to nominalLength only for the pre-classification
// InitialTrim.
func NewVariableLength(nominalLength int, scorer align.Scorer, editDistanceDivisor int) *Extractor {
	if editDistanceDivisor <= 0 {
		editDistanceDivisor = DefaultEditDistanceDivisor
	}
	return &Extractor{
		NominalLength:       nominalLength,
		Variable:            true,
		Scorer:              scorer,
		EditDistanceDivisor: editDistanceDivisor,
	}
}

// InitialTrim splits rec into a UID prefix and a tail using NominalLength,
// the approximation used before a pair's probe is known. If rec is shorter
// than NominalLength, the whole read is the UID and tail keeps rec's
// Header with empty Bases and Quality.
func (e *Extractor) InitialTrim(rec readio.Record) (uid string, tail readio.Record) {
	n := e.NominalLength
	if n > len(rec.Bases) {
		n = len(rec.Bases)
	}
	uid = rec.Bases[:n]
	tail = readio.Record{
		Header:  rec.Header,
		Bases:   rec.Bases[n:],
		Quality: rec.Quality[n:],
	}
	return uid, tail
}

// RecomputeWithPrimer re-derives the UID boundary by locating primer within
// rec's full bases: the read plays the reference role with free leading
// and trailing ends (the UID prefix and the post-primer tail cost nothing),
// while primer, the query, is consumed in full at real gap cost. The UID is
// the read prefix up to the reference offset the located primer begins at,
// and tail is everything after the located primer region, per
// Alignment.IndexOfFirstMatchInReference and Alignment.ReferenceEnd.
//
// Fails with ErrPrimerMisaligned when the edit distance of the aligned
// primer span (mismatches, insertions, and deletions within that span) is
// at least primer.Len() / e.EditDistanceDivisor.
func (e *Extractor) RecomputeWithPrimer(rec readio.Record, primer seq.PackedSequence) (uid string, tail readio.Record, err error) {
	read, err := seq.NewIUPAC(rec.Bases)
	if err != nil {
		return "", readio.Record{}, errors.Wrap(err, "uidextract: parse read bases")
	}
	aln := align.AlignFreeReferenceEnds(read, primer, e.Scorer)
	if editDistance(aln.Cigar) >= primer.Len()/e.EditDistanceDivisor {
		return "", readio.Record{}, errors.Wrapf(ErrPrimerMisaligned, "%s", rec.Header)
	}
	start, end := aln.IndexOfFirstMatchInReference, aln.ReferenceEnd
	uid = rec.Bases[:start]
	tail = readio.Record{
		Header:  rec.Header,
		Bases:   rec.Bases[end:],
		Quality: rec.Quality[end:],
	}
	return uid, tail, nil
}

// editDistance sums mismatches, insertions, and deletions across cigar.
// Matches (CigarEqual) cost nothing. This is the documented replacement for
// the source's defective edit-distance accumulator (treat every
// non-matching base as one edit, full stop).
func editDistance(cigar []sam.CigarOp) int {
	var d int
	for _, op := range cigar {
		switch op.Type() {
		case sam.CigarMismatch, sam.CigarInsertion, sam.CigarDeletion:
			d += op.Len()
		}
	}
	return d
}
