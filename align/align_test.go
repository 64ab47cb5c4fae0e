package align

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpow/heatseq/seq"
)

var testScorer = Scorer{Match: 1, Mismatch: -1, GapOpen: -2, GapExtend: -1}

func mustSeq(t *testing.T, text string) seq.PackedSequence {
	t.Helper()
	s, err := seq.New(text)
	require.NoError(t, err)
	return s
}

func TestAlignIdenticalSequences(t *testing.T) {
	s := mustSeq(t, "ACGTACGTACGT")
	aln := Align(s, s, testScorer)
	assert.Equal(t, 12, aln.Score)
	assert.Equal(t, "12=", CigarString(aln.Cigar))
	assert.Equal(t, 0, aln.IndexOfFirstMatchInReference)
	assert.Equal(t, 0, aln.IndexOfFirstMatchInQuery)
}

func TestAlignSingleMismatch(t *testing.T) {
	ref := mustSeq(t, "ACGTACGT")
	query := mustSeq(t, "ACGTTCGT")
	aln := Align(ref, query, testScorer)
	assert.Equal(t, "4=1X3=", CigarString(aln.Cigar))
}

func TestAlignInsertionInQuery(t *testing.T) {
	ref := mustSeq(t, "ACGTACGT")
	query := mustSeq(t, "ACGTTTACGT")
	aln := Align(ref, query, testScorer)
	var refConsumed, queryConsumed int
	for _, op := range aln.Cigar {
		c := op.Type().Consumes()
		refConsumed += op.Len() * c.Reference
		queryConsumed += op.Len() * c.Query
	}
	assert.Equal(t, ref.Len(), refConsumed)
	assert.Equal(t, query.Len(), queryConsumed)
}

func TestAlignDeletionInQuery(t *testing.T) {
	ref := mustSeq(t, "ACGTTTACGT")
	query := mustSeq(t, "ACGTACGT")
	aln := Align(ref, query, testScorer)
	var hasDeletion bool
	for _, op := range aln.Cigar {
		if op.Type() == sam.CigarDeletion {
			hasDeletion = true
		}
	}
	assert.True(t, hasDeletion)
}

func TestAlignLeadingDeletionAdvancesReferenceOffset(t *testing.T) {
	// A short query anchored in the middle of a longer reference with
	// cheap gap scoring should open with a deletion run, pushing
	// IndexOfFirstMatchInReference past 0.
	scorer := Scorer{Match: 2, Mismatch: -5, GapOpen: 0, GapExtend: 0}
	ref := mustSeq(t, "GGGGACGTACGT")
	query := mustSeq(t, "ACGTACGT")
	aln := Align(ref, query, scorer)
	assert.Equal(t, 4, aln.IndexOfFirstMatchInReference)
	assert.Equal(t, 0, aln.IndexOfFirstMatchInQuery)
}

func TestAlignFreeReferenceEndsLocatesInteriorQuery(t *testing.T) {
	ref := mustSeq(t, "ACGTACGTTGCATGCATGCATGCATGCAGATTACAGATTACA")
	query := mustSeq(t, "TGCATGCATGCATGCATGCA")
	aln := AlignFreeReferenceEnds(ref, query, testScorer)
	assert.Equal(t, "20=", CigarString(aln.Cigar))
	assert.Equal(t, 8, aln.IndexOfFirstMatchInReference)
	assert.Equal(t, 28, aln.ReferenceEnd)
	assert.Equal(t, 20, aln.Score)
}

func TestAlignFreeReferenceEndsToleratesMismatchWithinQuery(t *testing.T) {
	ref := mustSeq(t, "ACGTACGTTGCATGCATGCATGCATCCAGATTACAGATTACA")
	query := mustSeq(t, "TGCATGCATGCATGCATGCA")
	aln := AlignFreeReferenceEnds(ref, query, testScorer)
	assert.Equal(t, 8, aln.IndexOfFirstMatchInReference)
	assert.Equal(t, 28, aln.ReferenceEnd)

	var mismatches int
	for _, op := range aln.Cigar {
		if op.Type() == sam.CigarMismatch {
			mismatches += op.Len()
		}
	}
	assert.Equal(t, 1, mismatches)
}

func TestCigarStringRoundTrip(t *testing.T) {
	cigar := []sam.CigarOp{sam.NewCigarOp(sam.CigarEqual, 5), sam.NewCigarOp(sam.CigarInsertion, 2)}
	assert.Equal(t, "5=2I", CigarString(cigar))
}
