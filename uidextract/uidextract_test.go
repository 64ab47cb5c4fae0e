package uidextract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpow/heatseq/align"
	"github.com/bpow/heatseq/readio"
	"github.com/bpow/heatseq/seq"
)

var testScorer = align.Scorer{Match: 1, Mismatch: -1, GapOpen: -2, GapExtend: -1}

func TestInitialTrimFixedLength(t *testing.T) {
	e := NewFixedLength(8)
	rec := readio.Record{Header: "@r1", Bases: "ACGTACGTGATTACAGATTACA", Quality: "IIIIIIIIIIIIIIIIIIIIII"}
	uid, tail := e.InitialTrim(rec)
	assert.Equal(t, "ACGTACGT", uid)
	assert.Equal(t, "GATTACAGATTACA", tail.Bases)
	assert.Equal(t, 14, len(tail.Quality))
}

func TestInitialTrimShorterThanNominal(t *testing.T) {
	e := NewFixedLength(8)
	rec := readio.Record{Header: "@r1", Bases: "ACG", Quality: "III"}
	uid, tail := e.InitialTrim(rec)
	assert.Equal(t, "ACG", uid)
	assert.Equal(t, "", tail.Bases)
}

func TestRecomputeWithPrimerFindsBoundary(t *testing.T) {
	primerText := "TGCATGCATGCATGCATGCA"
	primer, err := seq.New(primerText)
	require.NoError(t, err)

	uidText := "ACGTACGT"
	readBases := uidText + primerText + "GATTACAGATTACAGATTACA"
	e := NewVariableLength(8, testScorer, DefaultEditDistanceDivisor)

	rec := readio.Record{Header: "@r1", Bases: readBases, Quality: repeatByte('I', len(readBases))}

	uid, tail, err := e.RecomputeWithPrimer(rec, primer)
	require.NoError(t, err)
	assert.Equal(t, uidText, uid)
	assert.Equal(t, "GATTACAGATTACAGATTACA", tail.Bases)
}

func TestRecomputeWithPrimerFailsOnMisalignment(t *testing.T) {
	primerText := "TGCATGCATGCATGCATGCA"
	primer, err := seq.New(primerText)
	require.NoError(t, err)

	readBases := "ACGTACGT" + "GGGGGGGGGGGGGGGGGGGG" + "GATTACAGATTACAGATTACA"
	e := NewVariableLength(8, testScorer, DefaultEditDistanceDivisor)
	rec := readio.Record{Header: "@r1", Bases: readBases, Quality: repeatByte('I', len(readBases))}

	_, _, err = e.RecomputeWithPrimer(rec, primer)
	assert.ErrorIs(t, err, ErrPrimerMisaligned)
}

func repeatByte(b byte, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return string(buf)
}
