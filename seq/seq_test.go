package seq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	for _, text := range []string{"A", "ACGT", "GATTACA", "TTTTTTTTTTTTTTTTT", "CGCGCGCGCG"} {
		t.Run(text, func(t *testing.T) {
			s, err := New(text)
			require.NoError(t, err)
			assert.Equal(t, text, s.String())
			assert.Equal(t, len(text), s.Len())
		})
	}
}

func TestInvalidBase(t *testing.T) {
	_, err := New("ACGTN")
	assert.ErrorIs(t, err, ErrInvalidBase)
}

func TestIUPACCollapsesToN(t *testing.T) {
	s, err := NewIUPAC("ACGTNRYW")
	require.NoError(t, err)
	assert.Equal(t, "ACGTNNNN", s.String())
	assert.True(t, s.HasAmbiguity())
}

func TestReverseComplementSymmetry(t *testing.T) {
	for _, text := range []string{"A", "AC", "GATTACA", "ACGTACGTACGT"} {
		s, err := New(text)
		require.NoError(t, err)
		rc := s.ReverseComplement()
		rcrc := rc.ReverseComplement()
		assert.True(t, s.Equal(rcrc), "rc(rc(%s)) != %s, got %s", text, text, rcrc.String())
	}
}

func TestReverseComplementValue(t *testing.T) {
	s, err := New("ACGT")
	require.NoError(t, err)
	assert.Equal(t, "ACGT", s.ReverseComplement().String())

	s, err = New("AAGG")
	require.NoError(t, err)
	assert.Equal(t, "CCTT", s.ReverseComplement().String())
}

func TestSubsequence(t *testing.T) {
	s, err := New("GATTACA")
	require.NoError(t, err)
	assert.Equal(t, "ATTA", s.Subsequence(1, 5).String())
	assert.Equal(t, "", s.Subsequence(2, 2).String())
}

func TestBaseAt(t *testing.T) {
	s, err := New("GATTACA")
	require.NoError(t, err)
	for i, want := range "GATTACA" {
		assert.Equal(t, byte(want), s.BaseAt(i))
	}
}

func TestIterKmersDeterminism(t *testing.T) {
	s, err := New("GATTACAGATTACA")
	require.NoError(t, err)
	const k = 4
	it := s.IterKmers(k)
	var offsets []int
	var kmers []Kmer
	for it.Scan() {
		offsets = append(offsets, it.Offset())
		kmers = append(kmers, it.Kmer())
	}
	require.Len(t, offsets, s.Len()-k+1)
	for i, off := range offsets {
		assert.Equal(t, i, off)
	}
	for i, km := range kmers {
		assert.Equal(t, s.Subsequence(offsets[i], offsets[i]+k).String(), KmerToString(km, k))
	}
}

func TestIterKmersSkipsAmbiguousWindows(t *testing.T) {
	s, err := NewIUPAC("ACGNACGT")
	require.NoError(t, err)
	const k = 3
	it := s.IterKmers(k)
	var offsets []int
	for it.Scan() {
		offsets = append(offsets, it.Offset())
	}
	// Windows starting at 1,2,3 contain the N at offset 3 and must be
	// skipped; the clean windows are "ACG" at 0, "ACG" at 4, and "CGT" at 5.
	assert.Equal(t, []int{0, 4, 5}, offsets)
}

func TestIterKmersEmptyWhenShorterThanK(t *testing.T) {
	s, err := New("AC")
	require.NoError(t, err)
	it := s.IterKmers(4)
	assert.False(t, it.Scan())
}
