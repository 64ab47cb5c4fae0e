package bamio

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHeaderBuildsSequenceDictionary(t *testing.T) {
	cfg := HeaderConfig{
		SequenceNames:   []string{"chr1", "chr2"},
		SequenceLengths: []int{1000, 2000},
		ReadGroupID:     "run1",
		Sample:          "sample1",
	}
	header, err := NewHeader(cfg)
	require.NoError(t, err)
	require.Len(t, header.Refs(), 2)
	assert.Equal(t, "chr1", header.Refs()[0].Name())
	assert.Equal(t, "chr2", header.Refs()[1].Name())
}

func TestNewHeaderRejectsMismatchedLengths(t *testing.T) {
	_, err := NewHeader(HeaderConfig{SequenceNames: []string{"chr1"}})
	assert.Error(t, err)
}

func TestSetAuxAddsAndReplaces(t *testing.T) {
	header, err := NewHeader(HeaderConfig{
		SequenceNames:   []string{"chr1"},
		SequenceLengths: []int{1000},
		ReadGroupID:     "run1",
		Sample:          "sample1",
	})
	require.NoError(t, err)
	rec, err := sam.NewRecord("read1", header.Refs()[0], nil, 0, -1, 0, 60, nil, []byte("ACGT"), []byte("IIII"), nil)
	require.NoError(t, err)

	require.NoError(t, SetAux(rec, TagProbeID, "probe1"))
	require.NoError(t, SetAux(rec, TagProbeID, "probe2"))

	var got string
	for _, aux := range rec.AuxFields {
		if aux.Tag() == TagProbeID {
			got = aux.Value().(string)
		}
	}
	assert.Equal(t, "probe2", got)
}

func TestSideChannelWritesHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	sc := NewSideChannel(&buf, AmbiguousHeader)
	require.NoError(t, sc.WriteRow("7", "probeA,probeB", "+,-"))
	require.NoError(t, sc.Close())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, AmbiguousHeader, lines[0])
	assert.Equal(t, "7\tprobeA,probeB\t+,-", lines[1])
}
