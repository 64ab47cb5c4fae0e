package probe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTSV = "id\tsequence_name\textension_primer_start\textension_primer_stop\tcapture_target_start\tcapture_target_stop\tligation_primer_start\tligation_primer_stop\tstrand\textension_primer_sequence\tligation_primer_sequence\n" +
	"probe1\tchr1\t100\t120\t121\t200\t201\t220\t+\tACGTACGTACGTACGTACGT\tTGCATGCATGCATGCATGCA\n" +
	"probe2\tchr1\t300\t320\t321\t400\t401\t420\t-\tGATTACAGATTACAGATTAC\tCATTAGCATTAGCATTAGCA\n"

func TestParseTSV(t *testing.T) {
	set, err := ParseTSV(strings.NewReader(testTSV))
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	p1, ok := set.ByID("probe1")
	require.True(t, ok)
	assert.Equal(t, "chr1", p1.SequenceName)
	assert.Equal(t, 100, p1.ExtensionPrimerStart)
	assert.Equal(t, Forward, p1.Strand)

	p2, ok := set.ByID("probe2")
	require.True(t, ok)
	assert.Equal(t, Reverse, p2.Strand)

	assert.Equal(t, []string{"probe1", "probe2"}, probeIDs(set.All()))
}

func TestParseTSVRejectsDuplicateID(t *testing.T) {
	dup := testTSV + "probe1\tchr1\t500\t520\t521\t600\t601\t620\t+\tACGT\tTGCA\n"
	_, err := ParseTSV(strings.NewReader(dup))
	assert.ErrorIs(t, err, ErrDuplicateProbeID)
}

func TestParseTSVRejectsBadHeader(t *testing.T) {
	_, err := ParseTSV(strings.NewReader("wrong\theader\n"))
	assert.Error(t, err)
}

func TestStrandOpposite(t *testing.T) {
	assert.Equal(t, Reverse, Forward.Opposite())
	assert.Equal(t, Forward, Reverse.Opposite())
}

func probeIDs(probes []Probe) []string {
	out := make([]string, len(probes))
	for i, p := range probes {
		out[i] = p.ID
	}
	return out
}
