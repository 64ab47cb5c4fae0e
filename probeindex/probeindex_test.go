package probeindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpow/heatseq/probe"
	"github.com/bpow/heatseq/seq"
)

func literalFetcher(targets map[string]string) CaptureTargetFetcher {
	return func(p probe.Probe) (seq.PackedSequence, error) {
		return seq.New(targets[p.ID])
	}
}

func mustProbeSet(t *testing.T, probes []probe.Probe) probe.Set {
	t.Helper()
	set, err := probe.NewSet(probes)
	require.NoError(t, err)
	return set
}

func TestBestCandidatesExactMatch(t *testing.T) {
	set := mustProbeSet(t, []probe.Probe{
		{ID: "p1", SequenceName: "chr1", Strand: probe.Forward},
		{ID: "p2", SequenceName: "chr1", Strand: probe.Forward},
	})
	targets := map[string]string{
		"p1": "GATTACAGATTACAGATTACAGATTACA",
		"p2": "TTTTGGGGCCCCAAAATTTTGGGGCCCC",
	}
	idx, err := Build(set, 10, literalFetcher(targets))
	require.NoError(t, err)

	query, err := seq.New(targets["p1"])
	require.NoError(t, err)
	cands := idx.BestCandidates(query, DefaultMinHits)
	require.Len(t, cands, 1)
	assert.Equal(t, "p1", cands[0].Probe.ID)
	assert.Equal(t, probe.Forward, cands[0].StrandUsed)
}

func TestBestCandidatesReverseStrandMatch(t *testing.T) {
	set := mustProbeSet(t, []probe.Probe{{ID: "p1", SequenceName: "chr1", Strand: probe.Forward}})
	target := "GATTACAGATTACAGATTACAGATTACA"
	targets := map[string]string{"p1": target}
	idx, err := Build(set, 10, literalFetcher(targets))
	require.NoError(t, err)

	forward, err := seq.New(target)
	require.NoError(t, err)
	query := forward.ReverseComplement()

	cands := idx.BestCandidates(query, DefaultMinHits)
	require.Len(t, cands, 1)
	assert.Equal(t, probe.Reverse, cands[0].StrandUsed)
}

func TestBestCandidatesEmptyOnWeakEvidence(t *testing.T) {
	set := mustProbeSet(t, []probe.Probe{{ID: "p1", SequenceName: "chr1", Strand: probe.Forward}})
	targets := map[string]string{"p1": "GATTACAGATTACAGATTACAGATTACA"}
	idx, err := Build(set, 10, literalFetcher(targets))
	require.NoError(t, err)

	query, err := seq.New("GGGGGGGGGGGGGGGG")
	require.NoError(t, err)
	assert.Empty(t, idx.BestCandidates(query, DefaultMinHits))
}

func TestBestCandidatesTieReturnsAll(t *testing.T) {
	shared := "GATTACAGATTACAGATTACAGATTACA"
	set := mustProbeSet(t, []probe.Probe{
		{ID: "p1", SequenceName: "chr1", Strand: probe.Forward},
		{ID: "p2", SequenceName: "chr2", Strand: probe.Forward},
	})
	targets := map[string]string{"p1": shared, "p2": shared}
	idx, err := Build(set, 10, literalFetcher(targets))
	require.NoError(t, err)

	query, err := seq.New(shared)
	require.NoError(t, err)
	cands := idx.BestCandidates(query, DefaultMinHits)
	require.Len(t, cands, 2)
	assert.Equal(t, "p1", cands[0].Probe.ID)
	assert.Equal(t, "p2", cands[1].Probe.ID)
}
