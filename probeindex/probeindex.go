// Package probeindex implements the k-mer inverted index over probe capture
// targets that narrows an arbitrary read sequence down to a small set of
// candidate probes, generalizing the k-mer enumeration design of
// fusion/kmer.go (not the unsafe mmap hashtable of fusion/kmer_index.go,
// which is overkill for a probe set sized in the thousands rather than the
// whole transcriptome).
package probeindex

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/bpow/heatseq/genome"
	"github.com/bpow/heatseq/probe"
	"github.com/bpow/heatseq/seq"
)

// CaptureTargetFetcher resolves a probe's capture-target bases. The default
// implementation, FetchFromGenome, fetches them from a genome.Store; tests
// and callers without a genome file can supply a literal-text fetcher
// instead.
type CaptureTargetFetcher func(p probe.Probe) (seq.PackedSequence, error)

// FetchFromGenome returns a CaptureTargetFetcher that reads each probe's
// capture-target bases from store.
func FetchFromGenome(ctx context.Context, store *genome.Store) CaptureTargetFetcher {
	return func(p probe.Probe) (seq.PackedSequence, error) {
		s, err := store.Fetch(ctx, p.SequenceName, p.CaptureTargetStart, p.CaptureTargetStop)
		if err != nil {
			return seq.PackedSequence{}, errors.Wrapf(err, "probeindex: fetch capture target for probe %s", p.ID)
		}
		return s, nil
	}
}

// DefaultMinHits is the recommended minimum diagonal-consistent hit count a
// ProbeReference must reach before it is returned as a candidate.
const DefaultMinHits = 3

type hit struct {
	ref    probe.Reference
	offset int // offset of this kmer within the capture target
}

// Index is a k-mer inverted index over every probe's capture target,
// indexed on both strands (each strand of a probe is indexed as an
// independent probe.Reference).
type Index struct {
	k      int
	byKmer map[seq.Kmer][]hit
}

// Build constructs an Index of word length k over every probe in set, both
// strands, fetching each probe's capture-target bases via fetch. K-mers
// containing N are skipped, matching PackedSequence.IterKmers's documented
// rule.
func Build(set probe.Set, k int, fetch CaptureTargetFetcher) (*Index, error) {
	idx := &Index{k: k, byKmer: make(map[seq.Kmer][]hit)}
	for _, p := range set.All() {
		if err := idx.indexProbe(p, fetch); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (idx *Index) indexProbe(p probe.Probe, fetch CaptureTargetFetcher) error {
	forward, err := fetch(p)
	if err != nil {
		return err
	}
	idx.indexStrand(p, probe.Forward, forward)
	idx.indexStrand(p, probe.Reverse, forward.ReverseComplement())
	return nil
}

func (idx *Index) indexStrand(p probe.Probe, strand probe.Strand, target seq.PackedSequence) {
	ref := probe.Reference{Probe: p, StrandUsed: strand}
	it := target.IterKmers(idx.k)
	for it.Scan() {
		km := it.Kmer()
		idx.byKmer[km] = append(idx.byKmer[km], hit{ref: ref, offset: it.Offset()})
	}
}

// BestCandidates returns the ProbeReferences with the highest
// diagonal-consistent k-mer hit count against query, provided that count is
// at least minHits. It is empty when the evidence is too weak.
//
// Diagonal consistency: a hit at query offset qoff against a capture-target
// offset coff lies on diagonal qoff-coff; every hit is tallied per
// (ProbeReference, diagonal), and the score for a ProbeReference is the
// largest of its per-diagonal totals. Hits need not be consecutive in the
// query to count toward the same diagonal.
func (idx *Index) BestCandidates(query seq.PackedSequence, minHits int) []probe.Reference {
	type key struct {
		ref probe.Reference
		d   int
	}
	counts := make(map[key]int)

	it := query.IterKmers(idx.k)
	for it.Scan() {
		km := it.Kmer()
		qoff := it.Offset()
		for _, h := range idx.byKmer[km] {
			d := qoff - h.offset
			counts[key{h.ref, d}]++
		}
	}

	best := make(map[probe.Reference]int)
	for k, c := range counts {
		if c > best[k.ref] {
			best[k.ref] = c
		}
	}

	maxCount := 0
	for _, c := range best {
		if c > maxCount {
			maxCount = c
		}
	}
	if maxCount < minHits {
		return nil
	}

	var out []probe.Reference
	for ref, c := range best {
		if c == maxCount {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probe.SequenceName != out[j].Probe.SequenceName {
			return out[i].Probe.SequenceName < out[j].Probe.SequenceName
		}
		if out[i].Probe.ID != out[j].Probe.ID {
			return out[i].Probe.ID < out[j].Probe.ID
		}
		return out[i].StrandUsed < out[j].StrandUsed
	})
	return out
}
