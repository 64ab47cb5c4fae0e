// Package output implements the coordinate-sorted output assembler:
// pairs accumulate as they are extended, and a single Finalize pass
// assigns every record's mate fields from the other record of its Pair
// rather than by holding a live reference to its mate, since mate records are added
// concurrently and out of order. This mirrors markduplicates/helpers.go's
// pattern of mutating sam.Record tags in a dedicated pass once duplicate
// sets are known globally, generalized here from "clear dup tags" to
// "assign mate position/ref/strand/unmapped fields."
package output

import (
	"sort"
	"sync"

	"github.com/grailbio/hts/sam"
)

// Pair is one extended read pair's two records, carried alongside the
// ordinal used as the final sort tie-break; Finalize resolves each
// record's mate fields from the other record of the same Pair.
type Pair struct {
	PairOrdinal int
	First       *sam.Record
	Second      *sam.Record
}

// Assembler accumulates Pairs from concurrent extension tasks and
// produces a deterministic, coordinate-sorted, mate-linked output stream.
// The two records of a Pair do not point to each other; mate
// cross-reference goes through the Pair that groups them (per the
// cyclic-back-reference design note).
type Assembler struct {
	mu    sync.Mutex
	pairs []Pair
}

// NewAssembler returns an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Add appends p to the assembler. Safe for concurrent use by phase 2's
// extension tasks.
func (a *Assembler) Add(p Pair) {
	a.mu.Lock()
	a.pairs = append(a.pairs, p)
	a.mu.Unlock()
}

// Len reports how many pairs have been added so far.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pairs)
}

// refIndex returns r's reference ID, or -1 when r is nil or unmapped.
func refIndex(r *sam.Record) int {
	if r == nil || r.Ref == nil {
		return -1
	}
	return r.Ref.ID()
}

// Finalize stable-sorts the accumulated pairs by (ref_index, pos,
// pair_ordinal), assigns every record's mate fields from its partner in
// the same Pair, and returns the sorted, mate-linked record stream ready
// for bamio.Writer: first-of-pair then mate, pair by pair.
func (a *Assembler) Finalize() []*sam.Record {
	a.mu.Lock()
	pairs := make([]Pair, len(a.pairs))
	copy(pairs, a.pairs)
	a.mu.Unlock()

	sort.SliceStable(pairs, func(i, j int) bool {
		ri, rj := refIndex(pairs[i].First), refIndex(pairs[j].First)
		if ri != rj {
			return ri < rj
		}
		pi, pj := recordPos(pairs[i].First), recordPos(pairs[j].First)
		if pi != pj {
			return pi < pj
		}
		return pairs[i].PairOrdinal < pairs[j].PairOrdinal
	})

	records := make([]*sam.Record, 0, 2*len(pairs))
	for _, p := range pairs {
		assignMateFields(p.First, p.Second)
		assignMateFields(p.Second, p.First)
		records = append(records, p.First, p.Second)
	}
	return records
}

func recordPos(r *sam.Record) int {
	if r == nil {
		return -1
	}
	return r.Pos
}

// assignMateFields sets r's mate_position, mate_ref_index,
// mate_negative_strand, and mate_unmapped fields from mate, per spec.md
// §4.7/§9: cross-reference by value at finalize time, never by holding a
// live pointer cycle.
func assignMateFields(r, mate *sam.Record) {
	if r == nil {
		return
	}
	r.Flags |= sam.Paired
	if mate == nil || mate.Ref == nil || mate.Pos == -1 {
		r.MateRef = nil
		r.MatePos = -1
		r.Flags |= sam.MateUnmapped
		r.Flags &^= sam.MateReverse
		return
	}
	r.MateRef = mate.Ref
	r.MatePos = mate.Pos
	r.Flags &^= sam.MateUnmapped
	if mate.Flags&sam.Reverse != 0 {
		r.Flags |= sam.MateReverse
	} else {
		r.Flags &^= sam.MateReverse
	}
}
