// Package pipeline implements the two-phase classify/dedup/extend engine:
// phase 1 maps and groups read pairs by (ProbeReference, UID) behind a
// bounded worker pool, a barrier, then phase 2 selects one representative
// per bucket, extends it to the probe's primers, and hands it to
// output.Assembler. The worker-pool shape follows pileup/snp/pileup.go's
// traverse.Each(parallelism, ...) sharding, and Opts follows
// markduplicates.Opts's flat-struct-with-DefaultOpts convention.
package pipeline

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"

	"github.com/bpow/heatseq/align"
	"github.com/bpow/heatseq/bamio"
	"github.com/bpow/heatseq/genome"
	"github.com/bpow/heatseq/metrics"
	"github.com/bpow/heatseq/output"
	"github.com/bpow/heatseq/probe"
	"github.com/bpow/heatseq/probeindex"
	"github.com/bpow/heatseq/readio"
	"github.com/bpow/heatseq/seq"
	"github.com/bpow/heatseq/uidextract"
)

// Opts configures one pipeline run.
type Opts struct {
	UIDLength                       int
	VariableLengthUIDs              bool
	Workers                         int
	KmerSize                        int
	MinKmerHits                     int
	PrimerEditDistanceCutoffDivisor int
	MappingQualityDefault           int
	Scorer                          align.Scorer
}

// DefaultOpts mirrors the defaults spec.md §6 names.
var DefaultOpts = Opts{
	Workers:                         runtime.NumCPU(),
	KmerSize:                        12,
	MinKmerHits:                     probeindex.DefaultMinHits,
	PrimerEditDistanceCutoffDivisor: uidextract.DefaultEditDistanceDivisor,
	MappingQualityDefault:           60,
	Scorer:                          align.Scorer{Match: 1, Mismatch: -4, GapOpen: -6, GapExtend: -1},
}

// ErrBarrierInvariantBreach is returned from Run when a worker observes an
// internal invariant violation (the same ordinal claimed by two buckets);
// per spec.md §7 this is a barrier failure and aborts the run, unlike a
// per-pair error which is contained and logged.
var ErrBarrierInvariantBreach = errors.New("pipeline: barrier invariant breach")

// SideChannels bundles the five optional tab-separated report streams;
// any field may be nil, in which case that channel's records are dropped
// silently, per spec.md §6's "absence must not impair the core pipeline."
type SideChannels struct {
	Ambiguous       *bamio.SideChannel
	ProbeUIDQuality *bamio.SideChannel
	UnableToAlign   *bamio.SideChannel
	Unmapped        *bamio.SideChannel
	PrimerDetail    *bamio.SideChannel
}

// PairSourceFactory opens the paired input streams. Run calls it once,
// before phase 1, and keeps every pair in memory for both phases; the
// streams are not reopened for phase 2.
type PairSourceFactory func() (readio.PairSource, error)

// qualityIndexedPair is spec.md §3's ranking element for dedup.
type qualityIndexedPair struct {
	totalQuality int
	pairOrdinal  int
}

// bucket is spec.md §3's UidBucket: UID string -> set of QualityIndexedPair,
// guarded by its own mutex so concurrent phase-1 workers can insert without
// contending on the whole pipeline state.
type bucket struct {
	mu    sync.Mutex
	byUID map[string][]qualityIndexedPair
}

func newBucket() *bucket {
	return &bucket{byUID: make(map[string][]qualityIndexedPair)}
}

func (b *bucket) insert(uid string, p qualityIndexedPair) {
	b.mu.Lock()
	b.byUID[uid] = append(b.byUID[uid], p)
	b.mu.Unlock()
}

// state is the pipeline-owned `probe -> UidBucket` two-level map (spec.md
// §9: "global mutable maps are replaced by an explicitly owned PipelineState
// value"). seen tracks which ordinals have already landed in a bucket, to
// enforce "a given input_pair_ordinal appears in at most one bucket across
// the whole run."
type state struct {
	mu      sync.Mutex
	buckets map[probe.Reference]*bucket
	seen    map[int]bool
	tails   map[int][2]readio.Record
}

func newState() *state {
	return &state{
		buckets: make(map[probe.Reference]*bucket),
		seen:    make(map[int]bool),
		tails:   make(map[int][2]readio.Record),
	}
}

// storeTails records the post-UID-trim tails for ordinal, so phase 2 can
// extend exactly the tail bases that were mapped rather than re-deriving
// them (and potentially a different variable-length UID boundary) from
// scratch.
func (s *state) storeTails(ordinal int, tail1, tail2 readio.Record) {
	s.mu.Lock()
	s.tails[ordinal] = [2]readio.Record{tail1, tail2}
	s.mu.Unlock()
}

func (s *state) bucketFor(pr probe.Reference) *bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[pr]
	if !ok {
		b = newBucket()
		s.buckets[pr] = b
	}
	return b
}

// claim records ordinal as bucketed; it returns false if ordinal was
// already claimed elsewhere, the invariant breach spec.md §8 calls out.
func (s *state) claim(ordinal int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[ordinal] {
		return false
	}
	s.seen[ordinal] = true
	return true
}

// Pipeline holds the read-only collaborators a run needs: the probe set,
// its k-mer index, and the genome store extension fetches reference from.
type Pipeline struct {
	Opts    Opts
	Probes  probe.Set
	Index   *probeindex.Index
	Genome  *genome.Store
	Metrics metrics.Counters

	mu sync.Mutex // guards Metrics
}

// New builds a Pipeline from its collaborators.
func New(opts Opts, probes probe.Set, index *probeindex.Index, genomeStore *genome.Store) *Pipeline {
	return &Pipeline{Opts: opts, Probes: probes, Index: index, Genome: genomeStore}
}

func (p *Pipeline) addMetrics(delta metrics.Counters) {
	p.mu.Lock()
	p.Metrics.Add(delta)
	p.mu.Unlock()
}

// Run executes both phases and returns the finalized, sorted record stream
// ready for bamio.Writer, or a non-nil error on a structural or barrier
// failure (spec.md §7).
func (p *Pipeline) Run(ctx context.Context, newSource PairSourceFactory, channels SideChannels) ([]*sam.Record, error) {
	r1s, r2s, err := loadAllPairs(newSource)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: read input pairs")
	}
	n := len(r1s)
	p.addMetrics(metrics.Counters{PairsTotal: n})

	st := newState()
	if err := p.classifyAll(ctx, r1s, r2s, st, channels); err != nil {
		return nil, err
	}

	selected := p.selectRepresentatives(st)
	asm := output.NewAssembler()
	if err := p.extendAll(ctx, st, selected, asm); err != nil {
		return nil, err
	}
	return asm.Finalize(), nil
}

func loadAllPairs(newSource PairSourceFactory) (r1s, r2s []readio.Record, err error) {
	src, err := newSource()
	if err != nil {
		return nil, nil, err
	}
	var a, b readio.Record
	for src.ScanPair(&a, &b) {
		r1s = append(r1s, a)
		r2s = append(r2s, b)
	}
	// A mate stream that runs out first ends ingestion at the shorter of the
	// two; only read errors are fatal.
	if err := src.Err(); err != nil && errors.Cause(err) != readio.ErrDiscordantPairs {
		return nil, nil, err
	}
	return r1s, r2s, nil
}

// shardBounds divides n items into worker shards the way
// pileup/snp/pileup.go divides shard indices across jobIdx.
func shardBounds(workerIdx, workers, n int) (start, end int) {
	start = (workerIdx * n) / workers
	end = ((workerIdx + 1) * n) / workers
	return start, end
}

func (p *Pipeline) classifyAll(ctx context.Context, r1s, r2s []readio.Record, st *state, channels SideChannels) error {
	n := len(r1s)
	workers := p.Opts.Workers
	if workers < 1 {
		workers = 1
	}
	var breach bool
	var breachMu sync.Mutex
	err := traverse.Each(workers, func(workerIdx int) error {
		start, end := shardBounds(workerIdx, workers, n)
		extractor := p.extractorFor()
		var local metrics.Counters
		for ordinal := start; ordinal < end; ordinal++ {
			outcome := p.classifyOne(ordinal, r1s[ordinal], r2s[ordinal], extractor, st, channels, &local)
			if outcome == classifyBreach {
				breachMu.Lock()
				breach = true
				breachMu.Unlock()
			}
		}
		p.addMetrics(local)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "pipeline: phase 1 barrier failure")
	}
	if breach {
		log.Error.Printf("pipeline: an ordinal was claimed by more than one bucket")
		return ErrBarrierInvariantBreach
	}
	return nil
}

type classifyResult int

const (
	classifyOK classifyResult = iota
	classifyBreach
)

func (p *Pipeline) extractorFor() *uidextract.Extractor {
	if p.Opts.VariableLengthUIDs {
		return uidextract.NewVariableLength(p.Opts.UIDLength, p.Opts.Scorer, p.Opts.PrimerEditDistanceCutoffDivisor)
	}
	return uidextract.NewFixedLength(p.Opts.UIDLength)
}

// classifyOne implements spec.md §4.6 phase 1 steps 1-5 for a single pair.
// Per-pair failures are contained here: they are logged/side-channeled and
// never propagate, matching §7's "per-pair errors... never surfaced up."
func (p *Pipeline) classifyOne(ordinal int, rec1, rec2 readio.Record, extractor *uidextract.Extractor, st *state, channels SideChannels, local *metrics.Counters) classifyResult {
	uid1, tail1 := extractor.InitialTrim(rec1)
	_, tail2 := extractor.InitialTrim(rec2)
	if len(tail1.Bases) == 0 || len(tail2.Bases) == 0 {
		local.PairsUnmapped++
		writeUnmapped(channels.Unmapped, ordinal, rec1, rec2)
		return classifyOK
	}

	tailSeq1, err1 := seq.NewIUPAC(tail1.Bases)
	tailSeq2, err2 := seq.NewIUPAC(tail2.Bases)
	if err1 != nil || err2 != nil {
		local.PairsUnmapped++
		writeUnmapped(channels.Unmapped, ordinal, rec1, rec2)
		return classifyOK
	}

	cands1 := p.Index.BestCandidates(tailSeq1, p.Opts.MinKmerHits)
	cands2 := p.Index.BestCandidates(tailSeq2, p.Opts.MinKmerHits)
	matches := matchOpposingStrands(cands1, cands2)

	switch len(matches) {
	case 0:
		local.PairsUnmapped++
		writeUnmapped(channels.Unmapped, ordinal, rec1, rec2)
		return classifyOK
	case 1:
		// fall through below
	default:
		local.PairsAmbiguous++
		writeAmbiguous(channels.Ambiguous, ordinal, matches)
		return classifyOK
	}

	pr := matches[0]
	finalUID := uid1
	finalTail1 := tail1
	if p.Opts.VariableLengthUIDs {
		primer, err := primerSequence(pr)
		if err != nil {
			local.PairsPrimerMisaligned++
			return classifyOK
		}
		recomputedUID, recomputedTail1, err := extractor.RecomputeWithPrimer(rec1, primer)
		if err != nil {
			local.PairsPrimerMisaligned++
			writeUnableToAlign(channels.UnableToAlign, ordinal, pr, uid1)
			return classifyOK
		}
		finalUID = recomputedUID
		finalTail1 = recomputedTail1
	}

	if !st.claim(ordinal) {
		return classifyBreach
	}
	totalQuality := qualitySum(rec1.Quality) + qualitySum(rec2.Quality)
	st.bucketFor(pr).insert(finalUID, qualityIndexedPair{totalQuality: totalQuality, pairOrdinal: ordinal})
	st.storeTails(ordinal, finalTail1, tail2)
	local.PairsMapped++
	writeProbeUIDQuality(channels.ProbeUIDQuality, ordinal, pr, finalUID, totalQuality)
	return classifyOK
}

// matchOpposingStrands implements spec.md §4.6 step 4: a ProbeReference in
// cands1 matches when cands2 contains a reference to the same Probe on the
// opposite strand (read one and read two must bracket the capture target
// from opposite ends).
func matchOpposingStrands(cands1, cands2 []probe.Reference) []probe.Reference {
	var matches []probe.Reference
	for _, pr := range cands1 {
		for _, pr2 := range cands2 {
			if pr.Probe.ID == pr2.Probe.ID && pr.StrandUsed != pr2.StrandUsed {
				matches = append(matches, pr)
				break
			}
		}
	}
	return matches
}

func qualitySum(quality string) int {
	var sum int
	for _, c := range []byte(quality) {
		sum += int(c) - 33
	}
	return sum
}

func primerSequence(pr probe.Reference) (seq.PackedSequence, error) {
	text := pr.Probe.ExtensionPrimerSequence
	if pr.StrandUsed == probe.Reverse {
		text = pr.Probe.LigationPrimerSequence
	}
	return seq.New(text)
}

func writeUnmapped(ch *bamio.SideChannel, ordinal int, rec1, rec2 readio.Record) {
	if ch == nil {
		return
	}
	_ = ch.WriteRow(itoa(ordinal), rec1.Header, rec1.Bases, rec2.Bases)
}

func writeAmbiguous(ch *bamio.SideChannel, ordinal int, matches []probe.Reference) {
	if ch == nil {
		return
	}
	var ids, strands string
	for i, m := range matches {
		if i > 0 {
			ids += ","
			strands += ","
		}
		ids += m.Probe.ID
		strands += string(m.StrandUsed)
	}
	_ = ch.WriteRow(itoa(ordinal), ids, strands)
}

func writeUnableToAlign(ch *bamio.SideChannel, ordinal int, pr probe.Reference, uid string) {
	if ch == nil {
		return
	}
	_ = ch.WriteRow(itoa(ordinal), pr.Probe.ID, uid, "")
}

func writeProbeUIDQuality(ch *bamio.SideChannel, ordinal int, pr probe.Reference, uid string, quality int) {
	if ch == nil {
		return
	}
	_ = ch.WriteRow(itoa(ordinal), pr.Probe.ID, uid, itoa(quality))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// selected maps pairOrdinal -> the ProbeReference it was bucketed under,
// populated by selectRepresentatives for phase 2.
type selection struct {
	pr  probe.Reference
	uid string
}

// selectRepresentatives implements spec.md §4.6 phase 2 steps 1-2: iterate
// ProbeReferences in (sequence_name, probe_id) order, and within each UID
// bucket pick the entry with maximum total_quality, ties broken by smallest
// pair_ordinal — resolving Open Question (a) per spec.md §9 in the spec's
// favor.
func (p *Pipeline) selectRepresentatives(st *state) map[int]selection {
	refs := make([]probe.Reference, 0, len(st.buckets))
	for pr := range st.buckets {
		refs = append(refs, pr)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Probe.SequenceName != refs[j].Probe.SequenceName {
			return refs[i].Probe.SequenceName < refs[j].Probe.SequenceName
		}
		if refs[i].Probe.ID != refs[j].Probe.ID {
			return refs[i].Probe.ID < refs[j].Probe.ID
		}
		return refs[i].StrandUsed < refs[j].StrandUsed
	})

	selected := make(map[int]selection)
	var dupsRemoved int
	var buckets int
	for _, pr := range refs {
		b := st.buckets[pr]
		for uid, entries := range b.byUID {
			buckets++
			best := entries[0]
			for _, e := range entries[1:] {
				if e.totalQuality > best.totalQuality ||
					(e.totalQuality == best.totalQuality && e.pairOrdinal < best.pairOrdinal) {
					best = e
				}
			}
			dupsRemoved += len(entries) - 1
			selected[best.pairOrdinal] = selection{pr: pr, uid: uid}
		}
	}
	p.addMetrics(metrics.Counters{UidBucketsTotal: buckets, DuplicateReadPairsRemoved: dupsRemoved})
	return selected
}

// extendAll implements spec.md §4.6 phase 2 steps 3-4: a second bounded
// traverse.Each over the selected ordinals, each task fetching reference
// bases from a per-worker genome handle and aligning the read tail against
// it.
func (p *Pipeline) extendAll(ctx context.Context, st *state, selected map[int]selection, asm *output.Assembler) error {
	ordinals := make([]int, 0, len(selected))
	for ordinal := range selected {
		ordinals = append(ordinals, ordinal)
	}
	sort.Ints(ordinals)

	workers := p.Opts.Workers
	if workers < 1 {
		workers = 1
	}
	n := len(ordinals)
	if n == 0 {
		return nil
	}
	err := traverse.Each(workers, func(workerIdx int) error {
		handle, err := p.Genome.Handle(ctx)
		if err != nil {
			return errors.Wrap(err, "pipeline: acquire genome handle")
		}
		var local metrics.Counters
		start, end := shardBounds(workerIdx, workers, n)
		for _, ordinal := range ordinals[start:end] {
			sel := selected[ordinal]
			tails := st.tails[ordinal]
			if err := p.extendOne(ctx, handle, ordinal, sel, tails[0], tails[1], asm); err != nil {
				log.Error.Printf("pipeline: pair %d extension failed: %v", ordinal, err)
				local.PairsUnmapped++
			}
		}
		p.addMetrics(local)
		return nil
	})
	return errors.Wrap(err, "pipeline: phase 2 barrier failure")
}

// extendOne implements spec.md §4.6 phase 2 step 4 for a single selected
// pair. tail1/tail2 are the post-UID-trim tails recorded by classifyOne,
// not the original records: the reference window fetched below spans only
// the capture target, so the aligned query must be the same tail that was
// matched against the probe index, never the UID-bearing original read.
// Extension failures on one or both mates are contained here: the pair is
// still emitted, annotated with bamio.TagExtensionErr, per the output
// contract's EE attribute.
func (p *Pipeline) extendOne(ctx context.Context, handle *genome.Store, ordinal int, sel selection, tail1, tail2 readio.Record, asm *output.Assembler) error {
	probeObj := sel.pr.Probe
	// sel.pr.StrandUsed is mate one's matched strand (matchOpposingStrands
	// built matches from cands1); mate two necessarily matched the opposite
	// strand. A read matched on the Reverse strand is the reverse complement
	// of the forward-strand reference fetched below, so it must be
	// reverse-complemented before global alignment, and its output record
	// carries SEQ/QUAL in that same reverse-complemented orientation with
	// the SAM reverse-strand flag set, per SAM convention.
	strand1, strand2 := sel.pr.StrandUsed, sel.pr.StrandUsed.Opposite()

	oriented1, err1a := orientForStrand(tail1, strand1)
	oriented2, err2a := orientForStrand(tail2, strand2)

	var ref1, ref2 *extendedMate
	err1, err2 := err1a, err2a
	if err1 == nil {
		ref1, err1 = p.alignMateToProbe(ctx, handle, probeObj, oriented1)
	}
	if err2 == nil {
		ref2, err2 = p.alignMateToProbe(ctx, handle, probeObj, oriented2)
	}
	if err1 != nil {
		oriented1 = tail1
	}
	if err2 != nil {
		oriented2 = tail2
	}

	rec1Sam, err := p.buildRecord(tail1.Header, ref1, oriented1, sam.Read1)
	if err != nil {
		return err
	}
	if strand1 == probe.Reverse {
		rec1Sam.Flags |= sam.Reverse
	}
	rec2Sam, err := p.buildRecord(tail2.Header, ref2, oriented2, sam.Read2)
	if err != nil {
		return err
	}
	if strand2 == probe.Reverse {
		rec2Sam.Flags |= sam.Reverse
	}

	for _, r := range []*sam.Record{rec1Sam, rec2Sam} {
		_ = bamio.SetAux(r, bamio.TagProbeID, probeObj.ID)
		_ = bamio.SetAux(r, bamio.TagUIDGroup, sel.uid)
		_ = bamio.SetAux(r, bamio.TagExtensionUID, sel.uid)
		if err1 != nil || err2 != nil {
			msg := ""
			if err1 != nil {
				msg += "mate1: " + err1.Error() + "; "
			}
			if err2 != nil {
				msg += "mate2: " + err2.Error()
			}
			_ = bamio.SetAux(r, bamio.TagExtensionErr, msg)
		}
	}

	asm.Add(output.Pair{PairOrdinal: ordinal, First: rec1Sam, Second: rec2Sam})
	return nil
}

// orientForStrand returns rec unchanged for the Forward strand, or its
// reverse complement (bases and quality both reversed, matching SAM's
// convention of storing a reverse-strand read's SEQ/QUAL already flipped)
// for the Reverse strand.
func orientForStrand(rec readio.Record, strand probe.Strand) (readio.Record, error) {
	if strand == probe.Forward {
		return rec, nil
	}
	packed, err := seq.NewIUPAC(rec.Bases)
	if err != nil {
		return readio.Record{}, errors.Wrap(err, "pipeline: parse read bases")
	}
	return readio.Record{
		Header:  rec.Header,
		Bases:   packed.ReverseComplement().String(),
		Quality: reverseString(rec.Quality),
	}, nil
}

func reverseString(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// extendedMate is one mate's extension result.
type extendedMate struct {
	ref   *sam.Reference
	pos   int
	cigar []sam.CigarOp
}

func (p *Pipeline) alignMateToProbe(ctx context.Context, handle *genome.Store, probeObj probe.Probe, rec readio.Record) (*extendedMate, error) {
	start, end := probeObj.CaptureTargetStart, probeObj.CaptureTargetStop
	refSeq, err := handle.Fetch(ctx, probeObj.SequenceName, start, end)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: fetch reference window")
	}
	readSeq, err := seq.NewIUPAC(rec.Bases)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: parse read bases")
	}
	aln := align.Align(refSeq, readSeq, p.Opts.Scorer)

	ref, refErr := sam.NewReference(probeObj.SequenceName, "", "", end, nil, nil)
	if refErr != nil {
		return nil, errors.Wrap(refErr, "pipeline: build reference")
	}
	pos := start - 1 + aln.IndexOfFirstMatchInReference
	return &extendedMate{ref: ref, pos: pos, cigar: aln.Cigar}, nil
}

func (p *Pipeline) buildRecord(name string, mate *extendedMate, rec readio.Record, which sam.Flags) (*sam.Record, error) {
	flags := sam.Paired | which
	pos := -1
	var ref *sam.Reference
	var cigar []sam.CigarOp
	mapQ := p.Opts.MappingQualityDefault
	if mate != nil {
		ref = mate.ref
		pos = mate.pos
		cigar = mate.cigar
	} else {
		flags |= sam.Unmapped
		mapQ = 0
	}
	r, err := sam.NewRecord(name, ref, nil, pos, -1, 0, byte(mapQ), cigar, []byte(rec.Bases), []byte(rec.Quality), nil)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: build output record")
	}
	r.Flags |= flags
	return r, nil
}
