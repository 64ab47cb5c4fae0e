// Package metrics accumulates the run-level quality counters a
// MapFilterExtendPipeline run reports, the way markduplicates accumulates a
// Metrics struct per run.
package metrics

import "fmt"

// Counters is a plain accumulator of per-run pipeline totals. Every field is
// safe to read once the run that mutated it has finished; Counters itself
// carries no locking, mirroring markduplicates.Metrics (each pipeline
// worker accumulates its own Counters value and, when its shard is done,
// folds it with Add into the pipeline's shared total under the pipeline's
// mutex).
type Counters struct {
	PairsTotal            int
	PairsMapped            int
	PairsUnmapped          int
	PairsAmbiguous         int
	PairsPrimerMisaligned  int
	UidBucketsTotal        int
	DuplicateReadPairsRemoved int
}

// Add folds other's counts into c.
func (c *Counters) Add(other Counters) {
	c.PairsTotal += other.PairsTotal
	c.PairsMapped += other.PairsMapped
	c.PairsUnmapped += other.PairsUnmapped
	c.PairsAmbiguous += other.PairsAmbiguous
	c.PairsPrimerMisaligned += other.PairsPrimerMisaligned
	c.UidBucketsTotal += other.UidBucketsTotal
	c.DuplicateReadPairsRemoved += other.DuplicateReadPairsRemoved
}

// String renders c as a single tab-separated row, header-free, matching
// markduplicates.Metrics.String's "one run, one line" report convention;
// String does not include the header row, which is Header.
func (c Counters) String() string {
	return fmt.Sprintf("%d\t%d\t%d\t%d\t%d\t%d\t%d",
		c.PairsTotal, c.PairsMapped, c.PairsUnmapped, c.PairsAmbiguous,
		c.PairsPrimerMisaligned, c.UidBucketsTotal, c.DuplicateReadPairsRemoved)
}

// Header is the column header row matching String's field order.
const Header = "pairs_total\tpairs_mapped\tpairs_unmapped\tpairs_ambiguous\tpairs_primer_misaligned\tuid_buckets_total\tduplicate_read_pairs_removed"
