// Package align implements a Needleman-Wunsch global pairwise aligner with
// affine gap scoring, used both to measure UID/primer edit distance and to
// extend a read's trailing bases out to a probe's reference coordinates.
//
// The DP itself follows util.matrix's flat row-major backing array and
// separate traceback-direction bookkeeping, generalized from the
// unweighted Levenshtein edit distance computed there to a scored,
// affine-gap Needleman-Wunsch recurrence (Gotoh's algorithm): three
// matrices - M (ending in a match/mismatch), Ix (ending in a gap that
// consumes a reference base only, i.e. a deletion), and Iy (ending in a
// gap that consumes a query base only, i.e. an insertion).
package align

import (
	"strings"

	"github.com/grailbio/hts/sam"

	"github.com/bpow/heatseq/seq"
)

// Scorer holds the configurable alignment scores. Match and Mismatch are
// per-base scores (Match should be positive, Mismatch negative or zero);
// GapOpen is charged once when a gap begins and GapExtend once per base the
// gap covers, so an n-base gap costs GapOpen+n*GapExtend.
type Scorer struct {
	Match     int
	Mismatch  int
	GapOpen   int
	GapExtend int
}

// Alignment is the result of a global alignment between a reference and a
// query sequence.
type Alignment struct {
	Score int
	Cigar []sam.CigarOp

	// IndexOfFirstMatchInReference and IndexOfFirstMatchInQuery are the
	// 0-based offsets, within reference and query respectively, of the
	// first base covered by the first match/mismatch operation in Cigar.
	// For Align, both are 0 unless the alignment opens with a leading
	// deletion or insertion run; for AlignFreeReferenceEnds,
	// IndexOfFirstMatchInReference is where the aligned span begins.
	IndexOfFirstMatchInReference int
	IndexOfFirstMatchInQuery     int

	// ReferenceEnd is the 0-based reference offset one past the last
	// reference base Cigar covers: reference[IndexOfFirstMatchInReference
	// :ReferenceEnd] is the span Cigar describes. For Align this is always
	// reference.Len(); for AlignFreeReferenceEnds it marks where the
	// located query region ends, leaving reference[ReferenceEnd:] as an
	// unscored trailing clip.
	ReferenceEnd int
}

// CigarString renders c in the canonical SAM CIGAR string form, e.g.
// "5=1X3I2D".
func CigarString(c []sam.CigarOp) string {
	var b strings.Builder
	for _, op := range c {
		b.WriteString(op.String())
	}
	return b.String()
}

const negInf = -(1 << 30)

// direction records which of the three recurrence sources produced a
// matrix cell's value, so traceback can recover the optimal path without
// recomputing scores. The zero value (dirNone) marks the DP origin.
type direction uint8

const (
	dirNone direction = iota
	dirDiagM
	dirDiagIx
	dirDiagIy
	dirUpM
	dirUpIx
	dirUpIy
	dirLeftM
	dirLeftIx
	dirLeftIy
)

// matrix3 bundles the three Gotoh score matrices and their traceback
// directions as flat row-major [](n+1)*(m+1) arrays, mirroring
// util.matrix's single-matrix layout. refBases/queryBases hold the 0-based
// sequences being aligned so traceback can recover match-vs-mismatch
// without recomputing the scorer.
type matrix3 struct {
	nRow, nCol         int
	m, ix, iy          []int
	mDir, ixDir, iyDir []direction
	refBases           []byte
	queryBases         []byte
}

func newMatrix3(nRow, nCol int) *matrix3 {
	n := nRow * nCol
	return &matrix3{
		nRow: nRow, nCol: nCol,
		m: make([]int, n), ix: make([]int, n), iy: make([]int, n),
		mDir: make([]direction, n), ixDir: make([]direction, n), iyDir: make([]direction, n),
	}
}

func (mx *matrix3) at(i, j int) int { return i*mx.nCol + j }

// Align computes the optimal global alignment of query against reference
// under scorer, via Gotoh's affine-gap generalization of Needleman-Wunsch.
//
// Traceback ties are broken in favor of a diagonal (match/mismatch) move
// over an insertion over a deletion, per the documented rule this package
// is tested against.
func Align(reference, query seq.PackedSequence, scorer Scorer) Alignment {
	n, m := reference.Len(), query.Len()
	mx := newMatrix3(n+1, m+1)
	mx.refBases = make([]byte, n)
	for i := 0; i < n; i++ {
		mx.refBases[i] = reference.BaseAt(i)
	}
	mx.queryBases = make([]byte, m)
	for j := 0; j < m; j++ {
		mx.queryBases[j] = query.BaseAt(j)
	}

	gapFirst := scorer.GapOpen + scorer.GapExtend

	for i := 1; i <= n; i++ {
		mx.m[mx.at(i, 0)] = negInf
		mx.iy[mx.at(i, 0)] = negInf
	}
	for j := 1; j <= m; j++ {
		mx.m[mx.at(0, j)] = negInf
		mx.ix[mx.at(0, j)] = negInf
	}
	for i := 1; i <= n; i++ {
		mx.ix[mx.at(i, 0)] = scorer.GapOpen + i*scorer.GapExtend
		mx.ixDir[mx.at(i, 0)] = dirUpIx
	}
	for j := 1; j <= m; j++ {
		mx.iy[mx.at(0, j)] = scorer.GapOpen + j*scorer.GapExtend
		mx.iyDir[mx.at(0, j)] = dirLeftIy
	}

	for i := 1; i <= n; i++ {
		refBase := mx.refBases[i-1]
		for j := 1; j <= m; j++ {
			queryBase := mx.queryBases[j-1]

			// M(i,j): extend a diagonal match/mismatch from the best of the
			// three matrices at (i-1,j-1). Ties prefer M over Iy over Ix,
			// i.e. diagonal-into-diagonal over insertion over deletion.
			s := scorer.Mismatch
			if refBase == queryBase && refBase != 'N' {
				s = scorer.Match
			}
			bestM, bestMDir := mx.m[mx.at(i-1, j-1)], dirDiagM
			if v := mx.iy[mx.at(i-1, j-1)]; v > bestM {
				bestM, bestMDir = v, dirDiagIy
			}
			if v := mx.ix[mx.at(i-1, j-1)]; v > bestM {
				bestM, bestMDir = v, dirDiagIx
			}
			mx.m[mx.at(i, j)] = bestM + s
			mx.mDir[mx.at(i, j)] = bestMDir

			// Ix(i,j): a deletion, consuming reference[i-1] only, extending
			// upward from row i-1. Ties prefer opening from M over
			// continuing Ix over switching from Iy.
			bestIx, bestIxDir := mx.m[mx.at(i-1, j)]+gapFirst, dirUpM
			if v := mx.ix[mx.at(i-1, j)] + scorer.GapExtend; v > bestIx {
				bestIx, bestIxDir = v, dirUpIx
			}
			if v := mx.iy[mx.at(i-1, j)] + gapFirst; v > bestIx {
				bestIx, bestIxDir = v, dirUpIy
			}
			mx.ix[mx.at(i, j)] = bestIx
			mx.ixDir[mx.at(i, j)] = bestIxDir

			// Iy(i,j): an insertion, consuming query[j-1] only, extending
			// leftward from column j-1.
			bestIy, bestIyDir := mx.m[mx.at(i, j-1)]+gapFirst, dirLeftM
			if v := mx.iy[mx.at(i, j-1)] + scorer.GapExtend; v > bestIy {
				bestIy, bestIyDir = v, dirLeftIy
			}
			if v := mx.ix[mx.at(i, j-1)] + gapFirst; v > bestIy {
				bestIy, bestIyDir = v, dirLeftIx
			}
			mx.iy[mx.at(i, j)] = bestIy
			mx.iyDir[mx.at(i, j)] = bestIyDir
		}
	}

	// Select which matrix the optimal alignment ends in at (n,m), ties
	// preferring M over Iy over Ix (diagonal over insertion over deletion).
	end := mx.at(n, m)
	bestScore, curMatrix := mx.m[end], 'M'
	if v := mx.iy[end]; v > bestScore {
		bestScore, curMatrix = v, 'Y'
	}
	if v := mx.ix[end]; v > bestScore {
		bestScore, curMatrix = v, 'X'
	}

	ops := traceback(mx, n, m, curMatrix)
	cigar := runLengthEncode(ops)
	firstRef, firstQuery := leadingOffsets(cigar)
	return Alignment{
		Score:                        bestScore,
		Cigar:                        cigar,
		IndexOfFirstMatchInReference: firstRef,
		IndexOfFirstMatchInQuery:     firstQuery,
		ReferenceEnd:                 n,
	}
}

// AlignFreeReferenceEnds aligns query against reference the way a primer is
// located within a much longer read: query must be consumed in full, but
// any reference bases before the alignment starts or after it ends cost
// nothing and are not reported in Cigar at all (they are implicit,
// unscored clips). This is what uidextract uses to find a primer's
// boundary inside a read without the read's unrelated UID/tail bases
// inflating the edit distance, the same way an aligner commits to the
// query sequence and end the alignment at the reference position where the
// query stops matching.
//
// Score and Cigar describe only the aligned span; the query is never
// clipped, so IndexOfFirstMatchInQuery is 0 unless Cigar opens with an
// insertion run, and IndexOfFirstMatchInReference is the reference offset
// the aligned span begins at.
func AlignFreeReferenceEnds(reference, query seq.PackedSequence, scorer Scorer) Alignment {
	n, m := reference.Len(), query.Len()
	mx := newMatrix3(n+1, m+1)
	mx.refBases = make([]byte, n)
	for i := 0; i < n; i++ {
		mx.refBases[i] = reference.BaseAt(i)
	}
	mx.queryBases = make([]byte, m)
	for j := 0; j < m; j++ {
		mx.queryBases[j] = query.BaseAt(j)
	}

	gapFirst := scorer.GapOpen + scorer.GapExtend

	// Free leading reference end: entering column 0 at any row costs
	// nothing, and dirNone (the zero value) marks that row as a valid
	// traceback stopping point rather than a real diagonal/gap transition.
	for i := 0; i <= n; i++ {
		mx.m[mx.at(i, 0)] = 0
		mx.ix[mx.at(i, 0)] = negInf
		mx.iy[mx.at(i, 0)] = negInf
	}
	for j := 1; j <= m; j++ {
		mx.m[mx.at(0, j)] = negInf
		mx.ix[mx.at(0, j)] = negInf
	}
	for j := 1; j <= m; j++ {
		mx.iy[mx.at(0, j)] = scorer.GapOpen + j*scorer.GapExtend
		mx.iyDir[mx.at(0, j)] = dirLeftIy
	}

	for i := 1; i <= n; i++ {
		refBase := mx.refBases[i-1]
		for j := 1; j <= m; j++ {
			queryBase := mx.queryBases[j-1]

			s := scorer.Mismatch
			if refBase == queryBase && refBase != 'N' {
				s = scorer.Match
			}
			bestM, bestMDir := mx.m[mx.at(i-1, j-1)], dirDiagM
			if v := mx.iy[mx.at(i-1, j-1)]; v > bestM {
				bestM, bestMDir = v, dirDiagIy
			}
			if v := mx.ix[mx.at(i-1, j-1)]; v > bestM {
				bestM, bestMDir = v, dirDiagIx
			}
			mx.m[mx.at(i, j)] = bestM + s
			mx.mDir[mx.at(i, j)] = bestMDir

			bestIx, bestIxDir := mx.m[mx.at(i-1, j)]+gapFirst, dirUpM
			if v := mx.ix[mx.at(i-1, j)] + scorer.GapExtend; v > bestIx {
				bestIx, bestIxDir = v, dirUpIx
			}
			if v := mx.iy[mx.at(i-1, j)] + gapFirst; v > bestIx {
				bestIx, bestIxDir = v, dirUpIy
			}
			mx.ix[mx.at(i, j)] = bestIx
			mx.ixDir[mx.at(i, j)] = bestIxDir

			bestIy, bestIyDir := mx.m[mx.at(i, j-1)]+gapFirst, dirLeftM
			if v := mx.iy[mx.at(i, j-1)] + scorer.GapExtend; v > bestIy {
				bestIy, bestIyDir = v, dirLeftIy
			}
			if v := mx.ix[mx.at(i, j-1)] + gapFirst; v > bestIy {
				bestIy, bestIyDir = v, dirLeftIx
			}
			mx.iy[mx.at(i, j)] = bestIy
			mx.iyDir[mx.at(i, j)] = bestIyDir
		}
	}

	// Free trailing reference end: the alignment may stop at any row once
	// the full query is consumed (column m); pick the best such row,
	// preferring (on ties) the smallest row and then M over Iy over Ix.
	bestScore, bestRow, curMatrix := negInf, 0, byte('M')
	for i := 0; i <= n; i++ {
		end := mx.at(i, m)
		if v := mx.m[end]; v > bestScore {
			bestScore, bestRow, curMatrix = v, i, 'M'
		}
		if v := mx.iy[end]; v > bestScore {
			bestScore, bestRow, curMatrix = v, i, 'Y'
		}
		if v := mx.ix[end]; v > bestScore {
			bestScore, bestRow, curMatrix = v, i, 'X'
		}
	}

	ops := tracebackFreeRefStart(mx, bestRow, m, curMatrix)
	cigar := runLengthEncode(ops)
	_, firstQuery := leadingOffsets(cigar)
	return Alignment{
		Score:                        bestScore,
		Cigar:                        cigar,
		IndexOfFirstMatchInReference: bestRow - refSpan(cigar),
		IndexOfFirstMatchInQuery:     firstQuery,
		ReferenceEnd:                 bestRow,
	}
}

// refSpan returns the total reference bases consumed by cigar (match,
// mismatch, and deletion ops), used to recover the reference offset the
// aligned span began at from the row traceback stopped at.
func refSpan(cigar []sam.CigarOp) int {
	var n int
	for _, op := range cigar {
		c := op.Type().Consumes()
		n += op.Len() * c.Reference
	}
	return n
}

// opRun is one base-pair step of the traceback, before run-length encoding.
type opRun struct {
	t sam.CigarOpType
}

func traceback(mx *matrix3, n, m int, curMatrix byte) []opRun {
	var ops []opRun
	i, j := n, m
	for i > 0 || j > 0 {
		switch curMatrix {
		case 'M':
			if i == 0 || j == 0 {
				panic("align: traceback ran off the M matrix edge")
			}
			t := sam.CigarMismatch
			if mx.refBases[i-1] == mx.queryBases[j-1] {
				t = sam.CigarEqual
			}
			ops = append(ops, opRun{t})
			switch mx.mDir[mx.at(i, j)] {
			case dirDiagIy:
				curMatrix = 'Y'
			case dirDiagIx:
				curMatrix = 'X'
			default:
				curMatrix = 'M'
			}
			i--
			j--
		case 'X': // Ix: deletion, consumes reference only
			if i == 0 {
				panic("align: traceback ran off the Ix matrix edge")
			}
			ops = append(ops, opRun{sam.CigarDeletion})
			switch mx.ixDir[mx.at(i, j)] {
			case dirUpM:
				curMatrix = 'M'
			case dirUpIy:
				curMatrix = 'Y'
			default:
				curMatrix = 'X'
			}
			i--
		case 'Y': // Iy: insertion, consumes query only
			if j == 0 {
				panic("align: traceback ran off the Iy matrix edge")
			}
			ops = append(ops, opRun{sam.CigarInsertion})
			switch mx.iyDir[mx.at(i, j)] {
			case dirLeftM:
				curMatrix = 'M'
			case dirLeftIx:
				curMatrix = 'X'
			default:
				curMatrix = 'Y'
			}
			j--
		}
	}
	// ops was built backwards from (n,m) to (0,0); reverse it in place.
	for l, r := 0, len(ops)-1; l < r; l, r = l+1, r-1 {
		ops[l], ops[r] = ops[r], ops[l]
	}
	return ops
}

// tracebackFreeRefStart is traceback's counterpart for AlignFreeReferenceEnds:
// it stops as soon as the query (column) is fully consumed, leaving any
// remaining reference rows as an implicit, unscored leading clip rather
// than real deletion ops.
func tracebackFreeRefStart(mx *matrix3, n, m int, curMatrix byte) []opRun {
	var ops []opRun
	i, j := n, m
	for j > 0 {
		switch curMatrix {
		case 'M':
			if i == 0 {
				panic("align: traceback ran off the M matrix edge")
			}
			t := sam.CigarMismatch
			if mx.refBases[i-1] == mx.queryBases[j-1] {
				t = sam.CigarEqual
			}
			ops = append(ops, opRun{t})
			switch mx.mDir[mx.at(i, j)] {
			case dirDiagIy:
				curMatrix = 'Y'
			case dirDiagIx:
				curMatrix = 'X'
			default:
				curMatrix = 'M'
			}
			i--
			j--
		case 'X': // Ix: deletion, consumes reference only
			if i == 0 {
				panic("align: traceback ran off the Ix matrix edge")
			}
			ops = append(ops, opRun{sam.CigarDeletion})
			switch mx.ixDir[mx.at(i, j)] {
			case dirUpM:
				curMatrix = 'M'
			case dirUpIy:
				curMatrix = 'Y'
			default:
				curMatrix = 'X'
			}
			i--
		case 'Y': // Iy: insertion, consumes query only
			ops = append(ops, opRun{sam.CigarInsertion})
			switch mx.iyDir[mx.at(i, j)] {
			case dirLeftM:
				curMatrix = 'M'
			case dirLeftIx:
				curMatrix = 'X'
			default:
				curMatrix = 'Y'
			}
			j--
		}
	}
	for l, r := 0, len(ops)-1; l < r; l, r = l+1, r-1 {
		ops[l], ops[r] = ops[r], ops[l]
	}
	return ops
}

func runLengthEncode(ops []opRun) []sam.CigarOp {
	if len(ops) == 0 {
		return nil
	}
	var out []sam.CigarOp
	cur := ops[0].t
	n := 1
	for _, o := range ops[1:] {
		if o.t == cur {
			n++
			continue
		}
		out = append(out, sam.NewCigarOp(cur, n))
		cur, n = o.t, 1
	}
	out = append(out, sam.NewCigarOp(cur, n))
	return out
}

// leadingOffsets returns how many reference and query bases, respectively,
// are consumed by any leading deletion/insertion run before the first
// match/mismatch op in cigar.
func leadingOffsets(cigar []sam.CigarOp) (refOffset, queryOffset int) {
	for _, op := range cigar {
		switch op.Type() {
		case sam.CigarEqual, sam.CigarMismatch, sam.CigarMatch:
			return refOffset, queryOffset
		case sam.CigarDeletion:
			refOffset += op.Len()
		case sam.CigarInsertion:
			queryOffset += op.Len()
		default:
			return refOffset, queryOffset
		}
	}
	return refOffset, queryOffset
}
