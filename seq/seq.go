// Package seq implements a compact, 2-bit-per-base nucleotide sequence type
// and the k-mer iteration used by the probe mapper and genome store.
package seq

import (
	"strings"

	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/pkg/errors"
)

// Code is the 2-bit encoding of a single base: A=0, C=1, G=2, T=3. The
// complement of a code is code^3, which is what makes ReverseComplement a
// pure bit operation rather than a table lookup per base.
type Code = uint8

const (
	codeA Code = 0
	codeC Code = 1
	codeG Code = 2
	codeT Code = 3

	invalidCode = Code(0xff)
)

var baseToCode [256]Code
var codeToBase = [4]byte{'A', 'C', 'G', 'T'}

func init() {
	for i := range baseToCode {
		baseToCode[i] = invalidCode
	}
	baseToCode['A'], baseToCode['a'] = codeA, codeA
	baseToCode['C'], baseToCode['c'] = codeC, codeC
	baseToCode['G'], baseToCode['g'] = codeG, codeG
	baseToCode['T'], baseToCode['t'] = codeT, codeT
}

// isIUPACAmbiguity reports whether ch is an IUPAC ambiguity code other than
// the four unambiguous bases (e.g. R, Y, S, W, K, M, B, D, H, V) or N itself.
func isIUPACAmbiguity(ch byte) bool {
	switch ch {
	case 'N', 'n', 'R', 'r', 'Y', 'y', 'S', 's', 'W', 'w', 'K', 'k',
		'M', 'm', 'B', 'b', 'D', 'd', 'H', 'h', 'V', 'v':
		return true
	}
	return false
}

// PackedSequence is an immutable nucleotide sequence packed two bits per
// base. It optionally carries a parallel N-mask for sequences built with
// NewIUPAC, since a lone N (or any ambiguity code collapsed to N) cannot be
// represented in two bits; such positions store an arbitrary code (A) and
// are marked in nMask instead.
//
// Invariant: len(bases) == ceil(2*Len()/8).
type PackedSequence struct {
	length int
	bases  []byte
	nMask  []byte // nil unless the sequence was built with ambiguity codes present
}

// ErrInvalidBase is returned when a sequence literal contains a character
// outside the accepted alphabet.
var ErrInvalidBase = errors.New("seq: invalid base")

// New builds a PackedSequence from text drawn from the strict {A,C,G,T}
// alphabet (case-insensitive). Any other character fails with
// ErrInvalidBase.
func New(text string) (PackedSequence, error) {
	return build(text, false)
}

// NewIUPAC builds a PackedSequence from text drawn from {A,C,G,T,N} plus
// IUPAC ambiguity codes. Ambiguity codes (including N) are accepted and
// collapsed to N; any character outside the IUPAC alphabet fails with
// ErrInvalidBase.
func NewIUPAC(text string) (PackedSequence, error) {
	return build(text, true)
}

func build(text string, iupac bool) (PackedSequence, error) {
	n := len(text)
	s := PackedSequence{
		length: n,
		bases:  make([]byte, (2*n+7)/8),
	}
	var nMask []byte
	for i := 0; i < n; i++ {
		ch := text[i]
		code := baseToCode[ch]
		if code == invalidCode {
			if iupac && isIUPACAmbiguity(ch) {
				if nMask == nil {
					nMask = make([]byte, (n+7)/8)
				}
				nMask[i/8] |= 1 << uint(7-i%8)
				code = codeA
			} else {
				return PackedSequence{}, errors.Wrapf(ErrInvalidBase, "character %q at offset %d", ch, i)
			}
		}
		setCode(s.bases, i, code)
	}
	s.nMask = nMask
	return s, nil
}

// FromCodes packs a slice of 2-bit codes (as produced by, e.g., a genome
// file's bit-sliced fetch) directly into a PackedSequence, without going
// through text. No code in codes may carry ambiguity information; callers
// with N positions should use NewIUPAC instead.
func FromCodes(codes []Code) PackedSequence {
	s := PackedSequence{length: len(codes), bases: make([]byte, (2*len(codes)+7)/8)}
	for i, c := range codes {
		setCode(s.bases, i, c&3)
	}
	return s
}

func setCode(bases []byte, i int, code Code) {
	bitOff := uint(2 * i % 8)
	byteOff := 2 * i / 8
	// MSB-first: the base at offset i occupies bits [6-bitOff, 7-bitOff].
	shift := 6 - bitOff
	bases[byteOff] &^= 3 << shift
	bases[byteOff] |= code << shift
}

func getCode(bases []byte, i int) Code {
	bitOff := uint(2 * i % 8)
	byteOff := 2 * i / 8
	shift := 6 - bitOff
	return (bases[byteOff] >> shift) & 3
}

// Len returns the sequence length in bases.
func (s PackedSequence) Len() int { return s.length }

// HasAmbiguity reports whether any base in s is N (or collapsed from an
// ambiguity code).
func (s PackedSequence) HasAmbiguity() bool { return s.nMask != nil }

func (s PackedSequence) isN(i int) bool {
	if s.nMask == nil {
		return false
	}
	return s.nMask[i/8]&(1<<uint(7-i%8)) != 0
}

// BaseAt returns the upper-case base character at offset i.
func (s PackedSequence) BaseAt(i int) byte {
	if i < 0 || i >= s.length {
		panic("seq: index out of range")
	}
	if s.isN(i) {
		return 'N'
	}
	return codeToBase[getCode(s.bases, i)]
}

// Subsequence returns the half-open range [i,j) as a new PackedSequence.
// 0 <= i <= j <= Len() is required.
func (s PackedSequence) Subsequence(i, j int) PackedSequence {
	if i < 0 || j < i || j > s.length {
		panic("seq: invalid subsequence range")
	}
	out := PackedSequence{length: j - i, bases: make([]byte, (2*(j-i)+7)/8)}
	var nMask []byte
	for k := i; k < j; k++ {
		setCode(out.bases, k-i, getCode(s.bases, k))
		if s.isN(k) {
			if nMask == nil {
				nMask = make([]byte, (out.length+7)/8)
			}
			nMask[(k-i)/8] |= 1 << uint(7-(k-i)%8)
		}
	}
	out.nMask = nMask
	return out
}

// String renders the sequence back to upper-case text.
func (s PackedSequence) String() string {
	var b strings.Builder
	b.Grow(s.length)
	for i := 0; i < s.length; i++ {
		b.WriteByte(s.BaseAt(i))
	}
	return b.String()
}

// Bytes returns the sequence as a freshly allocated upper-case byte slice.
func (s PackedSequence) Bytes() []byte {
	return gunsafe.StringToBytes(s.String())
}

// Bits returns the raw MSB-first 2-bit-packed byte buffer backing s, sized
// ceil(2*Len()/8) per the PackedSequence invariant. It is exposed for
// genome-file construction and tests; callers must not mutate it.
func (s PackedSequence) Bits() []byte { return s.bases }

// complementCode flips A<->T, C<->G via a pure XOR, matching the canonical
// complement mapping; this is why reverse-complement is a bit operation and
// not a lookup table applied per base.
func complementCode(c Code) Code { return c ^ 3 }

// ReverseComplement returns the reverse complement of s. It is guaranteed
// that s.ReverseComplement().ReverseComplement() is bit-for-bit equal to s.
func (s PackedSequence) ReverseComplement() PackedSequence {
	out := PackedSequence{length: s.length, bases: make([]byte, (2*s.length+7)/8)}
	var nMask []byte
	for i := 0; i < s.length; i++ {
		src := s.length - 1 - i
		setCode(out.bases, i, complementCode(getCode(s.bases, src)))
		if s.isN(src) {
			if nMask == nil {
				nMask = make([]byte, (out.length+7)/8)
			}
			nMask[i/8] |= 1 << uint(7-i%8)
		}
	}
	out.nMask = nMask
	return out
}

// Equal reports whether s and o encode the same bases (including N
// positions), regardless of how they were constructed.
func (s PackedSequence) Equal(o PackedSequence) bool {
	if s.length != o.length {
		return false
	}
	for i := 0; i < s.length; i++ {
		if s.isN(i) != o.isN(i) {
			return false
		}
		if !s.isN(i) && getCode(s.bases, i) != getCode(o.bases, i) {
			return false
		}
	}
	return true
}
