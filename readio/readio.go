// Package readio defines the narrow paired-read input contract the pipeline
// consumes, plus a default implementation reading raw FASTQ.
package readio

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// ErrDiscordantPairs is returned when the two mate streams of a PairSource
// disagree about whether another record is available.
var ErrDiscordantPairs = errors.New("readio: discordant read-pair streams")

// Record is one FASTQ-like record: header, bases, and a Phred-scaled ASCII
// quality string of the same length as Bases.
type Record struct {
	Header  string
	Bases   string
	Quality string
}

// Trim truncates Bases and Quality to their first n bases; n must not
// exceed len(r.Bases).
func (r *Record) Trim(n int) {
	r.Bases = r.Bases[:n]
	r.Quality = r.Quality[:n]
}

// PairSource supplies paired mate-one/mate-two records in lockstep. The
// pipeline halts ingestion at the shorter of the two streams, per the
// read-input contract; ScanPair reports false once either mate is
// exhausted, and Err distinguishes a clean end-of-stream from a read error
// or a discordant pair count.
type PairSource interface {
	ScanPair(r1, r2 *Record) bool
	Err() error
}

// FastqPairSource reads Record pairs from two raw FASTQ streams, one
// 4-line record per mate at a time. It is adapted from
// encoding/fastq/scanner.go's Scanner/PairScanner pair: the per-mate line
// scanning is unchanged, generalized only to readio.Record's field names.
type FastqPairSource struct {
	r1, r2 *fastqScanner
	err    error
}

// NewFastqPairSource builds a FastqPairSource reading mate one from r1 and
// mate two from r2.
func NewFastqPairSource(r1, r2 io.Reader) *FastqPairSource {
	return &FastqPairSource{r1: newFastqScanner(r1), r2: newFastqScanner(r2)}
}

// ScanPair implements PairSource.
func (p *FastqPairSource) ScanPair(r1, r2 *Record) bool {
	if p.err != nil {
		return false
	}
	ok1 := p.r1.scan(r1)
	ok2 := p.r2.scan(r2)
	if ok1 != ok2 {
		p.err = ErrDiscordantPairs
		return false
	}
	return ok1 && ok2
}

// Err implements PairSource.
func (p *FastqPairSource) Err() error {
	if p.err != nil {
		return p.err
	}
	if err := p.r1.Err(); err != nil {
		return err
	}
	return p.r2.Err()
}

// fastqScanner reads one mate's 4-line FASTQ records.
type fastqScanner struct {
	b   *bufio.Scanner
	err error
}

var errFastqEOF = errors.New("readio: eof")

func newFastqScanner(r io.Reader) *fastqScanner {
	b := bufio.NewScanner(r)
	b.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &fastqScanner{b: b}
}

func (f *fastqScanner) scan(rec *Record) bool {
	if f.err != nil {
		return false
	}
	if !f.b.Scan() {
		if f.err = f.b.Err(); f.err == nil {
			f.err = errFastqEOF
		}
		return false
	}
	header := f.b.Bytes()
	if len(header) == 0 || header[0] != '@' {
		f.err = errors.New("readio: malformed FASTQ header line")
		return false
	}
	rec.Header = string(header)
	if !f.scanInto() {
		return false
	}
	rec.Bases = f.b.Text()
	if !f.scanInto() {
		return false
	}
	plus := f.b.Bytes()
	if len(plus) == 0 || plus[0] != '+' {
		f.err = errors.New("readio: malformed FASTQ '+' line")
		return false
	}
	if !f.scanInto() {
		return false
	}
	rec.Quality = f.b.Text()
	if len(rec.Quality) != len(rec.Bases) {
		f.err = errors.Errorf("readio: quality length %d != bases length %d for %s", len(rec.Quality), len(rec.Bases), rec.Header)
		return false
	}
	return true
}

func (f *fastqScanner) scanInto() bool {
	if !f.b.Scan() {
		if f.err = f.b.Err(); f.err == nil {
			f.err = errors.New("readio: truncated FASTQ record")
		}
		return false
	}
	return true
}

// Err returns nil at clean end-of-stream instead of the internal sentinel.
func (f *fastqScanner) Err() error {
	if f.err == errFastqEOF {
		return nil
	}
	return f.err
}
