package pipeline

import (
	"encoding/binary"
	"io/ioutil"
	"os"
	"strconv"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpow/heatseq/align"
	"github.com/bpow/heatseq/bamio"
	"github.com/bpow/heatseq/genome"
	"github.com/bpow/heatseq/probe"
	"github.com/bpow/heatseq/probeindex"
	"github.com/bpow/heatseq/readio"
	"github.com/bpow/heatseq/seq"
)

// writeTestGenome packs a single "chr1" container into a compact genome
// file and returns its path, mirroring genome/store_test.go's fixture
// builder (duplicated here since that helper is unexported).
func writeTestGenome(t *testing.T, sequence string) string {
	t.Helper()
	f, err := ioutil.TempFile("", "pipeline-genome-*.2bit")
	require.NoError(t, err)
	defer f.Close()

	packed, err := seq.New(sequence)
	require.NoError(t, err)
	body := packed.Bits()
	_, err = f.Write(body)
	require.NoError(t, err)

	tableOffset := int64(len(body))
	table := "chr1\t0\t" + strconv.Itoa(len(body)) + "\n"
	_, err = f.WriteString(table)
	require.NoError(t, err)

	var footer [8]byte
	binary.BigEndian.PutUint64(footer[:], uint64(tableOffset))
	_, err = f.Write(footer[:])
	require.NoError(t, err)

	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

// sliceSource is an in-memory readio.PairSource over pre-built records, used
// in place of the FASTQ reader so the pipeline can be re-run (via
// PairSourceFactory) against the exact same fixed pair list in both phases.
type sliceSource struct {
	r1s, r2s []readio.Record
	i        int
}

func (s *sliceSource) ScanPair(r1, r2 *readio.Record) bool {
	if s.i >= len(s.r1s) {
		return false
	}
	*r1, *r2 = s.r1s[s.i], s.r2s[s.i]
	s.i++
	return true
}

func (s *sliceSource) Err() error { return nil }

func reverseComplementText(t *testing.T, text string) string {
	t.Helper()
	packed, err := seq.New(text)
	require.NoError(t, err)
	return packed.ReverseComplement().String()
}

func TestRunMapsExtendsAndAssemblesSinglePair(t *testing.T) {
	ctx := vcontext.Background()

	captureTarget := "GATTACAGATTACAGATTACAGATTACAGATTACAGATTACAGATTACAGATTACAGATTACAGATTACAGATTACAGATTACAGATTACAGATTACAGA"
	require.Len(t, captureTarget, 100)
	leadingJunk := "ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT"
	trailingJunk := "TGCATGCATGCATGCATGCATGCATGCATGCATGCATGCATGCATGCATGCA"
	genomeText := leadingJunk + captureTarget + trailingJunk
	genomePath := writeTestGenome(t, genomeText)

	captureStart := len(leadingJunk) + 1 // 1-based inclusive
	captureStop := len(leadingJunk) + len(captureTarget)

	probes := []probe.Probe{{
		ID:                 "probeA",
		SequenceName:       "chr1",
		CaptureTargetStart: captureStart,
		CaptureTargetStop:  captureStop,
		Strand:             probe.Forward,
	}}
	probeSet, err := probe.NewSet(probes)
	require.NoError(t, err)

	store, err := genome.Open(ctx, genomePath)
	require.NoError(t, err)
	defer store.Close()

	idx, err := probeindex.Build(probeSet, 10, probeindex.FetchFromGenome(ctx, store))
	require.NoError(t, err)

	uid1 := "ACGTACGT"
	uid2 := "TTTTAAAA"
	rec1 := readio.Record{
		Header:  "@pair0/1",
		Bases:   uid1 + captureTarget,
		Quality: repeatQuality(len(uid1) + len(captureTarget)),
	}
	rec2 := readio.Record{
		Header:  "@pair0/2",
		Bases:   uid2 + reverseComplementText(t, captureTarget),
		Quality: repeatQuality(len(uid2) + len(captureTarget)),
	}

	opts := DefaultOpts
	opts.UIDLength = 8
	opts.Workers = 2
	opts.KmerSize = 10
	opts.MinKmerHits = 20

	p := New(opts, probeSet, idx, store)
	newSource := func() (readio.PairSource, error) {
		return &sliceSource{r1s: []readio.Record{rec1}, r2s: []readio.Record{rec2}}, nil
	}

	records, err := p.Run(ctx, newSource, SideChannels{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 1, p.Metrics.PairsTotal)
	assert.Equal(t, 1, p.Metrics.PairsMapped)
	assert.Equal(t, 1, p.Metrics.UidBucketsTotal)
	assert.Equal(t, 0, p.Metrics.DuplicateReadPairsRemoved)

	for _, r := range records {
		require.NotNil(t, r.Ref)
		assert.Equal(t, "chr1", r.Ref.Name())
		assert.Equal(t, captureStart-1, r.Pos)
		assert.Equal(t, "100=", align.CigarString(r.Cigar))
		assert.NotZero(t, r.Flags&sam.Paired)
	}

	mate2 := records[1]
	assert.NotZero(t, mate2.Flags&sam.Reverse)

	var gotUID string
	for _, aux := range records[0].AuxFields {
		if aux.Tag() == bamio.TagUIDGroup {
			gotUID = aux.Value().(string)
		}
	}
	assert.Equal(t, uid1, gotUID)
}

func repeatQuality(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'I'
	}
	return string(b)
}
