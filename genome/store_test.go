package genome

import (
	"encoding/binary"
	"io/ioutil"
	"os"
	"sort"
	"strconv"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpow/heatseq/seq"
)

// writeTestGenome packs containers (name -> sequence text) into a compact
// genome file and returns its path.
func writeTestGenome(t *testing.T, containers map[string][]string) string {
	t.Helper()
	f, err := ioutil.TempFile("", "genome-*.2bit")
	require.NoError(t, err)
	defer f.Close()

	var order []string
	for name := range containers {
		order = append(order, name)
	}
	// Deterministic order for reproducible tests.
	sort.Strings(order)

	type span struct{ start, stop int64 }
	spans := make(map[string]span)
	var body []byte
	for _, name := range order {
		text := containers[name][0]
		s, err := seq.New(text)
		require.NoError(t, err)
		start := int64(len(body))
		body = append(body, s.Bits()...)
		spans[name] = span{start: start, stop: int64(len(body))}
	}
	_, err = f.Write(body)
	require.NoError(t, err)

	tableOffset := int64(len(body))
	var table string
	for _, name := range order {
		sp := spans[name]
		table += name + "\t" + strconv.FormatInt(sp.start, 10) + "\t" + strconv.FormatInt(sp.stop, 10) + "\n"
	}
	_, err = f.WriteString(table)
	require.NoError(t, err)

	var footer [8]byte
	binary.BigEndian.PutUint64(footer[:], uint64(tableOffset))
	_, err = f.Write(footer[:])
	require.NoError(t, err)

	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestOpenAndFetch(t *testing.T) {
	path := writeTestGenome(t, map[string][]string{
		"chr1": {"ACGTACGTACGTACGTACGT"},
		"chr2": {"GATTACAGATTACA"},
	})
	ctx := vcontext.Background()
	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"chr1", "chr2"}, s.Containers())

	got, err := s.Fetch(ctx, "chr1", 1, 4)
	require.NoError(t, err)
	assert.Equal(t, "ACGT", got.String())
	assert.Equal(t, 4, got.Len())

	got, err = s.Fetch(ctx, "chr2", 5, 8)
	require.NoError(t, err)
	assert.Equal(t, "ACAG", got.String())
}

func TestFetchSwapsReversedRange(t *testing.T) {
	path := writeTestGenome(t, map[string][]string{"chr1": {"ACGTACGTACGT"}})
	ctx := vcontext.Background()
	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	forward, err := s.Fetch(ctx, "chr1", 2, 6)
	require.NoError(t, err)
	backward, err := s.Fetch(ctx, "chr1", 6, 2)
	require.NoError(t, err)
	assert.True(t, forward.Equal(backward))
}

func TestFetchUnknownContainer(t *testing.T) {
	path := writeTestGenome(t, map[string][]string{"chr1": {"ACGT"}})
	ctx := vcontext.Background()
	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Fetch(ctx, "chrX", 1, 2)
	assert.ErrorIs(t, err, ErrUnknownContainer)
}

func TestFetchOutOfRange(t *testing.T) {
	path := writeTestGenome(t, map[string][]string{"chr1": {"ACGT"}})
	ctx := vcontext.Background()
	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Fetch(ctx, "chr1", 1, 5)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestLargestContainer(t *testing.T) {
	path := writeTestGenome(t, map[string][]string{
		"short": {"ACGT"},
		"long":  {"ACGTACGTACGTACGTACGTACGT"},
	})
	ctx := vcontext.Background()
	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	name, full, err := s.Largest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "long", name)
	assert.Equal(t, 24, full.Len())
}
