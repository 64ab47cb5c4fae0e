package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddFoldsCounters(t *testing.T) {
	a := Counters{PairsTotal: 10, PairsMapped: 8}
	b := Counters{PairsTotal: 5, PairsMapped: 4, PairsAmbiguous: 1}
	a.Add(b)
	assert.Equal(t, 15, a.PairsTotal)
	assert.Equal(t, 12, a.PairsMapped)
	assert.Equal(t, 1, a.PairsAmbiguous)
}

func TestStringIsTabSeparated(t *testing.T) {
	c := Counters{PairsTotal: 10, PairsMapped: 8, PairsUnmapped: 1, PairsAmbiguous: 1, DuplicateReadPairsRemoved: 9}
	assert.Equal(t, "10\t8\t1\t1\t0\t0\t9", c.String())
}
