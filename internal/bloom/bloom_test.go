package bloom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertedKeysAlwaysProbeTrue(t *testing.T) {
	f, err := New(1000, 0.01)
	require.NoError(t, err)

	keys := make([]int64, 0, 1000)
	for i := int64(0); i < 1000; i++ {
		keys = append(keys, i*7+3)
	}
	for _, k := range keys {
		f.Insert(HashInt64(k))
	}
	for _, k := range keys {
		require.True(t, f.Probe(HashInt64(k)), "key %d should probe present", k)
	}
}

func TestFalsePositiveRateIsBounded(t *testing.T) {
	const n = 2000
	f, err := New(n, 0.01)
	require.NoError(t, err)
	for i := int64(0); i < n; i++ {
		f.Insert(HashInt64(i))
	}

	falsePositives := 0
	trials := 20000
	for i := int64(n); i < int64(n)+int64(trials); i++ {
		if f.Probe(HashInt64(i)) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(trials)
	require.Less(t, rate, 0.02+0.01) // generous bound: <= 2*p_target + slack
}

func TestMemoryWeightTracksRejectRate(t *testing.T) {
	f, err := New(100, 0.01)
	require.NoError(t, err)
	f.Insert(HashInt64(1))

	require.Zero(t, f.MemoryWeight())
	for i := int64(1000); i < 1010; i++ {
		f.Probe(HashInt64(i))
	}
	require.Greater(t, f.MemoryWeight(), uint64(0))
}

func TestHashStringIsDeterministic(t *testing.T) {
	require.Equal(t, HashString("abc"), HashString("abc"))
	require.NotEqual(t, HashString("abc"), HashString("abd"))
}
