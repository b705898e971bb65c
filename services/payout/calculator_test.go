package payout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseBands(t *testing.T) {
	cases := []struct {
		name  string
		score int
		want  int64
	}{
		{"zero score keeps the floor", 0, 10},
		{"low band floor", 1, 10},
		{"low band scales", 30, 300},
		{"just below mid band", 49, 490},
		{"mid band start", 50, 500},
		{"mid band scales", 70, 1500},
		{"just below top band", 79, 1950},
		{"top band start", 80, 2000},
		{"top band scales", 90, 6000},
		{"maximum score", 100, 10000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Base(tc.score))
		})
	}
}

func TestBaseTotalAndClamped(t *testing.T) {
	require.Equal(t, Base(0), Base(-5))
	require.Equal(t, Base(100), Base(140))
}

func TestBaseMonotonicNonNegative(t *testing.T) {
	prev := int64(-1)
	for score := 0; score <= 100; score++ {
		v := Base(score)
		require.GreaterOrEqual(t, v, int64(0), "score %d", score)
		require.GreaterOrEqual(t, v, prev, "score %d must not pay less than %d", score, score-1)
		prev = v
	}
}
