package shazam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatThreshold(bins int, v float64) []float64 {
	thr := make([]float64, bins)
	for i := range thr {
		thr[i] = v
	}
	return thr
}

func TestHistory_FinalIndex(t *testing.T) {
	h := newHistory(4, 2)
	assert.Equal(t, -3, h.finalIndex())

	for i := 0; i < 3; i++ {
		h.push(int64(i+1), nil)
	}
	assert.Equal(t, 0, h.finalIndex())
}

func TestHistory_PruneUndoesDecayByAge(t *testing.T) {
	const decay = -0.1
	h := newHistory(4, 2)

	// Age 0 needs log(m) >= 1.15, age 1 needs >= 1.05.
	h.push(1, []Peak{{Bin: 10, Magnitude: math.Exp(0.5)}})
	h.push(2, []Peak{{Bin: 10, Magnitude: math.Exp(1.1)}})
	h.push(3, []Peak{{Bin: 10, Magnitude: math.Exp(1.1)}})

	h.prune(flatThreshold(32, 1.15), decay)

	assert.True(t, h.marks[0].slots[0].present, "final frame is outside the pruning window")
	assert.True(t, h.marks[1].slots[0].present)
	assert.False(t, h.marks[2].slots[0].present)
}

func TestHistory_PruneSkipsBinZeroAndAbsentSlots(t *testing.T) {
	h := newHistory(4, 2)
	h.push(1, []Peak{{Bin: 0, Magnitude: 1e-3}, {Bin: 5, Magnitude: 1e-3}})

	h.prune(flatThreshold(32, 10), -0.1)
	require.Len(t, h.marks[0].slots, 2)
	assert.True(t, h.marks[0].slots[0].present)
	assert.False(t, h.marks[0].slots[1].present)

	// Absent slots keep their position.
	assert.Equal(t, 5, h.marks[0].slots[1].Bin)
}

func TestHistory_TrimKeepsPairingWindow(t *testing.T) {
	h := newHistory(3, 1)
	for i := 1; i <= 10; i++ {
		h.push(int64(i), nil)
		h.trim(h.finalIndex())
		assert.LessOrEqual(t, h.size(), 3+1+1)
	}

	// The final frame plus the windowDt-1 frames before it, plus the
	// pruningDt frames after it.
	require.Equal(t, 4, h.size())
	assert.EqualValues(t, 7, h.marks[0].t)
	assert.EqualValues(t, 10, h.marks[3].t)
}
