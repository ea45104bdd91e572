package shazam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDetector(t *testing.T, mutate func(*FingerprintConfig)) *detector {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	cfg = cfg.WithDefaults()
	require.NoError(t, cfg.Validate())
	return newDetector(cfg, decayMask(cfg.Bins(), cfg.MaskDf))
}

func TestDetector_InsertOrderAndCap(t *testing.T) {
	d := testDetector(t, func(c *FingerprintConfig) { c.MaxPeaksPerFrame = 3 })

	d.insert(Peak{Bin: 10, Magnitude: 1})
	d.insert(Peak{Bin: 20, Magnitude: 3})
	d.insert(Peak{Bin: 30, Magnitude: 2})
	assert.Equal(t, []Peak{{20, 3}, {30, 2}, {10, 1}}, d.peaks)

	d.insert(Peak{Bin: 40, Magnitude: 2})
	assert.Equal(t, []Peak{{20, 3}, {30, 2}, {40, 2}}, d.peaks, "ties go after earlier peaks")

	d.insert(Peak{Bin: 50, Magnitude: 2})
	assert.Equal(t, []Peak{{20, 3}, {30, 2}, {40, 2}}, d.peaks, "full list ignores an equal peak")

	d.insert(Peak{Bin: 60, Magnitude: 5})
	assert.Equal(t, []Peak{{60, 5}, {20, 3}, {30, 2}}, d.peaks)
}

func TestDetector_SilenceHasNoPeaks(t *testing.T) {
	d := testDetector(t, nil)
	spectrum := make([]float64, 256)
	assert.Empty(t, d.detect(spectrum))
}

func TestDetector_FindsStrictMaxima(t *testing.T) {
	d := testDetector(t, nil)

	spectrum := make([]float64, 256)
	spectrum[40] = 1
	// Equal after weighting: a plateau, not a strict maximum.
	spectrum[100] = 0.5 * math.Sqrt(117)
	spectrum[101] = 0.5 * math.Sqrt(116)
	spectrum[200] = 0.25

	peaks := d.detect(spectrum)
	require.Len(t, peaks, 2)
	assert.Equal(t, spectrum[100], spectrum[101])
	assert.Equal(t, 40, peaks[0].Bin)
	assert.InDelta(t, math.Sqrt(56), peaks[0].Magnitude, 1e-12)
	assert.Equal(t, 200, peaks[1].Bin)
}

func TestDetector_WeightingBreaksRawTies(t *testing.T) {
	d := testDetector(t, nil)

	spectrum := make([]float64, 256)
	spectrum[40] = 1
	spectrum[100] = 0.5
	spectrum[101] = 0.5
	spectrum[200] = 0.25

	var bins []int
	for _, p := range d.detect(spectrum) {
		bins = append(bins, p.Bin)
	}
	assert.Equal(t, []int{40, 101, 200}, bins, "the higher bin weighs more")
}

func TestDetector_BandEdgesNeverPeak(t *testing.T) {
	d := testDetector(t, func(c *FingerprintConfig) { c.MinBin, c.MaxBin = 10, 50 })

	spectrum := make([]float64, 256)
	spectrum[10] = 1
	spectrum[49] = 1
	spectrum[60] = 1
	assert.Empty(t, d.detect(spectrum))
}

func TestDetector_RaiseSuppressesNeighbours(t *testing.T) {
	d := testDetector(t, nil)

	spectrum := make([]float64, 256)
	spectrum[40] = 1
	peaks := d.detect(spectrum)
	require.Len(t, peaks, 1)
	d.raise(peaks)

	lm := math.Log(peaks[0].Magnitude)
	assert.InDelta(t, lm, d.threshold[40], 1e-12)
	assert.Less(t, d.threshold[45], d.threshold[40])
	assert.Greater(t, d.threshold[45], initialThreshold)

	d.decay()
	assert.InDelta(t, lm+d.decayLog, d.threshold[40], 1e-12)

	// The same bump right after is masked by the raised threshold.
	spectrum = make([]float64, 256)
	spectrum[42] = 0.9
	assert.Empty(t, d.detect(spectrum))
}
