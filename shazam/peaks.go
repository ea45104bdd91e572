package shazam

import "math"

const (
	// logFloor keeps log() finite on silent bins.
	logFloor = 1e-6

	// initialThreshold is the starting log-domain detection floor.
	initialThreshold = -3.0
)

// Peak is a spectral local maximum: a bin and its weighted magnitude.
type Peak struct {
	Bin       int
	Magnitude float64
}

// detector turns one amplitude spectrum into the strongest local maxima
// above an adaptive per-bin threshold, and owns that threshold.
type detector struct {
	minBin, maxBin int
	maxPeaks       int
	decayLog       float64
	mask           [][]float64

	threshold []float64
	diff      []float64
	peaks     []Peak
}

func newDetector(cfg FingerprintConfig, mask [][]float64) *detector {
	bins := cfg.Bins()
	d := &detector{
		minBin:    cfg.MinBin,
		maxBin:    cfg.MaxBin,
		maxPeaks:  cfg.MaxPeaksPerFrame,
		decayLog:  cfg.MaskDecayLog,
		mask:      mask,
		threshold: make([]float64, bins),
		diff:      make([]float64, bins),
		peaks:     make([]Peak, 0, cfg.MaxPeaksPerFrame),
	}
	for i := range d.threshold {
		d.threshold[i] = initialThreshold
	}
	return d
}

// detect weights spectrum in place by sqrt(i+16) over the scanned band and
// returns up to maxPeaks local maxima in descending magnitude. The returned
// slice is reused by the next call.
func (d *detector) detect(spectrum []float64) []Peak {
	for i := d.minBin; i < d.maxBin; i++ {
		spectrum[i] = math.Abs(spectrum[i]) * math.Sqrt(float64(i)+16)
		d.diff[i] = math.Max(math.Log(math.Max(spectrum[i], logFloor))-d.threshold[i], 0)
	}

	d.peaks = d.peaks[:0]
	for i := d.minBin + 1; i < d.maxBin-1; i++ {
		if d.diff[i] <= d.diff[i-1] || d.diff[i] <= d.diff[i+1] {
			continue
		}
		d.insert(Peak{Bin: i, Magnitude: spectrum[i]})
	}
	return d.peaks
}

// insert keeps peaks sorted by descending magnitude and at most maxPeaks
// long. A new peak goes after existing peaks of equal magnitude.
func (d *detector) insert(p Peak) {
	n := len(d.peaks)
	if n == d.maxPeaks && p.Magnitude <= d.peaks[n-1].Magnitude {
		return
	}

	pos := n
	for pos > 0 && p.Magnitude > d.peaks[pos-1].Magnitude {
		pos--
	}

	if n < d.maxPeaks {
		d.peaks = append(d.peaks, Peak{})
	}
	copy(d.peaks[pos+1:], d.peaks[pos:])
	d.peaks[pos] = p
}

// raise lifts the threshold around every peak by the decay mask so that
// weaker neighbours are suppressed in the frames that follow.
func (d *detector) raise(peaks []Peak) {
	for _, p := range peaks {
		lm := math.Log(p.Magnitude)
		row := d.mask[p.Bin]
		for j := d.minBin; j < d.maxBin; j++ {
			if v := lm + row[j]; v > d.threshold[j] {
				d.threshold[j] = v
			}
		}
	}
}

// decay applies one frame of exponential forgetting to the whole threshold.
func (d *detector) decay() {
	for j := range d.threshold {
		d.threshold[j] += d.decayLog
	}
}
