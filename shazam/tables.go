package shazam

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/window"
)

// Tables derived from the configuration are read-only once built, so every
// fingerprinter with the same parameters shares one copy.
var tableCache = struct {
	sync.Mutex
	twiddles map[int]*twiddles
	windows  map[int][]float64
	masks    map[maskKey][][]float64
}{
	twiddles: map[int]*twiddles{},
	windows:  map[int][]float64{},
	masks:    map[maskKey][][]float64{},
}

type maskKey struct {
	bins int
	df   float64
}

// twiddles holds the bit-reversal permutation and the cos/sin tables of
// size n/2 for a radix-2 transform of size n.
type twiddles struct {
	rev []int
	cos []float64
	sin []float64
}

func cachedTwiddles(n int) *twiddles {
	tableCache.Lock()
	defer tableCache.Unlock()

	if t, ok := tableCache.twiddles[n]; ok {
		return t
	}

	bits := 0
	for v := n; v > 1; v >>= 1 {
		bits++
	}

	t := &twiddles{
		rev: make([]int, n),
		cos: make([]float64, n/2),
		sin: make([]float64, n/2),
	}
	for i := range t.rev {
		r := 0
		for b, x := 0, i; b < bits; b++ {
			r = r<<1 | x&1
			x >>= 1
		}
		t.rev[i] = r
	}
	for k := range t.cos {
		theta := 2 * math.Pi * float64(k) / float64(n)
		t.cos[k] = math.Cos(theta)
		t.sin[k] = math.Sin(theta)
	}

	tableCache.twiddles[n] = t
	return t
}

// hannWindow returns the symmetric Hann window 0.5*(1-cos(2*pi*i/(n-1))).
func hannWindow(n int) []float64 {
	tableCache.Lock()
	defer tableCache.Unlock()

	if w, ok := tableCache.windows[n]; ok {
		return w
	}

	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	w = window.Hann(w)

	tableCache.windows[n] = w
	return w
}

// decayMask returns eww[i][j] = -0.5*((j-i)/df/sqrt(i+3))^2, the log of a
// gaussian bump centred on bin i that widens with i.
func decayMask(bins int, df float64) [][]float64 {
	key := maskKey{bins: bins, df: df}

	tableCache.Lock()
	defer tableCache.Unlock()

	if m, ok := tableCache.masks[key]; ok {
		return m
	}

	m := make([][]float64, bins)
	for i := range m {
		row := make([]float64, bins)
		width := df * math.Sqrt(float64(i)+3)
		for j := range row {
			d := float64(j-i) / width
			row[j] = -0.5 * d * d
		}
		m[i] = row
	}

	tableCache.masks[key] = m
	return m
}
