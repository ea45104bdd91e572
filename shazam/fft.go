package shazam

import (
	"fmt"
	"math"

	"github.com/mdobak/go-xerrors"
)

// FFT is a fixed-size radix-2 decimation-in-time transform.
// An FFT is safe for concurrent use; it only reads its tables.
type FFT struct {
	n int
	t *twiddles
}

// NewFFT prepares a transform of size n, which must be a power of two.
func NewFFT(n int) (*FFT, error) {
	if !isPowerOfTwo(n) {
		return nil, xerrors.New(ErrNotPowerOfTwo, fmt.Sprintf("got %d", n))
	}
	return &FFT{n: n, t: cachedTwiddles(n)}, nil
}

// Forward replaces re and im with their discrete Fourier transform,
// X[k] = sum x[j] * exp(-2*pi*i*j*k/n). Both slices must have length n.
func (f *FFT) Forward(re, im []float64) {
	n := f.n
	if len(re) != n || len(im) != n {
		panic("shazam: fft input length mismatch")
	}

	for i, j := range f.t.rev {
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		stride := n / size
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				c := f.t.cos[k*stride]
				s := f.t.sin[k*stride]
				a := start + k
				b := a + half

				// (re+i*im) * (c - i*s)
				tr := re[b]*c + im[b]*s
				ti := im[b]*c - re[b]*s

				re[b] = re[a] - tr
				im[b] = im[a] - ti
				re[a] += tr
				im[a] += ti
			}
		}
	}
}

// Magnitudes writes the amplitude spectrum of the first n/2 bins into dst,
// 2/n * |X[k]|, so a full-scale sinusoid on a bin reads about 1 before
// windowing. dst is grown when too short and returned.
func (f *FFT) Magnitudes(dst, re, im []float64) []float64 {
	half := f.n / 2
	if cap(dst) < half {
		dst = make([]float64, half)
	}
	dst = dst[:half]

	scale := 2 / float64(f.n)
	for k := range dst {
		dst[k] = scale * math.Hypot(re[k], im[k])
	}
	return dst
}
