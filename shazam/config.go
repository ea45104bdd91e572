package shazam

import (
	"fmt"
	"math"

	"github.com/mdobak/go-xerrors"
)

var (
	// ErrNotPowerOfTwo is returned when the FFT size is not a power of two.
	ErrNotPowerOfTwo = xerrors.Message("fft size must be a power of two")

	// ErrInvalidConfig is returned for any other inconsistent parameter.
	ErrInvalidConfig = xerrors.Message("invalid fingerprint config")
)

const (
	defaultSampleRate     = 22050
	defaultBytesPerSample = 2
	defaultNFFT           = 512
	defaultMNLM           = 5
	defaultMPPP           = 3
	defaultWindowDf       = 60
	defaultWindowDt       = 96
	defaultPruningDt      = 24
	defaultMaskDf         = 3
	defaultBufferCap      = 1000000
	defaultBufferKeep     = 20000
)

// defaultMaskDecayLog is ln(0.995): the threshold loses 0.5% per frame.
var defaultMaskDecayLog = math.Log(0.995)

// FingerprintConfig controls the spectrogram, peak extraction and landmark
// hashing stages. Zero-valued fields are replaced by their defaults by
// WithDefaults, so zero is never a usable value except for MinBin, whose
// default is zero. Validate rejects the zeros that would slip through.
type FingerprintConfig struct {
	Verbose          bool    `yaml:"verbose" json:"verbose"`                   // debug-log every emitted batch
	SampleRate       int     `yaml:"sample_rate" json:"sampleRate"`            // Hz of the incoming PCM
	BytesPerSample   int     `yaml:"bytes_per_sample" json:"bytesPerSample"`   // only 2 (s16le) is supported
	NFFT             int     `yaml:"nfft" json:"nfft"`                         // FFT size, power of two
	Step             int     `yaml:"step" json:"step"`                         // hop between frames in samples
	MaxPeaksPerFrame int     `yaml:"mnlm" json:"mnlm"`                         // local maxima kept per frame
	MaxHashesPerPeak int     `yaml:"mppp" json:"mppp"`                         // hashes emitted per anchor peak
	MinBin           int     `yaml:"min_bin" json:"minBin"`                    // first bin scanned (inclusive)
	MaxBin           int     `yaml:"max_bin" json:"maxBin"`                    // last bin scanned (exclusive)
	WindowDf         int     `yaml:"window_df" json:"windowDf"`                // max bin distance of a pair
	WindowDt         int     `yaml:"window_dt" json:"windowDt"`                // max frame distance of a pair
	PruningDt        int     `yaml:"pruning_dt" json:"pruningDt"`              // frames a peak stays prunable
	MaskDecayLog     float64 `yaml:"mask_decay_log" json:"maskDecayLog"`       // per-frame threshold decay, < 0
	MaskDf           float64 `yaml:"mask_df" json:"maskDf"`                    // width of the decay mask
	BufferCap        int     `yaml:"buffer_cap" json:"bufferCap"`              // buffered bytes that trigger compaction
	BufferKeep       int     `yaml:"buffer_keep" json:"bufferKeep"`            // bytes kept after compaction

	// Window overrides the Hann window. Length must be NFFT.
	Window []float64 `yaml:"-" json:"-"`
	// Mask overrides the log-domain decay mask. Shape must be NFFT/2 x NFFT/2.
	Mask [][]float64 `yaml:"-" json:"-"`
}

// DefaultConfig returns the parameters of the reference landmark
// fingerprinter: 22050 Hz mono, 512-point FFT with 50% overlap.
func DefaultConfig() FingerprintConfig {
	return FingerprintConfig{
		SampleRate:       defaultSampleRate,
		BytesPerSample:   defaultBytesPerSample,
		NFFT:             defaultNFFT,
		Step:             defaultNFFT / 2,
		MaxPeaksPerFrame: defaultMNLM,
		MaxHashesPerPeak: defaultMPPP,
		MinBin:           0,
		MaxBin:           defaultNFFT / 2,
		WindowDf:         defaultWindowDf,
		WindowDt:         defaultWindowDt,
		PruningDt:        defaultPruningDt,
		MaskDecayLog:     defaultMaskDecayLog,
		MaskDf:           defaultMaskDf,
		BufferCap:        defaultBufferCap,
		BufferKeep:       defaultBufferKeep,
	}
}

// WithDefaults returns a copy of c where every zero field holds its default.
// Step and MaxBin derive from NFFT.
func (c FingerprintConfig) WithDefaults() FingerprintConfig {
	setInt := func(v *int, d int) {
		if *v == 0 {
			*v = d
		}
	}

	setInt(&c.SampleRate, defaultSampleRate)
	setInt(&c.BytesPerSample, defaultBytesPerSample)
	setInt(&c.NFFT, defaultNFFT)
	setInt(&c.Step, c.NFFT/2)
	setInt(&c.MaxPeaksPerFrame, defaultMNLM)
	setInt(&c.MaxHashesPerPeak, defaultMPPP)
	setInt(&c.MaxBin, c.NFFT/2)
	setInt(&c.WindowDf, defaultWindowDf)
	setInt(&c.WindowDt, defaultWindowDt)
	setInt(&c.PruningDt, defaultPruningDt)
	setInt(&c.BufferCap, defaultBufferCap)
	setInt(&c.BufferKeep, defaultBufferKeep)
	if c.MaskDecayLog == 0 {
		c.MaskDecayLog = defaultMaskDecayLog
	}
	if c.MaskDf == 0 {
		c.MaskDf = defaultMaskDf
	}
	return c
}

// Validate checks a config that already went through WithDefaults.
func (c FingerprintConfig) Validate() error {
	if !isPowerOfTwo(c.NFFT) {
		return xerrors.New(ErrNotPowerOfTwo, fmt.Sprintf("got %d", c.NFFT))
	}

	half := c.NFFT / 2
	switch {
	case c.SampleRate <= 0:
		return xerrors.New(ErrInvalidConfig, fmt.Sprintf("sample rate %d", c.SampleRate))
	case c.BytesPerSample != 2:
		return xerrors.New(ErrInvalidConfig, fmt.Sprintf("%d bytes per sample, only 16-bit PCM is supported", c.BytesPerSample))
	case c.Step <= 0:
		return xerrors.New(ErrInvalidConfig, fmt.Sprintf("step %d", c.Step))
	case c.MaxPeaksPerFrame <= 0 || c.MaxHashesPerPeak <= 0:
		return xerrors.New(ErrInvalidConfig, fmt.Sprintf("mnlm %d, mppp %d", c.MaxPeaksPerFrame, c.MaxHashesPerPeak))
	case c.MinBin < 0 || c.MaxBin > half || c.MaxBin-c.MinBin < 3:
		return xerrors.New(ErrInvalidConfig, fmt.Sprintf("band [%d, %d) over %d bins", c.MinBin, c.MaxBin, half))
	case c.WindowDf <= 0 || c.WindowDt <= 0 || c.PruningDt <= 0:
		return xerrors.New(ErrInvalidConfig, fmt.Sprintf("windowDf %d, windowDt %d, pruningDt %d", c.WindowDf, c.WindowDt, c.PruningDt))
	case c.MaskDecayLog >= 0:
		return xerrors.New(ErrInvalidConfig, fmt.Sprintf("mask decay log %g must be negative", c.MaskDecayLog))
	case c.MaskDf <= 0:
		return xerrors.New(ErrInvalidConfig, fmt.Sprintf("mask df %g", c.MaskDf))
	case c.BufferKeep <= 0 || c.BufferCap < c.BufferKeep:
		return xerrors.New(ErrInvalidConfig, fmt.Sprintf("buffer cap %d, keep %d", c.BufferCap, c.BufferKeep))
	}

	if c.Window != nil && len(c.Window) != c.NFFT {
		return xerrors.New(ErrInvalidConfig, fmt.Sprintf("window has %d coefficients, want %d", len(c.Window), c.NFFT))
	}
	if c.Mask != nil {
		if len(c.Mask) != half {
			return xerrors.New(ErrInvalidConfig, fmt.Sprintf("mask has %d rows, want %d", len(c.Mask), half))
		}
		for i, row := range c.Mask {
			if len(row) != half {
				return xerrors.New(ErrInvalidConfig, fmt.Sprintf("mask row %d has %d columns, want %d", i, len(row), half))
			}
		}
	}
	return nil
}

// DT is the duration in seconds of one timestamp unit (one step).
func (c FingerprintConfig) DT() float64 {
	return float64(c.Step) / float64(c.SampleRate)
}

// Bins is the number of usable spectrum bins, NFFT/2.
func (c FingerprintConfig) Bins() int {
	return c.NFFT / 2
}

// MaxHistory is the upper bound on retained frame records.
func (c FingerprintConfig) MaxHistory() int {
	return c.WindowDt + c.PruningDt + 1
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
