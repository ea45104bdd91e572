package shazam

import (
	"context"
	"errors"
	"io"
	"math"

	"landmark-stream/logger"
	"landmark-stream/models"

	"github.com/mdobak/go-xerrors"
	"github.com/sirupsen/logrus"
)

// Stats are running totals of one fingerprinting session.
type Stats struct {
	Bytes         int64 // PCM bytes written
	Frames        int64 // frames analysed
	Fingerprints  int64 // hashes emitted
	Compactions   int64 // buffer compactions
	HistoryLen    int   // frame records currently held
	BufferedBytes int   // bytes currently held
}

// Fingerprinter turns a PCM byte stream into landmark hashes.
// It keeps all the rolling state of one stream and is not safe for
// concurrent use: create one per stream.
type Fingerprinter struct {
	cfg    FingerprintConfig
	fft    *FFT
	window []float64

	buf        frameBuffer
	frameIndex int64 // samples advanced so far
	det        *detector
	hist       *history

	re, im, spectrum []float64

	stats Stats
	log   *logrus.Entry
}

// NewFingerprinter validates cfg (after filling defaults) and returns a
// fingerprinter ready for its first write.
func NewFingerprinter(cfg FingerprintConfig) (*Fingerprinter, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fft, err := NewFFT(cfg.NFFT)
	if err != nil {
		return nil, err
	}

	win := cfg.Window
	if win == nil {
		win = hannWindow(cfg.NFFT)
	}
	mask := cfg.Mask
	if mask == nil {
		mask = decayMask(cfg.Bins(), cfg.MaskDf)
	}

	return &Fingerprinter{
		cfg:      cfg,
		fft:      fft,
		window:   win,
		buf:      newFrameBuffer(cfg.BytesPerSample, cfg.BufferCap, cfg.BufferKeep),
		det:      newDetector(cfg, mask),
		hist:     newHistory(cfg.WindowDt, cfg.PruningDt),
		re:       make([]float64, cfg.NFFT),
		im:       make([]float64, cfg.NFFT),
		spectrum: make([]float64, cfg.Bins()),
		log:      logger.For("fingerprint"),
	}, nil
}

// Config returns the effective configuration, defaults included.
func (f *Fingerprinter) Config() FingerprintConfig {
	return f.cfg
}

// Stats returns the running totals.
func (f *Fingerprinter) Stats() Stats {
	s := f.stats
	s.HistoryLen = f.hist.size()
	s.BufferedBytes = f.buf.buffered()
	return s
}

// Process appends chunk to the stream, analyses every frame that is now
// complete and returns the fingerprints they produced. The batch is empty
// when no frame was finalised. A trailing partial frame stays buffered for
// the next call.
func (f *Fingerprinter) Process(chunk []byte) models.Batch {
	var out models.Batch

	f.buf.write(chunk)
	f.stats.Bytes += int64(len(chunk))

	for f.buf.hasFrame(f.frameIndex, f.cfg.NFFT) {
		f.analyzeNext(&out)
	}

	if n := f.buf.compact(f.frameIndex); n > 0 {
		f.stats.Compactions++
		f.log.WithFields(logrus.Fields{
			"dropped": n,
			"offset":  f.buf.offset,
		}).Debug("compacted pcm buffer")
	}

	f.stats.Fingerprints += int64(out.Len())
	if f.cfg.Verbose && !out.Empty() {
		f.log.WithFields(logrus.Fields{
			"t":            out.TCodes[len(out.TCodes)-1],
			"fingerprints": out.Len(),
			"frames":       f.stats.Frames,
		}).Debug("emitted batch")
	}
	return out
}

// analyzeNext reads the frame at frameIndex and runs it through detection,
// thresholding, pruning and pairing.
func (f *Fingerprinter) analyzeNext(out *models.Batch) {
	f.buf.readFrame(f.re, f.frameIndex, f.window)
	for i := range f.im {
		f.im[i] = 0
	}
	f.frameIndex += int64(f.cfg.Step)

	f.fft.Forward(f.re, f.im)
	f.spectrum = f.fft.Magnitudes(f.spectrum, f.re, f.im)

	peaks := f.det.detect(f.spectrum)
	f.det.raise(peaks)

	f.hist.push(f.stamp(), peaks)
	f.hist.prune(f.det.threshold, f.cfg.MaskDecayLog)

	t0 := f.hist.finalIndex()
	if t0 >= 0 {
		f.pair(t0, out)
	}
	f.hist.trim(t0)

	f.det.decay()
	f.stats.Frames++
}

func (f *Fingerprinter) stamp() int64 {
	return int64(math.Round(float64(f.frameIndex) / float64(f.cfg.Step)))
}

// pair emits the hashes anchored on the frame at index t0: each present
// peak there is paired with present peaks of the same and earlier frames,
// most recent frame first, until MaxHashesPerPeak pairs are made.
func (f *Fingerprinter) pair(t0 int, out *models.Batch) {
	anchor := f.hist.marks[t0]
	bins := f.cfg.Bins()
	oldest := max(t0-f.cfg.WindowDt, 0)

	for _, a := range anchor.slots {
		if !a.present {
			continue
		}

		emitted := 0
	frames:
		for j := t0; j >= oldest; j-- {
			for _, k := range f.hist.marks[j].slots {
				if !k.present || k.Bin == a.Bin || absInt(k.Bin-a.Bin) >= f.cfg.WindowDf {
					continue
				}
				out.Append(anchor.t, uint64(PackHash(k.Bin, a.Bin, t0-j, bins)))
				emitted++
				if emitted >= f.cfg.MaxHashesPerPeak {
					break frames
				}
			}
		}
	}
}

// Stream feeds r into fp chunkSize bytes at a time and passes every
// non-empty batch to fn. It stops at EOF, on the first error from r or fn,
// or when ctx is done between two reads.
func Stream(ctx context.Context, r io.Reader, fp *Fingerprinter, chunkSize int, fn func(models.Batch) error) error {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	buf := make([]byte, chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			if b := fp.Process(buf[:n]); !b.Empty() {
				if ferr := fn(b); ferr != nil {
					return ferr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return xerrors.New("shazam: read pcm", err)
		}
	}
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
