package shazam

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"math/rand"
	"testing"
	"testing/iotest"

	"landmark-stream/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// synth renders fn(t) for the given duration as s16le PCM at rate Hz.
func synth(rate int, seconds float64, fn func(t float64) float64) []byte {
	n := int(seconds * float64(rate))
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := fn(float64(i) / float64(rate))
		v = math.Max(-1, math.Min(1, v))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(math.Round(v*32767))))
	}
	return out
}

// twoTones mixes 1 kHz and 3 kHz sines over low-level white noise.
func twoTones(rate int, seconds float64) []byte {
	rng := rand.New(rand.NewSource(1))
	return synth(rate, seconds, func(t float64) float64 {
		return 0.3*math.Sin(2*math.Pi*1000*t) + 0.3*math.Sin(2*math.Pi*3000*t) +
			0.005*(rng.Float64()*2-1)
	})
}

// melody switches between random chords every 200ms.
func melody(rate int, seconds float64, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	chords := make([][3]float64, int(seconds/0.2)+1)
	for i := range chords {
		for j := range chords[i] {
			chords[i][j] = 200 + rng.Float64()*7000
		}
	}
	return synth(rate, seconds, func(t float64) float64 {
		c := chords[int(t/0.2)]
		return 0.25*math.Sin(2*math.Pi*c[0]*t) +
			0.2*math.Sin(2*math.Pi*c[1]*t) +
			0.15*math.Sin(2*math.Pi*c[2]*t) +
			0.01*(rng.Float64()*2-1)
	})
}

func newTestFingerprinter(t *testing.T, mutate func(*FingerprintConfig)) *Fingerprinter {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	fp, err := NewFingerprinter(cfg)
	require.NoError(t, err)
	return fp
}

func processChunked(fp *Fingerprinter, pcm []byte, sizes func() int) models.Batch {
	var all models.Batch
	for len(pcm) > 0 {
		n := min(sizes(), len(pcm))
		all.Extend(fp.Process(pcm[:n]))
		pcm = pcm[n:]
	}
	return all
}

func TestNewFingerprinter_InvalidConfig(t *testing.T) {
	fp, err := NewFingerprinter(FingerprintConfig{NFFT: 500})
	assert.Nil(t, fp)
	assert.True(t, errors.Is(err, ErrNotPowerOfTwo), "got %v", err)
}

func TestFingerprinter_ShortInputEmitsNothing(t *testing.T) {
	fp := newTestFingerprinter(t, nil)

	b := fp.Process(make([]byte, 1024))
	assert.True(t, b.Empty())
	assert.Zero(t, fp.Stats().Frames, "a frame needs one byte past its end")

	b = fp.Process([]byte{0})
	assert.True(t, b.Empty())
	assert.EqualValues(t, 1, fp.Stats().Frames)
}

func TestFingerprinter_Silence(t *testing.T) {
	fp := newTestFingerprinter(t, nil)

	b := fp.Process(make([]byte, 2*22050*4))
	assert.True(t, b.Empty())
	assert.Greater(t, fp.Stats().Frames, int64(300))
	assert.Zero(t, fp.Stats().Fingerprints)
}

func TestFingerprinter_TwoTones(t *testing.T) {
	fp := newTestFingerprinter(t, nil)
	b := fp.Process(twoTones(22050, 6))
	require.False(t, b.Empty())

	assert.EqualValues(t, 1, b.TCodes[0], "the first frame is stamped 1")

	near := func(bin, want int) bool { return absInt(bin-want) <= 1 }
	matched := 0
	stamps := map[int64]bool{}
	for i, h := range b.HCodes {
		e, l, d := Hash(h).Unpack(256)
		if d <= fp.cfg.WindowDt &&
			(near(e, 23) && near(l, 70) || near(e, 70) && near(l, 23)) {
			matched++
			stamps[b.TCodes[i]] = true
		}
	}

	assert.Greater(t, float64(matched)/float64(b.Len()), 0.9)
	last := b.TCodes[b.Len()-1]
	assert.Greater(t, len(stamps), int(last)*3/4, "the pair shows up in almost every frame")

	// Every second of steady state carries at least one pairing hash.
	steady := int64(fp.cfg.WindowDt + fp.cfg.PruningDt)
	perSecond := int64(math.Round(1 / fp.cfg.DT()))
	require.GreaterOrEqual(t, last, steady+3*perSecond)
	for lo := steady; lo+perSecond <= last; lo += perSecond {
		hit := false
		for ts := lo; ts < lo+perSecond && !hit; ts++ {
			hit = stamps[ts]
		}
		assert.True(t, hit, "no pairing hash in stamps [%d, %d)", lo, lo+perSecond)
	}
}

func TestFingerprinter_HashesDecodeWithinBounds(t *testing.T) {
	fp := newTestFingerprinter(t, nil)
	cfg := fp.Config()
	b := fp.Process(melody(22050, 5, 1))
	require.False(t, b.Empty())

	var last int64
	for i, h := range b.HCodes {
		e, l, d := Hash(h).Unpack(cfg.Bins())
		assert.GreaterOrEqual(t, e, cfg.MinBin+1)
		assert.Less(t, e, cfg.MaxBin-1)
		assert.GreaterOrEqual(t, l, cfg.MinBin+1)
		assert.Less(t, l, cfg.MaxBin-1)
		assert.NotEqual(t, e, l)
		assert.Less(t, absInt(e-l), cfg.WindowDf)
		assert.GreaterOrEqual(t, d, 0)
		assert.LessOrEqual(t, d, cfg.WindowDt)
		assert.Equal(t, h, uint64(PackHash(e, l, d, cfg.Bins())))

		assert.GreaterOrEqual(t, b.TCodes[i], last, "stamps never go back")
		last = b.TCodes[i]
	}
}

func TestFingerprinter_FanOutPerAnchor(t *testing.T) {
	fp := newTestFingerprinter(t, func(c *FingerprintConfig) { c.MaxHashesPerPeak = 2 })
	b := fp.Process(melody(22050, 5, 2))
	require.False(t, b.Empty())

	type anchor struct {
		t   int64
		bin int
	}
	perAnchor := map[anchor]int{}
	perFrame := map[int64]int{}
	for i, h := range b.HCodes {
		_, l, _ := Hash(h).Unpack(256)
		perAnchor[anchor{b.TCodes[i], l}]++
		perFrame[b.TCodes[i]]++
	}
	for a, n := range perAnchor {
		assert.LessOrEqual(t, n, 2, "anchor %+v", a)
	}
	for ts, n := range perFrame {
		assert.LessOrEqual(t, n, 2*fp.cfg.MaxPeaksPerFrame, "frame %d", ts)
	}
}

func TestFingerprinter_ChunkingDoesNotMatter(t *testing.T) {
	pcm := melody(22050, 6, 3)

	whole := newTestFingerprinter(t, nil).Process(pcm)
	require.False(t, whole.Empty())

	rng := rand.New(rand.NewSource(11))
	chunked := processChunked(newTestFingerprinter(t, nil), pcm, func() int { return 1 + rng.Intn(3000) })
	assert.Equal(t, whole, chunked)

	odd := processChunked(newTestFingerprinter(t, nil), pcm, func() int { return 1 })
	assert.Equal(t, whole, odd, "byte by byte, samples split across writes")

	small := newTestFingerprinter(t, func(c *FingerprintConfig) {
		c.BufferCap = 5000
		c.BufferKeep = 2000
	})
	compacted := processChunked(small, pcm, func() int { return 1 + rng.Intn(4000) })
	assert.Equal(t, whole, compacted)
	assert.Greater(t, small.Stats().Compactions, int64(0))
}

func TestFingerprinter_CompactionMatchesUnboundedBuffer(t *testing.T) {
	pcm := melody(22050, 25, 4)
	require.Greater(t, len(pcm), 1000000)

	fp := newTestFingerprinter(t, nil)
	got := fp.Process(pcm)
	assert.Greater(t, fp.buf.offset, int64(0))
	assert.EqualValues(t, 1, fp.Stats().Compactions)
	assert.LessOrEqual(t, fp.Stats().BufferedBytes, fp.cfg.BufferKeep)

	big := newTestFingerprinter(t, func(c *FingerprintConfig) { c.BufferCap = 1 << 30 })
	want := big.Process(pcm)
	assert.Zero(t, big.buf.offset)
	assert.Equal(t, want, got)
}

func TestFingerprinter_HistoryStaysBounded(t *testing.T) {
	fp := newTestFingerprinter(t, nil)
	pcm := melody(22050, 5, 5)
	limit := fp.cfg.MaxHistory()

	for len(pcm) > 0 {
		n := min(777, len(pcm))
		fp.Process(pcm[:n])
		pcm = pcm[n:]
		require.LessOrEqual(t, fp.hist.size(), limit)
		require.LessOrEqual(t, fp.Stats().BufferedBytes, fp.cfg.BufferCap+777)
	}
	assert.Equal(t, fp.cfg.WindowDt+fp.cfg.PruningDt, fp.hist.size())
}

func TestFingerprinter_RecentFramesKeepPeaks(t *testing.T) {
	fp := newTestFingerprinter(t, nil)
	fp.buf.write(melody(22050, 4, 6))

	var out models.Batch
	frames, withPeaks := 0, 0
	for fp.buf.hasFrame(fp.frameIndex, fp.cfg.NFFT) {
		fp.analyzeNext(&out)
		frames++
		last := fp.hist.marks[fp.hist.size()-1]
		for _, s := range last.slots {
			if s.present {
				withPeaks++
				break
			}
		}
	}
	require.Greater(t, frames, 300)
	assert.Greater(t, withPeaks, frames/2)
}

func TestStream(t *testing.T) {
	pcm := melody(22050, 3, 7)
	want := newTestFingerprinter(t, nil).Process(pcm)

	var got models.Batch
	calls := 0
	err := Stream(context.Background(), iotest.HalfReader(bytes.NewReader(pcm)), newTestFingerprinter(t, nil), 1500,
		func(b models.Batch) error {
			calls++
			got.Extend(b)
			return nil
		})
	require.NoError(t, err)
	assert.Greater(t, calls, 1)
	assert.Equal(t, want, got)
}

func TestStream_Errors(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Stream(ctx, bytes.NewReader(make([]byte, 4096)), newTestFingerprinter(t, nil), 0,
			func(models.Batch) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("reader", func(t *testing.T) {
		boom := errors.New("boom")
		err := Stream(context.Background(), iotest.ErrReader(boom), newTestFingerprinter(t, nil), 0,
			func(models.Batch) error { return nil })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("callback", func(t *testing.T) {
		stop := errors.New("stop")
		err := Stream(context.Background(), bytes.NewReader(twoTones(22050, 2)), newTestFingerprinter(t, nil), 0,
			func(models.Batch) error { return stop })
		assert.ErrorIs(t, err, stop)
	})

	t.Run("eof", func(t *testing.T) {
		err := Stream(context.Background(), io.LimitReader(bytes.NewReader(make([]byte, 10)), 10), newTestFingerprinter(t, nil), 0,
			func(models.Batch) error { return nil })
		assert.NoError(t, err)
	})
}
