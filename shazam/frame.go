package shazam

import "encoding/binary"

// pcmScale maps a signed 16-bit sample to [-1, 1).
const pcmScale = 1.0 / 32768

// frameBuffer accumulates raw PCM bytes. offset counts the bytes already
// discarded from the start of the logical stream, so absolute sample
// positions stay valid across compaction.
type frameBuffer struct {
	buf    []byte
	offset int64
	bps    int
	cap    int
	keep   int
}

func newFrameBuffer(bps, capBytes, keep int) frameBuffer {
	return frameBuffer{bps: bps, cap: capBytes, keep: keep}
}

func (b *frameBuffer) write(p []byte) {
	b.buf = append(b.buf, p...)
}

// byteIndex converts an absolute sample index into an index into buf.
// Every access to buf goes through it.
func (b *frameBuffer) byteIndex(sample int64) int {
	return int(sample*int64(b.bps) - b.offset)
}

// end is the absolute byte position one past the last buffered byte.
func (b *frameBuffer) end() int64 {
	return int64(len(b.buf)) + b.offset
}

// hasFrame reports whether a frame of n samples starting at sample start
// can be read. The comparison is strict: the frame is only read once at
// least one byte past it has arrived.
func (b *frameBuffer) hasFrame(start int64, n int) bool {
	return (start+int64(n))*int64(b.bps) < b.end()
}

// readFrame fills dst with len(dst) samples starting at sample start,
// scaled to [-1, 1) and multiplied by the window.
func (b *frameBuffer) readFrame(dst []float64, start int64, win []float64) {
	i := b.byteIndex(start)
	for k := range dst {
		s := int16(binary.LittleEndian.Uint16(b.buf[i:]))
		dst[k] = win[k] * float64(s) * pcmScale
		i += b.bps
	}
}

// compact drops old bytes once the buffer outgrows its cap, keeping the
// most recent keep bytes and never anything at or after sample pending.
// It returns the number of bytes dropped.
func (b *frameBuffer) compact(pending int64) int {
	if len(b.buf) <= b.cap {
		return 0
	}

	drop := len(b.buf) - b.keep
	if limit := b.byteIndex(pending); drop > limit {
		drop = limit
	}
	if drop <= 0 {
		return 0
	}

	n := len(b.buf) - drop
	rest := make([]byte, n, n+b.keep/2)
	copy(rest, b.buf[drop:])
	b.buf = rest
	b.offset += int64(drop)
	return drop
}

// buffered returns the number of bytes currently held.
func (b *frameBuffer) buffered() int {
	return len(b.buf)
}
