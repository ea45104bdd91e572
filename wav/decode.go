// Package wav wraps ffmpeg and ffprobe: it turns any audio file or stream
// URL into the mono s16le PCM the fingerprinter reads.
package wav

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"landmark-stream/logger"

	"github.com/mdobak/go-xerrors"
)

// ErrDecoder is returned when ffmpeg cannot be started or exits with an error.
var ErrDecoder = xerrors.Message("ffmpeg decode failed")

// IsRemote reports whether input is a URL ffmpeg should open as a stream.
func IsRemote(input string) bool {
	i := strings.Index(input, "://")
	if i <= 0 {
		return false
	}
	switch strings.ToLower(input[:i]) {
	case "http", "https", "rtmp", "rtsp", "srt", "udp", "tcp", "icy", "hls":
		return true
	}
	return false
}

func decodeArgs(input string, sampleRate int) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if IsRemote(input) {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1")
	}
	return append(args,
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"pipe:1",
	)
}

// pcmStream is the stdout of a running ffmpeg. Close stops the process.
type pcmStream struct {
	io.ReadCloser
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	cancel context.CancelFunc

	once sync.Once
	err  error
}

// Read reports ffmpeg's exit status once its output is drained, so a
// broken input surfaces as an error instead of a short stream.
func (s *pcmStream) Read(p []byte) (int, error) {
	n, err := s.ReadCloser.Read(p)
	if err == io.EOF {
		if werr := s.wait(false); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (s *pcmStream) Close() error {
	return s.wait(true)
}

func (s *pcmStream) wait(kill bool) error {
	s.once.Do(func() {
		if kill {
			s.cancel()
		}
		// Drain so ffmpeg never blocks on a full pipe before it exits.
		_, _ = io.Copy(io.Discard, s.ReadCloser)
		err := s.cmd.Wait()
		s.cancel()
		if err != nil && !kill {
			var detail any
			if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
				detail = msg
			}
			s.err = xerrors.New(ErrDecoder, err, detail)
		}
	})
	return s.err
}

// DecodePCM starts ffmpeg on input (a path or a URL) and returns its output:
// mono little-endian 16-bit PCM at sampleRate Hz. The caller must Close the
// stream; cancelling ctx stops ffmpeg.
func DecodePCM(ctx context.Context, input string, sampleRate int) (io.ReadCloser, error) {
	if sampleRate <= 0 {
		return nil, xerrors.New(ErrDecoder, "sample rate "+strconv.Itoa(sampleRate))
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, "ffmpeg", decodeArgs(input, sampleRate)...)

	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, xerrors.New(ErrDecoder, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, xerrors.New(ErrDecoder, err)
	}

	logger.For("decode").WithField("input", input).Debug("ffmpeg started")
	return &pcmStream{ReadCloser: stdout, cmd: cmd, stderr: stderr, cancel: cancel}, nil
}
