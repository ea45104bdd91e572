package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"landmark-stream/config"
	"landmark-stream/logger"
	"landmark-stream/shazam"
	"landmark-stream/sink"
	"landmark-stream/utils"
	"landmark-stream/wav"

	"github.com/fatih/color"
	"github.com/mdobak/go-xerrors"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

type fingerprintOptions struct {
	configPath string
	raw        bool
	chunk      int
	mqtt       bool
	progress   bool
	flat       bool
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openInput returns the PCM source for input and its expected size in
// bytes, or 0 when unknown.
func openInput(ctx context.Context, input string, raw bool, sampleRate int) (io.ReadCloser, int64, error) {
	log := logger.For("fingerprint")

	if input == "-" {
		return io.NopCloser(os.Stdin), 0, nil
	}

	if raw {
		f, err := os.Open(input)
		if err != nil {
			return nil, 0, xerrors.New("open "+input, err)
		}
		var size int64
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		return f, size, nil
	}

	if !wav.IsRemote(input) {
		if _, err := os.Stat(input); err != nil {
			return nil, 0, xerrors.New("input file does not exist", err)
		}
	}

	var size int64
	md, err := wav.GetMetadata(ctx, input)
	if err != nil {
		log.WithError(err).Warn("could not read metadata")
	} else {
		size = int64(md.Duration * float64(sampleRate) * 2)
		log.WithField("codec", md.Codec).
			WithField("rate", md.SampleRate).
			WithField("channels", md.Channels).
			WithField("duration", md.Duration).
			WithField("title", md.Title).
			Info("decoding input")
	}

	r, err := wav.DecodePCM(ctx, input, sampleRate)
	if err != nil {
		return nil, 0, err
	}
	return r, size, nil
}

func fingerprint(input string, opts fingerprintOptions) {
	cfg := loadConfig(opts.configPath)
	log := logger.For("fingerprint")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fp, err := shazam.NewFingerprinter(cfg.Fingerprint)
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	src, size, err := openInput(ctx, input, opts.raw, cfg.Fingerprint.SampleRate)
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()

	var reader io.Reader = src
	var progress *mpb.Progress
	if opts.progress && size > 0 {
		progress = mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
		bar := progress.AddBar(size,
			mpb.PrependDecorators(
				decor.Name("Fingerprinting: "),
				decor.CountersKibiByte("% .1f / % .1f"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.EwmaETA(decor.ET_STYLE_GO, 60),
			),
		)
		proxy := bar.ProxyReader(src)
		defer proxy.Close()
		reader = proxy
		defer func() {
			// Decoded length is an estimate; end the bar wherever we stopped.
			bar.SetTotal(-1, true)
			progress.Wait()
		}()
	}

	var out sink.Sink = sink.NewJSONLines(os.Stdout)
	if opts.flat {
		out = sink.NewFlatLines(os.Stdout, cfg.Fingerprint.DT())
	}
	sinks := sink.Multi{out}
	if opts.mqtt {
		m, err := sink.NewMQTT(cfg.MQTT, input)
		if err != nil {
			color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		sinks = append(sinks, m)
	}

	chunk := opts.chunk
	if chunk <= 0 {
		chunk = cfg.Server.ChunkSize
	}

	start := time.Now()
	err = shazam.Stream(ctx, reader, fp, chunk, sinks.Publish)
	if cerr := sinks.Close(); err == nil {
		err = cerr
	}
	stats := fp.Stats()

	if err != nil && ctx.Err() == nil {
		log.WithError(err).Error("fingerprinting failed")
	}

	secs := float64(stats.Bytes) / float64(cfg.Fingerprint.BytesPerSample*cfg.Fingerprint.SampleRate)
	bold := color.New(color.Bold)
	bold.Fprintf(os.Stderr, "\n%s\n", input)
	fmt.Fprintf(os.Stderr, "  audio:        %s (%.1f s)\n", utils.FormatBytes(stats.Bytes), secs)
	fmt.Fprintf(os.Stderr, "  frames:       %d\n", stats.Frames)
	color.New(color.FgGreen).Fprintf(os.Stderr, "  fingerprints: %d\n", stats.Fingerprints)
	fmt.Fprintf(os.Stderr, "  took:         %s\n", time.Since(start).Round(time.Millisecond))

	if err != nil && ctx.Err() == nil {
		os.Exit(1)
	}
}

func serve(cfgPath, port string) {
	cfg := loadConfig(cfgPath)
	if port != "" {
		cfg.Server.Port = port
	}
	log := logger.For("http")

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("port", cfg.Server.Port).Info("starting server")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server error")
	}
}

func printConfig(cfgPath string) {
	cfg := loadConfig(cfgPath)
	out, err := cfg.YAML()
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(out)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, xerrors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func requestLogger(next http.Handler) http.Handler {
	log := logger.For("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rec, r)

		// skip scrape noise
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", rec.status).
				WithField("took", time.Since(start)).
				Info("request")
		}
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Encoding")
		w.Header().Set("Access-Control-Expose-Headers", "X-Session-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
