package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"landmark-stream/config"
	"landmark-stream/logger"
	"landmark-stream/metrics"
	"landmark-stream/models"
	"landmark-stream/shazam"
	"landmark-stream/sink"
	"landmark-stream/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 << 10,
	WriteBufferSize: 16 << 10,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type api struct {
	cfg *config.Config
}

func newRouter(cfg *config.Config) http.Handler {
	a := &api{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/fingerprint", a.handleFingerprint)
	mux.HandleFunc("/api/ws", a.handleWS)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.Handle("/metrics", promhttp.Handler())

	return requestLogger(corsMiddleware(mux))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	logger.For("http").WithField("status", status).Warn(msg)
	writeJSON(w, status, map[string]string{"error": msg})
}

// flushWriter flushes the response after every write so NDJSON lines reach
// the client as they are produced.
type flushWriter struct {
	w     io.Writer
	f     http.Flusher
	wrote bool
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	fw.wrote = true
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}

// handleFingerprint streams the raw PCM request body through a fresh
// fingerprinter and answers with one NDJSON line per non-empty batch.
func (a *api) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	session := uuid.NewString()
	log := logger.For("fingerprint").WithField("session", session)
	start := time.Now()

	fp, err := shazam.NewFingerprinter(a.cfg.Fingerprint)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var body io.Reader = r.Body
	if a.cfg.Server.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, a.cfg.Server.MaxBodyBytes)
	}
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "zstd") {
		dec, err := zstd.NewReader(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid zstd stream")
			return
		}
		defer dec.Close()
		body = dec
	}

	defer metrics.SessionStarted()()
	var tracker metrics.Tracker

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Session-ID", session)
	fw := &flushWriter{w: w}
	fw.f, _ = w.(http.Flusher)
	out := sink.NewJSONLines(fw)

	err = shazam.Stream(r.Context(), body, fp, a.cfg.Server.ChunkSize, func(b models.Batch) error {
		tracker.Observe(fp.Stats())
		return out.Publish(b)
	})
	tracker.Observe(fp.Stats())
	_ = out.Close()

	stats := fp.Stats()
	if err != nil {
		if !fw.wrote {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.WithError(err).Warn("stream ended early")
	}

	if !fw.wrote {
		w.WriteHeader(http.StatusOK)
	}
	log.WithField("bytes", utils.FormatBytes(stats.Bytes)).
		WithField("frames", stats.Frames).
		WithField("fingerprints", stats.Fingerprints).
		WithField("took", time.Since(start)).
		Info("request fingerprinted")
}

// handleWS fingerprints a live stream: every binary message is one write
// and every non-empty batch goes back as a JSON text message.
func (a *api) handleWS(w http.ResponseWriter, r *http.Request) {
	fp, err := shazam.NewFingerprinter(a.cfg.Fingerprint)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.For("ws").WithError(err).Warn("upgrade failed")
		return
	}
	defer conn.Close()
	if a.cfg.Server.MaxMessageBytes > 0 {
		conn.SetReadLimit(a.cfg.Server.MaxMessageBytes)
	}

	session := uuid.NewString()
	log := logger.For("ws").WithField("session", session)
	log.Info("session opened")

	defer metrics.SessionStarted()()
	var tracker metrics.Tracker

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				log.WithField("limit", a.cfg.Server.MaxMessageBytes).Warn("message too large")
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("read failed")
			}
			break
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		b := fp.Process(data)
		tracker.Observe(fp.Stats())
		if b.Empty() {
			continue
		}
		if err := conn.WriteJSON(b); err != nil {
			log.WithError(err).Warn("write failed")
			break
		}
	}

	stats := fp.Stats()
	log.WithField("frames", stats.Frames).
		WithField("fingerprints", stats.Fingerprints).
		Info("session closed")
}

type configResponse struct {
	shazam.FingerprintConfig
	DT float64 `json:"dt"`
}

func (a *api) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, configResponse{
		FingerprintConfig: a.cfg.Fingerprint,
		DT:                a.cfg.Fingerprint.DT(),
	})
}
