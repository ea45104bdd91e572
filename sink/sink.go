// Package sink delivers fingerprint batches to their consumers.
package sink

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"landmark-stream/models"

	"github.com/mdobak/go-xerrors"
)

// Sink receives every non-empty batch of a stream, in order.
type Sink interface {
	Publish(b models.Batch) error
	Close() error
}

// JSONLines writes one JSON object per batch, newline terminated.
type JSONLines struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
	dt  float64 // > 0 writes one models.Fingerprint per line
}

// NewJSONLines returns a sink writing NDJSON to w. Close flushes but does
// not close w.
func NewJSONLines(w io.Writer) *JSONLines {
	bw := bufio.NewWriter(w)
	return &JSONLines{w: bw, enc: json.NewEncoder(bw)}
}

// NewFlatLines is NewJSONLines with every batch flattened to one
// fingerprint per line, timed with dt seconds per tcode.
func NewFlatLines(w io.Writer, dt float64) *JSONLines {
	s := NewJSONLines(w)
	s.dt = dt
	return s
}

func (s *JSONLines) Publish(b models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dt > 0 {
		for _, fp := range models.Fingerprints(b, s.dt) {
			if err := s.enc.Encode(fp); err != nil {
				return xerrors.New("sink: encode fingerprint", err)
			}
		}
	} else if err := s.enc.Encode(b); err != nil {
		return xerrors.New("sink: encode batch", err)
	}
	// Flush per batch so a live consumer sees each line as it is produced.
	if err := s.w.Flush(); err != nil {
		return xerrors.New("sink: write batch", err)
	}
	return nil
}

func (s *JSONLines) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// Multi fans every batch out to all of its sinks.
type Multi []Sink

func (m Multi) Publish(b models.Batch) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
