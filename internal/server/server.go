// Package server exposes the counter as an HTTP service.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/ccwc/internal/counter"
	"github.com/ethpandaops/ccwc/internal/export"
	httpexport "github.com/ethpandaops/ccwc/internal/export/http"
	"github.com/ethpandaops/ccwc/internal/source"
	"github.com/ethpandaops/ccwc/internal/textenc"
)

// CountPath is the counting endpoint.
const CountPath = "/v1/count"

// snappyBlock is the Content-Encoding for a single snappy block, as sent
// by clients that compress whole payloads. Framed streams use
// "x-snappy-framed".
const snappyBlock = "snappy"

var errUnsupportedContentEncoding = errors.New("unsupported content encoding")

// Options are the counting defaults applied when a request does not
// override them.
type Options struct {
	// Metrics is used when the request has no metrics parameter.
	Metrics counter.Metric
	// Encoding is used when the request has no encoding parameter.
	// nil selects UTF-8.
	Encoding textenc.Encoding
	// BufferSize is the counter read chunk size.
	BufferSize int
	// Push receives a record per counted request. May be nil.
	Push *httpexport.Publisher
}

// Server serves count requests.
type Server struct {
	log      logrus.FieldLogger
	cfg      Config
	opts     Options
	metrics  *export.Metrics
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// countResponse carries only the enabled metrics.
type countResponse struct {
	Lines    *uint64 `json:"lines,omitempty"`
	Words    *uint64 `json:"words,omitempty"`
	Chars    *uint64 `json:"chars,omitempty"`
	Bytes    *uint64 `json:"bytes,omitempty"`
	Encoding string  `json:"encoding"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates a Server. metrics may be nil.
func New(
	log logrus.FieldLogger,
	cfg Config,
	opts Options,
	metrics *export.Metrics,
) *Server {
	if opts.Encoding == nil {
		opts.Encoding = textenc.UTF8
	}

	if opts.Metrics&counter.AllMetrics == counter.NoMetrics {
		opts.Metrics = counter.Lines | counter.Words | counter.Bytes
	}

	if opts.BufferSize <= 0 {
		opts.BufferSize = counter.DefaultBufferSize
	}

	return &Server{
		log:     log.WithField("component", "server"),
		cfg:     cfg,
		opts:    opts,
		metrics: metrics,
	}
}

// Handler returns the service's routes: the count endpoint plus the
// metrics, health and pprof endpoints when metrics are wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(CountPath, s.handleCount)

	if s.metrics != nil {
		s.metrics.Register(mux)
	}

	return mux
}

// Start begins listening and serving in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}

	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
	}

	s.running.Store(true)

	go func() {
		s.log.WithField("addr", ln.Addr().String()).
			Info("Count server started")

		if err := s.server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).
				Error("Count server error")
		}

		s.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started with
// port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.cfg.Addr
}

// Running reports whether the server is serving.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Stop shuts the server down, waiting for in-flight requests until ctx
// is done.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down count server: %w", err)
	}

	return nil
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	s.metrics.TrackInFlight(1)
	defer s.metrics.TrackInFlight(-1)

	var (
		code int
		body any
	)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)

		code = http.StatusMethodNotAllowed
		body = errorResponse{Error: "method not allowed"}
	} else {
		code, body = s.count(w, r)
	}

	writeJSON(w, code, body)

	s.metrics.ObserveRequest(code, time.Since(start))

	s.log.WithFields(logrus.Fields{
		"code": code,
		"took": time.Since(start),
	}).Debug("Served count request")
}

// count counts the request body and returns the status and response.
func (s *Server) count(w http.ResponseWriter, r *http.Request) (int, any) {
	query := r.URL.Query()

	metrics := s.opts.Metrics

	if raw := query.Get("metrics"); raw != "" {
		parsed, err := counter.ParseMetrics([]string{raw})
		if err != nil {
			return http.StatusBadRequest, errorResponse{Error: err.Error()}
		}

		if parsed != counter.NoMetrics {
			metrics = parsed
		}
	}

	enc := s.opts.Encoding

	if name := query.Get("encoding"); name != "" {
		looked, err := textenc.Lookup(name)
		if err != nil {
			return http.StatusBadRequest, errorResponse{Error: err.Error()}
		}

		enc = looked
	}

	limited := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
	defer limited.Close()

	body, err := decodeBody(limited, r.Header.Get("Content-Encoding"), s.cfg.MaxBodySize)
	if err != nil {
		return errorStatus(err), errorResponse{Error: err.Error()}
	}
	defer body.Close()

	c := counter.New(s.opts.BufferSize)
	c.Set(metrics, true)

	start := time.Now()
	err = c.CountEncoded(body, enc)
	totals := c.Totals()

	took := time.Since(start)

	s.metrics.ObserveInput(metrics, totals, took, err)

	if s.opts.Push != nil {
		// The optional name parameter labels the pushed record.
		rec := httpexport.NewRecord(httpexport.SourceServer, query.Get("name"), metrics, totals, took, err)
		rec.Encoding = enc.Name()

		s.opts.Push.Publish(r.Context(), rec)
	}

	if err != nil {
		return errorStatus(err), errorResponse{
			Error: fmt.Sprintf("reading body: %v", err),
		}
	}

	return http.StatusOK, newCountResponse(metrics, totals, enc)
}

// decodeBody removes the request's Content-Encoding. A snappy block is
// decoded in memory, so its decoded length is held to limit as well.
func decodeBody(body io.Reader, contentEncoding string, limit int64) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return source.Wrap(body, source.DecompressNone)
	case "gzip", "x-gzip":
		return source.Wrap(body, source.DecompressGzip)
	case "deflate":
		return source.Wrap(body, source.DecompressZlib)
	case "zstd":
		return source.Wrap(body, source.DecompressZstd)
	case "x-snappy-framed":
		return source.Wrap(body, source.DecompressSnappy)
	case snappyBlock:
		compressed, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("reading snappy body: %w", err)
		}

		n, err := snappy.DecodedLen(compressed)
		if err != nil {
			return nil, fmt.Errorf("decoding snappy body: %w", err)
		}

		if int64(n) > limit {
			return nil, &http.MaxBytesError{Limit: limit}
		}

		data, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, fmt.Errorf("decoding snappy body: %w", err)
		}

		return io.NopCloser(bytes.NewReader(data)), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedContentEncoding, contentEncoding)
	}
}

func errorStatus(err error) int {
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedContentEncoding):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

func newCountResponse(
	metrics counter.Metric,
	totals counter.Totals,
	enc textenc.Encoding,
) countResponse {
	resp := countResponse{Encoding: enc.Name()}

	if metrics.Has(counter.Lines) {
		resp.Lines = &totals.Lines
	}

	if metrics.Has(counter.Words) {
		resp.Words = &totals.Words
	}

	if metrics.Has(counter.Chars) {
		resp.Chars = &totals.Chars
	}

	if metrics.Has(counter.Bytes) {
		resp.Bytes = &totals.Bytes
	}

	return resp
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	// The status is already sent; an encode error only means the client
	// went away.
	_ = json.NewEncoder(w).Encode(body)
}
