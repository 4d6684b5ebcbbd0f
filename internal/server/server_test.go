package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/ccwc/internal/export"
	httpexport "github.com/ethpandaops/ccwc/internal/export/http"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

func newTestServer(t *testing.T, cfg Config) (*Server, *export.Metrics) {
	t.Helper()

	metrics := export.NewMetrics(testLog())

	return New(testLog(), cfg, Options{BufferSize: 8}, metrics), metrics
}

func post(
	t *testing.T,
	s *Server,
	query string,
	contentEncoding string,
	body []byte,
) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, CountPath+query, bytes.NewReader(body))
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))

	return rec.Code, out
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	var pb dto.Metric
	require.NoError(t, c.Write(&pb))

	return pb.GetCounter().GetValue()
}

func TestCount_Defaults(t *testing.T) {
	s, metrics := newTestServer(t, DefaultConfig())

	code, out := post(t, s, "", "", []byte("hello world\r\nagain\n"))
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, map[string]any{
		"lines":    2.0,
		"words":    3.0,
		"bytes":    19.0,
		"encoding": "utf-8",
	}, out)

	assert.Equal(t, 1.0, counterValue(t, metrics.RequestsTotal.WithLabelValues("200")))
	assert.Equal(t, 19.0, counterValue(t, metrics.BytesCounted))
}

func TestCount_MetricsAndEncoding(t *testing.T) {
	s, _ := newTestServer(t, DefaultConfig())

	// "hé wörld" in UTF-16LE.
	body := []byte{
		'h', 0, 0xe9, 0, ' ', 0, 'w', 0, 0xf6, 0, 'r', 0, 'l', 0, 'd', 0,
	}

	code, out := post(t, s, "?metrics=chars,words&encoding=utf-16le", "", body)
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, map[string]any{
		"words":    2.0,
		"chars":    8.0,
		"encoding": "utf-16le",
	}, out)
}

func TestCount_ZeroCountsArePresent(t *testing.T) {
	s, _ := newTestServer(t, DefaultConfig())

	code, out := post(t, s, "?metrics=l", "", []byte("no newline"))
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, map[string]any{"lines": 0.0, "encoding": "utf-8"}, out)
}

func TestCount_ContentEncoding(t *testing.T) {
	plain := []byte(strings.Repeat("one two\n", 100))

	gz := func() []byte {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		_, _ = w.Write(plain)
		_ = w.Close()

		return buf.Bytes()
	}

	deflate := func() []byte {
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		_, _ = w.Write(plain)
		_ = w.Close()

		return buf.Bytes()
	}

	zst := func() []byte {
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)

		defer enc.Close()

		return enc.EncodeAll(plain, nil)
	}

	framed := func() []byte {
		var buf bytes.Buffer
		w := snappy.NewBufferedWriter(&buf)
		_, _ = w.Write(plain)
		_ = w.Close()

		return buf.Bytes()
	}

	tests := []struct {
		encoding string
		body     []byte
	}{
		{encoding: "identity", body: plain},
		{encoding: "gzip", body: gz()},
		{encoding: "deflate", body: deflate()},
		{encoding: "zstd", body: zst()},
		{encoding: "snappy", body: snappy.Encode(nil, plain)},
		{encoding: "x-snappy-framed", body: framed()},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			s, _ := newTestServer(t, DefaultConfig())

			code, out := post(t, s, "", tt.encoding, tt.body)
			require.Equal(t, http.StatusOK, code, out)

			assert.Equal(t, 100.0, out["lines"])
			assert.Equal(t, 200.0, out["words"])
			assert.Equal(t, float64(len(plain)), out["bytes"])
		})
	}
}

func TestCount_Errors(t *testing.T) {
	tests := []struct {
		name            string
		query           string
		contentEncoding string
		body            []byte
		maxBody         int64
		expected        int
	}{
		{
			name:     "unknown metric",
			query:    "?metrics=paragraphs",
			body:     []byte("x"),
			expected: http.StatusBadRequest,
		},
		{
			name:     "unknown encoding",
			query:    "?encoding=klingon",
			body:     []byte("x"),
			expected: http.StatusBadRequest,
		},
		{
			name:     "body too large",
			body:     []byte("0123456789abcdef"),
			maxBody:  4,
			expected: http.StatusRequestEntityTooLarge,
		},
		{
			name:            "corrupt gzip",
			contentEncoding: "gzip",
			body:            []byte("definitely not gzip"),
			expected:        http.StatusBadRequest,
		},
		{
			name:            "corrupt snappy",
			contentEncoding: "snappy",
			body:            []byte{0xff, 0xff, 0xff},
			expected:        http.StatusBadRequest,
		},
		// The block header claims a 1 GiB decoded length.
		{
			name:            "snappy block claims huge length",
			contentEncoding: "snappy",
			body:            []byte{0x80, 0x80, 0x80, 0x80, 0x04, 0x00},
			maxBody:         16,
			expected:        http.StatusRequestEntityTooLarge,
		},
		{
			name:            "snappy block decodes past limit",
			contentEncoding: "snappy",
			body:            snappy.Encode(nil, []byte(strings.Repeat("a", 64))),
			maxBody:         32,
			expected:        http.StatusRequestEntityTooLarge,
		},
		{
			name:            "unsupported content encoding",
			contentEncoding: "br",
			body:            []byte("x"),
			expected:        http.StatusUnsupportedMediaType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.maxBody > 0 {
				cfg.MaxBodySize = tt.maxBody
			}

			s, metrics := newTestServer(t, cfg)

			code, out := post(t, s, tt.query, tt.contentEncoding, tt.body)
			assert.Equal(t, tt.expected, code)
			assert.NotEmpty(t, out["error"])

			assert.Equal(t, 1.0, counterValue(
				t, metrics.RequestsTotal.WithLabelValues(fmt.Sprint(tt.expected)),
			))
		})
	}
}

func TestCount_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, DefaultConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, CountPath, nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestNew_WithoutMetrics(t *testing.T) {
	s := New(testLog(), DefaultConfig(), Options{}, nil)

	code, out := post(t, s, "", "", []byte("a b\n"))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, out["words"])

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCount_PushesRecord(t *testing.T) {
	received := make(chan map[string]any, 1)

	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rec map[string]any
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&rec)) {
			received <- rec
		}
	}))
	defer sink.Close()

	pub, err := httpexport.NewPublisher(testLog(), httpexport.Config{
		Enabled:      true,
		Address:      sink.URL,
		Compression:  httpexport.CompressionNone,
		BatchTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	pub.Start(context.Background())

	s := New(testLog(), DefaultConfig(), Options{Push: pub}, nil)

	code, _ := post(t, s, "?name=upload-1&metrics=words", "", []byte("a b c"))
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, pub.Shutdown(context.Background()))

	select {
	case rec := <-received:
		assert.Equal(t, "upload-1", rec["input"])
		assert.Equal(t, httpexport.SourceServer, rec["source"])
		assert.Equal(t, 3.0, rec["words"])
		assert.Equal(t, "utf-8", rec["encoding"])
	case <-time.After(5 * time.Second):
		t.Fatal("no record pushed")
	}
}

func TestServer_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"

	s, _ := newTestServer(t, cfg)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, s.Running, time.Second, 10*time.Millisecond)

	resp, err := http.Post(
		"http://"+s.Addr()+CountPath+"?metrics=bytes",
		"text/plain",
		strings.NewReader("twelve bytes"),
	)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"bytes":12,"encoding":"utf-8"}`, string(body))

	health, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	require.NoError(t, health.Body.Close())
	assert.Equal(t, http.StatusOK, health.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Stop(ctx))
	assert.Eventually(t, func() bool { return !s.Running() }, time.Second, 10*time.Millisecond)
}

func TestServer_StopBeforeStart(t *testing.T) {
	s, _ := newTestServer(t, DefaultConfig())

	assert.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, ":8080", s.Addr())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxBodySize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ReadTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}
