// Package http pushes count records as NDJSON to an HTTP sink such as
// Vector.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"
)

// Exporter implements processor.ItemExporter for NDJSON count records.
type Exporter struct {
	cfg        Config
	client     *http.Client
	compressor *Compressor
	log        logrus.FieldLogger
}

// compile-time check that Exporter implements ItemExporter.
var _ processor.ItemExporter[Record] = (*Exporter)(nil)

// NewExporter creates an Exporter.
func NewExporter(log logrus.FieldLogger, cfg Config) (*Exporter, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 2,
		MaxIdleConnsPerHost: cfg.Workers * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.IsKeepAlive(),
	}

	return &Exporter{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ExportTimeout,
		},
		compressor: compressor,
		log:        log.WithField("component", "push_exporter"),
	}, nil
}

// ExportItems posts a batch of records as one NDJSON request.
func (e *Exporter) ExportItems(ctx context.Context, items []*Record) error {
	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	sent := 0

	for _, item := range items {
		if item == nil {
			continue
		}

		if err := encoder.Encode(item); err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}

		sent++
	}

	if sent == 0 {
		return nil
	}

	data := buf.Bytes()

	compressed, err := e.compressor.Compress(data)
	if err != nil {
		return fmt.Errorf("compressing records: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Address, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")

	if encoding := e.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	e.log.WithFields(logrus.Fields{
		"records":    sent,
		"bytes":      len(data),
		"compressed": len(compressed),
	}).Debug("Pushed count records")

	return nil
}

// Shutdown releases the compressor.
func (e *Exporter) Shutdown(_ context.Context) error {
	return e.compressor.Close()
}

// Publisher queues records and pushes them in batches.
type Publisher struct {
	log      logrus.FieldLogger
	instance string
	proc     *processor.BatchItemProcessor[Record]
}

// NewPublisher creates a Publisher. It returns nil when pushing is
// disabled; a nil Publisher discards records.
func NewPublisher(log logrus.FieldLogger, cfg Config) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := NewExporter(log, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	cfg.ApplyDefaults()

	proc, err := processor.NewBatchItemProcessor[Record](
		exporter,
		"push_http",
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(cfg.BatchTimeout),
		processor.WithExportTimeout(cfg.ExportTimeout),
		processor.WithMaxExportBatchSize(cfg.BatchSize),
		processor.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return &Publisher{
		log:      log.WithField("component", "push"),
		instance: cfg.Instance,
		proc:     proc,
	}, nil
}

// Start begins the background batch workers.
func (p *Publisher) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.proc.Start(ctx)
	p.log.Info("Push export started")
}

// Publish queues records. A full queue drops them and is logged, not
// returned.
func (p *Publisher) Publish(ctx context.Context, records ...*Record) {
	if p == nil || len(records) == 0 {
		return
	}

	for _, rec := range records {
		rec.Instance = p.instance
	}

	if err := p.proc.Write(ctx, records); err != nil {
		p.log.WithError(err).Debug("Push export failed (queue may be full)")
	}
}

// Shutdown flushes queued records and stops the workers.
func (p *Publisher) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}

	if err := p.proc.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down push processor: %w", err)
	}

	return nil
}
