package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// blobWriter and blobChecker are the slices of the S3 layer the archiver
// actually touches, so tests can run without a bucket.
type blobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

type blobChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

const (
	defaultBatchLimit = 5000
	defaultInterval   = 6 * time.Hour

	contentTypeJSONL = "application/x-ndjson"

	// multipartThreshold switches uploads to the concurrent multipart
	// path once a batch outgrows a single PutObject comfort zone.
	multipartThreshold = 8 * 1024 * 1024
)

// Archiver moves opportunity and trade rows older than the retention window
// out of PostgreSQL and into object storage as JSONL. Rows are only deleted
// after the uploaded object is confirmed to exist.
type Archiver struct {
	writer  blobWriter
	checker blobChecker
	opps    domain.OpportunityStore
	trades  domain.TradeStore
	logger  *slog.Logger

	retention  time.Duration
	interval   time.Duration
	batchLimit int

	now func() time.Time
}

// NewArchiver builds an Archiver with the given retention window. Either
// store may be nil to skip that record type.
func NewArchiver(writer blobWriter, checker blobChecker, opps domain.OpportunityStore, trades domain.TradeStore, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:     writer,
		checker:    checker,
		opps:       opps,
		trades:     trades,
		logger:     logger.With("component", "archiver"),
		retention:  retention,
		interval:   defaultInterval,
		batchLimit: defaultBatchLimit,
		now:        time.Now,
	}
}

// Run archives on a fixed interval until the context is cancelled. One cycle
// runs immediately on start.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if err := a.RunOnce(ctx); err != nil {
			a.logger.Error("archive cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce archives everything older than the retention cutoff.
func (a *Archiver) RunOnce(ctx context.Context) error {
	cutoff := a.now().Add(-a.retention)

	if a.opps != nil {
		if err := a.archiveOpportunities(ctx, cutoff); err != nil {
			return err
		}
	}
	if a.trades != nil {
		if err := a.archiveTrades(ctx, cutoff); err != nil {
			return err
		}
	}
	return nil
}

// archiveOpportunities drains opportunity rows before the cutoff in batches.
// Batches are ordered oldest first, so a full batch's last timestamp bounds
// what has been uploaded and rows up to that point can be deleted safely.
func (a *Archiver) archiveOpportunities(ctx context.Context, cutoff time.Time) error {
	for {
		records, err := a.opps.ListBefore(ctx, cutoff, a.batchLimit)
		if err != nil {
			return fmt.Errorf("s3blob: list opportunities: %w", err)
		}
		if len(records) == 0 {
			return nil
		}

		path := archivePath("opportunities", records[len(records)-1].DetectedAt)
		if err := uploadBatch(ctx, a, path, records); err != nil {
			return err
		}

		deleteBefore := cutoff
		if len(records) == a.batchLimit {
			// Ties at the last listed timestamp may be truncated by the
			// limit; deleting strictly before it leaves them for the
			// next batch.
			deleteBefore = records[len(records)-1].DetectedAt
		}
		deleted, err := a.opps.DeleteBefore(ctx, deleteBefore)
		if err != nil {
			return fmt.Errorf("s3blob: delete opportunities: %w", err)
		}
		a.logger.Info("archived opportunities", "path", path, "records", len(records), "deleted", deleted)

		if len(records) < a.batchLimit {
			return nil
		}
	}
}

func (a *Archiver) archiveTrades(ctx context.Context, cutoff time.Time) error {
	for {
		trades, err := a.trades.ListBefore(ctx, cutoff, a.batchLimit)
		if err != nil {
			return fmt.Errorf("s3blob: list trades: %w", err)
		}
		if len(trades) == 0 {
			return nil
		}

		path := archivePath("trades", trades[len(trades)-1].ExecutedAt)
		if err := uploadBatch(ctx, a, path, trades); err != nil {
			return err
		}

		deleteBefore := cutoff
		if len(trades) == a.batchLimit {
			deleteBefore = trades[len(trades)-1].ExecutedAt
		}
		deleted, err := a.trades.DeleteBefore(ctx, deleteBefore)
		if err != nil {
			return fmt.Errorf("s3blob: delete trades: %w", err)
		}
		a.logger.Info("archived trades", "path", path, "records", len(trades), "deleted", deleted)

		if len(trades) < a.batchLimit {
			return nil
		}
	}
}

// uploadBatch writes one JSONL object and confirms it landed before the
// caller deletes the source rows.
func uploadBatch[T any](ctx context.Context, a *Archiver, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: marshal %s: %w", path, err)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), contentTypeJSONL, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	if a.checker != nil {
		ok, err := a.checker.Exists(ctx, path)
		if err != nil {
			return fmt.Errorf("s3blob: verify %s: %w", path, err)
		}
		if !ok {
			return fmt.Errorf("s3blob: verify %s: object missing after upload", path)
		}
	}
	return nil
}

// archivePath keys archive objects by record kind and the batch's last
// timestamp:
//
//	archive/trades/2026-08-24T11-45-00Z.jsonl
func archivePath(kind string, last time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, last.UTC().Format("2006-01-02T15-04-05Z"))
}

// marshalJSONL encodes a slice as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
