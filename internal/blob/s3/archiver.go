package s3blob

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// ArchiveConfig selects where archives are written.
type ArchiveConfig struct {
	Prefix   string
	Symbol   string
	Interval string
}

// ArchiveImpl implements domain.Archiver. Bars are written as CSV and trade
// reports as JSONL under <prefix>/<symbol>/<interval>/. Payloads larger than
// one multipart part go through PutMultipart.
type ArchiveImpl struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
	cfg    ArchiveConfig
	now    func() time.Time
}

// NewArchiver creates an ArchiveImpl. audit may be nil.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, cfg ArchiveConfig) *ArchiveImpl {
	if cfg.Prefix == "" {
		cfg.Prefix = "archive"
	}
	return &ArchiveImpl{
		writer: writer,
		audit:  audit,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Archive uploads bars and reports and returns the object paths written.
// Empty inputs are skipped.
func (a *ArchiveImpl) Archive(ctx context.Context, bars []domain.Bar, reports []domain.TradeReport) ([]string, error) {
	stamp := a.now().UTC().Format("20060102T150405Z")
	var written []string

	if len(bars) > 0 {
		buf, err := marshalBarsCSV(bars)
		if err != nil {
			return written, fmt.Errorf("s3blob: archive bars marshal: %w", err)
		}
		p := a.objectPath("bars", fmt.Sprintf("%s_%s.csv",
			bars[0].OpenTime.UTC().Format("20060102T150405Z"), stamp))
		if err := a.upload(ctx, p, buf, "text/csv"); err != nil {
			return written, fmt.Errorf("s3blob: archive bars upload: %w", err)
		}
		written = append(written, p)
	}

	if len(reports) > 0 {
		buf, err := marshalJSONL(reports)
		if err != nil {
			return written, fmt.Errorf("s3blob: archive reports marshal: %w", err)
		}
		p := a.objectPath("reports", stamp+".jsonl")
		if err := a.upload(ctx, p, buf, "application/x-ndjson"); err != nil {
			return written, fmt.Errorf("s3blob: archive reports upload: %w", err)
		}
		written = append(written, p)
	}

	if a.audit != nil && len(written) > 0 {
		if err := a.audit.Log(ctx, "archive", map[string]any{
			"paths":   written,
			"bars":    len(bars),
			"reports": len(reports),
		}); err != nil {
			return written, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}

	return written, nil
}

func (a *ArchiveImpl) upload(ctx context.Context, p string, buf []byte, contentType string) error {
	if int64(len(buf)) > minPartSize {
		return a.writer.PutMultipart(ctx, p, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, p, bytes.NewReader(buf), contentType)
}

// objectPath builds keys such as
//
//	archive/BTCUSDT/1m/bars/20250101T000000Z_20250102T000000Z.csv
//	archive/BTCUSDT/1m/reports/20250102T000000Z.jsonl
func (a *ArchiveImpl) objectPath(kind, name string) string {
	return path.Join(a.cfg.Prefix, a.cfg.Symbol, a.cfg.Interval, kind, name)
}

var barHeader = []string{"open_time", "open", "high", "low", "close", "volume", "complete"}

func marshalBarsCSV(bars []domain.Bar) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(barHeader); err != nil {
		return nil, err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, b := range bars {
		row := []string{
			b.OpenTime.UTC().Format(time.RFC3339),
			f(b.Open), f(b.High), f(b.Low), f(b.Close), f(b.Volume),
			strconv.FormatBool(b.Complete),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// marshalJSONL serialises records as newline-delimited JSON.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
