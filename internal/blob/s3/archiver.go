package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/deedmarket/deedmarketd/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the time-ranged queries it actually calls, not
// the full domain store interfaces. The Postgres stores satisfy these
// implicitly through their existing ListBefore / ListResolvedBefore methods.
// ---------------------------------------------------------------------------

// TransactionArchiveStore provides read access to settled sales for archival.
type TransactionArchiveStore interface {
	// ListBefore returns all sales settled strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.TransactionRecord, error)
}

// OfferArchiveStore provides read access to resolved offers for archival.
type OfferArchiveStore interface {
	// ListResolvedBefore returns all terminal offers last updated strictly
	// before the cutoff.
	ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Offer, error)
}

// ArchiveImpl implements domain.Archiver by querying the mirror stores for
// settled records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the mirror is intentionally NOT
// performed here; that is a separate, explicit step to be executed after the
// archive has been verified.
type ArchiveImpl struct {
	writer       domain.BlobWriter
	transactions TransactionArchiveStore
	offers       OfferArchiveStore
	logger       *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	transactions TransactionArchiveStore,
	offers OfferArchiveStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:       writer,
		transactions: transactions,
		offers:       offers,
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

// Run archives all sales settled and all offers resolved before the cutoff.
// Each record set uploads as one JSONL file partitioned by the cutoff's
// year-month, e.g. archive/transactions/2025-01.jsonl.
func (a *ArchiveImpl) Run(ctx context.Context, before time.Time) (domain.ArchiveReport, error) {
	var report domain.ArchiveReport

	txCount, txPath, err := a.archiveTransactions(ctx, before)
	if err != nil {
		return report, err
	}
	report.TransactionsArchived = txCount
	if txPath != "" {
		report.Paths = append(report.Paths, txPath)
	}

	offerCount, offerPath, err := a.archiveOffers(ctx, before)
	if err != nil {
		return report, err
	}
	report.OffersArchived = offerCount
	if offerPath != "" {
		report.Paths = append(report.Paths, offerPath)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("transactions", report.TransactionsArchived),
		slog.Int64("offers", report.OffersArchived),
		slog.String("before", before.Format(time.RFC3339)),
	)
	return report, nil
}

func (a *ArchiveImpl) archiveTransactions(ctx context.Context, before time.Time) (int64, string, error) {
	transactions, err := a.transactions.ListBefore(ctx, before)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive transactions query: %w", err)
	}
	if len(transactions) == 0 {
		return 0, "", nil
	}

	buf, err := marshalJSONL(transactions)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive transactions marshal: %w", err)
	}

	path := archivePath("transactions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, "", fmt.Errorf("s3blob: archive transactions upload: %w", err)
	}

	return int64(len(transactions)), path, nil
}

func (a *ArchiveImpl) archiveOffers(ctx context.Context, before time.Time) (int64, string, error) {
	offers, err := a.offers.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive offers query: %w", err)
	}
	if len(offers) == 0 {
		return 0, "", nil
	}

	buf, err := marshalJSONL(offers)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive offers marshal: %w", err)
	}

	path := archivePath("offers", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, "", fmt.Errorf("s3blob: archive offers upload: %w", err)
	}

	return int64(len(offers)), path, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/transactions/2025-01.jsonl
//	archive/offers/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
