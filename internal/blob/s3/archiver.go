package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lujiluz/koilive/internal/domain"
)

// Narrow store slices required by the archiver. The Postgres stores satisfy
// them implicitly.

// BidArchiveStore provides read and trim access to the bid log for archival.
type BidArchiveStore interface {
	ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.BidLogEntry, error)
	// DeleteByAuction removes an auction's entries once archived.
	DeleteByAuction(ctx context.Context, auctionID string) (int64, error)
}

// SettlementArchiveStore provides settlement access for archival.
// ListEndedBefore must return only settlements not yet marked archived.
type SettlementArchiveStore interface {
	Get(ctx context.Context, auctionID string) (domain.Settlement, error)
	ListEndedBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error)
	MarkArchived(ctx context.Context, auctionID string) error
}

// auctionArchive is the uploaded archive document for one ended auction: the
// settlement followed by the full observed bid history.
type auctionArchive struct {
	Settlement domain.Settlement    `json:"settlement"`
	Bids       []domain.BidLogEntry `json:"bids"`
}

// ArchiveImpl implements domain.Archiver: it moves the bid history of settled
// auctions from the database to object storage as JSONL, one line per bid
// with a leading settlement line.
//
// Each auction is archived at most once. The settlement is marked archived
// directly after a successful upload and before the bid log rows are
// trimmed: if the trim fails the leftover rows are harmless duplicates of
// the uploaded object, whereas trimming first would let a later sweep
// overwrite the archive with an empty one.
type ArchiveImpl struct {
	writer      domain.BlobWriter
	bids        BidArchiveStore
	settlements SettlementArchiveStore
	logger      *slog.Logger
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, bids BidArchiveStore, settlements SettlementArchiveStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		bids:        bids,
		settlements: settlements,
		logger:      logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveAuction uploads one settled auction's settlement and bid log, marks
// the settlement archived, then trims the bid log rows. Returns the number of
// records written.
func (a *ArchiveImpl) ArchiveAuction(ctx context.Context, auctionID string) (int64, error) {
	settlement, err := a.settlements.Get(ctx, auctionID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: settlement: %w", auctionID, err)
	}

	bids, err := a.bids.ListByAuction(ctx, auctionID, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: bid log: %w", auctionID, err)
	}

	buf, err := marshalArchive(auctionArchive{Settlement: settlement, Bids: bids})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: marshal: %w", auctionID, err)
	}

	path := archivePath(settlement)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: upload: %w", auctionID, err)
	}

	if err := a.settlements.MarkArchived(ctx, auctionID); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: mark archived: %w", auctionID, err)
	}

	deleted, err := a.bids.DeleteByAuction(ctx, auctionID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: trim bid log: %w", auctionID, err)
	}

	a.logger.Info("auction archived",
		slog.String("auction_id", auctionID),
		slog.String("path", path),
		slog.Int("bids", len(bids)),
		slog.Int64("trimmed", deleted),
	)
	return int64(len(bids)) + 1, nil
}

// ArchiveEndedBefore archives every auction settled strictly before the
// cutoff. Returns the number of auctions archived.
func (a *ArchiveImpl) ArchiveEndedBefore(ctx context.Context, before time.Time) (int64, error) {
	settled, err := a.settlements.ListEndedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive before %s: %w", before.Format(time.RFC3339), err)
	}

	var archived int64
	for _, s := range settled {
		if _, err := a.ArchiveAuction(ctx, s.AuctionID); err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}

// archivePath builds the object key, partitioned by the settlement month.
//
//	archive/auctions/2025-01/a-1.jsonl
func archivePath(s domain.Settlement) string {
	return fmt.Sprintf("archive/auctions/%s/%s.jsonl", s.EndedAt.Format("2006-01"), s.AuctionID)
}

// marshalArchive serializes the archive as JSONL: the settlement line first,
// then one line per bid.
func marshalArchive(doc auctionArchive) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(doc.Settlement); err != nil {
		return nil, fmt.Errorf("jsonl encode settlement: %w", err)
	}
	for i, bid := range doc.Bids {
		if err := enc.Encode(bid); err != nil {
			return nil, fmt.Errorf("jsonl encode bid %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
