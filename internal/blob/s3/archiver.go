package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/openpredict/settlecore/internal/domain"
)

// largeArchiveBytes is the payload size above which the archiver switches to
// a multipart upload.
const largeArchiveBytes = 32 * 1024 * 1024

// BlobWriter is the slice of the writer the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver implements domain.SettlementArchiver by serializing a reclaimed
// day bucket's market records and snapshots to JSONL and uploading them to
// object storage. Deletion of the bucket happens after the upload succeeds;
// an upload failure keeps the bucket alive for a later pass.
type Archiver struct {
	writer BlobWriter
}

// NewArchiver creates an Archiver writing through the given blob writer.
func NewArchiver(writer BlobWriter) *Archiver {
	return &Archiver{writer: writer}
}

type archivedMarket struct {
	ID            string    `json:"id"`
	TemplateTag   string    `json:"template_tag"`
	Creator       string    `json:"creator"`
	FeedRef       string    `json:"feed_ref"`
	SettleTime    time.Time `json:"settle_time"`
	CreatedAt     time.Time `json:"created_at"`
	FeeBps        uint16    `json:"fee_bps"`
	CreatorFeeBps uint16    `json:"creator_fee_bps"`
	Status        string    `json:"status"`
	Winner        string    `json:"winner"`
	ReserveYes    uint64    `json:"reserve_yes"`
	ReserveNo     uint64    `json:"reserve_no"`
	Volume        uint64    `json:"volume"`

	SnapshotRoundID    uint64     `json:"snapshot_round_id,omitempty"`
	SnapshotPrice      int64      `json:"snapshot_price,omitempty"`
	SnapshotObservedAt *time.Time `json:"snapshot_observed_at,omitempty"`
}

// ArchiveBucket uploads one JSONL object per reclaimed day at
// archive/settlements/day-<n>.jsonl, one line per market with its snapshot
// inlined.
func (a *Archiver) ArchiveBucket(ctx context.Context, day int64, markets []domain.Market, snaps []domain.Snapshot) error {
	if len(markets) == 0 {
		return nil
	}

	byMarket := make(map[string]domain.Snapshot, len(snaps))
	for _, snap := range snaps {
		byMarket[snap.MarketID] = snap
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, m := range markets {
		rec := archivedMarket{
			ID:            m.ID,
			TemplateTag:   m.TemplateTag,
			Creator:       m.Creator,
			FeedRef:       m.FeedRef,
			SettleTime:    m.SettleTime,
			CreatedAt:     m.CreatedAt,
			FeeBps:        m.FeeBps,
			CreatorFeeBps: m.CreatorFeeBps,
			Status:        string(m.Status),
			Winner:        m.Winner.String(),
			ReserveYes:    m.ReserveYes,
			ReserveNo:     m.ReserveNo,
			Volume:        m.Volume,
		}
		if snap, ok := byMarket[m.ID]; ok {
			rec.SnapshotRoundID = snap.RoundID
			rec.SnapshotPrice = snap.Price
			observed := snap.ObservedAt
			rec.SnapshotObservedAt = &observed
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("s3blob: encode archive record %s: %w", m.ID, err)
		}
	}

	path := fmt.Sprintf("archive/settlements/day-%d.jsonl", day)
	if buf.Len() > largeArchiveBytes {
		if err := a.writer.PutMultipart(ctx, path, &buf, minPartSize); err != nil {
			return fmt.Errorf("s3blob: archive bucket %d: %w", day, err)
		}
		return nil
	}
	if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive bucket %d: %w", day, err)
	}
	return nil
}

var _ domain.SettlementArchiver = (*Archiver)(nil)
