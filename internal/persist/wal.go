package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldsrv/server/internal/miniroom"
	"github.com/fieldsrv/server/internal/world"
)

// WALEntry represents one economic write-ahead log entry.
type WALEntry struct {
	TxType     string // "trade"
	FromChar   int32
	ToChar     int32
	ItemID     int32
	Count      int32
	MesoAmount int64
}

type WALRepo struct {
	db *DB
}

func NewWALRepo(db *DB) *WALRepo {
	return &WALRepo{db: db}
}

// WriteWAL atomically writes a batch of WAL entries in a single transaction.
// Returns nil on success. If it fails, the caller should cancel the operation.
func (r *WALRepo) WriteWAL(ctx context.Context, entries []WALEntry) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("wal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO economic_wal (tx_type, from_char, to_char, item_id, count, meso_amount)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.TxType, e.FromChar, e.ToChar, e.ItemID, e.Count, e.MesoAmount,
		); err != nil {
			return fmt.Errorf("wal insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// MarkProcessed marks all WAL entries as processed (called during batch flush).
func (r *WALRepo) MarkProcessed(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE economic_wal SET processed = TRUE WHERE processed = FALSE`,
	)
	return err
}

// TradeLedger settles trades through the WAL: the full movement is logged
// in one transaction before the trade is reported settled. Implements
// miniroom.Exchange.
type TradeLedger struct {
	wal     *WALRepo
	timeout time.Duration
}

func NewTradeLedger(wal *WALRepo) *TradeLedger {
	return &TradeLedger{wal: wal, timeout: 5 * time.Second}
}

// Settle records both halves of the exchange. An error means nothing was
// committed and the trade must fail.
func (l *TradeLedger) Settle(a, b *world.User, offerA, offerB miniroom.Offer) error {
	entries := make([]WALEntry, 0, len(offerA.Items)+len(offerB.Items)+2)
	appendSide := func(from, to *world.User, offer miniroom.Offer) {
		for _, it := range offer.Items {
			entries = append(entries, WALEntry{
				TxType:   "trade",
				FromChar: from.CharID,
				ToChar:   to.CharID,
				ItemID:   it.ItemID,
				Count:    int32(it.Number),
			})
		}
		if offer.Money > 0 {
			entries = append(entries, WALEntry{
				TxType:     "trade",
				FromChar:   from.CharID,
				ToChar:     to.CharID,
				MesoAmount: int64(offer.Money),
			})
		}
	}
	appendSide(a, b, offerA)
	appendSide(b, a, offerB)
	if len(entries) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	return l.wal.WriteWAL(ctx, entries)
}
