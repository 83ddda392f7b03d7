package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"medallion/internal/table"
)

// DefaultBatchSize is used when Config.BatchSize is zero.
const DefaultBatchSize = 1000

// CopyFn abstracts a backend's bulk insert capability. Implementations insert
// the provided rows (aligned to the columns order) and return the number of
// rows reported as inserted.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// WriteBatches slices t into batches of batchSize rows and calls copyFn for
// each. It returns the total number of rows reported by copyFn and the first
// error encountered. Progress is logged at debug level on every flush.
func WriteBatches(ctx context.Context, name string, t *table.Table, batchSize int, copyFn CopyFn) (int64, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if copyFn == nil {
		return 0, fmt.Errorf("copyFn must not be nil")
	}

	var (
		columns = t.ColumnNames()
		rows    = t.Rows()
		total   int64
		batches int
		start   = time.Now()
	)
	for lo := 0; lo < len(rows); lo += batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		hi := min(lo+batchSize, len(rows))
		n, err := copyFn(ctx, columns, rows[lo:hi])
		total += n
		if err != nil {
			slog.Error("storage: batch failed", "table", name, "batch", batches+1, "inserted", n, "total", total, "error", err)
			return total, err
		}
		batches++
		elapsed := time.Since(start)
		rps := float64(0)
		if elapsed > 0 {
			rps = float64(total) / elapsed.Seconds()
		}
		slog.Debug("storage: batch written",
			"table", name,
			"batch", batches,
			"inserted", n,
			"total", total,
			"rps", int64(rps),
			"elapsed", elapsed.Truncate(time.Millisecond),
		)
	}
	return total, nil
}
