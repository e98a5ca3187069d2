// Package dedup partitions scraped records into novel and
// previously-seen sets against a durable seen-set.
package dedup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aniketms/jobpulse/internal/metrics"
	"github.com/aniketms/jobpulse/internal/scraper"
)

// Filter splits a batch of records by identity key. It only reads the
// seen-set; marking keys as seen is the dispatcher's job, so running the
// same snapshot through the filter twice gives the same partition.
type Filter struct {
	logger *zap.Logger
}

// New constructs a Filter.
func New(logger *zap.Logger) *Filter {
	return &Filter{logger: logger}
}

// Partition returns the batch split into novel and duplicate records.
// Records carrying a key already in the seen-set, or repeating a key
// earlier in the same batch, land in duplicates. Both slices preserve the
// input order and every input record appears in exactly one of them.
func (f *Filter) Partition(
	ctx context.Context,
	records []scraper.Record,
	seen scraper.SeenSet,
) (novel, duplicates []scraper.Record, err error) {
	inBatch := make(map[string]struct{}, len(records))

	for _, rec := range records {
		key := rec.Key()

		if _, ok := inBatch[key]; ok {
			duplicates = append(duplicates, rec)
			metrics.ObserveRecord(rec.Source, "duplicate")
			continue
		}
		inBatch[key] = struct{}{}

		known, err := seen.Contains(ctx, key)
		if err != nil {
			return nil, nil, fmt.Errorf("seen-set lookup %s: %w", key, err)
		}
		if known {
			duplicates = append(duplicates, rec)
			metrics.ObserveRecord(rec.Source, "duplicate")
			continue
		}

		novel = append(novel, rec)
		metrics.ObserveRecord(rec.Source, "novel")
	}

	f.logger.Debug("partitioned records",
		zap.Int("total", len(records)),
		zap.Int("novel", len(novel)),
		zap.Int("duplicates", len(duplicates)))
	return novel, duplicates, nil
}
