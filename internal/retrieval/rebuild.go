package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/tripfeed/internal/feature"
	"github.com/onnwee/tripfeed/internal/vector"
)

// DefaultRebuildBatch is the number of vectors written per batch during a rebuild.
const DefaultRebuildBatch = 500

// FeatureSource streams every stored feature vector.
type FeatureSource interface {
	Each(ctx context.Context, fn func(feature.ContentVector) error) error
}

// countingWriter is implemented by writers that report inserts versus updates.
type countingWriter interface {
	UpsertCounting(ctx context.Context, items []feature.ContentVector) ([]bool, error)
}

// RebuildResult summarizes an index rebuild. Purged counts unusable vectors
// whose IDs were deleted from the index, whether or not they were present.
type RebuildResult struct {
	Inserted int
	Updated  int
	Purged   int
}

// Written is the number of vectors upserted.
func (r *RebuildResult) Written() int { return r.Inserted + r.Updated }

func (r *RebuildResult) String() string {
	return fmt.Sprintf("inserted=%d updated=%d purged=%d", r.Inserted, r.Updated, r.Purged)
}

func (r *RebuildResult) log(logger *slog.Logger, msg string) {
	logger.Info(msg,
		"inserted", r.Inserted,
		"updated", r.Updated,
		"purged", r.Purged)
}

// Rebuild copies every usable vector from src into dst in batches. Vectors
// that are no longer usable are deleted from dst so they stop being
// candidates.
func Rebuild(ctx context.Context, src FeatureSource, dst Writer, batchSize int, logger *slog.Logger) (*RebuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = DefaultRebuildBatch
	}

	res := &RebuildResult{}
	batch := make([]feature.ContentVector, 0, batchSize)
	stale := make([]string, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if cw, ok := dst.(countingWriter); ok {
			inserted, err := cw.UpsertCounting(ctx, batch)
			if err != nil {
				return err
			}
			for _, isNew := range inserted {
				if isNew {
					res.Inserted++
				} else {
					res.Updated++
				}
			}
		} else {
			if err := dst.Upsert(ctx, batch); err != nil {
				return err
			}
			res.Inserted += len(batch)
		}
		batch = batch[:0]
		return nil
	}

	purge := func() error {
		if len(stale) == 0 {
			return nil
		}
		if err := dst.Delete(ctx, stale); err != nil {
			return fmt.Errorf("purge unusable vectors: %w", err)
		}
		res.Purged += len(stale)
		stale = stale[:0]
		return nil
	}

	err := src.Each(ctx, func(cv feature.ContentVector) error {
		if !vector.Usable(cv.Vector) {
			stale = append(stale, cv.ContentID)
			if len(stale) < batchSize {
				return nil
			}
			return purge()
		}
		batch = append(batch, cv)
		if len(batch) < batchSize {
			return nil
		}
		if err := flush(); err != nil {
			return err
		}
		if res.Written()%(batchSize*10) == 0 {
			res.log(logger, "vector index rebuild progress")
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err == nil {
		err = purge()
	}
	if err != nil {
		return res, fmt.Errorf("rebuild vector index: %w", err)
	}

	res.log(logger, "vector index rebuilt")
	if res.Purged > 0 {
		logger.Warn("purged unusable feature vectors from the index", "count", res.Purged)
	}
	return res, nil
}
