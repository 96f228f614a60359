package youtube

import (
	"context"
	"log/slog"
)

// FetchProgress is reported after every completed batch.
type FetchProgress struct {
	// Percent of ids processed so far, 0-100.
	Percent float64
	// Updated counts ids for which a metadata record came back.
	Updated int
	// Failed counts batches skipped over network/API errors.
	Failed int
}

// FetchResult is the aggregate outcome of a fetch pass.
type FetchResult struct {
	// Videos holds a record per id the API returned.
	Videos []Video
	// Missing lists ids the API reported nothing for; the caller should
	// mark them inactive.
	Missing []string
	// FailedBatches counts batches skipped over recoverable errors.
	FailedBatches int
}

// FetchAll resolves metadata for ids in cost-budgeted batches. Batches run
// sequentially; a failed batch is skipped and counted, never fatal.
// Cancellation is observed at batch boundaries. onProgress may be nil.
func (c *Client) FetchAll(ctx context.Context, ids []string, budget int, onProgress func(FetchProgress)) (*FetchResult, error) {
	result := &FetchResult{}
	if len(ids) == 0 {
		return result, nil
	}

	parts := facetParts()
	batches := batchIDs(ids, budget)
	processed := 0

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return result, err
			}
		}

		resp, err := c.list(ctx, batch, parts)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.FailedBatches++
			slog.Warn("metadata batch failed, skipping", "ids", len(batch), "error", err)
		} else {
			returned := make(map[string]struct{}, len(resp.Items))
			for _, item := range resp.Items {
				returned[item.ID] = struct{}{}
				result.Videos = append(result.Videos, toVideo(item))
			}
			for _, id := range batch {
				if _, ok := returned[id]; !ok {
					result.Missing = append(result.Missing, id)
				}
			}
		}

		processed += len(batch)
		if onProgress != nil {
			onProgress(FetchProgress{
				Percent: float64(processed) / float64(len(ids)) * 100,
				Updated: len(result.Videos),
				Failed:  result.FailedBatches,
			})
		}
	}

	return result, nil
}
