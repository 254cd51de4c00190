// Package ranking scores retrieved travel content with calibration support.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	weights, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		log.Warn("using default weights", "error", err)
//	}
//	scorer := ranking.NewScorer(weights, encoding)
//
//	// Relevance ranking for a chat query
//	ranked := ranking.Rank(items, func(it *content.Item) float64 {
//		return scorer.Score(it, keywords, time.Now())
//	})
//
//	// Quiet-place ranking
//	ranked = ranking.Rank(items, func(it *content.Item) float64 {
//		return scorer.HiddenTrendyScore(it, time.Now())
//	})
//
// Calibration:
//
// Weights are tuned at deploy time through a JSON file loaded at startup.
// Zero values in the file keep the default. See
// configs/ranking.calibration.json for the default configuration.
package ranking
