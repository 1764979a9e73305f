package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/lucasnoah/casepilot/internal/config"
	"github.com/lucasnoah/casepilot/internal/retrieval"
)

// thresholdSearcher applies the configured score threshold to queries that
// leave it unset.
type thresholdSearcher struct {
	inner     retrieval.Searcher
	threshold float64
}

func (s thresholdSearcher) Search(ctx context.Context, q retrieval.Query) ([]retrieval.Result, error) {
	if q.Threshold <= 0 {
		q.Threshold = s.threshold
	}
	return s.inner.Search(ctx, q)
}

// newSearcher returns nil when no retrieval URL is configured, so that
// retrieval stages degrade with a warning instead of failing on connect.
func newSearcher(cfg *config.Config, log *zap.Logger) retrieval.Searcher {
	if cfg.Retrieval.URL == "" {
		return nil
	}
	client := retrieval.NewClient(cfg.Retrieval.URL, cfg.RetrievalTimeout(), log.Named("retrieval"))
	if cfg.Retrieval.Threshold <= 0 {
		return client
	}
	return thresholdSearcher{inner: client, threshold: cfg.Retrieval.Threshold}
}
