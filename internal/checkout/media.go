package checkout

import (
	"os"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Cleaner removes media assets of sold products after the sale is final.
// Failures are logged, never retried transactionally.
type Cleaner interface {
	CleanupAsync(paths []string)
}

// MediaCleaner deletes media files on a bounded worker pool so checkout
// never blocks on filesystem latency.
type MediaCleaner struct {
	pool *ants.Pool
}

func NewMediaCleaner(workers int) (*MediaCleaner, error) {
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &MediaCleaner{pool: pool}, nil
}

func (c *MediaCleaner) CleanupAsync(paths []string) {
	for _, p := range paths {
		path := p
		if err := c.pool.Submit(func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				zap.L().Warn("failed to remove sold product media",
					zap.String("path", path), zap.Error(err))
			}
		}); err != nil {
			zap.L().Warn("media cleanup submit failed", zap.String("path", path), zap.Error(err))
		}
	}
}

func (c *MediaCleaner) Release() {
	c.pool.Release()
}
